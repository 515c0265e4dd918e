package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store guarded by a single mutex. Every operation,
// including RotateRefreshRecord and RevokeFamily, is serialized, which gives the
// atomicity the Store contract requires.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	records   map[string]*RefreshTokenRecord
	byHash    map[string]string
	byFamily  map[string][]string
	blacklist map[string]BlacklistEntry
}

// NewMemoryStore returns an empty MemoryStore. A nil clock defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:       now,
		records:   make(map[string]*RefreshTokenRecord),
		byHash:    make(map[string]string),
		byFamily:  make(map[string][]string),
		blacklist: make(map[string]BlacklistEntry),
	}
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// InsertRefreshRecord implements Store.
func (m *MemoryStore) InsertRefreshRecord(ctx context.Context, rec RefreshTokenRecord) (RefreshTokenRecord, error) {
	if err := checkContext(ctx); err != nil {
		return RefreshTokenRecord{}, err
	}
	if err := ValidateNewRecord(rec); err != nil {
		return RefreshTokenRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec)
}

func (m *MemoryStore) insertLocked(rec RefreshTokenRecord) (RefreshTokenRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, ok := m.records[rec.ID]; ok {
		return RefreshTokenRecord{}, ErrDuplicate
	}
	if _, ok := m.byHash[rec.TokenHash]; ok {
		return RefreshTokenRecord{}, ErrDuplicate
	}
	rec.Status = StatusActive

	stored := rec
	m.records[rec.ID] = &stored
	m.byHash[rec.TokenHash] = rec.ID
	m.byFamily[rec.FamilyID] = append(m.byFamily[rec.FamilyID], rec.ID)
	return rec, nil
}

// FindRefreshRecordByHash implements Store.
func (m *MemoryStore) FindRefreshRecordByHash(ctx context.Context, tokenHash string) (RefreshTokenRecord, error) {
	if err := checkContext(ctx); err != nil {
		return RefreshTokenRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[tokenHash]
	if !ok {
		return RefreshTokenRecord{}, ErrNotFound
	}
	return *m.records[id], nil
}

// FindActiveRefreshRecordsByFamily implements Store.
func (m *MemoryStore) FindActiveRefreshRecordsByFamily(ctx context.Context, familyID string) ([]RefreshTokenRecord, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []RefreshTokenRecord
	for _, id := range m.byFamily[familyID] {
		if rec := m.records[id]; rec.Status == StatusActive {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// FamilyRecords returns every record of a family ordered by issuance.
func (m *MemoryStore) FamilyRecords(familyID string) []RefreshTokenRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RefreshTokenRecord, 0, len(m.byFamily[familyID]))
	for _, id := range m.byFamily[familyID] {
		out = append(out, *m.records[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

// MarkStatus implements Store.
func (m *MemoryStore) MarkStatus(ctx context.Context, id string, status Status) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status == status {
		return nil
	}
	if !CanTransition(rec.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, status)
	}
	rec.Status = status
	return nil
}

// RotateRefreshRecord implements Store.
func (m *MemoryStore) RotateRefreshRecord(ctx context.Context, usedID string, next RefreshTokenRecord) (RefreshTokenRecord, error) {
	if err := checkContext(ctx); err != nil {
		return RefreshTokenRecord{}, err
	}
	if err := ValidateNewRecord(next); err != nil {
		return RefreshTokenRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	used, ok := m.records[usedID]
	if !ok {
		return RefreshTokenRecord{}, ErrNotFound
	}
	if used.Status != StatusActive {
		return RefreshTokenRecord{}, ErrStatusConflict
	}
	if next.FamilyID != used.FamilyID {
		return RefreshTokenRecord{}, fmt.Errorf("%w: family mismatch", ErrInvalidRecord)
	}

	stored, err := m.insertLocked(next)
	if err != nil {
		return RefreshTokenRecord{}, err
	}
	used.Status = StatusUsed
	return stored, nil
}

// RevokeFamily implements Store.
func (m *MemoryStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changed := 0
	for _, id := range m.byFamily[familyID] {
		rec := m.records[id]
		if rec.Status != StatusRevoked {
			rec.Status = StatusRevoked
			changed++
		}
	}
	return changed, nil
}

// InsertBlacklistEntry implements Store. Re-inserting a jti keeps the later expiry.
func (m *MemoryStore) InsertBlacklistEntry(ctx context.Context, entry BlacklistEntry) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := ValidateBlacklistEntry(entry); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.blacklist[entry.JTI]; ok && existing.ExpiresAt.After(entry.ExpiresAt) {
		return nil
	}
	m.blacklist[entry.JTI] = entry
	return nil
}

// IsBlacklisted implements Store.
func (m *MemoryStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.blacklist[jti]
	if !ok {
		return false, nil
	}
	return m.now().Before(entry.ExpiresAt), nil
}

// PurgeExpired drops blacklist entries whose ExpiresAt has passed and returns how
// many were removed. Refresh records are retained.
func (m *MemoryStore) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for jti, entry := range m.blacklist {
		if !now.Before(entry.ExpiresAt) {
			delete(m.blacklist, jti)
			removed++
		}
	}
	return removed
}
