package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goToken/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	insertStatusDuplicate int64 = 0
	insertStatusInserted  int64 = 1
)

const (
	rotateStatusNotFound  int64 = 0
	rotateStatusConflict  int64 = 1
	rotateStatusMismatch  int64 = 2
	rotateStatusDuplicate int64 = 3
	rotateStatusRotated   int64 = 4
)

const (
	markStatusNotFound int64 = -1
	markStatusInvalid  int64 = 0
	markStatusApplied  int64 = 1
)

// insertFields writes a new ACTIVE record. It expects the record key, hash index
// key and family key at KEYS[base..base+2] and the record fields at ARGV[off..off+8].
const insertFields = `
local function insert_record(kbase, aoff)
  redis.call("HSET", KEYS[kbase],
    "hash", ARGV[aoff + 1], "family", ARGV[aoff + 2], "sub", ARGV[aoff + 3],
    "iat", ARGV[aoff + 4], "exp", ARGV[aoff + 5], "status", "ACTIVE",
    "addr", ARGV[aoff + 6], "ua", ARGV[aoff + 7])
  redis.call("SET", KEYS[kbase + 1], ARGV[aoff])
  redis.call("SADD", KEYS[kbase + 2], ARGV[aoff])
  redis.call("PEXPIRE", KEYS[kbase], ARGV[aoff + 8])
  redis.call("PEXPIRE", KEYS[kbase + 1], ARGV[aoff + 8])
  redis.call("PEXPIRE", KEYS[kbase + 2], ARGV[aoff + 8])
end
`

const insertRecordScript = insertFields + `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
insert_record(1, 1)
return 1
`

var insertRecordLua = redis.NewScript(insertRecordScript)

const rotateRecordScript = insertFields + `
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return 0
end
if status ~= "ACTIVE" then
  return 1
end
if redis.call("HGET", KEYS[1], "family") ~= ARGV[3] then
  return 2
end
if redis.call("EXISTS", KEYS[2]) == 1 or redis.call("EXISTS", KEYS[3]) == 1 then
  return 3
end
redis.call("HSET", KEYS[1], "status", "USED")
insert_record(2, 1)
return 4
`

var rotateRecordLua = redis.NewScript(rotateRecordScript)

const markStatusScript = `
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
local target = ARGV[1]
if status == target then
  return 1
end
local allowed = (status == "ACTIVE" and target == "USED")
  or ((status == "ACTIVE" or status == "USED") and target == "REVOKED")
if not allowed then
  return 0
end
redis.call("HSET", KEYS[1], "status", target)
return 1
`

var markStatusLua = redis.NewScript(markStatusScript)

const revokeFamilyScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local changed = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local status = redis.call("HGET", key, "status")
  if status and status ~= "REVOKED" then
    redis.call("HSET", key, "status", "REVOKED")
    changed = changed + 1
  end
end
return changed
`

var revokeFamilyLua = redis.NewScript(revokeFamilyScript)

// Options configures a Store.
type Options struct {
	// Prefix namespaces every key. Defaults to "gt".
	Prefix string
	// Retention keeps records this long past their expiry so late reuse of a stale
	// token is still detected. Defaults to seven days.
	Retention time.Duration
	// Now overrides the clock used to compute key lifetimes.
	Now func() time.Time
}

// Store is a store.Store backed by Redis.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a Store using client.
func New(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "gt"
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		redis:     client,
		prefix:    opts.Prefix,
		retention: opts.Retention,
		now:       opts.Now,
	}
}

func (s *Store) recordKeyPrefix() string { return s.prefix + ":rt:" }

func (s *Store) recordKey(id string) string { return s.recordKeyPrefix() + id }

func (s *Store) hashKey(hash string) string { return s.prefix + ":rth:" + hash }

func (s *Store) familyKey(family string) string { return s.prefix + ":rtf:" + family }

func (s *Store) blacklistKey(jti string) string { return s.prefix + ":bl:" + jti }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func (s *Store) recordTTL(rec store.RefreshTokenRecord) int64 {
	ttl := rec.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl.Milliseconds()
}

func (s *Store) recordArgs(rec store.RefreshTokenRecord) []interface{} {
	return []interface{}{
		rec.ID,
		rec.TokenHash,
		rec.FamilyID,
		rec.Subject,
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		rec.Client.RemoteAddr,
		rec.Client.UserAgent,
		s.recordTTL(rec),
	}
}

// InsertRefreshRecord implements store.Store.
func (s *Store) InsertRefreshRecord(ctx context.Context, rec store.RefreshTokenRecord) (store.RefreshTokenRecord, error) {
	if err := store.ValidateNewRecord(rec); err != nil {
		return store.RefreshTokenRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = store.StatusActive

	code, err := insertRecordLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(rec.ID), s.hashKey(rec.TokenHash), s.familyKey(rec.FamilyID)},
		s.recordArgs(rec)...,
	).Int64()
	if err != nil {
		return store.RefreshTokenRecord{}, unavailable(err)
	}
	if code == insertStatusDuplicate {
		return store.RefreshTokenRecord{}, store.ErrDuplicate
	}
	return rec, nil
}

// FindRefreshRecordByHash implements store.Store.
func (s *Store) FindRefreshRecordByHash(ctx context.Context, tokenHash string) (store.RefreshTokenRecord, error) {
	id, err := s.redis.Get(ctx, s.hashKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.RefreshTokenRecord{}, store.ErrNotFound
		}
		return store.RefreshTokenRecord{}, unavailable(err)
	}

	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return store.RefreshTokenRecord{}, unavailable(err)
	}
	if len(fields) == 0 {
		return store.RefreshTokenRecord{}, store.ErrNotFound
	}
	return decodeRecord(id, fields)
}

// FindActiveRefreshRecordsByFamily implements store.Store.
func (s *Store) FindActiveRefreshRecordsByFamily(ctx context.Context, familyID string) ([]store.RefreshTokenRecord, error) {
	ids, err := s.redis.SMembers(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	var out []store.RefreshTokenRecord
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields["status"] != string(store.StatusActive) {
			continue
		}
		rec, err := decodeRecord(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkStatus implements store.Store.
func (s *Store) MarkStatus(ctx context.Context, id string, status store.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", store.ErrInvalidTransition, status)
	}
	code, err := markStatusLua.Run(ctx, s.redis, []string{s.recordKey(id)}, string(status)).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch code {
	case markStatusNotFound:
		return store.ErrNotFound
	case markStatusInvalid:
		return fmt.Errorf("%w: to %s", store.ErrInvalidTransition, status)
	case markStatusApplied:
		return nil
	default:
		return fmt.Errorf("%w: unknown mark status response", store.ErrUnavailable)
	}
}

// RotateRefreshRecord implements store.Store with a single Lua compare-and-swap.
func (s *Store) RotateRefreshRecord(ctx context.Context, usedID string, next store.RefreshTokenRecord) (store.RefreshTokenRecord, error) {
	if err := store.ValidateNewRecord(next); err != nil {
		return store.RefreshTokenRecord{}, err
	}
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	next.Status = store.StatusActive

	code, err := rotateRecordLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(usedID), s.recordKey(next.ID), s.hashKey(next.TokenHash), s.familyKey(next.FamilyID)},
		s.recordArgs(next)...,
	).Int64()
	if err != nil {
		return store.RefreshTokenRecord{}, unavailable(err)
	}

	switch code {
	case rotateStatusNotFound:
		return store.RefreshTokenRecord{}, store.ErrNotFound
	case rotateStatusConflict:
		return store.RefreshTokenRecord{}, store.ErrStatusConflict
	case rotateStatusMismatch:
		return store.RefreshTokenRecord{}, fmt.Errorf("%w: family mismatch", store.ErrInvalidRecord)
	case rotateStatusDuplicate:
		return store.RefreshTokenRecord{}, store.ErrDuplicate
	case rotateStatusRotated:
		return next, nil
	default:
		return store.RefreshTokenRecord{}, fmt.Errorf("%w: unknown rotate script status", store.ErrUnavailable)
	}
}

// RevokeFamily implements store.Store.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	n, err := revokeFamilyLua.Run(ctx, s.redis, []string{s.familyKey(familyID)}, s.recordKeyPrefix()).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// InsertBlacklistEntry implements store.Store. The key expires with the entry.
func (s *Store) InsertBlacklistEntry(ctx context.Context, entry store.BlacklistEntry) error {
	if err := store.ValidateBlacklistEntry(entry); err != nil {
		return err
	}
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	key := s.blacklistKey(entry.JTI)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, string(entry.Reason), 0)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// IsBlacklisted implements store.Store.
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.blacklistKey(jti)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func decodeRecord(id string, fields map[string]string) (store.RefreshTokenRecord, error) {
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return store.RefreshTokenRecord{}, fmt.Errorf("%w: corrupt record %s", store.ErrUnavailable, id)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return store.RefreshTokenRecord{}, fmt.Errorf("%w: corrupt record %s", store.ErrUnavailable, id)
	}
	status := store.Status(fields["status"])
	if !status.Valid() {
		return store.RefreshTokenRecord{}, fmt.Errorf("%w: corrupt record %s", store.ErrUnavailable, id)
	}
	return store.RefreshTokenRecord{
		ID:        id,
		TokenHash: fields["hash"],
		FamilyID:  fields["family"],
		Subject:   fields["sub"],
		IssuedAt:  time.UnixMilli(iat),
		ExpiresAt: time.UnixMilli(exp),
		Status:    status,
		Client: store.ClientContext{
			RemoteAddr: fields["addr"],
			UserAgent:  fields["ua"],
		},
	}, nil
}
