package goToken

import (
	"context"
	"time"

	"github.com/MrEthical07/goToken/store"
)

// boundedStore applies Config.Store.OperationTimeout to every store call. A caller
// deadline that is already earlier wins.
type boundedStore struct {
	store.Store
	timeout time.Duration
}

func (b boundedStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b boundedStore) InsertRefreshRecord(ctx context.Context, rec store.RefreshTokenRecord) (store.RefreshTokenRecord, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.Store.InsertRefreshRecord(ctx, rec)
}

func (b boundedStore) FindRefreshRecordByHash(ctx context.Context, tokenHash string) (store.RefreshTokenRecord, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.Store.FindRefreshRecordByHash(ctx, tokenHash)
}

func (b boundedStore) FindActiveRefreshRecordsByFamily(ctx context.Context, familyID string) ([]store.RefreshTokenRecord, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.Store.FindActiveRefreshRecordsByFamily(ctx, familyID)
}

func (b boundedStore) MarkStatus(ctx context.Context, id string, status store.Status) error {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.Store.MarkStatus(ctx, id, status)
}

func (b boundedStore) RotateRefreshRecord(ctx context.Context, usedID string, next store.RefreshTokenRecord) (store.RefreshTokenRecord, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.Store.RotateRefreshRecord(ctx, usedID, next)
}

func (b boundedStore) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.Store.RevokeFamily(ctx, familyID)
}

func (b boundedStore) InsertBlacklistEntry(ctx context.Context, entry store.BlacklistEntry) error {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.Store.InsertBlacklistEntry(ctx, entry)
}

func (b boundedStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	return b.Store.IsBlacklisted(ctx, jti)
}
