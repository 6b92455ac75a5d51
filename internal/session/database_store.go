package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"corkboard/internal/store"
)

// DatabaseStore keeps refresh sessions in the primary store. It is used when
// no Redis URL is configured.
type DatabaseStore struct {
	Store store.Store
}

func (d DatabaseStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	return d.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.SaveRefreshSession(ctx, tokenHash, userID, expiresAt)
	})
}

func (d DatabaseStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	var user store.User
	err := d.Store.View(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.LookupRefreshSession(ctx, tokenHash)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrNotFound
	}
	return user, err
}

func (d DatabaseStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return d.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.RevokeRefreshSession(ctx, tokenHash)
	})
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = DatabaseStore{}
)
