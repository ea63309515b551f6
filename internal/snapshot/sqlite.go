package snapshot

import (
	"context"
	"errors"
	"time"

	"wplacebot/internal/db"
)

// SQLiteBackend keeps snapshots in the local history database.
type SQLiteBackend struct {
	repo *db.Repository
	now  func() time.Time
}

func NewSQLiteBackend(repo *db.Repository, now func() time.Time) *SQLiteBackend {
	if now == nil {
		now = time.Now
	}
	return &SQLiteBackend{repo: repo, now: now}
}

func (b *SQLiteBackend) Put(ctx context.Context, doc []byte) error {
	return b.repo.PutSnapshot(ctx, doc, b.now())
}

func (b *SQLiteBackend) Latest(ctx context.Context) ([]byte, error) {
	body, err := b.repo.LatestSnapshot(ctx)
	if errors.Is(err, db.ErrNoSnapshot) {
		return nil, ErrNoSnapshot
	}
	return body, err
}
