package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNoSnapshot is returned by LatestSnapshot when none was ever stored.
var ErrNoSnapshot = errors.New("no snapshot stored")

func (r *Repository) PutSnapshot(ctx context.Context, body []byte, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO snapshots (ts,body) VALUES (?,?)`, at.UTC(), string(body))
	return err
}

func (r *Repository) LatestSnapshot(ctx context.Context) ([]byte, error) {
	var body string
	err := r.db.QueryRowContext(ctx, `SELECT body FROM snapshots ORDER BY id DESC LIMIT 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}
