package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hazyhaar/slopshield/dbopen"
)

// DefaultDurableCapacity bounds the SQLite tier.
const DefaultDurableCapacity = 2000

// Schema creates the durable tier's table. Pass it to
// dbopen.WithSchema when opening the database.
const Schema = `
CREATE TABLE IF NOT EXISTS score_cache (
	content_key TEXT PRIMARY KEY,
	score       INTEGER NOT NULL,
	inserted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_score_cache_inserted ON score_cache(inserted_at);
`

// Durable is the SQLite-backed tier. Entries carry no TTL; scoring is
// deterministic per content key, so a persisted score never goes stale.
// On overflow the oldest-inserted entries are trimmed to capacity.
type Durable struct {
	db       *sql.DB
	capacity int
	hits     atomic.Int64
	misses   atomic.Int64
}

// NewDurable wraps db, which must already carry Schema. Non-positive
// capacity falls back to DefaultDurableCapacity.
func NewDurable(db *sql.DB, capacity int) *Durable {
	if capacity <= 0 {
		capacity = DefaultDurableCapacity
	}
	return &Durable{db: db, capacity: capacity}
}

// Get returns the persisted score for key, or ok=false on a miss.
// A row holding an out-of-range score is treated as corrupt: it is
// deleted and the lookup reported as a miss.
func (d *Durable) Get(ctx context.Context, key string) (score int, ok bool, err error) {
	err = d.db.QueryRowContext(ctx,
		`SELECT score FROM score_cache WHERE content_key = ?`, key).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		d.misses.Add(1)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache: durable get: %w", err)
	}
	if score < 1 || score > 10 {
		dbopen.Exec(ctx, d.db, `DELETE FROM score_cache WHERE content_key = ?`, key)
		d.misses.Add(1)
		return 0, false, nil
	}
	d.hits.Add(1)
	return score, true, nil
}

// Set upserts key and trims oldest-inserted entries past capacity, in
// one transaction so the tier never persists more than capacity rows.
func (d *Durable) Set(ctx context.Context, key string, score int) error {
	err := dbopen.RunTx(ctx, d.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO score_cache (content_key, score, inserted_at)
			VALUES (?, ?, CAST(unixepoch('subsec') * 1000 AS INTEGER))
			ON CONFLICT(content_key) DO UPDATE SET
				score       = excluded.score,
				inserted_at = excluded.inserted_at`,
			key, score); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM score_cache WHERE content_key IN (
				SELECT content_key FROM score_cache
				ORDER BY inserted_at ASC, rowid ASC
				LIMIT max((SELECT count(*) FROM score_cache) - ?, 0)
			)`, d.capacity)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: durable set: %w", err)
	}
	return nil
}

// Clear drops all persisted entries.
func (d *Durable) Clear(ctx context.Context) error {
	if _, err := dbopen.Exec(ctx, d.db, `DELETE FROM score_cache`); err != nil {
		return fmt.Errorf("cache: durable clear: %w", err)
	}
	return nil
}

// Size returns the number of persisted entries.
func (d *Durable) Size(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx,
		`SELECT count(*) FROM score_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: durable size: %w", err)
	}
	return n, nil
}

// Stats returns a snapshot of size and hit/miss counters. A size query
// failure reports size 0; the counters are still valid.
func (d *Durable) Stats(ctx context.Context) Stats {
	n, _ := d.Size(ctx)
	return Stats{Size: n, Hits: d.hits.Load(), Misses: d.misses.Load()}
}
