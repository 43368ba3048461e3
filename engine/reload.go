package engine

import (
	"context"
	"database/sql"
	"time"
)

// ChangeDetector reads a version token from the settings database. Two
// calls returning different values mean the settings may have changed.
// int64 maps naturally onto PRAGMA data_version or an update stamp.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// WatchOptions tunes the settings reload poller.
type WatchOptions struct {
	// Interval is the polling frequency. Default 2s.
	Interval time.Duration
	// Debounce is the quiet period after a detected change before the
	// reload fires; further changes reset the timer. 0 reloads
	// immediately.
	Debounce time.Duration
	// Detector defaults to DataVersion.
	Detector ChangeDetector
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Detector == nil {
		o.Detector = DataVersion
	}
}

// DataVersion polls PRAGMA data_version, which advances whenever
// another connection writes the database file. Same-connection writes
// do not advance it; in-process settings updates apply directly and do
// not need the poller.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// SettingsVersion polls the settings table's newest update stamp. It
// sees same-connection writes, at the cost of a table read per poll.
func SettingsVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(updated_at), 0) FROM settings").Scan(&v)
	return v, err
}

// Watch polls for settings changes written by other connections and
// applies the reloaded settings to e. Blocks until ctx is cancelled.
// Detector errors are logged and the poll retried; a reload that races
// a concurrent write is harmless since Load always returns a complete
// merged value.
func (s *SettingsStore) Watch(ctx context.Context, e *Engine, opts WatchOptions) {
	opts.defaults()

	last, err := opts.Detector(ctx, s.db)
	if err != nil {
		s.logger.Warn("engine: settings watch seed failed", "error", err)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var debTimer *time.Timer
	var debC <-chan time.Time
	pending := false

	s.logger.Info("engine: settings watch started",
		"interval", opts.Interval, "debounce", opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if debTimer != nil {
				debTimer.Stop()
			}
			return

		case <-ticker.C:
			cur, err := opts.Detector(ctx, s.db)
			if err != nil {
				s.logger.Warn("engine: settings version check failed", "error", err)
				continue
			}
			if cur == last {
				continue
			}
			last = cur
			if opts.Debounce <= 0 {
				e.ApplySettings(s.Load(ctx))
				continue
			}
			if debTimer != nil {
				debTimer.Stop()
			}
			debTimer = time.NewTimer(opts.Debounce)
			debC = debTimer.C
			pending = true

		case <-debC:
			debC = nil
			if pending {
				pending = false
				e.ApplySettings(s.Load(ctx))
			}
		}
	}
}
