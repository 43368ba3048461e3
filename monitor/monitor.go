// Package monitor watches a live document for changes and ensures new or
// changed candidate blocks reach the scoring pipeline exactly once.
// Change records are coalesced over a short debounce window; found
// elements land in a pending set deduplicated by element identity, which
// a single drain loop empties in batches. Hosts with virtualized feeds
// use a periodic sweep over trusted selectors instead of record diffing.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/slopshield/candidate"
	"github.com/hazyhaar/slopshield/dom"
)

// ScoredAttr marks elements that already went through scoring. Sweeps
// and rescans skip marked elements, keeping them O(new content).
const ScoredAttr = "data-slopshield-scored"

// Config controls monitor timing.
type Config struct {
	// Debounce is the coalescing window for change records.
	Debounce time.Duration `yaml:"debounce"`
	// MaxBuffer flushes immediately when this many records accumulate.
	MaxBuffer int `yaml:"max_buffer"`
	// BatchSize caps how many blocks one drain batch hands to the sink.
	BatchSize int `yaml:"batch_size"`
	// SweepInterval drives the periodic re-scan on sweep-flagged hosts.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// PollInterval drives URL-change detection for SPA navigation.
	PollInterval time.Duration `yaml:"poll_interval"`
	// SettleDelay is how long the document must stay quiet after a URL
	// change before the full rescan runs.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

func (c *Config) defaults() {
	if c.Debounce <= 0 {
		c.Debounce = 75 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 256
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
}

// BatchFunc receives drained candidate blocks. Implementations own all
// scoring side effects; the monitor only guarantees delivery without
// concurrent overlapping batches.
type BatchFunc func(ctx context.Context, blocks []candidate.Block)

// Stats is a snapshot of monitor activity.
type Stats struct {
	Pending int   `json:"pending"`
	Flushes int64 `json:"flushes"`
	Drained int64 `json:"drained"`
	Sweeps  int64 `json:"sweeps"`
	Rescans int64 `json:"rescans"`
}

// Monitor owns the observe→debounce→pending→drain pipeline for one
// document. Feed it change records via Observe; it delivers candidate
// blocks to the sink from its Run loop.
type Monitor struct {
	cfg    Config
	doc    *dom.Document
	sel    *candidate.Selector
	sink   BatchFunc
	logger *slog.Logger

	rawCh chan Record
	deb   *debouncer

	mu       sync.Mutex
	pending  map[*html.Node]candidate.Block
	draining bool
	flushes  int64
	drained  int64
	sweeps   int64
	rescans  int64

	lastURL string
}

// New creates a Monitor for doc. sink must be non-nil.
func New(doc *dom.Document, sel *candidate.Selector, sink BatchFunc, cfg Config, logger *slog.Logger) *Monitor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:     cfg,
		doc:     doc,
		sel:     sel,
		sink:    sink,
		logger:  logger,
		rawCh:   make(chan Record, cfg.MaxBuffer),
		pending: make(map[*html.Node]candidate.Block),
		lastURL: doc.URL(),
	}
	return m
}

// Observe enqueues a change record. Non-blocking: when the buffer is
// full the record is dropped with a diagnostic log — the sweep or the
// next rescan will pick the content up.
func (m *Monitor) Observe(rec Record) {
	select {
	case m.rawCh <- rec:
	default:
		m.logger.Warn("monitor: raw buffer full, dropping record", "op", rec.Op)
	}
}

// Run performs an initial full scan and then processes change records
// until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.sink == nil {
		return fmt.Errorf("monitor: nil sink")
	}

	deb := newDebouncer(m.cfg.Debounce, m.cfg.MaxBuffer, func(recs []Record) {
		m.mu.Lock()
		m.flushes++
		m.mu.Unlock()
		m.handleRecords(ctx, recs)
	})
	m.deb = deb

	prof := m.sel.Profile(m.doc)
	useSweep := prof != nil && prof.Sweep

	m.rescan(ctx)

	var sweepC <-chan time.Time
	if useSweep {
		t := time.NewTicker(m.cfg.SweepInterval)
		defer t.Stop()
		sweepC = t.C
	}
	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-m.rawCh:
			if useSweep {
				continue // sweep strategy ignores individual records
			}
			deb.add(rec)
		case <-deb.timerC():
			deb.flush()
		case <-sweepC:
			m.sweep(ctx)
		case <-poll.C:
			if m.doc.URL() != m.lastURL {
				m.handleNavigate(ctx)
			}
		}
	}
}

// handleRecords turns flushed change records into pending blocks and
// kicks a drain.
func (m *Monitor) handleRecords(ctx context.Context, recs []Record) {
	for _, rec := range recs {
		if rec.Op == OpRemove || rec.Node == nil {
			continue
		}
		if !m.doc.IsAttached(rec.Node) {
			continue // removed again before the window closed
		}
		for _, b := range m.sel.SelectElement(m.doc, rec.Node) {
			m.addPending(b)
		}
	}
	m.drain(ctx)
}

func (m *Monitor) addPending(b candidate.Block) {
	m.mu.Lock()
	m.pending[b.Element] = b
	m.mu.Unlock()
}

// drain empties the pending set in batches, re-checking for items added
// during each batch until the set is empty. The in-progress flag
// guarantees no concurrent overlapping drains.
func (m *Monitor) drain(ctx context.Context) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	for {
		batch := m.takeBatch()
		if len(batch) == 0 {
			return
		}
		m.sink(ctx, batch)
		m.mu.Lock()
		m.drained += int64(len(batch))
		m.mu.Unlock()
	}
}

func (m *Monitor) takeBatch() []candidate.Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	batch := make([]candidate.Block, 0, m.cfg.BatchSize)
	for el, b := range m.pending {
		batch = append(batch, b)
		delete(m.pending, el)
		if len(batch) == m.cfg.BatchSize {
			break
		}
	}
	return batch
}

// sweep re-scans the profile's trusted selectors for elements lacking
// the processed marker. Used on hosts that recycle DOM nodes too
// aggressively for record diffing to be reliable.
func (m *Monitor) sweep(ctx context.Context) {
	prof := m.sel.Profile(m.doc)
	if prof == nil {
		return
	}
	m.mu.Lock()
	m.sweeps++
	m.mu.Unlock()

	for _, sel := range prof.TrustedSelectors {
		nodes, err := m.doc.QuerySelectorAll(sel)
		if err != nil {
			m.logger.Debug("monitor: sweep selector skipped", "selector", sel, "error", err)
			continue
		}
		for _, n := range nodes {
			if dom.HasAttr(n, ScoredAttr) {
				continue
			}
			for _, b := range m.sel.SelectElement(m.doc, n) {
				m.addPending(b)
			}
		}
	}
	m.drain(ctx)
}

// handleNavigate waits for the document to settle after a SPA URL
// change, then resets all monitor state and rescans from scratch.
func (m *Monitor) handleNavigate(ctx context.Context) {
	newURL := m.doc.URL()
	m.logger.Info("monitor: navigation detected", "from", m.lastURL, "to", newURL)
	m.lastURL = newURL

	timer := time.NewTimer(m.cfg.SettleDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.rawCh:
			// Still mutating; the post-settle rescan covers everything.
			timer.Reset(m.cfg.SettleDelay)
		case <-timer.C:
			m.reset()
			m.rescan(ctx)
			return
		}
	}
}

// reset drops all buffered and pending work.
func (m *Monitor) reset() {
	if m.deb != nil {
		m.deb.reset()
	}
	m.mu.Lock()
	m.pending = make(map[*html.Node]candidate.Block)
	m.mu.Unlock()
}

// rescan runs a full document scan, queueing every unscored block.
func (m *Monitor) rescan(ctx context.Context) {
	m.mu.Lock()
	m.rescans++
	m.mu.Unlock()

	for _, b := range m.sel.SelectDocument(m.doc) {
		if dom.HasAttr(b.Element, ScoredAttr) {
			continue
		}
		m.addPending(b)
	}
	m.drain(ctx)
}

// Stats returns a snapshot of monitor counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Pending: len(m.pending),
		Flushes: m.flushes,
		Drained: m.drained,
		Sweeps:  m.sweeps,
		Rescans: m.rescans,
	}
}
