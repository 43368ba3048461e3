package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/slopshield/cache"
	"github.com/hazyhaar/slopshield/candidate"
	"github.com/hazyhaar/slopshield/dom"
	"github.com/hazyhaar/slopshield/idgen"
	"github.com/hazyhaar/slopshield/monitor"
	"github.com/hazyhaar/slopshield/score"
)

// fallbackScore is applied when scoring itself fails: the system fails
// open, never blocking page content on an internal error.
const fallbackScore = 1

// pruneEvery bounds the scanned map on long-running documents: every
// pruneEvery dispatches, entries for detached elements are dropped.
const pruneEvery = 512

// OnScored is the rendering collaborator's callback. It owns all visual
// side effects; the engine only guarantees it fires once per scored
// element, plus once more per element whose flagged state flips when the
// threshold changes.
type OnScored func(el *html.Node, score int)

type scannedState struct {
	doc   *dom.Document
	score int
}

// Engine is the orchestrator: session cache → durable cache → extract
// and score → write both tiers → rendering callback.
type Engine struct {
	cfg      Config
	scorer   *score.Scorer
	selector *candidate.Selector
	session  *cache.Session
	durable  *cache.Durable
	onScored OnScored
	logger   *slog.Logger
	scanIDs  idgen.Generator

	mu         sync.Mutex
	threshold  int
	scanned    map[*html.Node]scannedState
	sincePrune int
}

// pruneScannedLocked drops threshold-tracking state for elements no
// longer attached to their document. Caller holds e.mu.
func (e *Engine) pruneScannedLocked() {
	for el, st := range e.scanned {
		if !st.doc.IsAttached(el) {
			delete(e.scanned, el)
		}
	}
}

// Options configures New. Zero-value fields get defaults.
type Options struct {
	Config   Config
	Scorer   *score.Scorer
	Selector *candidate.Selector
	// DB backs the durable tier. nil disables durable caching (the
	// session tier still applies) — used by the one-shot CLI paths.
	DB       *sql.DB
	OnScored OnScored
	Logger   *slog.Logger
	// ScanIDs overrides the scan-pass ID generator.
	ScanIDs idgen.Generator
}

// New creates an Engine.
func New(opts Options) *Engine {
	opts.Config.defaults()
	if opts.Scorer == nil {
		opts.Scorer = score.New(nil, score.DefaultWeights())
	}
	if opts.Selector == nil {
		opts.Selector = candidate.New(candidate.Options{MinTextLength: opts.Config.MinTextLength})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ScanIDs == nil {
		opts.ScanIDs = idgen.Prefixed("scan_", idgen.UUIDv7())
	}

	var durable *cache.Durable
	if opts.DB != nil {
		durable = cache.NewDurable(opts.DB, opts.Config.DurableCapacity)
	}

	return &Engine{
		cfg:       opts.Config,
		scorer:    opts.Scorer,
		selector:  opts.Selector,
		session:   cache.NewSession(opts.Config.SessionCapacity, opts.Config.SessionTTL),
		durable:   durable,
		onScored:  opts.OnScored,
		logger:    opts.Logger,
		scanIDs:   opts.ScanIDs,
		threshold: opts.Config.Threshold,
		scanned:   make(map[*html.Node]scannedState),
	}
}

// Selector returns the engine's candidate selector.
func (e *Engine) Selector() *candidate.Selector { return e.selector }

// Threshold returns the current flagging threshold.
func (e *Engine) Threshold() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// Evaluate scores one candidate block: session hit short-circuits
// everything; a durable hit back-fills the session tier; a full miss
// extracts and scores, then writes through both tiers. Concurrent
// misses for the same key may each score independently — the result is
// deterministic, so the race is harmless. The rendering callback fires
// whenever the element is still attached to doc.
func (e *Engine) Evaluate(ctx context.Context, doc *dom.Document, block candidate.Block) int {
	sc, _ := e.evaluate(ctx, doc, block)
	return sc
}

// evaluate additionally reports whether the score came from a cache tier.
func (e *Engine) evaluate(ctx context.Context, doc *dom.Document, block candidate.Block) (sc int, hit bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine: scoring panic, failing open", "recovered", r, "key", block.Key)
			sc, hit = fallbackScore, false
		}
	}()

	if s, ok := e.session.Get(block.Key); ok {
		e.dispatch(doc, block.Element, s)
		return s, true
	}

	if e.durable != nil {
		s, ok, err := e.durable.Get(ctx, block.Key)
		if err != nil {
			e.logger.Warn("engine: durable lookup failed", "key", block.Key, "error", err)
		} else if ok {
			e.session.Set(block.Key, s)
			e.dispatch(doc, block.Element, s)
			return s, true
		}
	}

	s := e.scorer.Score(block.Text)
	e.session.Set(block.Key, s)
	if e.durable != nil {
		if err := e.durable.Set(ctx, block.Key, s); err != nil {
			e.logger.Warn("engine: durable write failed", "key", block.Key, "error", err)
		}
	}
	e.dispatch(doc, block.Element, s)
	return s, false
}

// dispatch marks the element processed, records its state for threshold
// re-evaluation, and invokes the rendering callback. Elements detached
// since selection are silently dropped.
func (e *Engine) dispatch(doc *dom.Document, el *html.Node, sc int) {
	if el == nil || doc == nil || !doc.IsAttached(el) {
		return
	}
	dom.SetAttr(el, monitor.ScoredAttr, "1")

	e.mu.Lock()
	e.scanned[el] = scannedState{doc: doc, score: sc}
	e.sincePrune++
	if e.sincePrune >= pruneEvery {
		e.pruneScannedLocked()
		e.sincePrune = 0
	}
	cb := e.onScored
	e.mu.Unlock()

	if cb != nil {
		cb(el, sc)
	}
}

// BatchSink adapts the engine into a monitor.BatchFunc for doc.
func (e *Engine) BatchSink(doc *dom.Document) monitor.BatchFunc {
	return func(ctx context.Context, blocks []candidate.Block) {
		for _, b := range blocks {
			e.Evaluate(ctx, doc, b)
		}
	}
}

// SetThreshold updates the flagging threshold. Elements whose flagged
// state flips under the new threshold get their callback re-dispatched
// with the recorded score — no re-scoring happens.
func (e *Engine) SetThreshold(n int) {
	if n < 1 || n > 10 {
		return
	}

	e.mu.Lock()
	old := e.threshold
	e.threshold = n
	cb := e.onScored
	type redo struct {
		el    *html.Node
		state scannedState
	}
	var flipped []redo
	for el, st := range e.scanned {
		if !st.doc.IsAttached(el) {
			delete(e.scanned, el)
			continue
		}
		if cb != nil && old != n && (st.score >= old) != (st.score >= n) {
			flipped = append(flipped, redo{el, st})
		}
	}
	e.mu.Unlock()

	for _, f := range flipped {
		cb(f.el, f.state.score)
	}
	if old != n {
		e.logger.Info("engine: threshold updated", "old", old, "new", n, "redispatched", len(flipped))
	}
}

// ApplySettings pushes updated settings into the selector and the
// threshold without restart.
func (e *Engine) ApplySettings(s Settings) {
	e.selector.SetMinTextLength(s.MinTextLength)
	e.SetThreshold(s.Threshold)
	e.logger.Info("engine: settings applied",
		"min_text_length", s.MinTextLength, "threshold", s.Threshold)
}

// CacheStats reports both tiers.
func (e *Engine) CacheStats(ctx context.Context) map[string]cache.Stats {
	out := map[string]cache.Stats{"session": e.session.Stats()}
	if e.durable != nil {
		out["durable"] = e.durable.Stats(ctx)
	}
	return out
}

// CacheSize returns the total entry count across both tiers.
func (e *Engine) CacheSize(ctx context.Context) int {
	n := e.session.Size()
	if e.durable != nil {
		dn, err := e.durable.Size(ctx)
		if err != nil {
			e.logger.Warn("engine: durable size failed", "error", err)
		}
		n += dn
	}
	return n
}

// ClearCache empties both tiers.
func (e *Engine) ClearCache(ctx context.Context) error {
	e.session.Clear()
	if e.durable != nil {
		if err := e.durable.Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ScoreText normalizes and scores a standalone text, bypassing the
// candidate selector. Used by the diagnostics surfaces.
func (e *Engine) ScoreText(ctx context.Context, text string) (key string, sc int) {
	b := candidate.TextBlock(text)
	return b.Key, e.Evaluate(ctx, nil, b)
}
