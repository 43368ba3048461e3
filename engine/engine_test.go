package engine

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/net/html"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/slopshield/cache"
	"github.com/hazyhaar/slopshield/candidate"
	"github.com/hazyhaar/slopshield/dbopen"
	"github.com/hazyhaar/slopshield/dom"
	"github.com/hazyhaar/slopshield/monitor"
)

const (
	humanPara = "My neighbour finally fixed the old tractor last weekend, though he swears the carburetor he ordered online was machined for a different model entirely."
	slopPara  = "Great point! Thanks for sharing this insightful perspective — I totally agree that it's important to delve deeper into this fascinating topic."
)

func testEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.DB == nil {
		opts.DB = dbopen.OpenMemory(t, dbopen.WithSchema(cache.Schema))
	}
	return New(opts)
}

func parseDoc(t *testing.T, body, url string) *dom.Document {
	t.Helper()
	doc, err := dom.Parse(strings.NewReader("<html><body>"+body+"</body></html>"), url)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func singleBlock(t *testing.T, e *Engine, doc *dom.Document) candidate.Block {
	t.Helper()
	blocks := e.Selector().SelectDocument(doc)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	return blocks[0]
}

func TestEvaluateScoresAndDispatches(t *testing.T) {
	var gotEl *html.Node
	var gotScore int
	calls := 0

	e := testEngine(t, Options{OnScored: func(el *html.Node, sc int) {
		gotEl, gotScore, calls = el, sc, calls+1
	}})
	doc := parseDoc(t, "<p>"+humanPara+"</p>", "https://example.com/a")
	b := singleBlock(t, e, doc)

	sc := e.Evaluate(context.Background(), doc, b)
	if sc < 1 || sc > 10 {
		t.Fatalf("score = %d, out of range", sc)
	}
	if calls != 1 || gotEl != b.Element || gotScore != sc {
		t.Fatalf("callback: calls=%d el=%v score=%d, want 1 call with block element and %d", calls, gotEl == b.Element, gotScore, sc)
	}
	if dom.Attr(b.Element, monitor.ScoredAttr) == "" {
		t.Fatal("processed marker not set")
	}

	stats := e.CacheStats(context.Background())
	if stats["session"].Size != 1 {
		t.Fatalf("session size = %d, want 1", stats["session"].Size)
	}
	if stats["durable"].Size != 1 {
		t.Fatalf("durable size = %d, want 1", stats["durable"].Size)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := testEngine(t, Options{})
	doc := parseDoc(t, "<p>"+slopPara+"</p>", "https://example.com/a")
	b := singleBlock(t, e, doc)

	first := e.Evaluate(context.Background(), doc, b)
	e.session.Clear()
	e.durable.Clear(context.Background())
	second := e.Evaluate(context.Background(), doc, b)
	if first != second {
		t.Fatalf("scores differ across evaluations: %d vs %d", first, second)
	}
}

func TestEvaluateSessionHitShortCircuits(t *testing.T) {
	e := testEngine(t, Options{})
	doc := parseDoc(t, "<p>"+humanPara+"</p>", "https://example.com/a")
	b := singleBlock(t, e, doc)

	// A primed session entry wins over recomputation.
	e.session.Set(b.Key, 9)
	if sc := e.Evaluate(context.Background(), doc, b); sc != 9 {
		t.Fatalf("score = %d, want primed 9", sc)
	}
}

func TestEvaluateDurableHitBackfillsSession(t *testing.T) {
	e := testEngine(t, Options{})
	doc := parseDoc(t, "<p>"+humanPara+"</p>", "https://example.com/a")
	b := singleBlock(t, e, doc)
	ctx := context.Background()

	sc := e.Evaluate(ctx, doc, b)
	e.session.Clear()

	got := e.Evaluate(ctx, doc, b)
	if got != sc {
		t.Fatalf("durable hit = %d, want %d", got, sc)
	}
	if e.session.Size() != 1 {
		t.Fatalf("session size = %d after durable hit, want backfilled 1", e.session.Size())
	}
}

func TestEvaluateDetachedElementDropped(t *testing.T) {
	calls := 0
	e := testEngine(t, Options{OnScored: func(*html.Node, int) { calls++ }})
	doc := parseDoc(t, "<p>"+humanPara+"</p>", "https://example.com/a")
	b := singleBlock(t, e, doc)

	dom.Remove(b.Element)
	sc := e.Evaluate(context.Background(), doc, b)
	if sc < 1 || sc > 10 {
		t.Fatalf("score = %d, out of range", sc)
	}
	if calls != 0 {
		t.Fatal("callback fired for detached element")
	}
}

func TestSetThresholdRedispatchesFlippedElements(t *testing.T) {
	type call struct {
		el *html.Node
		sc int
	}
	var calls []call
	e := testEngine(t, Options{
		Config: Config{Threshold: 6},
		OnScored: func(el *html.Node, sc int) {
			calls = append(calls, call{el, sc})
		},
	})
	doc := parseDoc(t, "<p>"+slopPara+"</p>", "https://example.com/a")
	b := singleBlock(t, e, doc)

	sc := e.Evaluate(context.Background(), doc, b)
	if len(calls) != 1 {
		t.Fatalf("calls = %d after evaluate, want 1", len(calls))
	}

	// Move the threshold past the score: flagged state flips, callback
	// re-fires with the recorded score.
	newT := sc + 1
	if newT > 10 {
		t.Skipf("score %d leaves no headroom", sc)
	}
	e.SetThreshold(newT)
	if len(calls) != 2 {
		t.Fatalf("calls = %d after threshold change, want 2", len(calls))
	}
	if calls[1].el != b.Element || calls[1].sc != sc {
		t.Fatal("re-dispatch carried wrong element or score")
	}

	e.SetThreshold(newT - 1) // flips back
	e.SetThreshold(newT)     // and forth
	if len(calls) != 4 {
		t.Fatalf("calls = %d, want 4", len(calls))
	}
	// Setting the same threshold again flips nothing.
	e.SetThreshold(newT)
	if len(calls) != 4 {
		t.Fatal("no-op threshold change re-dispatched")
	}
}

func TestSetThresholdPrunesDetachedElements(t *testing.T) {
	calls := 0
	e := testEngine(t, Options{OnScored: func(*html.Node, int) { calls++ }})
	doc := parseDoc(t, "<p>"+humanPara+"</p><p>"+slopPara+"</p>", "https://example.com/a")
	blocks := e.Selector().SelectDocument(doc)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	ctx := context.Background()
	for _, b := range blocks {
		e.Evaluate(ctx, doc, b)
	}
	if got := len(e.scanned); got != 2 {
		t.Fatalf("scanned entries = %d, want 2", got)
	}

	dom.Remove(blocks[0].Element)
	calls = 0
	e.SetThreshold(e.Threshold()%10 + 1)

	e.mu.Lock()
	remaining := len(e.scanned)
	_, detachedKept := e.scanned[blocks[0].Element]
	e.mu.Unlock()
	if detachedKept {
		t.Fatal("detached element still tracked after threshold update")
	}
	if remaining != 1 {
		t.Errorf("scanned entries = %d, want 1", remaining)
	}
	if calls > 1 {
		t.Errorf("callback fired %d times, detached element must not re-dispatch", calls)
	}
}

func TestPruneScannedDropsDetached(t *testing.T) {
	e := testEngine(t, Options{})
	doc := parseDoc(t, "<p>"+humanPara+"</p>", "https://example.com/a")
	b := singleBlock(t, e, doc)
	e.Evaluate(context.Background(), doc, b)

	dom.Remove(b.Element)
	e.mu.Lock()
	e.pruneScannedLocked()
	n := len(e.scanned)
	e.mu.Unlock()
	if n != 0 {
		t.Fatalf("scanned entries = %d after prune, want 0", n)
	}
}

func TestApplySettings(t *testing.T) {
	e := testEngine(t, Options{})
	e.ApplySettings(Settings{MinTextLength: 25, Threshold: 3})

	if got := e.Selector().MinTextLength(); got != 25 {
		t.Fatalf("min text length = %d, want 25", got)
	}
	if got := e.Threshold(); got != 3 {
		t.Fatalf("threshold = %d, want 3", got)
	}
}

func TestClearCacheBothTiers(t *testing.T) {
	e := testEngine(t, Options{})
	doc := parseDoc(t, "<p>"+humanPara+"</p>", "https://example.com/a")
	b := singleBlock(t, e, doc)
	ctx := context.Background()

	e.Evaluate(ctx, doc, b)
	if e.CacheSize(ctx) != 2 {
		t.Fatalf("cache size = %d, want 2", e.CacheSize(ctx))
	}
	if err := e.ClearCache(ctx); err != nil {
		t.Fatal(err)
	}
	if e.CacheSize(ctx) != 0 {
		t.Fatalf("cache size = %d after clear, want 0", e.CacheSize(ctx))
	}
}

func TestScoreTextStandalone(t *testing.T) {
	e := testEngine(t, Options{})
	key, sc := e.ScoreText(context.Background(), "thx")
	if key == "" {
		t.Fatal("empty content key")
	}
	if sc != 1 {
		t.Fatalf("score = %d for sub-minimal text, want 1", sc)
	}
}

func TestScanDocumentReport(t *testing.T) {
	e := testEngine(t, Options{Config: Config{Threshold: 6}})
	doc := parseDoc(t,
		`<p onclick="steal()">`+slopPara+`</p><p>`+humanPara+`</p>`,
		"https://example.com/thread")

	rep := e.ScanDocument(context.Background(), doc)
	if rep.ScanID == "" || !strings.HasPrefix(rep.ScanID, "scan_") {
		t.Fatalf("scan id = %q", rep.ScanID)
	}
	if rep.Host != "example.com" {
		t.Fatalf("host = %q", rep.Host)
	}
	if len(rep.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(rep.Blocks))
	}
	for _, b := range rep.Blocks {
		if b.CacheHit {
			t.Fatal("first scan reported a cache hit")
		}
		if strings.Contains(b.Snippet, "onclick") {
			t.Fatal("snippet not sanitized")
		}
		if b.Markdown == "" {
			t.Fatal("markdown rendition missing")
		}
	}

	var slopScore, humanScore int
	for _, b := range rep.Blocks {
		if strings.Contains(b.Markdown, "tractor") {
			humanScore = b.Score
		} else {
			slopScore = b.Score
		}
	}
	if slopScore <= humanScore {
		t.Fatalf("slop score %d not above human score %d", slopScore, humanScore)
	}

	// Second scan over the same content is served from cache.
	rep2 := e.ScanDocument(context.Background(), doc)
	for _, b := range rep2.Blocks {
		if !b.CacheHit {
			t.Fatal("second scan missed the cache")
		}
	}
}
