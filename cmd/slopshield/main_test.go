package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/slopshield/candidate"
	"github.com/hazyhaar/slopshield/dom"
	"github.com/hazyhaar/slopshield/monitor"
)

func TestAcquireLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	const content = "<html><body><p>hello</p></body></html>"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	page, pageURL, err := acquire(context.Background(), path, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if page != content {
		t.Errorf("page = %q, want %q", page, content)
	}
	if pageURL != "" {
		t.Errorf("pageURL = %q, want empty for local files", pageURL)
	}
}

func TestAcquireMissingFile(t *testing.T) {
	if _, _, err := acquire(context.Background(), "/no/such/file.html", false); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestBodyOf(t *testing.T) {
	doc, err := dom.Parse(strings.NewReader("<html><body><p>x</p></body></html>"), "")
	if err != nil {
		t.Fatal(err)
	}
	body := bodyOf(doc)
	if body == nil {
		t.Fatal("bodyOf returned nil")
	}
	if body.FirstChild == nil || body.FirstChild.Data != "p" {
		t.Errorf("body first child = %+v, want p element", body.FirstChild)
	}
}

func TestFirstRunes(t *testing.T) {
	if got := firstRunes("héllo", 3); got != "hél" {
		t.Errorf("firstRunes = %q, want %q", got, "hél")
	}
	if got := firstRunes("ok", 10); got != "ok" {
		t.Errorf("firstRunes = %q, want %q", got, "ok")
	}
}

func TestRefreshBodySwapsAndObserves(t *testing.T) {
	doc, err := dom.Parse(strings.NewReader("<html><body><p>old content</p></body></html>"), "")
	if err != nil {
		t.Fatal(err)
	}
	body := bodyOf(doc)

	para := strings.Repeat("the harvest ran long this year so we rebuilt the baler ", 3)
	var (
		mu   sync.Mutex
		seen []string
	)
	sink := func(ctx context.Context, blocks []candidate.Block) {
		mu.Lock()
		for _, b := range blocks {
			seen = append(seen, b.Text)
		}
		mu.Unlock()
	}
	cfg := monitor.Config{Debounce: 5 * time.Millisecond}
	mon := monitor.New(doc, candidate.New(candidate.Options{MinTextLength: 20}), sink, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	// Let the initial scan finish before mutating the tree; the document
	// has a single writer.
	time.Sleep(50 * time.Millisecond)
	refreshBody(doc, body, "<html><body><p>"+para+"</p></body></html>", mon)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no blocks delivered after refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(seen[0], "baler") {
		t.Errorf("delivered block = %q, want refreshed content", seen[0])
	}
	if strings.Contains(strings.Join(seen, " "), "old content") {
		t.Errorf("old content should have been removed, got %v", seen)
	}
}
