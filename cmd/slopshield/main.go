// Command slopshield scores text blocks for AI-likelihood.
//
// Subcommands:
//
//	score <text|->        score one text (stdin with -), JSON to stdout
//	scan  <file|url>      scan a document, JSON report to stdout
//	watch <url>           poll a page and report newly flagged blocks
//	serve                 diagnostics HTTP API (+ optional MCP on stdio)
//
// Environment: PORT, LOG_LEVEL, MCP_TRANSPORT, SLOPSHIELD_CONFIG.
package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/slopshield/cache"
	"github.com/hazyhaar/slopshield/dbopen"
	"github.com/hazyhaar/slopshield/dom"
	"github.com/hazyhaar/slopshield/engine"
	"github.com/hazyhaar/slopshield/monitor"
)

func main() {
	var level slog.Level
	switch strings.ToLower(env("LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// Logs go to stderr: score/scan write their JSON result on stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := engine.LoadConfig(env("SLOPSHIELD_CONFIG", "slopshield.yaml"))
	if err != nil {
		logger.Error("slopshield: load config", "error", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "score":
		err = runScore(ctx, cfg, os.Args[2:])
	case "scan":
		err = runScan(ctx, cfg, os.Args[2:])
	case "watch":
		err = runWatch(ctx, cfg, os.Args[2:])
	case "serve":
		err = runServe(ctx, cfg)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("slopshield: "+os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: slopshield <command> [args]

  score <text|->           score one text block (use - to read stdin)
  scan [-browser] <target> scan an HTML file or URL, print a report
  watch [-browser] [-interval 30s] <url>
                           poll a page, print blocks as they flag
  serve                    run the diagnostics API`)
}

// openEngine opens the SQLite store and builds an engine on top of it.
func openEngine(cfg engine.Config, onScored engine.OnScored) (*engine.Engine, *sql.DB, error) {
	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(cache.Schema),
		dbopen.WithSchema(engine.SettingsSchema),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	e := engine.New(engine.Options{Config: cfg, DB: db, OnScored: onScored})
	return e, db, nil
}

func runScore(ctx context.Context, cfg engine.Config, args []string) error {
	text := strings.Join(args, " ")
	if text == "-" || text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to score")
	}

	e, db, err := openEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	key, sc := e.ScoreText(ctx, text)
	return printJSON(map[string]any{
		"key":       key,
		"score":     sc,
		"flagged":   sc >= e.Threshold(),
		"threshold": e.Threshold(),
	})
}

func runScan(ctx context.Context, cfg engine.Config, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	browser := fs.Bool("browser", false, "render the page in headless Chrome")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("scan wants exactly one file path or URL")
	}
	target := fs.Arg(0)

	page, pageURL, err := acquire(ctx, target, *browser)
	if err != nil {
		return err
	}
	doc, err := dom.Parse(strings.NewReader(page), pageURL)
	if err != nil {
		return err
	}

	e, db, err := openEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	store := engine.NewSettingsStore(db, engine.Settings{
		MinTextLength: cfg.MinTextLength,
		Threshold:     cfg.Threshold,
	}, slog.Default())
	e.ApplySettings(store.Load(ctx))

	return printJSON(e.ScanDocument(ctx, doc))
}

// runWatch polls a page and feeds refreshed content through the
// mutation monitor, so only new or changed blocks get scored after the
// first pass. Flagged blocks print to stdout as they are found.
func runWatch(ctx context.Context, cfg engine.Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	browser := fs.Bool("browser", false, "render the page in headless Chrome")
	interval := fs.Duration("interval", 30*time.Second, "refresh interval")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("watch wants exactly one URL")
	}
	pageURL := fs.Arg(0)

	page, _, err := acquire(ctx, pageURL, *browser)
	if err != nil {
		return err
	}
	doc, err := dom.Parse(strings.NewReader(page), pageURL)
	if err != nil {
		return err
	}
	body := bodyOf(doc)
	if body == nil {
		return errors.New("document has no body")
	}

	var e *engine.Engine
	onScored := func(el *html.Node, sc int) {
		if sc < e.Threshold() {
			return
		}
		printJSON(map[string]any{
			"score": sc,
			"text":  firstRunes(dom.Text(el), 280),
		})
	}
	e, db, err := openEngine(cfg, onScored)
	if err != nil {
		return err
	}
	defer db.Close()

	mon := monitor.New(doc, e.Selector(), e.BatchSink(doc), cfg.Monitor, slog.Default())
	monErr := make(chan error, 1)
	go func() { monErr <- mon.Run(ctx) }()

	lastHash := sha256.Sum256([]byte(page))
	tick := time.NewTicker(*interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-monErr:
			return err
		case <-tick.C:
			fresh, _, err := acquire(ctx, pageURL, *browser)
			if err != nil {
				slog.Warn("slopshield: refresh failed", "url", pageURL, "error", err)
				continue
			}
			h := sha256.Sum256([]byte(fresh))
			if h == lastHash {
				continue
			}
			lastHash = h
			refreshBody(doc, body, fresh, mon)
		}
	}
}

// refreshBody swaps the document body for the freshly fetched one and
// reports the insertions to the monitor. Unchanged blocks resolve from
// cache, so each refresh only scores what actually changed.
func refreshBody(doc *dom.Document, body *html.Node, page string, mon *monitor.Monitor) {
	next, err := dom.Parse(strings.NewReader(page), doc.URL())
	if err != nil {
		slog.Warn("slopshield: refresh parse", "error", err)
		return
	}
	newBody := bodyOf(next)
	if newBody == nil {
		return
	}
	for c := body.FirstChild; c != nil; {
		sib := c.NextSibling
		body.RemoveChild(c)
		c = sib
	}
	for c := newBody.FirstChild; c != nil; {
		sib := c.NextSibling
		newBody.RemoveChild(c)
		dom.Append(body, c)
		if c.Type == html.ElementNode {
			mon.Observe(monitor.Record{Op: monitor.OpAdd, Node: c})
		}
		c = sib
	}
}

func runServe(ctx context.Context, cfg engine.Config) error {
	e, db, err := openEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	store := engine.NewSettingsStore(db, engine.Settings{
		MinTextLength: cfg.MinTextLength,
		Threshold:     cfg.Threshold,
	}, slog.Default())
	e.ApplySettings(store.Load(ctx))
	go store.Watch(ctx, e, engine.WatchOptions{
		Interval: 2 * time.Second,
		Debounce: 500 * time.Millisecond,
	})

	if env("MCP_TRANSPORT", "") == "stdio" {
		srv := mcp.NewServer(&mcp.Implementation{Name: "slopshield", Version: "1.0.0"}, nil)
		e.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("slopshield: mcp server", "error", err)
			}
		}()
		slog.Info("slopshield: mcp listening on stdio")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	e.RegisterHTTP(r, store)

	addr := ":" + env("PORT", "8090")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("slopshield: http listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// acquire fetches HTML for target: a URL via HTTP (or headless Chrome
// when asked), anything else as a local file. Returns the content and
// the page URL to attribute it to (empty for files).
func acquire(ctx context.Context, target string, browser bool) (page, pageURL string, err error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		if browser {
			page, err = fetchBrowser(ctx, target)
		} else {
			page, err = fetchHTTP(ctx, target)
		}
		return page, target, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", target, err)
	}
	return string(data), "", nil
}

// bodyOf finds the body element of a parsed document.
func bodyOf(doc *dom.Document) *html.Node {
	var body *html.Node
	dom.WalkElements(doc.Root(), func(n *html.Node) bool {
		if n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	return body
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
