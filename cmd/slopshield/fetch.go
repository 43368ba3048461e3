package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

const (
	fetchUA      = "Mozilla/5.0 (compatible; slopshield/1.0)"
	maxFetchBody = 10 << 20
)

// fetchHTTP is the plain acquisition path: one GET, no JS. Covers
// static pages and most server-rendered sites.
func fetchHTTP(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch: %s returned %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return "", fmt.Errorf("fetch: read body: %w", err)
	}
	return string(body), nil
}

// fetchBrowser drives headless Chrome for JS-rendered pages. The
// stealth page profile avoids the trivial headless tells that make
// social sites serve empty shells.
func fetchBrowser(ctx context.Context, pageURL string) (string, error) {
	browser := rod.New().Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("fetch: browser connect: %w", err)
	}
	defer browser.Close()

	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("fetch: stealth page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return "", fmt.Errorf("fetch: navigate: %w", err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		return "", fmt.Errorf("fetch: wait load: %w", err)
	}
	// Give client-side frameworks a beat to render the feed.
	time.Sleep(time.Second)

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("fetch: page html: %w", err)
	}
	return html, nil
}
