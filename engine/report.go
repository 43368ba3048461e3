package engine

import (
	"context"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/slopshield/dom"
	"github.com/hazyhaar/slopshield/kit"
)

// snippetLimit caps the sanitized HTML excerpt per block.
const snippetLimit = 500

// BlockReport is one scored block inside a Report.
type BlockReport struct {
	Key      string `json:"key"`
	Score    int    `json:"score"`
	Flagged  bool   `json:"flagged"`
	Trusted  bool   `json:"trusted"`
	CacheHit bool   `json:"cache_hit"`
	Snippet  string `json:"snippet,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

// Report is the outcome of one scan pass over a document.
type Report struct {
	ScanID    string        `json:"scan_id"`
	URL       string        `json:"url,omitempty"`
	Host      string        `json:"host,omitempty"`
	Threshold int           `json:"threshold"`
	Flagged   int           `json:"flagged"`
	Blocks    []BlockReport `json:"blocks"`
}

var snippetPolicy = bluemonday.UGCPolicy()

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// ScanDocument selects, scores, and reports every candidate block in
// doc. Block HTML is sanitized before it enters the report; a markdown
// rendition rides along for text-only consumers.
func (e *Engine) ScanDocument(ctx context.Context, doc *dom.Document) Report {
	rep := Report{
		ScanID:    e.scanIDs(),
		URL:       doc.URL(),
		Host:      doc.Host(),
		Threshold: e.Threshold(),
	}

	for _, b := range e.selector.SelectDocument(doc) {
		sc, hit := e.evaluate(ctx, doc, b)
		br := BlockReport{
			Key:      b.Key,
			Score:    sc,
			Flagged:  sc >= rep.Threshold,
			Trusted:  b.Trusted,
			CacheHit: hit,
		}
		if b.Element != nil {
			raw := dom.Render(b.Element)
			br.Snippet = truncate(snippetPolicy.Sanitize(raw), snippetLimit)
			if md, err := mdConverter.ConvertString(raw); err == nil {
				br.Markdown = strings.TrimSpace(md)
			}
		}
		if br.Flagged {
			rep.Flagged++
		}
		rep.Blocks = append(rep.Blocks, br)
	}

	e.logger.Info("engine: scan complete",
		"scan_id", rep.ScanID, "host", rep.Host,
		"blocks", len(rep.Blocks), "flagged", rep.Flagged,
		"transport", kit.GetTransport(ctx),
		"request_id", kit.GetRequestID(ctx))
	return rep
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Cut on a rune boundary.
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
