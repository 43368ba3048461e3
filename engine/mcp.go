package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/slopshield/dom"
	"github.com/hazyhaar/slopshield/kit"
)

// RegisterMCP registers the slopshield tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerScoreTextTool(srv)
	e.registerScanHTMLTool(srv)
	e.registerCacheStatsTool(srv)
	e.registerClearCacheTool(srv)
}

// instrument logs each endpoint call with its transport tag and
// correlation ID.
func (e *Engine) instrument(op string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				e.logger.Warn("engine: call failed", "op", op,
					"transport", kit.GetTransport(ctx),
					"request_id", kit.GetRequestID(ctx),
					"duration", time.Since(start), "error", err)
				return nil, err
			}
			e.logger.Debug("engine: call complete", "op", op,
				"transport", kit.GetTransport(ctx),
				"request_id", kit.GetRequestID(ctx),
				"duration", time.Since(start))
			return resp, nil
		}
	}
}

// mcpContext tags tool calls so call logging can tell the surfaces
// apart.
func mcpContext(ctx context.Context) context.Context {
	return kit.WithTransport(ctx, "mcp")
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- score_text ---

type scoreTextRequest struct {
	Text string `json:"text"`
}

func (e *Engine) registerScoreTextTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "slopshield_score_text",
		Description: "Score a text block for AI-generation likelihood on a 1-10 scale. Deterministic per normalized content.",
		InputSchema: inputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Text to score"},
		}, []string{"text"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scoreTextRequest)
		key, sc := e.ScoreText(ctx, r.Text)
		return map[string]any{
			"key":       key,
			"score":     sc,
			"flagged":   sc >= e.Threshold(),
			"threshold": e.Threshold(),
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r scoreTextRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpContext}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(e.instrument("score_text"))(endpoint), decode)
}

// --- scan_html ---

type scanHTMLRequest struct {
	HTML string `json:"html"`
	URL  string `json:"url,omitempty"`
}

func (e *Engine) registerScanHTMLTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "slopshield_scan_html",
		Description: "Scan an HTML document for candidate text blocks and score each. Returns a per-block report with sanitized snippets.",
		InputSchema: inputSchema(map[string]any{
			"html": map[string]any{"type": "string", "description": "HTML document to scan"},
			"url":  map[string]any{"type": "string", "description": "Page URL, enables site-profile selection"},
		}, []string{"html"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*scanHTMLRequest)
		if strings.TrimSpace(r.HTML) == "" {
			return nil, fmt.Errorf("html is required")
		}
		doc, err := dom.Parse(strings.NewReader(r.HTML), r.URL)
		if err != nil {
			return nil, err
		}
		return e.ScanDocument(ctx, doc), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r scanHTMLRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r, EnrichCtx: mcpContext}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(e.instrument("scan_html"))(endpoint), decode)
}

// --- cache_stats ---

func (e *Engine) registerCacheStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "slopshield_cache_stats",
		Description: "Report size and hit/miss counters for both score-cache tiers.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return e.CacheStats(ctx), nil
	}

	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{EnrichCtx: mcpContext}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(e.instrument("cache_stats"))(endpoint), decode)
}

// --- clear_cache ---

func (e *Engine) registerClearCacheTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "slopshield_clear_cache",
		Description: "Empty both score-cache tiers.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := e.ClearCache(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "cleared"}, nil
	}

	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{EnrichCtx: mcpContext}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(e.instrument("clear_cache"))(endpoint), decode)
}
