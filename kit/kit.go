// Package kit holds the transport plumbing shared by the diagnostics
// HTTP API and the MCP tool surface: the Endpoint function type,
// middleware chaining, and an MCP tool registration adapter.
package kit

import "context"

// Endpoint is a transport-agnostic request handler. Both the HTTP and
// MCP surfaces decode into a typed request and call an Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first listed runs outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
