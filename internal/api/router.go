// Package api exposes the reconciler over a small JSON HTTP API.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcourtman/buttonclicker/internal/entitlements"
	"github.com/rcourtman/buttonclicker/internal/reconciler"
)

// Reconciler is the part of the reconciler the API drives.
type Reconciler interface {
	Snapshot(ctx context.Context) (entitlements.Record, error)
	Purchase(ctx context.Context, sku string) (string, error)
	ConsumeCredit(ctx context.Context) (int64, error)
	Phase() reconciler.Phase
	UserID() string
}

// ClientCounter reports connected push clients.
type ClientCounter interface {
	GetClientCount() int
}

// Router wires HTTP routes to the reconciler.
type Router struct {
	mux     *http.ServeMux
	rec     Reconciler
	clients ClientCounter
	version string
}

// Options configures NewRouter. WebSocket may be nil.
type Options struct {
	Reconciler Reconciler
	WebSocket  http.Handler
	Clients    ClientCounter
	Version    string
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	r := &Router{
		mux:     http.NewServeMux(),
		rec:     opts.Reconciler,
		clients: opts.Clients,
		version: opts.Version,
	}

	r.mux.HandleFunc("GET /api/health", r.handleHealth)
	r.mux.HandleFunc("GET /api/entitlements", r.handleEntitlements)
	r.mux.HandleFunc("POST /api/purchases", r.handlePurchase)
	r.mux.HandleFunc("POST /api/clicks", r.handleClick)
	r.mux.Handle("GET /metrics", promhttp.Handler())
	if opts.WebSocket != nil {
		r.mux.Handle("GET /ws", opts.WebSocket)
	}

	return ErrorHandler(r.mux)
}
