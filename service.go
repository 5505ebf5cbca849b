package apm

import (
	"context"
	"time"

	"github.com/hyp3rd/apm/pkg/stats"
)

// Service is the name-keyed interface of the monitor.
// It enables middleware to be added to the service.
type Service interface {
	// Track registers a server by name and starts collecting its stats.
	Track(ctx context.Context, name string) error
	// Forget unregisters a server and releases its tracker.
	Forget(ctx context.Context, name string) error
	// Record stores one response-time sample for a tracked server.
	Record(ctx context.Context, name string, rtt time.Duration) error
	// Stats fills ps with the latest published percentile vector and
	// reports whether it changed since the caller's previous read.
	Stats(ctx context.Context, name string, ps *stats.PercentileStats) (bool, error)
	// Snapshot returns an export-friendly view of the latest published vector.
	Snapshot(ctx context.Context, name string) (*stats.Snapshot, error)
	// Servers returns the names of all tracked servers.
	Servers(ctx context.Context) []string
}

// Middleware describes a service middleware.
type Middleware func(Service) Service

// ApplyMiddleware applies middlewares to a service.
func ApplyMiddleware(svc Service, mw ...Middleware) Service {
	// Apply each middleware in the chain
	for _, m := range mw {
		svc = m(svc)
	}
	// Return the decorated service
	return svc
}
