// Package middleware contains service middlewares for the apm monitor.
package middleware

import (
	"context"
	"time"

	"github.com/hyp3rd/apm"
	"github.com/hyp3rd/apm/pkg/stats"
)

// Logger describes a logging interface allowing to implement different external, or custom logger.
// Tested with logrus, and Uber's Zap (high-performance), but should work with any other logger that matches the interface.
type Logger interface {
	Infof(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// LoggingMiddleware logs every service call except Record with its duration.
// Must implement the apm.Service interface.
type LoggingMiddleware struct {
	next   apm.Service
	logger Logger
}

// NewLoggingMiddleware returns a new LoggingMiddleware.
func NewLoggingMiddleware(next apm.Service, logger Logger) apm.Service {
	return &LoggingMiddleware{next: next, logger: logger}
}

// Track logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) Track(ctx context.Context, name string) error {
	defer func(begin time.Time) {
		mw.logger.Infof("method Track took: %s", time.Since(begin))
	}(time.Now())

	err := mw.next.Track(ctx, name)
	if err != nil {
		mw.logger.Errorf("method Track failed for server %s: %v", name, err)
	}

	return err
}

// Forget logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) Forget(ctx context.Context, name string) error {
	defer func(begin time.Time) {
		mw.logger.Infof("method Forget took: %s", time.Since(begin))
	}(time.Now())

	err := mw.next.Forget(ctx, name)
	if err != nil {
		mw.logger.Errorf("method Forget failed for server %s: %v", name, err)
	}

	return err
}

// Record forwards without logging the sample itself: it sits on the hot
// path, one log line per response would swamp any logger.
func (mw LoggingMiddleware) Record(ctx context.Context, name string, rtt time.Duration) error {
	return mw.next.Record(ctx, name, rtt)
}

// Stats logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) Stats(ctx context.Context, name string, ps *stats.PercentileStats) (bool, error) {
	defer func(begin time.Time) {
		mw.logger.Infof("method Stats took: %s", time.Since(begin))
	}(time.Now())

	changed, err := mw.next.Stats(ctx, name, ps)
	if err != nil {
		mw.logger.Errorf("method Stats failed for server %s: %v", name, err)
	}

	return changed, err
}

// Snapshot logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) Snapshot(ctx context.Context, name string) (*stats.Snapshot, error) {
	defer func(begin time.Time) {
		mw.logger.Infof("method Snapshot took: %s", time.Since(begin))
	}(time.Now())

	snap, err := mw.next.Snapshot(ctx, name)
	if err != nil {
		mw.logger.Errorf("method Snapshot failed for server %s: %v", name, err)
	}

	return snap, err
}

// Servers logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) Servers(ctx context.Context) []string {
	defer func(begin time.Time) {
		mw.logger.Infof("method Servers took: %s", time.Since(begin))
	}(time.Now())

	return mw.next.Servers(ctx)
}
