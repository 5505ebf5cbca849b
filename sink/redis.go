// Package sink exports published percentile snapshots to external stores.
// Sinks observe the service read-side only; they can never slow down the
// sample producers or the calculating executor.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/redis/go-redis/v9"

	"github.com/hyp3rd/apm"
	"github.com/hyp3rd/apm/internal/libs/serializer"
	"github.com/hyp3rd/apm/internal/sentinel"
)

const (
	defaultInterval = 10 * time.Second
	defaultKey      = "apm:stats"
)

// RedisOption configures the redis sink.
type RedisOption func(*RedisSink)

// WithInterval sets how often snapshots are exported.
func WithInterval(d time.Duration) RedisOption {
	return func(s *RedisSink) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithKey sets the hash key snapshots are stored under.
func WithKey(key string) RedisOption {
	return func(s *RedisSink) {
		if key != "" {
			s.key = key
		}
	}
}

// WithSerializer selects the payload encoding from the serializer registry
// ("default", "msgpack", "cbor").
func WithSerializer(name string) RedisOption {
	return func(s *RedisSink) { s.serializerName = name }
}

// RedisSink periodically writes the latest snapshot of every tracked server
// into a Redis hash, one field per server. Fields are only rewritten when
// the published sequence moved since the last export.
type RedisSink struct {
	client         *redis.Client
	svc            apm.Service
	ser            serializer.ISerializer
	serializerName string
	interval       time.Duration
	key            string

	seen map[string]uint64 // last exported sequence per server

	mu      sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
	started bool
}

// NewRedisSink builds a sink over an existing client.
func NewRedisSink(client *redis.Client, svc apm.Service, opts ...RedisOption) (*RedisSink, error) {
	if client == nil {
		return nil, ewrap.Wrap(sentinel.ErrNilClient, "redis sink")
	}

	s := &RedisSink{
		client:         client,
		svc:            svc,
		serializerName: "default",
		interval:       defaultInterval,
		key:            defaultKey,
		seen:           make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}

	ser, err := serializer.New(s.serializerName)
	if err != nil {
		return nil, err
	}

	s.ser = ser

	return s, nil
}

// Start launches the export loop.
func (s *RedisSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return sentinel.ErrAlreadyStarted
	}

	s.started = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(ctx)

	return nil
}

// Stop terminates the export loop and waits for it to finish.
func (s *RedisSink) Stop() {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()

		return
	}

	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.done
}

func (s *RedisSink) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.export(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// export writes the changed snapshots. Export errors are dropped on the
// floor: the sink is best-effort and the next tick retries anyway.
func (s *RedisSink) export(ctx context.Context) {
	for _, name := range s.svc.Servers(ctx) {
		snap, err := s.svc.Snapshot(ctx, name)
		if err != nil {
			continue
		}

		if seq, ok := s.seen[name]; ok && seq == snap.Seq {
			continue
		}

		payload, err := s.ser.Marshal(snap)
		if err != nil {
			continue
		}

		if err := s.client.HSet(ctx, s.key, name, payload).Err(); err != nil {
			continue
		}

		s.seen[name] = snap.Seq
	}
}
