package apm

import "time"

// Option is a function type that configures the monitor's Config.
type Option func(*Config)

// ApplyOptions applies the given options to the config.
func ApplyOptions(cfg *Config, options ...Option) {
	for _, option := range options {
		option(cfg)
	}
}

// WithWindow sets the length of the sliding observation window.
func WithWindow(window time.Duration) Option {
	return func(cfg *Config) {
		cfg.Window = window
	}
}

// WithScale sets the number of ring entries the window is split into.
func WithScale(scale int) Option {
	return func(cfg *Config) {
		cfg.Scale = scale
	}
}

// WithPercentiles sets the globally observed percentile rank set. The set
// is fixed for the monitor's lifetime; every stats consumer must request
// the same ranks.
func WithPercentiles(ranks []uint32) Option {
	return func(cfg *Config) {
		cfg.Percentiles = ranks
	}
}

// WithTimerPeriod sets the periodicity of the calculation timer.
func WithTimerPeriod(period time.Duration) Option {
	return func(cfg *Config) {
		if period > 0 {
			cfg.TimerPeriod = period
		}
	}
}

// WithQueueShards sets the number of ingest queue shards.
func WithQueueShards(shards int) Option {
	return func(cfg *Config) {
		if shards > 0 {
			cfg.QueueShards = shards
		}
	}
}

// WithQueueCapacity sets the capacity of each ingest queue shard.
func WithQueueCapacity(capacity int) Option {
	return func(cfg *Config) {
		if capacity > 0 {
			cfg.QueueCapacity = capacity
		}
	}
}

// WithClock sets the tick source, mainly useful in tests.
func WithClock(clock Clock) Option {
	return func(cfg *Config) {
		cfg.Clock = clock
	}
}
