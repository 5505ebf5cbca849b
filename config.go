package apm

import (
	"runtime"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/apm/internal/sentinel"
	"github.com/hyp3rd/apm/pkg/stats"
)

const (
	// MinWindow is the shortest allowed observation window.
	MinWindow = 60 * time.Second
	// MaxWindow is the longest allowed observation window.
	MaxWindow = 3600 * time.Second
	// DefaultWindow is the observation window used when none is configured.
	DefaultWindow = 300 * time.Second

	// MinScale is the smallest allowed window scale.
	MinScale = 1
	// MaxScale is the largest allowed window scale.
	MaxScale = 50
	// DefaultScale is the window scale used when none is configured.
	DefaultScale = 5

	// minInterval is the shortest ring interval the monitor accepts.
	minInterval = 5 * time.Second

	// DefaultTimerPeriod is the periodicity of the calculating executor.
	DefaultTimerPeriod = 50 * time.Millisecond

	// DefaultQueueCapacity is the per-shard ingest queue capacity.
	DefaultQueueCapacity = 2048
)

// Config carries the monitor's tunables. Values are read once when the
// monitor is created; the percentile rank set in particular is fixed for
// the monitor's whole lifetime.
type Config struct {
	// Window is the length of the sliding observation window.
	Window time.Duration
	// Scale is the number of ring entries the window is split into.
	Scale int
	// Percentiles is the globally observed percentile rank set, in percent.
	Percentiles []uint32
	// TimerPeriod is the periodicity of the calculation timer.
	TimerPeriod time.Duration
	// QueueShards is the number of ingest queue shards; defaults to the
	// number of usable CPUs.
	QueueShards int
	// QueueCapacity is the capacity of each ingest queue shard.
	QueueCapacity int
	// Clock is the tick source; defaults to a monotonic millisecond clock.
	Clock Clock
}

// NewConfig returns a Config with the default values.
func NewConfig() *Config {
	return &Config{
		Window:        DefaultWindow,
		Scale:         DefaultScale,
		Percentiles:   stats.DefaultPercentiles,
		TimerPeriod:   DefaultTimerPeriod,
		QueueShards:   runtime.GOMAXPROCS(0),
		QueueCapacity: DefaultQueueCapacity,
	}
}

// validate checks the bounds and resolves the interval length in ticks.
// The window is snapped to scale*interval afterwards.
func (c *Config) validate() (uint64, error) {
	if c.Window < MinWindow || c.Window > MaxWindow {
		return 0, ewrap.Wrapf(sentinel.ErrInvalidWindow, "window %s", c.Window)
	}

	if c.Scale < MinScale || c.Scale > MaxScale {
		return 0, ewrap.Wrapf(sentinel.ErrInvalidScale, "scale %d", c.Scale)
	}

	// A single entry cannot roll a window; promote to two.
	if c.Scale == 1 {
		c.Scale = 2
	}

	windowTicks := uint64(c.Window / time.Second * TicksPerSecond)

	interval := windowTicks / uint64(c.Scale)
	if windowTicks%uint64(c.Scale) != 0 {
		interval++
	}

	if interval < uint64(minInterval/time.Second*TicksPerSecond) {
		return 0, ewrap.Wrapf(sentinel.ErrIntervalTooShort, "window %s scale %d", c.Window, c.Scale)
	}

	c.Window = time.Duration(interval*uint64(c.Scale)) * time.Millisecond

	for _, rank := range c.Percentiles {
		if rank > 100 {
			return 0, ewrap.Wrapf(sentinel.ErrInvalidPercentile, "rank %d", rank)
		}
	}

	return interval, nil
}
