// Package sentinel provides standardized error definitions for the apm
// module. Centralizing them keeps error handling and messaging consistent
// across the monitor, the management API and the sinks.
//
// All errors are created using the ewrap package to provide enhanced error
// wrapping and context capabilities.
package sentinel

import (
	"github.com/hyp3rd/ewrap"
)

var (
	// ErrInvalidWindow is returned when the observation window is out of limits.
	ErrInvalidWindow = ewrap.New("window is out of limits")

	// ErrInvalidScale is returned when the window scale is out of limits.
	ErrInvalidScale = ewrap.New("scale is out of limits")

	// ErrIntervalTooShort is returned when window/scale yields an interval
	// shorter than the supported minimum.
	ErrIntervalTooShort = ewrap.New("interval is too short")

	// ErrInvalidPercentile is returned when a configured percentile rank is
	// outside [0, 100].
	ErrInvalidPercentile = ewrap.New("percentile rank out of range")

	// ErrNotStarted is returned when an operation requires a started monitor.
	ErrNotStarted = ewrap.New("monitor not started")

	// ErrAlreadyStarted is returned when the monitor is started twice.
	ErrAlreadyStarted = ewrap.New("monitor already started")

	// ErrPercentileMismatch is returned when a request vector does not match
	// the globally configured percentile set.
	ErrPercentileMismatch = ewrap.New("percentile set mismatch")

	// ErrServerNotTracked is returned when a server name is unknown.
	ErrServerNotTracked = ewrap.New("server not tracked")

	// ErrServerAlreadyTracked is returned when a server name is tracked twice.
	ErrServerAlreadyTracked = ewrap.New("server already tracked")

	// ErrSerializerNotFound is returned when a serializer is not registered.
	ErrSerializerNotFound = ewrap.New("serializer not found")

	// ErrParamCannotBeEmpty is returned when a parameter cannot be empty.
	ErrParamCannotBeEmpty = ewrap.New("param cannot be empty")

	// ErrNilClient is returned when a nil client is passed to a sink.
	ErrNilClient = ewrap.New("nil client")
)
