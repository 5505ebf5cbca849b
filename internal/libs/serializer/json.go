// Package serializer provides serialization interfaces and implementations
// for converting snapshot payloads to and from byte slices. It is used by
// the management API and the external sinks to encode published statistics.
//
// The package includes a default JSON serializer implementation that uses
// the goccy/go-json library for efficient marshaling and unmarshaling.
package serializer

import (
	"github.com/goccy/go-json"

	"github.com/hyp3rd/ewrap"
)

// DefaultJSONSerializer encodes snapshots as JSON.
type DefaultJSONSerializer struct{}

// Marshal serializes the given value into a byte slice.
// @param v.
func (*DefaultJSONSerializer) Marshal(v any) ([]byte, error) { // receiver omitted (unused)
	data, err := json.Marshal(&v)
	if err != nil {
		return nil, ewrap.Wrap(err, "failed to marshal json")
	}

	return data, nil
}

// Unmarshal deserializes the given byte slice into the given value.
// @param data
// @param v.
func (*DefaultJSONSerializer) Unmarshal(data []byte, v any) error { // receiver omitted (unused)
	err := json.Unmarshal(data, &v)
	if err != nil {
		return ewrap.Wrap(err, "failed to unmarshal json")
	}

	return nil
}

// ContentType returns the MIME type of JSON payloads.
func (*DefaultJSONSerializer) ContentType() string { return "application/json" }
