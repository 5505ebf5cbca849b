package serializer

import (
	"github.com/ugorji/go/codec"

	"github.com/hyp3rd/ewrap"
)

// CBORSerializer encodes snapshots as CBOR via the ugorji codec.
type CBORSerializer struct{}

var cborHandle codec.CborHandle

// Marshal serializes the given value into a byte slice.
// @param v.
func (*CBORSerializer) Marshal(v any) ([]byte, error) { // receiver omitted (unused)
	var data []byte

	err := codec.NewEncoderBytes(&data, &cborHandle).Encode(v)
	if err != nil {
		return nil, ewrap.Wrap(err, "failed to marshal cbor")
	}

	return data, nil
}

// Unmarshal deserializes the given byte slice into the given value.
// @param data
// @param v.
func (*CBORSerializer) Unmarshal(data []byte, v any) error { // receiver omitted (unused)
	err := codec.NewDecoderBytes(data, &cborHandle).Decode(v)
	if err != nil {
		return ewrap.Wrap(err, "failed to unmarshal cbor")
	}

	return nil
}

// ContentType returns the MIME type of CBOR payloads.
func (*CBORSerializer) ContentType() string { return "application/cbor" }
