// Package cbor centralizes the CBOR decode mode used across the decoder
// pipeline (CWT payloads, health certificates, trust-list bundles) so every
// consumer shares the same integer-conversion and tag-handling policy.
package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// DecMode is the shared decode mode: signed integers decode to int64 even
// when CBOR encodes them as the unsigned major type, which keeps map-key
// switches simple for callers that only expect small integers.
var DecMode cbor.DecMode

func init() {
	var err error
	DecMode, err = cbor.DecOptions{
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Unmarshal decodes data using the shared decode mode.
func Unmarshal(data []byte, v any) error {
	return DecMode.Unmarshal(data, v)
}

// Marshal re-encodes a value with definite-length CBOR, which is what the
// COSE Sig_structure reconstruction and CBOR re-encoding for persistence
// both require.
func Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// RawMessage is a slice of undecoded CBOR, used to hold the protected
// header bytes of a COSE_Sign1 array element without re-parsing it.
type RawMessage = cbor.RawMessage

// Tag and RawTag re-export the fxamacker/cbor tag types so callers never
// import the underlying library directly.
type Tag = cbor.Tag
type RawTag = cbor.RawTag

// UnwrapTag24 decodes CBOR tag 24 ("encoded CBOR data item"), returning the
// inner bytes. If data is not tag-24-wrapped, it is returned unchanged —
// several COSE payload fields in the wild are bstr-wrapped without the tag.
func UnwrapTag24(data []byte) ([]byte, error) {
	var raw RawTag
	if err := DecMode.Unmarshal(data, &raw); err != nil {
		return data, nil
	}
	if raw.Number != 24 {
		return data, nil
	}

	var inner []byte
	if err := DecMode.Unmarshal(raw.Content, &inner); err != nil {
		return nil, fmt.Errorf("cbor: unwrapping tag 24: %w", err)
	}
	return inner, nil
}

// DecodeAny decodes CBOR bytes into a generic Go value (map[any]any,
// []any, or a scalar), for callers that need to walk an unknown schema.
func DecodeAny(data []byte) (any, error) {
	var v any
	if err := DecMode.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
