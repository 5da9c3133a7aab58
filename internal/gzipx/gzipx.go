// Package gzipx wraps RFC 1952 gzip inflate/deflate for the decoder
// pipeline. The format is fully standardized and already implemented
// bit-for-bit by the standard library, so this is a thin, explicit
// wrapper rather than a reimplementation.
package gzipx

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Inflate decompresses a single gzip member. compress/gzip validates the
// header magic, the DEFLATE stream, the trailing CRC32, and the ISIZE
// field, surfacing any mismatch as an error.
func Inflate(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzipx: opening gzip stream: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzipx: inflating: %w", err)
	}
	return out, nil
}

// Deflate compresses data as a single gzip member, used by test fixtures
// that need to synthesize conformant encoded certificates.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzipx: deflating: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzipx: closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
