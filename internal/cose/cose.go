// Package cose parses and verifies COSE_Sign1 structures (RFC 8152),
// the signing envelope shared by health certificates and trust-list
// bundles alike.
package cose

import (
	"fmt"

	gocose "github.com/veraison/go-cose"

	"github.com/dominikschlosser/dgc-verify/internal/cbor"
)

// Algorithm identifies a COSE signature algorithm. Only the two values the
// ecosystem actually uses for health certificates are honored; anything
// else is a signature failure rather than a parse failure, per spec.
type Algorithm int64

const (
	AlgorithmUnknown Algorithm = 0
	AlgorithmES256   Algorithm = -7
	AlgorithmPS256   Algorithm = -37
)

const (
	labelAlg = int64(1)
	labelKid = int64(4)
)

// Sign1 is a parsed COSE_Sign1 four-tuple, with both the raw encoded form
// and the projected fields the pipeline inspects. Verify uses only the
// projected fields.
type Sign1 struct {
	Raw             []byte // the input envelope in tag-18-wrapped form (a bare 4-array input is wrapped)
	ProtectedBytes  []byte // the bstr content of the protected header
	ProtectedHeader map[int64]any
	Unprotected     map[int64]any
	Payload         []byte
	Signature       []byte
}

// ParseSign1 accepts either CBOR tag 18 wrapping a 4-array, or the bare
// 4-array, and projects the protected/unprotected headers, payload, and
// signature. It does not verify anything.
func ParseSign1(data []byte) (*Sign1, error) {
	arrayBytes, rawForVerify, err := unwrapEnvelope(data)
	if err != nil {
		return nil, err
	}

	var elems []cbor.RawMessage
	if err := cbor.Unmarshal(arrayBytes, &elems); err != nil {
		return nil, fmt.Errorf("cose: decoding COSE_Sign1 array: %w", err)
	}
	if len(elems) != 4 {
		return nil, fmt.Errorf("cose: expected 4-element COSE_Sign1 array, got %d", len(elems))
	}

	s := &Sign1{Raw: rawForVerify}

	var protectedBytes []byte
	if err := cbor.Unmarshal(elems[0], &protectedBytes); err != nil {
		return nil, fmt.Errorf("cose: protected header is not a bstr: %w", err)
	}
	s.ProtectedBytes = protectedBytes
	if len(protectedBytes) > 0 {
		var ph map[int64]any
		if err := cbor.Unmarshal(protectedBytes, &ph); err != nil {
			return nil, fmt.Errorf("cose: decoding protected header map: %w", err)
		}
		s.ProtectedHeader = ph
	}

	var uph map[int64]any
	if err := cbor.Unmarshal(elems[1], &uph); err == nil {
		s.Unprotected = uph
	}

	var payload []byte
	if err := cbor.Unmarshal(elems[2], &payload); err != nil {
		return nil, fmt.Errorf("cose: payload is not a bstr: %w", err)
	}
	// Payload may itself be a CBOR-encoded bstr-wrapped map (bstr-in-bstr);
	// callers unwrap that at the CWT layer, not here.
	s.Payload = payload

	var sig []byte
	if err := cbor.Unmarshal(elems[3], &sig); err != nil {
		return nil, fmt.Errorf("cose: signature is not a bstr: %w", err)
	}
	s.Signature = sig

	return s, nil
}

// unwrapEnvelope returns (bare-4-array bytes for internal parsing,
// the tag-18-wrapped envelope kept as Sign1.Raw).
func unwrapEnvelope(data []byte) (arrayBytes []byte, rawForVerify []byte, err error) {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err == nil && tag.Number == 18 {
		return tag.Content, data, nil
	}
	// Bare array: also wrap it in tag 18, so Raw holds the tagged form.
	tagged, err2 := cbor.Marshal(cbor.Tag{Number: 18, Content: cbor.RawMessage(data)})
	if err2 != nil {
		return data, data, nil
	}
	return data, tagged, nil
}

// Algorithm returns the protected header's algorithm label, or
// AlgorithmUnknown if absent or not one of the two supported values.
func (s *Sign1) Algorithm() Algorithm {
	raw, ok := s.ProtectedHeader[labelAlg]
	if !ok {
		return AlgorithmUnknown
	}
	v, ok := toInt64(raw)
	if !ok {
		return AlgorithmUnknown
	}
	switch Algorithm(v) {
	case AlgorithmES256, AlgorithmPS256:
		return Algorithm(v)
	default:
		return AlgorithmUnknown
	}
}

// KeyID returns the `kid` label, preferring the protected header over the
// unprotected one, truncated to 8 bytes for lookup equality (trust-list
// key ids are commonly truncated fingerprints).
func (s *Sign1) KeyID() []byte {
	if kid := kidFrom(s.ProtectedHeader); kid != nil {
		return truncate(kid, 8)
	}
	if kid := kidFrom(s.Unprotected); kid != nil {
		return truncate(kid, 8)
	}
	return nil
}

func kidFrom(header map[int64]any) []byte {
	raw, ok := header[labelKid]
	if !ok {
		return nil
	}
	b, ok := raw.([]byte)
	if !ok {
		return nil
	}
	return b
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// SigStructure reconstructs the exact byte sequence that was signed:
// the CBOR-encoded array ["Signature1", protected-header-bytes, h'', payload-bytes].
// It is recomputed deterministically from the parsed fields rather than
// trusted from input framing, so that a tampered payload or protected
// header is reflected here even if the outer envelope still parses.
func (s *Sign1) SigStructure() ([]byte, error) {
	arr := []any{
		"Signature1",
		s.ProtectedBytes,
		[]byte{},
		s.Payload,
	}
	b, err := cbor.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("cose: encoding Sig_structure: %w", err)
	}
	return b, nil
}

// Verify checks the COSE_Sign1 signature against pubKey over the
// Sig_structure rebuilt from the parsed fields (see SigStructure), so a
// Payload or ProtectedBytes changed after parsing fails verification.
// Only ES256 and PS256 are honored; any other algorithm, or any signature
// mismatch, returns false with a nil error. An error is returned only when
// no verifier can be built for pubKey or the Sig_structure cannot be
// encoded; the pipeline maps both outcomes to SIGNATURE_INVALID.
func (s *Sign1) Verify(pubKey any) (bool, error) {
	alg := s.Algorithm()
	if alg == AlgorithmUnknown {
		return false, nil
	}

	var gocoseAlg gocose.Algorithm
	switch alg {
	case AlgorithmES256:
		gocoseAlg = gocose.AlgorithmES256
	case AlgorithmPS256:
		gocoseAlg = gocose.AlgorithmPS256
	default:
		return false, nil
	}

	verifier, err := gocose.NewVerifier(gocoseAlg, pubKey)
	if err != nil {
		return false, fmt.Errorf("cose: creating verifier: %w", err)
	}

	toBeSigned, err := s.SigStructure()
	if err != nil {
		return false, err
	}

	if err := verifier.Verify(toBeSigned, s.Signature); err != nil {
		return false, nil
	}
	return true, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
