// Package verdict defines the error taxonomy and the terminal result
// shape every pipeline stage folds into.
package verdict

import "github.com/dominikschlosser/dgc-verify/internal/healthcert"

// ErrorKind discriminates why a verdict is invalid. The zero value means
// "no error" — Verdict.Valid ⇔ ErrorKind == "".
type ErrorKind string

const (
	None ErrorKind = ""

	// Decode-layer failures.
	InvalidSchemePrefix    ErrorKind = "INVALID_SCHEME_PREFIX"
	Base45DecodingFailed   ErrorKind = "BASE_45_DECODING_FAILED"
	DecompressionFailed    ErrorKind = "DECOMPRESSION_FAILED"
	CoseDeserializationFailed ErrorKind = "COSE_DESERIALIZATION_FAILED"
	CborDeserializationFailed ErrorKind = "CBOR_DESERIALIZATION_FAILED"

	// Validity failure, but decoded data is still surfaced.
	CwtExpired ErrorKind = "CWT_EXPIRED"

	// Trust-lookup failures.
	KeyNotInTrustList       ErrorKind = "KEY_NOT_IN_TRUST_LIST"
	PublicKeyExpired        ErrorKind = "PUBLIC_KEY_EXPIRED"
	UnsuitablePublicKeyType ErrorKind = "UNSUITABLE_PUBLIC_KEY_TYPE"
	KeyCreationError        ErrorKind = "KEY_CREATION_ERROR"

	// Cryptographic failure.
	SignatureInvalid ErrorKind = "SIGNATURE_INVALID"

	// Refresh failure; Cause carries a free-form string for logs.
	TrustServiceError ErrorKind = "TRUST_SERVICE_ERROR"

	// Upstream capture errors, passed through rather than produced here.
	QRCodeError   ErrorKind = "QR_CODE_ERROR"
	UserCancelled ErrorKind = "USER_CANCELLED"
)

// Meta is the subset of CWT claims a caller may want to display alongside
// the decoded certificate.
type Meta struct {
	Issuer    string
	IssuedAt  int64
	ExpiresAt int64
}

// Verdict is the terminal result of Verify. Valid is true iff Error is
// None. Meta and Certificate are populated from stage 6 onward even when
// the verdict is invalid (CWT_EXPIRED, trust-lookup failures, and
// SIGNATURE_INVALID all still carry the decoded certificate).
type Verdict struct {
	Valid       bool
	Meta        *Meta
	Certificate *healthcert.EuHealthCert
	Error       ErrorKind
	Cause       string // free-form detail for TRUST_SERVICE_ERROR, for logs only
}

// Fail builds a terminal failure verdict, optionally carrying the
// partially decoded meta/certificate (stages 6-8; nil before that).
func Fail(kind ErrorKind, meta *Meta, cert *healthcert.EuHealthCert) Verdict {
	return Verdict{Valid: false, Error: kind, Meta: meta, Certificate: cert}
}

// FailWithCause is Fail for TRUST_SERVICE_ERROR, which carries a cause.
func FailWithCause(kind ErrorKind, cause string, meta *Meta, cert *healthcert.EuHealthCert) Verdict {
	v := Fail(kind, meta, cert)
	v.Cause = cause
	return v
}

// Success builds the valid=true, error=none terminal verdict.
func Success(meta Meta, cert healthcert.EuHealthCert) Verdict {
	return Verdict{Valid: true, Meta: &meta, Certificate: &cert}
}
