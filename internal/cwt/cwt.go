// Package cwt interprets a COSE payload as a CBOR Web Token (RFC 8392) and
// projects its health-certificate claim to a typed record.
package cwt

import (
	"fmt"

	"github.com/dominikschlosser/dgc-verify/internal/cbor"
	"github.com/dominikschlosser/dgc-verify/internal/healthcert"
)

const (
	claimIssuer    = int64(1)
	claimExpires   = int64(4)
	claimIssuedAt  = int64(6)
	claimHCert     = int64(-260)
	hcertEuDGCSlot = int64(1)
)

// CWT is the projected set of claims this decoder cares about. Unknown
// claims are ignored by design (§4.2).
type CWT struct {
	Issuer       string
	ExpiresAt    int64
	IssuedAt     int64 // defaults to 0 if absent, per spec
	HealthCert   healthcert.EuHealthCert
	hasExpiresAt bool
}

// Parse decodes COSE payload bytes (already unwrapped from any bstr
// framing) as a CWT and projects its "-260"/"1" claim to an EuHealthCert.
//
// It fails with a generic error — the pipeline is responsible for mapping
// any failure here to CBOR_DESERIALIZATION_FAILED — when the payload is
// not a CBOR map, "-260" is missing or not a map, or the nested health
// certificate cannot be projected.
func Parse(payload []byte) (*CWT, error) {
	var claims map[int64]cbor.RawMessage
	if err := cbor.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("cwt: payload is not a CBOR map: %w", err)
	}

	c := &CWT{}

	if raw, ok := claims[claimIssuer]; ok {
		var iss string
		if err := cbor.Unmarshal(raw, &iss); err == nil {
			c.Issuer = iss
		}
	}

	if raw, ok := claims[claimExpires]; ok {
		var exp int64
		if err := cbor.Unmarshal(raw, &exp); err == nil {
			c.ExpiresAt = exp
			c.hasExpiresAt = true
		}
	}

	if raw, ok := claims[claimIssuedAt]; ok {
		var iat int64
		if err := cbor.Unmarshal(raw, &iat); err == nil {
			c.IssuedAt = iat
		}
	}

	hcertRaw, ok := claims[claimHCert]
	if !ok {
		return nil, fmt.Errorf("cwt: missing hcert claim (-260)")
	}
	var hcertContainer map[int64]cbor.RawMessage
	if err := cbor.Unmarshal(hcertRaw, &hcertContainer); err != nil {
		return nil, fmt.Errorf("cwt: hcert claim is not a map: %w", err)
	}
	dgcRaw, ok := hcertContainer[hcertEuDGCSlot]
	if !ok {
		return nil, fmt.Errorf("cwt: hcert claim missing EU DGC slot (1)")
	}

	cert, err := projectHealthCert(dgcRaw)
	if err != nil {
		return nil, err
	}
	c.HealthCert = *cert

	return c, nil
}

func projectHealthCert(raw []byte) (*healthcert.EuHealthCert, error) {
	var cert healthcert.EuHealthCert
	if err := cbor.Unmarshal(raw, &cert); err != nil {
		return nil, fmt.Errorf("cwt: decoding EuHealthCert: %w", err)
	}

	if cert.SchemaVersion == "" {
		return nil, fmt.Errorf("cwt: missing ver")
	}
	if cert.Name.FamilyName == "" && cert.Name.FamilyNameTransliterated == "" {
		return nil, fmt.Errorf("cwt: missing family name (fn/fnt)")
	}
	if cert.Name.GivenName == "" && cert.Name.GivenNameTransliterated == "" {
		return nil, fmt.Errorf("cwt: missing given name (gn/gnt)")
	}
	if cert.DateOfBirth == "" {
		return nil, fmt.Errorf("cwt: missing dob")
	}

	present := 0
	if len(cert.Vaccinations) > 0 {
		present++
		cert.Type = healthcert.CertificationVaccination
	}
	if len(cert.Tests) > 0 {
		present++
		cert.Type = healthcert.CertificationTest
	}
	if len(cert.Recoveries) > 0 {
		present++
		cert.Type = healthcert.CertificationRecovery
	}
	if present != 1 {
		return nil, fmt.Errorf("cwt: exactly one of v/t/r must be present and non-empty, got %d", present)
	}

	return &cert, nil
}

// IsValid reports whether now lies in [issued-at, expires-at]. Missing
// expires-at is always invalid (CWT_EXPIRED); missing issued-at is treated
// as 0. Whether issued-at is actually enforced is controlled by
// strictIssuedAt (see Config.StrictIssuedAt) — the source computes but
// does not consume issuedAt, so this defaults to false at the call site.
func (c *CWT) IsValid(now int64, strictIssuedAt bool) bool {
	if !c.hasExpiresAt {
		return false
	}
	if now > c.ExpiresAt {
		return false
	}
	if strictIssuedAt && now < c.IssuedAt {
		return false
	}
	return true
}
