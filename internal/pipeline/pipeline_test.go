package pipeline_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dominikschlosser/dgc-verify/internal/base45"
	"github.com/dominikschlosser/dgc-verify/internal/cbor"
	"github.com/dominikschlosser/dgc-verify/internal/clock"
	"github.com/dominikschlosser/dgc-verify/internal/gzipx"
	"github.com/dominikschlosser/dgc-verify/internal/healthcert"
	"github.com/dominikschlosser/dgc-verify/internal/pipeline"
	"github.com/dominikschlosser/dgc-verify/internal/rulesengine"
	"github.com/dominikschlosser/dgc-verify/internal/storage"
	"github.com/dominikschlosser/dgc-verify/internal/testsupport"
	"github.com/dominikschlosser/dgc-verify/internal/trust"
	"github.com/dominikschlosser/dgc-verify/internal/verdict"
)

func vaccinationHealthCertCBOR(t *testing.T) []byte {
	t.Helper()
	hcert := map[string]any{
		"ver": "1.3.0",
		"nam": map[string]any{"fnt": "MUSTERMANN", "gnt": "ERIKA"},
		"dob": "1964-08-12",
		"v": []any{
			map[string]any{
				"tg": "840539006", "vp": "1119349007", "mp": "EU/1/20/1528",
				"ma": "ORG-100030215", "dn": 2, "sd": 2, "dt": "2021-02-18",
				"co": "DE", "is": "Robert Koch-Institut", "ci": "URN:UVCI:01:DE:12345",
			},
		},
	}
	hcertBytes, err := cbor.Marshal(hcert)
	require.NoError(t, err)

	claims := map[int64]any{
		1: "DE",
		4: int64(1893456000),
		6: int64(1613606400),
		-260: map[int64]cbor.RawMessage{1: hcertBytes},
	}
	data, err := cbor.Marshal(claims)
	require.NoError(t, err)
	return data
}

func buildHC1(t *testing.T, priv *ecdsa.PrivateKey, kid []byte, cwtPayload []byte) string {
	t.Helper()
	raw, err := testsupport.SignCOSE(priv, kid, cwtPayload)
	require.NoError(t, err)
	gz, err := gzipx.Deflate(raw)
	require.NoError(t, err)
	return "HC1:" + base45.Encode(gz)
}

func trustEntryDER(t *testing.T, priv *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return der
}

func newTestPipeline(t *testing.T, trustList trust.List, now int64) *pipeline.Pipeline {
	t.Helper()
	anchorPriv, err := testsupport.GenerateKey()
	require.NoError(t, err)
	anchorPEM, err := testsupport.SelfSignedCertPEM(anchorPriv)
	require.NoError(t, err)

	payload, err := cbor.Marshal(trustList)
	require.NoError(t, err)
	bundle, err := testsupport.SignCOSE(anchorPriv, nil, payload)
	require.NoError(t, err)

	fetcher := &fakeFetcher{body: bundle}

	p, err := pipeline.New(pipeline.Config{
		TrustlistURL:    "https://example.test/trustlist",
		TrustlistAnchor: anchorPEM,
		Clock:           clock.NewFixed(now),
		Fetcher:         fetcher,
		Keystore:        storage.NewMemoryKeystore(),
		Files:           storage.NewMemoryFileIO(),
	})
	require.NoError(t, err)
	return p
}

type fakeFetcher struct{ body []byte }

func (f *fakeFetcher) Get(_ context.Context, _ string) (int, []byte, error) {
	return 200, f.body, nil
}

// urlFetcher serves a distinct signed bundle body per URL, for tests that
// configure the trust-list, business-rules, and value-sets stores
// simultaneously (each fetches its own URL).
type urlFetcher struct{ bodies map[string][]byte }

func (f *urlFetcher) Get(_ context.Context, url string) (int, []byte, error) {
	body, ok := f.bodies[url]
	if !ok {
		return 0, nil, fmt.Errorf("urlFetcher: no body registered for %s", url)
	}
	return 200, body, nil
}

// signedBundle wraps payload in a COSE_Sign1 envelope under anchorPriv, as
// the rules/value-sets stores expect to receive it over the wire.
func signedBundle(t *testing.T, anchorPriv *ecdsa.PrivateKey, payload any) []byte {
	t.Helper()
	raw, err := cbor.Marshal(payload)
	require.NoError(t, err)
	bundle, err := testsupport.SignCOSE(anchorPriv, nil, raw)
	require.NoError(t, err)
	return bundle
}

func TestVerifyHappyPath(t *testing.T) {
	issuerKey, err := testsupport.GenerateKey()
	require.NoError(t, err)
	kid := []byte{1, 2, 3, 4}

	hc1 := buildHC1(t, issuerKey, kid, vaccinationHealthCertCBOR(t))

	trustList := trust.List{
		ValidFrom: 0, ValidUntil: 2000000000,
		Entries: []trust.Entry{{
			KeyID: kid, NotBefore: 0, NotAfter: 2000000000,
			Mask: trust.KeyTypeMask{SignVaccination: true}, KeyDER: trustEntryDER(t, issuerKey),
		}},
	}

	p := newTestPipeline(t, trustList, 1700000000)
	v := p.Verify(context.Background(), hc1)

	require.True(t, v.Valid)
	require.Equal(t, verdict.None, v.Error)
	require.NotNil(t, v.Certificate)
	require.Equal(t, "DE", v.Meta.Issuer)
}

func TestVerifyMissingPrefix(t *testing.T) {
	issuerKey, err := testsupport.GenerateKey()
	require.NoError(t, err)
	hc1 := buildHC1(t, issuerKey, []byte{1}, vaccinationHealthCertCBOR(t))

	p := newTestPipeline(t, trust.List{}, 1700000000)
	v := p.Verify(context.Background(), hc1[len("HC1:"):])

	require.False(t, v.Valid)
	require.Equal(t, verdict.InvalidSchemePrefix, v.Error)
	require.Nil(t, v.Meta)
	require.Nil(t, v.Certificate)
}

func TestVerifyExpiredCWT(t *testing.T) {
	issuerKey, err := testsupport.GenerateKey()
	require.NoError(t, err)
	kid := []byte{1, 2, 3, 4}
	hc1 := buildHC1(t, issuerKey, kid, vaccinationHealthCertCBOR(t))

	trustList := trust.List{
		ValidFrom: 0, ValidUntil: 2000000000,
		Entries: []trust.Entry{{
			KeyID: kid, NotBefore: 0, NotAfter: 2000000000,
			Mask: trust.KeyTypeMask{SignVaccination: true}, KeyDER: trustEntryDER(t, issuerKey),
		}},
	}

	// expires-at baked into the certificate payload is 1893456000; set the
	// clock well past it.
	p := newTestPipeline(t, trustList, 1999999999)
	v := p.Verify(context.Background(), hc1)

	require.False(t, v.Valid)
	require.Equal(t, verdict.CwtExpired, v.Error)
	require.NotNil(t, v.Meta)
	require.NotNil(t, v.Certificate)
}

func TestVerifyUnknownIssuer(t *testing.T) {
	issuerKey, err := testsupport.GenerateKey()
	require.NoError(t, err)
	hc1 := buildHC1(t, issuerKey, []byte{9, 9, 9, 9}, vaccinationHealthCertCBOR(t))

	p := newTestPipeline(t, trust.List{ValidFrom: 0, ValidUntil: 2000000000}, 1700000000)
	v := p.Verify(context.Background(), hc1)

	require.False(t, v.Valid)
	require.Equal(t, verdict.KeyNotInTrustList, v.Error)
}

func TestVerifyTypeMismatch(t *testing.T) {
	issuerKey, err := testsupport.GenerateKey()
	require.NoError(t, err)
	kid := []byte{1, 2, 3, 4}
	hc1 := buildHC1(t, issuerKey, kid, vaccinationHealthCertCBOR(t))

	trustList := trust.List{
		ValidFrom: 0, ValidUntil: 2000000000,
		Entries: []trust.Entry{{
			KeyID: kid, NotBefore: 0, NotAfter: 2000000000,
			Mask: trust.KeyTypeMask{SignTest: true}, KeyDER: trustEntryDER(t, issuerKey),
		}},
	}

	p := newTestPipeline(t, trustList, 1700000000)
	v := p.Verify(context.Background(), hc1)

	require.False(t, v.Valid)
	require.Equal(t, verdict.UnsuitablePublicKeyType, v.Error)
}

func TestVerifyTamperedSignature(t *testing.T) {
	issuerKey, err := testsupport.GenerateKey()
	require.NoError(t, err)
	kid := []byte{1, 2, 3, 4}
	hc1 := buildHC1(t, issuerKey, kid, vaccinationHealthCertCBOR(t))

	// Flip the last character of the Base45 body.
	tampered := []byte(hc1)
	last := tampered[len(tampered)-1]
	if last == 'A' {
		tampered[len(tampered)-1] = 'B'
	} else {
		tampered[len(tampered)-1] = 'A'
	}

	trustList := trust.List{
		ValidFrom: 0, ValidUntil: 2000000000,
		Entries: []trust.Entry{{
			KeyID: kid, NotBefore: 0, NotAfter: 2000000000,
			Mask: trust.KeyTypeMask{SignVaccination: true}, KeyDER: trustEntryDER(t, issuerKey),
		}},
	}

	p := newTestPipeline(t, trustList, 1700000000)
	v := p.Verify(context.Background(), string(tampered))

	require.False(t, v.Valid)
	require.Contains(t, []verdict.ErrorKind{
		verdict.SignatureInvalid,
		verdict.Base45DecodingFailed,
		verdict.DecompressionFailed,
		verdict.CoseDeserializationFailed,
		verdict.CborDeserializationFailed,
	}, v.Error)
}

func TestEvaluateRulesWithoutStoresFails(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{
		Clock:    clock.NewFixed(1700000000),
		Keystore: storage.NewMemoryKeystore(),
		Files:    storage.NewMemoryFileIO(),
	})
	require.NoError(t, err)

	results := p.EvaluateRules(context.Background(), healthcert.EuHealthCert{}, time.Now(), time.Now(), time.Now(), "DE")
	require.Equal(t, []rulesengine.RuleResult{{Result: rulesengine.ResultFailed}}, results)
}

func TestEvaluateRulesStoreLoadFailureFails(t *testing.T) {
	anchorPriv, err := testsupport.GenerateKey()
	require.NoError(t, err)
	anchorPEM, err := testsupport.SelfSignedCertPEM(anchorPriv)
	require.NoError(t, err)

	// No bodies registered: every fetch returns an error, so neither store
	// ever obtains a cached snapshot.
	fetcher := &urlFetcher{bodies: map[string][]byte{}}

	p, err := pipeline.New(pipeline.Config{
		BusinessRulesURL:    "https://example.test/rules",
		BusinessRulesAnchor: anchorPEM,
		ValueSetsURL:        "https://example.test/valuesets",
		ValueSetsAnchor:     anchorPEM,
		Engine:              rulesengine.InMemory{},
		Clock:               clock.NewFixed(1700000000),
		Fetcher:             fetcher,
		Keystore:            storage.NewMemoryKeystore(),
		Files:               storage.NewMemoryFileIO(),
	})
	require.NoError(t, err)

	results := p.EvaluateRules(context.Background(), healthcert.EuHealthCert{}, time.Now(), time.Now(), time.Now(), "DE")
	require.Equal(t, []rulesengine.RuleResult{{Result: rulesengine.ResultFailed}}, results)
}

func TestEvaluateRulesRoundTripsThroughEngine(t *testing.T) {
	anchorPriv, err := testsupport.GenerateKey()
	require.NoError(t, err)
	anchorPEM, err := testsupport.SelfSignedCertPEM(anchorPriv)
	require.NoError(t, err)

	rulesURL := "https://example.test/rules"
	valueSetsURL := "https://example.test/valuesets"

	rulesBundle := trust.RulesBundle{
		ValidFrom: 0, ValidUntil: 2000000000,
		Rules: []trust.CertLogicRule{{Identifier: "VR-DE-0001"}, {Identifier: "VR-DE-0002"}},
	}
	valueSets := trust.ValueSetsBundle{
		ValidFrom: 0, ValidUntil: 2000000000,
		Sets: map[string]trust.ValueSetEntry{
			"country-2-codes": {ValidFrom: 0, ValidUntil: 2000000000, ValueSetValues: map[string]string{"DE": "active"}},
		},
	}

	fetcher := &urlFetcher{bodies: map[string][]byte{
		rulesURL:     signedBundle(t, anchorPriv, rulesBundle),
		valueSetsURL: signedBundle(t, anchorPriv, valueSets),
	}}

	engine := rulesengine.InMemory{
		Eval: func(cert healthcert.EuHealthCert, rule trust.CertLogicRule, params rulesengine.Params) rulesengine.RuleResult {
			if rule.Identifier == "VR-DE-0002" {
				return rulesengine.RuleResult{Rule: rule.Identifier, Result: rulesengine.ResultFailed, Details: "dose count too low"}
			}
			return rulesengine.RuleResult{Rule: rule.Identifier, Result: rulesengine.ResultPassed}
		},
	}

	p, err := pipeline.New(pipeline.Config{
		BusinessRulesURL:    rulesURL,
		BusinessRulesAnchor: anchorPEM,
		ValueSetsURL:        valueSetsURL,
		ValueSetsAnchor:     anchorPEM,
		Engine:              engine,
		Clock:               clock.NewFixed(1700000000),
		Fetcher:             fetcher,
		Keystore:            storage.NewMemoryKeystore(),
		Files:               storage.NewMemoryFileIO(),
	})
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	results := p.EvaluateRules(context.Background(), healthcert.EuHealthCert{}, now, now, now, "DE")
	require.Equal(t, []rulesengine.RuleResult{
		{Rule: "VR-DE-0001", Result: rulesengine.ResultPassed},
		{Rule: "VR-DE-0002", Result: rulesengine.ResultFailed, Details: "dose count too low"},
	}, results)
}
