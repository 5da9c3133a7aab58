// Package pipeline implements the verification pipeline (§4.5): the
// layered decoder/validator that turns a prefixed Base45 string into a
// terminal VerificationVerdict, and the business-rules orchestration that
// runs once a certificate has been decoded.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dominikschlosser/dgc-verify/internal/base45"
	"github.com/dominikschlosser/dgc-verify/internal/cbor"
	"github.com/dominikschlosser/dgc-verify/internal/clock"
	"github.com/dominikschlosser/dgc-verify/internal/cose"
	"github.com/dominikschlosser/dgc-verify/internal/cwt"
	"github.com/dominikschlosser/dgc-verify/internal/gzipx"
	"github.com/dominikschlosser/dgc-verify/internal/healthcert"
	"github.com/dominikschlosser/dgc-verify/internal/httpfetch"
	"github.com/dominikschlosser/dgc-verify/internal/rulesengine"
	"github.com/dominikschlosser/dgc-verify/internal/storage"
	"github.com/dominikschlosser/dgc-verify/internal/telemetry"
	"github.com/dominikschlosser/dgc-verify/internal/trust"
	"github.com/dominikschlosser/dgc-verify/internal/verdict"
	"github.com/dominikschlosser/dgc-verify/internal/x509key"
)

const schemePrefix = "HC1:"

// EmptyTrustListPolicy resolves the Open Question of §9: what a lookup
// against a trust list that has never successfully loaded should report.
type EmptyTrustListPolicy int

const (
	// ReportKeyNotFound matches the source's actual behavior: an empty
	// list still gets searched, so absence of the key is reported as
	// KEY_NOT_IN_TRUST_LIST rather than a service error. This is the
	// default — it is what ships today, even though it can read to a
	// caller as "this certificate's issuer is untrusted" when the real
	// cause is "we have never reached the network".
	ReportKeyNotFound EmptyTrustListPolicy = iota
	// ReportTrustServiceError treats an empty trust list as a refresh
	// failure rather than attempting the lookup at all.
	ReportTrustServiceError
)

// Config is the construction-time option set (§6 "Configuration"). Every
// field is optional; zero values take the documented default.
type Config struct {
	TrustlistURL          string
	TrustlistSignatureURL string
	TrustlistAnchor       string

	BusinessRulesURL          string
	BusinessRulesSignatureURL string
	BusinessRulesAnchor       string

	ValueSetsURL          string
	ValueSetsSignatureURL string
	ValueSetsAnchor       string

	Clock                clock.Clock
	StrictIssuedAt       bool
	EmptyTrustListPolicy EmptyTrustListPolicy

	Logger  *zerolog.Logger
	Metrics *telemetry.Metrics

	Keystore storage.Keystore
	Files    storage.FileIO
	Fetcher  httpfetch.Fetcher

	// Engine is the business-rules collaborator (§1, out of scope); a
	// caller not exercising evaluateRules may leave it nil.
	Engine rulesengine.Engine
}

// Pipeline is the VerificationPipeline: the decode/validate/verdict
// sequence of §4.5, plus evaluateRules orchestration (§4.5).
type Pipeline struct {
	cfg     Config
	clock   clock.Clock
	logger  *zerolog.Logger
	metrics *telemetry.Metrics
	engine  rulesengine.Engine

	trustStore     *trust.Store[trust.List]
	rulesStore     *trust.Store[trust.RulesBundle]
	valueSetsStore *trust.Store[trust.ValueSetsBundle]
}

// New builds a Pipeline. Trust anchors, if set, must be base64 DER or PEM
// leaf certificates (§6); store URLs may be left empty for components a
// caller does not need (e.g. a test exercising only stage 1-6 decoding).
func New(cfg Config) (*Pipeline, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = httpfetch.NewClient()
	}
	if cfg.Keystore == nil {
		cfg.Keystore = storage.OSKeystore{Dir: storage.DefaultAppDir()}
	}
	if cfg.Files == nil {
		cfg.Files = storage.OSFileIO{Dir: storage.DefaultAppDir()}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics()
	}
	if cfg.Logger == nil {
		discard := telemetry.Discard()
		cfg.Logger = &discard
	}

	persist := &storage.EncryptedStore{Keystore: cfg.Keystore, Files: cfg.Files}

	p := &Pipeline{cfg: cfg, clock: cfg.Clock, logger: cfg.Logger, metrics: cfg.Metrics, engine: cfg.Engine}

	if cfg.TrustlistURL != "" {
		anchor, err := x509key.ParseLeafPublicKey(cfg.TrustlistAnchor)
		if err != nil {
			return nil, fmt.Errorf("pipeline: parsing trust-list anchor: %w", err)
		}
		p.trustStore = trust.NewStore[trust.List](trust.Config{
			Name: "trustlist", BundleURL: cfg.TrustlistURL, ManifestURL: cfg.TrustlistSignatureURL,
			Anchor: anchor, Alias: "trustlist", FileName: "trustlist.cbor",
		}, cfg.Fetcher, persist, cfg.Clock)
	}

	if cfg.BusinessRulesURL != "" {
		anchor, err := x509key.ParseLeafPublicKey(cfg.BusinessRulesAnchor)
		if err != nil {
			return nil, fmt.Errorf("pipeline: parsing business-rules anchor: %w", err)
		}
		p.rulesStore = trust.NewStore[trust.RulesBundle](trust.Config{
			Name: "rules", BundleURL: cfg.BusinessRulesURL, ManifestURL: cfg.BusinessRulesSignatureURL,
			Anchor: anchor, Alias: "rules", FileName: "rules.cbor",
		}, cfg.Fetcher, persist, cfg.Clock)
	}

	if cfg.ValueSetsURL != "" {
		anchor, err := x509key.ParseLeafPublicKey(cfg.ValueSetsAnchor)
		if err != nil {
			return nil, fmt.Errorf("pipeline: parsing value-sets anchor: %w", err)
		}
		p.valueSetsStore = trust.NewStore[trust.ValueSetsBundle](trust.Config{
			Name: "valuesets", BundleURL: cfg.ValueSetsURL, ManifestURL: cfg.ValueSetsSignatureURL,
			Anchor: anchor, Alias: "valuesets", FileName: "valuesets.cbor",
		}, cfg.Fetcher, persist, cfg.Clock)
	}

	return p, nil
}

// UpdateTrustlist forces a trust-list refresh, for an explicit "trust
// refresh" entrypoint (§4.3's "Fresh -> explicit update request").
func (p *Pipeline) UpdateTrustlist(ctx context.Context) error {
	if p.trustStore == nil {
		return fmt.Errorf("pipeline: no trust-list store configured")
	}
	_, err := p.trustStore.Update(ctx)
	p.recordRefresh("trustlist", err)
	return err
}

// UpdateBusinessRules forces a business-rules bundle refresh.
func (p *Pipeline) UpdateBusinessRules(ctx context.Context) error {
	if p.rulesStore == nil {
		return fmt.Errorf("pipeline: no business-rules store configured")
	}
	_, err := p.rulesStore.Update(ctx)
	p.recordRefresh("rules", err)
	return err
}

// UpdateValueSets forces a value-sets bundle refresh.
func (p *Pipeline) UpdateValueSets(ctx context.Context) error {
	if p.valueSetsStore == nil {
		return fmt.Errorf("pipeline: no value-sets store configured")
	}
	_, err := p.valueSetsStore.Update(ctx)
	p.recordRefresh("valuesets", err)
	return err
}

// TrustListSnapshot returns the currently cached trust list, if the pipeline
// was configured with a trust-list store and it has been loaded at least
// once (from disk or network).
func (p *Pipeline) TrustListSnapshot(ctx context.Context) (trust.List, bool) {
	if p.trustStore == nil {
		return trust.List{}, false
	}
	return p.trustStore.Snapshot(ctx)
}

func (p *Pipeline) recordRefresh(store string, err error) {
	if p.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.metrics.StoreRefreshes.WithLabelValues(store, result).Inc()
}

// Verify runs the 8-stage decode/validate sequence of §4.5, short-
// circuiting to a terminal Verdict at the first failing stage.
func (p *Pipeline) Verify(ctx context.Context, encoded string) verdict.Verdict {
	v := p.verify(ctx, encoded)
	if p.metrics != nil {
		result := "valid"
		if !v.Valid {
			result = string(v.Error)
		}
		p.metrics.Verdicts.WithLabelValues(result).Inc()
	}
	return v
}

func (p *Pipeline) verify(ctx context.Context, encoded string) verdict.Verdict {
	// Stage 1: prefix strip.
	body, ok := strings.CutPrefix(encoded, schemePrefix)
	if !ok {
		return p.fail(verdict.InvalidSchemePrefix, nil, nil)
	}

	// Stage 2: Base45 decode.
	compressed, err := base45.Decode(body)
	if err != nil {
		return p.fail(verdict.Base45DecodingFailed, nil, nil)
	}

	// Stage 3: gzip inflate.
	payload, err := gzipx.Inflate(compressed)
	if err != nil {
		return p.fail(verdict.DecompressionFailed, nil, nil)
	}

	// Stage 4: COSE_Sign1 parse, require key-id.
	sign1, err := cose.ParseSign1(payload)
	if err != nil {
		return p.fail(verdict.CoseDeserializationFailed, nil, nil)
	}
	keyID := sign1.KeyID()
	if len(keyID) == 0 {
		return p.fail(verdict.CoseDeserializationFailed, nil, nil)
	}

	// Stage 5: CWT parse + health-cert projection. The COSE payload may
	// itself be a byte string wrapping the CWT map (bstr-in-bstr), with or
	// without tag 24; unwrap before decoding.
	cwtPayload, err := cbor.UnwrapTag24(sign1.Payload)
	if err != nil {
		return p.fail(verdict.CborDeserializationFailed, nil, nil)
	}
	var inner []byte
	if err := cbor.Unmarshal(cwtPayload, &inner); err == nil {
		cwtPayload = inner
	}
	token, err := cwt.Parse(cwtPayload)
	if err != nil {
		return p.fail(verdict.CborDeserializationFailed, nil, nil)
	}

	meta := &verdict.Meta{Issuer: token.Issuer, IssuedAt: token.IssuedAt, ExpiresAt: token.ExpiresAt}
	cert := &token.HealthCert

	// Stage 6: temporal check.
	now := p.clock.Now().Unix()
	if !token.IsValid(now, p.cfg.StrictIssuedAt) {
		return p.fail(verdict.CwtExpired, meta, cert)
	}

	// Stage 7: trust lookup.
	key, kind := p.lookup(ctx, keyID, cert.Type, now)
	if kind != verdict.None {
		if kind == verdict.TrustServiceError {
			return verdict.FailWithCause(kind, "trust list unavailable", meta, cert)
		}
		return p.fail(kind, meta, cert)
	}

	// Stage 8: COSE signature verification.
	validSig, err := sign1.Verify(key)
	if err != nil || !validSig {
		return p.fail(verdict.SignatureInvalid, meta, cert)
	}

	return verdict.Success(*meta, *cert)
}

func (p *Pipeline) lookup(ctx context.Context, keyID []byte, certType healthcert.CertificationType, now int64) (any, verdict.ErrorKind) {
	if p.trustStore == nil {
		return nil, verdict.TrustServiceError
	}

	list, ok := p.trustStore.Snapshot(ctx)
	if !ok && p.cfg.EmptyTrustListPolicy == ReportTrustServiceError {
		return nil, verdict.TrustServiceError
	}

	return list.Lookup(keyID, certType, now)
}

func (p *Pipeline) fail(kind verdict.ErrorKind, meta *verdict.Meta, cert *healthcert.EuHealthCert) verdict.Verdict {
	if p.metrics != nil {
		p.metrics.PipelineStageFailures.WithLabelValues(string(kind)).Inc()
	}
	p.logger.Debug().Str("stage_error", string(kind)).Msg("verification stage failed")
	return verdict.Fail(kind, meta, cert)
}

// EvaluateRules runs the business-rules engine over cert (§4.5). A
// store-load failure for either bundle yields a single failed result by
// design: an offline device without rules must not silently pass.
func (p *Pipeline) EvaluateRules(ctx context.Context, cert healthcert.EuHealthCert, now time.Time, issuedAt, expiresAt time.Time, country string) []rulesengine.RuleResult {
	if p.rulesStore == nil || p.valueSetsStore == nil || p.engine == nil {
		return []rulesengine.RuleResult{{Result: rulesengine.ResultFailed}}
	}

	rules, ok := p.rulesStore.Snapshot(ctx)
	if !ok {
		return []rulesengine.RuleResult{{Result: rulesengine.ResultFailed}}
	}
	valueSets, ok := p.valueSetsStore.Snapshot(ctx)
	if !ok {
		return []rulesengine.RuleResult{{Result: rulesengine.ResultFailed}}
	}

	params := rulesengine.Params{
		ValidationClock: now.UTC().Format(time.RFC3339),
		CountryCode:     country,
		IssuedAt:        issuedAt.UTC().Format(time.RFC3339),
		ExpiresAt:       expiresAt.UTC().Format(time.RFC3339),
		ValueSets:       valueSets.Flatten(),
	}

	results, err := p.engine.Evaluate(cert, rules.Rules, params)
	if err != nil || len(results) == 0 {
		return []rulesengine.RuleResult{{Result: rulesengine.ResultPassed}}
	}
	return results
}
