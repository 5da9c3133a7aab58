// Package rulesengine defines the boundary to the country-specific
// business-rules engine (§1, §4.5): a pre-existing component the core
// only orchestrates, never implements. Given a typed certificate, the
// active CertLogic rule set, the flattened value sets, and filter
// parameters, it returns a pass/fail per rule.
package rulesengine

import (
	"encoding/json"

	"github.com/dominikschlosser/dgc-verify/internal/healthcert"
	"github.com/dominikschlosser/dgc-verify/internal/trust"
)

// RuleResult is a single business-rule outcome.
type RuleResult struct {
	Rule    string `json:"rule"`
	Result  string `json:"result"` // "passed", "failed", "open"
	Details string `json:"details,omitempty"`
}

const (
	ResultPassed = "passed"
	ResultFailed = "failed"
	ResultOpen   = "open"
)

// Params is the filter/external-parameter record the engine evaluates
// each rule against, per §4.5's "constructs the engine's filter/external
// parameter records".
type Params struct {
	ValidationClock string              `json:"validationClock"`
	CountryCode     string              `json:"countryCode"`
	Issuer          string              `json:"issuer"`
	IssuedAt        string              `json:"issuedAt"`
	ExpiresAt       string              `json:"expiresAt"`
	ValueSets       map[string][]string `json:"valueSets"`
}

// Engine is the out-of-scope collaborator: evaluate a certificate against
// a rule set. Production wires a real CertLogic evaluator (not provided
// by this module); tests wire InMemory.
type Engine interface {
	Evaluate(cert healthcert.EuHealthCert, rules []trust.CertLogicRule, params Params) ([]RuleResult, error)
}

// InMemory is a test/fallback Engine: it applies a caller-supplied
// function per rule, or (with no function) reports every rule as passed.
// It exists so the pipeline's evaluateRules orchestration is exercisable
// without a real CertLogic dependency, matching the spec's framing of the
// engine as an external component the core only calls into.
type InMemory struct {
	Eval func(cert healthcert.EuHealthCert, rule trust.CertLogicRule, params Params) RuleResult
}

func (e InMemory) Evaluate(cert healthcert.EuHealthCert, rules []trust.CertLogicRule, params Params) ([]RuleResult, error) {
	results := make([]RuleResult, 0, len(rules))
	for _, r := range rules {
		if e.Eval != nil {
			results = append(results, e.Eval(cert, r, params))
			continue
		}
		results = append(results, RuleResult{Rule: r.Identifier, Result: ResultPassed})
	}
	return results, nil
}

// CertJSON serializes cert the way the engine expects its input
// certificate, per §4.5 "serializes the typed certificate to JSON".
func CertJSON(cert healthcert.EuHealthCert) ([]byte, error) {
	return json.Marshal(cert)
}
