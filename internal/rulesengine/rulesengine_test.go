package rulesengine_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dominikschlosser/dgc-verify/internal/healthcert"
	"github.com/dominikschlosser/dgc-verify/internal/rulesengine"
	"github.com/dominikschlosser/dgc-verify/internal/trust"
)

func TestInMemoryDefaultsEveryRuleToPassed(t *testing.T) {
	cert := healthcert.EuHealthCert{Type: healthcert.CertificationVaccination}
	rules := []trust.CertLogicRule{{Identifier: "VR-DE-0001"}, {Identifier: "VR-DE-0002"}}

	results, err := rulesengine.InMemory{}.Evaluate(cert, rules, rulesengine.Params{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, rulesengine.ResultPassed, r.Result)
	}
}

func TestInMemoryUsesCallerEvalFunc(t *testing.T) {
	cert := healthcert.EuHealthCert{Type: healthcert.CertificationTest}
	rules := []trust.CertLogicRule{{Identifier: "VR-DE-0001"}, {Identifier: "VR-DE-0002"}}

	engine := rulesengine.InMemory{
		Eval: func(cert healthcert.EuHealthCert, rule trust.CertLogicRule, params rulesengine.Params) rulesengine.RuleResult {
			if rule.Identifier == "VR-DE-0002" {
				return rulesengine.RuleResult{Rule: rule.Identifier, Result: rulesengine.ResultFailed, Details: "dose count too low"}
			}
			return rulesengine.RuleResult{Rule: rule.Identifier, Result: rulesengine.ResultPassed}
		},
	}

	results, err := engine.Evaluate(cert, rules, rulesengine.Params{CountryCode: "DE"})
	require.NoError(t, err)
	require.Equal(t, []rulesengine.RuleResult{
		{Rule: "VR-DE-0001", Result: rulesengine.ResultPassed},
		{Rule: "VR-DE-0002", Result: rulesengine.ResultFailed, Details: "dose count too low"},
	}, results)
}

func TestInMemoryNoRulesReturnsEmptyResult(t *testing.T) {
	results, err := rulesengine.InMemory{}.Evaluate(healthcert.EuHealthCert{}, nil, rulesengine.Params{})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestCertJSONRoundTrips(t *testing.T) {
	cert := healthcert.EuHealthCert{
		Type:        healthcert.CertificationVaccination,
		DateOfBirth: "1964-08-12",
	}

	data, err := rulesengine.CertJSON(cert)
	require.NoError(t, err)

	var decoded healthcert.EuHealthCert
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "1964-08-12", decoded.DateOfBirth)
}
