package cwt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dominikschlosser/dgc-verify/internal/cbor"
	"github.com/dominikschlosser/dgc-verify/internal/cwt"
	"github.com/dominikschlosser/dgc-verify/internal/healthcert"
)

func buildPayload(t *testing.T, hcert map[string]any, claims map[int64]any) []byte {
	t.Helper()

	hcertBytes, err := cbor.Marshal(hcert)
	require.NoError(t, err)

	full := map[int64]any{}
	for k, v := range claims {
		full[k] = v
	}
	full[-260] = map[int64]cbor.RawMessage{1: hcertBytes}

	data, err := cbor.Marshal(full)
	require.NoError(t, err)
	return data
}

func validVaccinationCert() map[string]any {
	return map[string]any{
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
}

func TestParseProjectsVaccinationCert(t *testing.T) {
	payload := buildPayload(t, validVaccinationCert(), map[int64]any{
		1: "DE", 4: int64(1893456000), 6: int64(1613606400),
	})

	c, err := cwt.Parse(payload)
	require.NoError(t, err)
	require.Equal(t, "DE", c.Issuer)
	require.Equal(t, int64(1893456000), c.ExpiresAt)
	require.Equal(t, int64(1613606400), c.IssuedAt)
	require.Equal(t, healthcert.CertificationVaccination, c.HealthCert.Type)
	require.Len(t, c.HealthCert.Vaccinations, 1)
	require.Equal(t, "URN:UVCI:01:DE:12345", c.HealthCert.Vaccinations[0].CertificateID)
}

func TestParseRejectsMissingHcertClaim(t *testing.T) {
	data, err := cbor.Marshal(map[int64]any{1: "DE"})
	require.NoError(t, err)

	_, err = cwt.Parse(data)
	require.Error(t, err)
}

func TestParseRejectsZeroCertificationTypes(t *testing.T) {
	hcert := validVaccinationCert()
	delete(hcert, "v")
	payload := buildPayload(t, hcert, map[int64]any{4: int64(1893456000)})

	_, err := cwt.Parse(payload)
	require.Error(t, err)
}

func TestParseAcceptsPlainNameWithoutTransliteration(t *testing.T) {
	hcert := validVaccinationCert()
	hcert["nam"] = map[string]any{"fn": "Müstermann", "gn": "Érika"}
	payload := buildPayload(t, hcert, map[int64]any{4: int64(1893456000)})

	c, err := cwt.Parse(payload)
	require.NoError(t, err)
	require.Equal(t, healthcert.CertificationVaccination, c.HealthCert.Type)
}

func TestParseRejectsMissingBothNameVariants(t *testing.T) {
	hcert := validVaccinationCert()
	hcert["nam"] = map[string]any{"gnt": "ERIKA"}
	payload := buildPayload(t, hcert, map[int64]any{4: int64(1893456000)})

	_, err := cwt.Parse(payload)
	require.Error(t, err)
}

func TestParseRejectsMultipleCertificationTypes(t *testing.T) {
	hcert := validVaccinationCert()
	hcert["t"] = []any{
		map[string]any{
			"tg": "840539006", "tt": "LP6464-4", "sc": "2021-02-18T12:00:00Z",
			"tr": "260415000", "co": "DE", "is": "RKI", "ci": "URN:UVCI:01:DE:99999",
		},
	}
	payload := buildPayload(t, hcert, map[int64]any{4: int64(1893456000)})

	_, err := cwt.Parse(payload)
	require.Error(t, err)
}

func TestIsValidExpiry(t *testing.T) {
	payload := buildPayload(t, validVaccinationCert(), map[int64]any{
		4: int64(1000), 6: int64(500),
	})
	c, err := cwt.Parse(payload)
	require.NoError(t, err)

	require.True(t, c.IsValid(900, false))
	require.False(t, c.IsValid(1001, false))
}

func TestIsValidMissingExpiryIsAlwaysInvalid(t *testing.T) {
	payload := buildPayload(t, validVaccinationCert(), map[int64]any{6: int64(500)})
	c, err := cwt.Parse(payload)
	require.NoError(t, err)

	require.False(t, c.IsValid(600, false))
}

func TestIsValidStrictIssuedAt(t *testing.T) {
	payload := buildPayload(t, validVaccinationCert(), map[int64]any{
		4: int64(1000), 6: int64(500),
	})
	c, err := cwt.Parse(payload)
	require.NoError(t, err)

	require.False(t, c.IsValid(400, true))
	require.True(t, c.IsValid(400, false))
}
