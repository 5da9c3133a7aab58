// Package trust implements the time-windowed, COSE-signed-bundle store
// pattern shared by the trust list, the business-rules bundle, and the
// value-sets bundle (§4.3, §4.4): fetch, verify against a trust anchor,
// cache, and persist encrypted.
package trust

import (
	"crypto"

	"github.com/dominikschlosser/dgc-verify/internal/healthcert"
)

// KeyTypeMask records which certificate types an issuer entry may attest
// to.
type KeyTypeMask struct {
	SignVaccination bool `cbor:"signVaccination" json:"signVaccination"`
	SignTest        bool `cbor:"signTest" json:"signTest"`
	SignRecovery    bool `cbor:"signRecovery" json:"signRecovery"`
}

// Allows reports whether the mask permits signing the given certification
// type.
func (m KeyTypeMask) Allows(t healthcert.CertificationType) bool {
	switch t {
	case healthcert.CertificationVaccination:
		return m.SignVaccination
	case healthcert.CertificationTest:
		return m.SignTest
	case healthcert.CertificationRecovery:
		return m.SignRecovery
	default:
		return false
	}
}

// Entry is a single trust-list issuer key.
type Entry struct {
	KeyID     []byte      `cbor:"keyId" json:"keyId"`
	NotBefore int64       `cbor:"notBefore" json:"notBefore"`
	NotAfter  int64       `cbor:"notAfter" json:"notAfter"`
	Mask      KeyTypeMask `cbor:"mask" json:"mask"`
	KeyDER    []byte      `cbor:"publicKeyDer" json:"publicKeyDer"`
}

// PublicKey parses KeyDER fresh on every call. A value receiver and no
// cached field means concurrent lookups against the same cached List
// snapshot (internal/trust.Store) never race on a shared mutable field;
// the cost is re-parsing a DER-encoded key per lookup, which is cheap next
// to the network/crypto work elsewhere in the pipeline.
func (e Entry) PublicKey() (crypto.PublicKey, error) {
	return parseEntryKey(e.KeyDER)
}

// InWindow reports whether now lies within the entry's own validity
// window.
func (e Entry) InWindow(now int64) bool {
	return e.NotBefore <= now && now <= e.NotAfter
}

// List is the TrustList data model (§3): a time-windowed, ordered
// sequence of issuer entries.
type List struct {
	ValidFrom int64   `cbor:"validFrom" json:"validFrom"`
	ValidUntil int64  `cbor:"validUntil" json:"validUntil"`
	Entries   []Entry `cbor:"entries" json:"entries"`
}

// Window implements the generic store's Windowed interface.
func (l List) Window() (validFrom, validUntil int64) { return l.ValidFrom, l.ValidUntil }

// Fresh reports whether now lies in [ValidFrom, ValidUntil].
func (l List) Fresh(now int64) bool { return l.ValidFrom <= now && now <= l.ValidUntil }

// CertLogicRule is a single business-rules bundle element (§3.1).
type CertLogicRule struct {
	Identifier      string         `cbor:"identifier" json:"identifier"`
	Type            string         `cbor:"type" json:"type"`
	Version         string         `cbor:"version" json:"version"`
	SchemaVersion   string         `cbor:"schemaVersion" json:"schemaVersion"`
	Engine          string         `cbor:"engine" json:"engine"`
	EngineVersion   string         `cbor:"engineVersion" json:"engineVersion"`
	CertificateType string         `cbor:"certificateType" json:"certificateType"`
	Description     string         `cbor:"description" json:"description"`
	Country         string         `cbor:"country" json:"country"`
	ValidFrom       string         `cbor:"validFrom" json:"validFrom"`
	ValidTo         string         `cbor:"validTo" json:"validTo"`
	AffectedFields  []string       `cbor:"affectedFields" json:"affectedFields"`
	Logic           map[string]any `cbor:"logic" json:"logic"`
}

// RulesBundle is the business-rules store payload.
type RulesBundle struct {
	ValidFrom  int64           `cbor:"validFrom" json:"validFrom"`
	ValidUntil int64           `cbor:"validUntil" json:"validUntil"`
	Rules      []CertLogicRule `cbor:"rules" json:"rules"`
}

func (r RulesBundle) Window() (validFrom, validUntil int64) { return r.ValidFrom, r.ValidUntil }

// ValueSetEntry is a single named value set (§3.1).
type ValueSetEntry struct {
	ValidFrom      int64             `cbor:"validFrom" json:"validFrom"`
	ValidUntil     int64             `cbor:"validUntil" json:"validUntil"`
	ValueSetValues map[string]string `cbor:"valueSetValues" json:"valueSetValues"`
}

// ValueSetsBundle is the value-sets store payload: name -> entry.
type ValueSetsBundle struct {
	ValidFrom  int64                    `cbor:"validFrom" json:"validFrom"`
	ValidUntil int64                    `cbor:"validUntil" json:"validUntil"`
	Sets       map[string]ValueSetEntry `cbor:"sets" json:"sets"`
}

func (v ValueSetsBundle) Window() (validFrom, validUntil int64) { return v.ValidFrom, v.ValidUntil }

// Flatten projects the value sets to name -> [keys], the shape
// evaluateRules hands to the rules engine.
func (v ValueSetsBundle) Flatten() map[string][]string {
	out := make(map[string][]string, len(v.Sets))
	for name, entry := range v.Sets {
		keys := make([]string, 0, len(entry.ValueSetValues))
		for k := range entry.ValueSetValues {
			keys = append(keys, k)
		}
		out[name] = keys
	}
	return out
}
