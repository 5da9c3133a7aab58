package trust

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/dominikschlosser/dgc-verify/internal/healthcert"
	"github.com/dominikschlosser/dgc-verify/internal/verdict"
)

func parseEntryKey(der []byte) (crypto.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("trust: parsing entry public key: %w", err)
	}
	return key, nil
}

// Lookup searches entries by key-id byte-equality and returns the first
// entry (in document order) that is within its own validity window and
// whose mask permits certType. The distinct failure reasons are reported
// as ErrorKind so the pipeline can surface the precise cause:
//
//   - absent entirely                      -> KEY_NOT_IN_TRUST_LIST
//   - present, window excludes now         -> PUBLIC_KEY_EXPIRED
//   - present, mask excludes certType      -> UNSUITABLE_PUBLIC_KEY_TYPE
//   - present, public key does not parse   -> KEY_CREATION_ERROR
func (l List) Lookup(keyID []byte, certType healthcert.CertificationType, now int64) (crypto.PublicKey, verdict.ErrorKind) {
	var sawKeyID, sawWindow bool

	for i := range l.Entries {
		e := l.Entries[i]
		if !bytes.Equal(e.KeyID, keyID) {
			continue
		}
		sawKeyID = true
		if !e.InWindow(now) {
			continue
		}
		sawWindow = true
		if !e.Mask.Allows(certType) {
			continue
		}

		key, err := e.PublicKey()
		if err != nil {
			return nil, verdict.KeyCreationError
		}
		return key, verdict.None
	}

	switch {
	case !sawKeyID:
		return nil, verdict.KeyNotInTrustList
	case !sawWindow:
		return nil, verdict.PublicKeyExpired
	default:
		return nil, verdict.UnsuitablePublicKeyType
	}
}
