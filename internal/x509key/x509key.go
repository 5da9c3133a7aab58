// Package x509key extracts public keys from leaf certificates, the
// compiled-in trust-anchor form used to verify trust-list/rules/value-set
// bundle refreshes.
package x509key

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// ParseLeafPublicKey extracts the SubjectPublicKeyInfo from a leaf
// certificate supplied as a base64-encoded DER blob (the compiled-in
// anchor form) or as PEM text, yielding an EC P-256 or RSA public key.
//
// Certificate chain validation and the certificate's own validity window
// are intentionally not checked here: the anchor's only role is to verify
// bundle signatures, not to root a full PKI.
func ParseLeafPublicKey(certData string) (crypto.PublicKey, error) {
	der, err := certificateDER(certData)
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("x509key: parsing certificate: %w", err)
	}

	switch cert.PublicKey.(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
		return cert.PublicKey, nil
	default:
		return nil, fmt.Errorf("x509key: unsupported public key type %T", cert.PublicKey)
	}
}

func certificateDER(certData string) ([]byte, error) {
	if block, _ := pem.Decode([]byte(certData)); block != nil {
		return block.Bytes, nil
	}

	der, err := base64.StdEncoding.DecodeString(certData)
	if err != nil {
		der, err = base64.RawStdEncoding.DecodeString(certData)
	}
	if err != nil {
		return nil, fmt.Errorf("x509key: certificate is neither PEM nor base64 DER: %w", err)
	}
	return der, nil
}
