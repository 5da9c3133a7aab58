// Package testsupport provides ephemeral key material and signed-envelope
// builders shared by tests across packages, in the style of the source's
// internal/mock package.
package testsupport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	gocose "github.com/veraison/go-cose"
)

// GenerateKey creates an ephemeral P-256 signing key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// SelfSignedCertPEM wraps pub in a minimal self-signed leaf certificate and
// returns its PEM encoding, the compiled-in trust-anchor form.
func SelfSignedCertPEM(priv *ecdsa.PrivateKey) (string, error) {
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "dgc-verify test anchor"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return "", fmt.Errorf("testsupport: creating certificate: %w", err)
	}
	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// SignCOSE builds a complete COSE_Sign1 envelope (protected alg header,
// kid in the unprotected header) over payload, signed with priv.
func SignCOSE(priv *ecdsa.PrivateKey, kid []byte, payload []byte) ([]byte, error) {
	signer, err := gocose.NewSigner(gocose.AlgorithmES256, priv)
	if err != nil {
		return nil, fmt.Errorf("testsupport: creating signer: %w", err)
	}

	msg := gocose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(gocose.AlgorithmES256)
	if kid != nil {
		msg.Headers.Unprotected[gocose.HeaderLabelKeyID] = kid
	}
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("testsupport: signing: %w", err)
	}

	data, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("testsupport: encoding: %w", err)
	}
	return data, nil
}
