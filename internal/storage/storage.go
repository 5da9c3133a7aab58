// Package storage implements the encrypted-at-rest persistence the three
// signed stores use (§4.3 "Persistence"): a keystore-derived key seals an
// opaque blob with an AEAD cipher before it ever touches disk.
package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Keystore yields the per-install secret bound to an alias, the root of
// the key-derivation chain for every encrypted store. The production
// default is OSKeystore, a per-alias secret file; tests wire an in-memory
// fake.
type Keystore interface {
	Secret(alias string) ([]byte, error)
}

// FileIO is the byte-oriented read/write-file capability the spec
// describes as an external collaborator (§1 "Persistent storage").
type FileIO interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
	WriteFile(ctx context.Context, name string, data []byte) error
}

const hkdfInfo = "dgc-verify/store-key/v1"

// EncryptedStore seals/opens named blobs under a keystore alias. Each
// Save/Load call acquires the keystore secret for the duration of the
// call only — there is no long-lived handle to leak across requests.
type EncryptedStore struct {
	Keystore Keystore
	Files    FileIO
}

// Save seals plaintext under alias and writes it to name.
func (s *EncryptedStore) Save(ctx context.Context, alias, name string, plaintext []byte) error {
	aead, err := s.aead(alias)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("storage: generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	if err := s.Files.WriteFile(ctx, name, sealed); err != nil {
		return fmt.Errorf("storage: writing %s: %w", name, err)
	}
	return nil
}

// Load reads and opens the blob at name, sealed under alias. Any failure
// (missing file, wrong key, corrupted ciphertext) is returned as an error;
// per §4.3 "On load, decrypt, decode; any failure yields Empty", callers
// treat any Load error as an empty cache rather than a fatal condition.
func (s *EncryptedStore) Load(ctx context.Context, alias, name string) ([]byte, error) {
	data, err := s.Files.ReadFile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("storage: reading %s: %w", name, err)
	}

	aead, err := s.aead(alias)
	if err != nil {
		return nil, err
	}

	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("storage: %s is shorter than a nonce", name)
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", name, err)
	}
	return plaintext, nil
}

func (s *EncryptedStore) aead(alias string) (cipher.AEAD, error) {
	secret, err := s.Keystore.Secret(alias)
	if err != nil {
		return nil, fmt.Errorf("storage: fetching keystore secret for %q: %w", alias, err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, []byte(alias), []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("storage: deriving store key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("storage: constructing AEAD: %w", err)
	}
	return aead, nil
}
