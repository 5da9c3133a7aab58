package trust

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dominikschlosser/dgc-verify/internal/cbor"
	"github.com/dominikschlosser/dgc-verify/internal/clock"
	"github.com/dominikschlosser/dgc-verify/internal/cose"
	"github.com/dominikschlosser/dgc-verify/internal/httpfetch"
	"github.com/dominikschlosser/dgc-verify/internal/storage"
)

// Windowed is implemented by every signed-bundle payload the store manages:
// TrustList, RulesBundle, and ValueSetsBundle alike (§4.3, §4.4).
type Windowed interface {
	Window() (validFrom, validUntil int64)
}

// Config parameterizes a Store for one of the three bundles it guards.
type Config struct {
	// Name identifies the store in logs and metrics ("trustlist", "rules",
	// "valuesets").
	Name string

	// BundleURL is fetched for the COSE_Sign1-wrapped payload itself.
	BundleURL string

	// ManifestURL, if non-empty, is fetched for a second COSE_Sign1
	// envelope whose CBOR payload is a map carrying a "sha256" byte
	// string: the digest of the COSE payload of BundleURL's envelope (not
	// of the raw response body). When set, a refresh fails unless the
	// manifest's digest matches.
	ManifestURL string

	// Anchor is the trust anchor public key both envelopes must verify
	// against.
	Anchor crypto.PublicKey

	// Alias and FileName select where the decoded, verified payload is
	// persisted via storage.EncryptedStore.
	Alias    string
	FileName string
}

// Store is the generic fetch/verify/cache/persist store shared by the
// trust list, the business-rules bundle, and the value-sets bundle
// (§4.3 "Trust-list subsystem", generalized per §4.4). A single in-flight
// refresh is shared across concurrent callers via singleflight, and the
// cached snapshot is swapped atomically under a RWMutex so lookups never
// block on a refresh in progress (mirroring the source's proxy.Store).
type Store[P Windowed] struct {
	cfg     Config
	fetcher httpfetch.Fetcher
	persist *storage.EncryptedStore
	clock   clock.Clock

	mu     sync.RWMutex
	cached *P
	loaded bool

	sf singleflight.Group
}

// NewStore constructs a Store. fetcher, persist, and clk are required
// collaborators; tests typically supply in-memory fakes for all three.
func NewStore[P Windowed](cfg Config, fetcher httpfetch.Fetcher, persist *storage.EncryptedStore, clk clock.Clock) *Store[P] {
	return &Store[P]{cfg: cfg, fetcher: fetcher, persist: persist, clock: clk}
}

// Snapshot returns the best available payload: the in-memory cache if
// fresh, otherwise a best-effort synchronous refresh is attempted before
// returning whatever ends up cached (possibly still stale, possibly still
// empty, per §4.3's "lookup proceeds against whatever is cached"). The
// returned bool is false only when no payload has ever been obtained.
func (s *Store[P]) Snapshot(ctx context.Context) (P, bool) {
	s.ensureLoadedFromDisk(ctx)

	if p, fresh := s.freshCached(); fresh {
		return p, true
	}

	_, _ = s.Update(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		var zero P
		return zero, false
	}
	return *s.cached, true
}

func (s *Store[P]) freshCached() (P, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		var zero P
		return zero, false
	}
	from, until := (*s.cached).Window()
	now := s.clock.Now().Unix()
	if from <= now && now <= until {
		return *s.cached, true
	}
	var zero P
	return zero, false
}

func (s *Store[P]) ensureLoadedFromDisk(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded || s.cached != nil {
		return
	}
	s.loaded = true

	raw, err := s.persist.Load(ctx, s.cfg.Alias, s.cfg.FileName)
	if err != nil {
		return
	}
	var p P
	if err := cbor.Unmarshal(raw, &p); err != nil {
		return
	}
	s.cached = &p
}

// Update forces a refresh, coalescing concurrent callers onto a single
// in-flight fetch. A failed refresh never evicts the existing cache; it
// only returns the error. Snapshot discards that error and serves whatever
// is cached; the pipeline's Update* methods return it to their caller.
func (s *Store[P]) Update(ctx context.Context) (P, error) {
	v, err, _ := s.sf.Do(s.cfg.Name, func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		var zero P
		return zero, err
	}
	return v.(P), nil
}

func (s *Store[P]) refresh(ctx context.Context) (P, error) {
	var zero P

	payload, err := s.fetchVerified(ctx, s.cfg.BundleURL)
	if err != nil {
		return zero, err
	}

	if s.cfg.ManifestURL != "" {
		if err := s.verifyManifest(ctx, payload); err != nil {
			return zero, err
		}
	}

	var p P
	if err := cbor.Unmarshal(payload, &p); err != nil {
		return zero, fmt.Errorf("trust: decoding %s payload: %w", s.cfg.Name, err)
	}

	if raw, err := cbor.Marshal(p); err == nil {
		_ = s.persist.Save(ctx, s.cfg.Alias, s.cfg.FileName, raw)
	}

	s.mu.Lock()
	s.cached = &p
	s.mu.Unlock()

	return p, nil
}

// fetchVerified GETs url, parses the body as a COSE_Sign1 envelope, and
// verifies it against the store's trust anchor, returning the raw payload
// bytes on success.
func (s *Store[P]) fetchVerified(ctx context.Context, url string) ([]byte, error) {
	status, body, err := s.fetcher.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("trust: fetching %s: %w", url, err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("trust: fetching %s: unexpected status %d", url, status)
	}

	sign1, err := cose.ParseSign1(body)
	if err != nil {
		return nil, fmt.Errorf("trust: parsing envelope from %s: %w", url, err)
	}

	ok, err := sign1.Verify(s.cfg.Anchor)
	if err != nil {
		return nil, fmt.Errorf("trust: verifying envelope from %s: %w", url, err)
	}
	if !ok {
		return nil, fmt.Errorf("trust: signature invalid for %s", url)
	}

	return sign1.Payload, nil
}

// verifyManifest fetches the companion manifest envelope and checks that
// its declared sha256 digest matches the payload of the bundle already
// fetched and verified.
func (s *Store[P]) verifyManifest(ctx context.Context, bundlePayload []byte) error {
	digest, err := s.fetchVerified(ctx, s.cfg.ManifestURL)
	if err != nil {
		return fmt.Errorf("trust: fetching manifest: %w", err)
	}

	var manifest struct {
		SHA256 []byte `cbor:"sha256"`
	}
	if err := cbor.Unmarshal(digest, &manifest); err != nil {
		return fmt.Errorf("trust: decoding manifest: %w", err)
	}

	sum := sha256.Sum256(bundlePayload)
	if !bytes.Equal(manifest.SHA256, sum[:]) {
		return fmt.Errorf("trust: manifest digest mismatch")
	}
	return nil
}
