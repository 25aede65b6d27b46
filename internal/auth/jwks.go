package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"dbmcp/pkg/logging"
)

const (
	wellKnownAuthServer = "/.well-known/oauth-authorization-server"
	wellKnownOpenID     = "/.well-known/openid-configuration"

	fetchTimeout       = 10 * time.Second
	minRefreshInterval = time.Minute
)

// serverMetadata is the slice of the authorization server metadata document
// (RFC 8414 / OpenID discovery) this layer cares about.
type serverMetadata struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// jwksDocument is a JSON Web Key Set response.
type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// jwk is a single JSON Web Key. Only the members needed to assemble RSA and
// EC public keys are decoded.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// KeySet resolves signing keys for token validation. Keys are fetched from
// the key-set URI once at startup and cached by kid; an unknown kid triggers
// a refetch, rate-limited to one per minRefreshInterval.
type KeySet struct {
	client *http.Client
	uri    string

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	lastFetch time.Time
}

// NewKeySet builds a KeySet for the given authorization server. When
// jwksURI is set it is used directly and discovery is skipped entirely.
// Otherwise the well-known metadata of the issuer is consulted; if that
// fails a DiscoveryError is returned and the caller must treat it as fatal.
// A failed initial key fetch from a known URI is only a warning; keys load
// lazily on the first validation.
func NewKeySet(ctx context.Context, issuer, jwksURI string) (*KeySet, error) {
	client := &http.Client{Timeout: fetchTimeout}

	uri := jwksURI
	if uri == "" {
		if issuer == "" {
			return nil, &DiscoveryError{Issuer: issuer, Err: fmt.Errorf("no issuer and no key-set URI configured")}
		}
		discovered, err := discoverJWKSURI(ctx, client, issuer)
		if err != nil {
			return nil, err
		}
		uri = discovered
		logging.Info("JWKS", "discovered key set %s for issuer %s", uri, issuer)
	}

	ks := &KeySet{
		client: client,
		uri:    uri,
		keys:   make(map[string]crypto.PublicKey),
	}
	if err := ks.refresh(ctx); err != nil {
		logging.Warn("JWKS", "initial key fetch from %s failed, keys will load on first validation: %v", uri, err)
	}
	return ks, nil
}

// URI returns the resolved key-set URI.
func (k *KeySet) URI() string {
	return k.uri
}

// Key returns the public key for kid. An empty kid is accepted when the set
// holds exactly one key. A miss triggers one rate-limited refetch before
// giving up.
func (k *KeySet) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if key, ok := k.lookup(kid); ok {
		return key, nil
	}

	if err := k.refreshIfStale(ctx); err != nil {
		return nil, fmt.Errorf("key %q not cached and refetch failed: %w", kid, err)
	}
	if key, ok := k.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("no key %q in key set", kid)
}

func (k *KeySet) lookup(kid string) (crypto.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if key, ok := k.keys[kid]; ok {
		return key, true
	}
	if kid == "" && len(k.keys) == 1 {
		for _, key := range k.keys {
			return key, true
		}
	}
	return nil, false
}

// refreshIfStale refetches the key set unless a fetch ran within
// minRefreshInterval, so a flood of unknown-kid tokens cannot hammer the
// authorization server.
func (k *KeySet) refreshIfStale(ctx context.Context) error {
	k.mu.RLock()
	recent := time.Since(k.lastFetch) < minRefreshInterval
	k.mu.RUnlock()
	if recent {
		return nil
	}
	return k.refresh(ctx)
}

func (k *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.uri, nil)
	if err != nil {
		return fmt.Errorf("building key set request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching key set: unexpected status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decoding key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, j := range doc.Keys {
		key, err := parseJWK(j)
		if err != nil {
			logging.Warn("JWKS", "skipping key %q: %v", j.Kid, err)
			continue
		}
		keys[j.Kid] = key
	}

	k.mu.Lock()
	k.keys = keys
	k.lastFetch = time.Now()
	k.mu.Unlock()

	logging.Debug("JWKS", "loaded %d signing keys from %s", len(keys), k.uri)
	return nil
}

// discoverJWKSURI asks the issuer's well-known endpoints for the jwks_uri.
// The OAuth authorization-server metadata path is tried first, then the
// OpenID configuration path.
func discoverJWKSURI(ctx context.Context, client *http.Client, issuer string) (string, error) {
	base := strings.TrimRight(issuer, "/")

	var lastErr error
	for _, path := range []string{wellKnownAuthServer, wellKnownOpenID} {
		uri, err := fetchMetadataJWKSURI(ctx, client, base+path)
		if err != nil {
			lastErr = err
			continue
		}
		return uri, nil
	}
	return "", &DiscoveryError{Issuer: issuer, Err: lastErr}
}

func fetchMetadataJWKSURI(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building metadata request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	var md serverMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return "", fmt.Errorf("decoding metadata from %s: %w", url, err)
	}
	if md.JWKSURI == "" {
		return "", fmt.Errorf("metadata at %s has no jwks_uri", url)
	}
	return md.JWKSURI, nil
}

func parseJWK(j jwk) (crypto.PublicKey, error) {
	switch j.Kty {
	case "RSA":
		return parseRSAJWK(j)
	case "EC":
		return parseECJWK(j)
	default:
		return nil, fmt.Errorf("unsupported key type %q", j.Kty)
	}
}

func parseRSAJWK(j jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("empty RSA key material")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func parseECJWK(j jwk) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch j.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", j.Crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return nil, fmt.Errorf("decoding x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(j.Y)
	if err != nil {
		return nil, fmt.Errorf("decoding y coordinate: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
