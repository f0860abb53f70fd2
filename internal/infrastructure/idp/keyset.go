package idp

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// Defaults for the key-set cache.
const (
	DefaultKeySetTTL = 10 * time.Minute
	// minRefreshInterval throttles refetches triggered by unknown key ids.
	minRefreshInterval = 30 * time.Second
	maxKeySetBytes     = 1 << 20
)

var (
	// ErrKeyNotFound means the key set has no key for the requested id.
	ErrKeyNotFound = errors.New("idp: signing key not found")
	// ErrKeySetUnavailable wraps fetch and decode failures.
	ErrKeySetUnavailable = errors.New("idp: key set unavailable")
)

// KeySet is a TTL-bounded cache of a remote JSON Web Key Set. Each fetch is
// parsed by keyfunc; entries are refreshed lazily on lookup and concurrent
// refreshes collapse into one fetch.
type KeySet struct {
	url     string
	client  *http.Client
	ttl     time.Duration
	nowFunc func() time.Time

	mu        sync.RWMutex
	set       keyfunc.Keyfunc
	keys      map[string]any
	fetchedAt time.Time

	group singleflight.Group
}

// NewKeySet constructs a cache for the key set at url.
func NewKeySet(url string, client *http.Client, ttl time.Duration) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	return &KeySet{
		url:     url,
		client:  client,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Keyfunc adapts the cache to jwt.ParseWithClaims.
func (k *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return k.Key(ctx, kid)
	}
}

// Key returns the public key for kid. An empty kid matches the only key of a
// single-key set.
func (k *KeySet) Key(ctx context.Context, kid string) (any, error) {
	key, fresh, recent := k.lookup(kid)
	if key != nil && fresh {
		return key, nil
	}
	// Unknown kid in a fresh set: allow one refetch for key rotation, but
	// not more often than minRefreshInterval.
	if key == nil && fresh && recent {
		return nil, ErrKeyNotFound
	}

	if err := k.Refresh(ctx); err != nil {
		return nil, err
	}
	if key, _, _ = k.lookup(kid); key == nil {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

func (k *KeySet) lookup(kid string) (key any, fresh, recent bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	age := k.nowFunc().Sub(k.fetchedAt)
	fresh = k.set != nil && age < k.ttl
	recent = age < minRefreshInterval

	if kid == "" && len(k.keys) == 1 {
		for _, only := range k.keys {
			return only, fresh, recent
		}
	}
	return k.keys[kid], fresh, recent
}

// Refresh refetches the key set now. The fetch is detached from ctx
// cancellation so one abandoned request does not fail the callers sharing it;
// the client timeout still bounds it.
func (k *KeySet) Refresh(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	_, err, _ := k.group.Do("jwks", func() (any, error) {
		set, keys, err := k.fetch(ctx)
		if err != nil {
			return nil, err
		}
		k.mu.Lock()
		k.set = set
		k.keys = keys
		k.fetchedAt = k.nowFunc()
		k.mu.Unlock()
		return nil, nil
	})
	return err
}

func (k *KeySet) fetch(ctx context.Context) (keyfunc.Keyfunc, map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: unexpected status %d", ErrKeySetUnavailable, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read: %v", ErrKeySetUnavailable, err)
	}

	set, err := keyfunc.NewJWKSetJSON(json.RawMessage(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decode: %v", ErrKeySetUnavailable, err)
	}
	jwks, err := set.Storage().KeyReadAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	keys := make(map[string]any, len(jwks))
	for _, jwk := range jwks {
		meta := jwk.Marshal()
		if use := string(meta.USE); use != "" && use != "sig" {
			continue
		}
		switch key := jwk.Key().(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
			keys[meta.KID] = key
		}
	}
	if len(keys) == 0 {
		return nil, nil, fmt.Errorf("%w: no usable signing keys", ErrKeySetUnavailable)
	}
	return set, keys, nil
}
