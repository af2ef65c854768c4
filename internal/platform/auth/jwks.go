package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrJWKSKeyNotFound means the token's kid is not in the current key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport and decode failures while loading the key set.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSValidity = 15 * time.Minute
	jwksFetchTimeout    = 5 * time.Second
)

// JWKSCache loads Google's signing keys on demand and keeps them for the Cache-Control max-age
// of the response. An unknown kid forces one refetch, which covers key rotation.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	fetchMu sync.Mutex
}

// JWKSOption customises a cache.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient sets the client used for fetches.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSClock sets the time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache creates a cache for url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Keyfunc resolves RS256 verification keys for jwt parsing.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if key, fresh, ok := c.lookup(kid); ok && fresh {
		return key, nil
	}
	if err := c.fetch(ctx); err != nil {
		return nil, err
	}
	if key, _, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) lookup(kid string) (any, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false, false
	}
	return jwk.Key, c.now().Before(c.expiry), true
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := maxAge(resp.Header.Get("Cache-Control"))
	if validity <= 0 {
		validity = defaultJWKSValidity
	}

	c.mu.Lock()
	c.keys = keys
	c.expiry = c.now().Add(validity)
	c.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
