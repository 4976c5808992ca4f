package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

var (
	// ErrKeyNotFound is returned when the token's key id is absent from the published key set.
	ErrKeyNotFound = errors.New("auth: signing key not found")
	// ErrKeySetUnavailable wraps transport or decoding failures while refreshing the key set.
	ErrKeySetUnavailable = errors.New("auth: key set unavailable")
)

const (
	defaultKeySetTTL    = 15 * time.Minute
	defaultFetchTimeout = 5 * time.Second
	maxKeySetBodyBytes  = 1 << 20
)

// KeySet caches the JSON Web Keys published at a JWKS endpoint.
type KeySet struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
	ttl     time.Duration
	timeout time.Duration

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	refreshMu sync.Mutex
}

// KeySetOption customises KeySet behaviour.
type KeySetOption func(*KeySet)

// NewKeySet constructs a key set for the given JWKS URL. Keys are fetched lazily.
func NewKeySet(url string, opts ...KeySetOption) (*KeySet, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("auth: jwks url is required")
	}
	set := &KeySet{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
		now:     time.Now,
		ttl:     defaultKeySetTTL,
		timeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(set)
		}
	}
	return set, nil
}

// WithKeySetHTTPClient overrides the HTTP client used to fetch the key set.
func WithKeySetHTTPClient(client *http.Client) KeySetOption {
	return func(s *KeySet) {
		if client != nil {
			s.client = client
		}
	}
}

// WithKeySetLogger sets the logger used for refresh diagnostics.
func WithKeySetLogger(logger *zap.Logger) KeySetOption {
	return func(s *KeySet) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKeySetTTL overrides the validity applied when the endpoint sends no cache headers.
func WithKeySetTTL(d time.Duration) KeySetOption {
	return func(s *KeySet) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithKeySetClock injects a custom time source.
func WithKeySetClock(now func() time.Time) KeySetOption {
	return func(s *KeySet) {
		if now != nil {
			s.now = now
		}
	}
}

// Keyfunc returns a jwt.Keyfunc resolving RS256 keys by the token's kid header.
func (s *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return s.Key(ctx, kid)
	}
}

// Key resolves the public key for kid. An unknown kid forces one refresh so rotated keys are
// picked up before the cached set expires.
func (s *KeySet) Key(ctx context.Context, kid string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.expired(s.now()) {
		if err := s.refresh(ctx); err != nil {
			return nil, err
		}
	}
	if key, ok := s.cached(kid); ok {
		return key, nil
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := s.cached(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

func (s *KeySet) cached(kid string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jwk, ok := s.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (s *KeySet) expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys) == 0 || !now.Before(s.expiry)
}

func (s *KeySet) refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrKeySetUnavailable, resp.StatusCode)
	}

	var doc jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetBodyBytes)).Decode(&doc); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrKeySetUnavailable, err)
	}

	keys := make(map[string]jose.JSONWebKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrKeySetUnavailable)
	}

	validity := s.ttl
	if maxAge := parseMaxAge(resp.Header.Get("Cache-Control")); maxAge > 0 {
		validity = maxAge
	}

	s.mu.Lock()
	s.keys = keys
	s.expiry = s.now().Add(validity)
	s.mu.Unlock()

	s.logger.Debug("refreshed jwks",
		zap.Int("keys", len(keys)),
		zap.Duration("valid_for", validity),
	)
	return nil
}

func parseMaxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "max-age=") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(part[len("max-age="):]))
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}
