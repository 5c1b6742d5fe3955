package usertoken

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultJWKSCacheTTL = 5 * time.Minute

type jwksSource struct {
	url    string
	client *http.Client

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

func newJWKSSource(url string, client *http.Client) (*jwksSource, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("token verifier requires a secret or jwksURL")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	src := &jwksSource{url: url, client: client}
	if err := src.reload(); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *jwksSource) method() jwt.SigningMethod { return jwt.SigningMethodRS256 }

func (s *jwksSource) lookup(kid string) (any, error) {
	if kid == "" {
		return nil, errUnknownKey
	}
	s.mu.RLock()
	key, ok := s.keys[kid]
	s.mu.RUnlock()
	if !ok {
		return nil, errUnknownKey
	}
	return key, nil
}

// A rotated key shows up as an unknown kid; an expired cache is always reloaded.
func (s *jwksSource) stale(err error) bool {
	if errors.Is(err, errUnknownKey) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Now().After(s.expires)
}

func (s *jwksSource) reload() error {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		kid := strings.TrimSpace(k.Kid)
		if kid == "" || !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		if pub, err := rsaKey(k.N, k.E); err == nil {
			keys[kid] = pub
		}
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}
	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}
	s.mu.Lock()
	s.keys = keys
	s.expires = time.Now().Add(ttl)
	s.mu.Unlock()
	return nil
}

func rsaKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nb)
	e := new(big.Int).SetBytes(eb)
	if n.Sign() <= 0 || !e.IsInt64() || e.Int64() <= 0 {
		return nil, errors.New("invalid rsa key")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}
