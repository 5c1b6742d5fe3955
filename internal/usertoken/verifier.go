// Package usertoken verifies the bearer token a caller presents and yields the
// user id it was issued to. Tokens are HS256 with a shared secret, or RS256
// against a JWKS endpoint.
package usertoken

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "formpilot-auth"
	defaultAudience = "formpilot-api"
	defaultLeeway   = 30 * time.Second
)

var (
	ErrMissingToken   = errors.New("bearer token missing")
	ErrMissingSubject = errors.New("token subject missing")
	errUnknownKey     = errors.New("unknown token key")
)

type Config struct {
	// Secret enables HS256 verification. When empty, JWKSURL is required.
	Secret     string
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

type keySource interface {
	method() jwt.SigningMethod
	lookup(kid string) (any, error)
	// stale reports whether a failed parse is worth retrying after reload.
	stale(err error) bool
	reload() error
}

type Verifier struct {
	issuer   string
	audience string
	leeway   time.Duration
	keys     keySource
}

func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{
		issuer:   firstNonEmpty(cfg.Issuer, defaultIssuer),
		audience: firstNonEmpty(cfg.Audience, defaultAudience),
		leeway:   cfg.Leeway,
	}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	if secret := strings.TrimSpace(cfg.Secret); secret != "" {
		v.keys = sharedSecret(secret)
		return v, nil
	}
	src, err := newJWKSSource(cfg.JWKSURL, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	v.keys = src
	return v, nil
}

// VerifySubject validates the token and returns its subject.
func (v *Verifier) VerifySubject(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	claims, err := v.parse(token)
	if err != nil && v.keys.stale(err) {
		if reloadErr := v.keys.reload(); reloadErr != nil {
			return "", reloadErr
		}
		claims, err = v.parse(token)
	}
	if err != nil {
		return "", err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrMissingSubject
	}
	return subject, nil
}

// VerifyRequest reads the Authorization header of r.
func (v *Verifier) VerifyRequest(r *http.Request) (string, error) {
	return v.VerifySubject(BearerToken(r))
}

func (v *Verifier) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.lookup(strings.TrimSpace(kid))
	},
		jwt.WithValidMethods([]string{v.keys.method().Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err == nil && !parsed.Valid {
		err = errors.New("invalid token")
	}
	return claims, err
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

type sharedSecret []byte

func (s sharedSecret) method() jwt.SigningMethod { return jwt.SigningMethodHS256 }
func (s sharedSecret) lookup(string) (any, error) { return []byte(s), nil }
func (s sharedSecret) stale(error) bool { return false }
func (s sharedSecret) reload() error { return nil }

func firstNonEmpty(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
