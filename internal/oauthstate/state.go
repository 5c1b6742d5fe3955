// Package oauthstate issues and verifies the OAuth "state" parameter: a signed
// token naming the user and provider, redeemable once.
package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"formpilot/internal/util"
)

const (
	defaultTTL    = 10 * time.Minute
	defaultPrefix = "formpilot:oauth:state"
	issuer        = "formpilot-oauth"
)

var (
	ErrInvalid = errors.New("invalid oauth state")
	ErrUsed    = errors.New("oauth state already used or expired")
)

// Claims carried by a state token.
type Claims struct {
	Provider string `json:"prv"`
	jwt.RegisteredClaims
}

// Manager signs state tokens and tracks their single-use nonces in Redis.
type Manager struct {
	secret []byte
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewManager(secret string, client redis.UniversalClient, ttl time.Duration) (*Manager, error) {
	if len(strings.TrimSpace(secret)) < 16 {
		return nil, errors.New("oauth state secret must be at least 16 characters")
	}
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{secret: []byte(secret), client: client, prefix: defaultPrefix, ttl: ttl}, nil
}

// Issue returns a state value for userID starting an authorization with provider.
func (m *Manager) Issue(ctx context.Context, userID, provider string) (string, error) {
	now := time.Now().UTC()
	nonce := util.NewToken(16)
	claims := Claims{
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	if err := m.client.Set(ctx, m.key(nonce), userID, m.ttl).Err(); err != nil {
		return "", fmt.Errorf("store state nonce: %w", err)
	}
	return signed, nil
}

// Consume verifies signature, expiry and provider, then burns the nonce.
// It returns the user id the state was issued for.
func (m *Manager) Consume(ctx context.Context, state, provider string) (string, error) {
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Provider != provider || claims.Subject == "" || claims.ID == "" {
		return "", ErrInvalid
	}
	deleted, err := m.client.Del(ctx, m.key(claims.ID)).Result()
	if err != nil {
		return "", fmt.Errorf("consume state nonce: %w", err)
	}
	if deleted == 0 {
		return "", ErrUsed
	}
	return claims.Subject, nil
}

func (m *Manager) key(nonce string) string {
	return m.prefix + ":" + nonce
}
