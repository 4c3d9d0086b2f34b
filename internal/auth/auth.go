package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultCacheTTL = time.Minute

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the resolved subject of a verified access token.
type Identity struct {
	UserID      string
	DisplayName string
}

type Config struct {
	Secret      string `json:"secret"`
	secretBytes []byte `json:"-"`
	// CacheTTL bounds how long a verified token is trusted without
	// re-checking the signature. Expiry is still enforced on cache hits.
	CacheTTL time.Duration `json:"cacheTTL"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}

	return nil
}

type cachedIdentity struct {
	identity  Identity
	expiresAt int64
}

// Verifier checks bearer tokens presented on connection handshakes and REST
// calls. Token issuance belongs to the auth service elsewhere in the system;
// only possession matters here.
type Verifier struct {
	Config
	verified geche.Geche[string, cachedIdentity]
	now      func() time.Time
}

func NewVerifier(ctx context.Context, config Config) (*Verifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{
		Config:   config,
		verified: geche.NewMapTTLCache[string, cachedIdentity](ctx, config.CacheTTL, time.Minute),
		now:      time.Now,
	}, nil
}

// Verify parses and validates a token, returning the identity it carries.
// Any failure (bad signature, expiry, missing subject) yields ErrInvalidToken.
func (v *Verifier) Verify(token string) (Identity, error) {
	if cached, err := v.verified.Get(token); err == nil {
		if v.now().Unix() < cached.expiresAt {
			return cached.identity, nil
		}
		_ = v.verified.Del(token)
		return Identity{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secretBytes, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(v.now))
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, ErrInvalidToken
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Identity{}, ErrInvalidToken
	}

	ident := Identity{UserID: sub}
	if name, ok := claims["name"].(string); ok {
		ident.DisplayName = name
	}

	v.verified.Set(token, cachedIdentity{identity: ident, expiresAt: exp.Unix()})
	return ident, nil
}

// Issue signs a token for the given identity. Used by tests and tooling;
// production tokens come from the auth service.
func (v *Verifier) Issue(ident Identity, ttl time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  ident.UserID,
		"name": ident.DisplayName,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secretBytes)
}
