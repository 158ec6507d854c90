package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	jwt.RegisteredClaims
	Name         string       `json:"name,omitempty"`
	Email        string       `json:"email,omitempty"`
	Capabilities []Capability `json:"capabilities"`
}

// JWTResolver validates HS256 bearer tokens.
type JWTResolver struct {
	secret []byte
	issuer string
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

func (r *JWTResolver) Resolve(_ context.Context, credential string) (Actor, error) {
	if credential == "" {
		return Actor{}, ErrMissingCredential
	}

	token, err := jwt.ParseWithClaims(
		credential,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return r.secret, nil
		},
		jwt.WithIssuer(r.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, ErrCredentialExpired
		}
		return Actor{}, ErrInvalidCredential
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return Actor{}, ErrInvalidCredential
	}

	caps := make([]Capability, 0, len(c.Capabilities))
	for _, cp := range c.Capabilities {
		if cp.IsValid() {
			caps = append(caps, cp)
		}
	}

	return Actor{
		UID:          c.Subject,
		Name:         c.Name,
		Email:        c.Email,
		Capabilities: caps,
	}, nil
}

// JWTIssuer mints tokens for local tooling (seed, simulation, tests).
type JWTIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTIssuer(secret, issuer string) *JWTIssuer {
	return &JWTIssuer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (i *JWTIssuer) Issue(a Actor, ttl time.Duration) (string, error) {
	now := i.now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   a.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
		Name:         a.Name,
		Email:        a.Email,
		Capabilities: a.Capabilities,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
