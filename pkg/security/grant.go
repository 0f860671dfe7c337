package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UnlockClaims bind a PIN unlock to one browser session and one destination.
type UnlockClaims struct {
	Session string `json:"sid"`
	jwt.RegisteredClaims
}

// GrantSigner mints and checks HMAC-signed unlock grants. Any replica holding
// the same secret accepts a grant, so nothing is kept in memory.
type GrantSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewGrantSigner signs with secret. An empty secret gets a random one, which
// only suits a single process.
func NewGrantSigner(secret []byte, ttl time.Duration) (*GrantSigner, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate grant secret: %w", err)
		}
	}
	return &GrantSigner{secret: secret, ttl: ttl, now: time.Now}, nil
}

func (g *GrantSigner) Issue(sessionID, destinationID string) (string, error) {
	now := g.now()
	claims := UnlockClaims{
		Session: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   destinationID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Verify reports whether grant unlocks destinationID for sessionID.
func (g *GrantSigner) Verify(grant, sessionID, destinationID string) error {
	claims := &UnlockClaims{}
	_, err := jwt.ParseWithClaims(grant, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(g.now), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if claims.Subject != destinationID || claims.Session != sessionID {
		return errors.New("grant does not match session or destination")
	}
	return nil
}
