package verification

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/runferry/portal/model"
)

const tokenIssuer = "portal-phone-verification"

// phoneClaims names the verified phone in the subject.
type phoneClaims struct {
	jwt.RegisteredClaims
}

// Tokens issues and checks HS256 phone tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer. An empty secret is replaced by a random
// one, so tokens do not survive a restart.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("verification: generate token secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Tokens{secret: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a token for a normalized phone.
func (t *Tokens) Issue(phone string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := phoneClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   phone,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verification: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks that token is valid and was issued for phone. The phone is
// normalized first, so any accepted input format works.
func (t *Tokens) Verify(token, phone string) error {
	if token == "" {
		return model.NewUnauthorizedError("phone verification token is required")
	}
	normalized, err := Normalize(phone)
	if err != nil {
		return err
	}

	var claims phoneClaims
	_, err = jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.NewUnauthorizedError("phone verification has expired").WithCause(err)
		}
		return model.NewUnauthorizedError("invalid phone verification token").WithCause(err)
	}
	if claims.Subject != normalized {
		return model.NewForbiddenError("phone verification token was issued for another number")
	}
	return nil
}
