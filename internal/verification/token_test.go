package verification

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/runferry/portal/model"
)

func TestTokens_issueVerify(t *testing.T) {
	tokens, err := NewTokens("secret", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokens() error = %v", err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return now }

	tok, expires, err := tokens.Issue("380501234567")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !expires.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("expires = %v, want %v", expires, now.Add(30*time.Minute))
	}

	if err := tokens.Verify(tok, "+380 50 123 45 67"); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	if err := tokens.Verify(tok, "380671234567"); !model.HasCode(err, model.ErrForbidden) {
		t.Errorf("Verify(other phone) error = %v, want FORBIDDEN", err)
	}

	now = now.Add(31 * time.Minute)
	if err := tokens.Verify(tok, "380501234567"); !model.HasCode(err, model.ErrUnauthorized) {
		t.Errorf("Verify(expired) error = %v, want UNAUTHORIZED", err)
	}
}

func TestTokens_rejectsForeignTokens(t *testing.T) {
	tokens, _ := NewTokens("secret", time.Minute)
	other, _ := NewTokens("other-secret", time.Minute)

	tok, _, err := other.Issue("380501234567")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if err := tokens.Verify(tok, "380501234567"); !model.HasCode(err, model.ErrUnauthorized) {
		t.Errorf("Verify(foreign signature) error = %v, want UNAUTHORIZED", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "380501234567",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if err := tokens.Verify(none, "380501234567"); !model.HasCode(err, model.ErrUnauthorized) {
		t.Errorf("Verify(alg none) error = %v, want UNAUTHORIZED", err)
	}

	if err := tokens.Verify("", "380501234567"); !model.HasCode(err, model.ErrUnauthorized) {
		t.Errorf("Verify(empty) error = %v, want UNAUTHORIZED", err)
	}
}

func TestNewTokens_randomSecret(t *testing.T) {
	a, _ := NewTokens("", 0)
	b, _ := NewTokens("", 0)

	tok, _, err := a.Issue("380501234567")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if err := b.Verify(tok, "380501234567"); err == nil {
		t.Error("tokens from another random secret must not verify")
	}
	if a.ttl != 30*time.Minute {
		t.Errorf("default ttl = %v, want 30m", a.ttl)
	}
}
