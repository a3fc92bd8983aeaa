package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/model"
)

// --- test helpers ---

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func rsaKeyToJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func startJWKSServer(t *testing.T, hits *atomic.Int32, keys ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signJWT(t *testing.T, key any, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

const testProject = "runferry-portal"

func testIdentityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Audience: testProject,
		ClaimPaths: map[string]string{
			"subject_id":     "sub",
			"email":          "email",
			"phone_number":   "phone_number",
			"roles":          "role",
			"distributor_id": "distributor_id",
		},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "user@example.com",
		"role":  "distributor",
		"iss":   FirebaseIssuer(testProject),
		"aud":   testProject,
		"exp":   jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
}

// authFixture wires a JWKS server and an authenticator that records the
// claims it passed on.
type authFixture struct {
	key    *rsa.PrivateKey
	jwks   *JWKSClient
	mw     func(http.Handler) http.Handler
	claims map[string]any
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{key: generateRSAKey(t)}
	srv := startJWKSServer(t, nil, rsaKeyToJWK("key-1", &f.key.PublicKey))
	f.jwks = NewJWKSClient(srv.URL, time.Hour, nil)
	f.mw = JWTAuthenticator(testIdentityCfg(), f.jwks)
	return f
}

func (f *authFixture) do(t *testing.T, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	handler := f.mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.claims = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/api/profile", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("response has no error")
	}
	return resp.Error.Message
}

// --- JWKSClient tests ---

func TestJWKSClient_GetKey(t *testing.T) {
	key := generateRSAKey(t)
	srv := startJWKSServer(t, nil, rsaKeyToJWK("rsa-key-1", &key.PublicKey))

	client := NewJWKSClient(srv.URL, time.Hour, nil)
	if client.Loaded() {
		t.Error("Loaded() = true before first fetch")
	}
	got, err := client.GetKey(context.Background(), "rsa-key-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 || got.E != key.PublicKey.E {
		t.Error("returned key does not match")
	}
	if !client.Loaded() {
		t.Error("Loaded() = false after fetch")
	}
}

func TestJWKSClient_GetKey_unknown(t *testing.T) {
	key := generateRSAKey(t)
	srv := startJWKSServer(t, nil, rsaKeyToJWK("rsa-key-1", &key.PublicKey))

	client := NewJWKSClient(srv.URL, time.Hour, nil)
	if _, err := client.GetKey(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}

func TestJWKSClient_caching(t *testing.T) {
	key := generateRSAKey(t)
	var hits atomic.Int32
	srv := startJWKSServer(t, &hits, rsaKeyToJWK("k", &key.PublicKey))

	client := NewJWKSClient(srv.URL, time.Hour, nil)
	for i := 0; i < 3; i++ {
		if _, err := client.GetKey(context.Background(), "k"); err != nil {
			t.Fatalf("GetKey: %v", err)
		}
	}
	// Unknown kids inside the refresh window do not refetch either.
	client.GetKey(context.Background(), "other")
	if n := hits.Load(); n != 1 {
		t.Errorf("JWKS fetched %d times, want 1", n)
	}
}

func TestJWKSClient_skipsNonRSAKeys(t *testing.T) {
	key := generateRSAKey(t)
	srv := startJWKSServer(t, nil,
		map[string]any{"kid": "ec", "kty": "EC", "crv": "P-256", "x": "AA", "y": "AA"},
		rsaKeyToJWK("rsa", &key.PublicKey),
	)
	client := NewJWKSClient(srv.URL, time.Hour, nil)
	if err := client.Prefetch(context.Background()); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if _, err := client.GetKey(context.Background(), "ec"); err == nil {
		t.Error("EC key should not be usable")
	}
	if _, err := client.GetKey(context.Background(), "rsa"); err != nil {
		t.Errorf("GetKey(rsa): %v", err)
	}
}

func TestJWKSClient_noUsableKeys(t *testing.T) {
	srv := startJWKSServer(t, nil)
	client := NewJWKSClient(srv.URL, time.Hour, nil)
	if err := client.Prefetch(context.Background()); err == nil {
		t.Fatal("expected error for empty key set")
	}
	if client.Loaded() {
		t.Error("Loaded() = true for empty key set")
	}
}

// --- JWTAuthenticator tests ---

func TestJWTAuthenticator_validToken(t *testing.T) {
	f := newAuthFixture(t)
	token := signJWT(t, f.key, jwt.SigningMethodRS256, "key-1", validClaims())

	w := f.do(t, "Bearer "+token)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if f.claims["sub"] != "user-1" || f.claims["email"] != "user@example.com" {
		t.Errorf("claims = %v", f.claims)
	}
}

func TestJWTAuthenticator_rejections(t *testing.T) {
	f := newAuthFixture(t)
	other := generateRSAKey(t)

	with := func(mut func(jwt.MapClaims)) jwt.MapClaims {
		c := validClaims()
		mut(c)
		return c
	}

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "Missing authorization header"},
		{"not bearer", "Basic abc", "Invalid authorization header format"},
		{
			"expired",
			"Bearer " + signJWT(t, f.key, jwt.SigningMethodRS256, "key-1", with(func(c jwt.MapClaims) {
				c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			})),
			"Token expired",
		},
		{
			"wrong issuer",
			"Bearer " + signJWT(t, f.key, jwt.SigningMethodRS256, "key-1", with(func(c jwt.MapClaims) {
				c["iss"] = "https://evil.example.com"
			})),
			"Invalid token issuer",
		},
		{
			"wrong audience",
			"Bearer " + signJWT(t, f.key, jwt.SigningMethodRS256, "key-1", with(func(c jwt.MapClaims) {
				c["aud"] = "other-project"
			})),
			"Invalid token audience",
		},
		{
			"wrong signature",
			"Bearer " + signJWT(t, other, jwt.SigningMethodRS256, "key-1", validClaims()),
			"Invalid token signature",
		},
		{
			"disallowed algorithm",
			"Bearer " + signJWT(t, []byte("shared-secret"), jwt.SigningMethodHS256, "key-1", validClaims()),
			"Disallowed signing algorithm",
		},
		{
			"unknown kid",
			"Bearer " + signJWT(t, f.key, jwt.SigningMethodRS256, "key-9", validClaims()),
			"Unknown signing key",
		},
		{
			"missing exp",
			"Bearer " + signJWT(t, f.key, jwt.SigningMethodRS256, "key-1", with(func(c jwt.MapClaims) {
				delete(c, "exp")
			})),
			"Invalid token",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, tc.header)
			if w.Code != 401 {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if got := errorMessage(t, w); got != tc.want {
				t.Errorf("message = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestJWTAuthenticator_clockSkewTolerance(t *testing.T) {
	f := newAuthFixture(t)
	claims := validClaims()
	claims["exp"] = jwt.NewNumericDate(time.Now().Add(-10 * time.Second))

	w := f.do(t, "Bearer "+signJWT(t, f.key, jwt.SigningMethodRS256, "key-1", claims))
	if w.Code != 200 {
		t.Errorf("status = %d, want 200 within leeway", w.Code)
	}
}

func TestJWTAuthenticator_BuildRequestContext(t *testing.T) {
	f := newAuthFixture(t)
	claims := validClaims()
	claims["distributor_id"] = "dist-kyiv"

	var rctx *model.RequestContext
	handler := f.mw(BuildRequestContext(testIdentityCfg().ClaimPaths)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx = model.RequestContextFrom(r.Context())
		}),
	))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signJWT(t, f.key, jwt.SigningMethodRS256, "key-1", claims))
	req.Header.Set("Accept-Language", "en")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if rctx == nil {
		t.Fatal("request context not built")
	}
	if rctx.SubjectID != "user-1" || rctx.DistributorID != "dist-kyiv" || rctx.Locale != "en" {
		t.Errorf("rctx = %+v", rctx)
	}
	if !rctx.HasRole(model.RoleDistributor) {
		t.Errorf("roles = %v, want distributor", rctx.Roles)
	}
}
