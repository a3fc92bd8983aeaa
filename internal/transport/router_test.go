package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/runferry/portal/internal/access"
	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/fleet"
	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/internal/profile"
	"github.com/runferry/portal/internal/repair"
	"github.com/runferry/portal/internal/upstream"
	"github.com/runferry/portal/internal/verification"
	"github.com/runferry/portal/model"
)

// testDeps returns Dependencies with sensible defaults for testing.
func testDeps() Dependencies {
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Server.HandlerTimeout = 5 * time.Second
	cfg.Configurator.PublicBaseURL = "https://runferry.example/configurator"
	return Dependencies{Config: cfg}
}

// claimsAuth stands in for JWTAuthenticator: the X-Test-User header becomes
// the subject, an empty header is rejected.
func claimsAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := r.Header.Get("X-Test-User")
		if sub == "" {
			WriteError(w, model.NewUnauthorizedError("rejected"))
			return
		}
		claims := map[string]any{"sub": sub, "email": sub + "@example.com"}
		if role := r.Header.Get("X-Test-Role"); role != "" {
			claims["role"] = role
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func serve(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, data any) model.Response {
	t.Helper()
	resp := model.Response{Data: data}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// --- Router tests ---

func TestNewRouter_health(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestNewRouter_ready(t *testing.T) {
	deps := testDeps()
	loaded := false
	deps.Readiness = observability.ReadinessChecks{IdentityKeysLoaded: func() bool { return loaded }}
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))
	if w.Code != 503 {
		t.Errorf("status before keys = %d, want 503", w.Code)
	}

	loaded = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))
	if w.Code != 200 {
		t.Errorf("status after keys = %d, want 200", w.Code)
	}
}

func TestNewRouter_metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	deps := testDeps()
	deps.Metrics = observability.InitMetrics(reg)
	deps.Gatherer = reg
	r := NewRouter(deps)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/configurator/palettes", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Error("metrics output missing http_requests_total")
	}
}

func TestNewRouter_authenticatedRoutes_areRegistered(t *testing.T) {
	// With no authenticator every protected route answers 401, confirming
	// it is registered and not 404/405.
	deps := testDeps()
	deps.Capabilities = access.NewResolver(nil, deps.Config.Access)
	store := fleet.NewMemoryStore()
	deps.Fleet = fleet.NewService(store, deps.Config.Fleet)
	deps.Profile = profile.NewService(profile.NewMemoryStore())
	deps.Verification = newTestVerification(t)
	deps.Repair = repair.NewClient(upstream.New(config.ServiceRepair, config.ServiceConfig{BaseURL: "http://127.0.0.1:1"}))
	r := NewRouter(deps)

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/api/boats"},
		{"POST", "/api/boats/verify"},
		{"POST", "/api/boats/link"},
		{"DELETE", "/api/boats/RF100001/link"},
		{"GET", "/api/boats/RF100001/reservoirs"},
		{"PUT", "/api/boats/RF100001/reservoirs/by-number/1"},
		{"GET", "/api/boats/RF100001/reservoirs/r1/points"},
		{"POST", "/api/boats/RF100001/reservoirs/r1/points"},
		{"PATCH", "/api/boats/RF100001/reservoirs/r1/points/p1"},
		{"DELETE", "/api/boats/RF100001/reservoirs/r1/points/p1"},
		{"GET", "/api/boats/RF100001/reservoirs/r1/points/p1/deliveries"},
		{"POST", "/api/boats/RF100001/reservoirs/r1/points/p1/deliveries"},
		{"GET", "/api/boats/RF100001/reservoirs/r1/deliveries"},
		{"GET", "/api/boats/RF100001/reservoirs/r1/deliveries.xlsx"},
		{"POST", "/api/boats/RF100001/reservoirs/r1/share"},
		{"POST", "/api/boats/RF100001/import"},
		{"GET", "/api/boats/RF100001/access"},
		{"PUT", "/api/boats/RF100001/access"},
		{"GET", "/api/shares/abc"},
		{"GET", "/api/distributors"},
		{"GET", "/api/distributors/me/boats"},
		{"GET", "/api/profile"},
		{"PATCH", "/api/profile"},
		{"POST", "/api/profile/service-requests"},
		{"DELETE", "/api/profile/service-requests/r1"},
		{"POST", "/api/service/requests"},
		{"GET", "/api/service/requests/r1"},
		{"GET", "/api/service/requests/r1/summary.pdf"},
		{"POST", "/api/service/requests/r1/accept"},
		{"POST", "/api/service/requests/r1/select-repair"},
		{"POST", "/api/service/requests/r1/comments"},
		{"POST", "/api/service/requests/r1/questions"},
		{"POST", "/api/service/requests/r1/call-requests"},
		{"PUT", "/api/service/requests/r1/client-info"},
		{"GET", "/api/service/phones/0501234567/requests"},
		{"GET", "/api/service/phones/0501234567/history"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := serve(t, r, rt.method, rt.path, "", "")
			if w.Code != 401 {
				t.Errorf("%s %s: status = %d, want 401", rt.method, rt.path, w.Code)
			}
		})
	}
}

func TestNewRouter_unknownRoute(t *testing.T) {
	r := NewRouter(testDeps())
	w := serve(t, r, "GET", "/api/nope", "", "")
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNewRouter_securityHeaders(t *testing.T) {
	r := NewRouter(testDeps())
	w := serve(t, r, "GET", "/health", "", "")

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("X-Correlation-Id") == "" {
		t.Error("X-Correlation-Id not set")
	}
}

func TestNewRouter_correlationIDPassthrough(t *testing.T) {
	r := NewRouter(testDeps())
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Correlation-Id"); got != "corr-123" {
		t.Errorf("X-Correlation-Id = %q, want corr-123", got)
	}
}

func TestNewRouter_CORS(t *testing.T) {
	r := NewRouter(testDeps())

	req := httptest.NewRequest("OPTIONS", "/api/profile", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 204 {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unknown origin = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// --- Configurator ---

func TestConfiguratorRoutes(t *testing.T) {
	r := NewRouter(testDeps())

	w := serve(t, r, "POST", "/api/configurator/codes", "",
		`{"configuration":{"hullColorIndex":9,"leftGroup1":{"stickerNumber":11,"colorIndex":10},"leftGroup2":{"stickerNumber":8,"colorIndex":0},"topSticker":{"stickerNumber":null,"colorIndex":0},"backSticker":{"stickerNumber":6,"colorIndex":1}}}`)
	if w.Code != 200 {
		t.Fatalf("encode status = %d; body %s", w.Code, w.Body.String())
	}
	var enc encodeResponse
	decodeData(t, w, &enc)
	if len(enc.Code) != 9 {
		t.Fatalf("code = %q, want 9 characters", enc.Code)
	}
	if !strings.HasPrefix(enc.ShareURL, "https://runferry.example/configurator") || !strings.Contains(enc.ShareURL, enc.Code) {
		t.Errorf("shareUrl = %q", enc.ShareURL)
	}

	w = serve(t, r, "GET", "/api/configurator/codes/"+strings.ToLower(enc.Code), "", "")
	if w.Code != 200 {
		t.Fatalf("decode status = %d; body %s", w.Code, w.Body.String())
	}
	var dec decodeResponse
	decodeData(t, w, &dec)
	if dec.Code != enc.Code || dec.Configuration.HullColorIndex != 9 || dec.Configuration.LeftGroup1.StickerNumber != 11 {
		t.Errorf("decoded = %+v", dec)
	}

	w = serve(t, r, "GET", "/api/configurator/codes/"+enc.Code+"/qr.png", "", "")
	if w.Code != 200 || w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("qr status = %d, type %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(w.Body.String(), "\x89PNG") {
		t.Error("qr body is not a PNG")
	}

	w = serve(t, r, "GET", "/api/configurator/codes/TOO-SHORT", "", "")
	if w.Code != 400 {
		t.Errorf("bad code status = %d, want 400", w.Code)
	}

	w = serve(t, r, "POST", "/api/configurator/codes", "", `{}`)
	if w.Code != 400 {
		t.Errorf("missing configuration status = %d, want 400", w.Code)
	}

	w = serve(t, r, "POST", "/api/configurator/codes", "", `{"configuration":{"hullColorIndex":30}}`)
	if w.Code != 400 {
		t.Errorf("invalid configuration status = %d, want 400", w.Code)
	}
}

// --- SMS and phone tokens ---

func newTestVerification(t *testing.T) *verification.Service {
	t.Helper()
	tokens, err := verification.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	return verification.NewService(verification.NewMemoryStore(), verification.NewLogSender(nil), tokens, config.Defaults().Verification)
}

func TestSMSRoutes(t *testing.T) {
	deps := testDeps()
	deps.Verification = newTestVerification(t)
	r := NewRouter(deps)

	w := serve(t, r, "POST", "/api/sms/send-code", "", `{"phone":"050 123 45 67"}`)
	if w.Code != 200 {
		t.Fatalf("send status = %d; body %s", w.Code, w.Body.String())
	}

	w = serve(t, r, "POST", "/api/sms/send-code", "", `{"phone":"050 123 45 67"}`)
	if w.Code != 429 {
		t.Errorf("resend status = %d, want 429", w.Code)
	}

	w = serve(t, r, "POST", "/api/sms/send-code", "", `{"phone":""}`)
	if w.Code != 400 {
		t.Errorf("missing phone status = %d, want 400", w.Code)
	}

	w = serve(t, r, "POST", "/api/sms/verify-code", "", `{"phone":"0671112233","code":"123456"}`)
	if w.Code != 404 {
		t.Errorf("verify without code status = %d, want 404", w.Code)
	}
}

func TestPhoneTokenRoutes(t *testing.T) {
	var gotPath string
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"List":[{"id":"r-1","Number":"42","Date":"2026-04-01"}]}`)
	}))
	t.Cleanup(portal.Close)

	deps := testDeps()
	deps.Authenticate = claimsAuth
	deps.Verification = newTestVerification(t)
	deps.Repair = repair.NewClient(upstream.New(config.ServiceRepair, config.ServiceConfig{BaseURL: portal.URL}))
	r := NewRouter(deps)

	w := serve(t, r, "GET", "/api/service/phones/0501234567/requests", "user-1", "")
	if w.Code != 401 {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	token, _, err := deps.Verification.Tokens().Issue("380501234567")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/service/phones/0671112233/requests", nil)
	req.Header.Set("X-Test-User", "user-1")
	req.Header.Set(phoneTokenHeader, token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 403 {
		t.Errorf("token for another phone status = %d, want 403", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/service/phones/050-123-45-67/requests", nil)
	req.Header.Set("X-Test-User", "user-1")
	req.Header.Set(phoneTokenHeader, token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	var list []repair.RequestSummary
	decodeData(t, w, &list)
	if len(list) != 1 || list[0].Number != "42" {
		t.Errorf("list = %+v", list)
	}
	if !strings.HasSuffix(gotPath, "/repair/380501234567/List") {
		t.Errorf("upstream path = %q", gotPath)
	}
}

// --- Fleet and capabilities ---

type fleetFixture struct {
	router http.Handler
	store  *fleet.MemoryStore
	svc    *fleet.Service
}

func newFleetFixture(t *testing.T) *fleetFixture {
	t.Helper()
	hash, err := fleet.HashPassword("secret-1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store := fleet.NewMemoryStore()
	ctx := context.Background()
	if err := store.PutBoat(ctx, fleet.Boat{ID: "RF100001", Name: "Carp Hunter", Firmware: "2.4.1", PasswordHash: hash}); err != nil {
		t.Fatalf("PutBoat: %v", err)
	}
	if err := store.PutDistributor(ctx, fleet.Distributor{ID: "dist-kyiv", Name: "Kyiv Bait"}); err != nil {
		t.Fatalf("PutDistributor: %v", err)
	}

	deps := testDeps()
	deps.Authenticate = claimsAuth
	var resolver *access.Resolver
	svc := fleet.NewService(store, deps.Config.Fleet, fleet.WithInvalidator(fleet.InvalidatorFunc(func(subjectID, boatID string) {
		resolver.Invalidate(subjectID, boatID)
	})))
	resolver = access.NewResolver(svc, deps.Config.Access)
	deps.Fleet = svc
	deps.Capabilities = resolver
	return &fleetFixture{router: NewRouter(deps), store: store, svc: svc}
}

func TestFleetRoutes_linkAndCapabilities(t *testing.T) {
	f := newFleetFixture(t)

	w := serve(t, f.router, "GET", "/api/boats/RF100001/reservoirs", "user-1", "")
	if w.Code != 403 {
		t.Fatalf("before link status = %d, want 403", w.Code)
	}

	w = serve(t, f.router, "POST", "/api/boats/link", "user-1", `{"boatId":"rf100001","password":"wrong"}`)
	if w.Code != 403 {
		t.Errorf("wrong password status = %d, want 403", w.Code)
	}

	w = serve(t, f.router, "POST", "/api/boats/link", "user-1", `{"boatId":"rf100001","password":"secret-1"}`)
	if w.Code != 201 {
		t.Fatalf("link status = %d; body %s", w.Code, w.Body.String())
	}

	w = serve(t, f.router, "GET", "/api/boats", "user-1", "")
	var boats []fleet.BoatInfo
	decodeData(t, w, &boats)
	if len(boats) != 1 || boats[0].ID != "RF100001" {
		t.Errorf("boats = %+v", boats)
	}

	if _, err := f.store.CreateReservoir(context.Background(), fleet.Reservoir{ID: "res-1", BoatID: "RF100001", Name: "Pond"}, nil); err != nil {
		t.Fatalf("CreateReservoir: %v", err)
	}

	w = serve(t, f.router, "GET", "/api/boats/rf100001/reservoirs", "user-1", "")
	if w.Code != 200 {
		t.Fatalf("owner status = %d; body %s", w.Code, w.Body.String())
	}
	var reservoirs []fleet.Reservoir
	decodeData(t, w, &reservoirs)
	if len(reservoirs) != 1 || reservoirs[0].Name != "Pond" {
		t.Errorf("reservoirs = %+v", reservoirs)
	}

	w = serve(t, f.router, "GET", "/api/boats/RF100001/reservoirs", "user-2", "")
	if w.Code != 403 {
		t.Errorf("stranger status = %d, want 403", w.Code)
	}

	w = serve(t, f.router, "PUT", "/api/boats/RF100001/reservoirs/by-number/1", "user-1", `{"name":"Lake"}`)
	if w.Code != 200 {
		t.Errorf("rename status = %d; body %s", w.Code, w.Body.String())
	}

	w = serve(t, f.router, "PUT", "/api/boats/RF100001/reservoirs/by-number/x", "user-1", `{"name":"Lake"}`)
	if w.Code != 400 {
		t.Errorf("bad number status = %d, want 400", w.Code)
	}
}

func TestFleetRoutes_pointsAndExport(t *testing.T) {
	f := newFleetFixture(t)
	serve(t, f.router, "POST", "/api/boats/link", "user-1", `{"boatId":"RF100001","password":"secret-1"}`)
	if _, err := f.store.CreateReservoir(context.Background(), fleet.Reservoir{ID: "res-1", BoatID: "RF100001", Name: "Pond"}, nil); err != nil {
		t.Fatalf("CreateReservoir: %v", err)
	}

	w := serve(t, f.router, "POST", "/api/boats/RF100001/reservoirs/res-1/points", "user-1",
		`{"name":"Snag","coordinates":{"lat":50.45,"lng":30.52},"depth":3.5}`)
	if w.Code != 201 {
		t.Fatalf("create point status = %d; body %s", w.Code, w.Body.String())
	}
	var p fleet.Point
	decodeData(t, w, &p)

	w = serve(t, f.router, "POST", "/api/boats/RF100001/reservoirs/res-1/points", "user-1",
		`{"name":"Bad","coordinates":{"lat":91,"lng":0}}`)
	if w.Code != 400 {
		t.Errorf("bad coordinates status = %d, want 400", w.Code)
	}

	w = serve(t, f.router, "POST", "/api/boats/RF100001/reservoirs/res-1/points/"+p.ID+"/deliveries", "user-1",
		`{"timestamp":"2026-04-01T08:00:00Z","duration":120,"distance":85.5,"status":"completed"}`)
	if w.Code != 201 {
		t.Fatalf("record delivery status = %d; body %s", w.Code, w.Body.String())
	}

	w = serve(t, f.router, "GET", "/api/boats/RF100001/reservoirs/res-1/deliveries.xlsx", "user-1", "")
	if w.Code != 200 {
		t.Fatalf("export status = %d; body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "deliveries_RF100001_") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.HasPrefix(w.Body.String(), "PK") {
		t.Error("export body is not a zip container")
	}

	w = serve(t, f.router, "DELETE", "/api/boats/RF100001/reservoirs/res-1/points/"+p.ID, "user-1", "")
	if w.Code != 204 {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
}

func TestFleetRoutes_shareAndImport(t *testing.T) {
	f := newFleetFixture(t)
	serve(t, f.router, "POST", "/api/boats/link", "user-1", `{"boatId":"RF100001","password":"secret-1"}`)
	if _, err := f.store.CreateReservoir(context.Background(), fleet.Reservoir{ID: "res-1", BoatID: "RF100001", Name: "Pond"}, nil); err != nil {
		t.Fatalf("CreateReservoir: %v", err)
	}

	w := serve(t, f.router, "POST", "/api/boats/RF100001/reservoirs/res-1/share", "user-1", "")
	if w.Code != 201 {
		t.Fatalf("share status = %d; body %s", w.Code, w.Body.String())
	}
	var sh fleet.Share
	decodeData(t, w, &sh)

	w = serve(t, f.router, "GET", "/api/shares/"+sh.Key, "user-2", "")
	if w.Code != 200 {
		t.Errorf("get shared status = %d", w.Code)
	}

	w = serve(t, f.router, "POST", "/api/boats/RF100001/import", "user-1", `{}`)
	if w.Code != 400 {
		t.Errorf("missing key status = %d, want 400", w.Code)
	}

	w = serve(t, f.router, "POST", "/api/boats/RF100001/import", "user-1", `{"shareKey":"`+sh.Key+`"}`)
	if w.Code != 201 {
		t.Fatalf("import status = %d; body %s", w.Code, w.Body.String())
	}
	var res fleet.Reservoir
	decodeData(t, w, &res)
	if res.Number != 2 {
		t.Errorf("imported number = %d, want 2", res.Number)
	}
}

func TestFleetRoutes_distributorAccess(t *testing.T) {
	f := newFleetFixture(t)
	serve(t, f.router, "POST", "/api/boats/link", "user-1", `{"boatId":"RF100001","password":"secret-1"}`)

	distributor := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("X-Test-User", "dealer-1")
		req.Header.Set("X-Test-Role", model.RoleDistributor)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w
	}

	w := serve(t, f.router, "PUT", "/api/boats/RF100001/access", "user-2", `{"distributorId":"dist-kyiv"}`)
	if w.Code != 403 {
		t.Errorf("stranger update access status = %d, want 403", w.Code)
	}

	w = serve(t, f.router, "PUT", "/api/boats/RF100001/access", "user-1",
		`{"distributorId":"dist-unknown","permissions":{"viewReservoirs":true}}`)
	if w.Code != 404 {
		t.Errorf("unknown distributor status = %d, want 404", w.Code)
	}

	w = serve(t, f.router, "PUT", "/api/boats/RF100001/access", "user-1",
		`{"distributorId":"dist-kyiv","permissions":{"viewReservoirs":true}}`)
	if w.Code != 200 {
		t.Fatalf("update access status = %d; body %s", w.Code, w.Body.String())
	}

	// The dealer token carries no distributor_id claim, so the grant does
	// not apply.
	w = distributor("GET", "/api/boats/RF100001/reservoirs", "")
	if w.Code != 403 {
		t.Errorf("distributor without id status = %d, want 403", w.Code)
	}

	w = distributor("GET", "/api/distributors/me/boats", "")
	if w.Code != 403 {
		t.Errorf("distributor boats without id status = %d, want 403", w.Code)
	}

	w = serve(t, f.router, "GET", "/api/distributors", "user-1", "")
	var list []fleet.Distributor
	decodeData(t, w, &list)
	if len(list) != 1 || list[0].ID != "dist-kyiv" {
		t.Errorf("distributors = %+v", list)
	}
}

// --- Profile ---

func TestProfileRoutes(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = claimsAuth
	deps.Profile = profile.NewService(profile.NewMemoryStore())
	r := NewRouter(deps)

	w := serve(t, r, "GET", "/api/profile", "user-1", "")
	if w.Code != 200 {
		t.Fatalf("get status = %d", w.Code)
	}
	var doc profile.Document
	decodeData(t, w, &doc)
	if doc.Language != profile.DefaultLanguage {
		t.Errorf("language = %q, want %q", doc.Language, profile.DefaultLanguage)
	}

	w = serve(t, r, "PATCH", "/api/profile", "user-1", `{"language":"en","mapType":"street"}`)
	if w.Code != 200 {
		t.Fatalf("patch status = %d; body %s", w.Code, w.Body.String())
	}

	w = serve(t, r, "PATCH", "/api/profile", "user-1", `{"mapType":"hybrid"}`)
	if w.Code != 422 {
		t.Errorf("invalid map type status = %d, want 422", w.Code)
	}

	w = serve(t, r, "POST", "/api/profile/service-requests", "user-1", `{"id":"r-1","number":"42"}`)
	if w.Code != 200 {
		t.Fatalf("add request status = %d", w.Code)
	}

	w = serve(t, r, "DELETE", "/api/profile/service-requests/r-1", "user-1", "")
	doc = profile.Document{}
	decodeData(t, w, &doc)
	if len(doc.ServiceRequests) != 0 || doc.Language != "en" {
		t.Errorf("doc = %+v", doc)
	}

	w = serve(t, r, "GET", "/api/profile", "user-2", "")
	doc = profile.Document{}
	decodeData(t, w, &doc)
	if doc.MapType == profile.MapStreet {
		t.Error("profiles leaked between users")
	}
}
