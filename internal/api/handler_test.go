package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdesk/opsdesk/internal/activity"
	"github.com/opsdesk/opsdesk/internal/auth"
	"github.com/opsdesk/opsdesk/internal/ratelimit"
	"github.com/opsdesk/opsdesk/internal/user"
	"github.com/opsdesk/opsdesk/internal/webhook"
)

func testRouter() http.Handler {
	return NewRouter(RouterDeps{
		Tokens:         auth.NewTokens("test-secret", time.Hour),
		TokenTTL:       time.Hour,
		AllowedOrigins: []string{"*"},
	})
}

// ---------------------------------------------------------------------------
// Health and infrastructure
// ---------------------------------------------------------------------------

func TestHealthCheck_OK(t *testing.T) {
	handler := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
	if body["database"] != "connected" {
		t.Errorf("expected database=connected, got %q", body["database"])
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}
}

func TestSecureHeaders(t *testing.T) {
	handler := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	handler := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if id := rec.Header().Get("X-Request-ID"); len(id) != 32 {
		t.Errorf("expected generated 32-char request ID, got %q", id)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	handler := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-chosen-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if id := rec.Header().Get("X-Request-ID"); id != "client-chosen-id" {
		t.Errorf("expected echoed request ID, got %q", id)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := testRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/activities", nil)
	req.Header.Set("Origin", "https://panel.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

// ---------------------------------------------------------------------------
// Authentication gating
// ---------------------------------------------------------------------------

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler := testRouter()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/activities"},
		{http.MethodPost, "/api/activities"},
		{http.MethodGet, "/api/activities/summary/dashboard"},
		{http.MethodGet, "/api/users"},
		{http.MethodGet, "/api/sectors"},
		{http.MethodGet, "/api/webhook/config"},
		{http.MethodGet, "/api/reports"},
		{http.MethodPost, "/api/auth/logout"},
	}
	for _, rt := range routes {
		req := httptest.NewRequest(rt.method, rt.path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", rt.method, rt.path, rec.Code)
		}
	}
}

func TestAuthStatusWithoutToken(t *testing.T) {
	handler := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["isAuthenticated"] != false {
		t.Errorf("isAuthenticated = %v, want false", body["isAuthenticated"])
	}
}

func TestLoginRateLimited(t *testing.T) {
	limiter := ratelimit.New(0, time.Minute) // reject everything
	handler := NewRouter(RouterDeps{
		Tokens:         auth.NewTokens("test-secret", time.Hour),
		TokenTTL:       time.Hour,
		LoginLimiter:   limiter,
		AllowedOrigins: []string{"*"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		bytes.NewBufferString(`{"username":"admin","password":"admin"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Webhook handler error mapping
// ---------------------------------------------------------------------------

type fakeConfigStore struct {
	cfg *webhook.Config
	err error
}

func (f *fakeConfigStore) Get(ctx context.Context) (*webhook.Config, error)       { return f.cfg, f.err }
func (f *fakeConfigStore) GetActive(ctx context.Context) (*webhook.Config, error) { return f.cfg, f.err }
func (f *fakeConfigStore) Save(ctx context.Context, in webhook.SaveConfigInput) (*webhook.Config, error) {
	return &webhook.Config{URL: in.URL, Active: in.Active, AutoSend: in.AutoSend, Fields: in.Fields}, f.err
}

type fakeDeliverer struct {
	err   error
	calls int
}

func (f *fakeDeliverer) Deliver(ctx context.Context, url, event string, payload any) error {
	f.calls++
	return f.err
}

type fakeActivityReader struct {
	a   *activity.Activity
	err error
}

func (f *fakeActivityReader) Get(ctx context.Context, id int64, actor *auth.Principal) (*activity.Activity, error) {
	return f.a, f.err
}

func activeConfig() *webhook.Config {
	return &webhook.Config{URL: "https://hooks.example.com/x", Active: true, Fields: webhook.DefaultFields()}
}

func TestWebhookTestMissingURL(t *testing.T) {
	h := newWebhookHandler(&fakeConfigStore{}, &fakeDeliverer{}, &fakeActivityReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/test", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.Test(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookTestTimeout(t *testing.T) {
	h := newWebhookHandler(&fakeConfigStore{}, &fakeDeliverer{err: webhook.ErrTimeout}, &fakeActivityReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/test",
		bytes.NewBufferString(`{"url":"https://hooks.example.com/x"}`))
	rec := httptest.NewRecorder()
	h.Test(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestWebhookTestUpstreamError(t *testing.T) {
	h := newWebhookHandler(&fakeConfigStore{},
		&fakeDeliverer{err: &webhook.UpstreamError{StatusCode: 500, Body: "boom"}},
		&fakeActivityReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/test",
		bytes.NewBufferString(`{"url":"https://hooks.example.com/x"}`))
	rec := httptest.NewRecorder()
	h.Test(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestWebhookSendNotConfigured(t *testing.T) {
	h := newWebhookHandler(&fakeConfigStore{cfg: nil}, &fakeDeliverer{}, &fakeActivityReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/send",
		bytes.NewBufferString(`{"activityId":7}`))
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookSendActivityNotFound(t *testing.T) {
	h := newWebhookHandler(&fakeConfigStore{cfg: activeConfig()},
		&fakeDeliverer{},
		&fakeActivityReader{err: activity.ErrNotFound})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/send",
		bytes.NewBufferString(`{"activityId":7}`))
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookSendDelivers(t *testing.T) {
	d := &fakeDeliverer{}
	h := newWebhookHandler(&fakeConfigStore{cfg: activeConfig()}, d,
		&fakeActivityReader{a: &activity.Activity{ID: 7, Name: "review", Date: "2026-08-20", Duration: "01:00"}})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/send",
		bytes.NewBufferString(`{"activityId":7}`))
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if d.calls != 1 {
		t.Errorf("deliveries = %d, want 1", d.calls)
	}
}

// ---------------------------------------------------------------------------
// Account handlers
// ---------------------------------------------------------------------------

type fakeAccountStore struct {
	u         *user.User
	deleteErr error
}

func (f *fakeAccountStore) List(ctx context.Context) ([]*user.User, error) {
	if f.u == nil {
		return nil, nil
	}
	return []*user.User{f.u}, nil
}

func (f *fakeAccountStore) GetByID(ctx context.Context, id int64) (*user.User, error) {
	if f.u == nil {
		return nil, user.ErrNotFound
	}
	return f.u, nil
}

func (f *fakeAccountStore) Create(ctx context.Context, in user.CreateUserInput) (*user.User, error) {
	return f.u, nil
}

func (f *fakeAccountStore) Update(ctx context.Context, id int64, in user.UpdateUserInput) (*user.User, error) {
	return f.u, nil
}

func (f *fakeAccountStore) Delete(ctx context.Context, id int64) error        { return f.deleteErr }
func (f *fakeAccountStore) ResetPassword(ctx context.Context, id int64) error { return nil }

// asPrincipal attaches an authenticated caller, and withPathID a router id
// parameter, the way the middleware stack would.
func asPrincipal(req *http.Request, p *auth.Principal) *http.Request {
	return req.WithContext(auth.ContextWithPrincipal(req.Context(), p))
}

func withPathID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestUserDeleteReferencedConflict(t *testing.T) {
	store := &fakeAccountStore{
		u:         &user.User{ID: 5, Name: "carla", CanLogin: false},
		deleteErr: &user.ErrUserReferenced{ResponsibleCount: 3, CreatedCount: 2},
	}
	h := newUsersHandler(store)

	req := httptest.NewRequest(http.MethodDelete, "/api/users/5", nil)
	req = asPrincipal(req, &auth.Principal{ID: 1, Role: auth.RoleAdmin})
	req = withPathID(req, "5")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var body map[string]map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	e := body["error"]
	if e["code"] != "user_referenced" {
		t.Errorf("code = %v, want user_referenced", e["code"])
	}
	if e["responsibleCount"] != float64(3) {
		t.Errorf("responsibleCount = %v, want 3", e["responsibleCount"])
	}
	if e["createdCount"] != float64(2) {
		t.Errorf("createdCount = %v, want 2", e["createdCount"])
	}
}

func TestUserDeleteRequiresAdmin(t *testing.T) {
	h := newUsersHandler(&fakeAccountStore{})

	req := httptest.NewRequest(http.MethodDelete, "/api/users/5", nil)
	req = asPrincipal(req, &auth.Principal{ID: 2, Role: auth.RoleEditor})
	req = withPathID(req, "5")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestUserDeleteResponsibleGuardBlocksLoginAccounts(t *testing.T) {
	h := newUsersHandler(&fakeAccountStore{u: &user.User{ID: 5, Name: "carla", CanLogin: true}})

	req := httptest.NewRequest(http.MethodDelete, "/api/users/5?from=responsible", nil)
	req = asPrincipal(req, &auth.Principal{ID: 1, Role: auth.RoleAdmin})
	req = withPathID(req, "5")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Login payload
// ---------------------------------------------------------------------------

type fakeCredentialStore struct {
	u    *user.User
	hash string
}

func (f *fakeCredentialStore) FindByLogin(ctx context.Context, login string) (*user.User, string, error) {
	if f.u == nil {
		return nil, "", user.ErrNotFound
	}
	return f.u, f.hash, nil
}

func (f *fakeCredentialStore) GetByID(ctx context.Context, id int64) (*user.User, error) {
	if f.u == nil {
		return nil, user.ErrNotFound
	}
	return f.u, nil
}

func (f *fakeCredentialStore) CreateSession(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	return nil
}

func (f *fakeCredentialStore) DeleteSession(ctx context.Context, tokenHash string) error { return nil }

func (f *fakeCredentialStore) SessionExists(ctx context.Context, tokenHash string) (bool, error) {
	return true, nil
}

func (f *fakeCredentialStore) ChangePassword(ctx context.Context, id int64, current, next string) error {
	return nil
}

func TestLoginPayloadCarriesPasswordState(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	sectorID := int64(4)
	store := &fakeCredentialStore{
		u: &user.User{
			ID: 1, Name: "admin", Email: "admin@opsdesk.local",
			Role: auth.RoleAdmin, Active: true, CanLogin: true,
			PasswordChanged: false, SectorID: &sectorID,
		},
		hash: string(hash),
	}
	h := newAuthHandler(store, auth.NewTokens("test-secret", time.Hour), time.Hour, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		bytes.NewBufferString(`{"username":"admin","password":"secret"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tok, _ := body["token"].(string); tok == "" {
		t.Error("expected a token in the login response")
	}
	u, ok := body["user"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a user object, got %v", body["user"])
	}
	// A first login answers password_changed false so the client can force a
	// password change.
	got, present := u["password_changed"]
	if !present {
		t.Fatal("login payload is missing password_changed")
	}
	if got != false {
		t.Errorf("password_changed = %v, want false", got)
	}
	if u["sector_id"] != float64(4) {
		t.Errorf("sector_id = %v, want 4", u["sector_id"])
	}
}

// ---------------------------------------------------------------------------
// Error mapping and query parsing
// ---------------------------------------------------------------------------

func TestWriteActivityErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", activity.ErrNotFound, http.StatusNotFound},
		{"forbidden", activity.ErrForbidden, http.StatusForbidden},
		{"validation", activity.ErrDateInvalid, http.StatusBadRequest},
		{"unknown", errors.New("db exploded"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeActivityError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestForbiddenResponseHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeActivityError(rec, activity.ErrForbidden)

	var env errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != "forbidden" {
		t.Errorf("code = %q, want forbidden", env.Error.Code)
	}
	if env.Error.Message != "you do not have permission to perform this action" {
		t.Errorf("message leaks detail: %q", env.Error.Message)
	}
}

func TestFiltersFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/api/activities?origin=support&activity=review&start_date=2026-01-01&end_date=2026-12-31&status=pending&priority=high&responsible_id=5", nil)

	f := filtersFromQuery(req)
	if f.Origin != "support" || f.Name != "review" {
		t.Errorf("text filters = %q/%q", f.Origin, f.Name)
	}
	if f.StartDate != "2026-01-01" || f.EndDate != "2026-12-31" {
		t.Errorf("date filters = %q/%q", f.StartDate, f.EndDate)
	}
	if f.Status != "pending" || f.Priority != "high" {
		t.Errorf("enum filters = %q/%q", f.Status, f.Priority)
	}
	if f.ResponsibleID == nil || *f.ResponsibleID != 5 {
		t.Errorf("responsible filter = %v, want 5", f.ResponsibleID)
	}
}

func TestFiltersFromQueryIgnoresBadResponsible(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/activities?responsible_id=abc", nil)
	if f := filtersFromQuery(req); f.ResponsibleID != nil {
		t.Errorf("responsible filter = %v, want nil", f.ResponsibleID)
	}
}
