package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geonexus/entitlements/internal/config"
	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/gate"
	"github.com/geonexus/entitlements/internal/store"
	"github.com/geonexus/entitlements/internal/store/memorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "admin-secret"

func testConfig() *config.Config {
	return &config.Config{
		BindAddress:         "127.0.0.1",
		Port:                8080,
		StoreBackend:        config.StoreMemory,
		StoreTimeout:        time.Second,
		StripeWebhookSecret: "whsec_test",
		AdminKey:            testAdminKey,
		GateTimeout:         time.Second,
		RateLimit:           1000,
		ProfileRateLimit:    1000,
	}
}

type downStore struct{}

var errDown = errors.New("connection refused")

func (downStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	return nil, false, store.Unavailable("get", key, errDown)
}
func (downStore) Set(_ context.Context, key string, _ []byte, _ time.Duration) error {
	return store.Unavailable("set", key, errDown)
}
func (downStore) Delete(_ context.Context, key string) error {
	return store.Unavailable("delete", key, errDown)
}
func (downStore) Ping(context.Context) error { return store.Unavailable("ping", "", errDown) }

func newTestServer(t *testing.T, s store.Store) (http.Handler, *Deps) {
	t.Helper()
	if s == nil {
		mem := memorystore.New()
		t.Cleanup(func() { _ = mem.Close() })
		s = mem
	}
	deps := NewDeps(testConfig(), s, nil, gate.NewAllowlist("staff-*"), "test")
	return NewHandler(deps), deps
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCheckSubscription(t *testing.T) {
	h, deps := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/check-subscription?uid=u1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":false,"status":"none"}`, rec.Body.String())
	assert.Equal(t, "private, max-age=60", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	_, err := deps.Operator.Activate(context.Background(), "u1", "")
	require.NoError(t, err)

	rec = do(t, h, http.MethodGet, "/api/check-subscription?uid=u1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":true,"status":"active"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/check-subscription", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/check-subscription?uid=u1", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCheckSubscription_StoreDown(t *testing.T) {
	h, _ := newTestServer(t, downStore{})

	rec := do(t, h, http.MethodGet, "/api/check-subscription?uid=u1", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["active"])
	assert.Equal(t, "unavailable", body["status"])
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCustomerProfile(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/customer-profile",
		`{"uid":"u1","email":"Ana@X.com","displayName":"Ana","action":"register"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var up struct {
		Success bool                `json:"success"`
		Profile entitlement.Profile `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.True(t, up.Success)
	assert.Equal(t, "ana@x.com", up.Profile.Email)
	assert.Equal(t, entitlement.StatusNone, up.Profile.SubscriptionStatus)

	rec = do(t, h, http.MethodGet, "/api/customer-profile?uid=u1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=30", rec.Header().Get("Cache-Control"))

	var view entitlement.ProfileView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.Profile)
	assert.Equal(t, 1, view.Profile.LoginCount)
	assert.Equal(t, entitlement.Result{Active: false, Status: "none"}, view.Subscription)

	rec = do(t, h, http.MethodPost, "/api/customer-profile", `{"uid":"u1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/customer-profile", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/customer-profile", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomerProfile_StoreDown(t *testing.T) {
	h, _ := newTestServer(t, downStore{})

	rec := do(t, h, http.MethodGet, "/api/customer-profile?uid=u1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/customer-profile", `{"uid":"u1","email":"a@x.com"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	h, deps := newTestServer(t, nil)
	auth := map[string]string{"X-Admin-Key": testAdminKey}

	rec := do(t, h, http.MethodPost, "/admin/entitlements/u1/grant", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/entitlements/u1/grant", `{"plan":"pro"}`, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res, err := deps.Verifier.Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, res.Active)

	rec = do(t, h, http.MethodGet, "/admin/customers?uid=u1", "", map[string]string{"Authorization": "Bearer " + testAdminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	var ins entitlement.Inspection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ins))
	assert.Equal(t, entitlement.FlagActive, ins.Flag)
	assert.Equal(t, "pro", ins.Profile.Plan)

	rec = do(t, h, http.MethodPost, "/admin/entitlements/u1/revoke", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	res, err = deps.Verifier.Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Active)

	rec = do(t, h, http.MethodGet, "/admin/customers?email=ghost@x.com", "", auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/admin/customers", "", auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppGate(t *testing.T) {
	h, deps := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/app/map", "", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = do(t, h, http.MethodGet, "/app/map", "", map[string]string{gate.IdentityHeader: "u1"})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/app/subscribe", rec.Header().Get("Location"))

	rec = do(t, h, http.MethodGet, "/app/subscribe", "", map[string]string{gate.IdentityHeader: "u1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := deps.Operator.Activate(context.Background(), "u1", "")
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/app/map", "", map[string]string{gate.IdentityHeader: "u1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/app/map", "", map[string]string{gate.IdentityHeader: "staff-7"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(gate.ReasonAllowlisted), rec.Header().Get("X-Entitlement-Reason"))
}

func TestAppGate_NestedPurchasePathsStayGated(t *testing.T) {
	h, _ := newTestServer(t, nil)

	for _, path := range []string{"/app/reports/subscribe", "/app/x/success", "/app/subscribe/"} {
		rec := do(t, h, http.MethodGet, path, "", map[string]string{gate.IdentityHeader: "not-paying"})
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.Equal(t, "/app/subscribe", rec.Header().Get("Location"), path)
		assert.NotContains(t, rec.Body.String(), "Dashboard", path)
	}

	rec := do(t, h, http.MethodGet, "/app/x/subscribe", "", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = do(t, h, http.MethodGet, "/app/success", "", map[string]string{gate.IdentityHeader: "not-paying"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppGate_StoreDownFailsClosed(t *testing.T) {
	h, _ := newTestServer(t, downStore{})

	rec := do(t, h, http.MethodGet, "/app/map", "", map[string]string{gate.IdentityHeader: "u1"})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/app/subscribe", rec.Header().Get("Location"))
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/metrics", "", nil).Code)
	do(t, h, http.MethodGet, "/api/check-subscription?uid=u1", "", nil)

	rec := do(t, h, http.MethodGet, "/metrics", "", map[string]string{"X-Admin-Key": testAdminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "entitlements_")

	down, _ := newTestServer(t, downStore{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, down, http.MethodGet, "/readyz", "", nil).Code)
}

func TestWebhookRouteRejectsUnsigned(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/stripe/webhook", `{"type":"checkout.session.completed"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutRoute(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/create-checkout-session", `{"priceId":"price_m","uid":"u1"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"checkout not configured"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/create-checkout-session", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimitsArePerRoute(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	cfg.ProfileRateLimit = 2
	mem := memorystore.New()
	t.Cleanup(func() { _ = mem.Close() })
	h := NewHandler(NewDeps(cfg, mem, nil, gate.NewAllowlist(), "test"))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/check-subscription?uid=u1", "", nil).Code)
	rec := do(t, h, http.MethodGet, "/api/check-subscription?uid=u1", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Profile traffic keeps its own budget while checks are throttled.
	for i := 0; i < 2; i++ {
		rec = do(t, h, http.MethodGet, "/api/customer-profile?uid=u1", "", nil)
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code, "profile request %d", i+1)
	}
	rec = do(t, h, http.MethodGet, "/api/customer-profile?uid=u1", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/healthz", "", map[string]string{RequestIDHeader: "req-42"})
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}
