package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, _ := TenantFromContext(r.Context())
		w.Header().Set("X-Seen-Tenant", tenant)
		w.WriteHeader(http.StatusOK)
	})
}

func TestWrap_SkipsHealthPaths(t *testing.T) {
	m := NewMiddleware(true, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWrap_RequiresTenantHeader(t *testing.T) {
	m := NewMiddleware(false, "")
	req := httptest.NewRequest(http.MethodPost, "/retrieval/hybrid", strings.NewReader(`{"query":"q"}`))
	rec := httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWrap_DeployedWithoutBearerSecretConfiguredIsAnEnvError(t *testing.T) {
	m := NewMiddleware(true, "")
	req := httptest.NewRequest(http.MethodPost, "/retrieval/hybrid", strings.NewReader(`{"query":"q"}`))
	req.Header.Set(TenantHeader, "tenant-a")
	rec := httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWrap_DeployedRejectsMissingOrWrongBearer(t *testing.T) {
	m := NewMiddleware(true, "super-secret")
	req := httptest.NewRequest(http.MethodPost, "/retrieval/hybrid", strings.NewReader(`{"query":"q"}`))
	req.Header.Set(TenantHeader, "tenant-a")
	req.Header.Set(BearerHeader, "Bearer wrong")
	rec := httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/retrieval/hybrid", strings.NewReader(`{"query":"q"}`))
	req.Header.Set(TenantHeader, "tenant-a")
	rec = httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrap_RejectsTenantMismatchBetweenHeaderAndBody(t *testing.T) {
	m := NewMiddleware(false, "")
	req := httptest.NewRequest(http.MethodPost, "/retrieval/hybrid", strings.NewReader(`{"tenant_id":"tenant-b"}`))
	req.Header.Set(TenantHeader, "tenant-a")
	rec := httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWrap_AllowsMatchingTenantAndPreservesBodyForHandler(t *testing.T) {
	m := NewMiddleware(false, "")
	req := httptest.NewRequest(http.MethodPost, "/retrieval/hybrid", strings.NewReader(`{"tenant_id":"tenant-a","query":"q"}`))
	req.Header.Set(TenantHeader, "tenant-a")
	rec := httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tenant-a", rec.Header().Get("X-Seen-Tenant"))
}

func TestWrap_GeneratesCorrelationIDWhenAbsent(t *testing.T) {
	m := NewMiddleware(false, "")
	req := httptest.NewRequest(http.MethodPost, "/retrieval/hybrid", strings.NewReader(`{"tenant_id":"tenant-a"}`))
	req.Header.Set(TenantHeader, "tenant-a")
	rec := httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get(CorrelationHeader))
}
