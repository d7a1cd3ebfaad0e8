package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/normcite/retrieval-core/internal/apierr"
)

type contextKey string

const (
	// TenantHeader is the header every non-health request must carry.
	TenantHeader = "X-Tenant-ID"
	// CorrelationHeader is propagated, or generated if absent.
	CorrelationHeader = "X-Correlation-ID"
	// BearerHeader carries the deployed-environment service secret.
	BearerHeader = "Authorization"

	tenantContextKey      contextKey = "tenant_id"
	correlationContextKey contextKey = "correlation_id"
)

// Middleware enforces the tenant header / body match, propagates a
// correlation id, and, in deployed environments, requires a bearer
// secret on every retrieval endpoint. Health and readiness checks are
// skipped entirely.
type Middleware struct {
	Deployed     bool
	BearerSecret string
}

// NewMiddleware builds a Middleware. deployed and bearerSecret mirror
// config.Config.IsDeployed and the configured service secret.
func NewMiddleware(deployed bool, bearerSecret string) *Middleware {
	return &Middleware{Deployed: deployed, BearerSecret: bearerSecret}
}

var skipPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// Wrap enforces tenant-header presence, correlation-id propagation, and
// (when deployed) bearer-secret auth, then verifies the header tenant
// matches the body's tenant_id before calling next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, correlationID)

		if m.Deployed {
			if m.BearerSecret == "" {
				writeError(w, apierr.ErrAuthEnvInconsistent)
				return
			}
			if !validBearer(r.Header.Get(BearerHeader), m.BearerSecret) {
				writeError(w, apierr.ErrUnauthorized)
				return
			}
		}

		tenantHeader := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenantHeader == "" {
			writeError(w, apierr.ErrTenantHeaderRequired)
			return
		}

		bodyTenant, body, err := peekBodyTenant(r)
		if err != nil {
			writeError(w, apierr.ErrScopeValidationFailed("malformed request body"))
			return
		}
		r.Body = io.NopCloser(body)

		if bodyTenant != "" && bodyTenant != tenantHeader {
			writeError(w, apierr.ErrTenantMismatch)
			return
		}

		ctx := context.WithValue(r.Context(), tenantContextKey, tenantHeader)
		ctx = context.WithValue(ctx, correlationContextKey, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validBearer(header, secret string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return strings.TrimPrefix(header, prefix) == secret
}

// peekBodyTenant reads the request body looking for a top-level
// tenant_id field, returning a fresh reader so the handler can still
// decode the full payload. A missing or empty body is tolerated here
// (e.g. GET-style validate calls) and validated downstream; a body that
// is not valid JSON is returned as an error.
func peekBodyTenant(r *http.Request) (string, io.Reader, error) {
	if r.Body == nil {
		return "", strings.NewReader(""), nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	if len(raw) == 0 {
		return "", strings.NewReader(""), nil
	}

	var peek struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return "", nil, err
	}
	return peek.TenantID, strings.NewReader(string(raw)), nil
}

func writeError(w http.ResponseWriter, apiErr *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus())
	json.NewEncoder(w).Encode(apiErr)
}

// TenantFromContext extracts the tenant id the middleware stored.
func TenantFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantContextKey).(string)
	return v, ok
}

// CorrelationFromContext extracts the correlation id the middleware stored.
func CorrelationFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationContextKey).(string)
	return v, ok
}
