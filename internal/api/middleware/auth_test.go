package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/api/middleware"
	"github.com/breatheroute/navcore/internal/auth"
)

func testJWTService(now func() time.Time) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "navcore",
		Audience:   "navcore-devices",
		Now:        now,
	})
}

func bearer(t *testing.T, deviceID string, scopes ...string) string {
	t.Helper()
	token, _, err := testJWTService(nil).GenerateAccessToken(deviceID, scopes...)
	require.NoError(t, err)
	return "Bearer " + token
}

func serveAuth(handler http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuth_MissingAuthorizationHeader(t *testing.T) {
	handler := middleware.Auth(testJWTService(nil))(okHandler())

	rec := serveAuth(handler, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization header")
	assert.Equal(t, `Bearer realm="navcore"`, rec.Header().Get("WWW-Authenticate"))
}

func TestAuth_InvalidAuthorizationFormat(t *testing.T) {
	handler := middleware.Auth(testJWTService(nil))(okHandler())

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "token123"},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"bearer no space", "bearertoken123"},
		{"empty bearer", "Bearer "},
		{"just bearer", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serveAuth(handler, tt.header).Code)
		})
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	handler := middleware.Auth(testJWTService(nil))(okHandler())

	rec := serveAuth(handler, "Bearer invalid.jwt.token")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid access token")
}

func TestAuth_ExpiredToken(t *testing.T) {
	issued := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	token, _, err := testJWTService(func() time.Time { return issued }).GenerateAccessToken("dev_1")
	require.NoError(t, err)

	handler := middleware.Auth(testJWTService(nil))(okHandler())
	rec := serveAuth(handler, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "access token has expired")
}

func TestAuth_ValidToken(t *testing.T) {
	var captured *auth.DeviceClaims
	handler := middleware.Auth(testJWTService(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = middleware.GetClaims(r.Context())
		assert.Equal(t, "dev_123", middleware.GetDeviceID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	rec := serveAuth(handler, bearer(t, "dev_123", auth.ScopeNavigation))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.True(t, captured.HasScope(auth.ScopeNavigation))
}

func TestAuth_CaseInsensitiveBearer(t *testing.T) {
	handler := middleware.Auth(testJWTService(nil))(okHandler())
	token := bearer(t, "dev_123")[len("Bearer "):]

	for _, prefix := range []string{"Bearer ", "bearer ", "BEARER "} {
		t.Run(prefix, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, serveAuth(handler, prefix+token).Code)
		})
	}
}

func TestRequireScope(t *testing.T) {
	handler := middleware.Auth(testJWTService(nil))(middleware.RequireScope(auth.ScopeAdmin)(okHandler()))

	rec := serveAuth(handler, bearer(t, "dev_1", auth.ScopeNavigation))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin")

	rec = serveAuth(handler, bearer(t, "dev_1", auth.ScopeNavigation, auth.ScopeAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireScope_WithoutAuth(t *testing.T) {
	rec := serveAuth(middleware.RequireScope(auth.ScopeAdmin)(okHandler()), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetDeviceID_NoAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	assert.Empty(t, middleware.GetDeviceID(req.Context()))
	assert.Nil(t, middleware.GetClaims(req.Context()))
}
