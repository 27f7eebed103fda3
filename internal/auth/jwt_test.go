package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/auth"
)

const testKey = "test-secret-key-for-testing-only"

func newService(now func() time.Time) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: testKey,
		Issuer:     "navcore",
		Audience:   "navcore-devices",
		TTL:        time.Hour,
		Now:        now,
	})
}

func TestJWTService_GenerateAndValidateAccessToken(t *testing.T) {
	svc := newService(nil)

	token, expiresAt, err := svc.GenerateAccessToken("dev_123", auth.ScopeNavigation)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dev_123", claims.DeviceID)
	assert.Equal(t, "dev_123", claims.Subject)
	assert.Equal(t, "navcore", claims.Issuer)
	assert.True(t, claims.HasScope(auth.ScopeNavigation))
	assert.False(t, claims.HasScope(auth.ScopeAdmin))
}

func TestJWTService_MissingDeviceID(t *testing.T) {
	_, _, err := newService(nil).GenerateAccessToken("")
	assert.ErrorIs(t, err, auth.ErrMissingDeviceID)
}

func TestJWTService_Expired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	token, _, err := newService(func() time.Time { return issued }).GenerateAccessToken("dev_123")
	require.NoError(t, err)

	later := newService(func() time.Time { return issued.Add(2 * time.Hour) })
	_, err = later.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrAccessTokenExpired)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newService(nil)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_Mismatch(t *testing.T) {
	token, _, err := newService(nil).GenerateAccessToken("dev_123")
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  auth.JWTConfig
	}{
		{"wrong signing key", auth.JWTConfig{SigningKey: "another-key-entirely", Issuer: "navcore", Audience: "navcore-devices"}},
		{"wrong issuer", auth.JWTConfig{SigningKey: testKey, Issuer: "someone-else", Audience: "navcore-devices"}},
		{"wrong audience", auth.JWTConfig{SigningKey: testKey, Issuer: "navcore", Audience: "other-api"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.NewJWTService(tt.cfg).ValidateAccessToken(token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_SubjectMustMatchDevice(t *testing.T) {
	now := time.Now()
	claims := auth.DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "navcore",
			Subject:   "dev_a",
			Audience:  jwt.ClaimStrings{"navcore-devices"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		DeviceID: "dev_b",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
	require.NoError(t, err)

	_, err = newService(nil).ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestJWTService_RejectsNoneAlgorithm(t *testing.T) {
	claims := auth.DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "navcore",
			Subject:   "dev_123",
			Audience:  jwt.ClaimStrings{"navcore-devices"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		DeviceID: "dev_123",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newService(nil).ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}
