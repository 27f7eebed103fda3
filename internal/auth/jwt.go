// Package auth issues and verifies the bearer tokens navigation clients present.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Device tokens
//
// Every navigating device authenticates with a short-lived HS256 JWT:
//    - Subject and the "did" claim carry the device ID.
//    - The "scp" claim lists what the device may do (ScopeNavigation, ScopeAdmin).
//    - Tokens are minted out of band with `navigator token` and must carry an expiry.
//
// There are no refresh tokens: devices fetch a new token before the old one lapses.

// Scopes granted to tokens.
const (
	// ScopeNavigation permits posting locations and feedback and reading progress.
	ScopeNavigation = "navigation"

	// ScopeAdmin permits feature flag management.
	ScopeAdmin = "admin"
)

// DefaultTokenTTL is how long tokens are valid when no TTL is configured.
const DefaultTokenTTL = 12 * time.Hour

// Predefined JWT errors.
var (
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAccessTokenExpired = errors.New("access token has expired")
	ErrMissingDeviceID    = errors.New("device id is required")
)

// DeviceClaims are the claims in a device access token.
type DeviceClaims struct {
	jwt.RegisteredClaims

	// DeviceID identifies the navigating device.
	DeviceID string `json:"did"`

	// Scopes lists the operations the device may perform.
	Scopes []string `json:"scp,omitempty"`
}

// HasScope reports whether the claims grant scope.
func (c *DeviceClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// JWTService handles JWT creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

// JWTConfig holds configuration for the JWT service.
type JWTConfig struct {
	// SigningKey is the secret key used to sign JWTs.
	SigningKey string

	// Issuer is the issuer claim for tokens (e.g., "navcore").
	Issuer string

	// Audience is the audience claim for tokens (e.g., "navcore-devices").
	Audience string

	// TTL is the token lifetime (default: DefaultTokenTTL).
	TTL time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg JWTConfig) *JWTService {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		ttl:        ttl,
		now:        now,
	}
}

// GenerateAccessToken creates a token for deviceID granting scopes.
func (s *JWTService) GenerateAccessToken(deviceID string, scopes ...string) (string, time.Time, error) {
	if deviceID == "" {
		return "", time.Time{}, ErrMissingDeviceID
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   deviceID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		DeviceID: deviceID,
		Scopes:   scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *JWTService) ValidateAccessToken(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccessToken, err.Error())
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidAccessToken
	}
	if claims.DeviceID == "" || claims.DeviceID != claims.Subject {
		return nil, fmt.Errorf("%w: device id does not match subject", ErrInvalidAccessToken)
	}

	return claims, nil
}

// generateTokenID generates a unique token ID.
func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
