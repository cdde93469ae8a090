package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test_secret_key_1234567890"

func newMaker(t *testing.T, ttl time.Duration) *MakerImpl {
	t.Helper()
	m, err := NewJWTMaker(testSecret, ttl)
	require.NoError(t, err)
	return m
}

func TestNewJWTMaker_EmptySecret(t *testing.T) {
	_, err := NewJWTMaker("", time.Hour)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestJWTMaker_GenerateAndParseToken(t *testing.T) {
	ttl := 15 * time.Minute
	maker := newMaker(t, ttl)

	tests := []struct {
		name      string
		username  string
		role      string
		wantAdmin bool
	}{
		{name: "admin", username: "ops", role: RoleAdmin, wantAdmin: true},
		{name: "other role", username: "viewer", role: "viewer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := maker.GenerateToken(tt.username, tt.role)
			require.NoError(t, err)

			claims, err := maker.ParseToken(token)
			require.NoError(t, err)
			assert.Equal(t, tt.username, claims.Username)
			assert.Equal(t, tt.username, claims.Subject)
			assert.Equal(t, Issuer, claims.Issuer)
			assert.Equal(t, tt.wantAdmin, claims.IsAdmin())
			assert.WithinDuration(t, time.Now().Add(ttl), claims.ExpiresAt.Time, time.Second)
		})
	}
}

func TestJWTMaker_ParseToken_Invalid(t *testing.T) {
	maker := newMaker(t, 15*time.Minute)
	valid, err := maker.GenerateToken("ops", RoleAdmin)
	require.NoError(t, err)

	expired, err := newMaker(t, -time.Hour).GenerateToken("ops", RoleAdmin)
	require.NoError(t, err)

	other, err := NewJWTMaker("another_secret", time.Hour)
	require.NoError(t, err)
	foreign, err := other.GenerateToken("ops", RoleAdmin)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomClaims{
		Username: "ops",
		Role:     RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomClaims{
		Username:         "ops",
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, CustomClaims{
		Username: "ops",
		Role:     RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "malformed token", token: "invalid.token.here"},
		{name: "expired token", token: expired},
		{name: "wrong secret key", token: foreign},
		{name: "tampered token", token: valid + "tampered"},
		{name: "wrong issuer", token: wrongIssuer},
		{name: "missing expiry", token: noExpiry},
		{name: "unexpected algorithm", token: wrongAlg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.ParseToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}
