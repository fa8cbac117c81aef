package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/config"
)

func testJWT() *JWTService {
	return NewJWTService(&config.JWTConfig{
		Secret:          "test-secret-at-least-16",
		ExpirationHours: 1,
		Issuer:          "planning-ingest",
	})
}

func TestJWTService_RoundTrip(t *testing.T) {
	s := testJWT()
	token, err := s.GenerateToken("alice")
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.GetOperator())
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "planning-ingest", claims.Issuer)
}

func TestJWTService_Expired(t *testing.T) {
	s := testJWT()
	issued := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return issued }
	token, err := s.GenerateToken("alice")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}

func TestJWTService_Rejects(t *testing.T) {
	s := testJWT()

	other := NewJWTService(&config.JWTConfig{Secret: "another-secret-value!", ExpirationHours: 1, Issuer: "planning-ingest"})
	foreign, err := other.GenerateToken("alice")
	require.NoError(t, err)

	wrongIssuer := NewJWTService(&config.JWTConfig{Secret: "test-secret-at-least-16", ExpirationHours: 1, Issuer: "someone-else"})
	misissued, err := wrongIssuer.GenerateToken("alice")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Operator: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"wrong secret": foreign,
		"wrong issuer": misissued,
		"alg none":     none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.ValidateToken(token)
			assert.Error(t, err)
		})
	}
}

func TestJWTService_EmptyOperator(t *testing.T) {
	_, err := testJWT().GenerateToken("")
	assert.Error(t, err)
}

func TestJWTService_AsTokenValidator(t *testing.T) {
	s := testJWT()
	token, err := s.GenerateToken("bob")
	require.NoError(t, err)

	claims, err := s.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.GetOperator())

	_, err = s.AsTokenValidator().ValidateToken("bad")
	assert.Error(t, err)
}
