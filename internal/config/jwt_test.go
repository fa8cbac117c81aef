package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTConfig_DefaultValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key-0123")
	t.Setenv("JWT_EXPIRATION_HOURS", "")
	t.Setenv("JWT_ISSUER", "")

	cfg, err := NewJWTConfig()
	require.NoError(t, err)
	assert.Equal(t, "test-secret-key-0123", cfg.Secret)
	assert.Equal(t, 24, cfg.ExpirationHours, "should use default expiration of 24 hours")
	assert.Equal(t, "planning-ingest", cfg.Issuer)
}

func TestNewJWTConfig_Expiration(t *testing.T) {
	tests := []struct {
		name       string
		expiration string
		want       int
		wantErr    bool
	}{
		{name: "12 hours", expiration: "12", want: 12},
		{name: "one week", expiration: "168", want: 168},
		{name: "minimum", expiration: "1", want: 1},
		{name: "non-numeric", expiration: "invalid", wantErr: true},
		{name: "zero", expiration: "0", wantErr: true},
		{name: "negative", expiration: "-1", wantErr: true},
		{name: "float", expiration: "12.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret-key-0123")
			t.Setenv("JWT_EXPIRATION_HOURS", tt.expiration)

			cfg, err := NewJWTConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, cfg)
				assert.Contains(t, err.Error(), "JWT_EXPIRATION_HOURS")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.ExpirationHours)
		})
	}
}

func TestNewJWTConfig_Secret(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		cfg, err := NewJWTConfig()
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})

	t.Run("too short", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "short")
		_, err := NewJWTConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 16")
	})

	t.Run("custom issuer", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "my-secret-key-1234567")
		t.Setenv("JWT_ISSUER", "camden-ops")
		cfg, err := NewJWTConfig()
		require.NoError(t, err)
		assert.Equal(t, "camden-ops", cfg.Issuer)
	})
}
