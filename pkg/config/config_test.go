package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			AccessTokenSecret:  "access-secret-0123456789abcdef012345",
			RefreshTokenSecret: "refresh-secret-0123456789abcdef01234",
		},
	}
}

func TestValidateAcceptsStrongDistinctSecrets(t *testing.T) {
	require.NoError(t, baseConfig().validate())
}

func TestValidateRejectsShortAccessSecret(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth.AccessTokenSecret = "too-short"
	err := cfg.validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidateRejectsShortRefreshSecret(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth.RefreshTokenSecret = "too-short"
	err := cfg.validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT_REFRESH_SECRET")
}

func TestValidateRejectsSharedSecret(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth.RefreshTokenSecret = cfg.Auth.AccessTokenSecret
	err := cfg.validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "must differ")
}

func TestParseDuration(t *testing.T) {
	require.Equal(t, 15*time.Minute, parseDuration("", 15*time.Minute))
	require.Equal(t, 15*time.Minute, parseDuration("garbage", 15*time.Minute))
	require.Equal(t, 168*time.Hour, parseDuration("168h", time.Minute))
}

func TestSplitAndTrim(t *testing.T) {
	require.Nil(t, splitAndTrim(""))
	require.Equal(t, []string{"http://a", "http://b"}, splitAndTrim(" http://a , http://b ,"))
	require.Equal(t, []string{"http://a"}, splitAndTrim("http://a"))
}
