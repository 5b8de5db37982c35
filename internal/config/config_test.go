package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LINKAUTH_STORE_PATH", "/tmp/linkauth-test/auth.json")

	c, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, defaultListenAddr, c.ListenAddr)
	require.Equal(t, defaultLoopbackAddr, c.LoopbackAddr)
	require.Equal(t, BackendFile, c.StoreBackend)
	require.Equal(t, "/tmp/linkauth-test/auth.json", c.StorePath)
	require.Equal(t, "http://127.0.0.1:53682/auth/callback", c.RedirectURI)
	require.Equal(t, 24*time.Hour, c.AuthenticatedTTL)
	require.Equal(t, time.Minute, c.SweepInterval)
	require.Equal(t, 64, c.DeepLinkBuffer)
	require.False(t, c.Dev)
	require.Empty(t, c.LaunchURL)
}

func TestLoad_EnvAndFlags(t *testing.T) {
	t.Setenv("LINKAUTH_STORE", "redis")
	t.Setenv("LINKAUTH_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LINKAUTH_AUTHENTICATED_TTL", "2h")
	t.Setenv("LINKAUTH_DEV", "true")
	t.Setenv("LINKAUTH_REDIRECT_URI", "linkauth://auth/callback")

	c, err := Load([]string{"-authenticated-ttl", "30m", "-loopback-addr", "", "linkauth://auth/callback?code=x"})
	require.NoError(t, err)
	require.Equal(t, BackendRedis, c.StoreBackend)
	require.Equal(t, "redis://localhost:6379/0", c.RedisURL)
	require.Equal(t, 30*time.Minute, c.AuthenticatedTTL)
	require.True(t, c.Dev)
	require.Empty(t, c.LoopbackAddr)
	require.Equal(t, "linkauth://auth/callback", c.RedirectURI)
	require.Equal(t, "linkauth://auth/callback?code=x", c.LaunchURL)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("LINKAUTH_SWEEP_INTERVAL", "soon")
	_, err := Load(nil)
	require.ErrorContains(t, err, "LINKAUTH_SWEEP_INTERVAL")
}

func TestLoad_UnknownFlag(t *testing.T) {
	_, err := Load([]string{"-nope"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() Config {
		return Config{
			ListenAddr:       "127.0.0.1:1",
			LoopbackAddr:     "localhost:2",
			StoreBackend:     BackendFile,
			StorePath:        "auth.json",
			AuthenticatedTTL: time.Hour,
			DeepLinkBuffer:   1,
		}
	}
	ok := base()
	require.NoError(t, ok.Validate())

	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"public listen", func(c *Config) { c.ListenAddr = "0.0.0.0:1" }},
		{"no port", func(c *Config) { c.ListenAddr = "127.0.0.1" }},
		{"public loopback listener", func(c *Config) { c.LoopbackAddr = "192.168.1.2:2" }},
		{"unknown backend", func(c *Config) { c.StoreBackend = "sqlite" }},
		{"empty path", func(c *Config) { c.StorePath = " " }},
		{"postgres without dsn", func(c *Config) { c.StoreBackend = BackendPostgres }},
		{"redis without url", func(c *Config) { c.StoreBackend = BackendRedis }},
		{"zero ttl", func(c *Config) { c.AuthenticatedTTL = 0 }},
		{"negative sweep", func(c *Config) { c.SweepInterval = -time.Second }},
		{"zero buffer", func(c *Config) { c.DeepLinkBuffer = 0 }},
	}
	for _, tt := range tests {
		c := base()
		tt.mod(&c)
		require.Error(t, c.Validate(), tt.name)
	}

	v6 := base()
	v6.ListenAddr = "[::1]:1"
	require.NoError(t, v6.Validate())
}
