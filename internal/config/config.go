// Package config loads daemon settings from flags, falling back to LINKAUTH_* environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const (
	defaultListenAddr       = "127.0.0.1:47600"
	defaultLoopbackAddr     = "127.0.0.1:53682"
	defaultAuthenticatedTTL = 24 * time.Hour
	defaultSweepInterval    = time.Minute
	defaultDeepLinkBuffer   = 64
)

// Config is the daemon configuration.
type Config struct {
	ListenAddr   string
	LoopbackAddr string

	StoreBackend string
	StorePath    string
	DSN          string
	RedisURL     string

	AuthorizeURL string
	TokenURL     string
	ClientID     string
	RedirectURI  string
	Scope        string

	AuthenticatedTTL time.Duration
	SweepInterval    time.Duration
	DeepLinkBuffer   int

	Dev bool
	// LaunchURL is the deep link the process was started with, if any.
	LaunchURL string
}

// Load parses args (without the program name). Flags override the environment.
func Load(args []string) (*Config, error) {
	ttl, err := getEnvAsDuration("LINKAUTH_AUTHENTICATED_TTL", defaultAuthenticatedTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid LINKAUTH_AUTHENTICATED_TTL: %w", err)
	}
	sweep, err := getEnvAsDuration("LINKAUTH_SWEEP_INTERVAL", defaultSweepInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid LINKAUTH_SWEEP_INTERVAL: %w", err)
	}
	buffer, err := getEnvAsInt("LINKAUTH_DEEPLINK_BUFFER", defaultDeepLinkBuffer)
	if err != nil {
		return nil, fmt.Errorf("invalid LINKAUTH_DEEPLINK_BUFFER: %w", err)
	}
	dev, err := getEnvAsBool("LINKAUTH_DEV", false)
	if err != nil {
		return nil, fmt.Errorf("invalid LINKAUTH_DEV: %w", err)
	}

	c := &Config{}
	fs := flag.NewFlagSet("linkauthd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&c.ListenAddr, "addr", getEnvOrDefault("LINKAUTH_ADDR", defaultListenAddr), "command API listen address (loopback only)")
	fs.StringVar(&c.LoopbackAddr, "loopback-addr", getEnvOrDefault("LINKAUTH_LOOPBACK_ADDR", defaultLoopbackAddr), "redirect listener address; empty disables it")
	fs.StringVar(&c.StoreBackend, "store", getEnvOrDefault("LINKAUTH_STORE", BackendFile), "session document backend: file|postgres|redis")
	fs.StringVar(&c.StorePath, "store-path", getEnvOrDefault("LINKAUTH_STORE_PATH", defaultStorePath()), "session document path (file backend)")
	fs.StringVar(&c.DSN, "dsn", getEnvOrDefault("LINKAUTH_DSN", ""), "PostgreSQL DSN (postgres backend)")
	fs.StringVar(&c.RedisURL, "redis-url", getEnvOrDefault("LINKAUTH_REDIS_URL", ""), "Redis URL (redis backend)")
	fs.StringVar(&c.AuthorizeURL, "authorize-url", getEnvOrDefault("LINKAUTH_AUTHORIZE_URL", ""), "provider authorization endpoint")
	fs.StringVar(&c.TokenURL, "token-url", getEnvOrDefault("LINKAUTH_TOKEN_URL", ""), "provider token endpoint")
	fs.StringVar(&c.ClientID, "client-id", getEnvOrDefault("LINKAUTH_CLIENT_ID", ""), "OAuth client id")
	fs.StringVar(&c.RedirectURI, "redirect-uri", getEnvOrDefault("LINKAUTH_REDIRECT_URI", ""), "OAuth redirect_uri (default: loopback listener callback)")
	fs.StringVar(&c.Scope, "scope", getEnvOrDefault("LINKAUTH_SCOPE", "openid email"), "OAuth scope")
	fs.DurationVar(&c.AuthenticatedTTL, "authenticated-ttl", ttl, "lifetime of an authenticated session")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", sweep, "expired session sweep interval; 0 disables")
	fs.IntVar(&c.DeepLinkBuffer, "deeplink-buffer", buffer, "pending deep links accepted before refusing")
	fs.BoolVar(&c.Dev, "dev", dev, "development logging and server reflection")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		c.LaunchURL = fs.Arg(0)
	}

	if c.RedirectURI == "" && c.LoopbackAddr != "" {
		c.RedirectURI = "http://" + c.LoopbackAddr + "/auth/callback"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks field consistency.
func (c *Config) Validate() error {
	if err := requireLoopback("addr", c.ListenAddr); err != nil {
		return err
	}
	if c.LoopbackAddr != "" {
		if err := requireLoopback("loopback-addr", c.LoopbackAddr); err != nil {
			return err
		}
	}
	switch c.StoreBackend {
	case BackendFile:
		if strings.TrimSpace(c.StorePath) == "" {
			return errors.New("store-path must not be empty")
		}
	case BackendPostgres:
		if c.DSN == "" {
			return errors.New("dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("redis-url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.AuthenticatedTTL <= 0 {
		return errors.New("authenticated-ttl must be greater than zero")
	}
	if c.SweepInterval < 0 {
		return errors.New("sweep-interval must be zero or a positive duration")
	}
	if c.DeepLinkBuffer <= 0 {
		return errors.New("deeplink-buffer must be greater than zero")
	}
	return nil
}

func requireLoopback(name, addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid %s port %q", name, port)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%s must be a loopback address, got %q", name, host)
	}
	return nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "linkauth", "auth.json")
}

func getEnvOrDefault(key string, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr, ok := os.LookupEnv(key)
	if !ok || valueStr == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(valueStr)
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, ok := os.LookupEnv(key)
	if !ok || valueStr == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(valueStr)
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr, ok := os.LookupEnv(key)
	if !ok || valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(valueStr)
}
