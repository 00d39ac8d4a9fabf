package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	MaxAccessTTL  = 15 * time.Minute
	MaxRefreshTTL = 7 * 24 * time.Hour
	minSecretLen  = 32

	// MaxChallengeTTL is also the default: a challenge is signable for five minutes.
	MaxChallengeTTL = 5 * time.Minute
)

type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	PostgresDSN     string        `yaml:"postgres_dsn"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	Redis           RedisConfig   `yaml:"redis"`
	Auth            AuthConfig    `yaml:"auth"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	Issuer        string        `yaml:"issuer"`
	MessageDomain string        `yaml:"message_domain"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	ChallengeTTL  time.Duration `yaml:"challenge_ttl"`
}

// RateLimit applies per client IP to the unauthenticated auth endpoints.
// X-Forwarded-For is only honored for peers inside TrustedProxies, given as
// CIDR prefixes or single addresses.
type RateLimit struct {
	RPS            float64  `yaml:"rps"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Proxies returns TrustedProxies as prefixes. Entries are checked by Validate.
func (r RateLimit) Proxies() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(r.TrustedProxies))
	for _, raw := range r.TrustedProxies {
		if p, err := parseProxy(raw); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func parseProxy(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Redis:    RedisConfig{Prefix: "payline:challenge:"},
		Auth: AuthConfig{
			Issuer:        "payline",
			MessageDomain: "payline.local",
			AccessTTL:     MaxAccessTTL,
			RefreshTTL:    MaxRefreshTTL,
			ChallengeTTL:  MaxChallengeTTL,
		},
		RateLimit:       RateLimit{RPS: 5, Burst: 10},
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load layers defaults, the optional YAML file at path and PAYLINE_* variables,
// then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unusable settings and clamps token lifetimes to their ceilings.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLen))
	}
	if strings.TrimSpace(c.Auth.MessageDomain) == "" {
		errs = append(errs, errors.New("auth.message_domain is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.AccessTTL > MaxAccessTTL {
		c.Auth.AccessTTL = MaxAccessTTL
	}
	if c.Auth.RefreshTTL <= 0 || c.Auth.RefreshTTL > MaxRefreshTTL {
		c.Auth.RefreshTTL = MaxRefreshTTL
	}
	if c.Auth.ChallengeTTL <= 0 || c.Auth.ChallengeTTL > MaxChallengeTTL {
		c.Auth.ChallengeTTL = MaxChallengeTTL
	}
	for _, raw := range c.RateLimit.TrustedProxies {
		if _, err := parseProxy(raw); err != nil {
			errs = append(errs, fmt.Errorf("rate_limit.trusted_proxies: %w", err))
		}
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return errors.Join(errs...)
}
