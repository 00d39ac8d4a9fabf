package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "PAYLINE_"

// applyEnv overrides cfg with any PAYLINE_* variable that is set and non-empty.
func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.GRPCAddr, "GRPC_ADDR")
	setString(&cfg.PostgresDSN, "PG_DSN")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Redis.Prefix, "REDIS_PREFIX")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.Issuer, "JWT_ISSUER")
	setString(&cfg.Auth.MessageDomain, "MESSAGE_DOMAIN")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setList(&cfg.RateLimit.TrustedProxies, "TRUSTED_PROXIES")

	for _, err := range []error{
		setInt(&cfg.Redis.DB, "REDIS_DB"),
		setInt(&cfg.RateLimit.Burst, "RATE_BURST"),
		setFloat(&cfg.RateLimit.RPS, "RATE_RPS"),
		setBool(&cfg.AutoMigrate, "AUTO_MIGRATE"),
		setDuration(&cfg.Auth.AccessTTL, "ACCESS_TTL"),
		setDuration(&cfg.Auth.RefreshTTL, "REFRESH_TTL"),
		setDuration(&cfg.Auth.ChallengeTTL, "CHALLENGE_TTL"),
		setDuration(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

// setList splits a comma-separated variable, dropping empty entries.
func setList(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}
