// Package config loads the gateway's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Env string `validate:"oneof=development production"`

	// Session and credential material.
	SessionSecret     string `validate:"omitempty,min=32"`
	AdminPasswordHash string
	AdminSubject      string `validate:"required,max=128"`

	// Browser policy.
	DataStoreOrigin    string   `validate:"omitempty,url"`
	CORSAllowedOrigins []string `validate:"dive,url"`
	TrustedProxies     []netip.Prefix

	// UpstreamURL is the CMS that requests are forwarded to once they
	// pass the gateway.
	UpstreamURL string `validate:"omitempty,url"`

	// Shared state and persistence.
	RedisURL string `validate:"omitempty,url"`
	DataDir  string `validate:"required"`

	// Audit webhook.
	AuditWebhookURL  string `validate:"omitempty,url"`
	AuditWebhookAuth string

	// Listener.
	Port    int `validate:"min=1,max=65535"`
	TLSCert string
	TLSKey  string

	// Throttles.
	LoginMaxAttempts int `validate:"min=1"`
	LoginLockout     time.Duration
	APIRateLimit     int `validate:"min=1"`
	APIRateWindow    time.Duration
}

// Production reports whether production-only protections (Secure cookies,
// HSTS) are enabled.
func (c *Config) Production() bool { return c.Env == EnvProduction }

// Load reads the configuration from the environment. A .env.local file in
// the working directory or its parent is loaded first when present; it
// never overrides variables that are already set.
func Load() (*Config, error) {
	loadEnvFile()

	proxies, err := parsePrefixes(getEnv("TRUSTED_PROXIES", ""))
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	cfg := &Config{
		Env: strings.ToLower(getEnv("GATEHOUSE_ENV", EnvDevelopment)),

		SessionSecret:     getEnv("SESSION_SECRET", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		AdminSubject:      getEnv("ADMIN_SUBJECT", "admin"),

		DataStoreOrigin:    strings.TrimRight(getEnv("DATA_STORE_ORIGIN", ""), "/"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		TrustedProxies:     proxies,

		UpstreamURL: getEnv("UPSTREAM_URL", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		DataDir:  getEnv("DATA_DIR", "./data"),

		AuditWebhookURL:  getEnv("AUDIT_WEBHOOK_URL", ""),
		AuditWebhookAuth: getEnv("AUDIT_WEBHOOK_AUTH", ""),

		Port:    getEnvAsInt("PORT", 8443),
		TLSCert: getEnv("TLS_CERT", ""),
		TLSKey:  getEnv("TLS_KEY", ""),

		LoginMaxAttempts: getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginLockout:     getEnvAsDuration("LOGIN_LOCKOUT", 15*time.Minute),
		APIRateLimit:     getEnvAsInt("API_RATE_LIMIT", 100),
		APIRateWindow:    getEnvAsDuration("API_RATE_WINDOW", 15*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, and in production additionally
// requires the secrets that development mode can generate or omit.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.LoginLockout <= 0 {
		return errors.New("LOGIN_LOCKOUT must be positive")
	}
	if c.APIRateWindow <= 0 {
		return errors.New("API_RATE_WINDOW must be positive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("TLS_CERT and TLS_KEY must be set together")
	}

	if c.Production() {
		if c.SessionSecret == "" {
			return errors.New("SESSION_SECRET is required in production")
		}
		if c.AdminPasswordHash == "" {
			return errors.New("ADMIN_PASSWORD_HASH is required in production")
		}
	}
	return nil
}

// getEnv returns the variable's value, or defaultValue when it is unset or empty.
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration syntax ("15m") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePrefixes accepts CIDRs and bare addresses; a bare address becomes a
// single-host prefix.
func parsePrefixes(s string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range splitList(s) {
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
