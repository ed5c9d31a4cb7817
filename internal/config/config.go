package config

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration
	StoreDriver             string
	DatabaseURL             string
	DBMaxConns              int32
	DBMinConns              int32
	JWTAccessSecret         string
	JWTRefreshSecret        string
	JWTIssuer               string
	AccessTokenTTL          time.Duration
	RefreshTokenTTL         time.Duration
	BcryptCost              int
	RefreshReuseDetection   bool
	RefreshReuseGrace       time.Duration
	RedisURL                string
	ProfileCacheTTL         time.Duration
	CORSOrigins             []string
	RateLimitRPM            int
	AuthRateLimitRPM        int
	TrustedProxies          []netip.Prefix
	LogLevel                string
	LogFormat               string
}

// Load reads the environment (and an optional .env file). Every malformed
// value is reported; nothing falls back silently.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		ServerPort:              p.str("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: p.duration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      p.duration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       p.duration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          p.duration("REQUEST_TIMEOUT", 30*time.Second),
		StoreDriver:             strings.ToLower(p.str("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:             p.str("DATABASE_URL", ""),
		DBMaxConns:              p.int32("DB_MAX_CONNS", 10),
		DBMinConns:              p.int32("DB_MIN_CONNS", 1),
		JWTAccessSecret:         strings.TrimSpace(os.Getenv("JWT_ACCESS_SECRET")),
		JWTRefreshSecret:        strings.TrimSpace(os.Getenv("JWT_REFRESH_SECRET")),
		JWTIssuer:               p.str("JWT_ISSUER", "go-token-auth"),
		AccessTokenTTL:          p.duration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:         p.duration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		BcryptCost:              p.integer("BCRYPT_COST", 12),
		RefreshReuseDetection:   p.boolean("REFRESH_REUSE_DETECTION", true),
		RefreshReuseGrace:       p.duration("REFRESH_REUSE_GRACE", 2*time.Second),
		RedisURL:                p.str("REDIS_URL", ""),
		ProfileCacheTTL:         p.duration("PROFILE_CACHE_TTL", 5*time.Minute),
		CORSOrigins:             splitCSV(p.str("CORS_ORIGINS", "*")),
		RateLimitRPM:            p.integer("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM:        p.integer("AUTH_RATE_LIMIT_RPM", 10),
		TrustedProxies:          p.prefixes("TRUSTED_PROXIES"),
		LogLevel:                strings.ToLower(p.str("LOG_LEVEL", "info")),
		LogFormat:               strings.ToLower(p.str("LOG_FORMAT", "pretty")),
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}

	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}

	if c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_TTL must be positive")
	}

	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 {
			return fmt.Errorf("DB_MAX_CONNS must be positive")
		}
		if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}

	// bcrypt.MinCost and bcrypt.MaxCost
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}

	if c.RedisURL != "" && c.ProfileCacheTTL <= 0 {
		return fmt.Errorf("PROFILE_CACHE_TTL must be positive")
	}

	if c.RefreshReuseGrace < 0 {
		return fmt.Errorf("REFRESH_REUSE_GRACE cannot be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	if c.LogFormat != "pretty" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be \"pretty\" or \"json\"")
	}

	return nil
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) str(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func (p *parser) integer(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}

	return v
}

func (p *parser) int32(key string, fallback int32) int32 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid 32-bit integer %q", key, raw))
		return fallback
	}

	return int32(v)
}

// prefixes parses a comma-separated list of IPs or CIDRs. A bare IP is
// treated as a single-address prefix.
func (p *parser) prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, item := range splitCSV(os.Getenv(key)) {
		if prefix, err := netip.ParsePrefix(item); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: invalid IP or CIDR %q", key, item))
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return out
}

func (p *parser) boolean(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return fallback
	}

	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}

	return v
}

const (
	day     = 24 * time.Hour
	maxDays = math.MaxInt64 / int64(day)
)

// ParseDuration accepts Go duration syntax plus a whole-day form such as "7d".
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)

	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		if n > maxDays {
			return 0, fmt.Errorf("duration %q out of range", raw)
		}
		return time.Duration(n) * day, nil
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}

	return v, nil
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
