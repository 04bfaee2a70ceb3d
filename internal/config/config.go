package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"

	minProductionSecret = 32
)

// Config holds the application configuration.
type Config struct {
	Environment string

	StoreDriver    string
	DatabaseURL    string
	SQLitePath     string
	TxTimeout      time.Duration
	MigrateOnStart bool

	APIAddr      string
	GRPCAddr     string
	AccessSecret string

	RedisAddr              string
	StatsCacheSize         int
	StatsCacheTTL          time.Duration
	StatsInvalidateOnWrite bool

	RateLimitCapacity     int
	RateLimitRefillPerSec float64
	MaxBodyBytes          int64
	IPAllowlist           []string

	TLSCertFile          string
	TLSKeyFile           string
	TLSCAFile            string
	TLSRequireClientAuth bool
}

// Load reads the configuration from the environment. Variables in a .env
// file in the working directory are loaded first without overriding the
// process environment.
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the named files. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv parses the environment without validating cross-field rules.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Environment:            p.str("APP_ENV", EnvDevelopment),
		StoreDriver:            p.str("STORE_DRIVER", "postgres"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		SQLitePath:             p.str("SQLITE_PATH", "ledger.db"),
		TxTimeout:              p.duration("TX_TIMEOUT", 5*time.Second),
		MigrateOnStart:         p.boolean("MIGRATE_ON_START", false),
		APIAddr:                p.str("API_ADDR", ":8080"),
		GRPCAddr:               p.str("GRPC_ADDR", ":9090"),
		AccessSecret:           os.Getenv("ACCESS_SECRET"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		StatsCacheSize:         p.integer("STATS_CACHE_SIZE", 1024),
		StatsCacheTTL:          p.duration("STATS_CACHE_TTL", 0),
		StatsInvalidateOnWrite: p.boolean("STATS_INVALIDATE_ON_WRITE", true),
		RateLimitCapacity:      p.integer("RATE_LIMIT_CAPACITY", 60),
		RateLimitRefillPerSec:  p.float("RATE_LIMIT_REFILL_PER_SEC", 1),
		MaxBodyBytes:           int64(p.integer("MAX_BODY_BYTES", 1<<20)),
		IPAllowlist:            p.list("IP_ALLOWLIST"),
		TLSCertFile:            os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:             os.Getenv("TLS_KEY_FILE"),
		TLSCAFile:              os.Getenv("TLS_CA_FILE"),
		TLSRequireClientAuth:   p.boolean("TLS_REQUIRE_CLIENT_AUTH", false),
	}
	if len(p.invalid) > 0 {
		return nil, errors.New("invalid environment variables: " + strings.Join(p.invalid, ", "))
	}
	return cfg, nil
}

// Validate checks that the configuration is usable. Production and staging
// additionally require a durable store, a long access secret and TLS.
func (c *Config) Validate() error {
	var missing, invalid []string

	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case "memory":
	default:
		invalid = append(invalid, "STORE_DRIVER")
	}
	if c.AccessSecret == "" {
		missing = append(missing, "ACCESS_SECRET")
	}
	if c.TxTimeout <= 0 {
		invalid = append(invalid, "TX_TIMEOUT")
	}
	if c.StatsCacheSize < 0 {
		invalid = append(invalid, "STATS_CACHE_SIZE")
	}
	if c.StatsCacheTTL < 0 {
		invalid = append(invalid, "STATS_CACHE_TTL")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		missing = append(missing, "TLS_CERT_FILE/TLS_KEY_FILE")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return errors.New("invalid environment variables: " + strings.Join(invalid, ", "))
	}

	if c.IsProduction() {
		var problems []string
		if c.StoreDriver == "memory" {
			problems = append(problems, "STORE_DRIVER must be durable")
		}
		if len(c.AccessSecret) < minProductionSecret {
			problems = append(problems, fmt.Sprintf("ACCESS_SECRET must be at least %d bytes", minProductionSecret))
		}
		if c.TLSCertFile == "" {
			problems = append(problems, "TLS_CERT_FILE and TLS_KEY_FILE are required")
		}
		if len(problems) > 0 {
			return errors.New("invalid configuration for " + c.Environment + ": " + strings.Join(problems, "; "))
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction || c.Environment == EnvStaging
}

type parser struct {
	invalid []string
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
