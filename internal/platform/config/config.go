package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration, read once at startup.
type Config struct {
	Server    Server
	Policy    PolicyConfig
	Sanctions SanctionsConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	Log       LogConfig

	// Fixture files backing the ownership oracle and identity directory.
	OwnershipFile string
	IdentityFile  string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	ShutdownTimeout time.Duration
}

type PolicyConfig struct {
	Dir          string
	PollInterval time.Duration
	// AlertAfter consecutive validation failures raise an alert.
	AlertAfter int
}

// SanctionsConfig selects the screening provider. URL wins over Lists.
type SanctionsConfig struct {
	Lists string
	URL   string
	RPS   float64
	Burst int
}

// DatabaseConfig selects the audit ledger store. An empty URL keeps the
// ledger in memory.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// RedisConfig backs the velocity store. An empty URL keeps velocity
// windows in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables record stream publishing when Brokers is set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RateLimitConfig caps /v1 requests per client IP. Limit 0 disables it.
type RateLimitConfig struct {
	Limit      int
	Window     time.Duration
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
}

type LogConfig struct {
	Level  string
	Format string
}

const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []error
	cfg := Config{
		Server: Server{
			Addr:            getEnv("ARBITER_ADDR", ":8080"),
			JWTSigningKey:   getEnv("ARBITER_JWT_SIGNING_KEY", devSigningKey),
			ShutdownTimeout: getDuration("ARBITER_SHUTDOWN_TIMEOUT", 15*time.Second, &errs),
		},
		Policy: PolicyConfig{
			Dir:          getEnv("ARBITER_POLICY_DIR", "policies"),
			PollInterval: getDuration("ARBITER_POLICY_POLL_INTERVAL", 30*time.Second, &errs),
			AlertAfter:   getInt("ARBITER_POLICY_ALERT_AFTER", 3, &errs),
		},
		Sanctions: SanctionsConfig{
			Lists: os.Getenv("ARBITER_SANCTIONS_LISTS"),
			URL:   os.Getenv("ARBITER_SANCTIONS_URL"),
			RPS:   getFloat("ARBITER_SANCTIONS_RPS", 50, &errs),
			Burst: getInt("ARBITER_SANCTIONS_BURST", 10, &errs),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("ARBITER_DATABASE_DRIVER", "postgres")),
			URL:    os.Getenv("ARBITER_DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("ARBITER_REDIS_URL"),
			PoolSize:     getInt("ARBITER_REDIS_POOL_SIZE", 10, &errs),
			MinIdleConns: getInt("ARBITER_REDIS_MIN_IDLE_CONNS", 2, &errs),
			DialTimeout:  getDuration("ARBITER_REDIS_DIAL_TIMEOUT", 5*time.Second, &errs),
			ReadTimeout:  getDuration("ARBITER_REDIS_READ_TIMEOUT", 3*time.Second, &errs),
			WriteTimeout: getDuration("ARBITER_REDIS_WRITE_TIMEOUT", 3*time.Second, &errs),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("ARBITER_KAFKA_BROKERS")),
			Topic:   getEnv("ARBITER_KAFKA_TOPIC", "arbiter.audit-records"),
		},
		RateLimit: RateLimitConfig{
			Limit:      getInt("ARBITER_RATE_LIMIT", 600, &errs),
			Window:     getDuration("ARBITER_RATE_LIMIT_WINDOW", time.Minute, &errs),
			TrustProxy: getBool("ARBITER_TRUST_PROXY", false, &errs),
		},
		Log: LogConfig{
			Level:  getEnv("ARBITER_LOG_LEVEL", "info"),
			Format: getEnv("ARBITER_LOG_FORMAT", "json"),
		},
		OwnershipFile: os.Getenv("ARBITER_OWNERSHIP_FILE"),
		IdentityFile:  os.Getenv("ARBITER_IDENTITY_FILE"),
	}

	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("ARBITER_DATABASE_DRIVER: unsupported driver %q", cfg.Database.Driver))
	}
	if cfg.RateLimit.Limit > 0 && cfg.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ARBITER_RATE_LIMIT_WINDOW must be positive"))
	}
	if cfg.Sanctions.RPS <= 0 {
		errs = append(errs, errors.New("ARBITER_SANCTIONS_RPS must be positive"))
	}
	return cfg, errors.Join(errs...)
}

// UsesDevSigningKey reports whether operator tokens are signed with the
// built-in development key.
func (s Server) UsesDevSigningKey() bool {
	return s.JWTSigningKey == devSigningKey
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func getInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func getBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func getFloat(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
