// Package config loads runtime configuration from the environment. A .env
// file in the working directory is honored for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	strs "trustcore/pkg/platform/strings"
)

// Config is the full runtime configuration of the server.
type Config struct {
	Server    Server
	Redis     RedisConfig
	Postgres  PostgresConfig
	Kafka     KafkaConfig
	Tracing   TracingConfig
	Audit     AuditConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Risk      RiskConfig
	LogLevel  string
	LogFormat string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	AdminToken      string
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

type TracingConfig struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

type AuditConfig struct {
	// Store selects the persistence backend: "jsonl", "postgres" or "memory".
	Store          string
	Dir            string
	SpoolPath      string
	QueueSize      int
	EnqueueTimeout time.Duration
	RotateInterval time.Duration
}

// ClassLimit is the budget for one endpoint class.
type ClassLimit struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	// Store selects "redis" or "memory".
	Store     string
	Auth      ClassLimit
	Financial ClassLimit
	Read      ClassLimit
	// BreakerThreshold is the number of consecutive store failures after
	// which degraded mode is declared.
	BreakerThreshold int
}

type AuthConfig struct {
	SigningKey       string
	Issuer           string
	Audience         string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	LockoutThreshold int
	LockoutCooldown  time.Duration
	FailureWindow    time.Duration
	// RevocationStore selects "redis", "postgres" or "memory".
	RevocationStore string
	// UsersFile is an optional YAML file of subject/bcrypt-hash pairs.
	UsersFile string
}

type RiskConfig struct {
	ReferenceFile string
	Budget        time.Duration
}

const (
	DefaultAddr       = ":8080"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
	DefaultAlertTopic = "trustcore.alerts"
	devSigningKey     = "dev-secret-key-change-in-production"
)

// Load reads configuration from environment variables. It loads a .env file
// if present and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: Server{
			Addr:            getEnv("TRUSTCORE_ADDR", DefaultAddr),
			AdminToken:      os.Getenv("ADMIN_API_TOKEN"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 20),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Postgres: PostgresConfig{
			DSN:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getEnvInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AlertTopic: getEnv("KAFKA_ALERT_TOPIC", DefaultAlertTopic),
		},
		Tracing: TracingConfig{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "trustcore"),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		Audit: AuditConfig{
			Store:          getEnv("AUDIT_STORE", "jsonl"),
			Dir:            getEnv("AUDIT_DIR", "./data/audit"),
			SpoolPath:      getEnv("AUDIT_SPOOL_PATH", "./data/audit-spool.jsonl"),
			QueueSize:      getEnvInt("AUDIT_QUEUE_SIZE", 1024),
			EnqueueTimeout: getEnvDuration("AUDIT_ENQUEUE_TIMEOUT", 50*time.Millisecond),
			RotateInterval: getEnvDuration("AUDIT_ROTATE_INTERVAL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Store: getEnv("RATELIMIT_STORE", "redis"),
			Auth: ClassLimit{
				Limit:  getEnvInt("RATELIMIT_AUTH_LIMIT", 10),
				Window: getEnvDuration("RATELIMIT_AUTH_WINDOW", time.Minute),
			},
			Financial: ClassLimit{
				Limit:  getEnvInt("RATELIMIT_FINANCIAL_LIMIT", 30),
				Window: getEnvDuration("RATELIMIT_FINANCIAL_WINDOW", time.Minute),
			},
			Read: ClassLimit{
				Limit:  getEnvInt("RATELIMIT_READ_LIMIT", 100),
				Window: getEnvDuration("RATELIMIT_READ_WINDOW", time.Minute),
			},
			BreakerThreshold: getEnvInt("RATELIMIT_BREAKER_THRESHOLD", 3),
		},
		Auth: AuthConfig{
			SigningKey:       getEnv("JWT_SIGNING_KEY", devSigningKey),
			Issuer:           getEnv("JWT_ISSUER", "trustcore"),
			Audience:         getEnv("JWT_AUDIENCE", "trustcore-platform"),
			AccessTTL:        getEnvDuration("AUTH_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:       getEnvDuration("AUTH_REFRESH_TTL", 24*time.Hour),
			LockoutThreshold: getEnvInt("AUTH_LOCKOUT_THRESHOLD", 5),
			LockoutCooldown:  getEnvDuration("AUTH_LOCKOUT_COOLDOWN", 15*time.Minute),
			FailureWindow:    getEnvDuration("AUTH_FAILURE_WINDOW", 15*time.Minute),
			RevocationStore:  getEnv("AUTH_REVOCATION_STORE", "redis"),
			UsersFile:        os.Getenv("AUTH_USERS_FILE"),
		},
		Risk: RiskConfig{
			ReferenceFile: os.Getenv("RISK_REFERENCE_FILE"),
			Budget:        getEnvDuration("RISK_BUDGET", 50*time.Millisecond),
		},
		LogLevel:  getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat: getEnv("LOG_FORMAT", DefaultLogFormat),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would make the deployment unsafe.
func (c *Config) Validate() error {
	var errs []error

	rl := c.RateLimit
	for name, cl := range map[string]ClassLimit{"auth": rl.Auth, "financial": rl.Financial, "read": rl.Read} {
		if cl.Limit <= 0 || cl.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate limit %s: limit and window must be positive", name))
		}
	}
	authRate := perSecond(rl.Auth)
	if authRate > perSecond(rl.Financial) || authRate > perSecond(rl.Read) {
		errs = append(errs, errors.New("rate limit auth class must be the tightest budget"))
	}

	if c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL < c.Auth.AccessTTL {
		errs = append(errs, errors.New("refresh TTL must be at least the access TTL"))
	}
	if c.Auth.LockoutThreshold <= 0 || c.Auth.LockoutCooldown <= 0 {
		errs = append(errs, errors.New("lockout threshold and cooldown must be positive"))
	}
	if c.Audit.QueueSize <= 0 {
		errs = append(errs, errors.New("AUDIT_QUEUE_SIZE must be positive"))
	}

	switch c.Audit.Store {
	case "jsonl", "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("AUDIT_STORE=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIT_STORE %q", c.Audit.Store))
	}
	if needsRedis(c) && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis-backed stores require REDIS_URL"))
	}
	if c.Auth.RevocationStore == "postgres" && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("AUTH_REVOCATION_STORE=postgres requires DATABASE_URL"))
	}
	return errors.Join(errs...)
}

// UsesDevSigningKey reports whether the built-in development key is active.
func (c *Config) UsesDevSigningKey() bool {
	return c.Auth.SigningKey == devSigningKey
}

func needsRedis(c *Config) bool {
	return c.RateLimit.Store == "redis" || c.Auth.RevocationStore == "redis"
}

func perSecond(cl ClassLimit) float64 {
	if cl.Window <= 0 {
		return 0
	}
	return float64(cl.Limit) / cl.Window.Seconds()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return strs.DedupeAndTrim(strings.Split(value, ","))
}
