package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/lifecycle"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Realtime     RealtimeConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	SLA          SLAConfig
	Assignment   AssignmentConfig
	Classifier   ClassifierConfig
	Kafka        KafkaConfig
	Scheduler    SchedulerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// RealtimeConfig configures the websocket gateway.
type RealtimeConfig struct {
	Addr                string
	OriginWindowSeconds int
	OriginLimit         int
	BacklogSize         int
	AllowedOrigins      []string
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int

	// Bootstrap admin is provisioned on serve when both values are set.
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// NotificationConfig configures delivery channels.
type NotificationConfig struct {
	EmailFrom    string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	ExpiryDays   int
}

// SLAConfig holds per-priority hour budgets.
type SLAConfig struct {
	LowResponseHours      int
	LowResolutionHours    int
	MediumResponseHours   int
	MediumResolutionHours int
	HighResponseHours     int
	HighResolutionHours   int
	UrgentResponseHours   int
	UrgentResolutionHours int
}

// AssignmentConfig drives the assignment engine.
type AssignmentConfig struct {
	AgentCapacity      int
	AutoAssignOnCreate bool
}

// ClassifierConfig bounds classifier calls.
type ClassifierConfig struct {
	TimeoutMillis int
}

// KafkaConfig configures the lifecycle event exporter. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// SchedulerConfig holds cron specs for background jobs.
type SchedulerConfig struct {
	NotificationGCSpec string
	OverdueSweepSpec   string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "complaint-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Realtime: RealtimeConfig{
			Addr:                getEnv("REALTIME_ADDR", "0.0.0.0:8081"),
			OriginWindowSeconds: getEnvAsInt("REALTIME_ORIGIN_WINDOW_SECONDS", 10),
			OriginLimit:         getEnvAsInt("REALTIME_ORIGIN_LIMIT", 5),
			BacklogSize:         getEnvAsInt("REALTIME_BACKLOG_SIZE", 20),
			AllowedOrigins:      getEnvAsList("REALTIME_ALLOWED_ORIGINS"),
			TrustedProxies:      getEnvAsList("REALTIME_TRUSTED_PROXIES"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			AdminEmail:            os.Getenv("AUTH_ADMIN_EMAIL"),
			AdminPassword:         os.Getenv("AUTH_ADMIN_PASSWORD"),
			AdminName:             getEnv("AUTH_ADMIN_NAME", "Administrator"),
		},
		Notification: NotificationConfig{
			EmailFrom:    getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			SMTPHost:     os.Getenv("SMTP_HOST"),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:     os.Getenv("SMTP_USER"),
			SMTPPassword: os.Getenv("SMTP_PASSWORD"),
			ExpiryDays:   getEnvAsInt("NOTIFY_EXPIRY_DAYS", 30),
		},
		SLA: SLAConfig{
			LowResponseHours:      getEnvAsInt("SLA_LOW_RESPONSE_HOURS", 24),
			LowResolutionHours:    getEnvAsInt("SLA_LOW_RESOLUTION_HOURS", 168),
			MediumResponseHours:   getEnvAsInt("SLA_MEDIUM_RESPONSE_HOURS", 8),
			MediumResolutionHours: getEnvAsInt("SLA_MEDIUM_RESOLUTION_HOURS", 72),
			HighResponseHours:     getEnvAsInt("SLA_HIGH_RESPONSE_HOURS", 4),
			HighResolutionHours:   getEnvAsInt("SLA_HIGH_RESOLUTION_HOURS", 24),
			UrgentResponseHours:   getEnvAsInt("SLA_URGENT_RESPONSE_HOURS", 1),
			UrgentResolutionHours: getEnvAsInt("SLA_URGENT_RESOLUTION_HOURS", 4),
		},
		Assignment: AssignmentConfig{
			AgentCapacity:      getEnvAsInt("ASSIGNMENT_AGENT_CAPACITY", 5),
			AutoAssignOnCreate: getEnvAsBool("ASSIGNMENT_AUTO_ON_CREATE", false),
		},
		Classifier: ClassifierConfig{
			TimeoutMillis: getEnvAsInt("CLASSIFIER_TIMEOUT_MS", 2000),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "complaint.lifecycle"),
		},
		Scheduler: SchedulerConfig{
			NotificationGCSpec: getEnv("SCHEDULER_NOTIFICATION_GC", "@every 1h"),
			OverdueSweepSpec:   getEnv("SCHEDULER_OVERDUE_SWEEP", "@every 5m"),
		},
	}

	if cfg.Assignment.AgentCapacity <= 0 {
		return nil, fmt.Errorf("invalid ASSIGNMENT_AGENT_CAPACITY: %d", cfg.Assignment.AgentCapacity)
	}
	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// OriginWindow returns the connection attempt window.
func (r RealtimeConfig) OriginWindow() time.Duration {
	if r.OriginWindowSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.OriginWindowSeconds) * time.Second
}

// AccessTokenTTL returns the JWT lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// Expiry returns how long notifications are retained.
func (n NotificationConfig) Expiry() time.Duration {
	return time.Duration(n.ExpiryDays) * 24 * time.Hour
}

// Timeout returns the classifier call budget.
func (c ClassifierConfig) Timeout() time.Duration {
	if c.TimeoutMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// SLATable builds the lifecycle table from configured hours.
func (c *Config) SLATable() lifecycle.SLATable {
	hours := func(h int) time.Duration { return time.Duration(h) * time.Hour }
	s := c.SLA
	return lifecycle.SLATable{
		domain.TicketPriorityLow:    {Response: hours(s.LowResponseHours), Resolution: hours(s.LowResolutionHours)},
		domain.TicketPriorityMedium: {Response: hours(s.MediumResponseHours), Resolution: hours(s.MediumResolutionHours)},
		domain.TicketPriorityHigh:   {Response: hours(s.HighResponseHours), Resolution: hours(s.HighResolutionHours)},
		domain.TicketPriorityUrgent: {Response: hours(s.UrgentResponseHours), Resolution: hours(s.UrgentResolutionHours)},
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
