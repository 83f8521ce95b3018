package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Case         CaseConfig
	Scheduler    SchedulerConfig
	Storage      StorageConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	Timezone              string
	Location              *time.Location
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	Issuer                string
	Audience              string
	AccessTokenTTLMinutes int
	BcryptCost            int
	// BootstrapSystemToken is an optional `<id>.<secret>` registered at startup.
	BootstrapSystemToken  string
}

// NotificationConfig holds outbound messaging settings.
type NotificationConfig struct {
	WhatsAppURL       string
	WhatsAppToken     string
	ManagementNumbers []string
	TimeoutSeconds    int
	QueueKey          string
	QueueSize         int
}

// CaseConfig holds lifecycle policy values.
type CaseConfig struct {
	IDPrefix         string
	ResponseSLAHours int
	ClosureSLAHours  int
	FollowupDays     int
	SystemUnit       string
}

// SchedulerConfig controls background job cadence.
type SchedulerConfig struct {
	Enabled                 bool
	OverdueIntervalMinutes  int
	FollowupIntervalMinutes int
	DigestHour              int
	DigestMinute            int
}

// StorageConfig controls attachment storage.
type StorageConfig struct {
	UploadDir      string
	MaxUploadBytes int64
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	tz := getEnv("TIMEZONE", "Asia/Kolkata")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "hiccup-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			Timezone:              tz,
			Location:              loc,
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:                getEnv("AUTH_JWT_ISSUER", "arpra"),
			Audience:              getEnv("AUTH_JWT_AUDIENCE", "arpra"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			BootstrapSystemToken:  os.Getenv("AUTH_BOOTSTRAP_SYSTEM_TOKEN"),
		},
		Notification: NotificationConfig{
			WhatsAppURL:       getEnv("WHATSAPP_API_URL", ""),
			WhatsAppToken:     os.Getenv("WHATSAPP_API_TOKEN"),
			ManagementNumbers: getEnvAsList("MANAGEMENT_GROUP_NUMBERS"),
			TimeoutSeconds:    getEnvAsInt("WHATSAPP_TIMEOUT_SECONDS", 10),
			QueueKey:          getEnv("NOTIFY_QUEUE_KEY", "hiccup:notifications"),
			QueueSize:         getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
		},
		Case: CaseConfig{
			IDPrefix:         getEnv("CASE_ID_PREFIX", "HCP"),
			ResponseSLAHours: getEnvAsInt("CASE_RESPONSE_SLA_HOURS", 24),
			ClosureSLAHours:  getEnvAsInt("CASE_CLOSURE_SLA_HOURS", 72),
			FollowupDays:     getEnvAsInt("CASE_FOLLOWUP_DAYS", 7),
			SystemUnit:       getEnv("CASE_SYSTEM_UNIT", "System"),
		},
		Scheduler: SchedulerConfig{
			Enabled:                 getEnvAsBool("SCHEDULER_ENABLED", true),
			OverdueIntervalMinutes:  getEnvAsInt("SCHEDULER_OVERDUE_INTERVAL_MINUTES", 60),
			FollowupIntervalMinutes: getEnvAsInt("SCHEDULER_FOLLOWUP_INTERVAL_MINUTES", 360),
			DigestHour:              getEnvAsInt("SCHEDULER_DIGEST_HOUR", 11),
			DigestMinute:            getEnvAsInt("SCHEDULER_DIGEST_MINUTE", 0),
		},
		Storage: StorageConfig{
			UploadDir:      getEnv("UPLOAD_DIR", "uploads/hiccups"),
			MaxUploadBytes: int64(getEnvAsInt("UPLOAD_MAX_MB", 10)) * 1024 * 1024,
		},
	}

	if cfg.Scheduler.DigestHour < 0 || cfg.Scheduler.DigestHour > 23 {
		return nil, fmt.Errorf("invalid SCHEDULER_DIGEST_HOUR: %d", cfg.Scheduler.DigestHour)
	}
	if cfg.Scheduler.DigestMinute < 0 || cfg.Scheduler.DigestMinute > 59 {
		return nil, fmt.Errorf("invalid SCHEDULER_DIGEST_MINUTE: %d", cfg.Scheduler.DigestMinute)
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

// Timeout returns the outbound delivery timeout.
func (n NotificationConfig) Timeout() time.Duration {
	if n.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// FollowupWindow returns how long after closure a follow-up is due.
func (c CaseConfig) FollowupWindow() time.Duration {
	return time.Duration(c.FollowupDays) * 24 * time.Hour
}

// OverdueInterval returns the overdue scan interval.
func (s SchedulerConfig) OverdueInterval() time.Duration {
	return time.Duration(s.OverdueIntervalMinutes) * time.Minute
}

// FollowupInterval returns the follow-up sweep interval.
func (s SchedulerConfig) FollowupInterval() time.Duration {
	return time.Duration(s.FollowupIntervalMinutes) * time.Minute
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
