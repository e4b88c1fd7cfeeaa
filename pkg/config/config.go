package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Workflow      WorkflowConfig
	Notifications NotificationsConfig
	Sync          SyncConfig
	StatusCache   StatusCacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// WorkflowConfig tunes the approval transition path.
type WorkflowConfig struct {
	// MaxTransitionAttempts bounds optimistic-concurrency retries before
	// Contention is surfaced to the actor.
	MaxTransitionAttempts int
	// RequireDocuments gates advisor approval on uploaded paperwork.
	RequireDocuments bool
}

// NotificationsConfig configures transition-event dispatch.
type NotificationsConfig struct {
	Enabled    bool
	Channels   []string
	MaxRetries int
	RetryDelay time.Duration
	LogSize    int
	Workers    int

	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string

	FirebaseCredentialsFile string
}

// SyncConfig drives the status-watcher client defaults.
type SyncConfig struct {
	Interval    time.Duration
	MaxFailures int
	MaxBackoff  time.Duration
	StaleFactor int
}

// StatusCacheConfig tunes the read-path status cache.
type StatusCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Workflow = WorkflowConfig{
		MaxTransitionAttempts: v.GetInt("WORKFLOW_MAX_TRANSITION_ATTEMPTS"),
		RequireDocuments:      v.GetBool("WORKFLOW_REQUIRE_DOCUMENTS"),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:                 v.GetBool("ENABLE_NOTIFICATIONS"),
		Channels:                splitAndTrim(v.GetString("NOTIFICATION_CHANNELS")),
		MaxRetries:              v.GetInt("NOTIFICATION_MAX_RETRIES"),
		RetryDelay:              parseDuration(v.GetString("NOTIFICATION_RETRY_DELAY"), 500*time.Millisecond),
		LogSize:                 v.GetInt("NOTIFICATION_LOG_SIZE"),
		Workers:                 v.GetInt("NOTIFICATION_WORKERS"),
		SendGridAPIKey:          v.GetString("SENDGRID_API_KEY"),
		EmailFrom:               v.GetString("NOTIFICATION_EMAIL_FROM"),
		EmailFromName:           v.GetString("NOTIFICATION_EMAIL_FROM_NAME"),
		FirebaseCredentialsFile: v.GetString("FIREBASE_CREDENTIALS_FILE"),
	}

	cfg.Sync = SyncConfig{
		Interval:    parseDuration(v.GetString("SYNC_INTERVAL"), 15*time.Second),
		MaxFailures: v.GetInt("SYNC_MAX_FAILURES"),
		MaxBackoff:  parseDuration(v.GetString("SYNC_MAX_BACKOFF"), 2*time.Minute),
		StaleFactor: v.GetInt("SYNC_STALE_FACTOR"),
	}

	cfg.StatusCache = StatusCacheConfig{
		Enabled: v.GetBool("ENABLE_STATUS_CACHE"),
		TTL:     parseDuration(v.GetString("STATUS_CACHE_TTL"), 30*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "coop_approval")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("WORKFLOW_MAX_TRANSITION_ATTEMPTS", 3)
	v.SetDefault("WORKFLOW_REQUIRE_DOCUMENTS", false)

	v.SetDefault("ENABLE_NOTIFICATIONS", false)
	v.SetDefault("NOTIFICATION_CHANNELS", "email,push")
	v.SetDefault("NOTIFICATION_MAX_RETRIES", 2)
	v.SetDefault("NOTIFICATION_RETRY_DELAY", "500ms")
	v.SetDefault("NOTIFICATION_LOG_SIZE", 256)
	v.SetDefault("NOTIFICATION_WORKERS", 2)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("NOTIFICATION_EMAIL_FROM", "noreply@coop.example.edu")
	v.SetDefault("NOTIFICATION_EMAIL_FROM_NAME", "Co-op Office")
	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")

	v.SetDefault("SYNC_INTERVAL", "15s")
	v.SetDefault("SYNC_MAX_FAILURES", 3)
	v.SetDefault("SYNC_MAX_BACKOFF", "2m")
	v.SetDefault("SYNC_STALE_FACTOR", 2)

	v.SetDefault("ENABLE_STATUS_CACHE", false)
	v.SetDefault("STATUS_CACHE_TTL", "30s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
