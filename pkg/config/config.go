package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
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
	Booking       BookingConfig
	Cancellation  CancellationConfig
	Subscriptions SubscriptionConfig
	Notifications NotificationConfig
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	MigrationsPath string
}

type RedisConfig struct {
	// URL, when set, replaces the individual connection fields.
	URL         string
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// JWTConfig only carries verification material; tokens are issued elsewhere.
type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BookingConfig bounds availability queries and tunes the open-slot cache.
type BookingConfig struct {
	MaxRangeDays  int
	Timezone      string
	CacheEnabled  bool
	CacheTTL      time.Duration
	CacheKeySpace string
	// SlotRetentionDays keeps capacity rows this many days past their date.
	SlotRetentionDays int
	PruneInterval     time.Duration
}

// CancellationConfig drives the cancellation category and the default fee policy.
type CancellationConfig struct {
	FreeWindow time.Duration
	FeePercent decimal.Decimal
	FlatFee    decimal.Decimal
}

// SubscriptionConfig controls the in-process subscription ticker.
type SubscriptionConfig struct {
	TickerEnabled bool
	TickInterval  time.Duration
	LockTTL       time.Duration
	LockKey       string
}

// NotificationConfig sizes the notification worker pool.
type NotificationConfig struct {
	Enabled bool
	Workers int
	Retries int
	Channel string
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:           v.GetString("DB_HOST"),
		Port:           v.GetInt("DB_PORT"),
		User:           v.GetString("DB_USER"),
		Password:       v.GetString("DB_PASSWORD"),
		Name:           v.GetString("DB_NAME"),
		SSLMode:        v.GetString("DB_SSL_MODE"),
		MaxOpenConns:   v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:   v.GetInt("DB_MAX_IDLE_CONNS"),
		MigrationsPath: v.GetString("MIGRATIONS_PATH"),
	}

	cfg.Redis = RedisConfig{
		URL:         strings.TrimSpace(v.GetString("REDIS_URL")),
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		PoolSize:    v.GetInt("REDIS_POOL_SIZE"),
		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 5*time.Second),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxRange := v.GetInt("BOOKING_MAX_RANGE_DAYS")
	if maxRange <= 0 {
		maxRange = 92
	}
	cfg.Booking = BookingConfig{
		MaxRangeDays:  maxRange,
		Timezone:      v.GetString("BOOKING_TIMEZONE"),
		CacheEnabled:  v.GetBool("ENABLE_AVAILABILITY_CACHE"),
		CacheTTL:      parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), 15*time.Second),
		CacheKeySpace: v.GetString("AVAILABILITY_CACHE_PREFIX"),

		SlotRetentionDays: v.GetInt("SLOT_RETENTION_DAYS"),
		PruneInterval:     parseDuration(v.GetString("SLOT_PRUNE_INTERVAL"), 24*time.Hour),
	}

	cfg.Cancellation = CancellationConfig{
		FreeWindow: parseDuration(v.GetString("CANCELLATION_FREE_WINDOW"), 72*time.Hour),
		FeePercent: parseDecimal(v.GetString("CANCELLATION_FEE_PERCENT"), decimal.Zero),
		FlatFee:    parseDecimal(v.GetString("CANCELLATION_FLAT_FEE"), decimal.Zero),
	}

	cfg.Subscriptions = SubscriptionConfig{
		TickerEnabled: v.GetBool("ENABLE_SUBSCRIPTION_TICKER"),
		TickInterval:  parseDuration(v.GetString("SUBSCRIPTION_TICK_INTERVAL"), time.Minute),
		LockTTL:       parseDuration(v.GetString("SUBSCRIPTION_TICK_LOCK_TTL"), 5*time.Minute),
		LockKey:       v.GetString("SUBSCRIPTION_TICK_LOCK_KEY"),
	}

	cfg.Notifications = NotificationConfig{
		Enabled: v.GetBool("ENABLE_NOTIFICATIONS"),
		Workers: v.GetInt("NOTIFY_WORKERS"),
		Retries: v.GetInt("NOTIFY_RETRIES"),
		Channel: v.GetString("NOTIFY_CHANNEL"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "churchms")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("MIGRATIONS_PATH", "./migrations")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 0)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BOOKING_MAX_RANGE_DAYS", 92)
	v.SetDefault("BOOKING_TIMEZONE", "UTC")
	v.SetDefault("ENABLE_AVAILABILITY_CACHE", false)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "15s")
	v.SetDefault("AVAILABILITY_CACHE_PREFIX", "availability")
	v.SetDefault("SLOT_RETENTION_DAYS", 30)
	v.SetDefault("SLOT_PRUNE_INTERVAL", "24h")

	v.SetDefault("CANCELLATION_FREE_WINDOW", "72h")
	v.SetDefault("CANCELLATION_FEE_PERCENT", "0")
	v.SetDefault("CANCELLATION_FLAT_FEE", "0")

	v.SetDefault("ENABLE_SUBSCRIPTION_TICKER", true)
	v.SetDefault("SUBSCRIPTION_TICK_INTERVAL", "1m")
	v.SetDefault("SUBSCRIPTION_TICK_LOCK_TTL", "5m")
	v.SetDefault("SUBSCRIPTION_TICK_LOCK_KEY", "locks:subscription-tick")

	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_CHANNEL", "appointments.events")
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

func parseDecimal(raw string, fallback decimal.Decimal) decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
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
