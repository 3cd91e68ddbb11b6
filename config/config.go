package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage drivers
const (
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageNone     = "none"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFile     string

	CoinGeckoURL    string
	CoinGeckoAPIKey string
	UpstreamTimeout time.Duration
	CacheTTL        time.Duration
	TickInterval    time.Duration
	DefaultCurrency string
	MaxWSClients    int

	StorageDriver string
	MongoURI      string
	MongoDatabase string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	SQLitePath    string

	JWTSecret string
	JWTTTL    time.Duration

	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SMTPFrom       string
	AlertRecipient string
	WebhookURL     string

	NotifyWorkers   int
	NotifyQueueSize int
}

// LoadConfig loads environment variables. Invalid values fall back to their
// defaults and are reported on log.
func LoadConfig(log zerolog.Logger) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	l := loader{log: log}
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),

		CoinGeckoURL:    getEnv("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		CoinGeckoAPIKey: getEnv("COINGECKO_API_KEY", ""),
		UpstreamTimeout: l.duration("UPSTREAM_TIMEOUT", 15*time.Second),
		CacheTTL:        l.duration("CACHE_TTL", 60*time.Second),
		TickInterval:    l.duration("TICK_INTERVAL", 60*time.Second),
		DefaultCurrency: strings.ToLower(getEnv("DEFAULT_CURRENCY", "usd")),
		MaxWSClients:    l.integer("MAX_WS_CLIENTS", 1000),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageNone)),
		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "crypto_alerts"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", ""),
		DBName:        getEnv("DB_NAME", "crypto_alerts"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		SQLitePath:    getEnv("SQLITE_PATH", "crypto_alerts.db"),

		JWTSecret: getEnv("JWT_SECRET", "your-secret-key"),
		JWTTTL:    l.duration("JWT_TTL", 24*time.Hour),

		SMTPHost:       getEnv("SMTP_HOST", ""),
		SMTPPort:       l.integer("SMTP_PORT", 587),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:       getEnv("SMTP_FROM", ""),
		AlertRecipient: getEnv("ALERT_RECIPIENT", ""),
		WebhookURL:     getEnv("ALERT_WEBHOOK_URL", ""),

		NotifyWorkers:   l.integer("NOTIFY_WORKERS", 4),
		NotifyQueueSize: l.integer("NOTIFY_QUEUE_SIZE", 256),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("STORAGE_DRIVER=mongo requires MONGODB_URI")
		}
	case StoragePostgres, StorageSQLite, StorageNone:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.Environment == "production" && c.StorageDriver != StorageNone && c.JWTSecret == "your-secret-key" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// InitDB opens the SQL database selected by StorageDriver
func InitDB(cfg *Config, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.StorageDriver {
	case StoragePostgres:
		log.Info().
			Str("host", maskHost(cfg.DBHost)).
			Str("port", cfg.DBPort).
			Str("user", cfg.DBUser).
			Str("dbname", cfg.DBName).
			Msg("connecting to database")

		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)
		dialector = postgres.Open(dsn)
	case StorageSQLite:
		log.Info().Str("path", cfg.SQLitePath).Msg("opening sqlite database")
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("storage driver %q is not a SQL driver", cfg.StorageDriver)
	}

	var logLevel logger.LogLevel
	if cfg.IsProduction() {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Str("driver", cfg.StorageDriver).Msg("database connection verified")
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

type loader struct {
	log zerolog.Logger
}

func (l loader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		l.log.Warn().Str("key", key).Str("value", value).Dur("default", defaultValue).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

func (l loader) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		l.log.Warn().Str("key", key).Str("value", value).Int("default", defaultValue).Msg("invalid integer, using default")
		return defaultValue
	}
	return n
}
