package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Paystack PaystackConfig
	Ledger   LedgerConfig
	Download DownloadConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey string
}

type PaystackConfig struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
}

// WithdrawalPolicy bounds a single withdrawal request. Amounts are in kobo.
type WithdrawalPolicy struct {
	Minimum int64
	Fee     int64
}

type LedgerConfig struct {
	Currency        string
	DownloadWindow  time.Duration
	UserWithdrawal  WithdrawalPolicy
	AdminWithdrawal WithdrawalPolicy
	VerifyLockTTL   time.Duration
}

type DownloadConfig struct {
	SigningKey string
}

type LogConfig struct {
	Level  string
	Format string
}

var bindings = map[string]string{
	"server.port":             "PORT",
	"server.allowed_origins":  "ALLOWED_ORIGINS",
	"database.host":           "DATABASE_HOST",
	"database.port":           "DATABASE_PORT",
	"database.user":           "DATABASE_USER",
	"database.password":       "DATABASE_PASSWORD",
	"database.name":           "DATABASE_NAME",
	"database.ssl_mode":       "DATABASE_SSL_MODE",
	"database.max_open_conns": "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns": "DATABASE_MAX_IDLE_CONNS",
	"redis.host":              "REDIS_HOST",
	"redis.port":              "REDIS_PORT",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"jwt.secret_key":          "JWT_SECRET_KEY",
	"paystack.base_url":       "PAYSTACK_BASE_URL",
	"paystack.secret_key":     "PAYSTACK_SECRET_KEY",
	"paystack.callback_url":   "PAYSTACK_CALLBACK_URL",
	"paystack.timeout":        "PAYSTACK_TIMEOUT",
	"ledger.currency":         "LEDGER_CURRENCY",
	"ledger.download_window":  "DOWNLOAD_WINDOW",
	"ledger.user_min":         "USER_WITHDRAWAL_MINIMUM",
	"ledger.user_fee":         "USER_WITHDRAWAL_FEE",
	"ledger.admin_min":        "ADMIN_WITHDRAWAL_MINIMUM",
	"ledger.admin_fee":        "ADMIN_WITHDRAWAL_FEE",
	"ledger.verify_lock_ttl":  "VERIFY_LOCK_TTL",
	"download.signing_key":    "DOWNLOAD_SIGNING_KEY",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", "http://localhost:3000,http://localhost:5173")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "marketplace")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("paystack.base_url", "https://api.paystack.co")
	v.SetDefault("paystack.timeout", 15*time.Second)

	// ₦500 / ₦50 for users, ₦1,000 / ₦100 for the platform wallet.
	v.SetDefault("ledger.currency", "NGN")
	v.SetDefault("ledger.download_window", 24*time.Hour)
	v.SetDefault("ledger.user_min", 50_000)
	v.SetDefault("ledger.user_fee", 5_000)
	v.SetDefault("ledger.admin_min", 100_000)
	v.SetDefault("ledger.admin_fee", 10_000)
	v.SetDefault("ledger.verify_lock_ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env (when present) and the environment into a Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  splitList(v.GetString("server.allowed_origins")),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{SecretKey: v.GetString("jwt.secret_key")},
		Paystack: PaystackConfig{
			BaseURL:     strings.TrimRight(v.GetString("paystack.base_url"), "/"),
			SecretKey:   v.GetString("paystack.secret_key"),
			CallbackURL: v.GetString("paystack.callback_url"),
			Timeout:     v.GetDuration("paystack.timeout"),
		},
		Ledger: LedgerConfig{
			Currency:       v.GetString("ledger.currency"),
			DownloadWindow: v.GetDuration("ledger.download_window"),
			UserWithdrawal: WithdrawalPolicy{
				Minimum: v.GetInt64("ledger.user_min"),
				Fee:     v.GetInt64("ledger.user_fee"),
			},
			AdminWithdrawal: WithdrawalPolicy{
				Minimum: v.GetInt64("ledger.admin_min"),
				Fee:     v.GetInt64("ledger.admin_fee"),
			},
			VerifyLockTTL: v.GetDuration("ledger.verify_lock_ttl"),
		},
		Download: DownloadConfig{SigningKey: v.GetString("download.signing_key")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return errors.New("JWT_SECRET_KEY is required")
	}
	if c.Download.SigningKey == "" {
		return errors.New("DOWNLOAD_SIGNING_KEY is required")
	}
	if c.Ledger.UserWithdrawal.Minimum <= 0 || c.Ledger.AdminWithdrawal.Minimum <= 0 {
		return errors.New("withdrawal minimums must be positive")
	}
	if c.Ledger.UserWithdrawal.Fee < 0 || c.Ledger.AdminWithdrawal.Fee < 0 {
		return errors.New("withdrawal fees cannot be negative")
	}
	if c.Ledger.DownloadWindow <= 0 {
		return errors.New("DOWNLOAD_WINDOW must be positive")
	}
	// Credentialed CORS requires explicit origins.
	for _, origin := range c.Server.AllowedOrigins {
		if strings.Contains(origin, "*") {
			return fmt.Errorf("ALLOWED_ORIGINS must list explicit origins, got %q", origin)
		}
	}
	return nil
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
