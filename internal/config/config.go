package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration loaded from the environment
// and an optional .env file.
type Config struct {
	ServerPort  string
	Environment string
	LogLevel    string
	SwaggerHost string

	DBDriver string
	DBDSN    string

	RedisAddr string
	RedisDB   int
	RedisPass string

	JWT   JWTConfig
	OTP   OTPConfig
	Hash  HashConfig
	Email EmailConfig
	OTel  OTelConfig
}

// JWTConfig holds bearer token settings.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// OTPConfig holds one-time passcode settings.
type OTPConfig struct {
	TTL time.Duration
}

// HashConfig holds Argon2id parameters and the hashing concurrency bound.
type HashConfig struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	Workers   int
}

// EmailConfig holds SMTP and dispatch queue settings. An empty SMTPHost
// selects the logging sender.
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
	FromName     string
	QueueSize    int
	Workers      int
}

// OTelConfig holds tracing settings.
type OTelConfig struct {
	Enabled       bool
	ServiceName   string
	CollectorAddr string
}

const defaultJWTSecret = "change-me"

// Load builds Config from .env and environment with sensible defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		// a missing .env is fine, the environment still applies
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	threads := v.GetUint("HASH_THREADS")
	if threads > math.MaxUint8 {
		return nil, fmt.Errorf("config validation failed: HASH_THREADS must be at most %d, got %d", math.MaxUint8, threads)
	}

	cfg := &Config{
		ServerPort:  v.GetString("SERVER_PORT"),
		Environment: v.GetString("APP_ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		SwaggerHost: v.GetString("SWAGGER_HOST"),
		DBDriver:    v.GetString("DB_DRIVER"),
		DBDSN:       v.GetString("DB_DSN"),
		RedisAddr:   v.GetString("REDIS_ADDR"),
		RedisDB:     v.GetInt("REDIS_DB"),
		RedisPass:   v.GetString("REDIS_PASSWORD"),
		JWT: JWTConfig{
			Secret:   v.GetString("JWT_SECRET"),
			Issuer:   v.GetString("JWT_ISSUER"),
			Audience: v.GetString("JWT_AUDIENCE"),
			TTL:      v.GetDuration("JWT_TTL"),
		},
		OTP: OTPConfig{
			TTL: v.GetDuration("OTP_TTL"),
		},
		Hash: HashConfig{
			Time:      v.GetUint32("HASH_TIME"),
			MemoryKiB: v.GetUint32("HASH_MEMORY_KIB"),
			Threads:   uint8(threads),
			Workers:   v.GetInt("HASH_WORKERS"),
		},
		Email: EmailConfig{
			SMTPHost:     v.GetString("SMTP_HOST"),
			SMTPPort:     v.GetInt("SMTP_PORT"),
			SMTPUsername: v.GetString("SMTP_USERNAME"),
			SMTPPassword: v.GetString("SMTP_PASSWORD"),
			From:         v.GetString("SMTP_FROM"),
			FromName:     v.GetString("SMTP_FROM_NAME"),
			QueueSize:    v.GetInt("EMAIL_QUEUE_SIZE"),
			Workers:      v.GetInt("EMAIL_WORKERS"),
		},
		OTel: OTelConfig{
			Enabled:       v.GetBool("OTEL_ENABLED"),
			ServiceName:   v.GetString("OTEL_SERVICE_NAME"),
			CollectorAddr: v.GetString("OTEL_COLLECTOR_ADDR"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_DSN", "user:password@tcp(localhost:3306)/topictalks?charset=utf8mb4&parseTime=True&loc=Local")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "https://topictalks.local")
	v.SetDefault("JWT_AUDIENCE", "https://topictalks.local")
	v.SetDefault("JWT_TTL", "3h")

	v.SetDefault("OTP_TTL", "5m")

	v.SetDefault("HASH_TIME", 1)
	v.SetDefault("HASH_MEMORY_KIB", 64*1024)
	v.SetDefault("HASH_THREADS", 2)
	v.SetDefault("HASH_WORKERS", 4)

	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM", "no-reply@topictalks.local")
	v.SetDefault("SMTP_FROM_NAME", "TopicTalks")
	v.SetDefault("EMAIL_QUEUE_SIZE", 256)
	v.SetDefault("EMAIL_WORKERS", 2)

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "topictalks-identity")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP_TTL must be positive")
	}
	switch c.DBDriver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.Hash.Time == 0 || c.Hash.MemoryKiB == 0 || c.Hash.Threads == 0 {
		return errors.New("HASH_TIME, HASH_MEMORY_KIB and HASH_THREADS must be positive")
	}
	if c.Hash.Workers <= 0 || c.Email.Workers <= 0 || c.Email.QueueSize <= 0 {
		return errors.New("worker and queue sizes must be positive")
	}
	return nil
}
