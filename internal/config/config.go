// Package config reads the service configuration from the environment. A .env file
// in the working directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env string

	// platform database holding tenants, bindings and the failure log
	DatabaseURL string
	DBDriver    string

	// tenant stores
	StoreDriver       string
	StoreDir          string
	TenantDSNTemplate string

	MigrationsPath string
	CatalogPath    string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ProgressStream string

	NotifyWebhookURL string

	RabbitMQURL    string
	ProvisionQueue string
	Workers        int

	HTTPPort     string
	BaseDomain   string
	SupportEmail string

	LogLevel  string
	LogFormat string

	ShutdownTimeout time.Duration
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBDriver:          getEnv("DB_DRIVER", "postgres"),
		StoreDriver:       getEnv("STORE_DRIVER", "postgres"),
		StoreDir:          getEnv("STORE_DIR", "stores"),
		TenantDSNTemplate: getEnv("TENANT_DSN_TEMPLATE", ""),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", ""),
		CatalogPath:       getEnv("CATALOG_PATH", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		ProgressStream:    getEnv("PROGRESS_STREAM", "tenancy:provisioning"),
		NotifyWebhookURL:  getEnv("NOTIFY_WEBHOOK_URL", ""),
		RabbitMQURL:       getEnv("RABBITMQ_URL", ""),
		ProvisionQueue:    getEnv("PROVISION_QUEUE", "tenant.provision"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		BaseDomain:        getEnv("BASE_DOMAIN", "localhost"),
		SupportEmail:      getEnv("SUPPORT_EMAIL", "support@localhost"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Workers, err = getEnvInt("WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set in environment or .env file")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.StoreDriver {
	case "postgres":
		if c.TenantDSNTemplate == "" {
			return fmt.Errorf("TENANT_DSN_TEMPLATE is required with STORE_DRIVER=postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
