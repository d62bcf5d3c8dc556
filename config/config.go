// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverDynamo   = "dynamo"
)

type Config struct {
	HTTPAddr        string        `env:"COLLABFLOW_HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"COLLABFLOW_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	StoreDriver string `env:"COLLABFLOW_STORE" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"COLLABFLOW_DB_MAX_CONNS" envDefault:"10"`
	SQLitePath  string `env:"COLLABFLOW_SQLITE_PATH" envDefault:"collabflow.db"`

	Dynamo Dynamo `envPrefix:"COLLABFLOW_DYNAMO_"`

	CommissionRate string `env:"COLLABFLOW_COMMISSION_RATE" envDefault:"0.10"`

	JWTSecret     string `env:"JWT_SECRET"`
	WebhookSecret string `env:"COLLABFLOW_ESIGN_WEBHOOK_SECRET"`

	MercadoPagoAccessToken string `env:"MERCADOPAGO_ACCESS_TOKEN"`
	MercadoPagoMock        bool   `env:"MERCADOPAGO_MOCK" envDefault:"true"`

	Dispatcher Dispatcher `envPrefix:"COLLABFLOW_OUTBOX_"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"collabflow"`
}

type Dynamo struct {
	Region          string `env:"REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"ENDPOINT"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	TablePrefix     string `env:"TABLE_PREFIX" envDefault:"collabflow_"`
	CreateTables    bool   `env:"CREATE_TABLES"`
}

type Dispatcher struct {
	Consumer      string        `env:"CONSUMER" envDefault:"collabflow-dispatcher"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	LeaseTTL      time.Duration `env:"LEASE_TTL" envDefault:"30s"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"50"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff  time.Duration `env:"RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"5m"`
	InlineRetries uint64        `env:"INLINE_RETRIES" envDefault:"2"`
}

// Load reads an optional .env file (existing variables win) and parses the
// environment.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, name := range dotenvFiles {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", name, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverDynamo:
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}
	if _, err := c.Commission(); err != nil {
		return err
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if !c.MercadoPagoMock && strings.TrimSpace(c.MercadoPagoAccessToken) == "" {
		return fmt.Errorf("config: MERCADOPAGO_ACCESS_TOKEN is required unless MERCADOPAGO_MOCK is set")
	}
	return nil
}

// Commission parses CommissionRate.
func (c Config) Commission() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.CommissionRate))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("config: commission rate %q: %w", c.CommissionRate, err)
	}
	return rate, nil
}
