package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `envconfig:"APP"`
	Postgres PostgresConfig `envconfig:"DB"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	AMQP     AMQPConfig     `envconfig:"AMQP"`
	Notify   NotifyConfig   `envconfig:"NOTIFY"`
	Store    StoreSettings  `ignored:"true"`
}

type AppConfig struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	StoreFile string `envconfig:"STORE_FILE"`
}

type PostgresConfig struct {
	Host            string        `envconfig:"HOST" required:"true"`
	Port            string        `envconfig:"PORT" default:"5432"`
	User            string        `envconfig:"USER" required:"true"`
	Password        string        `envconfig:"PASSWORD" required:"true"`
	DBName          string        `envconfig:"NAME" required:"true"`
	SSLMode         string        `envconfig:"SSLMODE" default:"disable"`
	MaxConns        int32         `envconfig:"MAX_CONNS" default:"10"`
	MinConns        int32         `envconfig:"MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"30m"`
	MigrationsPath  string        `envconfig:"MIGRATIONS_PATH" default:"migrations"`
}

// RedisConfig configures the product cache. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string        `envconfig:"ADDR"`
	Password string        `envconfig:"PASSWORD"`
	DB       int           `envconfig:"DB" default:"0"`
	TTL      time.Duration `envconfig:"TTL" default:"5m"`
}

// AMQPConfig configures the notification publisher. An empty URL makes the
// service log notifications instead of publishing them.
type AMQPConfig struct {
	URL      string `envconfig:"URL"`
	Exchange string `envconfig:"EXCHANGE" default:"storefront.notifications"`
}

type NotifyConfig struct {
	QueueSize  int    `envconfig:"QUEUE_SIZE" default:"256"`
	AdminEmail string `envconfig:"ADMIN_EMAIL" default:"admin@storefront.local"`
}

// StoreSettings holds the pricing and inventory knobs of the storefront.
type StoreSettings struct {
	Currency              string          `yaml:"currency"`
	TaxRate               decimal.Decimal `yaml:"tax_rate"`
	FreeShippingThreshold decimal.Decimal `yaml:"free_shipping_threshold"`
	FlatShippingRate      decimal.Decimal `yaml:"flat_shipping_rate"`
	LowStockThreshold     int             `yaml:"low_stock_threshold"`
	// MaxPaymentAmount caps a single simulated authorization. Zero disables the cap.
	MaxPaymentAmount      decimal.Decimal `yaml:"max_payment_amount"`
}

func DefaultStoreSettings() StoreSettings {
	return StoreSettings{
		Currency:              "USD",
		TaxRate:               decimal.RequireFromString("0.07"),
		FreeShippingThreshold: decimal.NewFromInt(100),
		FlatShippingRate:      decimal.NewFromInt(10),
		LowStockThreshold:     5,
	}
}

func (s StoreSettings) Validate() error {
	if s.TaxRate.IsNegative() || s.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("tax_rate must be in [0, 1), got %s", s.TaxRate)
	}
	if s.FreeShippingThreshold.IsNegative() {
		return fmt.Errorf("free_shipping_threshold cannot be negative, got %s", s.FreeShippingThreshold)
	}
	if s.FlatShippingRate.IsNegative() {
		return fmt.Errorf("flat_shipping_rate cannot be negative, got %s", s.FlatShippingRate)
	}
	if s.MaxPaymentAmount.IsNegative() {
		return fmt.Errorf("max_payment_amount cannot be negative, got %s", s.MaxPaymentAmount)
	}
	if s.LowStockThreshold < 0 {
		return fmt.Errorf("low_stock_threshold cannot be negative, got %d", s.LowStockThreshold)
	}
	return nil
}

// LoadStoreSettings reads a YAML settings file on top of the defaults.
// Keys missing from the file keep their default values.
func LoadStoreSettings(path string) (StoreSettings, error) {
	settings := DefaultStoreSettings()

	file, err := os.Open(path)
	if err != nil {
		return settings, fmt.Errorf("failed to open store settings file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&settings); err != nil {
		return settings, fmt.Errorf("invalid store settings file: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("invalid store settings: %w", err)
	}

	return settings, nil
}

func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	cfg.Store = DefaultStoreSettings()
	if cfg.App.StoreFile != "" {
		settings, err := LoadStoreSettings(cfg.App.StoreFile)
		if err != nil {
			return nil, err
		}
		cfg.Store = settings
	}

	return &cfg, nil
}
