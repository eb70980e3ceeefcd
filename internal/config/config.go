// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds every setting the api and worker binaries need.
type Config struct {
	AWSRegion           string
	AWSEndpointOverride string

	OrdersTable        string
	CustomersTable     string
	ProductsTable      string
	IdempotencyTable   string
	CompensationsTable string

	EventsQueueURL       string
	CompensationQueueURL string

	MerchantID     string
	MerchantSecret string
	Currency       string

	RedisAddr    string
	OrderLockTTL time.Duration

	IdempotencyTTL   time.Duration
	LogLevel         string
	RunLocal         bool
	HTTPAddr         string
	MetricsNamespace string
}

// Load reads the environment, applying defaults where a value is optional.
func Load() (Config, error) {
	cfg := Config{
		AWSRegion:            env("AWS_REGION", "us-east-1"),
		AWSEndpointOverride:  os.Getenv("AWS_ENDPOINT_OVERRIDE"),
		OrdersTable:          env("ORDERS_TABLE", "orders"),
		CustomersTable:       env("CUSTOMERS_TABLE", "customers"),
		ProductsTable:        env("PRODUCTS_TABLE", "products"),
		IdempotencyTable:     env("IDEMPOTENCY_TABLE", "idempotency"),
		CompensationsTable:   env("COMPENSATIONS_TABLE", "compensations"),
		EventsQueueURL:       os.Getenv("EVENTS_QUEUE_URL"),
		CompensationQueueURL: os.Getenv("COMPENSATION_QUEUE_URL"),
		MerchantID:           os.Getenv("PAYHERE_MERCHANT_ID"),
		MerchantSecret:       os.Getenv("PAYHERE_MERCHANT_SECRET"),
		Currency:             strings.ToUpper(env("CURRENCY", "LKR")),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		LogLevel:             env("LOG_LEVEL", "info"),
		RunLocal:             os.Getenv("RUN_LOCAL") == "true",
		HTTPAddr:             env("HTTP_ADDR", ":8080"),
		MetricsNamespace:     env("METRICS_NAMESPACE", "OrderReconciler"),
	}

	var err error
	if cfg.OrderLockTTL, err = duration("ORDER_LOCK_TTL", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = duration("IDEMPOTENCY_TTL", 48*time.Hour); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateGateway reports an error when the payment gateway credentials are missing.
// Only the api binary needs them.
func (c Config) ValidateGateway() error {
	var missing []string
	if c.MerchantID == "" {
		missing = append(missing, "PAYHERE_MERCHANT_ID")
	}
	if c.MerchantSecret == "" {
		missing = append(missing, "PAYHERE_MERCHANT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func duration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", k, err)
	}
	return d, nil
}
