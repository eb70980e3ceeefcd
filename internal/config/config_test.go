package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("CURRENCY", "")
	t.Setenv("ORDER_LOCK_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AWSRegion != "us-east-1" {
		t.Fatalf("expected default region, got %s", cfg.AWSRegion)
	}
	if cfg.Currency != "LKR" {
		t.Fatalf("expected LKR, got %s", cfg.Currency)
	}
	if cfg.OrderLockTTL != 10*time.Second {
		t.Fatalf("expected 10s lock ttl, got %s", cfg.OrderLockTTL)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("ORDER_LOCK_TTL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestValidateGateway(t *testing.T) {
	cfg := Config{MerchantID: "1211149"}
	if err := cfg.ValidateGateway(); err == nil {
		t.Fatal("expected missing secret error")
	}
	cfg.MerchantSecret = "secret"
	if err := cfg.ValidateGateway(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
