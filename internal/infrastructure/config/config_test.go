package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"JWT_SECRET": "s3cret",
	}))
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected port: %s", cfg.Port)
	}
	if cfg.Auth.Issuer != "identity-system" || cfg.Auth.Audience != "identity-system-clients" {
		t.Fatalf("unexpected issuer/audience: %s / %s", cfg.Auth.Issuer, cfg.Auth.Audience)
	}
	if cfg.Auth.BcryptCost != 12 {
		t.Fatalf("unexpected bcrypt cost: %d", cfg.Auth.BcryptCost)
	}
	if cfg.Redis.LockTTL != 5*time.Second {
		t.Fatalf("unexpected lock ttl: %s", cfg.Redis.LockTTL)
	}
	if cfg.Audit.Workers != 4 {
		t.Fatalf("unexpected audit workers: %d", cfg.Audit.Workers)
	}
	if cfg.IsProduction() {
		t.Fatalf("default env should not be production")
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"JWT_SECRET":               "s3cret",
		"JWT_ISSUER":               "issuer-x",
		"BCRYPT_COST":              "4",
		"REDIS_LOCK_TTL":           "250ms",
		"ENV":                      "production",
		"BOOTSTRAP_ADMIN_USERNAME": "root",
		"BOOTSTRAP_ADMIN_PASSWORD": "changeme",
	}))
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.Auth.Issuer != "issuer-x" || cfg.Auth.BcryptCost != 4 {
		t.Fatalf("overrides not applied: %+v", cfg.Auth)
	}
	if cfg.Redis.LockTTL != 250*time.Millisecond {
		t.Fatalf("unexpected lock ttl: %s", cfg.Redis.LockTTL)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production env")
	}
	if cfg.Bootstrap.AdminUsername != "root" {
		t.Fatalf("unexpected bootstrap admin: %s", cfg.Bootstrap.AdminUsername)
	}
}

func TestLoad_MissingSecret(t *testing.T) {
	if _, err := load(context.Background(), envconfig.MapLookuper(map[string]string{})); err == nil {
		t.Fatalf("expected error when JWT_SECRET is missing")
	}
}

func TestLoad_BootstrapWithoutPassword(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"JWT_SECRET":               "s3cret",
		"BOOTSTRAP_ADMIN_USERNAME": "root",
	}))
	if err == nil {
		t.Fatalf("expected error when bootstrap password is missing")
	}
}
