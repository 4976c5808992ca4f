package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"CONSOLE_FIRESTORE_PROJECT_ID": "cargo-dev",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "cargo-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.GoodsTopic != "" {
		t.Errorf("expected publishing disabled by default, got topic %q", cfg.PubSub.GoodsTopic)
	}
	if cfg.Editor.SessionIdleTimeout != defaultSessionIdleTimeout {
		t.Errorf("unexpected session idle timeout: %s", cfg.Editor.SessionIdleTimeout)
	}
	if cfg.Editor.BarcodePrefix != "20" {
		t.Errorf("expected barcode prefix 20, got %s", cfg.Editor.BarcodePrefix)
	}
	if cfg.Editor.MaxBulkCount != defaultMaxBulkCount {
		t.Errorf("unexpected max bulk count: %d", cfg.Editor.MaxBulkCount)
	}
	if cfg.Editor.OpenRateLimit != defaultOpenRateLimit || cfg.Editor.OpenRateWindow != time.Minute {
		t.Errorf("unexpected open rate limit: %d per %s", cfg.Editor.OpenRateLimit, cfg.Editor.OpenRateWindow)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"CONSOLE_SERVER_PORT":                  "9090",
		"CONSOLE_SERVER_IDLE_TIMEOUT":          "2m",
		"CONSOLE_FIRESTORE_PROJECT_ID":         "cargo-prod",
		"CONSOLE_FIRESTORE_EMULATOR_HOST":      "localhost:8081",
		"CONSOLE_PUBSUB_PROJECT_ID":            "cargo-events",
		"CONSOLE_PUBSUB_GOODS_TOPIC":           "goods-submitted",
		"CONSOLE_EDITOR_SESSION_IDLE_TIMEOUT":  "45m",
		"CONSOLE_EDITOR_BARCODE_PREFIX":        "77",
		"CONSOLE_EDITOR_MAX_BULK_COUNT":        "50",
		"CONSOLE_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"CONSOLE_IDEMPOTENCY_TTL":              "48h",
		"CONSOLE_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"CONSOLE_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Firestore.EmulatorHost != "localhost:8081" {
		t.Errorf("unexpected emulator host: %s", cfg.Firestore.EmulatorHost)
	}
	if cfg.PubSub.ProjectID != "cargo-events" || cfg.PubSub.GoodsTopic != "goods-submitted" {
		t.Errorf("unexpected pubsub config: %+v", cfg.PubSub)
	}
	if cfg.Editor.SessionIdleTimeout != 45*time.Minute {
		t.Errorf("unexpected session idle timeout: %s", cfg.Editor.SessionIdleTimeout)
	}
	if cfg.Editor.BarcodePrefix != "77" || cfg.Editor.MaxBulkCount != 50 {
		t.Errorf("unexpected editor config: %+v", cfg.Editor)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency config: %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency cleanup config: %+v", cfg.Idempotency)
	}
}

func TestLoadValidationError(t *testing.T) {
	env := map[string]string{
		"CONSOLE_EDITOR_BARCODE_PREFIX": "2A",
		"CONSOLE_IDEMPOTENCY_TTL":       "soon",
	}

	_, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	fields := validationErr.Fields()
	for _, want := range []string{"Firestore.ProjectID", "Editor.BarcodePrefix", "CONSOLE_IDEMPOTENCY_TTL"} {
		if !containsField(fields, want) {
			t.Errorf("expected %s in validation fields %v", want, fields)
		}
	}
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport CONSOLE_FIRESTORE_PROJECT_ID=\"from-file\"\nCONSOLE_SERVER_PORT=7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"CONSOLE_SERVER_PORT": "7100",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firestore.ProjectID != "from-file" {
		t.Errorf("expected project from .env, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("expected env map to override .env, got %s", cfg.Server.Port)
	}
}

func containsField(fields []string, want string) bool {
	for _, field := range fields {
		if field == want {
			return true
		}
	}
	return false
}

func TestLoadAuthSettings(t *testing.T) {
	base := map[string]string{"CONSOLE_FIRESTORE_PROJECT_ID": "cargo-dev"}

	cfg, err := Load(WithEnvMap(base), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Auth.Audience != "" {
		t.Fatalf("expected auth disabled by default, got audience %q", cfg.Auth.Audience)
	}
	if cfg.Auth.JWKSURL != defaultJWKSURL || len(cfg.Auth.Issuers) != 2 {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}

	env := map[string]string{
		"CONSOLE_FIRESTORE_PROJECT_ID": "cargo-dev",
		"CONSOLE_AUTH_AUDIENCE":        "/projects/1/global/backendServices/2",
		"CONSOLE_AUTH_ISSUERS":         " https://cloud.google.com/iap , ",
		"CONSOLE_AUTH_ALLOWED_DOMAINS": "cargo.example,ops.cargo.example",
	}
	cfg, err = Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Auth.Issuers) != 1 || cfg.Auth.Issuers[0] != "https://cloud.google.com/iap" {
		t.Fatalf("unexpected issuers: %#v", cfg.Auth.Issuers)
	}
	if len(cfg.Auth.AllowedDomains) != 2 || cfg.Auth.AllowedDomains[1] != "ops.cargo.example" {
		t.Fatalf("unexpected domains: %#v", cfg.Auth.AllowedDomains)
	}

	env["CONSOLE_AUTH_ISSUERS"] = " , "
	_, err = Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for empty issuers, got %v", err)
	}
}
