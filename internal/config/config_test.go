package config

import (
	"errors"
	"testing"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("KANSOKU_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid KANSOKU_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !contains(got, "KANSOKU_PORT") || !contains(got, "abc") {
		t.Fatalf("error should mention KANSOKU_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("KANSOKU_PORT", "abc")
	t.Setenv("KANSOKU_DB_MAX_CONNS", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "KANSOKU_PORT") {
		t.Fatalf("error should mention KANSOKU_PORT, got: %s", got)
	}
	if !contains(got, "KANSOKU_DB_MAX_CONNS") {
		t.Fatalf("error should mention KANSOKU_DB_MAX_CONNS, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.StorageDriver != "sqlite" || cfg.DefaultSystem != "default" {
		t.Fatalf("unexpected storage defaults: %+v", cfg)
	}
}

func TestLoadReadsKeyTable(t *testing.T) {
	t.Setenv("KANSOKU_API_KEYS", "k1=alpha, k2 = beta")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKeys["k1"] != "alpha" || cfg.APIKeys["k2"] != "beta" {
		t.Fatalf("unexpected key table: %v", cfg.APIKeys)
	}
}

func TestLoadRejectsMalformedKeyTable(t *testing.T) {
	t.Setenv("KANSOKU_API_KEYS", "k1=alpha,orphan")
	_, err := Load()
	if err == nil || !contains(err.Error(), "orphan") {
		t.Fatalf("expected error naming the bad entry, got: %v", err)
	}
}

func TestValidatePostgresRequiresURL(t *testing.T) {
	t.Setenv("KANSOKU_STORAGE_DRIVER", "postgres")
	_, err := Load()
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if !contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("error should mention DATABASE_URL, got: %s", err)
	}
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := Config{StorageDriver: "mysql", Port: 8080, MaxRequestBodyBytes: 1, MaxPartBytes: 1, CredentialHeader: "X-API-Key"}
	if err := cfg.Validate(); err == nil || !contains(err.Error(), "mysql") {
		t.Fatalf("expected driver error, got: %v", err)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
