package internal

import (
	"strings"
	"testing"
)

func TestNewDefaultConfigValidates(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestHTTPConfig_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := HTTPConfig{Port: port}
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d should fail validation", port)
		}
	}
}

func TestHTTPConfig_Address(t *testing.T) {
	cfg := HTTPConfig{Port: 8080}
	if got := cfg.Address(); got != ":8080" {
		t.Errorf("Address() = %q, want :8080", got)
	}
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestChunkingConfig_Invalid(t *testing.T) {
	cfg := NewDefaultConfig().Chunking
	cfg.MaxBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max_bytes should fail validation")
	}

	cfg = NewDefaultConfig().Chunking
	cfg.SplitStrategy = "sentence"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown split strategy should fail validation")
	}
}

func TestEmbeddingsConfig_Invalid(t *testing.T) {
	cfg := NewDefaultConfig().Embeddings
	cfg.Dim = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero dim should fail validation")
	}

	cfg = NewDefaultConfig().Embeddings
	cfg.Backend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend should fail validation")
	}
}

func TestTemporalConfig_InvalidMode(t *testing.T) {
	cfg := NewDefaultConfig().Temporal
	cfg.DefaultMode = "lately"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown temporal mode should fail validation")
	}
}

func TestFullConfig_SectionErrorsPropagate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}

	cfg = NewDefaultConfig()
	cfg.Vault.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch vault error")
	}
}

func TestVaultConfig_ParserOptions(t *testing.T) {
	cfg := VaultConfig{JournalDateKey: "created", JournalDateLayouts: []string{"2006-01-02"}}
	opts := cfg.ParserOptions()
	if opts.JournalDateKey != "created" || len(opts.JournalDateLayouts) != 1 {
		t.Errorf("ParserOptions() = %+v", opts)
	}
}
