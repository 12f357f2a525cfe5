package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hearthd/hearth/pkg/config/provider"
)

func TestLoader_File_Load(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "hearth.yaml")

	configYAML := `
version: "1"
name: "test-hearth"
server:
  port: 9090
backends:
  ollama:
    provider: ollama
    model: llama3.2
  openai:
    provider: openai
    model: gpt-4o-mini
    api_key: test-key
router:
  default_backend: local_inference_a
search:
  timeout: 2s
  dedup_threshold: 0.7
`
	if err := os.WriteFile(configFile, []byte(configYAML), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	cfg, loader, err := LoadConfigFile(context.Background(), configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.Name != "test-hearth" {
		t.Errorf("expected name 'test-hearth', got %s", cfg.Name)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Backends) != 2 {
		t.Errorf("expected 2 backends, got %d", len(cfg.Backends))
	}
	if cfg.Router.DefaultBackend != BackendLocalA {
		t.Errorf("expected default_backend local_inference_a, got %s", cfg.Router.DefaultBackend)
	}
	if cfg.Search.Timeout.Seconds() != 2 {
		t.Errorf("expected search timeout 2s, got %v", cfg.Search.Timeout)
	}
	// Defaults fill what the file omits.
	if cfg.Gateway.StreamBuffer != 64 {
		t.Errorf("expected default stream_buffer 64, got %d", cfg.Gateway.StreamBuffer)
	}
	if cfg.Backends["ollama"].Host != "http://localhost:11434" {
		t.Errorf("expected default ollama host, got %s", cfg.Backends["ollama"].Host)
	}
}

func TestLoader_File_NotFound(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), "/nonexistent/hearth.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoader_File_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
version: "1"
backends:
  - invalid: [unclosed
`
	if err := os.WriteFile(configFile, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	_, _, err := LoadConfigFile(context.Background(), configFile)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoader_File_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "bad.yaml")

	// openai backend with no API key anywhere fails validation.
	badConfig := `
version: "1"
backends:
  openai:
    provider: openai
    model: gpt-4o-mini
`
	if err := os.WriteFile(configFile, []byte(badConfig), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "")

	_, _, err := LoadConfigFile(context.Background(), configFile)
	if err == nil {
		t.Fatal("expected validation error for keyless openai backend")
	}
}

func TestLoader_EnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "env.yaml")

	configYAML := `
version: "1"
backends:
  anthropic:
    provider: anthropic
    api_key: ${TEST_ANTHROPIC_KEY}
  ollama:
    provider: ollama
    host: ${TEST_OLLAMA_HOST:-http://fallback:11434}
`
	if err := os.WriteFile(configFile, []byte(configYAML), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	cfg, loader, err := LoadConfigFile(context.Background(), configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.Backends["anthropic"].APIKey != "sk-ant-test" {
		t.Errorf("expected expanded api key, got %q", cfg.Backends["anthropic"].APIKey)
	}
	// Unset var with default falls back.
	if cfg.Backends["ollama"].Host != "http://fallback:11434" {
		t.Errorf("expected default-expanded host, got %q", cfg.Backends["ollama"].Host)
	}
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("HEARTH_TEST_VAR", "value")

	tests := []struct {
		input string
		want  string
	}{
		{"${HEARTH_TEST_VAR}", "value"},
		{"$HEARTH_TEST_VAR", "value"},
		{"${HEARTH_TEST_VAR:-other}", "value"},
		{"${HEARTH_UNSET_VAR:-other}", "other"},
		{"${HEARTH_UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${HEARTH_TEST_VAR}-suffix", "prefix-value-suffix"},
	}

	for _, tt := range tests {
		if got := expandEnvString(tt.input); got != tt.want {
			t.Errorf("expandEnvString(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLoader_WatchCallback(t *testing.T) {
	p, err := provider.NewFileProvider(filepath.Join(t.TempDir(), "w.yaml"))
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	called := false
	l := NewLoader(p, WithOnChange(func(*Config) { called = true }))
	if l.onChange == nil {
		t.Fatal("onChange callback not set")
	}
	l.onChange(nil)
	if !called {
		t.Error("callback was not invoked")
	}
}
