package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected feeds to be populated")
	}
	for _, f := range cfg.Sources.Feeds {
		if f.Category == "" {
			t.Errorf("expected category on feed %q", f.Name)
		}
	}

	if cfg.Analysis.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.Analysis.Provider)
	}
	if cfg.Analysis.BreakerTimeout != 2*time.Minute {
		t.Errorf("expected breaker timeout 2m, got %v", cfg.Analysis.BreakerTimeout)
	}
	if cfg.Sentiment.HalfLife != 24*time.Hour {
		t.Errorf("expected half life 24h, got %v", cfg.Sentiment.HalfLife)
	}
	if cfg.Sentiment.DefaultWeight != 0.5 {
		t.Errorf("expected default weight 0.5, got %v", cfg.Sentiment.DefaultWeight)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
analysis:
  provider: openai
  model: gpt-4o
sentiment:
  half_life: 6h
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Analysis.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.Analysis.Provider)
	}
	if cfg.Sentiment.HalfLife != 6*time.Hour {
		t.Errorf("expected half life 6h, got %v", cfg.Sentiment.HalfLife)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Analysis.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.Analysis.OllamaURL)
	}
	if cfg.Sentiment.DefaultWeight != 0.5 {
		t.Errorf("expected default weight 0.5, got %v", cfg.Sentiment.DefaultWeight)
	}
}

func TestParseRejectsBadWeight(t *testing.T) {
	if _, err := parse([]byte("sentiment:\n  default_weight: 1.5\n")); err == nil {
		t.Error("expected error for default_weight above 1")
	}
	if _, err := parse([]byte("sentiment:\n  half_life: -1h\n")); err == nil {
		t.Error("expected error for negative half_life")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected feeds to be populated from file")
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}
