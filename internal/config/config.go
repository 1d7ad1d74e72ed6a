package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources   Sources   `yaml:"sources"`
	Analysis  Analysis  `yaml:"analysis"`
	Sentiment Sentiment `yaml:"sentiment"`
	Output    Output    `yaml:"output"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

type Sources struct {
	Feeds []Feed     `yaml:"feeds"`
	APIs  APIsConfig `yaml:"apis"`
}

// Feed is an RSS/Atom source of events. Category tags every event it yields.
type Feed struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type APIsConfig struct {
	NewsAPI NewsAPIConfig `yaml:"newsapi"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
	Category  string `yaml:"category"`
}

// Analysis configures the impact analysis producer.
type Analysis struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	OllamaURL         string        `yaml:"ollama_url"`
	OpenAIModel       string        `yaml:"openai_model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	MaxTokens         int           `yaml:"max_tokens"`
	SourceName        string        `yaml:"source_name"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
}

// Sentiment configures aggregation weighting.
type Sentiment struct {
	DefaultWeight float64       `yaml:"default_weight"`
	HalfLife      time.Duration `yaml:"half_life"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for marketpulse.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "marketpulse")
}

// DataDir returns the XDG data directory for marketpulse.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "marketpulse")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/marketpulse/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'marketpulse init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			APIs: APIsConfig{
				NewsAPI: NewsAPIConfig{
					Enabled:   false,
					APIKeyEnv: "NEWSAPI_KEY",
					Query:     "tariffs OR sanctions OR earnings OR central bank",
					Category:  "economic",
				},
			},
		},
		Analysis: Analysis{
			Provider:          "ollama",
			Model:             "qwen2.5:7b",
			OllamaURL:         "http://localhost:11434",
			OpenAIModel:       "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			MaxTokens:         1024,
			SourceName:        "llm",
			RequestsPerMinute: 30,
			BreakerFailures:   3,
			BreakerTimeout:    2 * time.Minute,
		},
		Sentiment: Sentiment{
			DefaultWeight: 0.5,
			HalfLife:      24 * time.Hour,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Sentiment.DefaultWeight < 0 || cfg.Sentiment.DefaultWeight > 1 {
		return nil, fmt.Errorf("sentiment.default_weight must be within [0,1], got %v", cfg.Sentiment.DefaultWeight)
	}
	if cfg.Sentiment.HalfLife < 0 {
		return nil, fmt.Errorf("sentiment.half_life must not be negative")
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
