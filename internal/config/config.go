// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Router types select which provider backs the model client.
const (
	RouterOpenRouter = "openrouter"
	RouterOllama     = "ollama"
)

// Storage backends for the conversation store.
const (
	StorageJSON   = "json"
	StorageSQLite = "sqlite"
)

var (
	ErrInvalidRouter  = errors.New("router must be 'openrouter' or 'ollama'")
	ErrMissingAPIKey  = errors.New("openrouter api_key is required when router is 'openrouter'")
	ErrInvalidStorage = errors.New("storage must be 'json' or 'sqlite'")
)

// MaxCouncilModels caps how many council members a conversation may query.
const MaxCouncilModels = 5

type OpenRouterConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	APIURL string `yaml:"api_url,omitempty"`
}

type OllamaConfig struct {
	Host string `yaml:"host,omitempty"`
}

type Config struct {
	Router     string           `yaml:"router"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Ollama     OllamaConfig     `yaml:"ollama"`

	// Council is the list of models queried in stage 1. Chairman synthesizes
	// the final answer in stage 3.
	Council  []string `yaml:"council"`
	Chairman string   `yaml:"chairman,omitempty"`

	Defaults struct {
		StageTimeout int `yaml:"stage_timeout"` // seconds per stage
		TitleTimeout int `yaml:"title_timeout"` // seconds for title generation
		MinResults   int `yaml:"min_results"`
	} `yaml:"defaults"`

	Storage struct {
		Backend string `yaml:"backend"`
		DataDir string `yaml:"data_dir,omitempty"`
	} `yaml:"storage"`

	Server struct {
		Addr string `yaml:"addr,omitempty"`
	} `yaml:"server"`

	// NotifyEndpoint receives fire-and-forget lifecycle events when set.
	NotifyEndpoint string `yaml:"notify_endpoint,omitempty"`
}

func Load() (*Config, error) {
	return LoadFile(Path())
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return defaults if no config file
		return defaultConfig(), nil
	}

	// Expand environment variables in config
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if cfg.Router != RouterOpenRouter && cfg.Router != RouterOllama {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidRouter, cfg.Router)
	}
	if cfg.Storage.Backend != StorageJSON && cfg.Storage.Backend != StorageSQLite {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidStorage, cfg.Storage.Backend)
	}

	return &cfg, nil
}

// Validate checks settings that must hold before any model call can be
// scheduled, so misconfiguration fails at startup rather than mid-request.
func (c *Config) Validate() error {
	if c.Router == RouterOpenRouter && c.OpenRouter.APIKey == "" {
		return ErrMissingAPIKey
	}
	if len(c.Council) == 0 {
		return errors.New("at least one council model is required")
	}
	return nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	cfg.Router = strings.ToLower(cfg.Router)
	if cfg.Router == "" {
		cfg.Router = RouterOpenRouter
	}
	if cfg.OpenRouter.APIURL == "" {
		cfg.OpenRouter.APIURL = "https://openrouter.ai/api/v1/chat/completions"
	}
	if cfg.OpenRouter.APIKey == "" {
		cfg.OpenRouter.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if cfg.Ollama.Host == "" {
		cfg.Ollama.Host = "localhost:11434"
	}
	if len(cfg.Council) == 0 {
		if cfg.Router == RouterOllama {
			cfg.Council = []string{
				"deepseek-r1:latest",
				"llama3.1:latest",
				"qwen3:latest",
				"gemma3:latest",
			}
		} else {
			cfg.Council = []string{
				"openai/gpt-5.1",
				"google/gemini-3-pro-preview",
				"anthropic/claude-sonnet-4.5",
				"x-ai/grok-4",
			}
		}
	}
	if len(cfg.Council) > MaxCouncilModels {
		cfg.Council = cfg.Council[:MaxCouncilModels]
	}
	if cfg.Chairman == "" {
		if cfg.Router == RouterOllama {
			cfg.Chairman = "gemma3:latest"
		} else {
			cfg.Chairman = "google/gemini-3-pro-preview"
		}
	}
	if cfg.Defaults.StageTimeout == 0 {
		cfg.Defaults.StageTimeout = 120
	}
	if cfg.Defaults.TitleTimeout == 0 {
		cfg.Defaults.TitleTimeout = 180
	}
	if cfg.Defaults.MinResults == 0 {
		cfg.Defaults.MinResults = 1
	}
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageJSON
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data/conversations"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
}

func Path() string {
	if p := os.Getenv("COUNCIL_CONFIG"); p != "" {
		return p
	}
	configDir, _ := os.UserConfigDir()
	if configDir == "" {
		configDir = os.ExpandEnv("$HOME/.config")
	}
	return filepath.Join(configDir, "council", "config.yaml")
}
