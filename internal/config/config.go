package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type ProviderConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	APIKey  string            `mapstructure:"api_key"`
	Models  map[string]string `mapstructure:"models"`
}

type EngineConfig struct {
	Policy         string `mapstructure:"policy"`          // host, host-venv, container, container-venv
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // captured-run wall clock limit
	ScriptsDir     string `mapstructure:"scripts_dir"`
	Python         string `mapstructure:"python"`
	PythonFallback string `mapstructure:"python_fallback"`
	ProfilesDir    string `mapstructure:"profiles_dir"`
}

type SandboxConfig struct {
	Image     string `mapstructure:"image"`
	Memory    string `mapstructure:"memory"`
	PidsLimit int    `mapstructure:"pids_limit"`
	VenvDir   string `mapstructure:"venv_dir"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type Config struct {
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
	DefaultProvider string                    `mapstructure:"default_provider"`
	Engine          EngineConfig              `mapstructure:"engine"`
	Sandbox         SandboxConfig             `mapstructure:"sandbox"`
	Server          ServerConfig              `mapstructure:"server"`
	Storage         StorageConfig             `mapstructure:"storage"`
}

// Load reads scriptforge.yaml from the working directory or ~/.scriptforge.
// A missing config file is fine; defaults cover everything except provider
// credentials.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("scriptforge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.scriptforge")

	home := os.Getenv("HOME")
	v.SetDefault("default_provider", "openai")
	v.SetDefault("engine.policy", "host-venv")
	v.SetDefault("engine.timeout_seconds", 30)
	v.SetDefault("engine.scripts_dir", filepath.Join(home, ".scriptforge", "scripts"))
	v.SetDefault("engine.python", "python3")
	v.SetDefault("engine.python_fallback", "python")
	v.SetDefault("sandbox.image", "scriptforge-sandbox:latest")
	v.SetDefault("sandbox.memory", "512m")
	v.SetDefault("sandbox.pids_limit", 128)
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.db_path", filepath.Join(home, ".scriptforge", "scriptforge.db"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in API keys
	for name, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			envVar := p.APIKey[2 : len(p.APIKey)-1]
			p.APIKey = os.Getenv(envVar)
			cfg.Providers[name] = p
		}
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{
			"openai": {
				BaseURL: "https://api.openai.com/v1/",
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Models:  map[string]string{"default": "gpt-4o-mini"},
			},
		}
	}

	return &cfg, nil
}

// IsOllama returns true if this provider looks like an Ollama instance.
func (p ProviderConfig) IsOllama() bool {
	return strings.Contains(p.BaseURL, ":11434") || strings.Contains(strings.ToLower(p.BaseURL), "ollama")
}

// Provider returns the config for a named provider, falling back to the default.
func (c *Config) Provider(name string) (ProviderConfig, error) {
	if name == "" {
		name = c.DefaultProvider
	}
	p, ok := c.Providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}
