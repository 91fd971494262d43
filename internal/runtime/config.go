// Package runtime wires the Parley backend together: configuration,
// the HTTP server, and the chat pipeline that connects memory, model
// routing, web search, and file analysis.
package runtime

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/parleyhq/parley/internal/expr"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	UI          bool     `yaml:"ui"`
}

// SecurityConfig holds request throttling settings. The export key is
// never part of the config file; it comes from the EXPORT_KEY env var.
type SecurityConfig struct {
	// RateLimit is a "max:window_seconds" spec for the chat endpoints.
	RateLimit string `yaml:"rate_limit"`
}

// ProviderConfig describes one upstream LLM provider. APIKey is a
// secret reference such as env(NVIDIA_API_KEY) or vault(path#key),
// never a literal key.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// OpenRouter attribution headers.
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`
}

// ProvidersConfig groups the supported providers.
type ProvidersConfig struct {
	NIM        ProviderConfig `yaml:"nim"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
	Anthropic  ProviderConfig `yaml:"anthropic"`
}

// SecretsConfig selects the secret backend. With a vault address set,
// secret references of the form vault(path#key) resolve against Vault;
// env(VAR) references always resolve against the environment.
type SecretsConfig struct {
	VaultAddress  string `yaml:"vault_address"`
	VaultTokenEnv string `yaml:"vault_token_env"`
}

// ModelConfig adds or overrides a catalog entry.
type ModelConfig struct {
	ID       string `yaml:"id"`
	Provider string `yaml:"provider"`
	Name     string `yaml:"name"`
	Vision   bool   `yaml:"vision"`
	Internal bool   `yaml:"internal"`

	// MaxTokens overrides the context window profile for this model.
	MaxTokens int `yaml:"max_tokens"`
}

// RoutingRule redirects matching requests to another provider or model.
type RoutingRule struct {
	When     string `yaml:"when"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// MemoryConfig bounds the session registry.
type MemoryConfig struct {
	MaxSessions  int    `yaml:"max_sessions"`
	DefaultModel string `yaml:"default_model"`
}

// WebSearchConfig tunes the web grounding stage.
type WebSearchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ClassifierModel string `yaml:"classifier_model"`
	WikipediaURL    string `yaml:"wikipedia_url"`
}

// FilesConfig tunes the upload analysis stage.
type FilesConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	VisionModel    string `yaml:"vision_model"`
}

// LogConfig controls structured logging and the chat transcript log.
type LogConfig struct {
	Level   string `yaml:"level"`
	ChatLog string `yaml:"chat_log"`
}

// Config is the full backend configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Providers ProvidersConfig `yaml:"providers"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Models    []ModelConfig   `yaml:"models"`
	Routing   []RoutingRule   `yaml:"routing"`
	Memory    MemoryConfig    `yaml:"memory"`
	WebSearch WebSearchConfig `yaml:"web_search"`
	Files     FilesConfig     `yaml:"files"`
	Log       LogConfig       `yaml:"log"`
}

// DefaultConfig returns the configuration used when no file is given.
// The defaults match the hosted deployment: NIM and OpenRouter keys
// from the environment, the public frontend origins allowed, and the
// shipped model catalog.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
			CORSOrigins: []string{
				"https://parleyhq.github.io",
				"https://parley.pages.dev",
				"https://parley-backend.onrender.com",
			},
		},
		Security: SecurityConfig{
			RateLimit: "10:60",
		},
		Providers: ProvidersConfig{
			NIM: ProviderConfig{
				APIKey: "env(NVIDIA_API_KEY)",
			},
			OpenRouter: ProviderConfig{
				APIKey:  "env(OPENROUTER_API_KEY)",
				Referer: "https://parleyhq.github.io",
				Title:   "Parley",
			},
			Anthropic: ProviderConfig{
				APIKey: "env(ANTHROPIC_API_KEY)",
			},
		},
		Memory: MemoryConfig{
			MaxSessions:  500,
			DefaultModel: "meta/llama-4-maverick-17b-128e-instruct",
		},
		WebSearch: WebSearchConfig{
			Enabled: true,
		},
		Files: FilesConfig{
			Enabled:        true,
			MaxUploadBytes: 10 << 20,
		},
		Log: LogConfig{
			Level:   "info",
			ChatLog: "chat_logs.jsonl",
		},
	}
}

// LoadConfig reads a yaml config file, fills unset fields from the
// defaults, and applies environment overrides. An empty path yields
// the defaults plus overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers PARLEY_* environment variables over the file values.
// PORT is honored for compatibility with platform-injected ports.
func (c *Config) applyEnv() {
	if v := os.Getenv("PARLEY_ADDR"); v != "" {
		c.Server.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("PARLEY_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("PARLEY_RATE_LIMIT"); v != "" {
		c.Security.RateLimit = v
	}
	if v := os.Getenv("PARLEY_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Memory.MaxSessions = n
		}
	}
	if v := os.Getenv("PARLEY_DEFAULT_MODEL"); v != "" {
		c.Memory.DefaultModel = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PARLEY_CHAT_LOG"); v != "" {
		c.Log.ChatLog = v
	}
	if v := os.Getenv("PARLEY_VAULT_ADDR"); v != "" {
		c.Secrets.VaultAddress = v
	}
}

// Validate checks the parts of the config that would fail at request
// time, naming the offending field.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must not be empty")
	}
	if c.Memory.MaxSessions < 0 {
		return fmt.Errorf("config: memory.max_sessions must not be negative")
	}
	if c.Files.MaxUploadBytes < 0 {
		return fmt.Errorf("config: files.max_upload_bytes must not be negative")
	}
	for i, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("config: models[%d].id must not be empty", i)
		}
		if m.Provider == "" {
			return fmt.Errorf("config: models[%d].provider must not be empty", i)
		}
	}
	for i, r := range c.Routing {
		if r.When == "" {
			return fmt.Errorf("config: routing[%d].when must not be empty", i)
		}
		if r.Provider == "" && r.Model == "" {
			return fmt.Errorf("config: routing[%d] needs a provider or model override", i)
		}
		if _, err := expr.Compile(r.When); err != nil {
			return fmt.Errorf("config: routing[%d].when: %w", i, err)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
