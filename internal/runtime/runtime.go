package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/expr"
	"github.com/parleyhq/parley/internal/files"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/secrets"
	"github.com/parleyhq/parley/internal/telemetry"
	"github.com/parleyhq/parley/internal/tokens"
	"github.com/parleyhq/parley/internal/websearch"
)

// Runtime is the assembled backend: resolved provider clients, the
// model router, the session registry, and the HTTP server.
type Runtime struct {
	cfg      *Config
	logger   *slog.Logger
	router   *llm.Router
	sessions *memory.Registry
	server   *Server
}

// Options adjusts runtime construction. The zero value builds a
// production runtime from the config alone.
type Options struct {
	// Logger replaces the redacting JSON logger built from the config.
	Logger *slog.Logger

	// LogWriter receives output from the built logger when Logger is
	// nil. Defaults to os.Stderr.
	LogWriter io.Writer

	// Clients pre-registers provider clients by name, skipping secret
	// resolution for those providers. Tests use this to inject mocks.
	Clients map[string]llm.Client
}

// New assembles a runtime from cfg: provider secrets are resolved,
// clients, configured models, and routing rules land on the router,
// and the pipeline stages are wired into the server. A provider whose
// key cannot be resolved is skipped with a warning rather than failing
// startup; requests routed to it report the missing key instead.
func New(cfg *Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logWriter := opts.LogWriter
	if logWriter == nil {
		logWriter = os.Stderr
	}
	logger := opts.Logger
	var filter *secrets.RedactFilter
	if logger == nil {
		logger, filter = secrets.NewRedactingLogger(logWriter, telemetry.ParseLevel(cfg.Log.Level))
	}
	if key := auth.KeyFromEnv(); key != "" && filter != nil {
		filter.AddSecret(key)
	}

	router := llm.NewRouter()
	for name, client := range opts.Clients {
		router.RegisterClient(name, client)
	}
	registerProviders(cfg, router, opts.Clients, filter, logger)

	for _, m := range cfg.Models {
		caps := []llm.Capability{llm.CapabilityText}
		if m.Vision {
			caps = append(caps, llm.CapabilityVision)
		}
		router.RegisterModel(m.ID, llm.ModelInfo{
			Provider:     m.Provider,
			Capabilities: caps,
			Internal:     m.Internal,
		})
	}
	for i, rule := range cfg.Routing {
		if err := router.AddRule(rule.When, rule.Provider, rule.Model); err != nil {
			return nil, fmt.Errorf("config: routing[%d]: %w", i, err)
		}
	}

	sessions := memory.NewRegistry(cfg.Memory.MaxSessions, tokens.NewEstimator())
	for _, m := range cfg.Models {
		if m.MaxTokens > 0 {
			sessions.Profiles().Register(m.ID, memory.Profile{
				DisplayName: m.Name,
				MaxTokens:   m.MaxTokens,
			})
		}
	}

	serverOpts := []ServerOption{
		WithLogger(logger),
		WithMetrics(telemetry.NewMetrics()),
	}

	if cfg.WebSearch.Enabled {
		model := cfg.WebSearch.ClassifierModel
		if model == "" {
			model = websearch.DefaultClassifierModel
		}
		if client, resolved, err := router.Resolve(model, expr.Env{}); err != nil {
			logger.Warn("web search disabled: classifier model unavailable", "model", model, "error", err)
		} else {
			serverOpts = append(serverOpts, WithClassifier(websearch.NewClassifier(client, resolved)))
			var searcherOpts []websearch.WikipediaOption
			if cfg.WebSearch.WikipediaURL != "" {
				searcherOpts = append(searcherOpts, websearch.WithBaseURL(cfg.WebSearch.WikipediaURL))
			}
			serverOpts = append(serverOpts, WithSearcher(websearch.NewWikipediaClient(searcherOpts...)))
		}
	}

	if cfg.Files.Enabled {
		model := cfg.Files.VisionModel
		if model == "" {
			model = files.DefaultVisionModel
		}
		if client, resolved, err := router.Resolve(model, expr.Env{HasFiles: true}); err != nil {
			logger.Warn("file analysis disabled: vision model unavailable", "model", model, "error", err)
		} else {
			serverOpts = append(serverOpts, WithAnalyzer(files.NewAnalyzer(client, resolved)))
		}
	}

	server := NewServer(cfg, router, sessions, serverOpts...)

	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		router:   router,
		sessions: sessions,
		server:   server,
	}, nil
}

// Start runs the HTTP server on the configured address until it exits.
func (rt *Runtime) Start() error {
	return rt.server.ListenAndServe(rt.cfg.Server.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.logger.Info("shutting down")
	return rt.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (rt *Runtime) Addr() string {
	return rt.cfg.Server.Addr
}

// Handler returns the server's handler for tests and embedding.
func (rt *Runtime) Handler() http.Handler {
	return rt.server.Handler()
}

// registerProviders resolves each configured provider key and installs
// the matching client. Providers already present in preset are left
// alone. Resolved keys are registered with the redaction filter so
// they never appear in log output.
func registerProviders(cfg *Config, router *llm.Router, preset map[string]llm.Client, filter *secrets.RedactFilter, logger *slog.Logger) {
	tokenEnv := cfg.Secrets.VaultTokenEnv
	if tokenEnv == "" {
		tokenEnv = "VAULT_TOKEN"
	}
	resolver := secrets.NewResolver(cfg.Secrets.VaultAddress, os.Getenv(tokenEnv))
	ctx := context.Background()

	resolve := func(provider string, pc ProviderConfig) (string, bool) {
		if pc.APIKey == "" {
			return "", false
		}
		key, err := resolver.Resolve(ctx, pc.APIKey)
		if err != nil {
			logger.Warn("provider disabled: API key unavailable", "provider", provider, "error", err)
			return "", false
		}
		if key == "" {
			logger.Warn("provider disabled: API key empty", "provider", provider)
			return "", false
		}
		if filter != nil {
			filter.AddSecret(key)
		}
		return key, true
	}

	if _, ok := preset["nim"]; !ok {
		if key, ok := resolve("nim", cfg.Providers.NIM); ok {
			var copts []llm.OpenAIOption
			if cfg.Providers.NIM.BaseURL != "" {
				copts = append(copts, llm.WithBaseURL(cfg.Providers.NIM.BaseURL))
			}
			router.RegisterClient("nim", llm.NewNIMClient(key, copts...))
		}
	}

	if _, ok := preset["openrouter"]; !ok {
		if key, ok := resolve("openrouter", cfg.Providers.OpenRouter); ok {
			pc := cfg.Providers.OpenRouter
			var copts []llm.OpenAIOption
			if pc.BaseURL != "" {
				copts = append(copts, llm.WithBaseURL(pc.BaseURL))
			}
			if pc.Referer != "" || pc.Title != "" {
				copts = append(copts, llm.WithAttribution(pc.Referer, pc.Title))
			}
			router.RegisterClient("openrouter", llm.NewOpenRouterClient(key, copts...))
		}
	}

	if _, ok := preset["anthropic"]; !ok {
		if key, ok := resolve("anthropic", cfg.Providers.Anthropic); ok {
			router.RegisterClient("anthropic", llm.NewAnthropicClientWithKey(key))
		}
	}
}
