package capforge

import (
	"context"
	"fmt"
	"time"

	"github.com/forge-labs/capforge/aiclient"
	"github.com/forge-labs/capforge/capability"
	"github.com/forge-labs/capforge/embedder"
	"github.com/forge-labs/capforge/executor"
	"github.com/forge-labs/capforge/internal/admin"
	"github.com/forge-labs/capforge/internal/requestlog"
	"github.com/forge-labs/capforge/llmroute"
	"github.com/forge-labs/capforge/models"
	"github.com/forge-labs/capforge/orchestrator"
	"github.com/forge-labs/capforge/plugin"
	"github.com/forge-labs/capforge/router"
	"github.com/forge-labs/capforge/synth"
)

// Runtime wires a capability catalog, router index, LLM backends, sandboxed
// executor, synthesis pipeline, and agentic orchestrator into one process.
// Build one with NewRuntime, then drive tasks with Run.
type Runtime struct {
	cfg Config

	Catalog      *capability.Catalog
	Index        *router.Index
	Embedder     router.Embedder
	Orchestrator *orchestrator.Orchestrator
	Synthesizer  *synth.Synthesizer
	Executor     *executor.Executor
	Admin        *admin.Handlers

	backends map[string]aiclient.Client
}

// NewRuntime constructs a Runtime from a validated Config. The returned
// Runtime owns a background executor; call Close when done with it.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cat, err := capability.Load(cfg.Catalog.Root)
	if err != nil {
		return nil, fmt.Errorf("loading capability catalog: %w", err)
	}

	emb, err := buildEmbedder(cfg.Router)
	if err != nil {
		return nil, err
	}

	idx := router.NewIndex()
	if err := router.Sync(ctx, idx, cat, emb); err != nil {
		return nil, fmt.Errorf("syncing router index: %w", err)
	}

	priceCatalog, err := models.Load()
	if err != nil {
		return nil, fmt.Errorf("loading model pricing catalog: %w", err)
	}

	backends, err := buildBackends(ctx, cfg.LLM.Backends, priceCatalog)
	if err != nil {
		return nil, err
	}
	lookup := llmroute.BackendLookup(func(name string) (aiclient.Client, bool) {
		c, ok := backends[name]
		return c, ok
	})

	strategy, err := buildStrategy(cfg.LLM.Strategy, cfg.LLM.Backends, lookup)
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(ctx, executor.Config{
		FileRoot:                cfg.Executor.FileRoot,
		HTTPTimeout:             time.Duration(cfg.Executor.HTTPTimeoutSeconds) * time.Second,
		RunTimeout:              time.Duration(cfg.Executor.RunTimeoutSeconds) * time.Second,
		EgressRatePerSecond:     cfg.Executor.EgressRatePerSecond,
		EgressBurst:             cfg.Executor.EgressBurst,
		CompiledModuleCacheSize: cfg.Executor.CompiledModuleCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing executor: %w", err)
	}

	synthModel := cfg.Synthesis.Model
	if synthModel == "" {
		synthModel = cfg.Orchestrator.Model
	}
	synthesizer := synth.New(synth.Options{
		MaxSteps:       cfg.Synthesis.MaxSteps,
		Model:          synthModel,
		SeparateTester: cfg.Synthesis.SeparateTester,
	}, cat, strategy, nil)

	orch := orchestrator.New(orchestrator.Config{
		MaxSteps: cfg.Orchestrator.MaxSteps,
		TopK:     cfg.Router.TopK,
		Model:    cfg.Orchestrator.Model,
	}, cat, idx, emb, strategy, exec, synthesizer)

	if err := loadPlugins(orch, cfg.Plugins); err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:          cfg,
		Catalog:      cat,
		Index:        idx,
		Embedder:     emb,
		Orchestrator: orch,
		Synthesizer:  synthesizer,
		Executor:     exec,
		backends:     backends,
	}

	if cfg.Admin.Enabled {
		h, err := buildAdminHandlers(cat, cfg.Admin)
		if err != nil {
			return nil, err
		}
		rt.Admin = h
	}

	return rt, nil
}

// Run drives one task to completion through the orchestrator.
func (rt *Runtime) Run(ctx context.Context, task string) (string, error) {
	return rt.Orchestrator.Run(ctx, task)
}

// Close releases the executor's compiled-module cache and any other
// background resources the Runtime owns.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.Executor == nil {
		return nil
	}
	return rt.Executor.Close(ctx)
}

func buildEmbedder(cfg RouterConfig) (router.Embedder, error) {
	switch cfg.EmbeddingBackend {
	case "", "hash":
		return embedder.NewHash(cfg.EmbeddingDim), nil
	case "openai":
		return embedder.NewOpenAI(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel), nil
	default:
		return nil, fmt.Errorf("unknown router.embedding_backend: %q", cfg.EmbeddingBackend)
	}
}

func buildBackends(ctx context.Context, backends []BackendConfig, priceCatalog models.Catalog) (map[string]aiclient.Client, error) {
	out := make(map[string]aiclient.Client, len(backends))
	for _, b := range backends {
		var client aiclient.Client
		switch b.Kind {
		case BackendOpenAI:
			client = aiclient.NewOpenAI(b.APIKey, b.BaseURL, b.Model)
		case BackendBedrock:
			bedrock, err := aiclient.NewBedrock(ctx, b.Region, b.Model)
			if err != nil {
				return nil, fmt.Errorf("constructing bedrock backend %q: %w", b.Name, err)
			}
			client = bedrock
		case BackendOllama:
			var oauth2Cfg *aiclient.OAuth2Config
			if b.OAuth2ClientID != "" {
				oauth2Cfg = &aiclient.OAuth2Config{
					ClientID:     b.OAuth2ClientID,
					ClientSecret: b.OAuth2ClientSecret,
					TokenURL:     b.OAuth2TokenURL,
					Scopes:       b.OAuth2Scopes,
				}
			}
			client = aiclient.NewOllama(b.BaseURL, b.Model, oauth2Cfg)
		default:
			return nil, fmt.Errorf("llm backend %q: unknown kind %q", b.Name, b.Kind)
		}
		modelKey := string(b.Kind) + "/" + b.Model
		costed := newCostedClient(client, b.Name, modelKey, priceCatalog)
		out[b.Name] = aiclient.NewRetrying(costed, 3, 0)
	}
	return out, nil
}

// buildStrategy constructs the llmroute.Strategy named by cfg.Mode, against
// the ordered backend list declared under llm.backends.
func buildStrategy(cfg StrategyConfig, backends []BackendConfig, lookup llmroute.BackendLookup) (llmroute.Strategy, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("llm.backends must declare at least one backend")
	}
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeSingle
	}
	switch mode {
	case ModeSingle:
		return llmroute.NewSingle(names[0], lookup), nil
	case ModeFallback:
		return llmroute.NewFallback(names, lookup), nil
	case ModeLoadBalance:
		targets := make([]llmroute.Target, len(backends))
		for i, b := range backends {
			targets[i] = llmroute.Target{Backend: b.Name, Weight: b.Weight}
		}
		return llmroute.NewLoadBalance(targets, lookup), nil
	case ModeConditional:
		rules := make([]llmroute.ConditionRule, len(cfg.Conditions))
		for i, c := range cfg.Conditions {
			rules[i] = llmroute.ConditionRule{Key: c.Key, Value: c.Value, Backend: c.TargetKey}
		}
		return llmroute.NewConditional(rules, names[len(names)-1], lookup), nil
	default:
		return nil, fmt.Errorf("unknown strategy mode: %q", mode)
	}
}

func loadPlugins(orch *orchestrator.Orchestrator, configs []PluginConfig) error {
	for _, pc := range configs {
		if !pc.Enabled {
			continue
		}
		factory, ok := plugin.GetFactory(pc.Name)
		if !ok {
			return fmt.Errorf("unknown plugin: %s", pc.Name)
		}
		p := factory()
		if err := p.Init(pc.Config); err != nil {
			return fmt.Errorf("plugin %s init failed: %w", pc.Name, err)
		}
		if err := orch.RegisterPlugin(plugin.Stage(pc.Stage), p); err != nil {
			return fmt.Errorf("plugin %s register failed: %w", pc.Name, err)
		}
	}
	return nil
}

func buildAdminHandlers(cat *capability.Catalog, cfg AdminConfig) (*admin.Handlers, error) {
	h := &admin.Handlers{
		Keys:    admin.NewKeyStore(),
		Catalog: cat,
	}
	switch cfg.RunLog.Driver {
	case "", "none":
		// No audit log; requestlog.Reader/Maintainer stay nil and the
		// logs endpoints respond with "log storage not enabled".
	case "sqlite":
		w, err := requestlog.NewSQLiteWriter(cfg.RunLog.DSN)
		if err != nil {
			return nil, fmt.Errorf("constructing sqlite request log: %w", err)
		}
		h.Logs = w
		h.LogAdmin = w
	case "postgres":
		w, err := requestlog.NewPostgresWriter(cfg.RunLog.DSN)
		if err != nil {
			return nil, fmt.Errorf("constructing postgres request log: %w", err)
		}
		h.Logs = w
		h.LogAdmin = w
	default:
		return nil, fmt.Errorf("unknown admin.run_log.driver: %q", cfg.RunLog.Driver)
	}
	return h, nil
}

