// Package capforge wires together the capability catalog, router, sandboxed
// executor, agentic orchestrator, and synthesis pipeline into one runnable
// process. Configure it with [Config] loaded via [LoadConfig], then build a
// [Runtime] with [NewRuntime].
package capforge

// Config holds the configuration for one capforge runtime.
type Config struct {
	Catalog      CatalogConfig      `json:"catalog" yaml:"catalog"`
	Router       RouterConfig       `json:"router" yaml:"router"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Synthesis    SynthesisConfig    `json:"synthesis" yaml:"synthesis"`
	LLM          LLMConfig          `json:"llm" yaml:"llm"`
	Executor     ExecutorConfig     `json:"executor" yaml:"executor"`
	Admin        AdminConfig        `json:"admin,omitempty" yaml:"admin,omitempty"`
	Plugins      []PluginConfig     `json:"plugins,omitempty" yaml:"plugins,omitempty"`
}

// CatalogConfig locates the on-disk capability catalog.
type CatalogConfig struct {
	// Root is the directory containing the crates/ subdirectory (spec §6).
	Root string `json:"root" yaml:"root"`
}

// RouterConfig tunes the semantic router.
type RouterConfig struct {
	// TopK bounds how many active capabilities are surfaced per task. Zero
	// means the orchestrator's own default (5).
	TopK int `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	// EmbeddingBackend selects the router.Embedder implementation: "openai"
	// or "hash". Empty defaults to "hash" (dependency-free).
	EmbeddingBackend string `json:"embedding_backend,omitempty" yaml:"embedding_backend,omitempty"`
	// EmbeddingModel is passed to the OpenAI embedder; ignored by "hash".
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	// EmbeddingAPIKey/EmbeddingBaseURL configure the OpenAI embedder; ignored
	// by "hash".
	EmbeddingAPIKey  string `json:"embedding_api_key,omitempty" yaml:"embedding_api_key,omitempty"`
	EmbeddingBaseURL string `json:"embedding_base_url,omitempty" yaml:"embedding_base_url,omitempty"`
	// EmbeddingDim sizes the "hash" embedder's output vector. Zero means 64.
	EmbeddingDim int `json:"embedding_dim,omitempty" yaml:"embedding_dim,omitempty"`
}

// OrchestratorConfig bounds the agentic turn loop.
type OrchestratorConfig struct {
	// MaxSteps bounds LLM turns per task. Zero means 12.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	// Model is passed through to every orchestrator-driven LLM request.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
}

// SynthesisConfig bounds the capability synthesis pipeline.
type SynthesisConfig struct {
	// MaxSteps bounds the coder sub-agent's turn count. Zero means 30.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	// Model is passed through to every coder-sub-agent LLM request. Empty
	// falls back to OrchestratorConfig.Model.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// SeparateTester opts into the scope-separated Coder/Tester refinement.
	SeparateTester bool `json:"separate_tester,omitempty" yaml:"separate_tester,omitempty"`
}

// ExecutorConfig configures the WebAssembly sandbox.
type ExecutorConfig struct {
	FileRoot                string  `json:"file_root,omitempty" yaml:"file_root,omitempty"`
	HTTPTimeoutSeconds      int     `json:"http_timeout_seconds,omitempty" yaml:"http_timeout_seconds,omitempty"`
	RunTimeoutSeconds       int     `json:"run_timeout_seconds,omitempty" yaml:"run_timeout_seconds,omitempty"`
	EgressRatePerSecond     float64 `json:"egress_rate_per_second,omitempty" yaml:"egress_rate_per_second,omitempty"`
	EgressBurst             float64 `json:"egress_burst,omitempty" yaml:"egress_burst,omitempty"`
	CompiledModuleCacheSize int     `json:"compiled_module_cache_size,omitempty" yaml:"compiled_module_cache_size,omitempty"`
}

// LLMConfig names the backends the orchestrator and synthesizer drive their
// turns against, and how llmroute picks among them.
type LLMConfig struct {
	Strategy StrategyConfig  `json:"strategy" yaml:"strategy"`
	Backends []BackendConfig `json:"backends" yaml:"backends"`
}

// StrategyConfig selects an llmroute strategy.
type StrategyConfig struct {
	Mode       StrategyMode `json:"mode" yaml:"mode"`
	Conditions []Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// StrategyMode represents the llmroute strategy mode.
type StrategyMode string

// StrategyMode constants define the supported llmroute strategies.
const (
	ModeSingle      StrategyMode = "single"
	ModeFallback    StrategyMode = "fallback"
	ModeLoadBalance StrategyMode = "loadbalance"
	ModeConditional StrategyMode = "conditional"
)

// Condition represents one conditional-routing rule.
type Condition struct {
	Key       string `json:"key" yaml:"key"`
	Value     string `json:"value" yaml:"value"`
	TargetKey string `json:"target_key" yaml:"target_key"`
}

// BackendKind selects which aiclient.Client constructor backs a BackendConfig.
type BackendKind string

// BackendKind constants name the supported aiclient backends.
const (
	BackendOpenAI  BackendKind = "openai"
	BackendBedrock BackendKind = "bedrock"
	BackendOllama  BackendKind = "ollama"
)

// BackendConfig names one aiclient.Client backend and how llmroute should
// weigh it.
type BackendConfig struct {
	// Name is the virtual key llmroute strategies and conditions refer to.
	Name    string      `json:"name" yaml:"name"`
	Kind    BackendKind `json:"kind" yaml:"kind"`
	APIKey  string      `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string      `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model   string      `json:"model,omitempty" yaml:"model,omitempty"`
	Region  string      `json:"region,omitempty" yaml:"region,omitempty"` // bedrock only
	Weight  float64     `json:"weight,omitempty" yaml:"weight,omitempty"`

	// OAuth2* configure the client-credentials grant for an ollama-kind
	// backend sitting behind an OAuth2-protected gateway instead of a plain
	// local Ollama listener. Ignored by other backend kinds.
	OAuth2ClientID     string   `json:"oauth2_client_id,omitempty" yaml:"oauth2_client_id,omitempty"`
	OAuth2ClientSecret string   `json:"oauth2_client_secret,omitempty" yaml:"oauth2_client_secret,omitempty"`
	OAuth2TokenURL     string   `json:"oauth2_token_url,omitempty" yaml:"oauth2_token_url,omitempty"`
	OAuth2Scopes       []string `json:"oauth2_scopes,omitempty" yaml:"oauth2_scopes,omitempty"`
}

// AdminConfig controls the admin HTTP API.
type AdminConfig struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
	RunLog  RunLogConfig `json:"run_log,omitempty" yaml:"run_log,omitempty"`
}

// RunLogConfig selects where tool-invocation audit records are persisted.
type RunLogConfig struct {
	// Driver is "sqlite", "postgres", or "none" (the default — no audit log).
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// PluginConfig enables and configures one tool-call pipeline plugin.
type PluginConfig struct {
	Name    string                 `json:"name" yaml:"name"`
	Stage   string                 `json:"stage" yaml:"stage"`
	Enabled bool                   `json:"enabled" yaml:"enabled"`
	Config  map[string]interface{} `json:"config" yaml:"config"`
}
