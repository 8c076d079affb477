package capforge

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func validConfigJSON() string {
	return `{
		"catalog": {"root": "./catalog"},
		"llm": {
			"strategy": {"mode": "single"},
			"backends": [{"name": "primary", "kind": "openai", "model": "gpt-4o-mini"}]
		}
	}`
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTempFile(t, "config.json", validConfigJSON())
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Catalog.Root != "./catalog" {
		t.Errorf("catalog.root = %q, want ./catalog", cfg.Catalog.Root)
	}
	if len(cfg.LLM.Backends) != 1 || cfg.LLM.Backends[0].Name != "primary" {
		t.Errorf("unexpected backends: %+v", cfg.LLM.Backends)
	}
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeTempFile(t, "config.json", `{"catalog": {`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	yamlContent := `
catalog:
  root: ./catalog
llm:
  strategy:
    mode: fallback
  backends:
    - name: primary
      kind: openai
    - name: backup
      kind: ollama
`
	path := writeTempFile(t, "config.yaml", yamlContent)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLM.Strategy.Mode != ModeFallback {
		t.Errorf("strategy.mode = %q, want fallback", cfg.LLM.Strategy.Mode)
	}
	if len(cfg.LLM.Backends) != 2 {
		t.Errorf("expected 2 backends, got %d", len(cfg.LLM.Backends))
	}
}

func TestLoadConfig_YML(t *testing.T) {
	path := writeTempFile(t, "config.yml", "catalog:\n  root: ./catalog\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Catalog.Root != "./catalog" {
		t.Errorf("catalog.root = %q, want ./catalog", cfg.Catalog.Root)
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "config.toml", "root = \"./catalog\"")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func validConfig() Config {
	return Config{
		Catalog: CatalogConfig{Root: "./catalog"},
		LLM: LLMConfig{
			Strategy: StrategyConfig{Mode: ModeSingle},
			Backends: []BackendConfig{{Name: "primary", Kind: BackendOpenAI}},
		},
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Errorf("expected valid config, got: %v", err)
	}
}

func TestValidateConfig_DefaultsToSingle(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Strategy.Mode = ""
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("expected empty mode to default to single, got: %v", err)
	}
}

func TestValidateConfig_MissingCatalogRoot(t *testing.T) {
	cfg := validConfig()
	cfg.Catalog.Root = ""
	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected error for missing catalog.root")
	}
}

func TestValidateConfig_EmptyBackends(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Backends = nil
	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected error for empty backends")
	}
}

func TestValidateConfig_DuplicateBackendName(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Backends = append(cfg.LLM.Backends, BackendConfig{Name: "primary", Kind: BackendOllama})
	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected error for duplicate backend name")
	}
}

func TestValidateConfig_UnknownBackendKind(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Backends[0].Kind = "anthropic"
	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected error for unknown backend kind")
	}
}

func TestValidateConfig_UnknownStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Strategy.Mode = "round-robin"
	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected error for unknown strategy mode")
	}
}

func TestValidateConfig_ConditionalRequiresConditions(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Strategy.Mode = ModeConditional
	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected error for conditional strategy without conditions")
	}
}

func TestValidateConfig_LoadBalanceInvalidWeights(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Strategy.Mode = ModeLoadBalance
	cfg.LLM.Backends[0].Weight = 0
	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected error for zero total weight under loadbalance")
	}
}

func TestValidateConfig_LoadBalanceValidWeights(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Strategy.Mode = ModeLoadBalance
	cfg.LLM.Backends[0].Weight = 1
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("expected valid config, got: %v", err)
	}
}

func TestValidateConfig_UnknownRunLogDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Admin.Enabled = true
	cfg.Admin.RunLog.Driver = "mysql"
	if err := ValidateConfig(cfg); err == nil {
		t.Error("expected error for unknown run_log driver")
	}
}
