package capforge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	if cfg.Catalog.Root == "" {
		return fmt.Errorf("catalog.root is required")
	}

	if len(cfg.LLM.Backends) == 0 {
		return fmt.Errorf("at least one llm backend is required")
	}
	seen := make(map[string]bool, len(cfg.LLM.Backends))
	for _, b := range cfg.LLM.Backends {
		if b.Name == "" {
			return fmt.Errorf("llm backend missing name")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate llm backend name: %q", b.Name)
		}
		seen[b.Name] = true
		switch b.Kind {
		case BackendOpenAI, BackendBedrock, BackendOllama:
		default:
			return fmt.Errorf("llm backend %q: unknown kind %q", b.Name, b.Kind)
		}
	}

	mode := cfg.LLM.Strategy.Mode
	if mode == "" {
		mode = ModeSingle
	}
	switch mode {
	case ModeSingle, ModeFallback, ModeLoadBalance, ModeConditional:
	default:
		return fmt.Errorf("unknown strategy mode: %q", cfg.LLM.Strategy.Mode)
	}

	if mode == ModeConditional && len(cfg.LLM.Strategy.Conditions) == 0 {
		return fmt.Errorf("conditional strategy requires at least one condition")
	}

	if mode == ModeLoadBalance {
		var sum float64
		for _, b := range cfg.LLM.Backends {
			if b.Weight < 0 {
				return fmt.Errorf("llm backend %q has negative weight", b.Name)
			}
			sum += b.Weight
		}
		if sum <= 0 {
			return fmt.Errorf("loadbalance strategy requires total weight > 0")
		}
	}

	if cfg.Admin.Enabled {
		switch cfg.Admin.RunLog.Driver {
		case "", "none", "sqlite", "postgres":
		default:
			return fmt.Errorf("unknown admin.run_log.driver: %q", cfg.Admin.RunLog.Driver)
		}
	}

	return nil
}
