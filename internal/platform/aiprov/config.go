package aiprov

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is one entry of the providers YAML file:
//
//	default: openai
//	providers:
//	  openai:
//	    model: gpt-4o-mini
//	    base_url: https://api.openai.com/v1
//	    input_cost_per_1k: 0.00015
//	    output_cost_per_1k: 0.0006
type ProviderConfig struct {
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
}

type RegistryConfig struct {
	Default   string                    `yaml:"default"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

func LoadRegistryConfig(path string) (*RegistryConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("aiprov: read config %s: %w", path, err)
	}
	var cfg RegistryConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("aiprov: parse config %s: %w", path, err)
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("aiprov: config %s declares no providers", path)
	}
	return &cfg, nil
}
