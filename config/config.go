// Package config loads the build-time configuration: model credentials,
// engine tuning, and the workflow definitions the schema registry is built
// from. Configuration is read once at startup; nothing here is hot-reloaded.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Model   ModelConfig      `yaml:"model"`
	Store   StoreConfig      `yaml:"store"`
	Engine  EngineConfig     `yaml:"engine"`
	Logging LoggingConfig    `yaml:"logging"`
	Intents []WorkflowConfig `yaml:"intents"`
}

// ModelConfig points at the chat model used by the tool-based classifier and
// extractor. With an empty APIKey the local implementations are used alone.
type ModelConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type StoreConfig struct {
	// Driver selects the session store: "memory" or "sqlite".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type EngineConfig struct {
	MaxDispatchRetries int           `yaml:"max_dispatch_retries"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WorkflowConfig declares one intent and its ordered slots.
type WorkflowConfig struct {
	Name  string       `yaml:"name"`
	Slots []SlotConfig `yaml:"slots"`
}

type SlotConfig struct {
	Name          string `yaml:"name"`
	DisplayName   string `yaml:"display_name"`
	Description   string `yaml:"description"`
	Type          string `yaml:"type"`
	Required      bool   `yaml:"required"`
	Prompt        string `yaml:"prompt"`
	ConfirmPrompt string `yaml:"confirm_prompt"`
	MaxRetries    int    `yaml:"max_retries"`

	// Type-specific options.
	AllowPast bool     `yaml:"allow_past"`
	Values    []string `yaml:"values"`
	MinLen    int      `yaml:"min_len"`
	MaxLen    int      `yaml:"max_len"`
	Min       float64  `yaml:"min"`
	Max       float64  `yaml:"max"`
}

// Load reads and validates the yaml config. The model API key may come from
// the OPENAI_API_KEY environment variable instead of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Model.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Intents) == 0 {
		return fmt.Errorf("at least one intent must be configured")
	}
	for _, wf := range c.Intents {
		if wf.Name == "" {
			return fmt.Errorf("intent with empty name")
		}
		for _, slot := range wf.Slots {
			switch slot.Type {
			case "date", "phone", "enum", "text", "number":
			default:
				return fmt.Errorf("intent %q slot %q: unknown type %q", wf.Name, slot.Name, slot.Type)
			}
			if slot.Type == "enum" && len(slot.Values) == 0 {
				return fmt.Errorf("intent %q slot %q: enum slot needs values", wf.Name, slot.Name)
			}
		}
	}
	switch c.Store.Driver {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
