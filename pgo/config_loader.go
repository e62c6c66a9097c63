package pgo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// GraphConfig defines one independent pose graph.
type GraphConfig struct {
	ID       string         `yaml:"id" json:"id"`
	Topic    string         `yaml:"topic,omitempty" json:"topic,omitempty"` // MQTT topic carrying batches
	Color    string         `yaml:"color,omitempty" json:"color,omitempty"`
	Strategy StrategyConfig `yaml:"strategy" json:"strategy"`
}

// Config represents the full configuration file
type Config struct {
	MQTT           MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	DiagnosticsDir string        `yaml:"diagnosticsDir,omitempty" json:"diagnosticsDir,omitempty"`
	Graphs         []GraphConfig `yaml:"graphs" json:"graphs"`
}

// GetGraphByID returns the graph config for the given ID
func (c *Config) GetGraphByID(id string) *GraphConfig {
	for i := range c.Graphs {
		if c.Graphs[i].ID == id {
			return &c.Graphs[i]
		}
	}
	return nil
}

// LoadConfig loads the configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks required fields and strategy settings.
func (c *Config) Validate() error {
	if len(c.Graphs) == 0 {
		return fmt.Errorf("at least one graph must be defined")
	}

	seen := make(map[string]bool, len(c.Graphs))
	for i, g := range c.Graphs {
		if g.ID == "" {
			return fmt.Errorf("graphs[%d].id is required", i)
		}
		if seen[g.ID] {
			return fmt.Errorf("graphs[%d].id %q is duplicated", i, g.ID)
		}
		seen[g.ID] = true

		if c.MQTT.Broker != "" && g.Topic == "" {
			return fmt.Errorf("graphs[%d].topic is required for %s when mqtt.broker is set", i, g.ID)
		}
		if _, err := NewRemover(g.Strategy); err != nil {
			return fmt.Errorf("graphs[%d].strategy: %w", i, err)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
