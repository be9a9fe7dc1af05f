package mcp

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServerConfig describes one configured tool server. HTTP servers set URL;
// process servers set Command (plus optional Args/Env).
type ServerConfig struct {
	URL     string            `json:"url,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Status  string            `json:"status,omitempty"` // "active" or "disabled"
}

// RegistryConfig is the on-disk tool server configuration.
type RegistryConfig struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// LoadConfig reads the tool server configuration file and filters it down to
// active servers. A missing file falls back to the minimal default config so
// the agent can still serve price queries.
func LoadConfig(path string) (*RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read tool servers file: %w", err)
	}

	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tool servers JSON: %w", err)
	}

	active := make(map[string]ServerConfig)
	for name, sc := range cfg.Servers {
		if sc.Status == "" || sc.Status == "active" {
			active[name] = sc
		}
	}
	cfg.Servers = active

	return &cfg, nil
}

func defaultConfig() *RegistryConfig {
	return &RegistryConfig{
		Servers: map[string]ServerConfig{
			"coingecko": {URL: "https://mcp.api.coingecko.com/sse"},
		},
	}
}
