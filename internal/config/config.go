package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/payneio/amplifier-bundle-foreman/internal/routing"
)

// DefaultMaxIterations bounds the foreman agent loop when the config file
// does not override it.
const DefaultMaxIterations = 20

// Config is the YAML file configuration. It declares the worker pools and the
// routing rules that map issues onto them.
type Config struct {
	WorkerPools   []routing.Pool `yaml:"worker_pools"`
	Routing       routing.Config `yaml:"routing"`
	MaxIterations int            `yaml:"max_iterations"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a config document and validates pool references.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	seen := make(map[string]struct{}, len(cfg.WorkerPools))
	for _, p := range cfg.WorkerPools {
		if p.Name == "" {
			return nil, fmt.Errorf("parse config: worker pool with empty name")
		}
		if _, ok := seen[p.Name]; ok {
			return nil, fmt.Errorf("parse config: duplicate worker pool %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if cfg.Routing.DefaultPool != "" {
		if _, ok := seen[cfg.Routing.DefaultPool]; !ok {
			return nil, fmt.Errorf("parse config: default_pool %q does not name a worker pool", cfg.Routing.DefaultPool)
		}
	}
	return cfg, nil
}

// Router builds a routing.Router from the configured pools and rules.
func (c *Config) Router() *routing.Router {
	return routing.NewRouter(c.WorkerPools, c.Routing)
}
