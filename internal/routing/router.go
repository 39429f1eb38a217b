// Package routing maps issues to worker pools using ordered rule matching.
package routing

import (
	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
)

// Pool binds a category of issues to an externally-versioned worker bundle.
type Pool struct {
	Name          string   `yaml:"name"`
	WorkerBundle  string   `yaml:"worker_bundle"`
	RouteTypes    []string `yaml:"route_types,omitempty"`
	MaxConcurrent int      `yaml:"max_concurrent,omitempty"`
}

// Rule routes issues whose type is in IfMetadataType to the pool named ThenPool.
type Rule struct {
	IfMetadataType []string `yaml:"if_metadata_type"`
	ThenPool       string   `yaml:"then_pool"`
}

type Config struct {
	Rules       []Rule `yaml:"rules,omitempty"`
	DefaultPool string `yaml:"default_pool,omitempty"`
}

type Router struct {
	pools []Pool
	cfg   Config
}

func NewRouter(pools []Pool, cfg Config) *Router {
	return &Router{pools: pools, cfg: cfg}
}

// Route selects a worker pool for the issue. Precedence is fixed: the first
// matching rule wins, then the default pool, then the first configured pool.
// A rule whose then_pool names no configured pool resolves to nil rather than
// falling through.
func (r *Router) Route(is *issue.Issue) *Pool {
	issueType := is.Type()

	for _, rule := range r.cfg.Rules {
		if len(rule.IfMetadataType) == 0 {
			continue
		}
		for _, t := range rule.IfMetadataType {
			if t == issueType {
				return r.PoolByName(rule.ThenPool)
			}
		}
	}

	if r.cfg.DefaultPool != "" {
		return r.PoolByName(r.cfg.DefaultPool)
	}

	if len(r.pools) > 0 {
		return &r.pools[0]
	}
	return nil
}

func (r *Router) PoolByName(name string) *Pool {
	for i := range r.pools {
		if r.pools[i].Name == name {
			return &r.pools[i]
		}
	}
	return nil
}

func (r *Router) Pools() []Pool {
	return r.pools
}
