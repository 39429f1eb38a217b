package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	doc := []byte(`
worker_pools:
  - name: builders
    worker_bundle: workers/builder
    max_concurrent: 4
  - name: fixers
    worker_bundle: git+https://example.com/fixer.git
routing:
  rules:
    - if_metadata_type: [bug]
      then_pool: fixers
  default_pool: builders
max_iterations: 7
`)
	cfg, err := Parse(doc)
	require.NoError(t, err)

	require.Len(t, cfg.WorkerPools, 2)
	assert.Equal(t, "builders", cfg.WorkerPools[0].Name)
	assert.Equal(t, 4, cfg.WorkerPools[0].MaxConcurrent)
	assert.Equal(t, "git+https://example.com/fixer.git", cfg.WorkerPools[1].WorkerBundle)
	require.Len(t, cfg.Routing.Rules, 1)
	assert.Equal(t, []string{"bug"}, cfg.Routing.Rules[0].IfMetadataType)
	assert.Equal(t, "builders", cfg.Routing.DefaultPool)
	assert.Equal(t, 7, cfg.MaxIterations)

	router := cfg.Router()
	require.NotNil(t, router)
	assert.Len(t, router.Pools(), 2)
}

func TestParse_DefaultMaxIterations(t *testing.T) {
	cfg, err := Parse([]byte(`worker_pools: []`))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "empty pool name",
			doc: `
worker_pools:
  - worker_bundle: workers/builder
`,
		},
		{
			name: "duplicate pool name",
			doc: `
worker_pools:
  - name: builders
    worker_bundle: a
  - name: builders
    worker_bundle: b
`,
		},
		{
			name: "default pool names no pool",
			doc: `
worker_pools:
  - name: builders
    worker_bundle: a
routing:
  default_pool: ghosts
`,
		},
		{
			name: "not yaml",
			doc:  `worker_pools: {{`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
