package config

import (
	"os"
	"path/filepath"
	"testing"

	"dexpr/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dexpr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "output", cfg.Output.Dir)
	assert.Equal(t, EngineNative, cfg.Analysis.Engine)
	assert.Equal(t, "condition", cfg.Analysis.Covariate)
	assert.Equal(t, 0.05, cfg.Plot.PValueThreshold)
	assert.Equal(t, 1.0, cfg.Plot.LFCThreshold)
	assert.Equal(t, 20, cfg.Plot.TopGenes)
	assert.False(t, cfg.Output.Workbook)
	assert.Empty(t, cfg.Ledger.DSN)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
output:
  dir: results
  workbook: true
analysis:
  engine: rscript
plot:
  pval_threshold: 0.01
  top_genes: 50
`)
	t.Setenv("DEXPR_TOP_GENES", "10")
	t.Setenv("DEXPR_ENGINE", "NATIVE")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "results", cfg.Output.Dir)
	assert.True(t, cfg.Output.Workbook)
	assert.Equal(t, 0.01, cfg.Plot.PValueThreshold)
	assert.Equal(t, 10, cfg.Plot.TopGenes, "environment overrides the file")
	assert.Equal(t, EngineNative, cfg.Analysis.Engine)
	assert.Equal(t, 1.0, cfg.Plot.LFCThreshold, "unset keys keep defaults")
}

func TestLoadIgnoresUnparsableEnv(t *testing.T) {
	t.Setenv("DEXPR_PVAL_THRESHOLD", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.05, cfg.Plot.PValueThreshold)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))

	_, err = Load(writeConfig(t, "plot: [unterminated"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty output dir", func(c *Config) { c.Output.Dir = "" }},
		{"unknown engine", func(c *Config) { c.Analysis.Engine = "edger" }},
		{"empty covariate", func(c *Config) { c.Analysis.Covariate = "" }},
		{"zero pval threshold", func(c *Config) { c.Plot.PValueThreshold = 0 }},
		{"pval threshold above one", func(c *Config) { c.Plot.PValueThreshold = 1.5 }},
		{"negative lfc threshold", func(c *Config) { c.Plot.LFCThreshold = -1 }},
		{"zero top genes", func(c *Config) { c.Plot.TopGenes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}

	assert.NoError(t, Default().Validate())
}
