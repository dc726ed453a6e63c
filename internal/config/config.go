package config

import (
	"os"
	"strconv"
	"strings"

	"dexpr/internal/errors"

	"gopkg.in/yaml.v3"
)

// Engine names accepted by Analysis.Engine
const (
	EngineNative  = "native"
	EngineRscript = "rscript"
)

// Config represents the complete pipeline configuration
type Config struct {
	Output   OutputConfig   `yaml:"output"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Plot     PlotConfig     `yaml:"plot"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Log      LogConfig      `yaml:"log"`
}

// OutputConfig holds artifact locations and optional extra artifacts
type OutputConfig struct {
	Dir        string `yaml:"dir"`
	Workbook   bool   `yaml:"workbook"`
	HTMLReport bool   `yaml:"html_report"`
}

// AnalysisConfig selects and configures the differential expression engine
type AnalysisConfig struct {
	Engine         string `yaml:"engine"`
	RscriptPath    string `yaml:"rscript_path"`
	Covariate      string `yaml:"covariate"`
	ReferenceLevel string `yaml:"reference_level"`
}

// PlotConfig holds volcano and heatmap settings
type PlotConfig struct {
	PValueThreshold float64 `yaml:"pval_threshold"`
	LFCThreshold    float64 `yaml:"lfc_threshold"`
	TopGenes        int     `yaml:"top_genes"`
	Show            bool    `yaml:"show"`
}

// LedgerConfig holds the optional run ledger connection
type LedgerConfig struct {
	DSN string `yaml:"dsn"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Dir: "output",
		},
		Analysis: AnalysisConfig{
			Engine:      EngineNative,
			RscriptPath: "Rscript",
			Covariate:   "condition",
		},
		Plot: PlotConfig{
			PValueThreshold: 0.05,
			LFCThreshold:    1.0,
			TopGenes:        20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "failed to read config %s", path))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "failed to parse config %s", path))
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Output.Dir = getEnvOrDefault("DEXPR_OUTPUT_DIR", c.Output.Dir)
	c.Output.Workbook = getEnvBoolOrDefault("DEXPR_XLSX", c.Output.Workbook)
	c.Output.HTMLReport = getEnvBoolOrDefault("DEXPR_HTML_REPORT", c.Output.HTMLReport)

	c.Analysis.Engine = strings.ToLower(getEnvOrDefault("DEXPR_ENGINE", c.Analysis.Engine))
	c.Analysis.RscriptPath = getEnvOrDefault("DEXPR_RSCRIPT", c.Analysis.RscriptPath)
	c.Analysis.ReferenceLevel = getEnvOrDefault("DEXPR_REFERENCE_LEVEL", c.Analysis.ReferenceLevel)

	c.Plot.PValueThreshold = getEnvFloatOrDefault("DEXPR_PVAL_THRESHOLD", c.Plot.PValueThreshold)
	c.Plot.LFCThreshold = getEnvFloatOrDefault("DEXPR_LFC_THRESHOLD", c.Plot.LFCThreshold)
	c.Plot.TopGenes = getEnvIntOrDefault("DEXPR_TOP_GENES", c.Plot.TopGenes)

	c.Ledger.DSN = getEnvOrDefault("DEXPR_LEDGER_DSN", c.Ledger.DSN)
	c.Log.Level = getEnvOrDefault("DEXPR_LOG_LEVEL", c.Log.Level)
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if c.Output.Dir == "" {
		return errors.ConfigInvalid("output directory is required")
	}
	switch strings.ToLower(c.Analysis.Engine) {
	case EngineNative, EngineRscript:
	default:
		return errors.ConfigInvalid("unknown engine " + strconv.Quote(c.Analysis.Engine))
	}
	if c.Analysis.Covariate == "" {
		return errors.ConfigInvalid("design covariate is required")
	}
	if c.Plot.PValueThreshold <= 0 || c.Plot.PValueThreshold > 1 {
		return errors.ConfigInvalid("pval_threshold must be in (0, 1]")
	}
	if c.Plot.LFCThreshold < 0 {
		return errors.ConfigInvalid("lfc_threshold must not be negative")
	}
	if c.Plot.TopGenes < 1 {
		return errors.ConfigInvalid("top_genes must be at least 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
