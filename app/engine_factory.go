package app

import (
	"fmt"

	"dexpr/adapters/deseq/native"
	"dexpr/adapters/deseq/rscript"
	"dexpr/internal/config"
	"dexpr/internal/errors"
	"dexpr/ports"

	"go.uber.org/zap"
)

// NewEngine builds the differential expression engine named in the configuration
func NewEngine(cfg config.AnalysisConfig, logger *zap.Logger) (ports.DEEngine, error) {
	switch cfg.Engine {
	case config.EngineNative, "":
		return native.NewEngine(logger, native.DefaultOptions()), nil
	case config.EngineRscript:
		return rscript.NewEngine(cfg.RscriptPath, logger), nil
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unknown engine %q", cfg.Engine))
	}
}
