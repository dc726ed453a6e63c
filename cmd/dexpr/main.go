package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dexpr/adapters/ledger"
	"dexpr/app"
	"dexpr/internal/config"
	"dexpr/internal/errors"
	"dexpr/internal/logging"
	"dexpr/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// globalOptions are flags shared by every subcommand
type globalOptions struct {
	configPath string
	verbose    bool
	ledgerDSN  string
}

func main() {
	// A missing .env file is not an error
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", errors.GetCode(err), err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	var (
		outputDir      string
		pvalThreshold  float64
		lfcThreshold   float64
		topGenes       int
		engine         string
		rscriptPath    string
		referenceLevel string
		workbook       bool
		htmlReport     bool
		show           bool
	)

	cmd := &cobra.Command{
		Use:   "dexpr <counts_path> <metadata_path>",
		Short: "Differential expression analysis with volcano plot, heatmap and summary",
		Long: `Run a DESeq2-style differential expression analysis on a raw count matrix.

The counts table has one row per gene and one column per sample; the metadata
table has one row per sample and a "condition" column. Results are written to
the output directory as deseq2_results.csv, volcano_plot.png, heatmap.png and
summary_report.txt.

Example: dexpr counts.csv metadata.csv --output_dir results --top_genes 30`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("output_dir") {
				cfg.Output.Dir = outputDir
			}
			if flags.Changed("pval_threshold") {
				cfg.Plot.PValueThreshold = pvalThreshold
			}
			if flags.Changed("lfc_threshold") {
				cfg.Plot.LFCThreshold = lfcThreshold
			}
			if flags.Changed("top_genes") {
				cfg.Plot.TopGenes = topGenes
			}
			if flags.Changed("engine") {
				cfg.Analysis.Engine = strings.ToLower(engine)
			}
			if flags.Changed("rscript") {
				cfg.Analysis.RscriptPath = rscriptPath
			}
			if flags.Changed("reference_level") {
				cfg.Analysis.ReferenceLevel = referenceLevel
			}
			if flags.Changed("xlsx") {
				cfg.Output.Workbook = workbook
			}
			if flags.Changed("html_report") {
				cfg.Output.HTMLReport = htmlReport
			}
			if flags.Changed("show") {
				cfg.Plot.Show = show
			}
			if opts.ledgerDSN != "" {
				cfg.Ledger.DSN = opts.ledgerDSN
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runPipeline(cmd.Context(), cmd.OutOrStdout(), cfg, opts.verbose, args[0], args[1])
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Optional YAML configuration file")
	pf.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	pf.StringVar(&opts.ledgerDSN, "ledger", "", "Run ledger DSN: postgres://... or a SQLite file path")

	f := cmd.Flags()
	f.StringVar(&outputDir, "output_dir", "output", "Directory for the results, plots and summary")
	f.Float64Var(&pvalThreshold, "pval_threshold", 0.05, "Adjusted p-value threshold for the volcano plot")
	f.Float64Var(&lfcThreshold, "lfc_threshold", 1.0, "Absolute log2 fold change threshold for the volcano plot")
	f.IntVar(&topGenes, "top_genes", 20, "Number of top genes by adjusted p-value in the heatmap")
	f.StringVar(&engine, "engine", config.EngineNative, "Differential expression engine: native or rscript")
	f.StringVar(&rscriptPath, "rscript", "Rscript", "Rscript executable used by the rscript engine")
	f.StringVar(&referenceLevel, "reference_level", "", "Baseline condition level (default: first in sorted order)")
	f.BoolVar(&workbook, "xlsx", false, "Also write the results as an Excel workbook")
	f.BoolVar(&htmlReport, "html_report", false, "Also write a Markdown and HTML summary report")
	f.BoolVar(&show, "show", false, "Open the plots in the default image viewer")

	cmd.AddCommand(newSimulateCmd(), newRunsCmd(opts))
	return cmd
}

func runPipeline(ctx context.Context, out io.Writer, cfg *config.Config, verbose bool, countsPath, metadataPath string) error {
	logger, err := logging.New(cfg.Log.Level, verbose)
	if err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	defer logger.Sync()

	engine, err := app.NewEngine(cfg.Analysis, logger)
	if err != nil {
		return err
	}

	var runLedger ports.RunLedger
	if cfg.Ledger.DSN != "" {
		l, err := ledger.Open(ctx, cfg.Ledger.DSN)
		if err != nil {
			return err
		}
		defer l.Close()
		runLedger = l
	}

	logger.Info("starting differential expression run",
		zap.String("engine", engine.Name()),
		zap.String("counts", countsPath),
		zap.String("metadata", metadataPath),
		zap.String("output_dir", cfg.Output.Dir))

	svc := app.NewPipelineService(engine, runLedger, logger)
	result, err := svc.Run(ctx, app.PipelineRequest{
		CountsPath:      countsPath,
		MetadataPath:    metadataPath,
		OutputDir:       cfg.Output.Dir,
		Covariate:       cfg.Analysis.Covariate,
		ReferenceLevel:  cfg.Analysis.ReferenceLevel,
		PValueThreshold: cfg.Plot.PValueThreshold,
		LFCThreshold:    cfg.Plot.LFCThreshold,
		TopGenes:        cfg.Plot.TopGenes,
		Workbook:        cfg.Output.Workbook,
		HTMLReport:      cfg.Output.HTMLReport,
		Show:            cfg.Plot.Show,
	})
	if err != nil {
		logger.Error("run failed", zap.String("code", errors.GetCode(err)), zap.Error(err))
		return err
	}

	for _, line := range result.Summary.Lines() {
		fmt.Fprintln(out, line)
	}
	return nil
}
