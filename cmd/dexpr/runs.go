package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"dexpr/adapters/ledger"
	"dexpr/internal/config"
	"dexpr/internal/errors"

	"github.com/spf13/cobra"
)

func newRunsCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List recent runs recorded in the run ledger",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			dsn := cfg.Ledger.DSN
			if opts.ledgerDSN != "" {
				dsn = opts.ledgerDSN
			}
			if dsn == "" {
				return errors.ConfigInvalid("a run ledger DSN is required (--ledger or DEXPR_LEDGER_DSN)")
			}

			l, err := ledger.Open(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer l.Close()

			runs, err := l.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tENGINE\tSTATUS\tTOTAL\tSIGNIFICANT\tUP\tDOWN\tOUTPUT")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Engine, r.Status,
					r.TotalGenes, r.SignificantCnt, r.UpCnt, r.DownCnt, r.OutputDir)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}
