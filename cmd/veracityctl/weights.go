package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/okian/veracity/internal/adapters/ledger"
	"github.com/okian/veracity/internal/config"
	"github.com/okian/veracity/internal/domain/reputation"
)

// errNoDurableLedger is returned when weights are asked of an in-memory ledger.
var errNoDurableLedger = errors.New("weights need ledger_backend=postgres")

func (c *cli) newWeightsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Print normalized miner weights from the receipt ledger",
		Long:  `Reads each miner's most recent receipt from the ledger and normalizes the final scores into integer weights summing to at most 1000.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if c.cfg.LedgerBackend != config.BackendPostgres {
				return errNoDurableLedger
			}
			pool, err := pgxpool.New(ctx, c.cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			l, err := ledger.NewPostgres(ctx, pool)
			if err != nil {
				return err
			}
			if err := l.Migrate(ctx); err != nil {
				return err
			}
			latest, err := l.Latest(ctx)
			if err != nil {
				return err
			}

			scores := make([]reputation.Score, len(latest))
			for i, r := range latest {
				scores[i] = reputation.Score{MinerID: r.MinerID, Score: r.Result.FinalScore}
			}
			weights := reputation.Weights(scores)
			if asJSON {
				return printJSON(cmd, weights)
			}
			return printWeights(cmd, weights)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printWeights(cmd *cobra.Command, weights []reputation.Weight) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MINER\tSCORE\tWEIGHT")
	for _, w := range weights {
		fmt.Fprintf(tw, "%s\t%.4f\t%d\n", w.MinerID, w.Score, w.Weight)
	}
	return tw.Flush()
}
