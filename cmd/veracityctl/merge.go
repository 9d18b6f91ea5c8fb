package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/okian/veracity/internal/adapters/graph"
	"github.com/okian/veracity/internal/config"
	"github.com/okian/veracity/internal/domain/merge"
	"github.com/okian/veracity/internal/domain/schema"
)

func (c *cli) newMergeCmd() *cobra.Command {
	var (
		minerID    string
		observedAt string
	)
	cmd := &cobra.Command{
		Use:   "merge <file>",
		Short: "Merge a dataset file into the configured graph",
		Long:  `Validates a dataset file and merges it into the configured graph backend, printing the merge report. With the memory backend nothing persists, which makes it a dry run.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sub, err := readSubmission(args[0])
			if err != nil {
				return err
			}
			if minerID != "" {
				sub.MinerID = minerID
			}
			if observedAt != "" {
				at, err := time.Parse(time.RFC3339, observedAt)
				if err != nil {
					return fmt.Errorf("--observed-at: %w", err)
				}
				sub.ObservedAt = at
			}

			v, err := schema.New()
			if err != nil {
				return err
			}
			ds, err := v.Dataset(sub)
			if err != nil {
				return err
			}

			store, closeStore, err := openGraph(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			report, err := merge.New(store).Merge(ctx, ds)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&minerID, "miner", "", "miner id to attribute the dataset to")
	cmd.Flags().StringVar(&observedAt, "observed-at", "", "observation time (RFC3339) when the file carries none")
	return cmd
}

// openGraph opens the configured graph backend.
func openGraph(ctx context.Context, cfg *config.Config) (merge.Store, func(), error) {
	if cfg.GraphBackend != config.BackendPostgres {
		return graph.NewMemory(0), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	g, err := graph.NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := g.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return g, pool.Close, nil
}
