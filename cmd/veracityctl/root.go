package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/veracity/internal/config"
	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/pkg/logger"
)

// errEmptyInput is returned for a dataset file without content.
var errEmptyInput = errors.New("empty input")

// cli carries state shared by the subcommands.
type cli struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "veracityctl",
		Short:        "Operator tooling for the dataset validator",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfgFile != "" {
				if err := os.Setenv("VERACITY_CONFIG", c.cfgFile); err != nil {
					return err
				}
			}
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if err := logger.SetLevelString(cfg.LogLevel); err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "YAML config file (overrides VERACITY_CONFIG)")

	root.AddCommand(c.newValidateCmd())
	root.AddCommand(c.newMergeCmd())
	root.AddCommand(c.newWeightsCmd())
	return root
}

// readSubmission loads a dataset file. A bare JSON array is taken as the
// records of an otherwise empty envelope.
func readSubmission(path string) (model.Submission, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Submission{}, fmt.Errorf("read %s: %w", path, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return model.Submission{}, fmt.Errorf("%s: %w", path, errEmptyInput)
	}
	if raw[0] == '[' {
		return model.Submission{Records: raw}, nil
	}
	var sub model.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return model.Submission{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return sub, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
