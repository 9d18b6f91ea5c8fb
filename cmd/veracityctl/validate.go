package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/veracity/internal/domain/schema"
)

func (c *cli) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Schema-check a dataset file",
		Long:  `Validates every record of a dataset file (a submission envelope or a bare array of records) against the token record schema. The first violation is reported with its record index and field.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := readSubmission(args[0])
			if err != nil {
				return err
			}
			v, err := schema.New()
			if err != nil {
				return err
			}
			records, err := v.Validate(sub.Records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records valid\n", args[0], len(records))
			return nil
		},
	}
}
