package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"adnicnn/tabular"
)

func newConcatCmd() *cobra.Command {
	var out, key string

	cmd := &cobra.Command{
		Use:   "concat <first.csv> <second.csv>",
		Short: "Append the rows of the second CSV to the first and write the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(os.Stderr, "adnicnn: ", 0)

			merged, dups, err := tabular.Concat(args[0], args[1], out, key)
			if err != nil {
				return err
			}
			for _, d := range dups {
				logger.Printf("warning: %s %q appears on rows %v", key, d.Key, d.Rows)
			}
			logger.Printf("wrote %s: %d rows, %d columns", out, merged.Len(), len(merged.Columns))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "csvs/overview_subjects2.csv", "output CSV")
	cmd.Flags().StringVar(&key, "key", "", "column to check for duplicate values (rows are kept)")
	return cmd
}
