package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newResumeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a run from its first incomplete stage",
		Long: `Re-executes every stage of a run that has not completed. Completed stages
are left untouched; stages that failed or were interrupted run again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			a, err := newApp(cmd.Context(), appOptions{
				configPath: root.configPath,
				verbose:    root.verbose,
				out:        cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.driver.Resume(cmd.Context(), runID, nil)
			return a.report(result, err)
		},
	}
}
