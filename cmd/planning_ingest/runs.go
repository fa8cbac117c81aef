package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/planning-ingest/internal/types"
)

func newRunsCmd(root *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List runs, or show one run with its steps and provenance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{
				configPath: root.configPath,
				verbose:    root.verbose,
				out:        cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				runs, err := a.store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				a.printer.PrintRuns(runs)
				return nil
			}

			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			run, err := a.store.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", runID)
			}
			steps, err := a.store.ListRunSteps(ctx, runID)
			if err != nil {
				return err
			}
			toolRuns, err := a.store.ListToolRuns(ctx, runID)
			if err != nil {
				return err
			}
			doc, err := a.document(ctx, run.DocumentID)
			if err != nil {
				return err
			}
			a.printer.PrintRun(run, doc, steps, false)
			a.printer.PrintToolRuns(toolRuns)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return cmd
}

// document loads the run's document, or nil before it was registered
func (a *app) document(ctx context.Context, id *uuid.UUID) (*types.Document, error) {
	if id == nil {
		return nil, nil
	}
	return a.store.GetDocument(ctx, *id)
}
