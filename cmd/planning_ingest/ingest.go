package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jonathan/planning-ingest/internal/fetch"
	"github.com/jonathan/planning-ingest/internal/pipeline"
	"github.com/jonathan/planning-ingest/internal/types"
)

type ingestFlags struct {
	authority    string
	planCycle    string
	url          string
	title        string
	documentType string
	siteAddress  string
	targetCRS    string
	dryRun       bool
	concurrency  int
}

func newIngestCmd(root *rootFlags) *cobra.Command {
	f := &ingestFlags{}
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest planning documents",
		Long: `Runs every ingestion stage over one or more documents.

Several files are ingested under one batch, at most --concurrency at a time.
A document already known for the authority and plan cycle is reused, and
only its incomplete stages run.`,
		Example: `  planning_ingest ingest --authority camden local-plan.pdf
  planning_ingest ingest --authority camden --url https://example.org/plan.pdf
  planning_ingest ingest --authority camden --dry-run policies/*.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, root, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.authority, "authority", "a", "", "Planning authority the documents belong to (required)")
	cmd.Flags().StringVar(&f.planCycle, "plan-cycle", "", "Plan cycle, for example 2024-2039")
	cmd.Flags().StringVar(&f.url, "url", "", "Fetch the document from a URL instead of a file")
	cmd.Flags().StringVar(&f.title, "title", "", "Document title")
	cmd.Flags().StringVar(&f.documentType, "document-type", "", "Document type, for example local_plan or application")
	cmd.Flags().StringVar(&f.siteAddress, "site-address", "", "Site address for application documents")
	cmd.Flags().StringVar(&f.targetCRS, "target-crs", "", "Coordinate reference system for georeferenced output")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Use an in-memory store and offline model stand-ins")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "c", 0, "Documents in flight for batches (default from config)")
	_ = cmd.MarkFlagRequired("authority")
	return cmd
}

func runIngest(cmd *cobra.Command, root *rootFlags, f *ingestFlags, args []string) error {
	if f.url == "" && len(args) == 0 {
		return fmt.Errorf("provide at least one file or --url")
	}
	if f.url != "" && len(args) > 0 {
		return fmt.Errorf("--url cannot be combined with files")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{
		configPath: root.configPath,
		verbose:    root.verbose,
		dryRun:     f.dryRun,
		out:        cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer a.Close()

	meta := types.DocumentMetadata{
		Title:        f.title,
		DocumentType: f.documentType,
		SiteAddress:  f.siteAddress,
		TargetCRS:    f.targetCRS,
	}

	if f.url != "" {
		res, err := fetch.URL(ctx, f.url, nil)
		if err != nil {
			return err
		}
		result, err := a.driver.Run(ctx, pipeline.RunRequest{
			Authority:   f.authority,
			PlanCycle:   f.planCycle,
			Source:      "url",
			Filename:    res.Filename,
			ContentType: res.ContentType,
			Data:        res.Body,
			Metadata:    meta,
		})
		return a.report(result, err)
	}

	reqs := make([]pipeline.RunRequest, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		reqs = append(reqs, pipeline.RunRequest{
			Authority:   f.authority,
			PlanCycle:   f.planCycle,
			Source:      "upload",
			Filename:    filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Data:        data,
			Metadata:    meta,
		})
	}

	if len(reqs) == 1 {
		result, err := a.driver.Run(ctx, reqs[0])
		return a.report(result, err)
	}

	limit := f.concurrency
	if limit <= 0 {
		limit = a.cfg.Pipeline.BatchConcurrency
	}
	results, batchErr := a.driver.RunBatch(ctx, f.authority, "upload", reqs, limit)
	var failed int
	for _, r := range results {
		if r == nil {
			failed++
			continue
		}
		a.printer.PrintRun(r.Run, r.Document, r.Steps, r.Reused)
		if r.Run.Status == types.RunStatusError {
			failed++
		}
	}
	if batchErr != nil {
		return batchErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(reqs))
	}
	return nil
}

// report prints a finished run and converts an error status into an error
func (a *app) report(result *pipeline.Result, err error) error {
	if result != nil {
		a.printer.PrintRun(result.Run, result.Document, result.Steps, result.Reused)
	}
	if err != nil {
		return err
	}
	if result.Run.Status == types.RunStatusError {
		msg := "run failed"
		if result.Run.ErrorMessage != nil {
			msg = *result.Run.ErrorMessage
		}
		return fmt.Errorf("run %s: %s", result.Run.ID, msg)
	}
	return nil
}
