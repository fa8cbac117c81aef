// Package main provides the planning-ingest command line and API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootFlags are shared by every subcommand
type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "planning_ingest",
		Short: "Planning document ingestion engine",
		Long: `Ingests planning documents and GIS layers into a knowledge graph.

Each document goes through parse, canonical load, segmentation, vectorization,
georeference, structural extraction, link discovery, embedding and graph
assembly. Every stage is idempotent, so failed runs can be resumed.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file (environment variables override it)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Print stage progress and debug logs")

	root.AddCommand(
		newIngestCmd(flags),
		newResumeCmd(flags),
		newGISCmd(flags),
		newRunsCmd(flags),
		newMigrateCmd(flags),
		newServeCmd(flags),
		newTokenCmd(),
	)
	return root
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
