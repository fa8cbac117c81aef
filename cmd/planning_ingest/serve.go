package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/planning-ingest/internal/config"
	"github.com/jonathan/planning-ingest/internal/server"
	"github.com/jonathan/planning-ingest/internal/server/ratelimit"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Starts the ingestion API. Runs are admitted synchronously and executed in
the background; progress can be streamed with POST /runs/stream.

Requires JWT_SECRET. DATABASE_URL is strongly recommended, since without it
runs live only as long as the process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jwtCfg, err := config.NewJWTConfig()
			if err != nil {
				return err
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

			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			srv, err := server.New(server.Options{
				Port:    a.cfg.Server.Port,
				Driver:  a.driver,
				Store:   a.store,
				JWT:     server.NewJWTService(jwtCfg),
				Metrics: a.metrics,
				Limiter: ratelimit.NewLimiter(ratelimit.DefaultConfig(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst)),
				Logger:  a.logger,
			})
			if err != nil {
				return err
			}
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on (overrides config)")
	return cmd
}
