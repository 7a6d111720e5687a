package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	appconfig "github.com/opsforge/opsforge/pkg/config"
	"github.com/opsforge/opsforge/pkg/playbook"
	"github.com/opsforge/opsforge/pkg/runner"
	"github.com/opsforge/opsforge/pkg/server"
	"github.com/opsforge/opsforge/pkg/stores"
	"github.com/opsforge/opsforge/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run pipeline over HTTP",
		Long: `Start the HTTP service exposing run execution (aggregate and
streaming), run history, stored credentials, health, and metrics.`,
		Example: `  # Serve with the default configuration
  forge serve

  # Serve with an explicit config file
  forge serve --config /etc/opsforge/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Telemetry.Logging.Level = "debug"
			}

			logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
			if err != nil {
				return err
			}
			logger = logger.NewComponentLogger("serve")
			ctx = logger.WithContext(ctx)

			metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
			if err != nil {
				return err
			}
			tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
				cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
			if err != nil {
				return err
			}
			defer func() {
				if err := tracer.Shutdown(ctx); err != nil {
					log.Warn().Err(err).Msg("failed to shut down tracer")
				}
			}()

			store, err := stores.NewSQLiteStore(cfg.StorePath)
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			catalog, err := playbook.NewCatalog(cfg.PlaybookRoot)
			if err != nil {
				return err
			}
			go func() {
				if err := catalog.Watch(ctx); err != nil {
					log.Warn().Err(err).Msg("playbook watcher stopped")
				}
			}()

			r := runner.New(runner.Options{
				EngineBinary: cfg.EngineBinary,
				ScratchDir:   cfg.ScratchDir,
				KeyDir:       cfg.KeyDir,
				Catalog:      catalog,
				Metrics:      metrics,
				Tracer:       tracer,
			})

			srv := server.New(server.Options{
				Addr:    cfg.ListenAddress,
				Runner:  r,
				Store:   store,
				Catalog: catalog,
				Metrics: metrics,
			})
			logger.Infof("serving on %s with %d playbooks", cfg.ListenAddress, len(catalog.Playbooks()))
			return srv.ListenAndServe(ctx)
		},
	}

	return cmd
}
