package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	appconfig "github.com/opsforge/opsforge/pkg/config"
	"github.com/opsforge/opsforge/pkg/engine"
	"github.com/opsforge/opsforge/pkg/playbook"
	"github.com/opsforge/opsforge/pkg/runner"
	"github.com/opsforge/opsforge/pkg/stream"
	sshtransport "github.com/opsforge/opsforge/pkg/transports/ssh"
)

func newRunCommand() *cobra.Command {
	var (
		requestFile    string
		fetchArtifacts bool
		artifactDir    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one automation run",
		Long: `Execute one automation run from a request file and stream its
progress events to stdout as JSON lines.

The request file names the run kind, the target hosts with their
roles and authentication material, and optional extra variables.`,
		Example: `  # Run a mysql deployment
  forge run --request mysql-run.yaml

  # Run and download the generated credential artifacts
  forge run --request k8s-run.yaml --fetch-artifacts --artifact-dir ./artifacts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(requestFile)
			if err != nil {
				return fmt.Errorf("failed to read request file: %w", err)
			}
			var req appconfig.RunRequest
			if err := yaml.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("failed to parse request file: %w", err)
			}
			if err := appconfig.ValidateRequest(req); err != nil {
				return err
			}

			catalog, err := playbook.NewCatalog(cfg.PlaybookRoot)
			if err != nil {
				return err
			}

			r := runner.New(runner.Options{
				EngineBinary: cfg.EngineBinary,
				ScratchDir:   cfg.ScratchDir,
				KeyDir:       cfg.KeyDir,
				Catalog:      catalog,
			})

			encoder := stream.NewEncoder(os.Stdout)
			exec, err := r.Start(cmd.Context(), runner.Request{
				Kind:      req.Kind,
				Hosts:     req.Hosts,
				ExtraVars: req.ExtraVars,
				Subscriber: func(ev engine.ProgressEvent) {
					if err := encoder.Encode(ev); err != nil {
						log.Debug().Err(err).Msg("failed to write event")
					}
				},
			})
			if err != nil {
				return err
			}

			result := exec.Wait()
			if fetchArtifacts && result.Success {
				fetchCredentialArtifacts(cmd, req, result, artifactDir)
			}

			if !result.Success {
				return fmt.Errorf("run %s failed: %s", result.RunID, result.Error)
			}
			log.Info().Str("run_id", result.RunID).Msg("run succeeded")
			return nil
		},
	}

	cmd.Flags().StringVarP(&requestFile, "request", "r", "", "run request file (YAML)")
	cmd.Flags().BoolVar(&fetchArtifacts, "fetch-artifacts", false, "download generated credential artifacts after a successful run")
	cmd.Flags().StringVar(&artifactDir, "artifact-dir", ".", "directory for downloaded artifacts")
	_ = cmd.MarkFlagRequired("request")

	return cmd
}

// fetchCredentialArtifacts downloads the on-host credential file of
// each known service from the first target host. Failures are logged;
// the run outcome is already decided.
func fetchCredentialArtifacts(cmd *cobra.Command, req appconfig.RunRequest, result engine.ExecutionResult, dir string) {
	if len(req.Hosts) == 0 {
		return
	}
	fetcher := sshtransport.NewFetcher(sshtransport.ConfigForHost(req.Hosts[0]))

	for service, fields := range result.Credentials {
		path, ok := fields["path"]
		if !ok {
			continue
		}
		data, err := fetcher.FetchArtifact(cmd.Context(), path)
		if err != nil {
			log.Warn().Err(err).Str("service", service).Str("path", path).
				Msg("failed to fetch credential artifact")
			continue
		}
		ext := filepath.Ext(path)
		if ext == "" {
			ext = ".credentials"
		}
		local := filepath.Join(dir, service+ext)
		if err := os.WriteFile(local, data, 0o600); err != nil {
			log.Warn().Err(err).Str("service", service).Msg("failed to write artifact")
			continue
		}
		log.Info().Str("service", service).Str("file", local).Msg("credential artifact downloaded")
	}
}
