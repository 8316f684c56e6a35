// Package commands defines all Cobra CLI commands for the primaria binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/primaria-go/internal/audit"
	"github.com/54b3r/primaria-go/internal/config"
	"github.com/54b3r/primaria-go/internal/logging"
)

var (
	// configPath is the --config flag.
	configPath string
	// loadedConfig is resolved once by PersistentPreRunE and shared by every
	// subcommand.
	loadedConfig *config.Config
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "primaria",
		Short: "Primăria: a multi-tenant assistant for Romanian municipalities",
		Long: `Primăria answers residents' questions about local taxes, permits and
municipal regulations from each municipality's own documents.

Questions are answered by hybrid retrieval (keyword, semantic and full-text)
over the municipality's documents, a semantic response cache and an LLM that
cites the documents it used.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.primaria/config.yaml).
See 'primaria --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Real environment variables win over the file.
			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfig = cfg

			audit.LogCommandStart(cmd.Context(), log, cmd.CommandPath(), path,
				slog.Int("municipalities", len(cfg.Tenants)),
				slog.Any("store_backend", cfg.Store.Backend),
				slog.Any("semantic_index", cfg.Store.Semantic),
				slog.Bool("cache_enabled", cfg.Cache.Enabled),
			)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.primaria/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewCacheCmd(),
		NewTenantsCmd(),
		NewVersionCmd(),
	)

	return root
}
