package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/primaria-go/internal/audit"
	"github.com/54b3r/primaria-go/internal/logging"
)

// NewCacheCmd constructs the `primaria cache` command group, which inspects
// and clears the persisted response cache.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persisted response cache",
		Long: `Inspect or clear the response cache persisted in the local database.

These commands operate on the database directly. A running server keeps its
own in-memory copy: use POST /api/cache/clear to clear a live server.`,
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print statistics of the persisted response cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openCacheRuntime(cmd.Context())
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			defer rt.Close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rt.cache.Stats()) //nolint:wrapcheck // CLI entry point
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the persisted response cache",
		Long: `Clear the persisted response cache for one municipality, or for all of
them when --tenant is omitted.

Examples:
  primaria cache clear
  primaria cache clear --tenant pmb`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openCacheRuntime(cmd.Context())
			if err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			defer rt.Close()

			ctx := logging.WithLogger(cmd.Context(), rt.log)
			var removed int
			if tenantID == "" {
				removed = rt.cache.FlushAll(ctx)
			} else {
				if _, err := rt.tenants.Get(ctx, tenantID); err != nil {
					return fmt.Errorf("cache clear: municipality %q: %w", tenantID, err)
				}
				removed = rt.cache.Flush(ctx, tenantID)
			}
			audit.LogAdminAction(ctx, rt.log, audit.SourceCLI, "cache.clear", tenantID, slog.Int("removed", removed))
			fmt.Fprintf(os.Stdout, "removed %d cached answers\n", removed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Municipality id (default: all)")

	return cmd
}

// openCacheRuntime opens a runtime whose cache is warmed from the local
// database.
func openCacheRuntime(ctx context.Context) (*runtime, error) {
	cfg := loadedConfig
	if !cfg.Cache.Enabled {
		return nil, errors.New("the response cache is disabled (cache.enabled: false)")
	}
	if !cfg.Cache.Persist {
		return nil, errors.New("the response cache is not persisted (cache.persist: false)")
	}

	log := logging.New()
	rt, err := openRuntime(logging.WithLogger(ctx, log), cfg, log, runtimeOptions{cache: true})
	if err != nil {
		return nil, err
	}
	if err := rt.requireDB(); err != nil {
		rt.Close()
		return nil, err
	}
	log.Debug("cache runtime ready", slog.Int("entries", rt.cache.Len()))
	return rt, nil
}
