package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/primaria-go/internal/audit"
	"github.com/54b3r/primaria-go/internal/config"
	"github.com/54b3r/primaria-go/internal/embedder"
	"github.com/54b3r/primaria-go/internal/ingestion"
	"github.com/54b3r/primaria-go/internal/logging"
	"github.com/54b3r/primaria-go/internal/orchestrator"
)

// NewIngestCmd constructs the `primaria ingest` command, which chunks, embeds
// and stores municipal documents for the given municipalities.
func NewIngestCmd() *cobra.Command {
	var files []string
	var urls []string
	var tenantIDs []string
	var category string
	var name string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest municipal documents into the passage stores",
		Long: `Read plain-text documents, split them into overlapping passages, embed them
and write them to the configured passage stores for the given municipalities.

Documents are written to the local database (memory backend) or PostgreSQL,
and to Qdrant when store.semantic is "qdrant". Re-ingesting a document with
the same name replaces it. The category is inferred from the file name
unless --category is set.

When orchestrator.invalidation is "flush_tenant", the persisted response
cache of every listed municipality is cleared after a successful ingestion.

Examples:
  primaria ingest --tenant pmb --file ./docs/codul_fiscal.txt
  primaria ingest --tenant pmb --tenant cluj --url https://example.ro/hcl_taxe_2024.txt
  primaria ingest --tenant pmb --file ./notes.txt --name ghid_urbanism.pdf --category urbanism`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 && len(urls) == 0 {
				return errors.New("ingest: at least one --file or --url is required")
			}
			if len(tenantIDs) == 0 {
				return errors.New("ingest: at least one --tenant is required")
			}
			if name != "" && len(files)+len(urls) > 1 {
				return errors.New("ingest: --name applies to a single document")
			}

			cfg := loadedConfig
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			flushCache := cfg.Orchestrator.Invalidation == orchestrator.InvalidateFlushTenant
			rt, err := openRuntime(ctx, cfg, log, runtimeOptions{cache: flushCache})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer rt.Close()

			if cfg.Store.Backend != config.BackendPostgres {
				if err := rt.requireDB(); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}
			for _, id := range tenantIDs {
				if _, err := rt.tenants.Get(ctx, id); err != nil {
					return fmt.Errorf("ingest: municipality %q: %w", id, err)
				}
			}

			pipeline, err := ingestion.NewPipeline(rt.embedder, rt.writer, cfg.IngestionConfig())
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			sources := make([]ingestion.Source, 0, len(files)+len(urls))
			for _, f := range files {
				sources = append(sources, ingestion.Source{Path: f, Name: name, Category: category, TenantIDs: tenantIDs})
			}
			for _, u := range urls {
				sources = append(sources, ingestion.Source{URL: u, Name: name, Category: category, TenantIDs: tenantIDs})
			}

			log.Info("starting ingestion", slog.Int("sources", len(sources)), slog.Any("tenants", tenantIDs))

			reports, err := pipeline.Ingest(ctx, sources, func(msg string) {
				log.Info(msg)
			})
			for _, r := range reports {
				log.Info("document ingested",
					slog.String("document_id", r.DocumentID),
					slog.String("name", r.Name),
					slog.String("category", r.Category),
					slog.Int("chunks", r.Chunks),
					slog.Int("passages", r.Passages),
				)
			}
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			if rt.cache != nil {
				removed := 0
				for _, id := range tenantIDs {
					removed += rt.cache.Flush(ctx, id)
				}
				log.Info("response cache invalidated", slog.Int("removed", removed))
			}

			for _, id := range tenantIDs {
				audit.LogAdminAction(ctx, log, audit.SourceCLI, "documents.ingested", id, slog.Int("documents", len(reports)))
			}
			log.Info("ingestion complete", slog.Int("documents", len(reports)))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Local text file to ingest (repeatable)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "URL serving plain text to ingest (repeatable)")
	cmd.Flags().StringArrayVarP(&tenantIDs, "tenant", "t", nil, "Municipality id the document is assigned to (repeatable)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Document category (default: inferred from the name)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Document name shown in citations (single document only)")

	return cmd
}
