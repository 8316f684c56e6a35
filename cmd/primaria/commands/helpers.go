package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/primaria-go/internal/assembler"
	"github.com/54b3r/primaria-go/internal/cache"
	"github.com/54b3r/primaria-go/internal/config"
	"github.com/54b3r/primaria-go/internal/embedder"
	"github.com/54b3r/primaria-go/internal/orchestrator"
	"github.com/54b3r/primaria-go/internal/provider"
	"github.com/54b3r/primaria-go/internal/rag"
	"github.com/54b3r/primaria-go/internal/server"
	"github.com/54b3r/primaria-go/internal/store"
	"github.com/54b3r/primaria-go/internal/tenant"
)

// runtime holds the components shared by serve, ask, ingest and cache.
type runtime struct {
	cfg *config.Config
	log *slog.Logger

	tenants  *tenant.Registry
	embedder rag.Embedder
	// db is the local SQLite database, or nil when disabled.
	db *store.SQLiteStore
	// passages answers the three retrieval lookups.
	passages rag.PassageStore
	// writer receives ingested documents.
	writer rag.PassageWriter
	// cache is nil when the response cache is disabled.
	cache *cache.Cache

	pingers []server.Pinger
	closers []func()
}

// runtimeOptions selects the optional parts of a runtime.
type runtimeOptions struct {
	// hydrate loads persisted passages into the in-memory store.
	hydrate bool
	// cache builds the response cache.
	cache bool
	// startCache starts the cache janitor.
	startCache bool
}

// openRuntime wires the tenant registry, embedder, passage stores and cache
// from cfg. Callers must Close the returned runtime.
func openRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger, opts runtimeOptions) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.tenants, err = tenant.NewRegistry(cfg.Tenants)
	if err != nil {
		return nil, err
	}
	if len(cfg.Tenants) == 0 {
		log.Warn("no municipalities configured, every question will be rejected")
	}

	es := embedder.SettingsFromEnv()
	rt.embedder, err = embedder.New(ctx, es)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	rt.pingers = append(rt.pingers, server.Degradable(server.NewEmbedderPinger(rt.embedder)))
	if es.Backend == embedder.BackendOllama {
		rt.ensureOllama(ctx, es.Endpoint, es.Model)
	}
	log.Info("embedder initialised",
		slog.String("backend", es.Backend),
		slog.String("model", es.Model),
		slog.Int("dimensions", es.Dimensions),
	)

	if err := rt.openDB(); err != nil {
		return nil, err
	}
	if err := rt.openPassages(ctx, es.Dimensions, opts.hydrate); err != nil {
		return nil, err
	}
	if opts.cache && cfg.Cache.Enabled {
		if err := rt.openCache(ctx, opts.startCache); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// openDB opens the local SQLite database unless it is disabled.
func (rt *runtime) openDB() error {
	path := rt.cfg.Store.DBPath
	if path == config.DBDisabled {
		rt.log.Info("local database disabled")
		return nil
	}
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return err
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	rt.db = db
	rt.closers = append(rt.closers, func() { _ = db.Close() })
	rt.pingers = append(rt.pingers, db)
	rt.log.Info("local database opened", slog.String("path", path))
	return nil
}

// openPassages builds the primary passage store, the optional Qdrant
// semantic index and the ingestion writer fan-out.
func (rt *runtime) openPassages(ctx context.Context, dims int, hydrate bool) error {
	var (
		lexical rag.PassageStore
		writers rag.MultiWriter
	)

	switch rt.cfg.Store.Backend {
	case config.BackendPostgres:
		pg, err := rag.NewPostgresStore(ctx, rag.PostgresConfig{
			DSN:           rt.cfg.Store.PostgresDSN,
			Dimensions:    dims,
			CreateSchema:  true,
			EFSearch:      rt.cfg.Store.EFSearch,
			IterativeScan: rt.cfg.Store.IterativeScan,
		})
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() { _ = pg.Close() })
		rt.pingers = append(rt.pingers, pg)
		lexical = pg
		writers = append(writers, pg)
		rt.log.Info("postgres passage store ready")
	default:
		mem := rag.NewMemoryStore()
		if rt.db != nil {
			writers = append(writers, rt.db)
			if hydrate {
				n, err := mem.Load(ctx, rt.db)
				if err != nil {
					return err
				}
				rt.log.Info("passages loaded", slog.Int("documents", n))
			}
		}
		lexical = mem
		writers = append(writers, mem)
	}

	rt.passages = lexical
	if rt.cfg.Store.Semantic == config.SemanticQdrant {
		qcfg := qdrantConfig(dims)
		q, err := rag.NewQdrantStore(ctx, qcfg)
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
		}
		rt.closers = append(rt.closers, func() { _ = q.Close() })
		rt.pingers = append(rt.pingers, q)
		rt.passages = rag.Composite{Lexical: lexical, Semantic: q}
		writers = append(writers, q)
		rt.log.Info("qdrant semantic index ready",
			slog.String("host", qcfg.Host),
			slog.Int("port", qcfg.Port),
			slog.String("collection", qcfg.Collection),
		)
	}
	rt.writer = writers
	return nil
}

// openCache builds the response cache, persisted to SQLite when enabled.
func (rt *runtime) openCache(ctx context.Context, start bool) error {
	var persister cache.Persister
	if rt.cfg.Cache.Persist && rt.db != nil {
		persister = rt.db
	}
	c, err := cache.New(rt.cfg.CacheConfig(), rt.embedder, persister, rt.log)
	if err != nil {
		return err
	}
	rt.cache = c
	rt.closers = append(rt.closers, c.Close)

	n, err := c.Warm(ctx)
	if err != nil {
		rt.log.Warn("cache warm failed", slog.Any("error", err))
	} else if n > 0 {
		rt.log.Info("cache warmed", slog.Int("entries", n))
	}
	if start {
		c.Start()
	}
	return nil
}

// retriever builds the hybrid retriever over the runtime's passage stores.
func (rt *runtime) retriever() (*rag.HybridRetriever, error) {
	return rag.NewHybridRetriever(rt.tenants, rt.passages, rt.embedder, rt.cfg.RetrieverConfig())
}

// orchestrator builds the chat model, the assembler and the orchestrator.
// The model and its provider config are returned for readiness probes.
func (rt *runtime) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, model.BaseChatModel, *provider.Config, error) {
	providerCfg := provider.ConfigFromEnv()
	if providerCfg.Backend == provider.BackendOllama {
		rt.ensureOllama(ctx, providerCfg.Ollama.Host, providerCfg.Ollama.Model)
	}
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	rt.log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	asm, err := assembler.New(chatModel, rt.cfg.AssemblerConfig())
	if err != nil {
		return nil, nil, nil, err
	}
	retriever, err := rt.retriever()
	if err != nil {
		return nil, nil, nil, err
	}

	deps := orchestrator.Deps{
		Tenants:   rt.tenants,
		Retriever: retriever,
		Assembler: asm,
	}
	if rt.cache != nil {
		deps.Cache = rt.cache
	}
	if rt.db != nil {
		deps.History = rt.db
	}
	orch, err := orchestrator.New(deps, rt.cfg.OrchestratorConfig())
	if err != nil {
		return nil, nil, nil, err
	}
	return orch, chatModel, providerCfg, nil
}

// ensureOllama checks that name is installed on the Ollama server at host,
// pulling it when OLLAMA_PULL=true. A failure is logged, not returned: the
// service runs degraded until the model is available.
func (rt *runtime) ensureOllama(ctx context.Context, host, name string) {
	pull := os.Getenv("OLLAMA_PULL") == "true"
	if err := provider.NewOllamaModels(host).Ensure(ctx, rt.log, pull, name); err != nil {
		rt.log.Warn("ollama model unavailable", slog.String("model", name), slog.Any("error", err))
	}
}

// Close releases every component in reverse order of creation.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// requireDB returns an error when the local database is disabled.
func (rt *runtime) requireDB() error {
	if rt.db == nil {
		return errors.New("the local database is disabled (store.db_path: disabled)")
	}
	return nil
}

// qdrantConfig reads the Qdrant connection from the environment, which the
// config loader has already populated from YAML.
func qdrantConfig(dims int) *rag.QdrantConfig {
	return &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "primaria_passages"),
		VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}
}

// getEnvOrDefault returns the value of key or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns key parsed as an int, or fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}
