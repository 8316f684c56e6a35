package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/primaria-go/internal/logging"
	"github.com/54b3r/primaria-go/internal/server"
	"github.com/54b3r/primaria-go/internal/tracing"
)

// llmProbeTTL is how long a chat model readiness result is reused.
const llmProbeTTL = 30 * time.Second

// NewServeCmd constructs the `primaria serve` command, which starts the HTTP
// API used by the municipality chat widgets.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Primăria HTTP API",
		Long: `Start the Primăria HTTP API.

Public routes:
  POST /api/chat                ask a question for one municipality
  GET  /api/municipalities      list the active municipalities
  GET  /api/health, /api/ready  liveness and readiness probes
  GET  /metrics                 Prometheus metrics

Admin routes (Bearer PRIMARIA_API_KEY):
  GET  /api/cache/stats         response cache statistics
  POST /api/cache/clear         flush the cache, globally or per municipality
  POST /api/documents/changed   apply the invalidation policy after re-ingestion

Examples:
  primaria serve
  primaria serve --port 9090
  MODEL_PROVIDER=azure primaria serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := loadedConfig
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Langfuse tracing is opt-in and a no-op when keys are absent.
			tcfg := tracing.ConfigFromEnv()
			flush, traced := tracing.Install(tcfg)
			defer flush()
			if traced {
				log.Info("langfuse tracing enabled",
					slog.String("host", tcfg.Host),
					slog.Float64("sample_rate", tcfg.SampleRate))
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE keys not set"))
			}

			rt, err := openRuntime(ctx, cfg, log, runtimeOptions{hydrate: true, cache: true, startCache: true})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			orch, chatModel, providerCfg, err := rt.orchestrator(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := append([]server.Pinger{
				server.Degradable(server.Cached(server.NewLLMPinger(chatModel, providerCfg.HealthCheck(), string(providerCfg.Backend)), llmProbeTTL)),
			}, rt.pingers...)
			logReadiness(ctx, log, pingers)

			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			deps := server.Deps{Orchestrator: orch, Tenants: rt.tenants, Cache: rt.cache}
			srv, err := server.New(deps, &server.Config{
				Host:       cfg.Server.Host,
				Port:       cfg.Server.Port,
				Logger:     log,
				Pingers:    pingers,
				RateLimit:  cfg.Server.RateLimit,
				RateBurst:  cfg.Server.RateBurst,
				TrustProxy: cfg.Server.TrustProxy,
				APIKey:     cfg.Server.APIKey,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides server.port)")

	return cmd
}

// logReadiness probes every dependency once at startup. Failures are logged
// and do not stop the server; GET /api/ready keeps reporting them.
func logReadiness(ctx context.Context, log *slog.Logger, pingers []server.Pinger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.NewMultiPinger(pingers...).Ping(ctx); err != nil {
		log.Warn("startup readiness check failed", slog.Any("error", err))
		return
	}
	log.Info("startup readiness check passed", slog.Int("dependencies", len(pingers)))
}
