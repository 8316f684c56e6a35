package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/primaria-go/internal/domain"
	"github.com/54b3r/primaria-go/internal/logging"
	"github.com/54b3r/primaria-go/internal/orchestrator"
	"github.com/54b3r/primaria-go/internal/tracing"
)

// NewAskCmd constructs the `primaria ask` command, which answers a single
// question for one municipality and prints the answer and its sources.
func NewAskCmd() *cobra.Command {
	var tenantID string
	var tenantDomain string
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question on behalf of a resident",
		Long: `Answer one question for a municipality, selected by id or domain.

The answer goes through the same pipeline as POST /api/chat: response cache,
hybrid retrieval over the municipality's documents and answer generation.
Pass --session to continue a conversation stored in the local database.

Examples:
  primaria ask --tenant pmb "Care este cota standard de TVA?"
  primaria ask --domain www.primariaclujnapoca.ro "Cum obțin un certificat de urbanism?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" && tenantDomain == "" {
				return errors.New("ask: --tenant or --domain is required")
			}

			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			flush, _ := tracing.Install(tracing.ConfigFromEnv())
			defer flush()

			rt, err := openRuntime(ctx, loadedConfig, log, runtimeOptions{hydrate: true, cache: true})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rt.Close()

			orch, _, _, err := rt.orchestrator(ctx)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			resp, err := orch.Ask(ctx, orchestrator.Request{
				Tenant:    domain.Selector{ID: tenantID, Domain: tenantDomain},
				Question:  strings.Join(args, " "),
				SessionID: sessionID,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			printAnswer(resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Municipality id")
	cmd.Flags().StringVar(&tenantDomain, "domain", "", "Municipality domain (alternative to --tenant)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Conversation session id to continue")

	return cmd
}

// printAnswer writes the answer followed by its sources to stdout.
func printAnswer(resp orchestrator.Response) {
	fmt.Fprintln(os.Stdout, resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(os.Stdout, "\nSurse:")
		for _, s := range resp.Sources {
			page := "N/A"
			if s.PageNumber != nil {
				page = fmt.Sprint(*s.PageNumber)
			}
			fmt.Fprintf(os.Stdout, "  - %s, pagina %s\n", s.DocumentName, page)
		}
	}
	fmt.Fprintf(os.Stdout, "\n[%s, %s, state=%s, cached=%t, confidence=%.2f, session=%s]\n",
		resp.Tenant.ID, resp.Tenant.Name, resp.State, resp.Cached, resp.Confidence, resp.SessionID)
}
