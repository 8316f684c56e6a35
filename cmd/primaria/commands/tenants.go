package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/primaria-go/internal/tenant"
)

// NewTenantsCmd constructs the `primaria tenants` command, which lists the
// configured municipalities.
func NewTenantsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "List the configured municipalities",
		Long: `List the municipalities from the tenants section of the config file.

By default only active municipalities are shown, as served by
GET /api/municipalities. Pass --all to include inactive ones.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := tenant.NewRegistry(loadedConfig.Tenants)
			if err != nil {
				return fmt.Errorf("tenants: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDOMAIN\tACTIVE")
			if all {
				for _, t := range loadedConfig.Tenants {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", t.ID, t.Name, t.Domain, t.Active)
				}
			} else {
				for _, t := range reg.List(cmd.Context()) {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", t.ID, t.Name, t.Domain, t.Active)
				}
			}
			return w.Flush() //nolint:wrapcheck // CLI entry point
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include inactive municipalities")

	return cmd
}
