// File: cmd/providers.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newProvidersCmd creates the `providers` command, which lists the effective profiles.
func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Lists the provider profiles with their effective timing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := cfg.NewRegistry()
			if err != nil {
				return fmt.Errorf("failed to build provider registry: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tNAME\tSTART URL\tPOLL\tMAX WAIT\tMIN LENGTH")
			for _, v := range registry.Variants() {
				p, err := registry.Lookup(v)
				if err != nil {
					return err
				}
				t := p.Timing()
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%d\n", v, p.Name(), p.StartURL(), t.PollInterval, t.MaxWait, t.MinResponseLength)
			}
			return w.Flush()
		},
	}
}
