package commands

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newValidateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and check the configuration",
		Long: `Validate loads the configuration with every SEMIAN_* override and secret
reference applied, checks it and prints the options of the selected
environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			resources, err := cfg.Resources()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "environment %s: %d resources\n", cfg.Environment, len(resources))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTIFIER\tTICKETS\tERRORS\tSUCCESSES\tTIMEOUT")
			for _, id := range sortedIDs(resources) {
				rc := resources[id]
				name := id
				if id == cfg.DefaultKey {
					name += " (default)"
				}
				if rc.Disabled {
					fmt.Fprintf(tw, "%s\tdisabled\t\t\t\n", name)
					continue
				}
				o := rc.Options()
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", name, o.Tickets, o.ErrorThreshold, o.SuccessThreshold, o.ErrorTimeout)
			}
			return tw.Flush()
		},
	}
}

func sortedIDs[V any](m map[string]V) []string {
	ids := slices.Collect(maps.Keys(m))
	slices.Sort(ids)
	return ids
}
