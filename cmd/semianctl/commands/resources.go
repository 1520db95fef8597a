package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/semian/resilience"
)

func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id...]",
		Short: "Show the shared state of resources",
		Long: `Show the bulkhead and circuit state of resources on this host.

Without arguments every identifier with shared state is listed.`,
		Example: `  # List every resource
  semianctl status

  # One resource, as JSON
  semianctl status mysql_shard_0 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ids := args
			if len(ids) == 0 {
				if ids, err = s.registry.Known(); err != nil {
					return err
				}
			}

			statuses := make([]resilience.Status, 0, len(ids))
			for _, id := range ids {
				st, err := s.registry.Status(id)
				if err != nil {
					if len(args) == 0 && errors.Is(err, resilience.ErrUnknownResource) {
						continue
					}
					return fmt.Errorf("%s: %w", id, err)
				}
				statuses = append(statuses, st)
			}

			if g.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), statuses)
			}
			return printStatuses(cmd, statuses)
		},
	}
}

func printStatuses(cmd *cobra.Command, statuses []resilience.Status) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTIFIER\tSTATE\tTICKETS\tIN USE\tFAILURES\tSUCCESSES\tSINCE")
	for _, st := range statuses {
		since := "-"
		if !st.StateEnteredAt.IsZero() {
			since = st.StateEnteredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			st.Identifier, st.State, st.Tickets, st.InUse,
			st.ConsecutiveFailures, st.ConsecutiveSuccesses, since)
	}
	return tw.Flush()
}

func newResetCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Close a resource's circuit and restore its tickets",
		Long: `Reset closes the circuit, clears the failure and success counts and
returns every ticket. Processes still holding tickets release them normally.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			id := args[0]
			if err := s.registry.Reset(id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			log.Info().Str("resource", id).Msg("resource reset")

			st, err := s.registry.Status(id)
			if err != nil {
				return err
			}
			if g.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			return printStatuses(cmd, []resilience.Status{st})
		},
	}
}

func newDestroyCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <id>",
		Short: "Remove the shared state of a resource",
		Long: `Destroy removes the shared state for an identifier. Processes using it
recreate fresh state on their next call. Destroying an identifier without
state succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			id := args[0]
			if err := s.registry.Destroy(id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			log.Info().Str("resource", id).Msg("resource destroyed")
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", id)
			return nil
		},
	}
}
