package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"phasedoc/pkg/persistence"
)

func newOutlinesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "outlines",
		Short: "List document outlines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			a, err := c.newApp(cmd.Context(), cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			defer a.close(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTITLE\tSECTIONS\tFILENAME")
			for _, name := range a.outlines.Names() {
				ol, _ := a.outlines.Lookup(name)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", name, ol.Title, len(ol.Sections), ol.FilenameTemplate)
			}
			return tw.Flush()
		},
	}
}

func newPhasesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "List the interview phases in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			a, err := c.newApp(cmd.Context(), cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			defer a.close(out)

			chain, err := a.table.Chain(a.table.Start())
			if err != nil {
				return err
			}
			for i, d := range chain {
				fmt.Fprintf(out, "%d. %s (%s)\n   %s\n", i+1, d.Name(), d.ID, d.Goal)
			}
			return nil
		},
	}
}

func newSessionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored interview sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			a, err := c.newApp(cmd.Context(), cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			defer a.close(out)

			if a.db == nil {
				fmt.Fprintln(out, "Sessions are only kept with the sqlite store.")
				return nil
			}
			sessions, err := persistence.ListSessions(cmd.Context(), a.db)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tPHASE\tSTATUS\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.SessionID, s.CurrentPhase, s.Status, s.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}
