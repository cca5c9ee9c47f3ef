package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"phasedoc/pkg/config"
	"phasedoc/pkg/eventlog"
	"phasedoc/pkg/gateway"
	"phasedoc/pkg/phase"
)

func newSummarizeCmd(c *cli) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize a session's answers as a proposed solution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			a, err := c.newApp(cmd.Context(), cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			defer a.close(out)

			h, err := a.openSession(cmd.Context(), sessionID, "", nil)
			if err != nil {
				return err
			}
			summary, err := h.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", DefaultSessionID, "Session id")
	return cmd
}

func newSeedCmd(c *cli) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Pre-fill the next phase's fields from the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			a, err := c.newApp(cmd.Context(), cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			defer a.close(out)

			h, err := a.openSession(cmd.Context(), sessionID, "", nil)
			if err != nil {
				return err
			}
			seeded, err := h.SeedNextPhase(cmd.Context())
			if errors.Is(err, phase.ErrNoNextPhase) {
				fmt.Fprintln(out, "The current phase has no successor; nothing to seed.")
				return nil
			}
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(seeded))
			for k := range seeded {
				if k != gateway.RawResponseKey {
					keys = append(keys, k)
				}
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s: %s\n", k, seeded[k])
			}
			if raw, failed := seeded[gateway.RawResponseKey]; failed {
				fmt.Fprintf(out, "\nThe model did not return valid JSON. Raw reply:\n%s\n", raw)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", DefaultSessionID, "Session id")
	return cmd
}

func newHistoryCmd(c *cli) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recorded questions, answers and phase changes of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			a, err := c.newApp(cmd.Context(), cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			defer a.close(out)

			if a.events == nil {
				fmt.Fprintln(out, "The event transcript is disabled (events.enabled: false).")
				return nil
			}
			events, err := eventlog.SessionEvents(config.ResolvePath(a.cfg.Events.Dir), sessionID)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintf(out, "No events recorded for session %s.\n", sessionID)
				return nil
			}
			for _, ev := range events {
				line := fmt.Sprintf("%s  %-8s  %s", ev.Time.Format("2006-01-02 15:04:05"), ev.Kind, ev.Phase)
				if ev.Text != "" {
					line += ": " + strings.ReplaceAll(ev.Text, "\n", " ")
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", DefaultSessionID, "Session id")
	return cmd
}
