package main

import (
	"github.com/spf13/cobra"

	"phasedoc/pkg/agent/middleware/metrics"
)

func newBuildCmd(c *cli) *cobra.Command {
	var (
		sessionID string
		outDir    string
		sets      []string
		stamp     bool
	)

	cmd := &cobra.Command{
		Use:   "build <outline>",
		Short: "Generate a document from a session's answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseSets(sets)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := metrics.ContextWithLabels(cmd.Context(), metrics.Labels{Session: sessionID})

			a, err := c.newApp(ctx, cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			defer a.close(out)

			h, err := a.openSession(ctx, sessionID, "", values)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("timestamp") {
				stamp = a.cfg.Documents.TimestampFilenames
			}
			return buildAndWrite(ctx, c, a, h, args[0], outDir, stamp, out)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", DefaultSessionID, "Session id")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (default from config)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Context value key=value (repeatable), e.g. project_name=Acme")
	cmd.Flags().BoolVar(&stamp, "timestamp", true, "Append a timestamp to the file name")
	return cmd
}
