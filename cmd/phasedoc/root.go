package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/logx"
	"phasedoc/pkg/version"
)

// DefaultSessionID is used when --session is not given.
const DefaultSessionID = "cli_session"

// cli holds global flags and test hooks shared by every command.
type cli struct {
	// baseClient replaces the configured provider when set (tests).
	baseClient llm.LLMClient
	now        func() time.Time
	projectDir string
	verbose    bool
}

func (c *cli) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "phasedoc",
		Short: "Phased project interview and LLM document builder",
		Long: `phasedoc walks you through a fixed chain of project-definition phases,
asking one generated question at a time, and assembles your answers into
Markdown documents section by section.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logx.SetDebug(c.verbose)
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			logx.Sync()
		},
	}

	root.PersistentFlags().StringVar(&c.projectDir, "project-dir", ".", "Project directory holding .phasedoc/")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newInterviewCmd(c),
		newBuildCmd(c),
		newOutlinesCmd(c),
		newPhasesCmd(c),
		newSessionsCmd(c),
		newHistoryCmd(c),
		newSummarizeCmd(c),
		newSeedCmd(c),
		newSecretsCmd(c),
	)
	return root
}

// parseSets turns repeated key=value flags into a map.
func parseSets(sets []string) (map[string]string, error) {
	out := make(map[string]string, len(sets))
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
