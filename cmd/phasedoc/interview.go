package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"phasedoc/pkg/document"
	"phasedoc/pkg/eventlog"
	"phasedoc/pkg/phase"
	"phasedoc/pkg/proto"
)

func newInterviewCmd(c *cli) *cobra.Command {
	var (
		sessionID string
		phaseID   string
		outline   string
		sets      []string
		reset     bool
	)

	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Answer generated questions phase by phase, then optionally build a document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values, err := parseSets(sets)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := c.newApp(ctx, cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			defer a.close(out)

			h, err := a.openSession(ctx, sessionID, phaseID, values)
			if err != nil {
				return err
			}
			if reset {
				if err := a.resetSession(ctx, h, phaseID); err != nil {
					return err
				}
			}

			fmt.Fprintf(out, "Welcome! Session: %s\n", h.SessionID())
			if err := interview(ctx, a, h, out); err != nil {
				return err
			}

			answer, ok := a.input.ask(out, fmt.Sprintf("\nDo you want to generate the '%s' document now? (yes/no): ", outline))
			if !ok || !isYes(answer) {
				fmt.Fprintln(out, "Skipping document generation.")
				return nil
			}
			return buildAndWrite(ctx, c, a, h, outline, "", a.cfg.Documents.TimestampFilenames, out)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", DefaultSessionID, "Session id")
	cmd.Flags().StringVar(&phaseID, "phase", "", "Start at this phase instead of resuming")
	cmd.Flags().StringVar(&outline, "outline", "project_proposal", "Outline offered at the end")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Context value key=value (repeatable)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear the session's answers first")
	return cmd
}

// interview runs the question loop until the chain ends, input runs out or the user quits.
func interview(ctx context.Context, a *app, h *phase.Handler, out io.Writer) error {
	fmt.Fprintln(out, "\n--- Starting Interaction ---")
	defer fmt.Fprintln(out, "\n--- Interaction Ended ---")

	for !h.Ended() {
		if desc, ok := a.table.Lookup(h.CurrentPhase()); ok {
			fmt.Fprintf(out, "\nPhase: %s\nGoal: %s\n", desc.Name(), desc.Goal)
		}

		q, err := h.GetNextQuestion(ctx)
		if err != nil {
			return err
		}
		if q == nil {
			answer, ok := a.input.ask(out, "No more questions. Advance to next phase? (yes/no): ")
			if !ok || !isYes(answer) {
				return nil
			}
			if !advance(ctx, a, h, out) {
				return nil
			}
			continue
		}

		a.record(h, eventlog.Event{Kind: eventlog.KindQuestion, QuestionID: q.ID, Text: q.Text})
		fmt.Fprintf(out, "\nQuestion: %s\n", q.Text)
		text, ok := a.input.ask(out, "Your answer: ")
		if !ok {
			return nil
		}
		if err := h.SubmitAnswer(ctx, q.ID, text); err != nil {
			return err
		}
		a.record(h, eventlog.Event{Kind: eventlog.KindAnswer, QuestionID: q.ID, Text: text})
		fmt.Fprintln(out, "Answer recorded.")

		choice, ok := a.input.ask(out, "Try to advance to next phase? (yes/no/quit): ")
		switch {
		case !ok || strings.EqualFold(choice, "quit"):
			return nil
		case isYes(choice):
			advance(ctx, a, h, out)
		}
	}
	return nil
}

// advance moves the handler on and persists the new phase.
func advance(ctx context.Context, a *app, h *phase.Handler, out io.Writer) bool {
	moved := h.AdvanceToNextPhase()
	if err := a.savePhase(ctx, h); err != nil {
		a.logger.Warn("Failed to save session phase: %v", err)
	}
	if moved || h.Ended() {
		ev := eventlog.Event{Kind: eventlog.KindAdvance}
		if h.Ended() {
			ev.Phase = proto.PhaseCompleted
		}
		a.record(h, ev)
	}
	switch {
	case moved:
		return true
	case h.Ended():
		fmt.Fprintln(out, "No more phases. Interaction will end here.")
	default:
		fmt.Fprintln(out, "Could not advance to the next phase.")
	}
	return false
}

// buildAndWrite builds outline from the handler's context and writes it to disk.
func buildAndWrite(ctx context.Context, c *cli, a *app, h *phase.Handler, outline, dir string, stamp bool, out io.Writer) error {
	b, err := a.newBuilder()
	if err != nil {
		return err
	}
	pc := h.GetFullContext()
	if len(pc.History) == 0 {
		fmt.Fprintln(out, "No answers were recorded. Document generation might be minimal.")
	}

	fmt.Fprintf(out, "Generating document '%s'...\n", outline)
	doc, err := b.Build(ctx, outline, pc)
	if errors.Is(err, document.ErrOutlineNotFound) {
		return fmt.Errorf("%w (available: %s)", err, strings.Join(a.outlines.Names(), ", "))
	}
	if err != nil {
		return err
	}

	path, err := a.writeDocument(c, doc, dir, stamp)
	if err != nil {
		return err
	}
	a.record(h, eventlog.Event{Kind: eventlog.KindDocument, Text: path})
	for _, s := range doc.Failed() {
		fmt.Fprintf(out, "Warning: section '%s' failed: %s\n", s.Title, s.Error)
	}
	fmt.Fprintf(out, "Document written to %s\n", path)
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}
