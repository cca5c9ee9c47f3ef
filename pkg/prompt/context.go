package prompt

import (
	"fmt"
	"strings"

	"phasedoc/pkg/proto"
)

// Keys seeded by AssembleContext before any overlay.
const (
	KeyDocumentTitle      = "document_title"
	KeyUserAnswersSummary = "user_answers_summary"
	KeyCurrentPhaseName   = "current_phase_name"
)

// NoAnswersSummary is the summary used when the history is empty.
const NoAnswersSummary = "No answers provided yet."

// CommonTemplateKeys are backfilled by AssembleContext when absent so the
// built-in outlines always receive a value.
//
//nolint:gochecknoglobals // read-only vocabulary
var CommonTemplateKeys = []string{
	"project_name", "problem_statement", "solution_overview",
	"user_problem_description", "user_impact_details",
	"user_solution_ideas", "user_solution_mechanism", "user_key_features",
	"user_timeline_input", "user_milestones",
	"user_budget_info", "user_cost_items",
	"user_value_prop", "user_next_steps",
	"meeting_topic", "meeting_date", "attendees_list", "apologies_list",
	"agenda_items", "current_item_title", "discussion_summary_for_item", "decisions_for_item",
	"action_description", "assignee", "deadline",
	"next_meeting_date", "next_meeting_time", "next_meeting_location",
}

// MissingValue is the backfill text for a well-known key with no data.
func MissingValue(key string) string {
	return fmt.Sprintf("Data for '%s' (not found in context)", key)
}

// SummarizeAnswers renders history as one "- Q: (ID id) A: text" line per answer.
func SummarizeAnswers(history []proto.Answer) string {
	if len(history) == 0 {
		return NoAnswersSummary
	}
	lines := make([]string, len(history))
	for i := range history {
		lines[i] = fmt.Sprintf("- Q: (ID %s) A: %s", history[i].QuestionID, history[i].Text)
	}
	return strings.Join(lines, "\n")
}

// AssembleContext flattens pc into the value map used for template filling.
//
// The seeded keys come first, then every AdditionalContext entry overrides
// them, then any key from CommonTemplateKeys or vocabulary that is still
// missing gets MissingValue. A nil pc is treated as an empty context.
func AssembleContext(title string, pc *proto.PhaseContext, vocabulary ...string) map[string]string {
	if pc == nil {
		pc = &proto.PhaseContext{}
	}

	values := make(map[string]string, len(CommonTemplateKeys)+len(pc.AdditionalContext)+3)
	values[KeyDocumentTitle] = title
	values[KeyUserAnswersSummary] = SummarizeAnswers(pc.History)
	values[KeyCurrentPhaseName] = pc.CurrentPhase

	for k, v := range pc.AdditionalContext {
		values[k] = v
	}

	backfill := func(keys []string) {
		for _, k := range keys {
			if _, ok := values[k]; !ok {
				values[k] = MissingValue(k)
			}
		}
	}
	backfill(CommonTemplateKeys)
	backfill(vocabulary)

	return values
}
