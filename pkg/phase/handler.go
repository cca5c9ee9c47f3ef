package phase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"phasedoc/pkg/agent/middleware/metrics"
	"phasedoc/pkg/answers"
	"phasedoc/pkg/gateway"
	"phasedoc/pkg/logx"
	"phasedoc/pkg/proto"
	"phasedoc/pkg/templates"
)

// ErrNoNextPhase is returned by SeedNextPhase when the current phase is terminal or the interview ended.
var ErrNoNextPhase = errors.New("no next phase")

// Keys the handler adds to a phase's additional context.
const (
	KeyGoal      = "goal"
	KeyPhaseName = "phase_name"
)

// EndedPhaseName is the phase_name reported once the chain has ended.
const EndedPhaseName = "N/A"

// Operation labels attached to LLM calls for metrics.
const (
	OpQuestion = "question"
	OpSummary  = "summary"
	OpSeed     = "seed"
)

// Generator is the part of the gateway the handler needs.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string, requiredKeys []string) (map[string]string, error)
}

var _ Generator = (*gateway.Gateway)(nil)

// Handler walks one session through the phase table.
//
// The current phase is either a table id or empty once the terminal phase has
// been left. All methods are safe for concurrent use; LLM calls run without
// holding the lock.
type Handler struct {
	gen       Generator
	store     answers.Store
	table     *Table
	renderer  *templates.Renderer
	logger    *logx.Logger
	values    map[string]string
	sessionID string
	initial   string
	current   string
	history   []proto.Answer
	mu        sync.Mutex
}

// Option configures a Handler.
type Option func(*Handler)

// WithInitialPhase starts the handler at id instead of the table start.
func WithInitialPhase(id string) Option {
	return func(h *Handler) {
		if id != "" {
			h.initial = id
		}
	}
}

// WithValues seeds the handler-level context, e.g. project_name.
func WithValues(values map[string]string) Option {
	return func(h *Handler) {
		maps.Copy(h.values, values)
	}
}

// NewHandler creates a handler for sessionID and loads its answer history from store.
func NewHandler(ctx context.Context, gen Generator, store answers.Store, table *Table, sessionID string, opts ...Option) (*Handler, error) {
	if sessionID == "" {
		return nil, answers.ErrEmptySession
	}
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}

	h := &Handler{
		gen:       gen,
		store:     store,
		table:     table,
		renderer:  renderer,
		logger:    logx.NewLogger("phase"),
		values:    make(map[string]string),
		sessionID: sessionID,
		initial:   table.Start(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if _, ok := table.Lookup(h.initial); !ok {
		return nil, fmt.Errorf("initial phase %q: %w", h.initial, ErrUnknownPhase)
	}
	h.current = h.initial

	history, err := store.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers for session %s: %w", sessionID, err)
	}
	h.history = history
	return h, nil
}

// SessionID returns the session the handler records answers for.
func (h *Handler) SessionID() string {
	return h.sessionID
}

// CurrentPhase returns the current phase id, or "" once ended.
func (h *Handler) CurrentPhase() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Ended reports whether the terminal phase has been left.
func (h *Handler) Ended() bool {
	return h.CurrentPhase() == ""
}

// SetContext sets a handler-level value visible to every prompt and document build.
func (h *Handler) SetContext(key, value string) {
	h.mu.Lock()
	h.values[key] = value
	h.mu.Unlock()
}

// Values returns a copy of the handler-level context.
func (h *Handler) Values() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.values)
}

// History returns a copy of the answers recorded so far.
func (h *Handler) History() []proto.Answer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneHistory(h.history)
}

// GetNextQuestion asks the model for the next question of the current phase.
// It returns nil without error when the interview has ended or the current
// phase is not in the table.
func (h *Handler) GetNextQuestion(ctx context.Context) (*proto.Question, error) {
	h.mu.Lock()
	phaseID := h.current
	if phaseID == "" {
		h.mu.Unlock()
		h.logger.Info("No active phase for session %s; nothing to ask", h.sessionID)
		return nil, nil //nolint:nilnil // nil question means nothing to ask
	}
	desc, ok := h.table.Lookup(phaseID)
	if !ok {
		h.mu.Unlock()
		h.logger.Warn("Phase definition for '%s' not found", phaseID)
		return nil, nil //nolint:nilnil // unknown phase is reported as nothing to ask
	}
	additional := h.phaseValues(&desc)
	history := cloneHistory(h.history)
	h.mu.Unlock()

	additionalJSON, err := json.Marshal(additional)
	if err != nil {
		return nil, fmt.Errorf("failed to encode phase context: %w", err)
	}
	prompt, err := h.renderer.Render(templates.NextQuestionTemplate, &templates.TemplateData{
		PhaseID:           phaseID,
		History:           history,
		AdditionalContext: string(additionalJSON),
	})
	if err != nil {
		return nil, err
	}

	text, err := h.gen.Generate(h.labels(ctx, phaseID, OpQuestion), prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate question for phase %s: %w", phaseID, err)
	}
	return proto.NewQuestion(strings.TrimSpace(text), phaseID), nil
}

// SubmitAnswer records the answer durably and then in memory, so the next
// question always sees it.
func (h *Handler) SubmitAnswer(ctx context.Context, questionID, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := proto.NewAnswer(questionID, text)
	if h.current != "" {
		a.Metadata = map[string]string{proto.KeyPhase: h.current}
	}
	if err := h.store.Append(ctx, h.sessionID, a); err != nil {
		return fmt.Errorf("failed to store answer: %w", err)
	}
	h.history = append(h.history, a)
	return nil
}

// AdvanceToNextPhase moves to the successor of the current phase.
//
// Leaving the terminal phase ends the interview and returns false. A successor
// that is not in the table leaves the phase unchanged and returns false. Once
// ended every call returns false.
func (h *Handler) AdvanceToNextPhase() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == "" {
		return false
	}
	desc, ok := h.table.Lookup(h.current)
	if !ok {
		h.logger.Warn("Cannot advance: phase '%s' not found", h.current)
		return false
	}
	if desc.Terminal() {
		h.logger.Info("End of phase progression after '%s'", h.current)
		h.current = ""
		return false
	}
	if !h.table.IsValidTransition(h.current, desc.Next) {
		h.logger.Warn("Next phase '%s' not found; staying in '%s'", desc.Next, h.current)
		return false
	}

	h.current = desc.Next
	h.logger.Info("Advanced to phase: %s", desc.Next)
	return true
}

// Reset clears the session's answers and returns to the initial phase.
func (h *Handler) Reset(ctx context.Context) error {
	return h.ResetTo(ctx, h.initial)
}

// ResetTo clears the session's answers and restarts at phaseID, which also
// becomes the phase later resets return to.
func (h *Handler) ResetTo(ctx context.Context, phaseID string) error {
	if _, ok := h.table.Lookup(phaseID); !ok {
		return fmt.Errorf("%q: %w", phaseID, ErrUnknownPhase)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.Clear(ctx, h.sessionID); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", h.sessionID, err)
	}
	h.history = nil
	h.initial = phaseID
	h.current = phaseID
	return nil
}

// GetFullContext returns a snapshot of the session for document builds.
// After the interview ends the phase is reported as proto.PhaseCompleted.
func (h *Handler) GetFullContext() *proto.PhaseContext {
	h.mu.Lock()
	defer h.mu.Unlock()

	pc := &proto.PhaseContext{
		CurrentPhase: h.current,
		History:      cloneHistory(h.history),
	}
	if desc, ok := h.table.Lookup(h.current); ok {
		pc.AdditionalContext = h.phaseValues(&desc)
		return pc
	}

	pc.AdditionalContext = maps.Clone(h.values)
	pc.AdditionalContext[KeyGoal] = DefaultGoal
	if h.current == "" {
		pc.CurrentPhase = proto.PhaseCompleted
		pc.AdditionalContext[KeyPhaseName] = EndedPhaseName
	} else {
		pc.AdditionalContext[KeyPhaseName] = h.current
	}
	return pc
}

// Summarize asks the model for a prose summary of the session so far.
func (h *Handler) Summarize(ctx context.Context) (string, error) {
	h.mu.Lock()
	phaseID := h.current
	data, err := h.phaseDataJSON()
	h.mu.Unlock()
	if err != nil {
		return "", err
	}

	prompt, err := h.renderer.Render(templates.SolutionSummaryTemplate, &templates.TemplateData{PhaseDataJSON: data})
	if err != nil {
		return "", err
	}
	return h.gen.Generate(h.labels(ctx, phaseID, OpSummary), prompt)
}

// SeedNextPhase pre-fills the next phase's fields from the current session.
//
// Generated values are merged into the handler-level context and returned.
// If the reply was not valid JSON nothing is merged and the returned map
// carries the per-key errors and gateway.RawResponseKey.
func (h *Handler) SeedNextPhase(ctx context.Context) (map[string]string, error) {
	h.mu.Lock()
	phaseID := h.current
	desc, ok := h.table.Lookup(phaseID)
	if !ok || desc.Terminal() {
		h.mu.Unlock()
		return nil, ErrNoNextPhase
	}
	next, ok := h.table.Lookup(desc.Next)
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("next phase %q: %w", desc.Next, ErrUnknownPhase)
	}
	data, err := h.phaseDataJSON()
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if len(next.Fields) == 0 {
		return map[string]string{}, nil
	}
	fields, err := json.Marshal(next.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	prompt, err := h.renderer.Render(templates.SeedPhaseTemplate, &templates.TemplateData{
		PhaseDataJSON: data,
		FieldsJSON:    string(fields),
	})
	if err != nil {
		return nil, err
	}

	seeded, err := h.gen.GenerateJSON(h.labels(ctx, phaseID, OpSeed), prompt, next.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to seed phase %s: %w", next.ID, err)
	}
	if _, failed := seeded[gateway.RawResponseKey]; failed {
		h.logger.Warn("Seeding %s returned invalid JSON; context unchanged", next.ID)
		return seeded, nil
	}

	h.mu.Lock()
	maps.Copy(h.values, seeded)
	h.mu.Unlock()
	return seeded, nil
}

// phaseValues merges the phase's goal and name over the handler-level context.
// Caller holds h.mu.
func (h *Handler) phaseValues(desc *Descriptor) map[string]string {
	out := maps.Clone(h.values)
	goal := desc.Goal
	if goal == "" {
		goal = DefaultGoal
	}
	out[KeyGoal] = goal
	out[KeyPhaseName] = desc.Name()
	return out
}

// phaseDataJSON renders the session state handed to the summary and seed prompts.
// Caller holds h.mu.
func (h *Handler) phaseDataJSON() (string, error) {
	type qa struct {
		QuestionID string `json:"question_id"`
		Answer     string `json:"answer"`
	}
	data := struct {
		Values  map[string]string `json:"context,omitempty"`
		Phase   string            `json:"phase"`
		Answers []qa              `json:"answers"`
	}{
		Values:  h.values,
		Phase:   h.current,
		Answers: make([]qa, len(h.history)),
	}
	if data.Phase == "" {
		data.Phase = proto.PhaseCompleted
	}
	for i := range h.history {
		data.Answers[i] = qa{QuestionID: h.history[i].QuestionID, Answer: h.history[i].Text}
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode phase data: %w", err)
	}
	return string(b), nil
}

func (h *Handler) labels(ctx context.Context, phaseID, op string) context.Context {
	return metrics.ContextWithLabels(ctx, metrics.Labels{Session: h.sessionID, Phase: phaseID, Operation: op})
}

func cloneHistory(in []proto.Answer) []proto.Answer {
	out := make([]proto.Answer, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
