// Package proto defines the records exchanged between the interview, storage and document layers.
package proto

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// PhaseCompleted is the phase name reported once the chain has ended.
const PhaseCompleted = "completed"

// Metadata keys.
const (
	KeyPhase = "phase"
)

// Question is a single generated question. It is never mutated after creation.
type Question struct {
	Metadata map[string]string `json:"metadata,omitempty"`
	ID       string            `json:"id"`
	Text     string            `json:"text"`
}

// NewQuestion creates a question with a fresh uuid.
func NewQuestion(text, phase string) *Question {
	return &Question{
		ID:       uuid.NewString(),
		Text:     text,
		Metadata: map[string]string{KeyPhase: phase},
	}
}

// Answer is the user's reply to a question.
type Answer struct {
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	QuestionID string            `json:"question_id"`
	Text       string            `json:"text"`
}

// NewAnswer creates an answer stamped with the current time.
func NewAnswer(questionID, text string) Answer {
	return Answer{
		QuestionID: questionID,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a copy that shares no maps with a.
func (a Answer) Clone() Answer {
	a.Metadata = maps.Clone(a.Metadata)
	return a
}

// PhaseContext is the view of a session handed to prompt assembly.
// It is rebuilt on demand and never persisted.
type PhaseContext struct {
	AdditionalContext map[string]string `json:"additional_context,omitempty"`
	CurrentPhase      string            `json:"current_phase"`
	History           []Answer          `json:"history"`
}

// Clone returns a deep copy of pc.
func (pc *PhaseContext) Clone() *PhaseContext {
	if pc == nil {
		return nil
	}
	out := &PhaseContext{
		CurrentPhase:      pc.CurrentPhase,
		AdditionalContext: maps.Clone(pc.AdditionalContext),
	}
	if pc.History != nil {
		out.History = make([]Answer, len(pc.History))
		for i := range pc.History {
			out.History[i] = pc.History[i].Clone()
		}
	}
	return out
}
