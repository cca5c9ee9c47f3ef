// Package phase defines the interview phase chain and the handler that walks it.
package phase

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPhase is returned when a phase id is not in the table.
var ErrUnknownPhase = errors.New("unknown phase")

// DefaultGoal is reported for phases that declare no goal.
const DefaultGoal = "No specific goal defined for this phase."

// Descriptor is one node of the phase chain. An empty Next marks the terminal phase.
type Descriptor struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"name"`
	Goal        string   `yaml:"goal,omitempty"`
	Next        string   `yaml:"next,omitempty"`
	Fields      []string `yaml:"fields,omitempty"`
}

// Terminal reports whether d has no successor.
func (d *Descriptor) Terminal() bool {
	return d.Next == ""
}

// Name returns the display name, falling back to the id.
func (d *Descriptor) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}

// Table is the read-only phase chain. Declaration order is kept for listing.
type Table struct {
	phases map[string]Descriptor
	start  string
	order  []string
}

type tableFile struct {
	Start  string       `yaml:"start,omitempty"`
	Phases []Descriptor `yaml:"phases"`
}

// NewTable builds a table from descriptors in declaration order. The first
// descriptor is the start phase. The table is not validated.
func NewTable(descs ...Descriptor) *Table {
	t := &Table{phases: make(map[string]Descriptor, len(descs))}
	for i := range descs {
		d := descs[i]
		d.Fields = slices.Clone(d.Fields)
		if _, dup := t.phases[d.ID]; !dup {
			t.order = append(t.order, d.ID)
		}
		t.phases[d.ID] = d
	}
	if len(t.order) > 0 {
		t.start = t.order[0]
	}
	return t
}

// DefaultTable returns the built-in four-phase interview.
func DefaultTable() *Table {
	return NewTable(
		Descriptor{
			ID:          "initial_inquiry",
			DisplayName: "Initial Inquiry",
			Goal:        "Understand the user's primary objective and basic needs.",
			Next:        "requirements_gathering",
			Fields:      []string{"project_name", "problem_statement", "user_problem_description", "user_impact_details"},
		},
		Descriptor{
			ID:          "requirements_gathering",
			DisplayName: "Requirements Gathering",
			Goal:        "Collect detailed requirements for the project or document.",
			Next:        "solution_brainstorming",
			Fields: []string{
				"functional_reqs_summary", "nonfunctional_reqs_initial_thoughts",
				"data_reqs_overview", "acceptance_criteria_ideas",
			},
		},
		Descriptor{
			ID:          "solution_brainstorming",
			DisplayName: "Solution Brainstorming",
			Goal:        "Explore potential solutions or approaches based on gathered requirements.",
			Next:        "document_drafting",
			Fields:      []string{"solution_overview", "user_solution_ideas", "user_solution_mechanism", "user_key_features"},
		},
		Descriptor{
			ID:          "document_drafting",
			DisplayName: "Document Drafting",
			Goal:        "Start drafting the document based on all collected information.",
			Fields: []string{
				"user_timeline_input", "user_milestones", "user_budget_info",
				"user_cost_items", "user_value_prop", "user_next_steps",
			},
		},
	)
}

// LoadTable reads and validates a YAML phase table:
//
//	start: initial_inquiry   # optional, defaults to the first phase
//	phases:
//	  - id: initial_inquiry
//	    name: Initial Inquiry
//	    goal: ...
//	    next: requirements_gathering
//	    fields: [project_name]
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read phase table %s: %w", path, err)
	}

	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse phase table %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Phases))
	for i := range f.Phases {
		if seen[f.Phases[i].ID] {
			return nil, fmt.Errorf("phase table %s: duplicate phase id %q", path, f.Phases[i].ID)
		}
		seen[f.Phases[i].ID] = true
	}

	t := NewTable(f.Phases...)
	if f.Start != "" {
		t.start = f.Start
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("phase table %s: %w", path, err)
	}
	return t, nil
}

// Validate checks that the table is non-empty, every id is set, the start
// phase exists, every Next points into the table, and no chain loops.
func (t *Table) Validate() error {
	if len(t.order) == 0 {
		return errors.New("phase table is empty")
	}
	if _, ok := t.phases[t.start]; !ok {
		return fmt.Errorf("start phase %q: %w", t.start, ErrUnknownPhase)
	}
	for _, id := range t.order {
		if id == "" {
			return errors.New("phase with empty id")
		}
		d := t.phases[id]
		if !d.Terminal() {
			if _, ok := t.phases[d.Next]; !ok {
				return fmt.Errorf("phase %q points to %q: %w", id, d.Next, ErrUnknownPhase)
			}
		}
	}
	for _, id := range t.order {
		if _, err := t.walk(id); err != nil {
			return err
		}
	}
	return nil
}

// walk follows Next from id until the terminal phase or a missing target.
// A walk longer than the table means a cycle.
func (t *Table) walk(id string) ([]Descriptor, error) {
	var chain []Descriptor
	for id != "" {
		d, ok := t.phases[id]
		if !ok {
			break
		}
		if len(chain) == len(t.order) {
			return nil, fmt.Errorf("phase chain from %q does not terminate", chain[0].ID)
		}
		chain = append(chain, d)
		id = d.Next
	}
	return chain, nil
}

// Lookup returns the descriptor for id.
func (t *Table) Lookup(id string) (Descriptor, bool) {
	d, ok := t.phases[id]
	if ok {
		d.Fields = slices.Clone(d.Fields)
	}
	return d, ok
}

// Start returns the id of the first phase.
func (t *Table) Start() string {
	return t.start
}

// IDs returns phase ids in declaration order.
func (t *Table) IDs() []string {
	return slices.Clone(t.order)
}

// Len returns the number of phases.
func (t *Table) Len() int {
	return len(t.order)
}

// Chain returns the phases visited from id to the terminal phase, inclusive.
// It is never longer than the table. An unknown id yields ErrUnknownPhase.
func (t *Table) Chain(from string) ([]Descriptor, error) {
	if _, ok := t.phases[from]; !ok {
		return nil, fmt.Errorf("%q: %w", from, ErrUnknownPhase)
	}
	return t.walk(from)
}

// IsValidTransition reports whether to is the declared successor of from and exists.
func (t *Table) IsValidTransition(from, to string) bool {
	d, ok := t.phases[from]
	if !ok || d.Next != to {
		return false
	}
	_, ok = t.phases[to]
	return ok
}
