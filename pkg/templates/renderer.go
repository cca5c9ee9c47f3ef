// Package templates renders the fixed LLM prompts used by the interview and document flows.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"phasedoc/pkg/proto"
)

//go:embed *.tpl.md
var templateFS embed.FS

// TemplateData holds the data for template rendering. Each template reads only
// the fields it needs.
type TemplateData struct {
	// Question generation
	PhaseID           string         `json:"phase_id,omitempty"`
	AdditionalContext string         `json:"additional_context,omitempty"`
	History           []proto.Answer `json:"history,omitempty"`

	// Summary and seeding
	PhaseDataJSON string `json:"phase_data_json,omitempty"`
	FieldsJSON    string `json:"fields_json,omitempty"`

	// Document sections
	DocumentTitle string `json:"document_title,omitempty"`
	GlobalContext string `json:"global_context,omitempty"`
	SectionTitle  string `json:"section_title,omitempty"`
	Instructions  string `json:"instructions,omitempty"`
}

// PromptTemplate names an embedded template file.
type PromptTemplate string

const (
	// NextQuestionTemplate asks the model for the next interview question.
	NextQuestionTemplate PromptTemplate = "next_question.tpl.md"
	// SolutionSummaryTemplate asks for a prose summary of a phase's data.
	SolutionSummaryTemplate PromptTemplate = "solution_summary.tpl.md"
	// SeedPhaseTemplate asks for a JSON object pre-filling the next phase's fields.
	SeedPhaseTemplate PromptTemplate = "seed_phase.tpl.md"
	// SectionTemplate wraps a document section's instructions.
	SectionTemplate PromptTemplate = "section.tpl.md"
)

//nolint:gochecknoglobals // fixed template set
var allTemplates = []PromptTemplate{
	NextQuestionTemplate,
	SolutionSummaryTemplate,
	SeedPhaseTemplate,
	SectionTemplate,
}

// Renderer holds the parsed prompt templates.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
	}

	for _, name := range allTemplates {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"inc": func(i int) int { return i + 1 },
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the named template. The trailing newline of the file is dropped.
func (r *Renderer) Render(name PromptTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}

	return strings.TrimSuffix(buf.String(), "\n"), nil
}
