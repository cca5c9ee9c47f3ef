// Package document turns an interview context into a Markdown document, one
// LLM call per outline section.
package document

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"phasedoc/pkg/prompt"
)

// ErrOutlineNotFound is returned for an outline name that is not in the table.
var ErrOutlineNotFound = errors.New("outline not found")

// DefaultFilenameTemplate is used when an outline declares no filename template.
const DefaultFilenameTemplate = "document.md"

//go:embed outlines.yaml
var builtinOutlines []byte

// Section is one titled block of a document. In an outline it is a template;
// in a built Document, Content and Error are filled in.
type Section struct {
	ID             string `yaml:"id"`
	Title          string `yaml:"title"`
	PromptTemplate string `yaml:"prompt_template"`
	Content        string `yaml:"-"`
	Error          string `yaml:"-"`
}

// Outline is a named document template.
type Outline struct {
	Name                string    `yaml:"name"`
	Title               string    `yaml:"title"`
	FilenameTemplate    string    `yaml:"filename_template,omitempty"`
	GlobalContextPrompt string    `yaml:"global_context_prompt,omitempty"`
	Sections            []Section `yaml:"sections"`
}

// Vocabulary returns the placeholder keys used by the outline's section templates.
func (o *Outline) Vocabulary() []string {
	var keys []string
	for i := range o.Sections {
		for _, k := range prompt.Placeholders(o.Sections[i].PromptTemplate) {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func (o *Outline) clone() Outline {
	out := *o
	out.Sections = slices.Clone(o.Sections)
	return out
}

// Outlines is a read-only outline table keyed by name.
type Outlines struct {
	byName map[string]Outline
	order  []string
}

type outlineFile struct {
	Outlines []Outline `yaml:"outlines"`
}

// Builtin returns the outlines shipped with the binary.
func Builtin() (*Outlines, error) {
	o, err := ParseOutlines(builtinOutlines)
	if err != nil {
		return nil, fmt.Errorf("built-in outlines: %w", err)
	}
	return o, nil
}

// LoadOutlines reads an outline file with the same shape as the built-ins.
func LoadOutlines(path string) (*Outlines, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read outlines %s: %w", path, err)
	}
	o, err := ParseOutlines(data)
	if err != nil {
		return nil, fmt.Errorf("outlines %s: %w", path, err)
	}
	return o, nil
}

// ParseOutlines decodes an outline YAML document.
func ParseOutlines(data []byte) (*Outlines, error) {
	var f outlineFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse outlines: %w", err)
	}

	o := &Outlines{byName: make(map[string]Outline, len(f.Outlines))}
	for i := range f.Outlines {
		ol := f.Outlines[i]
		if ol.Name == "" {
			return nil, fmt.Errorf("outline %d has no name", i)
		}
		if _, dup := o.byName[ol.Name]; dup {
			return nil, fmt.Errorf("duplicate outline %q", ol.Name)
		}
		if ol.FilenameTemplate == "" {
			ol.FilenameTemplate = DefaultFilenameTemplate
		}
		o.byName[ol.Name] = ol
		o.order = append(o.order, ol.Name)
	}
	return o, nil
}

// Merge returns a table holding o's outlines overridden by other's.
func (o *Outlines) Merge(other *Outlines) *Outlines {
	out := &Outlines{byName: make(map[string]Outline, len(o.byName))}
	for _, src := range []*Outlines{o, other} {
		if src == nil {
			continue
		}
		for _, name := range src.order {
			if _, ok := out.byName[name]; !ok {
				out.order = append(out.order, name)
			}
			out.byName[name] = src.byName[name]
		}
	}
	return out
}

// Lookup returns a copy of the named outline. Changing the copy's sections
// never affects the table.
func (o *Outlines) Lookup(name string) (Outline, bool) {
	ol, ok := o.byName[name]
	if !ok {
		return Outline{}, false
	}
	return ol.clone(), true
}

// Names returns outline names in declaration order.
func (o *Outlines) Names() []string {
	return slices.Clone(o.order)
}
