package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"phasedoc/pkg/agent/middleware/metrics"
	"phasedoc/pkg/logx"
	"phasedoc/pkg/prompt"
	"phasedoc/pkg/proto"
	"phasedoc/pkg/templates"
	"phasedoc/pkg/utils"
)

// OpSection labels section generation calls for metrics.
const OpSection = "section"

// TextGenerator produces free text for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Document is a built document. Sections are in outline order.
type Document struct {
	Outline  string
	Title    string
	Filename string
	Content  string
	Sections []Section
}

// Failed returns the sections whose generation returned an error.
func (d *Document) Failed() []Section {
	var out []Section
	for i := range d.Sections {
		if d.Sections[i].Error != "" {
			out = append(out, d.Sections[i])
		}
	}
	return out
}

// Builder generates documents from an outline table.
type Builder struct {
	gen         TextGenerator
	outlines    *Outlines
	renderer    *templates.Renderer
	logger      *logx.Logger
	concurrency int
}

// Option configures a Builder.
type Option func(*Builder)

// WithConcurrency generates up to n sections at once. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		b.concurrency = max(n, 1)
	}
}

// NewBuilder creates a builder over outlines.
func NewBuilder(gen TextGenerator, outlines *Outlines, opts ...Option) (*Builder, error) {
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}
	b := &Builder{
		gen:         gen,
		outlines:    outlines,
		renderer:    renderer,
		logger:      logx.NewLogger("document"),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Outlines returns the builder's outline table.
func (b *Builder) Outlines() *Outlines {
	return b.outlines
}

// Build generates every section of the named outline from pc.
//
// A section whose generation fails gets the error text as content and does
// not stop the others. Only an unknown outline (ErrOutlineNotFound) or a
// cancelled ctx makes Build fail.
func (b *Builder) Build(ctx context.Context, name string, pc *proto.PhaseContext) (*Document, error) {
	outline, ok := b.outlines.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrOutlineNotFound)
	}

	values := prompt.AssembleContext(outline.Title, pc, outline.Vocabulary()...)

	labels := metrics.LabelsFromContext(ctx)
	labels.Phase = name
	labels.Operation = OpSection
	genCtx := metrics.ContextWithLabels(ctx, labels)

	g, gctx := errgroup.WithContext(genCtx)
	g.SetLimit(b.concurrency)
	for i := range outline.Sections {
		section := &outline.Sections[i]
		g.Go(func() error {
			b.generateSection(gctx, &outline, section, values)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build of %s cancelled: %w", name, err)
	}

	doc := &Document{
		Outline:  name,
		Title:    outline.Title,
		Filename: prompt.Format(outline.FilenameTemplate, values),
		Sections: outline.Sections,
	}
	doc.Content = render(outline.Title, outline.Sections)

	if failed := doc.Failed(); len(failed) > 0 {
		b.logger.Warn("Built %s with %d of %d sections failed", name, len(failed), len(doc.Sections))
	} else {
		b.logger.Info("Built %s (%d sections)", name, len(doc.Sections))
	}
	return doc, nil
}

func (b *Builder) generateSection(ctx context.Context, outline *Outline, s *Section, values map[string]string) {
	p, err := b.renderer.Render(templates.SectionTemplate, &templates.TemplateData{
		DocumentTitle: outline.Title,
		GlobalContext: outline.GlobalContextPrompt,
		SectionTitle:  s.Title,
		Instructions:  prompt.Format(s.PromptTemplate, values),
	})
	if err == nil {
		b.logger.Debug("Generating section '%s'", s.Title)
		var text string
		text, err = b.gen.Generate(ctx, p)
		if err == nil {
			s.Content = strings.TrimSpace(text)
			return
		}
	}

	b.logger.Error("Section '%s' failed: %v", s.Title, err)
	s.Error = err.Error()
	s.Content = fmt.Sprintf("Error generating content for section '%s': %v", s.Title, err)
}

// render lays out the title heading, then each section's heading and content,
// separated by blank lines.
func render(title string, sections []Section) string {
	blocks := make([]string, 0, 1+2*len(sections))
	blocks = append(blocks, "# "+title)
	for i := range sections {
		if sections[i].Title != "" {
			blocks = append(blocks, "## "+sections[i].Title)
		}
		blocks = append(blocks, sections[i].Content)
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

// SafeFilename makes name safe to write as a single file. A non-zero stamp is
// appended before the extension as _YYYYMMDD_HHMMSS. Names with no extension
// get ".md".
func SafeFilename(name string, stamp time.Time) string {
	ext := filepath.Ext(name)
	base := utils.SecureFilename(strings.TrimSuffix(name, ext))
	ext = utils.SecureFilename(ext)
	if base == "" {
		base = strings.TrimSuffix(DefaultFilenameTemplate, filepath.Ext(DefaultFilenameTemplate))
	}
	if ext == "" {
		ext = "md"
	}
	if !stamp.IsZero() {
		base += "_" + stamp.Format("20060102_150405")
	}
	return base + "." + ext
}
