// Package templates renders the prompt pack. Each embedded template carries
// YAML frontmatter declaring its system preamble and generation options, so
// prompt wording and sampling knobs live in one reviewable place.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"sidekick/pkg/llm"
)

//go:embed *.tpl.md
var templateFS embed.FS

// PromptTemplate names one template in the pack.
type PromptTemplate string

const (
	// ClassifyTemplate asks for a single intent JSON object.
	ClassifyTemplate PromptTemplate = "classify.tpl.md"
	// ShouldPlanTemplate asks whether a request needs a multi-step plan.
	ShouldPlanTemplate PromptTemplate = "should_plan.tpl.md"
	// PlanTemplate asks for a JSON array of plan steps.
	PlanTemplate PromptTemplate = "plan.tpl.md"
	// ChatTemplate drives chat, analyze, and explain responses.
	ChatTemplate PromptTemplate = "chat.tpl.md"
	// EditTemplate drives all mutating code tools.
	EditTemplate PromptTemplate = "edit.tpl.md"
	// CreateFileTemplate asks for new file content.
	CreateFileTemplate PromptTemplate = "create_file.tpl.md"
	// CommandTemplate asks for a single shell command.
	CommandTemplate PromptTemplate = "command.tpl.md"
)

// allTemplates enumerates the pack; NewRenderer fails fast when one is
// missing or unparseable.
var allTemplates = []PromptTemplate{
	ClassifyTemplate,
	ShouldPlanTemplate,
	PlanTemplate,
	ChatTemplate,
	EditTemplate,
	CreateFileTemplate,
	CommandTemplate,
}

// Frontmatter is the YAML header of a template file.
type Frontmatter struct {
	System  string                `yaml:"system"`
	Options llm.GenerationOptions `yaml:"options"`
}

// PromptData is the shared payload for all templates. Unused fields render
// as empty.
type PromptData struct {
	UserMessage     string
	OriginalMessage string
	TaskContent     string
	ChunkBlock      string
	ContextSummary  string
	FileName        string
	FilePath        string
	FileContent     string
	SelectionText   string
	HasChunks       bool
	HasSelection    bool
	HasFile         bool
	Tools           []string
	Targets         []string
	CommandShell    string
}

// Renderer holds the parsed pack.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
	meta      map[PromptTemplate]Frontmatter
}

var frontmatterDelimiter = regexp.MustCompile(`^---\s*$`)

// NewRenderer parses every template in the pack.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
		meta:      make(map[PromptTemplate]Frontmatter),
	}

	for _, name := range allTemplates {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		front, body, err := splitFrontmatter(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to split template %s: %w", name, err)
		}

		var fm Frontmatter
		if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter of %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"contains": strings.Contains,
			"join":     strings.Join,
		}).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
		r.meta[name] = fm
	}

	return r, nil
}

// Render executes the named template.
func (r *Renderer) Render(name PromptTemplate, data *PromptData) (string, error) {
	tmpl, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// System returns the template's system preamble.
func (r *Renderer) System(name PromptTemplate) string {
	return r.meta[name].System
}

// Options returns the template's generation options.
func (r *Renderer) Options(name PromptTemplate) llm.GenerationOptions {
	return r.meta[name].Options
}

// Request renders the named template into a ready completion request,
// overlaying the template's options with any caller overrides.
func (r *Renderer) Request(name PromptTemplate, data *PromptData, overrides llm.GenerationOptions) (llm.CompletionRequest, error) {
	prompt, err := r.Render(name, data)
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	return llm.CompletionRequest{
		System:  r.System(name),
		Prompt:  prompt,
		Options: r.Options(name).Merge(overrides),
	}, nil
}

// splitFrontmatter splits a template file into its YAML header and body.
// The file must open with a --- line and close the header with another.
func splitFrontmatter(content string) (front, body string, err error) {
	lines := strings.Split(content, "\n")
	if len(lines) < 3 {
		return "", "", fmt.Errorf("template too short to contain frontmatter")
	}
	if !frontmatterDelimiter.MatchString(strings.TrimSpace(lines[0])) {
		return "", "", fmt.Errorf("missing frontmatter opening delimiter (---)")
	}

	closingIdx := -1
	for i := 1; i < len(lines); i++ {
		if frontmatterDelimiter.MatchString(strings.TrimSpace(lines[i])) {
			closingIdx = i
			break
		}
	}
	if closingIdx == -1 {
		return "", "", fmt.Errorf("missing frontmatter closing delimiter (---)")
	}

	front = strings.Join(lines[1:closingIdx], "\n")
	body = strings.Join(lines[closingIdx+1:], "\n")
	return front, strings.TrimLeft(body, "\n"), nil
}
