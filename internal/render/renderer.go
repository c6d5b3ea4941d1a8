package render

import (
	"regexp"
	"strings"
	"text/template"
)

// Renderer turns a template string plus a context object into final text.
// Implementations must never fail on malformed template syntax; they return
// the raw string as a best effort instead.
type Renderer interface {
	Render(tmpl string, ctx map[string]any) string
}

// TemplateRenderer renders with text/template. Bare {{name}} placeholders
// are accepted as shorthand for {{.name}}.
type TemplateRenderer struct{}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

var barePlaceholder = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

func (r *TemplateRenderer) Render(tmpl string, ctx map[string]any) string {
	normalized := barePlaceholder.ReplaceAllString(tmpl, "{{.$1}}")

	parsed, err := template.New("message").Option("missingkey=zero").Parse(normalized)
	if err != nil {
		return tmpl
	}

	var b strings.Builder
	if err := parsed.Execute(&b, ctx); err != nil {
		return tmpl
	}

	// missingkey=zero renders absent map keys as "<no value>"; blank them
	// so messages stay readable.
	return strings.ReplaceAll(b.String(), "<no value>", "")
}
