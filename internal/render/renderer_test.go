package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderBarePlaceholders(t *testing.T) {
	r := NewTemplateRenderer()

	out := r.Render("Event {{eventName}} finished with {{status}}", map[string]any{
		"eventName": "backup",
		"status":    "success",
	})
	assert.Equal(t, "Event backup finished with success", out)
}

func TestRenderDottedSyntax(t *testing.T) {
	r := NewTemplateRenderer()

	out := r.Render("took {{.duration}}ms", map[string]any{"duration": 120})
	assert.Equal(t, "took 120ms", out)
}

func TestRenderMalformedTemplateReturnsRaw(t *testing.T) {
	r := NewTemplateRenderer()

	raw := "broken {{ unclosed"
	assert.Equal(t, raw, r.Render(raw, map[string]any{"unclosed": "x"}))
}

func TestRenderMissingKeyRendersBlank(t *testing.T) {
	r := NewTemplateRenderer()

	out := r.Render("value: {{missing}}.", map[string]any{})
	assert.Equal(t, "value: .", out)
}
