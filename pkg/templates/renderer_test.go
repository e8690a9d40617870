package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/pkg/llm"
)

func TestNewRendererParsesWholePack(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	for _, name := range allTemplates {
		t.Run(string(name), func(t *testing.T) {
			out, err := r.Render(name, &PromptData{
				UserMessage:     "make the header blue",
				OriginalMessage: "make the header blue",
				Tools:           []string{"chat_response", "edit_file"},
				Targets:         []string{"selection", "file", "chat"},
				FileName:        "style.css",
				CommandShell:    "/bin/sh",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, out)
		})
	}
}

func TestFrontmatterOptions(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	classifyOpts := r.Options(ClassifyTemplate)
	assert.InDelta(t, 0.1, classifyOpts.Temperature, 0.001)
	assert.Equal(t, 128, classifyOpts.NumPredict)
	assert.NotEmpty(t, r.System(ClassifyTemplate))

	chatOpts := r.Options(ChatTemplate)
	assert.InDelta(t, 0.7, chatOpts.Temperature, 0.001)
}

func TestClassifyRenderIncludesToolsAndFlags(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(ClassifyTemplate, &PromptData{
		UserMessage:  "explain this function",
		Tools:        []string{"chat_response", "explain_code"},
		Targets:      []string{"selection", "file", "chat", "current-todo"},
		HasSelection: true,
		HasFile:      true,
		FileName:     "main.go",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "- explain_code")
	assert.Contains(t, out, "- current-todo")
	assert.Contains(t, out, "Editor selection present: yes")
	assert.Contains(t, out, "(main.go)")
	assert.Contains(t, out, "explain this function")
	assert.Contains(t, out, `"tool_name"`)
}

func TestEditRenderCarriesOriginalMessageAndMarkerFormat(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(EditTemplate, &PromptData{
		OriginalMessage: "change the accent color to crimson",
		TaskContent:     "update the accent color variable",
		ChunkBlock:      "Chunk 1: style.css (Lines 1-3)\n```\n:root{--c:#111}\n```",
		FileName:        "style.css",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "change the accent color to crimson")
	assert.Contains(t, out, "REPLACE style.css (Lines START-END):")
	assert.Contains(t, out, "update the accent color variable")
}

func TestRequestMergesOverrides(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	req, err := r.Request(ChatTemplate, &PromptData{OriginalMessage: "hi"}, llm.GenerationOptions{NumCtx: 8192})
	require.NoError(t, err)

	assert.Equal(t, 8192, req.Options.NumCtx)
	assert.InDelta(t, 0.7, req.Options.Temperature, 0.001, "template option survives override merge")
	assert.NotEmpty(t, req.System)
	assert.Contains(t, req.Prompt, "hi")
}

func TestSplitFrontmatterErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "too short",
			content: "---",
			wantErr: "too short",
		},
		{
			name:    "missing opener",
			content: "no frontmatter\nhere\nat all",
			wantErr: "missing frontmatter opening",
		},
		{
			name:    "missing closer",
			content: "---\nsystem: x\nbody without closer",
			wantErr: "missing frontmatter closing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := splitFrontmatter(tt.content)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr))
		})
	}
}

func TestSplitFrontmatterRoundTrip(t *testing.T) {
	front, body, err := splitFrontmatter("---\nsystem: test preamble\n---\n\nbody text")
	require.NoError(t, err)
	assert.Equal(t, "system: test preamble", front)
	assert.Equal(t, "body text", body)
}
