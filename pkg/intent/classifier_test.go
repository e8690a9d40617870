package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/pkg/llm/llmerrors"
	"sidekick/pkg/proto"
	"sidekick/pkg/templates"
	"sidekick/pkg/testkit"
)

func newClassifier(t *testing.T, turns ...testkit.Turn) (*Classifier, *testkit.ScriptedClient) {
	t.Helper()
	renderer, err := templates.NewRenderer()
	require.NoError(t, err)
	client := testkit.NewScriptedClient("fake", turns...)
	return NewClassifier(client, renderer, nil), client
}

func TestClassifyParsesIntent(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantTool proto.Tool
		wantTgt  proto.Target
		wantConf float64
	}{
		{
			name:     "bare object",
			reply:    `{"tool_name": "edit_file", "target": "selection", "confidence": 0.9}`,
			wantTool: proto.ToolEditFile,
			wantTgt:  proto.TargetSelection,
			wantConf: 0.9,
		},
		{
			name:     "fenced with prose",
			reply:    "Sure! Here is the classification:\n```json\n{\"tool_name\": \"run_command\", \"target\": \"chat\", \"confidence\": 0.75}\n```\nLet me know if you need more.",
			wantTool: proto.ToolRunCommand,
			wantTgt:  proto.TargetChat,
			wantConf: 0.75,
		},
		{
			name:     "uppercase tool name tolerated",
			reply:    `{"tool_name": "Explain_Code", "target": "file", "confidence": 1}`,
			wantTool: proto.ToolExplainCode,
			wantTgt:  proto.TargetFile,
			wantConf: 1,
		},
		{
			name:     "prose braces before the object",
			reply:    "{thinking} real answer: {\"tool_name\": \"read_file\", \"target\": \"file\", \"confidence\": 0.6}",
			wantTool: proto.ToolReadFile,
			wantTgt:  proto.TargetFile,
			wantConf: 0.6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newClassifier(t, testkit.Turn{Content: tt.reply})

			got := c.Classify(context.Background(), "the user message", Signals{})

			assert.Equal(t, tt.wantTool, got.ToolName)
			assert.Equal(t, tt.wantTgt, got.Target)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, "the user message", got.OriginalRequest)
		})
	}
}

func TestClassifyFallsBack(t *testing.T) {
	tests := []struct {
		name string
		turn testkit.Turn
	}{
		{"transport failure", testkit.Turn{Err: llmerrors.New(llmerrors.TypeTransport, "connection refused")}},
		{"no json at all", testkit.Turn{Content: "I think you want to edit the file."}},
		{"json array not object", testkit.Turn{Content: `["edit_file"]`}},
		{"unknown tool", testkit.Turn{Content: `{"tool_name": "launch_rocket", "target": "chat", "confidence": 0.9}`}},
		{"confidence above one", testkit.Turn{Content: `{"tool_name": "edit_file", "target": "chat", "confidence": 1.5}`}},
		{"negative confidence", testkit.Turn{Content: `{"tool_name": "edit_file", "target": "chat", "confidence": -0.1}`}},
		{"unterminated object", testkit.Turn{Content: `{"tool_name": "edit_file", "target": "chat"`}},
	}
	want := Fallback("do the thing")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newClassifier(t, tt.turn)

			got := c.Classify(context.Background(), "do the thing", Signals{HasSelection: true})

			assert.Equal(t, want, got, "every failure must produce the exact chat fallback")
		})
	}
}

func TestClassifyTargetTieBreak(t *testing.T) {
	reply := `{"tool_name": "refactor_code", "target": "somewhere odd", "confidence": 0.8}`

	tests := []struct {
		name string
		sig  Signals
		want proto.Target
	}{
		{"selection wins", Signals{HasSelection: true, HasFile: true}, proto.TargetSelection},
		{"then open file", Signals{HasFile: true}, proto.TargetFile},
		{"chat last", Signals{}, proto.TargetChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newClassifier(t, testkit.Turn{Content: reply})

			got := c.Classify(context.Background(), "msg", tt.sig)

			assert.Equal(t, proto.ToolRefactorCode, got.ToolName)
			assert.Equal(t, tt.want, got.Target)
		})
	}
}

func TestClassifyPromptCarriesSignals(t *testing.T) {
	c, client := newClassifier(t, testkit.Turn{Content: `{"tool_name": "chat_response", "target": "chat", "confidence": 0.5}`})

	c.Classify(context.Background(), "what does this do?", Signals{HasSelection: true, HasFile: true, FileName: "main.go"})

	prompt := client.LastPrompt()
	assert.Contains(t, prompt, "what does this do?")
	assert.Contains(t, prompt, "main.go")
	assert.Contains(t, prompt, "edit_file", "tool vocabulary must be in the prompt")
}

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		found bool
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`, true},
		{"nested", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`, true},
		{"brace in string", `{"a": "}"}`, `{"a": "}"}`, true},
		{"escaped quote", `{"a": "say \"hi\" {now}"}`, `{"a": "say \"hi\" {now}"}`, true},
		{"skips invalid candidate", `{not json} {"a": 1}`, `{"a": 1}`, true},
		{"takes first of two", `{"a": 1} {"b": 2}`, `{"a": 1}`, true},
		{"none", "no braces here", "", false},
		{"unclosed", `{"a": 1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := FirstJSONObject(tt.in)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstJSONArray(t *testing.T) {
	got, found := FirstJSONArray("steps below\n```json\n[{\"content\": \"step one\"}]\n```")
	require.True(t, found)
	assert.Equal(t, `[{"content": "step one"}]`, got)

	_, found = FirstJSONArray("nothing here")
	assert.False(t, found)
}
