package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/pkg/intent"
	"sidekick/pkg/proto"
	"sidekick/pkg/templates"
	"sidekick/pkg/testkit"
)

func newPlanner(t *testing.T, turns ...testkit.Turn) (*Planner, *testkit.ScriptedClient) {
	t.Helper()
	renderer, err := templates.NewRenderer()
	require.NoError(t, err)
	client := testkit.NewScriptedClient("fake", turns...)
	return NewPlanner(client, renderer, nil), client
}

func editIntent(msg string) intent.Intent {
	return intent.Intent{ToolName: proto.ToolEditFile, Target: proto.TargetFile, Confidence: 0.9, OriginalRequest: msg}
}

func TestShouldPlan(t *testing.T) {
	tests := []struct {
		name string
		turn testkit.Turn
		want bool
	}{
		{"plain yes", testkit.Turn{Content: "yes"}, true},
		{"yes with punctuation", testkit.Turn{Content: "Yes."}, true},
		{"no", testkit.Turn{Content: "no"}, false},
		{"hedging", testkit.Turn{Content: "It depends on the request."}, false},
		{"call failure", testkit.Turn{Err: errors.New("backend down")}, false},
		{"empty reply", testkit.Turn{Content: ""}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPlanner(t, tt.turn)
			got := p.ShouldPlan(context.Background(), "restyle the site", editIntent("restyle the site"))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildParsesSteps(t *testing.T) {
	reply := `Here is the plan:
[
  {"content": "update the color variables", "tool_name": "edit_file"},
  {"content": "run the style linter", "tool_name": "run_command"}
]`
	p, client := newPlanner(t, testkit.Turn{Content: reply})

	built := p.Build(context.Background(), "make the theme crimson", editIntent("make the theme crimson"), BuildContext{
		ChunkBlock:     "Chunk 1: main.css (Lines 1-3)",
		ContextSummary: "goal: restyle the site",
	})

	snap := built.Snapshot()
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "update the color variables", snap.Tasks[0].Content)
	assert.Equal(t, proto.ToolEditFile, snap.Tasks[0].Tool)
	assert.Equal(t, proto.TaskInProgress, snap.Tasks[0].Status)
	assert.Equal(t, proto.ToolRunCommand, snap.Tasks[1].Tool)
	assert.Equal(t, proto.TaskPending, snap.Tasks[1].Status)
	assert.Equal(t, "make the theme crimson", built.OriginalMessage)

	prompt := client.LastPrompt()
	assert.Contains(t, prompt, "make the theme crimson")
	assert.Contains(t, prompt, "Chunk 1: main.css")
	assert.Contains(t, prompt, "goal: restyle the site")
}

func TestBuildFallsBackToSingleTask(t *testing.T) {
	tests := []struct {
		name string
		turn testkit.Turn
	}{
		{"no array in reply", testkit.Turn{Content: "I would start by editing the file."}},
		{"call failure", testkit.Turn{Err: errors.New("connection reset")}},
		{"array of wrong shape", testkit.Turn{Content: `["just", "strings"]`}},
		{"steps all empty", testkit.Turn{Content: `[{"content": "  ", "tool_name": "edit_file"}]`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPlanner(t, tt.turn)
			it := editIntent("make the theme crimson")

			built := p.Build(context.Background(), "make the theme crimson", it, BuildContext{})

			snap := built.Snapshot()
			require.Len(t, snap.Tasks, 1)
			assert.Equal(t, "make the theme crimson", snap.Tasks[0].Content)
			assert.Equal(t, proto.ToolEditFile, snap.Tasks[0].Tool)
			assert.Equal(t, proto.TaskInProgress, snap.Tasks[0].Status)
		})
	}
}

func TestBuildUnknownToolKeepsIntentTool(t *testing.T) {
	reply := `[{"content": "do the thing", "tool_name": "teleport"}]`
	p, _ := newPlanner(t, testkit.Turn{Content: reply})

	built := p.Build(context.Background(), "do the thing", editIntent("do the thing"), BuildContext{})

	snap := built.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, proto.ToolEditFile, snap.Tasks[0].Tool)
}
