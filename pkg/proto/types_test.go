package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTool(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Tool
		ok    bool
	}{
		{"exact", "edit_file", ToolEditFile, true},
		{"uppercase", "EDIT_FILE", ToolEditFile, true},
		{"padded", "  chat_response \n", ToolChatResponse, true},
		{"unknown", "delete_everything", "", false},
		{"empty", "", "", false},
		{"near miss", "edit file", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTool(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllToolsAreValid(t *testing.T) {
	for _, tool := range AllTools() {
		assert.True(t, tool.Valid(), "tool %s should be valid", tool)
	}
	assert.Len(t, AllTools(), 11)
}

func TestRequiresTarget(t *testing.T) {
	requiring := []Tool{ToolEditFile, ToolRefactorCode, ToolFixIssues, ToolOptimizeCode}
	for _, tool := range requiring {
		assert.True(t, tool.RequiresTarget(), "%s should require a target", tool)
	}

	for _, tool := range []Tool{ToolChatResponse, ToolRunCommand, ToolCreateFile, ToolCreateFolder, ToolReadFile, ToolAnalyzeCode} {
		assert.False(t, tool.RequiresTarget(), "%s should not require a target", tool)
	}
}

func TestConversational(t *testing.T) {
	assert.True(t, ToolChatResponse.Conversational())
	assert.True(t, ToolAnalyzeCode.Conversational())
	assert.True(t, ToolExplainCode.Conversational())
	assert.False(t, ToolEditFile.Conversational())
	assert.False(t, ToolRunCommand.Conversational())
}

func TestParseTarget(t *testing.T) {
	got, ok := ParseTarget("Selection")
	require.True(t, ok)
	assert.Equal(t, TargetSelection, got)

	got, ok = ParseTarget("current-todo")
	require.True(t, ok)
	assert.Equal(t, TargetCurrentTodo, got)

	_, ok = ParseTarget("clipboard")
	assert.False(t, ok)
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskInProgress.Terminal())
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
}
