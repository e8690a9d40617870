package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/pkg/intent"
	"sidekick/pkg/plan"
	"sidekick/pkg/proto"
)

type fakeArchive struct {
	sessions map[string]string
	err      error
}

func (f *fakeArchive) ArchiveSession(_ context.Context, sessionID string, _ time.Time, document string) error {
	if f.err != nil {
		return f.err
	}
	if f.sessions == nil {
		f.sessions = make(map[string]string)
	}
	f.sessions[sessionID] = document
	return nil
}

func chatIntent(msg string) intent.Intent {
	return intent.Intent{
		ToolName:        proto.ToolChatResponse,
		Target:          proto.TargetChat,
		Confidence:      0.9,
		OriginalRequest: msg,
	}
}

func TestRecordConversationAggregates(t *testing.T) {
	l := NewLedger(nil, nil, Limits{})

	l.RecordConversation(ConversationRecord{
		UserMessage:       "Change the theme to dark mode. Also check contrast.",
		AssistantResponse: "Done.",
		Intent:            chatIntent("..."),
		ToolsCalled:       []string{"edit_file"},
	})
	l.RecordConversation(ConversationRecord{
		UserMessage: "change the theme to dark mode",
		ToolsCalled: []string{"edit_file", "read_file"},
	})

	assert.False(t, l.Empty())

	summary := l.ContextSummary()
	lines := strings.Split(summary, "\n")
	require.NotEmpty(t, lines)
	// The goal phrase stops at the first sentence and deduplicates
	// case-insensitively across turns.
	assert.Equal(t, "Session goals: Change the theme to dark mode", lines[0])
	assert.Contains(t, summary, "User: change the theme to dark mode")
	assert.Contains(t, summary, "Assistant: Done.")
}

func TestContextSummaryBounds(t *testing.T) {
	l := NewLedger(nil, nil, Limits{SummaryTurns: 2, SummaryMessageChars: 40})

	for i := 0; i < 5; i++ {
		l.RecordConversation(ConversationRecord{
			UserMessage:       fmt.Sprintf("request number %d %s", i, strings.Repeat("x", 200)),
			AssistantResponse: "ok",
		})
	}

	summary := l.ContextSummary()
	assert.NotContains(t, summary, "request number 2", "only the last turns appear")
	assert.Contains(t, summary, "request number 3")
	assert.Contains(t, summary, "request number 4")
	for _, line := range strings.Split(summary, "\n") {
		assert.LessOrEqual(t, len(line), 80, "messages are truncated: %q", line)
	}
}

func TestRecordCompletedPlanCountsSteps(t *testing.T) {
	l := NewLedger(nil, nil, Limits{})

	l.RecordCompletedPlan(CompletedPlanRecord{
		Intent:          chatIntent("build the feature"),
		OriginalMessage: "build the feature",
		Tasks: []plan.Task{
			{ID: "a", Content: "create file", Tool: proto.ToolCreateFile, Status: proto.TaskCompleted},
			{ID: "b", Content: "edit file", Tool: proto.ToolEditFile, Status: proto.TaskFailed},
			{ID: "c", Content: "run tests", Tool: proto.ToolRunCommand, Status: proto.TaskCompleted},
		},
		Success: false,
		Summary: "2 of 3 steps completed",
	})

	summary := l.ContextSummary()
	assert.Contains(t, summary, "Steps completed this session: 2")
}

func TestSessionDocumentShape(t *testing.T) {
	l := NewLedger(nil, nil, Limits{})
	l.RecordConversation(ConversationRecord{
		UserMessage:       "hello",
		AssistantResponse: "hi",
		Intent:            chatIntent("hello"),
		ToolsCalled:       []string{"chat_response"},
	})
	l.RecordCompletedPlan(CompletedPlanRecord{
		Intent:          chatIntent("do both things"),
		OriginalMessage: "do both things",
		Tasks: []plan.Task{
			{ID: "a", Content: "one", Tool: proto.ToolEditFile, Status: proto.TaskCompleted},
		},
		Success: true,
		Summary: "all steps completed",
	})

	doc, err := l.SessionDocument()
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	for _, key := range []string{
		"sessionId", "startTime", "conversations", "completedTasks",
		"totalTasksCompleted", "toolsCalled", "goals", "context",
	} {
		assert.Contains(t, parsed, key)
	}
	assert.Equal(t, float64(1), parsed["totalTasksCompleted"])
	assert.ElementsMatch(t, []any{"chat_response", "edit_file"}, parsed["toolsCalled"])
}

func TestResetArchivesNonEmptySession(t *testing.T) {
	archive := &fakeArchive{}
	l := NewLedger(archive, nil, Limits{})
	first := l.SessionID()

	l.RecordConversation(ConversationRecord{UserMessage: "hi", AssistantResponse: "hello"})
	require.NoError(t, l.Reset(context.Background()))

	require.Contains(t, archive.sessions, first)
	assert.Contains(t, archive.sessions[first], `"userMessage": "hi"`)

	assert.NotEqual(t, first, l.SessionID())
	assert.True(t, l.Empty())
	assert.Empty(t, l.ContextSummary())
}

func TestResetSkipsEmptySession(t *testing.T) {
	archive := &fakeArchive{}
	l := NewLedger(archive, nil, Limits{})
	first := l.SessionID()

	require.NoError(t, l.Reset(context.Background()))
	assert.Empty(t, archive.sessions)
	assert.NotEqual(t, first, l.SessionID())
}

func TestResetSurfacesArchiveFailure(t *testing.T) {
	archive := &fakeArchive{err: fmt.Errorf("disk full")}
	l := NewLedger(archive, nil, Limits{})
	l.RecordConversation(ConversationRecord{UserMessage: "hi"})

	err := l.Reset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, l.Empty(), "a failed archive keeps the session intact")
}
