package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/pkg/dispatch"
	"sidekick/pkg/exec"
	"sidekick/pkg/extract"
	"sidekick/pkg/intent"
	"sidekick/pkg/llm"
	"sidekick/pkg/memory"
	"sidekick/pkg/metrics"
	"sidekick/pkg/plan"
	"sidekick/pkg/proto"
	"sidekick/pkg/stream"
	"sidekick/pkg/templates"
	"sidekick/pkg/testkit"
	"sidekick/pkg/workspace"
)

func newTestCopilot(t *testing.T, client llm.Client) (*Copilot, *workspace.Local, *workspace.Headless) {
	t.Helper()
	fs, err := workspace.NewLocal(t.TempDir())
	require.NoError(t, err)
	editor := workspace.NewHeadless(fs)
	renderer, err := templates.NewRenderer()
	require.NoError(t, err)
	rec := metrics.NewRecorder()
	streams := stream.NewManager(rec)

	dispatcher, err := dispatch.NewDispatcher(dispatch.Deps{
		Client:    client,
		Renderer:  renderer,
		Streams:   streams,
		Extractor: extract.NewExtractor(rec),
		FS:        fs,
		Editor:    editor,
		Runner:    exec.NewRunner(""),
		Recorder:  rec,
	})
	require.NoError(t, err)

	copilot, err := New(Deps{
		Client:     client,
		Streams:    streams,
		Classifier: intent.NewClassifier(client, renderer, rec),
		Planner:    plan.NewPlanner(client, renderer, rec),
		Dispatcher: dispatcher,
		Ledger:     memory.NewLedger(nil, nil, memory.Limits{}),
		Editor:     editor,
		Recorder:   rec,
		StepYield:  time.Millisecond,
	})
	require.NoError(t, err)
	return copilot, fs, editor
}

const chatIntentJSON = `{"tool_name": "chat_response", "target": "chat", "confidence": 0.9}`

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm client")
}

func TestHandleMessageRejectsEmptyInput(t *testing.T) {
	client := testkit.NewScriptedClient("m")
	copilot, _, _ := newTestCopilot(t, client)

	_, err := copilot.HandleMessage(context.Background(), "   ", Events{})
	require.Error(t, err)
	assert.Empty(t, client.Requests())
}

func TestSingleShotChatTurn(t *testing.T) {
	client := testkit.NewScriptedClient("m",
		testkit.Turn{Content: chatIntentJSON},             // classify
		testkit.Turn{Content: "no"},                       // should_plan
		testkit.Turn{Chunks: []string{"Hello ", "there"}}, // chat stream
	)
	copilot, _, _ := newTestCopilot(t, client)

	var streamed string
	events := Events{OnStream: func(_ string, ev llm.StreamEvent) {
		if ev.Kind == llm.EventChunk {
			streamed += ev.Text
		}
	}}

	response, err := copilot.HandleMessage(context.Background(), "say hello", events)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", response)
	assert.Equal(t, "Hello there", streamed)
	assert.Equal(t, 0, client.Remaining())

	// The finished plan is cleared and the turn is on the ledger.
	_, live := copilot.PlanSnapshot()
	assert.False(t, live)
	assert.False(t, copilot.Ledger().Empty())
	assert.Contains(t, copilot.Ledger().ContextSummary(), "say hello")
}

func TestClassifierGarbageFallsBackToChat(t *testing.T) {
	client := testkit.NewScriptedClient("m",
		testkit.Turn{Content: "I cannot decide what tool to use here."}, // classify: no JSON
		testkit.Turn{Content: "no"},
		testkit.Turn{Chunks: []string{"chat answer"}},
	)
	copilot, _, _ := newTestCopilot(t, client)

	response, err := copilot.HandleMessage(context.Background(), "do the thing", Events{})
	require.NoError(t, err)
	assert.Equal(t, "chat answer", response)
}

func TestMultiStepPlanRunsSequentially(t *testing.T) {
	planJSON := `[
		{"content": "summarize the project", "tool_name": "chat_response"},
		{"content": "explain the entry point", "tool_name": "chat_response"}
	]`
	client := testkit.NewScriptedClient("m",
		testkit.Turn{Content: chatIntentJSON},
		testkit.Turn{Content: "yes"},
		testkit.Turn{Content: planJSON},
		testkit.Turn{Chunks: []string{"first answer"}},
		testkit.Turn{Chunks: []string{"second answer"}},
	)
	copilot, _, _ := newTestCopilot(t, client)

	var mu sync.Mutex
	var transitions []proto.TaskStatus
	var doneSnaps []plan.Snapshot
	events := Events{
		OnTask: func(task plan.Task) {
			mu.Lock()
			transitions = append(transitions, task.Status)
			mu.Unlock()
			// The one-in-progress invariant holds at every observation.
			if snap, ok := copilot.PlanSnapshot(); ok {
				inProgress := 0
				for _, tk := range snap.Tasks {
					if tk.Status == proto.TaskInProgress {
						inProgress++
					}
				}
				assert.LessOrEqual(t, inProgress, 1)
			}
		},
		OnPlanDone: func(snap plan.Snapshot) {
			mu.Lock()
			doneSnaps = append(doneSnaps, snap)
			mu.Unlock()
		},
	}

	response, err := copilot.HandleMessage(context.Background(), "walk me through the codebase", events)
	require.NoError(t, err)
	assert.Contains(t, response, "first answer")
	assert.Contains(t, response, "second answer")
	assert.Equal(t, 0, client.Remaining())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, doneSnaps, 1, "completion fires exactly once")
	assert.True(t, doneSnaps[0].Success)
	assert.Equal(t, []proto.TaskStatus{
		proto.TaskInProgress, proto.TaskCompleted,
		proto.TaskInProgress, proto.TaskCompleted,
	}, transitions)
	assert.Contains(t, copilot.Ledger().ContextSummary(), "Steps completed this session: 2")
}

func TestFailedStepDoesNotBlockLaterSteps(t *testing.T) {
	planJSON := `[
		{"content": "edit the config file", "tool_name": "edit_file"},
		{"content": "report what changed", "tool_name": "chat_response"}
	]`
	client := testkit.NewScriptedClient("m",
		testkit.Turn{Content: `{"tool_name": "edit_file", "target": "file", "confidence": 0.8}`},
		testkit.Turn{Content: "yes"},
		testkit.Turn{Content: planJSON},
		// The edit step resolves no target and fails without a model call,
		// so the next scripted turn serves the chat step.
		testkit.Turn{Chunks: []string{"nothing was edited"}},
	)
	copilot, _, _ := newTestCopilot(t, client)

	var doneSnap plan.Snapshot
	done := false
	events := Events{OnPlanDone: func(snap plan.Snapshot) {
		doneSnap = snap
		done = true
	}}

	response, err := copilot.HandleMessage(context.Background(), "edit the config and report", events)
	require.NoError(t, err)
	assert.Contains(t, response, "nothing was edited")

	require.True(t, done)
	assert.False(t, doneSnap.Success)
	require.Len(t, doneSnap.Tasks, 2)
	assert.Equal(t, proto.TaskFailed, doneSnap.Tasks[0].Status)
	assert.Equal(t, proto.TaskCompleted, doneSnap.Tasks[1].Status)
}

func TestCancelActiveStopsTheTurn(t *testing.T) {
	client := testkit.NewScriptedClient("m",
		testkit.Turn{Content: chatIntentJSON},
		testkit.Turn{Content: "no"},
		testkit.Turn{Chunks: []string{"partial "}, HangAfterChunks: true},
	)
	copilot, _, _ := newTestCopilot(t, client)

	firstChunk := make(chan struct{})
	var once sync.Once
	events := Events{OnStream: func(_ string, ev llm.StreamEvent) {
		if ev.Kind == llm.EventChunk {
			once.Do(func() { close(firstChunk) })
		}
	}}

	type result struct {
		response string
		err      error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := copilot.HandleMessage(context.Background(), "talk forever", events)
		got <- result{resp, err}
	}()

	select {
	case <-firstChunk:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never produced a chunk")
	}
	require.True(t, copilot.CancelActive())

	select {
	case res := <-got:
		require.NoError(t, res.err)
		// Cancelled output may surface but the plan is gone.
		_, live := copilot.PlanSnapshot()
		assert.False(t, live)
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish after cancellation")
	}
}

func TestNewTurnPreemptsActiveStream(t *testing.T) {
	client := testkit.NewScriptedClient("m",
		testkit.Turn{Content: chatIntentJSON},
		testkit.Turn{Content: "no"},
		testkit.Turn{Chunks: []string{"old turn "}, HangAfterChunks: true},
	)
	copilot, _, _ := newTestCopilot(t, client)

	firstChunk := make(chan struct{})
	var once sync.Once
	events := Events{OnStream: func(_ string, ev llm.StreamEvent) {
		if ev.Kind == llm.EventChunk {
			once.Do(func() { close(firstChunk) })
		}
	}}

	go func() {
		_, _ = copilot.HandleMessage(context.Background(), "first turn", events)
	}()
	select {
	case <-firstChunk:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never streamed")
	}

	client.Enqueue(
		testkit.Turn{Content: chatIntentJSON},
		testkit.Turn{Content: "no"},
		testkit.Turn{Chunks: []string{"new turn answer"}},
	)
	response, err := copilot.HandleMessage(context.Background(), "second turn", Events{})
	require.NoError(t, err)
	assert.Equal(t, "new turn answer", response)
}

func TestResetSessionStartsFresh(t *testing.T) {
	client := testkit.NewScriptedClient("m",
		testkit.Turn{Content: chatIntentJSON},
		testkit.Turn{Content: "no"},
		testkit.Turn{Chunks: []string{"hi"}},
	)
	copilot, _, _ := newTestCopilot(t, client)

	_, err := copilot.HandleMessage(context.Background(), "hello", Events{})
	require.NoError(t, err)
	require.False(t, copilot.Ledger().Empty())
	before := copilot.Ledger().SessionID()

	require.NoError(t, copilot.ResetSession(context.Background()))
	assert.True(t, copilot.Ledger().Empty())
	assert.NotEqual(t, before, copilot.Ledger().SessionID())
}
