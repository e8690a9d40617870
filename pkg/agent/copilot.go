// Package agent wires the whole pipeline into one coordinator. The Copilot
// owns every piece of mutable orchestration state: the active stream, the
// active plan, the chunk context, and the session ledger. All of it mutates
// on the single turn loop, so the only guard it needs is the stream
// manager's session-ID check against late chunks.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sidekick/pkg/chunks"
	"sidekick/pkg/dispatch"
	"sidekick/pkg/eventlog"
	"sidekick/pkg/intent"
	"sidekick/pkg/llm"
	"sidekick/pkg/logx"
	"sidekick/pkg/memory"
	"sidekick/pkg/metrics"
	"sidekick/pkg/persistence"
	"sidekick/pkg/plan"
	"sidekick/pkg/proto"
	"sidekick/pkg/stream"
	"sidekick/pkg/tokens"
	"sidekick/pkg/workspace"
)

// defaultStepYield is the pause between plan steps, long enough for
// observers to see each status transition before the next step starts.
const defaultStepYield = 25 * time.Millisecond

// Events are the coordinator's optional observer callbacks. All fire on the
// turn loop; a nil callback is skipped.
type Events struct {
	// OnStream receives every stream event of the turn, tagged with its
	// session ID.
	OnStream stream.Handler
	// OnTask fires after each task status transition.
	OnTask func(plan.Task)
	// OnPlanDone fires when a plan reaches its terminal state.
	OnPlanDone func(plan.Snapshot)
	// OnNotice receives user-facing progress messages.
	OnNotice func(string)
}

// Deps are the collaborators a Copilot coordinates.
type Deps struct {
	Client     llm.Client
	Streams    *stream.Manager
	Classifier *intent.Classifier
	Planner    *plan.Planner
	Dispatcher *dispatch.Dispatcher
	Ledger     *memory.Ledger
	Editor     workspace.Editor
	Transcript *eventlog.Writer   // optional
	Store      *persistence.Store // optional
	Recorder   *metrics.Recorder  // optional
	StepYield  time.Duration      // optional; tests set a zero-ish value
}

// Copilot runs the turn pipeline: classify, plan, dispatch each step,
// record. One turn at a time; a new turn preempts the previous stream.
type Copilot struct {
	client     llm.Client
	streams    *stream.Manager
	classifier *intent.Classifier
	planner    *plan.Planner
	dispatcher *dispatch.Dispatcher
	ledger     *memory.Ledger
	editor     workspace.Editor
	transcript *eventlog.Writer
	store      *persistence.Store
	rec        *metrics.Recorder
	logger     *logx.Logger
	stepYield  time.Duration

	// turnMu serializes turn bodies: a new turn first cancels the old
	// turn's stream and flags its plan abandoned, then waits here for the
	// old body to drain before touching shared state.
	turnMu  sync.Mutex
	stateMu sync.Mutex
	abandon atomic.Bool

	chunkCtx    *chunks.Context
	currentPlan *plan.Plan
	workDir     string
	shell       string
}

// New wires a copilot from its collaborators.
func New(deps Deps) (*Copilot, error) {
	switch {
	case deps.Client == nil:
		return nil, fmt.Errorf("copilot requires an llm client")
	case deps.Streams == nil:
		return nil, fmt.Errorf("copilot requires a stream manager")
	case deps.Classifier == nil:
		return nil, fmt.Errorf("copilot requires an intent classifier")
	case deps.Planner == nil:
		return nil, fmt.Errorf("copilot requires a task planner")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("copilot requires a dispatcher")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("copilot requires a memory ledger")
	case deps.Editor == nil:
		return nil, fmt.Errorf("copilot requires an editor")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop()
	}
	if deps.StepYield == 0 {
		deps.StepYield = defaultStepYield
	}
	return &Copilot{
		client:     deps.Client,
		streams:    deps.Streams,
		classifier: deps.Classifier,
		planner:    deps.Planner,
		dispatcher: deps.Dispatcher,
		ledger:     deps.Ledger,
		editor:     deps.Editor,
		transcript: deps.Transcript,
		store:      deps.Store,
		rec:        deps.Recorder,
		logger:     logx.NewLogger("copilot"),
		stepYield:  deps.StepYield,
		chunkCtx:   chunks.NewContext(),
	}, nil
}

// SetWorkspace sets the working directory and shell handed to run_command.
func (c *Copilot) SetWorkspace(workDir, shell string) {
	c.workDir = workDir
	c.shell = shell
}

// Chunks exposes the turn's attached-code context to the host.
func (c *Copilot) Chunks() *chunks.Context {
	return c.chunkCtx
}

// Ledger exposes the session ledger to the host.
func (c *Copilot) Ledger() *memory.Ledger {
	return c.ledger
}

// PlanSnapshot returns the active plan's state, if one is live.
func (c *Copilot) PlanSnapshot() (plan.Snapshot, bool) {
	c.stateMu.Lock()
	pl := c.currentPlan
	c.stateMu.Unlock()
	if pl == nil {
		return plan.Snapshot{}, false
	}
	return pl.Snapshot(), true
}

func (c *Copilot) setPlan(pl *plan.Plan) {
	c.stateMu.Lock()
	c.currentPlan = pl
	c.stateMu.Unlock()
}

func (c *Copilot) clearPlanIf(pl *plan.Plan) {
	c.stateMu.Lock()
	if c.currentPlan == pl {
		c.currentPlan = nil
	}
	c.stateMu.Unlock()
}

// HandleMessage runs one user turn end to end and returns the assembled
// response text. Starting a turn while a stream is live preempts it; the
// superseded stream's remaining chunks are dropped by session-ID mismatch.
func (c *Copilot) HandleMessage(ctx context.Context, userMsg string, events Events) (string, error) {
	userMsg = strings.TrimSpace(userMsg)
	if userMsg == "" {
		return "", fmt.Errorf("empty message")
	}

	// Preempt before taking the turn lock: the old turn may be blocked on
	// its stream and only drains once that stream is cancelled.
	if c.streams.Cancel() {
		c.logger.Info("new turn preempts the active stream")
	}
	c.abandon.Store(true)
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	c.abandon.Store(false)
	c.setPlan(nil)

	c.logEvent(eventlog.KindTurn, "message", tokens.TruncateChars(userMsg, 200))

	it := c.classifier.Classify(ctx, userMsg, c.signals())
	c.logEvent(eventlog.KindIntent,
		"tool", it.ToolName.String(),
		"target", it.Target.String(),
		"confidence", fmt.Sprintf("%.2f", it.Confidence))

	pl := c.buildPlan(ctx, userMsg, it)
	c.setPlan(pl)
	completed := c.registerCompletion(ctx, pl, events)
	snap := pl.Snapshot()
	c.logEvent(eventlog.KindPlan, "id", pl.ID, "steps", fmt.Sprintf("%d", len(snap.Tasks)))
	if len(snap.Tasks) > 1 {
		c.notify(events, fmt.Sprintf("Working through %d steps.", len(snap.Tasks)))
	}

	response, toolsCalled, cancelled := c.runPlan(ctx, pl, events)

	if !cancelled {
		// The completion callback runs off the plan's last Advance; wait for
		// it so ledger writes stay on one logical thread.
		<-completed
	}

	c.ledger.RecordConversation(memory.ConversationRecord{
		UserMessage:       userMsg,
		AssistantResponse: response,
		Intent:            it,
		ToolsCalled:       toolsCalled,
	})

	if cancelled {
		c.notify(events, "Stopped.")
		return response, nil
	}
	if pl.Done() {
		c.clearPlanIf(pl)
	}
	return response, nil
}

// signals reads the on-screen state the classifier conditions on.
func (c *Copilot) signals() intent.Signals {
	sig := intent.Signals{HasChunks: c.chunkCtx.Len() > 0}
	if sel, ok := c.editor.Selection(); ok && !sel.Empty() {
		sig.HasSelection = true
	}
	if path, open := c.editor.CurrentFile(); open {
		sig.HasFile = true
		sig.FileName = path
	}
	return sig
}

// buildPlan decides single-shot versus multi-step. Both the should-plan
// check and the plan build degrade to a single task wrapping the message.
func (c *Copilot) buildPlan(ctx context.Context, userMsg string, it intent.Intent) *plan.Plan {
	if !c.planner.ShouldPlan(ctx, userMsg, it) {
		return plan.New(it, userMsg, nil, c.rec)
	}
	return c.planner.Build(ctx, userMsg, it, plan.BuildContext{
		ChunkBlock:     c.chunkCtx.PromptBlock(),
		ContextSummary: c.ledger.ContextSummary(),
	})
}

// registerCompletion records the finished plan in the ledger, cold storage,
// and transcript exactly once, then tells the observers. The returned
// channel closes after the recording work is done.
func (c *Copilot) registerCompletion(ctx context.Context, pl *plan.Plan, events Events) <-chan struct{} {
	completed := make(chan struct{})
	pl.OnAllCompleted(func(snap plan.Snapshot) {
		defer close(completed)
		summary := summarize(snap)
		c.ledger.RecordCompletedPlan(memory.CompletedPlanRecord{
			Intent:          pl.Intent,
			OriginalMessage: snap.OriginalMessage,
			Tasks:           snap.Tasks,
			Success:         snap.Success,
			Summary:         summary,
		})
		if c.store != nil {
			doc := planDocument(snap)
			err := c.store.RecordPlan(ctx, persistence.PlanRecord{
				PlanID:    snap.ID,
				SessionID: c.ledger.SessionID(),
				CreatedAt: snap.CreatedAt,
				Success:   snap.Success,
				Summary:   summary,
				Document:  doc,
			})
			if err != nil {
				c.logger.Error("failed to persist plan %s: %v", snap.ID, err)
			}
		}
		c.logEvent(eventlog.KindPlan, "id", snap.ID, "done", "true", "success", fmt.Sprintf("%t", snap.Success))
		if events.OnPlanDone != nil {
			events.OnPlanDone(snap)
		}
		if len(snap.Tasks) > 1 {
			c.notify(events, summary)
		}
	})
	return completed
}

// runPlan drives the todo state machine: execute the in_progress task,
// advance, yield, repeat. A cancelled dispatch abandons the rest of the
// plan; a failed step does not.
func (c *Copilot) runPlan(ctx context.Context, pl *plan.Plan, events Events) (response string, toolsCalled []string, cancelled bool) {
	ectx := &dispatch.ExecContext{
		Chunks:         c.chunkCtx,
		ContextSummary: c.ledger.ContextSummary(),
		OnStream:       events.OnStream,
		WorkDir:        c.workDir,
		Shell:          c.shell,
	}

	var parts []string
	seen := map[string]bool{}

	for task := pl.Current(); task != nil; {
		if c.abandon.Load() {
			c.clearPlanIf(pl)
			return strings.Join(parts, "\n\n"), toolsCalled, true
		}
		running := *task
		if events.OnTask != nil {
			events.OnTask(running)
		}

		res := c.dispatcher.Execute(ctx, task, pl, ectx)
		if !seen[res.Tool.String()] {
			seen[res.Tool.String()] = true
			toolsCalled = append(toolsCalled, res.Tool.String())
		}
		if res.Response != "" {
			parts = append(parts, res.Response)
		}
		c.logEvent(eventlog.KindTask,
			"id", task.ID,
			"tool", res.Tool.String(),
			"success", fmt.Sprintf("%t", res.Success),
			"cancelled", fmt.Sprintf("%t", res.Cancelled))

		if res.Cancelled {
			c.clearPlanIf(pl)
			return strings.Join(parts, "\n\n"), toolsCalled, true
		}

		next := pl.Advance(res.Success)
		if events.OnTask != nil {
			snap := pl.Snapshot()
			for i := range snap.Tasks {
				if snap.Tasks[i].ID == running.ID {
					events.OnTask(snap.Tasks[i])
					break
				}
			}
		}
		task = next
		if task != nil {
			// Let observers catch the transition before the next model call.
			select {
			case <-ctx.Done():
				c.clearPlanIf(pl)
				return strings.Join(parts, "\n\n"), toolsCalled, true
			case <-time.After(c.stepYield):
			}
		}
	}
	return strings.Join(parts, "\n\n"), toolsCalled, false
}

// CancelActive stops the live stream and flags the active plan abandoned;
// the turn loop clears it. Partial edits already applied stay; the cancelled
// stream's text is never applied.
func (c *Copilot) CancelActive() bool {
	stopped := c.streams.Cancel()
	c.stateMu.Lock()
	hadPlan := c.currentPlan != nil
	c.stateMu.Unlock()
	if hadPlan {
		c.abandon.Store(true)
		stopped = true
	}
	if stopped {
		c.logEvent(eventlog.KindStream, "cancelled", "user")
	}
	return stopped
}

// ResetSession archives the session and starts a fresh one. It waits for
// any in-flight turn to drain first.
func (c *Copilot) ResetSession(ctx context.Context) error {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	return c.ledger.Reset(ctx)
}

// Close cancels any live stream, archives the session, and flushes the
// transcript.
func (c *Copilot) Close(ctx context.Context) error {
	c.streams.Cancel()
	c.abandon.Store(true)
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	c.setPlan(nil)

	var firstErr error
	if err := c.ledger.Reset(ctx); err != nil {
		firstErr = err
	}
	if c.transcript != nil {
		if err := c.transcript.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Copilot) logEvent(kind eventlog.Kind, kv ...string) {
	if c.transcript == nil {
		return
	}
	if err := c.transcript.Event(kind, c.ledger.SessionID(), kv...); err != nil {
		c.logger.Warn("transcript write failed: %v", err)
	}
}

func (c *Copilot) notify(events Events, msg string) {
	if events.OnNotice != nil {
		events.OnNotice(msg)
	}
}

// summarize renders a one-line plan outcome for the ledger and the user.
func summarize(snap plan.Snapshot) string {
	completed := 0
	for i := range snap.Tasks {
		if snap.Tasks[i].Status == proto.TaskCompleted {
			completed++
		}
	}
	if snap.Success {
		return fmt.Sprintf("All %d steps completed.", len(snap.Tasks))
	}
	return fmt.Sprintf("%d of %d steps completed.", completed, len(snap.Tasks))
}

// planTaskDoc is the cold-storage shape of one finished task.
type planTaskDoc struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Tool    string `json:"tool"`
	Status  string `json:"status"`
}

// planDocument serializes a finished plan for cold storage.
func planDocument(snap plan.Snapshot) string {
	doc := struct {
		OriginalMessage string        `json:"originalMessage"`
		Tasks           []planTaskDoc `json:"tasks"`
	}{OriginalMessage: snap.OriginalMessage}
	for i := range snap.Tasks {
		doc.Tasks = append(doc.Tasks, planTaskDoc{
			ID:      snap.Tasks[i].ID,
			Content: snap.Tasks[i].Content,
			Tool:    snap.Tasks[i].Tool.String(),
			Status:  snap.Tasks[i].Status.String(),
		})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "{}"
	}
	return string(data)
}
