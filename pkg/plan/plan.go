// Package plan turns a classified request into an ordered task list and runs
// its todo state machine. Exactly one task is in_progress while the plan is
// live; a failed task never blocks the tasks after it.
package plan

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"sidekick/pkg/intent"
	"sidekick/pkg/logx"
	"sidekick/pkg/metrics"
	"sidekick/pkg/proto"
)

// Task is one step of a plan.
type Task struct {
	ID      string
	Content string
	Tool    proto.Tool
	Status  proto.TaskStatus
}

// Snapshot is an immutable view of a plan for rendering and persistence.
type Snapshot struct {
	ID              string
	OriginalMessage string
	CreatedAt       time.Time
	Tasks           []Task
	Done            bool
	Success         bool
}

// Plan owns the tasks for one user request. OriginalMessage is the verbatim
// user message; every step's prompt re-injects it.
type Plan struct {
	ID              string
	Intent          intent.Intent
	OriginalMessage string
	CreatedAt       time.Time

	mu           sync.Mutex
	tasks        []Task
	finished     bool
	callbackDone bool
	onDone       func(Snapshot)

	logger *logx.Logger
	rec    *metrics.Recorder
}

// New builds a plan from ordered tasks and promotes exactly the first one to
// in_progress. An empty task list is promoted to a single task wrapping the
// whole message with the intent's tool.
func New(it intent.Intent, originalMessage string, tasks []Task, rec *metrics.Recorder) *Plan {
	if rec == nil {
		rec = metrics.Nop()
	}
	if len(tasks) == 0 {
		tasks = []Task{{Content: originalMessage, Tool: it.ToolName}}
	}
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = uuid.New().String()
		}
		tasks[i].Status = proto.TaskPending
	}
	tasks[0].Status = proto.TaskInProgress

	return &Plan{
		ID:              uuid.New().String(),
		Intent:          it,
		OriginalMessage: originalMessage,
		CreatedAt:       time.Now(),
		tasks:           tasks,
		logger:          logx.NewLogger("plan"),
		rec:             rec,
	}
}

// OnAllCompleted registers the callback fired once every task has reached a
// terminal status. If the plan is already finished the callback fires
// immediately (still at most once per plan).
func (p *Plan) OnAllCompleted(fn func(Snapshot)) {
	p.mu.Lock()
	p.onDone = fn
	done := p.doneLocked()
	p.mu.Unlock()

	if done {
		p.fireCompleted()
	}
}

// Current returns the unique in_progress task, or nil when none.
func (p *Plan) Current() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *Plan) currentLocked() *Task {
	for i := range p.tasks {
		if p.tasks[i].Status == proto.TaskInProgress {
			return &p.tasks[i]
		}
	}
	return nil
}

// Advance marks the current task completed or failed and promotes the next
// pending task in the same step, so observers never see two in_progress
// tasks. It returns the newly current task, nil when the plan is finished.
// Failed tasks are never retried and never block later tasks.
func (p *Plan) Advance(succeeded bool) *Task {
	p.mu.Lock()

	current := p.currentLocked()
	if current == nil {
		p.mu.Unlock()
		return nil
	}

	if succeeded {
		current.Status = proto.TaskCompleted
	} else {
		current.Status = proto.TaskFailed
	}
	p.rec.IncTask(current.Tool.String(), current.Status.String())
	p.logger.Debug("task %s %s: %s", current.ID, current.Status, current.Content)

	var next *Task
	for i := range p.tasks {
		if p.tasks[i].Status == proto.TaskPending {
			p.tasks[i].Status = proto.TaskInProgress
			next = &p.tasks[i]
			break
		}
	}
	done := next == nil
	p.mu.Unlock()

	if done {
		// Completion is announced off the caller's goroutine; the guard in
		// fireCompleted keeps it to exactly one announcement per plan.
		go p.fireCompleted()
	}
	return next
}

// Done reports whether every task has reached a terminal status.
func (p *Plan) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneLocked()
}

func (p *Plan) doneLocked() bool {
	for i := range p.tasks {
		if !p.tasks[i].Status.Terminal() {
			return false
		}
	}
	return true
}

// Succeeded reports whether the plan finished with no failed task.
func (p *Plan) Succeeded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.successLocked()
}

func (p *Plan) successLocked() bool {
	for i := range p.tasks {
		if p.tasks[i].Status == proto.TaskFailed {
			return false
		}
	}
	return true
}

// Snapshot copies the plan state.
func (p *Plan) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Plan) snapshotLocked() Snapshot {
	tasks := make([]Task, len(p.tasks))
	copy(tasks, p.tasks)
	return Snapshot{
		ID:              p.ID,
		OriginalMessage: p.OriginalMessage,
		CreatedAt:       p.CreatedAt,
		Tasks:           tasks,
		Done:            p.doneLocked(),
		Success:         p.successLocked(),
	}
}

// fireCompleted announces completion at most once and invokes the registered
// callback at most once, even when Advance and OnAllCompleted race.
func (p *Plan) fireCompleted() {
	p.mu.Lock()
	first := !p.finished
	p.finished = true
	var fn func(Snapshot)
	if p.onDone != nil && !p.callbackDone {
		fn = p.onDone
		p.callbackDone = true
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if first {
		outcome := "success"
		if !snap.Success {
			outcome = "failed"
		}
		p.rec.IncPlan(outcome)
		p.logger.Info("plan %s finished (%s, %d tasks)", p.ID, outcome, len(snap.Tasks))
	}
	if fn != nil {
		fn(snap)
	}
}
