// Package stream owns the live model stream. At most one session is active;
// starting a new one preempts the old, and the session ID is the only guard
// that keeps a superseded stream's events from leaking into the current turn.
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sidekick/pkg/llm"
	"sidekick/pkg/logx"
	"sidekick/pkg/metrics"
)

// Status is the lifecycle state of a streaming session.
type Status string

const (
	StatusCreated   Status = "created"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// Handler receives each event of a session together with the session ID it
// belongs to. Consumers must ignore events whose ID is not the current one.
type Handler func(sessionID string, ev llm.StreamEvent)

// Session is an observer snapshot of a streaming session.
type Session struct {
	ID      string
	Model   string
	Prompt  string
	Status  Status
	Text    string
	Started time.Time
}

type liveSession struct {
	id      string
	model   string
	prompt  string
	status  Status
	text    strings.Builder
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager runs streaming sessions one at a time.
type Manager struct {
	mu      sync.Mutex
	logger  *logx.Logger
	rec     *metrics.Recorder
	current *liveSession
	last    *liveSession
}

// NewManager returns a manager recording into rec, or into a discard
// recorder when rec is nil.
func NewManager(rec *metrics.Recorder) *Manager {
	if rec == nil {
		rec = metrics.Nop()
	}
	return &Manager{
		logger: logx.NewLogger("stream"),
		rec:    rec,
	}
}

// Start preempts any active session, mints a fresh session ID, and begins
// streaming the request. The returned channel closes when the session's event
// pump has drained, whatever the terminal state was.
func (m *Manager) Start(ctx context.Context, client llm.Client, req llm.CompletionRequest, handler Handler) (string, <-chan struct{}, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	sess := &liveSession{
		id:      uuid.New().String(),
		model:   req.Model,
		prompt:  req.Prompt,
		status:  StatusCreated,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if sess.model == "" {
		sess.model = client.ModelName()
	}

	m.mu.Lock()
	if prev := m.current; prev != nil {
		if !prev.status.Terminal() {
			m.logger.Info("preempting session %s for a new turn", prev.id)
			prev.status = StatusCancelled
			prev.cancel()
		}
		m.last = prev
	}
	m.current = sess
	m.mu.Unlock()

	events, err := client.Stream(streamCtx, req)
	if err != nil {
		cancel()
		m.mu.Lock()
		sess.status = StatusError
		if m.current == sess {
			m.current = nil
			m.last = sess
		}
		m.mu.Unlock()
		close(sess.done)
		return "", nil, err
	}

	go m.pump(sess, events, handler)
	return sess.id, sess.done, nil
}

func (m *Manager) pump(sess *liveSession, events <-chan llm.StreamEvent, handler Handler) {
	defer close(sess.done)
	for ev := range events {
		if !m.admit(sess, ev) {
			m.rec.IncStaleEvent()
			continue
		}
		m.rec.IncStreamEvent(string(ev.Kind))
		handler(sess.id, ev)
	}
}

// admit updates session state for the event and reports whether the session
// is still the current one. Events for a superseded session are dropped.
func (m *Manager) admit(sess *liveSession, ev llm.StreamEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.id != sess.id {
		return false
	}

	switch ev.Kind {
	case llm.EventChunk:
		if sess.status == StatusCreated {
			sess.status = StatusStreaming
		}
		sess.text.WriteString(ev.Text)
	case llm.EventDone:
		sess.status = StatusDone
	case llm.EventError:
		sess.status = StatusError
	case llm.EventCancelled:
		sess.status = StatusCancelled
	}

	if sess.status.Terminal() {
		m.logger.Debug("session %s finished: %s", sess.id, sess.status)
		m.current = nil
		m.last = sess
	}
	return true
}

// Cancel requests cooperative cancellation of the active session. The
// terminal Cancelled event arrives through the handler once the transport
// lets go. Returns false when nothing was active.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.status.Terminal() {
		return false
	}
	m.logger.Info("cancelling session %s", m.current.id)
	m.current.cancel()
	return true
}

// Active reports whether a session is currently live.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.current.status.Terminal()
}

// CurrentID returns the active session's ID, or "".
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.id
}

// Session snapshots the active session, falling back to the most recently
// finished one. ok is false when the manager has never run a session.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.current
	if sess == nil {
		sess = m.last
	}
	if sess == nil {
		return Session{}, false
	}
	return Session{
		ID:      sess.id,
		Model:   sess.model,
		Prompt:  sess.prompt,
		Status:  sess.status,
		Text:    sess.text.String(),
		Started: sess.started,
	}, true
}
