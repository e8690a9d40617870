// Package memory keeps the append-only session ledger: conversation turns,
// completed plans, and the bounded context summary injected into prompts.
// Reset archives the session document to cold storage and starts fresh.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sidekick/pkg/intent"
	"sidekick/pkg/logx"
	"sidekick/pkg/plan"
	"sidekick/pkg/proto"
	"sidekick/pkg/tokens"
)

// ConversationRecord is one user/assistant exchange.
type ConversationRecord struct {
	UserMessage       string
	AssistantResponse string
	Intent            intent.Intent
	ToolsCalled       []string
	Timestamp         time.Time
}

// CompletedPlanRecord is one finished plan with its tasks' final statuses.
type CompletedPlanRecord struct {
	Intent          intent.Intent
	OriginalMessage string
	Tasks           []plan.Task
	Success         bool
	Summary         string
	Timestamp       time.Time
}

// Archiver stores a finished session document. *persistence.Store satisfies
// it; tests substitute their own.
type Archiver interface {
	ArchiveSession(ctx context.Context, sessionID string, startedAt time.Time, document string) error
}

// Limits bounds the context summary. Zero fields take the defaults.
type Limits struct {
	SummaryTurns        int // last N turns included
	SummaryMessageChars int // per-message truncation
}

const (
	defaultSummaryTurns        = 4
	defaultSummaryMessageChars = 240
	maxGoalChars               = 120
	maxGoals                   = 8
)

// Ledger is the session record. It is owned by the coordinator loop and is
// not safe for concurrent use.
type Ledger struct {
	sessionID      string
	startTime      time.Time
	conversations  []ConversationRecord
	completedPlans []CompletedPlanRecord
	totalCompleted int
	toolsCalled    []string
	goals          []string

	archive Archiver
	counter *tokens.Counter
	limits  Limits
	logger  *logx.Logger
}

// NewLedger starts an empty session. archive may be nil (Reset then simply
// discards); counter may be nil (summary truncation falls back to chars).
func NewLedger(archive Archiver, counter *tokens.Counter, limits Limits) *Ledger {
	if limits.SummaryTurns <= 0 {
		limits.SummaryTurns = defaultSummaryTurns
	}
	if limits.SummaryMessageChars <= 0 {
		limits.SummaryMessageChars = defaultSummaryMessageChars
	}
	return &Ledger{
		sessionID: uuid.NewString(),
		startTime: time.Now(),
		archive:   archive,
		counter:   counter,
		limits:    limits,
		logger:    logx.NewLogger("memory"),
	}
}

// SessionID returns the current session's ID.
func (l *Ledger) SessionID() string {
	return l.sessionID
}

// StartTime returns when the current session began.
func (l *Ledger) StartTime() time.Time {
	return l.startTime
}

// Empty reports whether the session has recorded anything.
func (l *Ledger) Empty() bool {
	return len(l.conversations) == 0 && len(l.completedPlans) == 0
}

// RecordConversation appends one exchange, stamping its time if unset, and
// folds its tools and goal phrase into the session aggregates.
func (l *Ledger) RecordConversation(rec ConversationRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	l.conversations = append(l.conversations, rec)
	for _, tool := range rec.ToolsCalled {
		l.addTool(tool)
	}
	l.addGoal(rec.UserMessage)
}

// RecordCompletedPlan appends a finished plan and bumps the completed-step
// total by its completed tasks.
func (l *Ledger) RecordCompletedPlan(rec CompletedPlanRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	l.completedPlans = append(l.completedPlans, rec)
	for i := range rec.Tasks {
		if rec.Tasks[i].Status == proto.TaskCompleted {
			l.totalCompleted++
		}
		l.addTool(rec.Tasks[i].Tool.String())
	}
	l.addGoal(rec.OriginalMessage)
}

func (l *Ledger) addTool(tool string) {
	if tool == "" {
		return
	}
	for _, seen := range l.toolsCalled {
		if seen == tool {
			return
		}
	}
	l.toolsCalled = append(l.toolsCalled, tool)
}

// addGoal keeps the first sentence of a request as a session goal phrase,
// deduplicated case-insensitively and bounded in count and length.
func (l *Ledger) addGoal(message string) {
	goal := goalPhrase(message)
	if goal == "" || len(l.goals) >= maxGoals {
		return
	}
	for _, seen := range l.goals {
		if strings.EqualFold(seen, goal) {
			return
		}
	}
	l.goals = append(l.goals, goal)
}

func goalPhrase(message string) string {
	text := strings.TrimSpace(message)
	if text == "" {
		return ""
	}
	if i := strings.IndexAny(text, ".!?\n"); i > 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if len(text) > maxGoalChars {
		text = tokens.TruncateChars(text, maxGoalChars)
	}
	return text
}

// ContextSummary renders the bounded grounding block for future prompts:
// session goals, completed-step count, and the last few turns with each
// message truncated.
func (l *Ledger) ContextSummary() string {
	if l.Empty() {
		return ""
	}

	var b strings.Builder
	if len(l.goals) > 0 {
		b.WriteString("Session goals: ")
		b.WriteString(strings.Join(l.goals, "; "))
		b.WriteString("\n")
	}
	if l.totalCompleted > 0 {
		fmt.Fprintf(&b, "Steps completed this session: %d\n", l.totalCompleted)
	}

	turns := l.conversations
	if len(turns) > l.limits.SummaryTurns {
		turns = turns[len(turns)-l.limits.SummaryTurns:]
	}
	for i := range turns {
		fmt.Fprintf(&b, "User: %s\n", l.truncate(turns[i].UserMessage))
		if turns[i].AssistantResponse != "" {
			fmt.Fprintf(&b, "Assistant: %s\n", l.truncate(turns[i].AssistantResponse))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (l *Ledger) truncate(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if l.counter != nil {
		// A rough 4 chars/token keeps both limits in the same unit.
		return l.counter.Truncate(text, l.limits.SummaryMessageChars/4+1)
	}
	return tokens.TruncateChars(text, l.limits.SummaryMessageChars)
}

// sessionDoc is the persisted session shape.
type sessionDoc struct {
	SessionID           string             `json:"sessionId"`
	StartTime           time.Time          `json:"startTime"`
	Conversations       []conversationDoc  `json:"conversations"`
	CompletedTasks      []completedPlanDoc `json:"completedTasks"`
	TotalTasksCompleted int                `json:"totalTasksCompleted"`
	ToolsCalled         []string           `json:"toolsCalled"`
	Goals               []string           `json:"goals"`
	Context             string             `json:"context"`
}

type conversationDoc struct {
	UserMessage       string    `json:"userMessage"`
	AssistantResponse string    `json:"assistantResponse"`
	Tool              string    `json:"tool"`
	Target            string    `json:"target"`
	Confidence        float64   `json:"confidence"`
	ToolsCalled       []string  `json:"toolsCalled"`
	Timestamp         time.Time `json:"timestamp"`
}

type completedPlanDoc struct {
	Tool            string    `json:"tool"`
	OriginalMessage string    `json:"originalMessage"`
	Tasks           []taskDoc `json:"tasks"`
	Success         bool      `json:"success"`
	Summary         string    `json:"summary"`
	Timestamp       time.Time `json:"timestamp"`
}

type taskDoc struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Tool    string `json:"tool"`
	Status  string `json:"status"`
}

// SessionDocument serializes the session for archival.
func (l *Ledger) SessionDocument() (string, error) {
	doc := sessionDoc{
		SessionID:           l.sessionID,
		StartTime:           l.startTime,
		Conversations:       make([]conversationDoc, 0, len(l.conversations)),
		CompletedTasks:      make([]completedPlanDoc, 0, len(l.completedPlans)),
		TotalTasksCompleted: l.totalCompleted,
		ToolsCalled:         append([]string{}, l.toolsCalled...),
		Goals:               append([]string{}, l.goals...),
		Context:             l.ContextSummary(),
	}
	for i := range l.conversations {
		c := &l.conversations[i]
		doc.Conversations = append(doc.Conversations, conversationDoc{
			UserMessage:       c.UserMessage,
			AssistantResponse: c.AssistantResponse,
			Tool:              c.Intent.ToolName.String(),
			Target:            c.Intent.Target.String(),
			Confidence:        c.Intent.Confidence,
			ToolsCalled:       c.ToolsCalled,
			Timestamp:         c.Timestamp,
		})
	}
	for i := range l.completedPlans {
		p := &l.completedPlans[i]
		entry := completedPlanDoc{
			Tool:            p.Intent.ToolName.String(),
			OriginalMessage: p.OriginalMessage,
			Success:         p.Success,
			Summary:         p.Summary,
			Timestamp:       p.Timestamp,
		}
		for j := range p.Tasks {
			entry.Tasks = append(entry.Tasks, taskDoc{
				ID:      p.Tasks[j].ID,
				Content: p.Tasks[j].Content,
				Tool:    p.Tasks[j].Tool.String(),
				Status:  p.Tasks[j].Status.String(),
			})
		}
		doc.CompletedTasks = append(doc.CompletedTasks, entry)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize session document: %w", err)
	}
	return string(data), nil
}

// Reset archives the current session when non-empty, then starts a fresh
// one. An empty session is discarded without touching cold storage.
func (l *Ledger) Reset(ctx context.Context) error {
	if !l.Empty() && l.archive != nil {
		doc, err := l.SessionDocument()
		if err != nil {
			return err
		}
		if err := l.archive.ArchiveSession(ctx, l.sessionID, l.startTime, doc); err != nil {
			return fmt.Errorf("failed to archive session %s: %w", l.sessionID, err)
		}
		l.logger.Info("archived session %s (%d turns, %d plans)",
			l.sessionID, len(l.conversations), len(l.completedPlans))
	}

	l.sessionID = uuid.NewString()
	l.startTime = time.Now()
	l.conversations = nil
	l.completedPlans = nil
	l.totalCompleted = 0
	l.toolsCalled = nil
	l.goals = nil
	return nil
}
