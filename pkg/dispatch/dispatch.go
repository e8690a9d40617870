// Package dispatch executes planned tasks. Each tool in the closed set has
// exactly one handler; anything outside the set produces an instructional
// chat message, never a panic. Mutating tools resolve their target before any
// model call and apply replacements through the collaborator interfaces with
// explicit success checks.
package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"sidekick/pkg/chunks"
	"sidekick/pkg/exec"
	"sidekick/pkg/extract"
	"sidekick/pkg/llm"
	"sidekick/pkg/logx"
	"sidekick/pkg/metrics"
	"sidekick/pkg/plan"
	"sidekick/pkg/proto"
	"sidekick/pkg/stream"
	"sidekick/pkg/templates"
	"sidekick/pkg/tokens"
	"sidekick/pkg/workspace"
)

const (
	// maxFilePromptTokens bounds how much of an open file is inlined into a
	// prompt.
	maxFilePromptTokens = 4096
	// maxDisplayBytes bounds file and command output surfaced to chat.
	maxDisplayBytes = 16 * 1024
)

// Deps are the collaborators a Dispatcher drives. All but Tokens and
// Recorder are required.
type Deps struct {
	Client    llm.Client
	Renderer  *templates.Renderer
	Streams   *stream.Manager
	Extractor *extract.Extractor
	FS        workspace.Filesystem
	Editor    workspace.Editor
	Runner    *exec.Runner
	Tokens    *tokens.Counter
	Recorder  *metrics.Recorder
}

// Dispatcher runs one task at a time against the model and the workspace.
type Dispatcher struct {
	client    llm.Client
	renderer  *templates.Renderer
	streams   *stream.Manager
	extractor *extract.Extractor
	fs        workspace.Filesystem
	editor    workspace.Editor
	runner    *exec.Runner
	tokens    *tokens.Counter
	logger    *logx.Logger
	rec       *metrics.Recorder
}

// NewDispatcher wires a dispatcher from its collaborators.
func NewDispatcher(deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Client == nil:
		return nil, fmt.Errorf("dispatcher requires an llm client")
	case deps.Renderer == nil:
		return nil, fmt.Errorf("dispatcher requires a template renderer")
	case deps.Streams == nil:
		return nil, fmt.Errorf("dispatcher requires a stream manager")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("dispatcher requires a code extractor")
	case deps.FS == nil:
		return nil, fmt.Errorf("dispatcher requires a filesystem")
	case deps.Editor == nil:
		return nil, fmt.Errorf("dispatcher requires an editor")
	case deps.Runner == nil:
		return nil, fmt.Errorf("dispatcher requires a command runner")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop()
	}
	return &Dispatcher{
		client:    deps.Client,
		renderer:  deps.Renderer,
		streams:   deps.Streams,
		extractor: deps.Extractor,
		fs:        deps.FS,
		editor:    deps.Editor,
		runner:    deps.Runner,
		tokens:    deps.Tokens,
		logger:    logx.NewLogger("dispatch"),
		rec:       deps.Recorder,
	}, nil
}

// ExecContext carries the per-turn surroundings a task executes in.
type ExecContext struct {
	Chunks         *chunks.Context
	ContextSummary string
	OnStream       stream.Handler
	WorkDir        string
	Shell          string
}

// Result is the outcome of one executed task. Success and Cancelled are
// mutually exclusive; a result with neither marks the task failed.
type Result struct {
	Tool      proto.Tool
	Success   bool
	Cancelled bool
	Response  string
	Diff      string
}

// Execute runs one task. The switch covers every tool in the set; an unknown
// tool falls to the default branch and comes back as an instructional chat
// message.
func (d *Dispatcher) Execute(ctx context.Context, task *plan.Task, pl *plan.Plan, ectx *ExecContext) Result {
	if ectx == nil {
		ectx = &ExecContext{}
	}
	d.logger.Info("executing %s task %s", task.Tool, task.ID)

	switch task.Tool {
	case proto.ToolChatResponse, proto.ToolAnalyzeCode, proto.ToolExplainCode:
		return d.converse(ctx, task, pl, ectx)
	case proto.ToolReadFile:
		return d.readFile(task, pl, ectx)
	case proto.ToolRunCommand:
		return d.runCommand(ctx, task, pl, ectx)
	case proto.ToolCreateFile:
		return d.createFile(ctx, task, pl, ectx)
	case proto.ToolCreateFolder:
		return d.createFolder(task, pl)
	case proto.ToolEditFile, proto.ToolRefactorCode, proto.ToolFixIssues, proto.ToolOptimizeCode:
		return d.mutate(ctx, task, pl, ectx)
	default:
		d.logger.Warn("unknown tool %q in task %s", task.Tool, task.ID)
		return Result{
			Tool: task.Tool,
			Response: fmt.Sprintf("%q is not something I can run. I know: %s.",
				task.Tool, strings.Join(proto.ToolNames(), ", ")),
		}
	}
}

// converse answers chat_response, analyze_code, and explain_code: one
// streamed model call, no workspace mutation.
func (d *Dispatcher) converse(ctx context.Context, task *plan.Task, pl *plan.Plan, ectx *ExecContext) Result {
	data := d.conversationData(pl, ectx)
	data.TaskContent = stepContent(task, pl)

	req, err := d.renderer.Request(templates.ChatTemplate, data, llm.GenerationOptions{})
	if err != nil {
		return Result{Tool: task.Tool, Response: fmt.Sprintf("failed to build the prompt: %v", err)}
	}

	text, status, term := d.streamAndWait(ctx, "chat", req, ectx)
	return streamedResult(task.Tool, text, status, term)
}

// conversationData assembles the ambient context for chat-style prompts:
// attached chunks first, then the live selection, then the open file.
func (d *Dispatcher) conversationData(pl *plan.Plan, ectx *ExecContext) *templates.PromptData {
	data := &templates.PromptData{
		UserMessage:     pl.OriginalMessage,
		OriginalMessage: pl.OriginalMessage,
		ContextSummary:  ectx.ContextSummary,
	}

	if ectx.Chunks != nil && ectx.Chunks.Len() > 0 {
		data.HasChunks = true
		data.ChunkBlock = ectx.Chunks.PromptBlock()
		return data
	}
	if sel, ok := d.editor.Selection(); ok && !sel.Empty() {
		data.HasSelection = true
		data.SelectionText = sel.Text
		if path, open := d.editor.CurrentFile(); open {
			data.FileName = filepath.Base(path)
		}
		return data
	}
	if path, open := d.editor.CurrentFile(); open {
		if doc, err := d.editor.Document(path); err == nil {
			data.HasFile = true
			data.FilePath = path
			data.FileName = filepath.Base(path)
			data.FileContent = d.clampForPrompt(doc)
		}
	}
	return data
}

// readFile surfaces a file to chat and attaches it as a chunk so later steps
// can edit it.
func (d *Dispatcher) readFile(task *plan.Task, pl *plan.Plan, ectx *ExecContext) Result {
	path := d.resolveReadPath(task.Content, pl.OriginalMessage)
	if path == "" {
		return Result{Tool: task.Tool, Response: "Tell me which file to read (a path like src/app.js), or open one first."}
	}

	content, err := d.fs.ReadFile(path)
	if err != nil {
		return Result{Tool: task.Tool, Response: fmt.Sprintf("failed to read %s: %v", path, err)}
	}

	lineCount := strings.Count(content, "\n") + 1
	if ectx.Chunks != nil {
		if _, _, err := ectx.Chunks.AddRegion(path, 1, lineCount, content); err != nil {
			d.logger.Warn("could not attach %s as context: %v", path, err)
		}
	}

	body := clampOutput(strings.TrimSuffix(content, "\n"))
	return Result{
		Tool:     task.Tool,
		Success:  true,
		Response: fmt.Sprintf("%s (%d lines):\n```\n%s\n```", path, lineCount, body),
	}
}

// resolveReadPath picks the file to read: the first existing path named in
// the texts, else the editor's current file.
func (d *Dispatcher) resolveReadPath(texts ...string) string {
	for _, text := range texts {
		for _, cand := range pathCandidates(text) {
			if d.fs.Exists(cand) {
				return cand
			}
		}
	}
	if path, open := d.editor.CurrentFile(); open {
		return path
	}
	return ""
}

// streamAndWait runs one streaming model call to completion, teeing events
// to the turn's handler. A session superseded mid-flight counts as
// cancelled. The returned event is the terminal one, when the handler saw it.
func (d *Dispatcher) streamAndWait(ctx context.Context, kind string, req llm.CompletionRequest, ectx *ExecContext) (string, stream.Status, llm.StreamEvent) {
	var term llm.StreamEvent
	handler := func(id string, ev llm.StreamEvent) {
		if ev.Kind.Terminal() {
			term = ev
		}
		if ectx.OnStream != nil {
			ectx.OnStream(id, ev)
		}
	}

	start := time.Now()
	id, done, err := d.streams.Start(ctx, d.client, req, handler)
	if err != nil {
		d.observe(kind, "error", start)
		return "", stream.StatusError, llm.StreamEvent{Kind: llm.EventError, Err: err}
	}
	<-done

	sess, ok := d.streams.Session()
	if !ok || sess.ID != id {
		d.observe(kind, "preempted", start)
		return "", stream.StatusCancelled, term
	}

	outcome := "ok"
	if sess.Status != stream.StatusDone {
		outcome = string(sess.Status)
	}
	d.observe(kind, outcome, start)
	return sess.Text, sess.Status, term
}

func (d *Dispatcher) observe(kind, outcome string, start time.Time) {
	d.rec.ObserveLLMRequest(d.client.Backend(), d.client.ModelName(), kind, outcome, time.Since(start))
}

// streamedResult maps a finished stream onto a task outcome. Cancelled text
// still reaches the chat surface but never marks the task successful.
func streamedResult(tool proto.Tool, text string, status stream.Status, term llm.StreamEvent) Result {
	switch status {
	case stream.StatusDone:
		return Result{Tool: tool, Success: true, Response: text}
	case stream.StatusCancelled:
		return Result{Tool: tool, Cancelled: true, Response: text}
	default:
		msg := "the model call failed"
		if term.Err != nil {
			msg = fmt.Sprintf("the model call failed: %v", term.Err)
		}
		return Result{Tool: tool, Response: msg}
	}
}

// stepContent returns the task content when it adds anything beyond the
// original message; single-task plans wrap the message verbatim.
func stepContent(task *plan.Task, pl *plan.Plan) string {
	if strings.TrimSpace(task.Content) == strings.TrimSpace(pl.OriginalMessage) {
		return ""
	}
	return task.Content
}

// clampForPrompt keeps a document within the prompt's token budget.
func (d *Dispatcher) clampForPrompt(text string) string {
	if d.tokens != nil {
		return d.tokens.Truncate(text, maxFilePromptTokens)
	}
	return tokens.TruncateChars(text, maxFilePromptTokens*4)
}

// clampOutput keeps chat-surfaced file and command output readable.
func clampOutput(text string) string {
	if len(text) <= maxDisplayBytes {
		return text
	}
	return tokens.TruncateChars(text, maxDisplayBytes)
}
