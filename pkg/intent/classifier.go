// Package intent classifies a user message into a tool and target before
// anything else runs. Classification is best-effort: every failure mode
// degrades to a chat fallback so the turn always proceeds.
package intent

import (
	"context"
	"encoding/json"
	"time"

	"sidekick/pkg/llm"
	"sidekick/pkg/logx"
	"sidekick/pkg/metrics"
	"sidekick/pkg/proto"
	"sidekick/pkg/templates"
)

// Signals describes what the user has on screen when the message arrives.
// The classifier prompt and the target tie-break both read them.
type Signals struct {
	HasChunks    bool
	HasSelection bool
	HasFile      bool
	FileName     string
}

// Intent is the classification that drives dispatch for one turn.
type Intent struct {
	ToolName        proto.Tool
	Target          proto.Target
	Confidence      float64
	OriginalRequest string
}

// Fallback is the intent used whenever classification cannot produce a
// trustworthy result: answer in chat, middling confidence, verbatim request.
func Fallback(userMsg string) Intent {
	return Intent{
		ToolName:        proto.ToolChatResponse,
		Target:          proto.TargetChat,
		Confidence:      0.5,
		OriginalRequest: userMsg,
	}
}

// Classifier produces an Intent with a single non-streaming model call.
type Classifier struct {
	client   llm.Client
	renderer *templates.Renderer
	logger   *logx.Logger
	rec      *metrics.Recorder
}

// NewClassifier wires a classifier to its model client and prompt renderer.
func NewClassifier(client llm.Client, renderer *templates.Renderer, rec *metrics.Recorder) *Classifier {
	if rec == nil {
		rec = metrics.Nop()
	}
	return &Classifier{
		client:   client,
		renderer: renderer,
		logger:   logx.NewLogger("intent"),
		rec:      rec,
	}
}

// classifierWire is the JSON shape the model is asked to emit.
type classifierWire struct {
	ToolName   string  `json:"tool_name"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
}

// Classify never returns an error. A render failure, call failure, missing or
// malformed JSON, unknown tool, or out-of-range confidence all collapse to
// the chat fallback.
func (c *Classifier) Classify(ctx context.Context, userMsg string, sig Signals) Intent {
	data := &templates.PromptData{
		UserMessage:  userMsg,
		FileName:     sig.FileName,
		HasChunks:    sig.HasChunks,
		HasSelection: sig.HasSelection,
		HasFile:      sig.HasFile,
		Tools:        proto.ToolNames(),
		Targets:      proto.TargetNames(),
	}
	req, err := c.renderer.Request(templates.ClassifyTemplate, data, llm.GenerationOptions{})
	if err != nil {
		c.logger.Error("failed to render classification prompt: %v", err)
		return Fallback(userMsg)
	}

	start := time.Now()
	resp, err := c.client.Complete(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.rec.ObserveLLMRequest(c.client.Backend(), c.client.ModelName(), "classify", outcome, time.Since(start))
	if err != nil {
		c.logger.Warn("classification call failed, falling back to chat: %v", err)
		return Fallback(userMsg)
	}

	parsed, ok := c.parse(resp.Content, userMsg, sig)
	if !ok {
		c.logger.Warn("classifier reply carried no usable intent, falling back to chat")
		return Fallback(userMsg)
	}
	c.logger.Debug("classified as %s/%s (%.2f)", parsed.ToolName, parsed.Target, parsed.Confidence)
	return parsed
}

func (c *Classifier) parse(content, userMsg string, sig Signals) (Intent, bool) {
	raw, ok := FirstJSONObject(content)
	if !ok {
		return Intent{}, false
	}
	var wire classifierWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Intent{}, false
	}

	tool, ok := proto.ParseTool(wire.ToolName)
	if !ok {
		return Intent{}, false
	}
	if wire.Confidence < 0 || wire.Confidence > 1 {
		return Intent{}, false
	}

	// An omitted or unknown target is not fatal; the on-screen signals break
	// the tie.
	target, ok := proto.ParseTarget(wire.Target)
	if !ok {
		target = TieBreakTarget(sig)
	}

	return Intent{
		ToolName:        tool,
		Target:          target,
		Confidence:      wire.Confidence,
		OriginalRequest: userMsg,
	}, true
}

// TieBreakTarget picks a target from the on-screen state: an active selection
// wins, then an open file, then plain chat.
func TieBreakTarget(sig Signals) proto.Target {
	switch {
	case sig.HasSelection:
		return proto.TargetSelection
	case sig.HasFile:
		return proto.TargetFile
	default:
		return proto.TargetChat
	}
}
