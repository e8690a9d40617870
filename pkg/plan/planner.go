package plan

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"sidekick/pkg/intent"
	"sidekick/pkg/llm"
	"sidekick/pkg/logx"
	"sidekick/pkg/metrics"
	"sidekick/pkg/proto"
	"sidekick/pkg/templates"
)

// BuildContext is the session material the planning prompt may include.
type BuildContext struct {
	ChunkBlock     string
	ContextSummary string
}

// Planner builds plans with the model, degrading to a single-task plan when
// the model cannot be trusted.
type Planner struct {
	client   llm.Client
	renderer *templates.Renderer
	logger   *logx.Logger
	rec      *metrics.Recorder
}

// NewPlanner wires a planner to its model client and prompt renderer.
func NewPlanner(client llm.Client, renderer *templates.Renderer, rec *metrics.Recorder) *Planner {
	if rec == nil {
		rec = metrics.Nop()
	}
	return &Planner{
		client:   client,
		renderer: renderer,
		logger:   logx.NewLogger("plan"),
		rec:      rec,
	}
}

// ShouldPlan asks the model whether the request needs multiple steps. Any
// failure means no: the single-task path is always safe.
func (p *Planner) ShouldPlan(ctx context.Context, userMsg string, it intent.Intent) bool {
	data := &templates.PromptData{
		UserMessage: userMsg,
		TaskContent: it.ToolName.String(),
	}
	req, err := p.renderer.Request(templates.ShouldPlanTemplate, data, llm.GenerationOptions{})
	if err != nil {
		p.logger.Error("failed to render should-plan prompt: %v", err)
		return false
	}

	start := time.Now()
	resp, err := p.client.Complete(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.rec.ObserveLLMRequest(p.client.Backend(), p.client.ModelName(), "should_plan", outcome, time.Since(start))
	if err != nil {
		p.logger.Warn("should-plan call failed, taking single-task path: %v", err)
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(answer, "yes")
}

// planStepWire is the JSON shape of one step in the model's plan array.
type planStepWire struct {
	Content  string `json:"content"`
	ToolName string `json:"tool_name"`
}

// Build asks the model for an ordered step list and constructs the plan. A
// failed call, missing array, or zero usable steps yields a single-task plan
// wrapping the whole request with the intent's tool. The first task of the
// returned plan is always in_progress.
func (p *Planner) Build(ctx context.Context, userMsg string, it intent.Intent, bctx BuildContext) *Plan {
	data := &templates.PromptData{
		UserMessage:    userMsg,
		ChunkBlock:     bctx.ChunkBlock,
		ContextSummary: bctx.ContextSummary,
		Tools:          proto.ToolNames(),
	}
	req, err := p.renderer.Request(templates.PlanTemplate, data, llm.GenerationOptions{})
	if err != nil {
		p.logger.Error("failed to render plan prompt: %v", err)
		return New(it, userMsg, nil, p.rec)
	}

	start := time.Now()
	resp, err := p.client.Complete(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.rec.ObserveLLMRequest(p.client.Backend(), p.client.ModelName(), "plan", outcome, time.Since(start))
	if err != nil {
		p.logger.Warn("plan call failed, taking single-task path: %v", err)
		return New(it, userMsg, nil, p.rec)
	}

	tasks := p.parseSteps(resp.Content, it)
	if len(tasks) == 0 {
		p.logger.Warn("plan reply carried no usable steps, taking single-task path")
		return New(it, userMsg, nil, p.rec)
	}
	p.logger.Info("planned %d steps for request", len(tasks))
	return New(it, userMsg, tasks, p.rec)
}

// parseSteps extracts the step array. Steps with empty content are skipped;
// an unknown tool name falls back to the intent's tool rather than dropping
// the step.
func (p *Planner) parseSteps(content string, it intent.Intent) []Task {
	raw, ok := intent.FirstJSONArray(content)
	if !ok {
		return nil
	}
	var wire []planStepWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil
	}

	tasks := make([]Task, 0, len(wire))
	for _, step := range wire {
		text := strings.TrimSpace(step.Content)
		if text == "" {
			continue
		}
		tool, ok := proto.ParseTool(step.ToolName)
		if !ok {
			tool = it.ToolName
		}
		tasks = append(tasks, Task{Content: text, Tool: tool})
	}
	return tasks
}
