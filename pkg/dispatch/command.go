package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sidekick/pkg/exec"
	"sidekick/pkg/extract"
	"sidekick/pkg/llm"
	"sidekick/pkg/plan"
	"sidekick/pkg/templates"
)

// runCommand turns the task into one shell command via the model, runs it,
// and reports the outcome. A non-zero exit marks the task failed but is not
// an error; only spawn and interrupt failures are.
func (d *Dispatcher) runCommand(ctx context.Context, task *plan.Task, pl *plan.Plan, ectx *ExecContext) Result {
	shell := ectx.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	data := &templates.PromptData{
		OriginalMessage: pl.OriginalMessage,
		TaskContent:     stepContent(task, pl),
		ContextSummary:  ectx.ContextSummary,
		CommandShell:    shell,
	}
	req, err := d.renderer.Request(templates.CommandTemplate, data, llm.GenerationOptions{})
	if err != nil {
		return Result{Tool: task.Tool, Response: fmt.Sprintf("failed to build the prompt: %v", err)}
	}

	start := time.Now()
	resp, err := d.client.Complete(ctx, req)
	if err != nil {
		d.observe("command", "error", start)
		if ctx.Err() != nil {
			return Result{Tool: task.Tool, Cancelled: true}
		}
		return Result{Tool: task.Tool, Response: fmt.Sprintf("the model call failed: %v", err)}
	}
	d.observe("command", "ok", start)

	command := proposedCommand(resp.Content)
	if command == "" {
		return Result{Tool: task.Tool, Response: "The reply did not contain a runnable command. Try rephrasing the request."}
	}

	d.logger.Info("running proposed command: %s", command)
	res, err := d.runner.Run(ctx, command, exec.Opts{Shell: ectx.Shell, WorkDir: ectx.WorkDir})
	if err != nil {
		if ctx.Err() != nil {
			return Result{Tool: task.Tool, Cancelled: true, Response: fmt.Sprintf("$ %s\n(interrupted)", command)}
		}
		return Result{Tool: task.Tool, Response: fmt.Sprintf("failed to run %q: %v", command, err)}
	}

	return Result{Tool: task.Tool, Success: res.Success, Response: commandReport(command, res)}
}

// proposedCommand pulls the command out of a model reply. Only fenced
// replies count: prose that merely talks about a command is never run.
func proposedCommand(resp string) string {
	body, ok := extract.FirstFencedBody(resp)
	if !ok {
		return ""
	}
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return strings.TrimPrefix(line, "$ ")
		}
	}
	return ""
}

// commandReport formats a command run for the chat surface.
func commandReport(command string, res exec.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", command)
	if out := strings.TrimSpace(res.Output); out != "" {
		b.WriteString(clampOutput(out))
		b.WriteString("\n")
	}
	if errOut := strings.TrimSpace(res.ErrOutput); errOut != "" {
		b.WriteString(clampOutput(errOut))
		b.WriteString("\n")
	}
	if !res.Success {
		fmt.Fprintf(&b, "[exit %d]\n", res.ExitCode)
	}
	return strings.TrimRight(b.String(), "\n")
}
