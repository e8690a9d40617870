package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aymanbagabas/go-udiff"

	"sidekick/pkg/extract"
	"sidekick/pkg/llm"
	"sidekick/pkg/plan"
	"sidekick/pkg/templates"
)

// createFile asks the model for complete file content and writes it through
// the filesystem collaborator. Existing files are never overwritten here;
// that is what the editing tools are for.
func (d *Dispatcher) createFile(ctx context.Context, task *plan.Task, pl *plan.Plan, ectx *ExecContext) Result {
	hinted := d.newFileHint(task.Content, pl.OriginalMessage)

	data := &templates.PromptData{
		OriginalMessage: pl.OriginalMessage,
		TaskContent:     stepContent(task, pl),
		ContextSummary:  ectx.ContextSummary,
		FilePath:        hinted,
	}
	if ectx.Chunks != nil {
		data.ChunkBlock = ectx.Chunks.PromptBlock()
	}

	req, err := d.renderer.Request(templates.CreateFileTemplate, data, llm.GenerationOptions{})
	if err != nil {
		return Result{Tool: task.Tool, Response: fmt.Sprintf("failed to build the prompt: %v", err)}
	}

	start := time.Now()
	resp, err := d.client.Complete(ctx, req)
	if err != nil {
		d.observe("create_file", "error", start)
		if ctx.Err() != nil {
			return Result{Tool: task.Tool, Cancelled: true}
		}
		return Result{Tool: task.Tool, Response: fmt.Sprintf("the model call failed: %v", err)}
	}
	d.observe("create_file", "ok", start)

	path, body := parseFileProposal(resp.Content, hinted)
	if path == "" {
		return Result{Tool: task.Tool, Response: "Name the file to create (a path like src/app.js) and I'll write it."}
	}
	if body == "" {
		return Result{Tool: task.Tool, Response: fmt.Sprintf("The reply had no content for %s. Try describing what the file should contain.", path)}
	}
	if d.fs.Exists(path) {
		d.rec.IncApply("rejected")
		return Result{Tool: task.Tool, Response: fmt.Sprintf("%s already exists. Ask me to edit it instead.", path)}
	}

	if err := d.fs.WriteFile(path, body); err != nil {
		d.rec.IncApply("failed")
		return Result{Tool: task.Tool, Response: fmt.Sprintf("failed to write %s: %v", path, err)}
	}
	d.rec.IncApply("ok")
	d.logger.Info("created %s (%d bytes)", path, len(body))

	lineCount := strings.Count(body, "\n") + 1
	return Result{
		Tool:     task.Tool,
		Success:  true,
		Response: fmt.Sprintf("Created %s (%d lines).", path, lineCount),
		Diff:     udiff.Unified("a/"+path, "b/"+path, "", body),
	}
}

// createFolder creates the directory named by the task. No model call: a
// folder name the user never gave is a guess, and guesses are not applied.
func (d *Dispatcher) createFolder(task *plan.Task, pl *plan.Plan) Result {
	text := pl.OriginalMessage
	if step := stepContent(task, pl); step != "" {
		text = step + " " + text
	}
	path := folderPath(text)
	if path == "" {
		return Result{Tool: task.Tool, Response: "Tell me the folder path to create, like src/components."}
	}
	if d.fs.Exists(path) {
		return Result{Tool: task.Tool, Success: true, Response: fmt.Sprintf("%s already exists.", path)}
	}
	if err := d.fs.CreateDirectory(path); err != nil {
		d.rec.IncApply("failed")
		return Result{Tool: task.Tool, Response: fmt.Sprintf("failed to create %s: %v", path, err)}
	}
	d.rec.IncApply("ok")
	return Result{Tool: task.Tool, Success: true, Response: fmt.Sprintf("Created %s/.", strings.TrimSuffix(path, "/"))}
}

// newFileHint picks the path the user likely wants created: the first named
// path that does not exist yet.
func (d *Dispatcher) newFileHint(texts ...string) string {
	for _, text := range texts {
		for _, cand := range pathCandidates(text) {
			if !d.fs.Exists(cand) {
				return cand
			}
		}
	}
	return ""
}

// parseFileProposal reads the "File: path" line and the fenced content from
// a create_file reply, falling back to the hinted path.
func parseFileProposal(resp, hinted string) (path, body string) {
	for _, line := range strings.Split(resp, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		for _, prefix := range []string{"file:", "filename:", "path:"} {
			if strings.HasPrefix(lower, prefix) {
				raw := strings.Trim(strings.TrimSpace(trimmed[len(prefix):]), "`'\"")
				if raw != "" {
					path = raw
				}
				break
			}
		}
		if path != "" {
			break
		}
	}
	if path == "" {
		path = hinted
	}
	body, _ = extract.FencedBody(resp)
	return path, body
}

// pathCandidates returns the path-shaped tokens of text in order: tokens
// containing a separator or a file extension, stripped of surrounding
// punctuation.
func pathCandidates(text string) []string {
	var out []string
	for _, field := range strings.Fields(text) {
		token := strings.TrimRight(field, ".,;:!?")
		token = strings.Trim(token, "`'\"()[]{}<>")
		token = strings.TrimRight(token, ".,;:!?")
		if token == "" || token == "." || token == ".." {
			continue
		}
		if strings.HasPrefix(token, "-") || strings.Contains(token, "://") {
			continue
		}
		if strings.Contains(token, "/") || filepath.Ext(token) != "" {
			out = append(out, token)
		}
	}
	return out
}

// folderWords introduce a folder name; fillerWords sit between the keyword
// and the name ("a folder called assets").
var (
	folderWords = map[string]bool{
		"folder": true, "directory": true, "dir": true,
		"subfolder": true, "subdirectory": true,
	}
	fillerWords = map[string]bool{
		"a": true, "an": true, "the": true, "new": true, "my": true,
		"this": true, "that": true, "called": true, "named": true,
		"for": true, "at": true, "in": true, "under": true, "to": true,
		"create": true, "make": true, "add": true, "please": true,
	}
)

// folderPath finds the folder a text names: the token nearest a folder word,
// else the first separator-containing token without a file extension.
func folderPath(text string) string {
	fields := strings.Fields(text)
	for i, field := range fields {
		word := strings.ToLower(strings.TrimRight(field, ".,;:!?"))
		if !folderWords[word] {
			continue
		}
		// Look after the keyword first, then before it ("the build dir").
		for j := i + 1; j < len(fields) && j <= i+3; j++ {
			if cand := cleanNameToken(fields[j]); cand != "" {
				return cand
			}
		}
		for j := i - 1; j >= 0 && j >= i-2; j-- {
			if cand := cleanNameToken(fields[j]); cand != "" {
				return cand
			}
		}
	}
	for _, cand := range pathCandidates(text) {
		if filepath.Ext(cand) == "" {
			return cand
		}
	}
	return ""
}

func cleanNameToken(field string) string {
	token := strings.TrimRight(field, ".,;:!?")
	token = strings.Trim(token, "`'\"()[]{}<>")
	token = strings.TrimRight(token, ".,;:!?")
	lower := strings.ToLower(token)
	if token == "" || fillerWords[lower] || folderWords[lower] {
		return ""
	}
	if filepath.Ext(token) != "" && !strings.HasSuffix(token, "/") {
		return ""
	}
	return strings.TrimSuffix(token, "/")
}
