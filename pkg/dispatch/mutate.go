package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aymanbagabas/go-udiff"

	"sidekick/pkg/extract"
	"sidekick/pkg/llm"
	"sidekick/pkg/plan"
	"sidekick/pkg/stream"
	"sidekick/pkg/templates"
)

// mutate handles edit_file, refactor_code, fix_issues, and optimize_code.
// The target is resolved before any model call; without one the user gets
// told what to attach. The write is the last step of the action.
func (d *Dispatcher) mutate(ctx context.Context, task *plan.Task, pl *plan.Plan, ectx *ExecContext) Result {
	targets, data := d.resolveTargets(ectx)
	if len(targets) == 0 {
		return Result{
			Tool:     task.Tool,
			Response: "There is nothing to edit yet. Attach a code chunk, select code, or open a file, then ask again.",
		}
	}

	data.UserMessage = pl.OriginalMessage
	data.OriginalMessage = pl.OriginalMessage
	data.TaskContent = stepContent(task, pl)
	data.ContextSummary = ectx.ContextSummary

	req, err := d.renderer.Request(templates.EditTemplate, data, llm.GenerationOptions{})
	if err != nil {
		return Result{Tool: task.Tool, Response: fmt.Sprintf("failed to build the prompt: %v", err)}
	}

	text, status, term := d.streamAndWait(ctx, "edit", req, ectx)
	if status == stream.StatusCancelled {
		// Cancelled output is unreliable and is never applied.
		return Result{Tool: task.Tool, Cancelled: true}
	}
	if status != stream.StatusDone {
		msg := "the model call failed"
		if term.Err != nil {
			msg = fmt.Sprintf("the model call failed: %v", term.Err)
		}
		return Result{Tool: task.Tool, Response: msg}
	}

	cands := d.extractor.Extract(text, targets)
	if len(cands) == 0 {
		d.rec.IncApply("rejected")
		return Result{
			Tool:     task.Tool,
			Response: "I couldn't find a concrete replacement in that reply. Attach the exact chunk to change, or rephrase with the file and lines you mean.",
		}
	}

	colorSensitive := wantsColorChange(pl.OriginalMessage, task.Content)

	var diffs []string
	var rejected []string
	for _, cand := range orderForApply(cands, targets) {
		target, ok := candidateTarget(targets, cand)
		if !ok {
			continue
		}
		if err := extract.Validate(cand, target, colorSensitive); err != nil {
			d.rec.IncApply("rejected")
			rejected = append(rejected, fmt.Sprintf("%s: %v", describeRegion(target), err))
			continue
		}
		if err := d.applyCandidate(target, cand); err != nil {
			d.rec.IncApply("failed")
			return Result{
				Tool:     task.Tool,
				Response: fmt.Sprintf("failed to apply the change to %s: %v", target.Path, err),
				Diff:     strings.Join(diffs, "\n"),
			}
		}
		d.rec.IncApply("ok")
		d.logger.Info("applied %s to %s via %s", task.Tool, describeRegion(target), cand.Origin)
		if target.Chunk != nil && ectx.Chunks != nil {
			// The chunk snapshot tracks the applied text so the next turn's
			// prompts and targets see the current state.
			ectx.Chunks.ApplyReplacement(target.Chunk.ID, cand.Proposed)
		}
		diffs = append(diffs, udiff.Unified("a/"+target.Path, "b/"+target.Path, target.Content, cand.Proposed))
	}

	if len(diffs) == 0 {
		return Result{
			Tool:     task.Tool,
			Response: "The proposed change didn't hold up:\n" + strings.Join(rejected, "\n"),
		}
	}

	response := fmt.Sprintf("Applied %d change(s).", len(diffs))
	if len(rejected) > 0 {
		response += "\nSkipped:\n" + strings.Join(rejected, "\n")
	}
	return Result{Tool: task.Tool, Success: true, Response: response, Diff: strings.Join(diffs, "\n")}
}

// resolveTargets decides what a mutating tool may touch, in priority order:
// attached chunks, then a non-empty selection, then the whole current file.
// The prompt data's chunk block shows exactly the regions the targets cover,
// so REPLACE markers in the reply bind back to them.
func (d *Dispatcher) resolveTargets(ectx *ExecContext) ([]extract.Target, *templates.PromptData) {
	data := &templates.PromptData{}

	if ectx.Chunks != nil && ectx.Chunks.Len() > 0 {
		all := ectx.Chunks.All()
		targets := make([]extract.Target, len(all))
		for i := range all {
			targets[i] = extract.Target{
				Path:      all[i].FilePath,
				Chunk:     &all[i],
				Content:   all[i].Text,
				StartLine: all[i].StartLine,
				EndLine:   all[i].EndLine,
				Ordinal:   i + 1,
			}
		}
		data.HasChunks = true
		data.ChunkBlock = ectx.Chunks.PromptBlock()
		data.FileName = all[0].FileName
		return targets, data
	}

	if sel, ok := d.editor.Selection(); ok && !sel.Empty() {
		if path, open := d.editor.CurrentFile(); open {
			name := filepath.Base(path)
			data.HasSelection = true
			data.SelectionText = sel.Text
			data.FileName = name
			data.ChunkBlock = regionBlock("Selection", name, sel.StartLine, sel.EndLine, sel.Text)
			return []extract.Target{{
				Path:      path,
				Content:   sel.Text,
				StartLine: sel.StartLine,
				EndLine:   sel.EndLine,
			}}, data
		}
	}

	if path, open := d.editor.CurrentFile(); open {
		doc, err := d.editor.Document(path)
		if err != nil {
			d.logger.Warn("current file %s is unreadable: %v", path, err)
			return nil, data
		}
		lineCount := strings.Count(doc, "\n") + 1
		name := filepath.Base(path)
		data.HasFile = true
		data.FileName = name
		data.FilePath = path
		data.ChunkBlock = regionBlock("File", name, 1, lineCount, doc)
		return []extract.Target{{
			Path:      path,
			Content:   doc,
			StartLine: 1,
			EndLine:   lineCount,
		}}, data
	}

	return nil, data
}

// regionBlock renders a selection or file the same way chunks render, so the
// model's markers use a header the extractor can match.
func regionBlock(label, fileName string, startLine, endLine int, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (Lines %d-%d)\n```\n", label, fileName, startLine, endLine)
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	return b.String()
}

// applyCandidate writes the replacement through the editor so open buffers
// stay coherent with the file on disk.
func (d *Dispatcher) applyCandidate(target extract.Target, cand extract.Candidate) error {
	if target.StartLine > 0 {
		return d.editor.ReplaceRange(target.Path, target.StartLine, target.EndLine, cand.Proposed)
	}
	return d.editor.ReplaceAll(target.Path, cand.Proposed)
}

// candidateTarget finds the resolved target a candidate is bound to, by
// chunk identity first, then by path.
func candidateTarget(targets []extract.Target, cand extract.Candidate) (extract.Target, bool) {
	for i := range targets {
		t := targets[i]
		if cand.TargetChunk != nil {
			if t.Chunk != nil && t.Chunk.ID == cand.TargetChunk.ID {
				return t, true
			}
			continue
		}
		if t.Chunk == nil && t.Path == cand.TargetPath {
			return t, true
		}
	}
	return extract.Target{}, false
}

// orderForApply sorts candidates so same-file regions apply bottom-up, which
// keeps earlier line ranges valid while later ones change length.
func orderForApply(cands []extract.Candidate, targets []extract.Target) []extract.Candidate {
	out := make([]extract.Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		ti, iok := candidateTarget(targets, out[i])
		tj, jok := candidateTarget(targets, out[j])
		if !iok || !jok {
			return false
		}
		if ti.Path != tj.Path {
			return ti.Path < tj.Path
		}
		return ti.StartLine > tj.StartLine
	})
	return out
}

func describeRegion(t extract.Target) string {
	if t.StartLine > 0 {
		return fmt.Sprintf("%s (lines %d-%d)", t.Path, t.StartLine, t.EndLine)
	}
	return t.Path
}

// colorWordRe flags requests where validation must see the colors actually
// change.
var colorWordRe = regexp.MustCompile(`(?i)\b(colors?|colours?|themes?|themed|palette|dark mode|light mode)\b`)

func wantsColorChange(texts ...string) bool {
	for _, t := range texts {
		if colorWordRe.MatchString(t) {
			return true
		}
	}
	return false
}
