// Package proto defines the closed vocabularies shared across the pipeline:
// tool identifiers, intent targets, and task statuses. Keeping them in one
// dependency-free package lets every stage switch exhaustively over the same
// types.
package proto

import "strings"

// Tool identifies one action the dispatcher can execute. The set is closed;
// the dispatcher switches exhaustively over it and treats anything else as
// an instructional error, never a dynamic lookup.
type Tool string

const (
	ToolChatResponse Tool = "chat_response"
	ToolRunCommand   Tool = "run_command"
	ToolEditFile     Tool = "edit_file"
	ToolCreateFile   Tool = "create_file"
	ToolCreateFolder Tool = "create_folder"
	ToolAnalyzeCode  Tool = "analyze_code"
	ToolExplainCode  Tool = "explain_code"
	ToolRefactorCode Tool = "refactor_code"
	ToolFixIssues    Tool = "fix_issues"
	ToolOptimizeCode Tool = "optimize_code"
	ToolReadFile     Tool = "read_file"
)

// AllTools returns the closed tool set in prompt order.
func AllTools() []Tool {
	return []Tool{
		ToolChatResponse,
		ToolRunCommand,
		ToolEditFile,
		ToolCreateFile,
		ToolCreateFolder,
		ToolAnalyzeCode,
		ToolExplainCode,
		ToolRefactorCode,
		ToolFixIssues,
		ToolOptimizeCode,
		ToolReadFile,
	}
}

// ToolNames returns the tool identifiers as strings, for prompt rendering.
func ToolNames() []string {
	tools := AllTools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = string(t)
	}
	return names
}

// ParseTool maps a model-provided name onto the closed set. Matching is
// case-insensitive and tolerates surrounding whitespace; anything outside
// the set fails.
func ParseTool(s string) (Tool, bool) {
	candidate := Tool(strings.ToLower(strings.TrimSpace(s)))
	if candidate.Valid() {
		return candidate, true
	}
	return "", false
}

// Valid reports membership in the closed set.
func (t Tool) Valid() bool {
	switch t {
	case ToolChatResponse, ToolRunCommand, ToolEditFile, ToolCreateFile,
		ToolCreateFolder, ToolAnalyzeCode, ToolExplainCode, ToolRefactorCode,
		ToolFixIssues, ToolOptimizeCode, ToolReadFile:
		return true
	default:
		return false
	}
}

// RequiresTarget reports whether the tool rewrites existing code and so must
// resolve a target (chunk, selection, or open file) before any model call.
func (t Tool) RequiresTarget() bool {
	switch t {
	case ToolEditFile, ToolRefactorCode, ToolFixIssues, ToolOptimizeCode:
		return true
	default:
		return false
	}
}

// Conversational reports whether the tool only produces chat output.
func (t Tool) Conversational() bool {
	switch t {
	case ToolChatResponse, ToolAnalyzeCode, ToolExplainCode:
		return true
	default:
		return false
	}
}

func (t Tool) String() string {
	return string(t)
}

// Target identifies what an intent should operate on.
type Target string

const (
	TargetSelection   Target = "selection"
	TargetFile        Target = "file"
	TargetChat        Target = "chat"
	TargetCurrentTodo Target = "current-todo"
)

// AllTargets returns the closed target set in prompt order.
func AllTargets() []Target {
	return []Target{TargetSelection, TargetFile, TargetChat, TargetCurrentTodo}
}

// TargetNames returns the target identifiers as strings, for prompt
// rendering.
func TargetNames() []string {
	targets := AllTargets()
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = string(t)
	}
	return names
}

// ParseTarget maps a model-provided target onto the closed set.
func ParseTarget(s string) (Target, bool) {
	candidate := Target(strings.ToLower(strings.TrimSpace(s)))
	if candidate.Valid() {
		return candidate, true
	}
	return "", false
}

// Valid reports membership in the closed set.
func (t Target) Valid() bool {
	switch t {
	case TargetSelection, TargetFile, TargetChat, TargetCurrentTodo:
		return true
	default:
		return false
	}
}

func (t Target) String() string {
	return string(t)
}

// TaskStatus is the lifecycle state of one plan step.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is final for the task.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

func (s TaskStatus) String() string {
	return string(s)
}
