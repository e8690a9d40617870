// Package exec runs shell commands on behalf of the copilot. A non-zero
// exit is a result the caller inspects, not a Go error; errors are reserved
// for commands that never ran (bad workdir, cancelled context, missing shell).
package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"time"
)

// DefaultMaxOutputBytes caps captured stdout/stderr per stream.
const DefaultMaxOutputBytes = 64 * 1024

// Opts controls a single command run.
type Opts struct {
	// Shell overrides the default /bin/sh. The command string is passed to
	// it with -c.
	Shell string
	// WorkDir is the directory the command runs in. Must exist.
	WorkDir string
	// Env entries (KEY=value) appended to the inherited environment.
	Env []string
	// Timeout bounds the run; zero means no timeout beyond the context.
	Timeout time.Duration
	// MaxOutputBytes caps each captured stream; zero means the default.
	MaxOutputBytes int
}

// Result is the outcome of a command run.
type Result struct {
	Success   bool
	Output    string
	ErrOutput string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// Runner executes commands through a shell.
type Runner struct {
	shell string
}

// NewRunner returns a runner using the given shell, or /bin/sh when empty.
func NewRunner(shell string) *Runner {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Runner{shell: shell}
}

// Shell reports the shell commands run under.
func (r *Runner) Shell() string {
	return r.shell
}

// Run executes command via the shell and captures its output. The command
// failing is reported through Result.Success and Result.ExitCode with a nil
// error; a non-nil error means the command could not be run at all.
func (r *Runner) Run(ctx context.Context, command string, opts Opts) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, fmt.Errorf("command cannot be empty")
	}

	shell := opts.Shell
	if shell == "" {
		shell = r.shell
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := osexec.CommandContext(ctx, shell, "-c", command)

	if opts.WorkDir != "" {
		if _, err := os.Stat(opts.WorkDir); err != nil {
			return Result{}, fmt.Errorf("working directory %s is not usable: %w", opts.WorkDir, err)
		}
		cmd.Dir = opts.WorkDir
	}

	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		// Cancellation and timeout surface as errors so the caller can
		// distinguish "user stopped it" from "command failed".
		if ctx.Err() != nil {
			return Result{Duration: duration}, fmt.Errorf("command interrupted: %w", ctx.Err())
		}
		var exitErr *osexec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Result{Duration: duration}, fmt.Errorf("failed to run command: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	limit := opts.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	out, outCut := capOutput(stdout.String(), limit)
	errOut, errCut := capOutput(stderr.String(), limit)

	return Result{
		Success:   exitCode == 0,
		Output:    out,
		ErrOutput: errOut,
		ExitCode:  exitCode,
		Duration:  duration,
		Truncated: outCut || errCut,
	}, nil
}

func capOutput(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	cut := s[:max]
	// Back up to a rune boundary.
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut + "\n... [output truncated]", true
}
