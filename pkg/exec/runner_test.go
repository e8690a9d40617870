package exec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner("")

	res, err := r.Run(context.Background(), "echo hello; echo oops >&2", Opts{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Output)
	assert.Equal(t, "oops\n", res.ErrOutput)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRunNonZeroExitIsResultNotError(t *testing.T) {
	r := NewRunner("")

	res, err := r.Run(context.Background(), "exit 3", Opts{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunEmptyCommand(t *testing.T) {
	r := NewRunner("")

	_, err := r.Run(context.Background(), "   ", Opts{})
	assert.Error(t, err)
}

func TestRunRespectsWorkDir(t *testing.T) {
	r := NewRunner("")
	dir := t.TempDir()

	res, err := r.Run(context.Background(), "pwd", Opts{WorkDir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, strings.TrimSpace(res.Output))

	_, err = r.Run(context.Background(), "pwd", Opts{WorkDir: dir + "/missing"})
	assert.Error(t, err)
}

func TestRunAppendsEnv(t *testing.T) {
	r := NewRunner("")

	res, err := r.Run(context.Background(), "echo $SIDEKICK_TEST_VAR", Opts{Env: []string{"SIDEKICK_TEST_VAR=wired"}})
	require.NoError(t, err)
	assert.Equal(t, "wired", strings.TrimSpace(res.Output))
}

func TestRunTimeoutIsError(t *testing.T) {
	r := NewRunner("")

	_, err := r.Run(context.Background(), "sleep 5", Opts{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
}

func TestRunCancelIsError(t *testing.T) {
	r := NewRunner("")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var runErr error
	go func() {
		_, runErr = r.Run(ctx, "sleep 5", Opts{})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	require.Error(t, runErr)
	assert.ErrorIs(t, runErr, context.Canceled)
}

func TestRunTruncatesLongOutput(t *testing.T) {
	r := NewRunner("")

	res, err := r.Run(context.Background(), "yes x | head -c 2000", Opts{MaxOutputBytes: 128})
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, len(res.Output), 128+len("\n... [output truncated]"))
	assert.Contains(t, res.Output, "[output truncated]")
}

func TestCapOutputRuneBoundary(t *testing.T) {
	// 3-byte runes: a 4-byte cap must back up to the rune boundary.
	cut, truncated := capOutput("日本語", 4)
	assert.True(t, truncated)
	assert.Equal(t, "日\n... [output truncated]", cut)
}
