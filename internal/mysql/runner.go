package mysql

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Runner executes a native tool with its stdout streamed to w. Extra env
// entries are appended to the inherited environment, which is how the dump
// credential travels without showing up in process listings.
type Runner interface {
	Run(ctx context.Context, name string, args []string, env []string, stdout io.Writer) error
}

// RunError reports a tool that started but exited non-zero.
type RunError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, name string, args []string, env []string, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout

	// Keep only the tail of stderr; mysqldump can be chatty before the
	// actual failure reason.
	tail := newTailBuffer(4096)
	cmd.Stderr = tail

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &RunError{
				Tool:     name,
				ExitCode: exitErr.ExitCode(),
				Stderr:   tail.String(),
				Err:      err,
			}
		}
		return err
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
