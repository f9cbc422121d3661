package mysql

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

func TestFilterDatabases(t *testing.T) {
	tests := []struct {
		name     string
		names    []string
		excluded []string
		want     []string
	}{
		{
			name:     "system schemas and exclusion set",
			names:    []string{"information_schema", "sys", "appdb", "appdb2"},
			excluded: []string{"appdb2"},
			want:     []string{"appdb"},
		},
		{
			name:  "all system schemas dropped",
			names: []string{"information_schema", "performance_schema", "mysql", "sys"},
			want:  nil,
		},
		{
			name:     "case insensitive matching",
			names:    []string{"INFORMATION_SCHEMA", "AppDB", "Orders"},
			excluded: []string{"appdb"},
			want:     []string{"Orders"},
		},
		{
			name:  "sorted output",
			names: []string{"zeta", "alpha", "mid"},
			want:  []string{"alpha", "mid", "zeta"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterDatabases(tt.names, tt.excluded)
			assert.Equal(t, tt.want, got)
		})
	}
}

// fakeRunner records the invocation and plays back a canned behavior.
type fakeRunner struct {
	tool   string
	args   []string
	env    []string
	output string
	err    error
	block  bool // wait for ctx cancellation, as a hung mysqldump would
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, env []string, stdout io.Writer) error {
	f.tool = name
	f.args = args
	f.env = env
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.output != "" {
		io.WriteString(stdout, f.output)
	}
	return f.err
}

func TestSource_Dump_Success(t *testing.T) {
	runner := &fakeRunner{output: "-- MySQL dump\nCREATE TABLE t;\n"}
	src := NewSource(Target{
		Host:     "db.internal",
		User:     "backup",
		Password: "s3cret",
	}, WithRunner(runner))

	var out strings.Builder
	err := src.Dump(context.Background(), "appdb", &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "MySQL dump")

	assert.Equal(t, "mysqldump", runner.tool)
	assert.Contains(t, runner.args, "--host=db.internal")
	assert.Contains(t, runner.args, "--port=3306")
	assert.Contains(t, runner.args, "--single-transaction")
	assert.Equal(t, "appdb", runner.args[len(runner.args)-1])
}

func TestSource_Dump_PasswordNeverInArgs(t *testing.T) {
	runner := &fakeRunner{}
	src := NewSource(Target{Host: "h", User: "u", Password: "s3cret"}, WithRunner(runner))

	require.NoError(t, src.Dump(context.Background(), "appdb", io.Discard))

	for _, arg := range runner.args {
		assert.NotContains(t, arg, "s3cret")
	}
	assert.Contains(t, runner.env, "MYSQL_PWD=s3cret")
}

func TestSource_Dump_NonZeroExit(t *testing.T) {
	runner := &fakeRunner{err: &RunError{
		Tool:     "mysqldump",
		ExitCode: 2,
		Stderr:   "mysqldump: Got error: 1044: Access denied",
	}}
	src := NewSource(Target{Host: "h", User: "u"}, WithRunner(runner))

	err := src.Dump(context.Background(), "appdb", io.Discard)
	require.Error(t, err)
	assert.Equal(t, apperrors.TypeDumpFailed, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "status 2")
	assert.Contains(t, err.Error(), "Access denied")
}

func TestSource_Dump_ToolMissing(t *testing.T) {
	runner := &fakeRunner{err: &exec.Error{Name: "mysqldump", Err: exec.ErrNotFound}}
	src := NewSource(Target{Host: "h", User: "u"}, WithRunner(runner))

	err := src.Dump(context.Background(), "appdb", io.Discard)
	require.Error(t, err)
	assert.Equal(t, apperrors.TypeDumpTool, apperrors.KindOf(err))
}

func TestSource_Dump_Timeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	src := NewSource(Target{Host: "h", User: "u"},
		WithRunner(runner),
		WithDumpTimeout(20*time.Millisecond))

	start := time.Now()
	err := src.Dump(context.Background(), "appdb", io.Discard)
	require.Error(t, err)
	assert.Equal(t, apperrors.TypeDumpTimeout, apperrors.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSource_Defaults(t *testing.T) {
	src := NewSource(Target{Host: "h", User: "u"})
	assert.Equal(t, 3306, src.target.Port)
	assert.Equal(t, "mysqldump", src.target.MysqldumpPath)
}

func TestLocalRunner_ExitCodeAndStderr(t *testing.T) {
	runner := LocalRunner{}

	err := runner.Run(context.Background(), "sh", []string{"-c", "echo oops >&2; exit 3"}, nil, io.Discard)
	require.Error(t, err)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, 3, runErr.ExitCode)
	assert.Contains(t, runErr.Stderr, "oops")
}

func TestLocalRunner_StreamsStdout(t *testing.T) {
	runner := LocalRunner{}

	var out strings.Builder
	err := runner.Run(context.Background(), "sh", []string{"-c", "echo dump-bytes"}, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "dump-bytes\n", out.String())
}

func TestLocalRunner_EnvPassthrough(t *testing.T) {
	runner := LocalRunner{}

	var out strings.Builder
	err := runner.Run(context.Background(), "sh", []string{"-c", "printf '%s' \"$MYSQL_PWD\""}, []string{"MYSQL_PWD=hunter2"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", out.String())
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(8)
	tb.Write([]byte("0123456789abcdef"))
	assert.Equal(t, "89abcdef", tb.String())
}
