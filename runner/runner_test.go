package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

// collector gathers lines from both streams.
type collector struct {
	m     sync.Mutex
	lines []OutputLine
}

func (c *collector) handle(l OutputLine) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.lines = append(c.lines, l)
	return nil
}

func (c *collector) texts(origin Origin) []string {
	c.m.Lock()
	defer c.m.Unlock()
	var texts []string
	for _, l := range c.lines {
		if l.Origin == origin {
			texts = append(texts, l.Text)
		}
	}
	return texts
}

func TestRun(t *testing.T) {
	cases := []struct {
		name         string
		cmd          string
		expStdout    []string
		expStderr    []string
		expCode      int
		ignoreStderr bool
	}{
		{
			name:      "stdout line",
			cmd:       "echo hi",
			expStdout: []string{"hi"},
		},
		{
			name:      "stderr line",
			cmd:       "echo err 1>&2",
			expStderr: []string{"err"},
		},
		{
			name:      "both streams",
			cmd:       "echo a; echo b 1>&2",
			expStdout: []string{"a"},
			expStderr: []string{"b"},
		},
		{
			name:      "unterminated trailing line is flushed",
			cmd:       "printf 'a\\nb'",
			expStdout: []string{"a", "b"},
		},
		{
			name:      "carriage returns are stripped",
			cmd:       "printf 'a\\r\\nb\\r\\n'",
			expStdout: []string{"a", "b"},
		},
		{
			name:      "empty lines are kept",
			cmd:       "printf '\\n\\nx\\n'",
			expStdout: []string{"", "", "x"},
		},
		{
			name:      "per-stream order",
			cmd:       "for i in 1 2 3 4 5; do echo o$i; echo e$i 1>&2; done",
			expStdout: []string{"o1", "o2", "o3", "o4", "o5"},
			expStderr: []string{"e1", "e2", "e3", "e4", "e5"},
		},
		{
			name:      "nonzero exit is not an error",
			cmd:       "echo bye; exit 3",
			expCode:   3,
			expStdout: []string{"bye"},
		},
		{
			name:         "unknown command",
			cmd:          "definitely-not-a-command-wsexec",
			expCode:      127,
			ignoreStderr: true,
		},
		{
			name: "no stdin",
			cmd:  "cat",
		},
		{
			name:      "bash syntax",
			cmd:       "echo {1..3}; [[ -n x ]] && echo yes",
			expStdout: []string{"1 2 3", "yes"},
		},
		{
			name:      "trailing carriage return stripped",
			cmd:       "printf 'a\\r'",
			expStdout: []string{"a"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &Runner{Log: log}
			col := &collector{}

			res, err := r.Run(context.Background(), c.cmd, col.handle)
			require.NoError(t, err)

			assert.Equal(t, c.expCode, res.ExitCode)
			assert.Equal(t, c.expStdout, col.texts(Stdout))
			if !c.ignoreStderr {
				assert.Equal(t, c.expStderr, col.texts(Stderr))
			}
		})
	}
}

func TestRunDrainsBackgroundOutput(t *testing.T) {
	r := &Runner{Log: log}
	col := &collector{}

	// the shell exits right away, the background job writes after it
	res, err := r.Run(context.Background(), "echo early; (sleep 2; echo late; echo late-err 1>&2) &", col.handle)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"early", "late"}, col.texts(Stdout))
	assert.Equal(t, []string{"late-err"}, col.texts(Stderr))
}

func TestRunCanceledWithBackgroundJob(t *testing.T) {
	r := &Runner{Log: log}
	col := &collector{}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Run(ctx, "(sleep 30; echo never) & echo started; wait", col.handle)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"started"}, col.texts(Stdout))
}

func TestRunSpawnError(t *testing.T) {
	r := &Runner{Log: log, Shell: "/nonexistent/wsexec-shell"}
	col := &collector{}

	res, err := r.Run(context.Background(), "echo hi", col.handle)
	assert.Nil(t, res)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "/nonexistent/wsexec-shell", spawnErr.Shell)
	assert.Empty(t, col.lines)
}

func TestRunMaxRuntime(t *testing.T) {
	r := &Runner{Log: log, MaxRuntime: 200 * time.Millisecond}
	col := &collector{}

	start := time.Now()
	res, err := r.Run(context.Background(), "echo before; sleep 10; echo after", col.handle)
	require.ErrorIs(t, err, ErrMaxRuntimeExceeded)
	require.NotNil(t, res)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"before"}, col.texts(Stdout))
}

func TestRunCanceled(t *testing.T) {
	r := &Runner{Log: log}
	col := &collector{}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := r.Run(ctx, "sleep 10", col.handle)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunAlreadyCanceled(t *testing.T) {
	r := &Runner{Log: log}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx, "echo hi", func(OutputLine) error {
		t.Fatal("no output expected")
		return nil
	})
	assert.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunHandlerError(t *testing.T) {
	errStop := errors.New("stop")
	r := &Runner{Log: log}

	var got []string
	_, err := r.Run(context.Background(), "echo a; echo b", func(l OutputLine) error {
		got = append(got, l.Text)
		return errStop
	})
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, []string{"a"}, got)
}

func TestRunShellArgs(t *testing.T) {
	r := &Runner{Log: log, Shell: "/bin/sh", ShellArgs: []string{"-e", "-c"}}
	col := &collector{}

	res, err := r.Run(context.Background(), "false; echo unreachable", col.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Empty(t, col.texts(Stdout))
}
