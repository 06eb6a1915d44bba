package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultShell        = "bash"
	DefaultMaxLineBytes = 64 * 1024

	// killDrainDelay bounds how long output is drained after the command is killed,
	// for descendants that left the process group and still hold the pipes open.
	killDrainDelay = 1 * time.Second
)

var DefaultShellArgs = []string{"-c"}

// ErrMaxRuntimeExceeded is returned when a command runs longer than Runner.MaxRuntime.
var ErrMaxRuntimeExceeded = errors.New("maximum runtime exceeded")

// SpawnError is returned when the shell process could not be started.
type SpawnError struct {
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %s: %s", e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

type Origin int

const (
	Stdout Origin = iota
	Stderr
)

func (o Origin) String() string {
	switch o {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// OutputLine is one line of child output, without its line terminator.
type OutputLine struct {
	Origin Origin
	Text   string
}

// LineHandler receives each output line. It is called concurrently from the stdout and stderr
// copiers, but never concurrently for the same origin. Returning an error stops delivery for that stream.
type LineHandler func(OutputLine) error

type Result struct {
	ExitCode int
	Duration time.Duration
}

// Runner executes command strings through a shell, one child process per Run call.
// The zero value runs commands with bash -c and no runtime limit.
type Runner struct {
	Log *zap.SugaredLogger

	Shell     string
	ShellArgs []string

	// MaxRuntime kills the child once exceeded. Zero means no limit.
	MaxRuntime time.Duration
	// MaxLineBytes splits longer lines into several OutputLines.
	MaxLineBytes int
}

func (r *Runner) shell() (string, []string) {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}
	args := r.ShellArgs
	if args == nil {
		args = DefaultShellArgs
	}
	return shell, args
}

func (r *Runner) maxLineBytes() int {
	if r.MaxLineBytes <= 0 {
		return DefaultMaxLineBytes
	}
	return r.MaxLineBytes
}

func (r *Runner) log() *zap.SugaredLogger {
	if r.Log == nil {
		return zap.NewNop().Sugar()
	}
	return r.Log
}

// Run starts the command with stdin bound to the null device and reports every line it writes to stdout and stderr.
// It returns once both streams are drained and the process has exited.
// A partial line left at end-of-stream is reported as a final line.
//
// The returned error is a *SpawnError if the shell could not be started, wraps ErrMaxRuntimeExceeded
// if the runtime limit was hit, or is the context's error if ctx was canceled. In the latter two cases the child is killed.
// A nonzero exit status is not an error; it is reported in Result.
func (r *Runner) Run(ctx context.Context, command string, onLine LineHandler) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parent := ctx
	if r.MaxRuntime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.MaxRuntime)
		defer cancel()
	}

	shell, shellArgs := r.shell()
	args := make([]string, 0, len(shellArgs)+1)
	args = append(args, shellArgs...)
	args = append(args, command)

	stdout := newLineWriter(Stdout, r.maxLineBytes(), onLine)
	stderr := newLineWriter(Stderr, r.maxLineBytes(), onLine)

	//nolint:gosec // running arbitrary shell expressions is the point
	cmd := exec.CommandContext(ctx, shell, args...)
	configureProcGroup(cmd)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	log := r.log()
	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Debugf("error starting %s: %s", shell, err)
		return nil, &SpawnError{Shell: shell, Err: err}
	}
	log.Debugw("process started", "PID", cmd.Process.Pid)

	drained := make(chan struct{})
	go func() {
		select {
		case <-drained:
			return
		case <-ctx.Done():
		}
		select {
		case <-drained:
		case <-time.After(killDrainDelay):
			log.Debug("output still open after kill, closing pipes")
			stdoutPipe.Close()
			stderrPipe.Close()
		}
	}()

	// Both streams are read to end-of-stream before Wait, which closes the pipes.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		drain(log, stdout, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		drain(log, stderr, stderrPipe)
	}()
	wg.Wait()
	close(drained)

	waitErr := cmd.Wait()
	res := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}
	log.Debugw("process exited", "PID", cmd.Process.Pid, "ExitCode", res.ExitCode, "Duration", res.Duration)

	// Both readers are done, so the trailing partial lines can be flushed in order.
	flushErr := errors.Join(stdout.Flush(), stderr.Flush())

	if err := parent.Err(); err != nil {
		return res, err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%w after %s", ErrMaxRuntimeExceeded, r.MaxRuntime)
	}
	if err := errors.Join(stdout.err, stderr.err); err != nil {
		return res, fmt.Errorf("delivering output: %w", err)
	}
	if flushErr != nil {
		return res, fmt.Errorf("delivering output: %w", flushErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("waiting for process: %w", waitErr)
		}
	}
	return res, nil
}

// drain copies one output stream into w until end-of-stream. If w stops accepting output
// the pipe is closed so that the child is not blocked writing to it.
func drain(log *zap.SugaredLogger, w *lineWriter, pipe io.ReadCloser) {
	_, err := io.Copy(w, pipe)
	if err == nil {
		return
	}
	if w.err == nil {
		log.Debugf("error reading %s: %s", w.origin, err)
	}
	pipe.Close()
}
