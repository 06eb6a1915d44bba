package session

import (
	"context"

	"github.com/guseggert/wsexec/runner"
)

// multiplexer funnels the stdout and stderr lines of one command into a session's outbound queue.
// forward is called concurrently by both stream copiers; the queue is the only shared state.
type multiplexer struct {
	ctx   context.Context
	queue chan<- Frame
}

func (m *multiplexer) forward(line runner.OutputLine) error {
	return m.send(frameFor(line))
}

// fail reports a command failure to the client as a stderr frame.
func (m *multiplexer) fail(err error) error {
	return m.send(Frame(StderrPrefix + err.Error()))
}

// finish sends the sentinel. It must only be called once the runner has returned.
func (m *multiplexer) finish() error {
	return m.send(Sentinel)
}

// send blocks while the queue is full, which in turn stalls the child process's output.
func (m *multiplexer) send(f Frame) error {
	select {
	case m.queue <- f:
		return nil
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}
