package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/guseggert/wsexec/runner"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrBusy is returned when a command request arrives while another command is executing.
var ErrBusy = errors.New("a command is already executing")

type State int32

const (
	StateHandshaking State = iota
	StateAwaitingCommand
	StateExecuting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateAwaitingCommand:
		return "awaiting_command"
	case StateExecuting:
		return "executing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session runs the commands received on one WebSocket connection, one at a time.
type Session struct {
	ID string

	log    *zap.SugaredLogger
	conn   *websocket.Conn
	runner *runner.Runner

	// queue holds outbound frames. It is drained by a single writer goroutine.
	queue chan Frame
	state atomic.Int32

	closeConnOnce sync.Once
}

func newSession(id string, log *zap.SugaredLogger, conn *websocket.Conn, r *runner.Runner, queueSize int) *Session {
	return &Session{
		ID:     id,
		log:    log,
		conn:   conn,
		runner: r,
		queue:  make(chan Frame, queueSize),
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	s.log.Debugf("state %s -> %s", old, st)
}

// serve runs the session until the client goes away, sends an invalid message, or stops reading.
func (s *Session) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(StateAwaitingCommand)

	writeErrCh := make(chan error, 1)
	go func() {
		err := s.writeFrames(ctx)
		if err != nil {
			// nobody is reading, so stop reading commands and kill the running one
			cancel()
		}
		writeErrCh <- err
	}()

	// Requests are read for the whole session, also while a command runs, so that a dead
	// connection is noticed and the running command killed. They are executed in arrival order.
	requests := make(chan CommandRequest, cap(s.queue))
	readErrCh := make(chan error, 1)
	go func() {
		err := s.readMessages(ctx, requests)
		close(requests)
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			// the client is gone, or closed the conn, so its output has nowhere to go
			cancel()
		}
		readErrCh <- err
	}()

	if err := s.runCommands(ctx, requests); err != nil {
		s.log.Debugf("command loop ended: %s", err)
		cancel()
	}
	readErr := <-readErrCh
	// the command loop is the only sender, so closing lets the writer flush what is left and return
	close(s.queue)
	writeErr := <-writeErrCh

	s.setState(StateClosed)
	s.close(readErr, writeErr)
}

func (s *Session) close(readErr, writeErr error) {
	code, reason := websocket.StatusNormalClosure, ""
	var decodeErr *DecodeError
	switch {
	case errors.As(readErr, &decodeErr):
		code, reason = decodeErr.Status, decodeErr.Error()
	case readErr != nil:
		code, reason = websocket.StatusInternalError, readErr.Error()
	case writeErr != nil:
		code, reason = websocket.StatusInternalError, writeErr.Error()
	}
	// websocket reason can't be above 123 bytes
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	s.closeConnOnce.Do(func() {
		s.log.Debugw("closing conn", "Code", code, "Reason", reason)
		err := s.conn.Close(code, reason)
		if err != nil {
			s.log.Debugf("error closing conn: %s", err)
		}
	})
}

// readMessages decodes inbound messages into requests until the conn fails or a message is invalid.
// It returns nil when the client closes the conn normally.
func (s *Session) readMessages(ctx context.Context, requests chan<- CommandRequest) error {
	for {
		typ, b, err := s.conn.Read(ctx)
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			s.log.Debug("got normal closure from client, wrapping up")
			return nil
		}
		if err != nil {
			s.log.Debugf("message reader got error: %s", err)
			return fmt.Errorf("reading message: %w", err)
		}

		req, err := decodeCommandRequest(typ, b)
		if err != nil {
			s.log.Debugf("rejecting message: %s", err)
			return err
		}

		select {
		case requests <- req:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runCommands executes requests one at a time until the reader stops.
func (s *Session) runCommands(ctx context.Context, requests <-chan CommandRequest) error {
	for req := range requests {
		err := s.execute(ctx, req)
		if errors.Is(err, ErrBusy) {
			s.log.Debugw("rejected concurrent command", "Command", req.Command)
			m := &multiplexer{ctx: ctx, queue: s.queue}
			if err := m.fail(err); err != nil {
				return err
			}
			err = m.finish()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// execute runs one command to completion and queues its frames, ending with the sentinel.
// Spawn and runtime-limit failures are reported to the client rather than ending the session.
func (s *Session) execute(ctx context.Context, req CommandRequest) error {
	if !s.state.CompareAndSwap(int32(StateAwaitingCommand), int32(StateExecuting)) {
		return ErrBusy
	}
	s.log.Debugf("state %s -> %s", StateAwaitingCommand, StateExecuting)
	defer s.setState(StateAwaitingCommand)

	log := s.log.With("Command", req.Command)
	log.Debug("running command")

	m := &multiplexer{ctx: ctx, queue: s.queue}
	res, err := s.runner.Run(ctx, req.Command, m.forward)

	var spawnErr *runner.SpawnError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// the session is ending, there is no one to send the sentinel to
		log.Debugf("command interrupted: %s", err)
		return ctx.Err()
	case errors.As(err, &spawnErr), errors.Is(err, runner.ErrMaxRuntimeExceeded):
		log.Infow("command failed", "Error", err)
		if err := m.fail(err); err != nil {
			return err
		}
	default:
		log.Debugf("command finished with error: %s", err)
	}
	if res != nil {
		log.Debugw("command finished", "ExitCode", res.ExitCode, "Duration", res.Duration)
	}

	return m.finish()
}

func (s *Session) writeFrames(ctx context.Context) error {
	for f := range s.queue {
		err := s.conn.Write(ctx, websocket.MessageText, []byte(f))
		if err != nil {
			s.log.Debugf("frame writer got error: %s", err)
			return err
		}
	}
	return nil
}
