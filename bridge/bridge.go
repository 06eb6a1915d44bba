package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/wsexec/runner"
	"github.com/guseggert/wsexec/session"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Bridge listens on a single address and serves a shell session to every WebSocket connection made to "/".
// Clients are not authenticated: anyone who can connect can run commands as the bridge's user.
type Bridge struct {
	logger *zap.SugaredLogger

	listenAddr     string
	originPatterns []string
	queueSize      int
	readLimit      int64
	runner         runner.Runner

	mut        sync.Mutex
	stopped    bool
	listener   net.Listener
	httpServer *http.Server
	// cancelSessions ends all sessions, since hijacked conns are not closed by http.Server.Close.
	cancelSessions context.CancelFunc
}

type Option func(b *Bridge)

func WithListenAddr(s string) Option {
	return func(b *Bridge) {
		b.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		b.logger = l.Named("bridge").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(b *Bridge) {
		b.logger = b.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithShell sets the shell and the arguments that precede the command string, e.g. "/bin/bash", "-c".
func WithShell(path string, args ...string) Option {
	return func(b *Bridge) {
		b.runner.Shell = path
		b.runner.ShellArgs = args
	}
}

// WithMaxRuntime kills commands that run longer than d. Zero means no limit.
func WithMaxRuntime(d time.Duration) Option {
	return func(b *Bridge) {
		b.runner.MaxRuntime = d
	}
}

func WithMaxLineBytes(n int) Option {
	return func(b *Bridge) {
		b.runner.MaxLineBytes = n
	}
}

func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		b.queueSize = n
	}
}

func WithReadLimit(n int64) Option {
	return func(b *Bridge) {
		b.readLimit = n
	}
}

// WithOriginPatterns allows browsers on the given hosts to connect cross-origin.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) {
		b.originPatterns = patterns
	}
}

// New constructs a new bridge.
func New(opts ...Option) (*Bridge, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	b := &Bridge{
		logger:     logger.Named("bridge").Sugar(),
		listenAddr: "127.0.0.1:8080",
		queueSize:  session.DefaultQueueSize,
		readLimit:  session.DefaultReadLimit,
		runner: runner.Runner{
			Shell:        runner.DefaultShell,
			ShellArgs:    runner.DefaultShellArgs,
			MaxLineBytes: runner.DefaultMaxLineBytes,
		},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Run listens and serves sessions, returning once the bridge has stopped.
// Failing to bind the listen address is returned as an error. Run returns nil right away if Stop was already called.
func (b *Bridge) Run() error {
	b.mut.Lock()
	if b.stopped {
		b.mut.Unlock()
		return nil
	}
	listener, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		b.mut.Unlock()
		return fmt.Errorf("listening TCP: %w", err)
	}

	sessionServer := &session.Server{
		Log:            b.logger.Named("session_server"),
		Runner:         &b.runner,
		QueueSize:      b.queueSize,
		ReadLimit:      b.readLimit,
		OriginPatterns: b.originPatterns,
	}

	router := httprouter.New()
	router.Handler(http.MethodGet, "/", sessionServer)

	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Handler:     router,
		ErrorLog:    zap.NewStdLog(b.logger.Desugar()),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// published before serving, so a Stop from here on closes the server and Serve returns
	b.listener = listener
	b.httpServer = server
	b.cancelSessions = cancel
	b.mut.Unlock()

	b.logger.Infow("listening", "Addr", listener.Addr().String())
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the address the bridge is listening on, or nil if it is not running.
func (b *Bridge) Addr() net.Addr {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Stop closes the listener and ends all sessions, killing their running commands.
// A bridge that has been stopped cannot be run again.
func (b *Bridge) Stop() error {
	b.mut.Lock()
	defer b.mut.Unlock()
	b.stopped = true
	if b.httpServer == nil {
		return nil
	}
	b.cancelSessions()
	return b.httpServer.Close()
}
