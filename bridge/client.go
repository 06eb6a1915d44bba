package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/guseggert/wsexec/session"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	url                      string
	customizeRetryableClient func(*retryablehttp.Client)
	sessionClient            *session.Client

	waitInterval time.Duration
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("bridge_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient builds a client for the bridge at addr, e.g. "127.0.0.1:8080".
// The WebSocket handshake is retried on connection errors.
func NewClient(log *zap.SugaredLogger, addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		Logger:       log.Named("bridge_client"),
		url:          fmt.Sprintf("ws://%s/", addr),
		waitInterval: 100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	c.sessionClient = &session.Client{
		HTTPClient: c.HTTPClient,
		URL:        c.url,
		Logger:     c.Logger.Named("session_client"),
	}

	return c, nil
}

// Dial opens a session with the bridge.
func (c *Client) Dial(ctx context.Context) (*session.Conn, error) {
	return c.sessionClient.Dial(ctx)
}

// Run runs a single command on a new session and closes it afterwards.
func (c *Client) Run(ctx context.Context, command string, onFrame func(session.Frame) error) error {
	conn, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Run(ctx, command, onFrame)
}

// WaitForServer blocks until a session can be opened with the bridge.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			conn, err := c.Dial(ctx)
			if err == nil {
				conn.Close()
				c.Logger.Debug("dial succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got dial error: %s", err)
		}
	}
}
