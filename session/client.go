package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// clientReadLimit covers the largest frame a server sends with default settings: a split line plus the stderr prefix.
const clientReadLimit = 1 << 20

// ErrOutcomeUnknown is returned when the connection ends before a command's sentinel arrives.
var ErrOutcomeUnknown = errors.New("connection closed before command completed")

type Client struct {
	HTTPClient *http.Client
	URL        string
	Logger     *zap.SugaredLogger
}

// Dial opens a connection to the server. Commands run on the connection one at a time.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	c.Logger.Debugw("dialing WebSocket", "URL", c.URL)
	wsConn, _, err := websocket.Dial(ctx, c.URL, &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		c.Logger.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("establishing WebSocket conn: %w", err)
	}
	wsConn.SetReadLimit(clientReadLimit)
	return &Conn{conn: wsConn, log: c.Logger.Named("conn")}, nil
}

type Conn struct {
	log  *zap.SugaredLogger
	conn *websocket.Conn

	m sync.Mutex
}

// Run sends the command and calls onFrame with each output frame until the sentinel arrives.
// If the connection ends first the error wraps ErrOutcomeUnknown.
// If onFrame returns an error, the rest of the command's frames are left unread and the Conn should be closed.
func (c *Conn) Run(ctx context.Context, command string, onFrame func(Frame) error) error {
	c.m.Lock()
	defer c.m.Unlock()

	b, err := encodeCommandRequest(CommandRequest{Command: command})
	if err != nil {
		return fmt.Errorf("encoding command request: %w", err)
	}
	err = c.conn.Write(ctx, websocket.MessageText, b)
	if err != nil {
		return fmt.Errorf("sending command request: %w", err)
	}

	for {
		typ, b, err := c.conn.Read(ctx)
		if websocket.CloseStatus(err) != -1 {
			return fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
		}
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		if typ != websocket.MessageText {
			return fmt.Errorf("unexpected %s frame", typ)
		}
		f := Frame(b)
		if f.IsSentinel() {
			return nil
		}
		if onFrame == nil {
			continue
		}
		if err := onFrame(f); err != nil {
			return err
		}
	}
}

// Frames runs the command and returns all of its output frames, excluding the sentinel.
func (c *Conn) Frames(ctx context.Context, command string) ([]Frame, error) {
	var frames []Frame
	err := c.Run(ctx, command, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	return frames, err
}

func (c *Conn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil {
		c.log.Debugf("error closing conn: %s", err)
	}
	return err
}
