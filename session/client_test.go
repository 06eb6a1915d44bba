package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestClientConnClosedBeforeSentinel(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, err = conn.Read(r.Context())
		if err != nil {
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte("partial"))
		conn.Close(websocket.StatusInternalError, "gone")
	}))
	t.Cleanup(s.Close)

	c := &Client{URL: "ws" + strings.TrimPrefix(s.URL, "http"), Logger: log}
	conn, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	frames, err := conn.Frames(context.Background(), "echo hi")
	require.ErrorIs(t, err, ErrOutcomeUnknown)
	assert.Equal(t, websocket.StatusInternalError, websocket.CloseStatus(err))
	assert.Equal(t, []Frame{"partial"}, frames)
}

func TestClientFrameHandlerError(t *testing.T) {
	url := startServer(t, &Server{})
	conn := dialClient(t, url)

	errStop := errors.New("stop")
	err := conn.Run(context.Background(), "echo a; echo b", func(f Frame) error {
		return errStop
	})
	require.ErrorIs(t, err, errStop)
}

func TestClientDialError(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(s.Close)

	c := &Client{URL: "ws" + strings.TrimPrefix(s.URL, "http"), Logger: log}
	_, err := c.Dial(context.Background())
	require.Error(t, err)
}
