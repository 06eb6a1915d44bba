package session

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/guseggert/wsexec/runner"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	DefaultQueueSize = 32
	DefaultReadLimit = 32768
)

// Server accepts WebSocket connections and runs an independent Session on each.
type Server struct {
	Log    *zap.SugaredLogger
	Runner *runner.Runner

	// QueueSize is the number of outbound frames a session buffers before command output is stalled.
	QueueSize int
	// ReadLimit is the maximum size in bytes of an inbound message.
	ReadLimit int64
	// OriginPatterns lists the hosts allowed to connect cross-origin, see websocket.AcceptOptions.
	OriginPatterns []string
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.OriginPatterns,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		// Accept has already written the HTTP error response
		s.Log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}

	readLimit := s.ReadLimit
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	wsConn.SetReadLimit(readLimit)

	queueSize := s.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	id := uuid.NewString()
	log := s.Log.Named("session").With("SessionID", id)
	log.Infow("accepted WebSocket conn", "RemoteAddr", r.RemoteAddr)

	var sessRunner runner.Runner
	if s.Runner != nil {
		sessRunner = *s.Runner
	}
	sessRunner.Log = log.Named("runner")

	sess := newSession(id, log, wsConn, &sessRunner, queueSize)
	sess.serve(r.Context())
	log.Info("session closed")
}
