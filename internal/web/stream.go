package web

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/pirage/internal/status"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The page is served from the same daemon on a trusted network.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream serves the event stream: the preamble, the current status,
// then a frame for every published status until the client leaves or the
// subscription is closed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.backend.Subscribe()
	defer s.backend.Unsubscribe(sub.ID)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, status.Preamble); err != nil {
		return
	}
	if err := writeFrame(w, s.backend.Status()); err != nil {
		return
	}
	flusher.Flush()

	for p := range sub.C.All(r.Context()) {
		if err := writeFrame(w, p); err != nil {
			s.log.Debug("stream client gone", "id", sub.ID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func writeFrame(w io.Writer, p status.Packet) error {
	frame, err := status.Frame(p)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// handleWebSocket streams status packets as JSON text messages. Messages
// from the client are read only to notice it going away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.backend.Subscribe()
	defer s.backend.Unsubscribe(sub.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		s.readPump(conn)
	}()

	if err := writePacket(conn, s.backend.Status()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	next := pull(ctx, sub.C.All(ctx))
	for {
		select {
		case p, ok := <-next:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := writePacket(conn, p); err != nil {
				s.log.Debug("websocket client gone", "id", sub.ID, "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func writePacket(conn *websocket.Conn, p status.Packet) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// pull runs seq in a goroutine and forwards its values on the returned
// channel, which is closed when seq ends. The goroutine exits once ctx is
// done.
func pull[T any](ctx context.Context, seq iter.Seq[T]) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for v := range seq {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
