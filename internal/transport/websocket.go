// Package transport carries serialized event records to and from remote
// participants. Each WebSocket connection is one participant's
// bidirectional channel: frames in are submitted to the broker, frames
// out are that participant's deliveries, in send order.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkolbe/agora/pkg/event"
	"github.com/mkolbe/agora/pkg/world"
)

// hello is the first frame a client must send: which participant this
// socket speaks for.
type hello struct {
	ParticipantID string `json:"participant_id"`
}

// Server is the WebSocket endpoint for remote participants.
type Server struct {
	addr     string
	world    *world.World
	registry *event.Registry
	upgrader websocket.Upgrader
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a transport server for a world.
func NewServer(addr string, w *world.World, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		world:    w,
		registry: w.Registry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleConnection)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("transport listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleConnection upgrades, reads the hello frame, binds the socket into
// the connection registry, then pumps inbound frames into the broker.
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", "error", err)
		return
	}

	var h hello
	if err := conn.ReadJSON(&h); err != nil || h.ParticipantID == "" {
		s.logger.Warn("missing hello frame, closing", "error", err)
		conn.Close()
		return
	}

	wc := newWSConn(conn, s.logger)
	if err := s.world.Connect(h.ParticipantID, wc); err != nil {
		s.logger.Warn("rejecting connection", "participant", h.ParticipantID, "error", err)
		conn.Close()
		return
	}
	s.logger.Info("participant connected", "participant", h.ParticipantID)

	defer func() {
		// A reconnect may already have replaced this socket; only tear
		// down the registration if it is still ours.
		s.world.Broker().Connections().DisconnectConn(h.ParticipantID, wc)
		s.logger.Info("participant disconnected", "participant", h.ParticipantID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		rec, err := s.registry.Unmarshal(data)
		if err != nil {
			// Malformed frames are rejected before the broker sees them;
			// the sender gets the diagnostics on its own socket.
			wc.sendError(err)
			continue
		}
		// The socket's identity wins over whatever the frame claims.
		rec = rec.WithSenderID(h.ParticipantID)
		if err := s.world.Broker().Submit(rec); err != nil {
			wc.sendError(err)
		}
	}
}

// wsConn adapts one WebSocket to the world.Connection interface. A single
// writer goroutine drains the outbox so deliveries stay in FIFO order and
// the dispatch loop never blocks on the network.
type wsConn struct {
	conn   *websocket.Conn
	outbox chan []byte
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newWSConn(conn *websocket.Conn, logger *slog.Logger) *wsConn {
	c := &wsConn{
		conn:   conn,
		outbox: make(chan []byte, 64),
		closed: make(chan struct{}),
		logger: logger,
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case data := <-c.outbox:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("ws write failed", "error", err)
				c.Close()
				return
			}
		case <-c.closed:
			c.conn.Close()
			return
		}
	}
}

// Send implements world.Connection.
func (c *wsConn) Send(rec *event.Record) error {
	data, err := event.Marshal(rec)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return world.ErrChannelClosed
	default:
	}
	select {
	case c.outbox <- data:
		return nil
	default:
		return fmt.Errorf("ws outbox full (%d)", cap(c.outbox))
	}
}

// sendError pushes a structured error frame to the remote participant.
func (c *wsConn) sendError(err error) {
	frame := fmt.Sprintf(`{"error":%q}`, err.Error())
	select {
	case c.outbox <- []byte(frame):
	default:
	}
}

// Close implements world.Connection.
func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
