package sensor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Status is pushed to every websocket client whenever one connects or
// disconnects.
type Status struct {
	Type           string `json:"type"`
	ClientID       string `json:"client_id,omitempty"`
	VisualizerCode string `json:"visualizer_code"`
	Clients        int    `json:"clients"`
}

// Ack answers every frame a client sends.
type Ack struct {
	Type    string  `json:"type"`
	Outcome Outcome `json:"outcome"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

// Server accepts rtdata and refresh frames on /ws.
type Server struct {
	addr   string
	code   string
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
}

func NewServer(addr, code string, logger *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		code:    code,
		logger:  logger,
		clients: make(map[string]*wsClient),
	}
}

func (s *Server) Name() string { return "websocket" }

// Handler serves the websocket endpoint, delivering frames to sink.
func (s *Server) Handler(sink Sink) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(w, r, sink)
	})
	return mux
}

// Run listens until ctx is cancelled, then shuts the server down.
func (s *Server) Run(ctx context.Context, sink Sink) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(sink),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("websocket listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.closeClients()
		return srv.Shutdown(shutdownCtx)
	}
}

// Clients is the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, sink Sink) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{id: uuid.NewString(), conn: conn}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info("sensor client connected", zap.String("client_id", c.id), zap.String("remote", r.RemoteAddr))
	s.broadcastStatus(c.id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("sensor client disconnected", zap.String("client_id", c.id))
		s.broadcastStatus("")
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		outcome := sink.Deliver(s.Name(), data)
		if err := c.writeJSON(Ack{Type: "ack", Outcome: outcome}); err != nil {
			s.logger.Debug("ack failed", zap.String("client_id", c.id), zap.Error(err))
			return
		}
	}
}

// broadcastStatus tells every client the current count. joined, when set,
// is the id of the client that just connected.
func (s *Server) broadcastStatus(joined string) {
	s.mu.RLock()
	targets := make([]*wsClient, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	n := len(s.clients)
	s.mu.RUnlock()

	for _, c := range targets {
		st := Status{Type: "status", VisualizerCode: s.code, Clients: n}
		if c.id == joined {
			st.ClientID = joined
		}
		if err := c.writeJSON(st); err != nil {
			s.logger.Debug("status write failed", zap.String("client_id", c.id), zap.Error(err))
		}
	}
}

func (s *Server) closeClients() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
	}
}
