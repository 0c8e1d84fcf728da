// Package dashboard serves a live read-only view of a pearls database.
//
// Connected WebSocket clients receive the full resolved task list and
// per-state counts whenever the database file changes, plus the current
// snapshot on connect.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pearls-dev/pearls/internal/types"
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	// MessageTypeSnapshot carries every task with its effective state
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeStats carries per-state counts
	MessageTypeStats MessageType = "stats"
)

// replayOrder is the order in which remembered messages reach a new client.
var replayOrder = []MessageType{MessageTypeSnapshot, MessageTypeStats}

// Message is one frame sent to dashboard clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SnapshotData is the payload of a snapshot message
type SnapshotData struct {
	Tasks []*types.Task `json:"tasks"`
}

// StatsData counts tasks by effective state
type StatsData struct {
	Total        int `json:"total"`
	Ready        int `json:"ready"`
	Blocked      int `json:"blocked"`
	InProgress   int `json:"in_progress"`
	Closed       int `json:"closed"`
	Dependencies int `json:"dependencies"`
}

// frame is a message together with its wire encoding.
type frame struct {
	msg  Message
	data []byte
}

// subscriber is one connected browser. Frames are queued and written by the
// subscriber's own goroutine, so a stalled client never holds up the others.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte

	closeCode   websocket.StatusCode
	closeReason string
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// QueueSize is how many frames a client may fall behind before it is
	// disconnected (default: 16)
	QueueSize int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns the defaults used by `pearls dashboard`.
func DefaultConfig() *Config {
	return &Config{
		Port:      8080,
		QueueSize: 16,
		Logger:    log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// Server pushes task snapshots to WebSocket subscribers.
type Server struct {
	addr      string
	queueSize int
	logger    *log.Logger

	listener net.Listener
	http     *http.Server

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	latest map[MessageType]frame
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a dashboard server. Nil or zero fields in config fall
// back to DefaultConfig.
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	logger := config.Logger
	if logger == nil {
		logger = defaults.Logger
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = defaults.QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		queueSize: queueSize,
		logger:    logger,
		subs:      make(map[*subscriber]struct{}),
		latest:    make(map[MessageType]frame),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /{$}", s.handleBoard)

	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every subscriber and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		s.dropLocked(sub, websocket.StatusGoingAway, "server shutting down")
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if s.http != nil {
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
	}
	s.cancel()
	s.wg.Wait()

	s.logger.Println("Dashboard stopped")
	return err
}

// Broadcast sends msg to every subscriber and remembers it as the latest of
// its type. Subscribers whose queue is full are disconnected.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[msg.Type] = frame{msg: msg, data: data}
	for sub := range s.subs {
		select {
		case sub.queue <- data:
		default:
			s.logger.Printf("Client fell %d frames behind, disconnecting", s.queueSize)
			s.dropLocked(sub, websocket.StatusPolicyViolation, "too slow")
		}
	}
}

// Latest returns the most recent message of type t.
func (s *Server) Latest(t MessageType) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.latest[t]
	return f.msg, ok
}

// GetAddr returns the listening address, or the configured one before Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// subscribe registers conn with the remembered frames already queued, so a
// new client always starts from the current snapshot. On success the caller
// must start writeLoop for the returned subscriber.
func (s *Server) subscribe(conn *websocket.Conn) (*subscriber, bool) {
	sub := &subscriber{
		conn:  conn,
		queue: make(chan []byte, s.queueSize+len(replayOrder)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	for _, t := range replayOrder {
		if f, ok := s.latest[t]; ok {
			sub.queue <- f.data
		}
	}
	s.subs[sub] = struct{}{}
	s.wg.Add(1)
	s.logger.Printf("Client connected (total: %d)", len(s.subs))
	return sub, true
}

func (s *Server) drop(sub *subscriber, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(sub, code, reason)
}

// dropLocked unregisters sub and closes its queue; the writer then closes
// the connection with code. s.mu must be held.
func (s *Server) dropLocked(sub *subscriber, code websocket.StatusCode, reason string) {
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	sub.closeCode = code
	sub.closeReason = reason
	close(sub.queue)
	s.logger.Printf("Client disconnected (total: %d)", len(s.subs))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sub, ok := s.subscribe(conn)
	if !ok {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go s.writeLoop(sub)

	// Clients never send anything meaningful; reading only notices when
	// they leave.
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			s.drop(sub, websocket.StatusNormalClosure, "")
			return
		}
	}
}

// writeLoop drains sub.queue until it is closed, then closes the
// connection with the recorded status.
func (s *Server) writeLoop(sub *subscriber) {
	defer s.wg.Done()

	for data := range sub.queue {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err := sub.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.logger.Printf("Failed to write to client: %v", err)
			s.drop(sub, websocket.StatusInternalError, "write failed")
		}
	}

	s.mu.Lock()
	code, reason := sub.closeCode, sub.closeReason
	s.mu.Unlock()
	_ = sub.conn.Close(code, reason)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleTasks serves the latest snapshot payload as plain JSON.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	msg, ok := s.Latest(MessageTypeSnapshot)
	if !ok {
		_, _ = w.Write([]byte(`{"tasks":[]}`))
		return
	}
	_, _ = w.Write(msg.Data)
}

const boardPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>pearls</title>
<style>
body { font-family: ui-monospace, monospace; margin: 2em; }
.ready { color: #2a2; } .blocked { color: #c33; }
.in_progress { color: #b80; } .closed { color: #888; }
</style>
</head>
<body>
<h1>pearls</h1>
<p id="stats">waiting for data...</p>
<ul id="tasks"></ul>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const msg = JSON.parse(ev.data);
  if (msg.type === "stats") {
    const d = msg.data;
    document.getElementById("stats").textContent =
      d.total + " tasks: " + d.ready + " ready, " + d.blocked + " blocked, " +
      d.in_progress + " in progress, " + d.closed + " closed";
  } else if (msg.type === "snapshot") {
    const ul = document.getElementById("tasks");
    ul.replaceChildren(...msg.data.tasks.map((t) => {
      const li = document.createElement("li");
      li.className = t.state;
      li.textContent = "#" + t.id + " [" + t.state + "] p" + t.priority + " " +
        t.title + " - " + t.desc + " parents=[" + t.parents + "] children=[" + t.children + "]";
      return li;
    }));
  }
};
</script>
</body>
</html>
`

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(boardPage))
}
