package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	"github.com/pearls-dev/pearls/internal/store"
	"github.com/pearls-dev/pearls/internal/types"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "[test] ", log.LstdFlags)
}

// localURL rewrites the listener address to loopback
func localURL(t *testing.T, scheme, addr, path string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad addr %q: %v", addr, err)
	}
	return scheme + "://127.0.0.1:" + port + path
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get(localURL(t, "http", server.GetAddr(), "/health"))
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if gjson.GetBytes(body, "status").String() != "ok" {
		t.Errorf("health = %s", body)
	}
}

func TestTasksEndpoint(t *testing.T) {
	server := startServer(t)
	url := localURL(t, "http", server.GetAddr(), "/api/tasks")

	get := func() []byte {
		t.Helper()
		resp, err := http.Get(url)
		if err != nil {
			t.Fatalf("GET /api/tasks failed: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return body
	}

	if got := gjson.GetBytes(get(), "tasks").Raw; got != "[]" {
		t.Errorf("tasks before any snapshot = %s, want []", got)
	}

	server.Broadcast(Message{Type: MessageTypeSnapshot, Data: json.RawMessage(`{"tasks":[{"id":4}]}`)})
	if got := gjson.GetBytes(get(), "tasks.0.id").Int(); got != 4 {
		t.Errorf("tasks.0.id = %d, want 4", got)
	}
}

func TestBoardPage(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get(localURL(t, "http", server.GetAddr(), "/"))
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "/ws") {
		t.Errorf("board page does not reference /ws")
	}

	resp, err = http.Get(localURL(t, "http", server.GetAddr(), "/nope"))
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want 404", resp.StatusCode)
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, localURL(t, "ws", server.GetAddr(), "/ws"), nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.CloseNow()
	waitForClients(t, server, 1)

	stopped := make(chan error, 1)
	go func() { stopped <- server.Stop() }()

	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("read after Stop: %v, want going away", err)
	}
	if err := <-stopped; err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if n := server.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d after Stop", n)
	}
	if err := server.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

func TestWebSocketReplaysLatest(t *testing.T) {
	server := startServer(t)

	server.Broadcast(Message{Type: MessageTypeSnapshot, Data: json.RawMessage(`{"tasks":[]}`)})
	server.Broadcast(Message{Type: MessageTypeStats, Data: json.RawMessage(`{"total":0}`)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, localURL(t, "ws", server.GetAddr(), "/ws"), nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeSnapshot {
		t.Errorf("first message type = %s, want snapshot", msg.Type)
	}
	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStats {
		t.Errorf("second message type = %s, want stats", msg.Type)
	}
}

func TestMessageBroadcast(t *testing.T) {
	server := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const numClients = 3
	clients := make([]*websocket.Conn, numClients)
	for i := range clients {
		conn, _, err := websocket.Dial(ctx, localURL(t, "ws", server.GetAddr(), "/ws"), nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		clients[i] = conn
	}
	waitForClients(t, server, numClients)

	server.Broadcast(Message{Type: MessageTypeStats, Data: json.RawMessage(`{"total":7}`)})

	for i, conn := range clients {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeStats {
			t.Errorf("client %d: type = %s, want stats", i, msg.Type)
		}
		if gjson.GetBytes(msg.Data, "total").Int() != 7 {
			t.Errorf("client %d: data = %s", i, msg.Data)
		}
	}
}

func TestComputeStats(t *testing.T) {
	tasks := []*types.Task{
		{ID: 1, State: types.StateReady},
		{ID: 2, State: types.StateBlocked},
		{ID: 3, State: types.StateBlocked},
		{ID: 4, State: types.StateInProgress},
		{ID: 5, State: types.StateClosed},
	}

	got := ComputeStats(tasks, 2)
	want := StatsData{Total: 5, Ready: 1, Blocked: 2, InProgress: 1, Closed: 1, Dependencies: 2}
	if got != want {
		t.Errorf("ComputeStats() = %+v, want %+v", got, want)
	}
}

func openStore(t *testing.T) (*store.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pearls.db")
	db, err := store.OpenAndInit(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenAndInit() failed: %v", err)
	}
	db.SetLogger(testLogger())
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestPublisher_SkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	db, _ := openStore(t)
	server := startServer(t)
	pub := NewPublisher(db, server, testLogger())

	if sent, err := pub.Publish(ctx); err != nil || !sent {
		t.Fatalf("first Publish() = %v, %v; want true, nil", sent, err)
	}
	if sent, err := pub.Publish(ctx); err != nil || sent {
		t.Fatalf("second Publish() = %v, %v; want false, nil", sent, err)
	}

	if _, err := db.AddTask(ctx, "new", "", nil); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	if sent, err := pub.Publish(ctx); err != nil || !sent {
		t.Fatalf("Publish() after change = %v, %v; want true, nil", sent, err)
	}

	msg, ok := server.Latest(MessageTypeSnapshot)
	if !ok {
		t.Fatal("no snapshot recorded")
	}
	if gjson.GetBytes(msg.Data, "tasks.#").Int() != 1 {
		t.Errorf("snapshot = %s", msg.Data)
	}
}

func TestDBWatcher_Relevant(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDBWatcher(filepath.Join(dir, "pearls.db"), 0)
	if err != nil {
		t.Fatalf("NewDBWatcher() failed: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(dir, "pearls.db"), true},
		{filepath.Join(dir, "pearls.db-wal"), true},
		{filepath.Join(dir, "pearls.db-shm"), false},
		{filepath.Join(dir, "pearls.lock"), false},
		{filepath.Join(dir, "other", "pearls.db"), false},
	}
	for _, tt := range tests {
		if got := w.Relevant(tt.path); got != tt.want {
			t.Errorf("Relevant(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestRun_PushesChanges(t *testing.T) {
	db, path := openStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, db, RunConfig{
			DBPath:           path,
			Port:             0,
			DebounceInterval: 20 * time.Millisecond,
			RefreshInterval:  200 * time.Millisecond,
			Logger:           testLogger(),
			Ready:            func(addr string) { addrCh <- addr },
		})
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("Run() exited early: %v", err)
	case <-ctx.Done():
		t.Fatal("dashboard never became ready")
	}

	conn, _, err := websocket.Dial(ctx, localURL(t, "ws", addr, "/ws"), nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeSnapshot {
		t.Fatalf("initial message type = %s, want snapshot", msg.Type)
	}
	readMessage(t, ctx, conn)

	if _, err := db.AddTask(context.Background(), "watched", "", nil); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}

	for {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeSnapshot {
			continue
		}
		if gjson.GetBytes(msg.Data, "tasks.0.title").String() == "watched" {
			break
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() returned %v", err)
	}
}
