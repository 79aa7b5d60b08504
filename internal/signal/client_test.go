package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"clivox/broadcast/internal/domain"

	"github.com/gorilla/websocket"
)

// recordingHandler collects channel events for assertions.
type recordingHandler struct {
	mu     sync.Mutex
	opened int
	closed int
	msgs   []domain.Message
}

func (h *recordingHandler) OnOpened() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened++
}

func (h *recordingHandler) OnMessage(msg domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *recordingHandler) OnClosed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *recordingHandler) counts() (int, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened, h.closed, len(h.msgs)
}

func (h *recordingHandler) waitForMessages(t *testing.T, n int) []domain.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		if len(h.msgs) >= n {
			out := append([]domain.Message(nil), h.msgs...)
			h.mu.Unlock()
			return out
		}
		h.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages", n)
	return nil
}

// testRelay upgrades one connection and exposes it to the test.
type testRelay struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	path string
	conn *websocket.Conn
	got  chan string
}

func newTestRelay() *testRelay {
	return &testRelay{got: make(chan string, 16)}
}

func (r *testRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.path = req.URL.Path
	r.conn = conn
	r.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.got <- string(data)
	}
}

func (r *testRelay) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn != nil {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for relay connection")
	return nil
}

func (r *testRelay) write(t *testing.T, frame string) {
	t.Helper()
	conn := r.waitConn(t)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("relay write: %v", err)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnect_DialsRoleRoomParticipantPath(t *testing.T) {
	relay := newTestRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	h := &recordingHandler{}
	c := NewClient(wsURL(srv), "R1", "viewer-A", "cliente", h)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	var path string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		relay.mu.Lock()
		path = relay.path
		relay.mu.Unlock()
		if path != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if path != "/ws/cliente/R1/viewer-A" {
		t.Errorf("dialed path %q, want /ws/cliente/R1/viewer-A", path)
	}

	opened, _, _ := h.counts()
	if opened != 1 {
		t.Errorf("OnOpened fired %d times, want 1", opened)
	}
}

func TestConnect_UnreachableEndpointFails(t *testing.T) {
	h := &recordingHandler{}
	c := NewClient("ws://127.0.0.1:1", "R1", "viewer-A", "cliente", h)

	err := c.Connect()
	if err == nil {
		t.Fatal("expected connection error")
	}
	if _, ok := err.(*domain.ConnectionError); !ok {
		t.Errorf("expected ConnectionError, got %T", err)
	}
}

func TestSend_WritesWireFrame(t *testing.T) {
	relay := newTestRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	h := &recordingHandler{}
	c := NewClient(wsURL(srv), "R1", "viewer-A", "cliente", h)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	c.Send(domain.NewAnswerMessage("instructor", domain.SDPPayload{Type: "answer", SDP: "v=0"}))

	select {
	case frame := <-relay.got:
		if !strings.HasPrefix(frame, "ANSWER::instructor::") {
			t.Errorf("unexpected frame %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestReadLoop_DeliversDecodedMessages(t *testing.T) {
	relay := newTestRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	h := &recordingHandler{}
	c := NewClient(wsURL(srv), "R1", "instructor", "instructor", h)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	relay.write(t, "NEW_CLIENT::viewer-A::")
	msgs := h.waitForMessages(t, 1)

	if msgs[0].Kind != domain.KindNewPeer || msgs[0].PeerID != "viewer-A" {
		t.Errorf("unexpected message %+v", msgs[0])
	}
}

func TestReadLoop_DropsMalformedFramesAndStaysOpen(t *testing.T) {
	relay := newTestRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	h := &recordingHandler{}
	c := NewClient(wsURL(srv), "R1", "instructor", "instructor", h)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	relay.write(t, "garbage frame")
	relay.write(t, "NEW_CLIENT::viewer-A::")

	msgs := h.waitForMessages(t, 1)
	if len(msgs) != 1 {
		t.Fatalf("expected the malformed frame dropped, got %d messages", len(msgs))
	}
	if msgs[0].PeerID != "viewer-A" {
		t.Errorf("unexpected message %+v", msgs[0])
	}
}

func TestRemoteClose_FiresOnClosedOnce(t *testing.T) {
	relay := newTestRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	h := &recordingHandler{}
	c := NewClient(wsURL(srv), "R1", "viewer-A", "cliente", h)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	relay.waitConn(t).Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, closed, _ := h.counts(); closed == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Close() // explicit close after remote close must not re-fire
	_, closed, _ := h.counts()
	if closed != 1 {
		t.Errorf("OnClosed fired %d times, want 1", closed)
	}
}

func TestSend_AfterCloseIsDroppedSilently(t *testing.T) {
	relay := newTestRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	h := &recordingHandler{}
	c := NewClient(wsURL(srv), "R1", "viewer-A", "cliente", h)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	c.Close()
	c.Send(domain.NewICEMessage("instructor", domain.ICECandidatePayload{Candidate: "candidate:1"}))
	// No panic and no delivery is the contract.
}
