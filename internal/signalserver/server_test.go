package signalserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server, role, room, id string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/ws/%s/%s/%s", role, room, id)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestJoin_NotifiesInstructorOfNewClient(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	instructor := dial(t, srv, "instructor", "R1", "teacher")
	_ = dial(t, srv, "cliente", "R1", "viewer-A")

	frame := readFrame(t, instructor)
	if frame != "NEW_CLIENT::viewer-A::" {
		t.Errorf("instructor got %q, want NEW_CLIENT::viewer-A::", frame)
	}
}

func TestJoin_LateInstructorLearnsOfWaitingClients(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	_ = dial(t, srv, "cliente", "R1", "viewer-A")
	_ = dial(t, srv, "cliente", "R1", "viewer-B")
	// Let the relay register both before the instructor arrives.
	time.Sleep(100 * time.Millisecond)

	instructor := dial(t, srv, "instructor", "R1", "teacher")

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		frame := readFrame(t, instructor)
		if !strings.HasPrefix(frame, "NEW_CLIENT::") || !strings.HasSuffix(frame, "::") {
			t.Fatalf("unexpected frame %q", frame)
		}
		got[strings.TrimSuffix(strings.TrimPrefix(frame, "NEW_CLIENT::"), "::")] = true
	}
	if !got["viewer-A"] || !got["viewer-B"] {
		t.Errorf("instructor notified of %v, want viewer-A and viewer-B", got)
	}
}

func TestRoute_InstructorFrameRewrittenToSender(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	instructor := dial(t, srv, "instructor", "R1", "teacher")
	client := dial(t, srv, "cliente", "R1", "viewer-A")
	readFrame(t, instructor) // NEW_CLIENT

	writeFrame(t, instructor, `OFFER::viewer-A::{"type":"offer","sdp":"v=0"}`)

	frame := readFrame(t, client)
	if frame != `OFFER::teacher::{"type":"offer","sdp":"v=0"}` {
		t.Errorf("client got %q; peer field must be rewritten to the sender", frame)
	}
}

func TestRoute_ClientFrameGoesToInstructor(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	instructor := dial(t, srv, "instructor", "R1", "teacher")
	client := dial(t, srv, "cliente", "R1", "viewer-A")
	readFrame(t, instructor) // NEW_CLIENT

	writeFrame(t, client, `ANSWER::teacher::{"type":"answer","sdp":"v=0"}`)

	frame := readFrame(t, instructor)
	if frame != `ANSWER::viewer-A::{"type":"answer","sdp":"v=0"}` {
		t.Errorf("instructor got %q; peer field must name the client", frame)
	}
}

func TestRoute_FramesOnlyReachAddressedClient(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	instructor := dial(t, srv, "instructor", "R1", "teacher")
	clientA := dial(t, srv, "cliente", "R1", "viewer-A")
	clientB := dial(t, srv, "cliente", "R1", "viewer-B")
	readFrame(t, instructor)
	readFrame(t, instructor)

	writeFrame(t, instructor, `ICE::viewer-B::{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`)

	frame := readFrame(t, clientB)
	if !strings.HasPrefix(frame, "ICE::teacher::") {
		t.Errorf("viewer-B got %q", frame)
	}

	clientA.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := clientA.ReadMessage(); err == nil {
		t.Error("viewer-A must not receive a frame addressed to viewer-B")
	}
}

func TestRoute_RoomsAreIsolated(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	instructorR1 := dial(t, srv, "instructor", "R1", "teacher-1")
	_ = dial(t, srv, "cliente", "R2", "viewer-A")

	instructorR1.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := instructorR1.ReadMessage(); err == nil {
		t.Error("a join in R2 must not notify the R1 instructor")
	}
}

func TestJoin_SecondInstructorRejected(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	_ = dial(t, srv, "instructor", "R1", "teacher")
	second := dial(t, srv, "instructor", "R1", "impostor")

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("expected the second instructor connection to be closed")
	}
}

func TestJoin_UnknownRoleRejected(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/admin/R1/x"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown role")
	}
	if resp != nil && resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMalformedFrame_DroppedConnectionStaysOpen(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	instructor := dial(t, srv, "instructor", "R1", "teacher")
	client := dial(t, srv, "cliente", "R1", "viewer-A")
	readFrame(t, instructor)

	writeFrame(t, client, "not a frame")
	writeFrame(t, client, `ANSWER::teacher::{"type":"answer","sdp":"v=0"}`)

	frame := readFrame(t, instructor)
	if !strings.HasPrefix(frame, "ANSWER::viewer-A::") {
		t.Errorf("instructor got %q after malformed frame", frame)
	}
}

func TestLeave_FramesForGoneClientDropped(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	instructor := dial(t, srv, "instructor", "R1", "teacher")
	client := dial(t, srv, "cliente", "R1", "viewer-A")
	readFrame(t, instructor)

	client.Close()
	// Give the relay a moment to unregister the client.
	time.Sleep(100 * time.Millisecond)

	writeFrame(t, instructor, `OFFER::viewer-A::{"type":"offer","sdp":"v=0"}`)

	instructor.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := instructor.ReadMessage(); err == nil {
		t.Error("no echo expected; frame for a gone client is dropped")
	}
}
