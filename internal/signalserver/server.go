package signalserver

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"clivox/broadcast/internal/domain"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
)

// Server is the room relay the participants sign through. Rooms are created
// implicitly by the first participant to address them and deleted when the
// last one leaves.
//
// Routing: a client's frames go to the room's instructor, an instructor's
// frames go to the client the frame addresses. On delivery the frame's peer
// field is rewritten from addressee to sender, so both ends key their peer
// sessions by the opposite endpoint.
type Server struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	instructor *participant
	clients    map[string]*participant
}

type participant struct {
	id   string
	role string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (p *participant) deliver(msg domain.Message) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(msg.Encode())); err != nil {
		log.Printf("[relay] write to %s: %v", p.id, err)
	}
}

var errRoomHasInstructor = errors.New("room already has an instructor")

// New returns an empty relay.
func New() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

// Handler returns the HTTP routes: /ws/{role}/{room}/{participant}.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws/{role}/{room}/{participant}", s.handleWS)
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	roomID := chi.URLParam(r, "room")
	id := chi.URLParam(r, "participant")

	if role != "instructor" && role != "cliente" {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade: %v", err)
		return
	}

	p := &participant{id: id, role: role, conn: conn}
	if err := s.join(roomID, p); err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	log.Printf("[relay] %s %s joined room %s", role, id, roomID)
	s.readLoop(roomID, p)

	s.leave(roomID, p)
	conn.Close()
	log.Printf("[relay] %s %s left room %s", role, id, roomID)
}

func (s *Server) join(roomID string, p *participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[roomID]
	if rm == nil {
		rm = &room{clients: make(map[string]*participant)}
		s.rooms[roomID] = rm
	}

	if p.role == "instructor" {
		if rm.instructor != nil {
			return errRoomHasInstructor
		}
		rm.instructor = p
		// Clients may outlive or precede the instructor; announce every
		// one already waiting so the broadcaster offers to them too.
		for _, c := range rm.clients {
			p.deliver(domain.Message{Kind: domain.KindNewPeer, PeerID: c.id})
		}
		return nil
	}

	rm.clients[p.id] = p
	if rm.instructor != nil {
		// The broadcaster initiates an offer on this.
		rm.instructor.deliver(domain.Message{Kind: domain.KindNewPeer, PeerID: p.id})
	}
	return nil
}

func (s *Server) leave(roomID string, p *participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm := s.rooms[roomID]
	if rm == nil {
		return
	}

	if p.role == "instructor" {
		if rm.instructor == p {
			rm.instructor = nil
		}
	} else {
		delete(rm.clients, p.id)
	}

	if rm.instructor == nil && len(rm.clients) == 0 {
		delete(s.rooms, roomID)
	}
}

func (s *Server) readLoop(roomID string, p *participant) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := domain.DecodeMessage(string(data))
		if err != nil {
			log.Printf("[relay] %v", err)
			continue
		}

		s.route(roomID, p, msg)
	}
}

func (s *Server) route(roomID string, from *participant, msg domain.Message) {
	s.mu.Lock()
	rm := s.rooms[roomID]
	var to *participant
	if rm != nil {
		if from.role == "instructor" {
			to = rm.clients[msg.PeerID]
		} else {
			to = rm.instructor
		}
	}
	s.mu.Unlock()

	if to == nil {
		log.Printf("[relay] dropping %s from %s: no recipient", msg.Kind, from.id)
		return
	}

	msg.PeerID = from.id
	to.deliver(msg)
}
