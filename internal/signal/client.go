package signal

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"clivox/broadcast/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 20 * time.Second
	writeTimeout = 5 * time.Second
)

// Client manages the WebSocket connection to the signaling relay. One client
// exists per participant; a closed connection is terminal and the session
// must be restarted by the user.
type Client struct {
	endpoint string
	room     string
	id       string
	role     string
	handler  domain.Handler

	conn *websocket.Conn

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a signaling client for (room, participant, role).
// endpoint is the relay base URL, e.g. ws://localhost:8000.
func NewClient(endpoint, room, participantID, role string, handler domain.Handler) *Client {
	return &Client{
		endpoint: endpoint,
		room:     room,
		id:       participantID,
		role:     role,
		handler:  handler,
		closed:   make(chan struct{}),
	}
}

// Connect dials the relay and starts the read and ping loops.
func (c *Client) Connect() error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return &domain.ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	u.Path = fmt.Sprintf("/ws/%s/%s/%s", c.role, c.room, c.id)

	log.Printf("[signal] connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return &domain.ConnectionError{Endpoint: u.String(), Err: err}
	}
	c.conn = conn

	go c.readLoop()
	go c.pingLoop()

	c.handler.OnOpened()
	return nil
}

// Send writes one frame. Delivery is best effort: if the channel is not
// open the frame is dropped and logged, and higher-level timeouts drive any
// retry.
func (c *Client) Send(msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.isClosed() {
		log.Printf("[signal] dropping %s frame for %s: channel not open", msg.Kind, msg.PeerID)
		return
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg.Encode())); err != nil {
		log.Printf("[signal] write error: %v", err)
	}
}

// Close shuts down the connection. Safe to call more than once; the
// handler's OnClosed fires exactly once.
func (c *Client) Close() {
	first := false
	c.closeOnce.Do(func() {
		first = true
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
	// Fired outside the Once so a handler that calls Close back in
	// response cannot deadlock.
	if first {
		c.handler.OnClosed()
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Printf("[signal] read error: %v", err)
			}
			return
		}

		msg, err := domain.DecodeMessage(string(data))
		if err != nil {
			log.Printf("[signal] %v", err)
			continue
		}

		c.handler.OnMessage(msg)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeTimeout),
			)
			c.mu.Unlock()
			if err != nil {
				if !c.isClosed() {
					log.Printf("[signal] ping error: %v", err)
				}
				return
			}
		}
	}
}
