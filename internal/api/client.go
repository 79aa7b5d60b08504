package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client talks to the clivox backend: call-token issuing and call event
// logging.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client for baseURL (no trailing slash).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Token is the managed-calling credential issued by the backend.
type Token struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// FetchToken requests a disposable call token and user identity.
func (c *Client) FetchToken() (*Token, error) {
	resp, err := c.http.Post(c.baseURL+"/acs/token", "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request: http %d: %s", resp.StatusCode, body)
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("unmarshal token response: %w", err)
	}
	return &tok, nil
}

type event struct {
	UserID string `json:"user_id"`
	RoomID string `json:"sala_id"`
	Event  string `json:"evento"`
}

// LogEvent posts a session telemetry event. Fire and forget: failures are
// logged, never returned.
func (c *Client) LogEvent(userID, roomID, name string) {
	body, err := json.Marshal(event{UserID: userID, RoomID: roomID, Event: name})
	if err != nil {
		log.Printf("[api] marshal event: %v", err)
		return
	}

	resp, err := c.http.Post(c.baseURL+"/llamada/evento", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[api] log event %s: %v", name, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("[api] log event %s: http %d", name, resp.StatusCode)
	}
}
