package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidRoom is returned by Start when the room id is empty.
var ErrInvalidRoom = errors.New("room id must not be empty")

// ErrUnknownPeer marks a frame referencing a peer session that does not
// exist. Such frames are dropped, never fatal.
var ErrUnknownPeer = errors.New("no peer session for peer id")

// DeviceAccessError wraps a camera/microphone acquisition failure. It is
// fatal to session start and never retried.
type DeviceAccessError struct {
	Err error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("device access denied: %v", e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// ConnectionError wraps a signaling endpoint failure. It is fatal to the
// current session; a fresh Start must be user-initiated.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("signaling connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolDecodeError marks a malformed wire frame. The frame is dropped
// and the channel stays open.
type ProtocolDecodeError struct {
	Frame  string
	Reason string
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("malformed frame (%s): %.80q", e.Reason, e.Frame)
}

// NegotiationError marks a description or candidate the transport rejected.
// Only the affected peer session is torn down.
type NegotiationError struct {
	PeerID string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed: %v", e.PeerID, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
