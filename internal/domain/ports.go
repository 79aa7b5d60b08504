package domain

// Signaler manages the persistent signaling connection for one participant.
type Signaler interface {
	Connect() error
	Send(msg Message)
	Close()
}

// Handler receives signaling channel events. OnOpened and OnClosed fire at
// most once each; OnClosed is terminal for the channel.
type Handler interface {
	OnOpened()
	OnMessage(msg Message)
	OnClosed()
}

// Track is one local capture track with a mute flag. Toggling the flag is
// purely local and never touches the negotiation layer.
type Track interface {
	ID() string
	Kind() string // "video" or "audio"
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// Capture owns the local camera and microphone for one participant process.
// Its tracks are shared across every peer session; only the owning session
// orchestrator may stop them.
type Capture interface {
	Tracks() []Track
	Stop()
}
