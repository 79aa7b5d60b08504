package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies the type of a signaling message.
type Kind string

const (
	// KindNewPeer announces that a client joined the room. Carries no payload.
	KindNewPeer Kind = "NEW_CLIENT"
	// KindOffer carries a session description offer.
	KindOffer Kind = "OFFER"
	// KindAnswer carries a session description answer.
	KindAnswer Kind = "ANSWER"
	// KindICE carries a single ICE candidate.
	KindICE Kind = "ICE"
)

const frameSep = "::"

// Message is one signaling frame. PeerID names the other endpoint of the
// peer session the message concerns: the addressee when sending, the sender
// when receiving.
type Message struct {
	Kind    Kind
	PeerID  string
	Payload json.RawMessage
}

// SDPPayload is the JSON structure for offer/answer payloads.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate payloads.
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// Encode flattens the message to its wire frame KIND::PEER_ID::PAYLOAD.
func (m Message) Encode() string {
	return string(m.Kind) + frameSep + m.PeerID + frameSep + string(m.Payload)
}

// DecodeMessage parses a wire frame. The payload may itself contain the
// separator (SDP blobs do), so only the first two separators delimit fields.
func DecodeMessage(frame string) (Message, error) {
	parts := strings.SplitN(frame, frameSep, 3)
	if len(parts) < 3 {
		return Message{}, &ProtocolDecodeError{Frame: frame, Reason: "fewer than three fields"}
	}

	msg := Message{Kind: Kind(parts[0]), PeerID: parts[1]}

	switch msg.Kind {
	case KindNewPeer:
		// no payload
	case KindOffer, KindAnswer, KindICE:
		if !json.Valid([]byte(parts[2])) {
			return Message{}, &ProtocolDecodeError{Frame: frame, Reason: "payload is not valid JSON"}
		}
		msg.Payload = json.RawMessage(parts[2])
	default:
		return Message{}, &ProtocolDecodeError{Frame: frame, Reason: fmt.Sprintf("unknown kind %q", parts[0])}
	}

	if msg.PeerID == "" {
		return Message{}, &ProtocolDecodeError{Frame: frame, Reason: "empty peer id"}
	}

	return msg, nil
}

// NewOfferMessage builds an OFFER frame addressed to peerID.
func NewOfferMessage(peerID string, sdp SDPPayload) Message {
	payload, _ := json.Marshal(sdp)
	return Message{Kind: KindOffer, PeerID: peerID, Payload: payload}
}

// NewAnswerMessage builds an ANSWER frame addressed to peerID.
func NewAnswerMessage(peerID string, sdp SDPPayload) Message {
	payload, _ := json.Marshal(sdp)
	return Message{Kind: KindAnswer, PeerID: peerID, Payload: payload}
}

// NewICEMessage builds an ICE frame addressed to peerID.
func NewICEMessage(peerID string, cand ICECandidatePayload) Message {
	payload, _ := json.Marshal(cand)
	return Message{Kind: KindICE, PeerID: peerID, Payload: payload}
}
