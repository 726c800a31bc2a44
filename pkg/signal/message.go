package signal

import "encoding/json"

// Message is the envelope carried over the websocket between a participant
// and the relay. Payload is opaque to the relay: it only routes by To/From.
type Message struct {
	Type     string          `json:"type"`                    // join, signal, chat, welcome, joined, left, error
	Room     string          `json:"room,omitempty"`          // room code (join)
	Name     string          `json:"name,omitempty"`          // display name (join, chat)
	From     string          `json:"from,omitempty"`          // sender participant id (signal, chat)
	To       string          `json:"to,omitempty"`            // target participant id (signal)
	Payload  json.RawMessage `json:"payload,omitempty"`       // sdp/ice envelope, relayed verbatim
	Text     string          `json:"text,omitempty"`          // chat body
	JoinedID string          `json:"joinedId,omitempty"`      // participant that just joined
	Clients  []string        `json:"clients,omitempty"`       // full room membership after a join
	PeerID   string          `json:"participantId,omitempty"` // your id (welcome), departed id (left)
	Error    string          `json:"error,omitempty"`         // error message
}

// Message types, client to relay.
const (
	TypeJoin   = "join"
	TypeSignal = "signal"
	TypeChat   = "chat"
)

// Message types, relay to client.
const (
	TypeWelcome = "welcome"
	TypeJoined  = "joined"
	TypeLeft    = "left"
	TypeError   = "error"
)
