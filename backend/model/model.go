package model

import "encoding/json"

// MaxPeers is the room capacity.
const MaxPeers = 2

// Message types sent by clients.
const (
	TypeJoin         = "join"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// Message types sent by server.
const (
	TypeJoined     = "joined"
	TypeError      = "error"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
)

// Conn is a live bidirectional message channel to a peer.
// Implementations must be comparable, identity is used for room membership.
type Conn interface {
	ID() string
	// Send queues frame for delivery and never waits for the peer.
	// It returns false if the frame was not queued.
	Send(frame []byte) bool
	Alive() bool
}

// Inbound is a client-issued frame. Payload fields are kept raw
// so they can be relayed without re-encoding.
type Inbound struct {
	Type      string          `json:"type"`
	RoomID    json.RawMessage `json:"roomId,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type Joined struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId"`
	IsInitiator bool   `json:"isInitiator"`
	Peers       int    `json:"peers"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Notice is a payload-less server announcement (peer-joined, peer-left).
type Notice struct {
	Type string `json:"type"`
}

// Relay is a negotiation frame forwarded to the other occupant.
type Relay struct {
	Type      string          `json:"type"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Room is a read-only occupancy snapshot.
type Room struct {
	ID    string `json:"room_id"`
	Peers int    `json:"peers"`
}
