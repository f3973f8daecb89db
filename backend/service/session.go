package service

import (
	"encoding/json"
	"sync"

	"github.com/adwski/webrtc-rendezvous/backend/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
)

// Session is the signaling state of one connection.
// It is either unjoined or joined to exactly one room until the connection
// is closed. Any string, including empty one, is a valid room id.
// State is guarded by the service lock.
type Session struct {
	svc  *Service
	conn model.Conn

	roomID    string
	joined    bool
	closed    bool
	closeOnce sync.Once

	logger zerolog.Logger
}

// RoomID returns joined room, ok is false while session is unjoined.
func (s *Session) RoomID() (roomID string, ok bool) {
	s.svc.mx.Lock()
	defer s.svc.mx.Unlock()
	return s.roomID, s.joined
}

// Handle processes one inbound frame. Frames that cannot be decoded are dropped.
func (s *Session) Handle(frame []byte) {
	var msg model.Inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.logger.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	s.svc.mx.Lock()
	defer s.svc.mx.Unlock()
	if s.closed {
		return
	}

	switch msg.Type {
	case model.TypeJoin:
		s.join(msg.RoomID)
	case model.TypeOffer, model.TypeAnswer:
		s.relay(model.Relay{Type: msg.Type, SDP: msg.SDP})
	case model.TypeICECandidate:
		s.relay(model.Relay{Type: msg.Type, Candidate: msg.Candidate})
	default:
		s.logger.Warn().Str("type", msg.Type).Msg("unknown message type")
		if e := s.logger.Trace(); e.Enabled() {
			e.Str("frame", spew.Sdump(msg)).Msg("unknown message dump")
		}
	}
}

// Close removes connection from its room and notifies remaining occupant.
// It is safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.svc.mx.Lock()
		defer s.svc.mx.Unlock()
		s.closed = true
		if !s.joined {
			return
		}

		peers, ok := s.svc.store.Leave(s.roomID, s.conn)
		if !ok {
			return
		}
		s.logger.Info().Int("peers", peers).Msg("peer left room")
		s.broadcast(model.Notice{Type: model.TypePeerLeft}, model.TypePeerLeft)
	})
}

func (s *Session) join(rawRoomID json.RawMessage) {
	roomID, err := decodeRoomID(rawRoomID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("dropping join with invalid room id")
		return
	}

	if s.joined {
		s.svc.countJoin(joinResult(ErrAlreadyJoined))
		s.logger.Warn().
			Str("roomID", s.roomID).
			Str("requestedRoomID", roomID).
			Msg("join rejected, already in a room")
		s.reply(model.Error{Type: model.TypeError, Message: errMsgAlreadyJoined})
		return
	}

	peers, err := s.svc.store.Join(roomID, s.conn)
	s.svc.countJoin(joinResult(err))
	if err != nil {
		s.logger.Info().Err(err).Str("roomID", roomID).Msg("join rejected")
		s.reply(model.Error{Type: model.TypeError, Message: errMsgRoomIsFull})
		return
	}

	s.roomID = roomID
	s.joined = true
	s.logger = s.logger.With().Str("roomID", roomID).Logger()
	s.reply(model.Joined{
		Type:        model.TypeJoined,
		RoomID:      roomID,
		IsInitiator: peers == 1,
		Peers:       peers,
	})
	if peers == model.MaxPeers {
		s.broadcast(model.Notice{Type: model.TypePeerJoined}, model.TypePeerJoined)
	}
	s.logger.Info().Int("peers", peers).Msg("peer joined room")
}

func (s *Session) relay(msg model.Relay) {
	if !s.joined {
		s.logger.Debug().Str("type", msg.Type).Msg("relay before join, ignoring")
		return
	}
	s.logger.Debug().Str("type", msg.Type).Msg("relaying")
	s.broadcast(msg, msg.Type)
}

func (s *Session) broadcast(msg any, msgType string) {
	if _, err := s.svc.sw.Broadcast(s.roomID, s.conn, msgType, msg); err != nil {
		s.logger.Error().Err(err).Str("type", msgType).Msg("broadcast failed")
	}
}

func (s *Session) reply(msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	if !s.conn.Send(b) {
		s.logger.Debug().Msg("reply was not queued")
	}
}
