package service

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/adwski/webrtc-rendezvous/backend/metrics"
	"github.com/adwski/webrtc-rendezvous/backend/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	errMsgRoomIsFull    = "Room is full (max 2 peers)."
	errMsgAlreadyJoined = "Already joined a room."
)

var (
	ErrAlreadyJoined = errors.New("connection already joined a room")
	ErrMalformed     = errors.New("malformed message")
)

type (
	RoomStore interface {
		Join(roomID string, conn model.Conn) (int, error)
		Leave(roomID string, conn model.Conn) (int, bool)
	}

	Switch interface {
		Broadcast(roomID string, src model.Conn, msgType string, msg any) (int, error)
	}

	// Service serializes all session events with one lock, so that the registry
	// mutation of an event and the frames it queues are seen by peers in order.
	Service struct {
		mx     *sync.Mutex
		store  RoomStore
		sw     Switch
		joins  *prometheus.CounterVec
		logger zerolog.Logger
	}

	Config struct {
		RoomStore RoomStore
		Switch    Switch
		Logger    *zerolog.Logger
		// Joins counts join attempts by result, can be nil.
		Joins *prometheus.CounterVec
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		mx:     &sync.Mutex{},
		store:  cfg.RoomStore,
		sw:     cfg.Switch,
		joins:  cfg.Joins,
		logger: cfg.Logger.With().Str("component", "signaling").Logger(),
	}
}

// NewSession binds new unjoined session to conn.
// Caller must feed inbound frames sequentially and call Close once transport is gone.
func (svc *Service) NewSession(conn model.Conn) *Session {
	return &Session{
		svc:    svc,
		conn:   conn,
		logger: svc.logger.With().Str("connID", conn.ID()).Logger(),
	}
}

func (svc *Service) countJoin(result string) {
	if svc.joins != nil {
		svc.joins.WithLabelValues(result).Inc()
	}
}

func decodeRoomID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", ErrMalformed
	}
	var roomID *string
	if err := json.Unmarshal(raw, &roomID); err != nil {
		return "", errors.Join(ErrMalformed, err)
	}
	if roomID == nil {
		// null
		return "", ErrMalformed
	}
	return *roomID, nil
}

func joinResult(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyJoined):
		return metrics.JoinRejoin
	case err != nil:
		return metrics.JoinFull
	}
	return metrics.JoinAccepted
}
