package _switch

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/adwski/webrtc-rendezvous/backend/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	ErrMarshal = errors.New("unable to marshal message")
)

type (
	OccupantLister interface {
		OccupantsExcept(roomID string, conn model.Conn) []model.Conn
	}

	Config struct {
		Logger    *zerolog.Logger
		Occupants OccupantLister
		// Relayed counts delivered frames by message type, can be nil.
		Relayed *prometheus.CounterVec
	}

	Switch struct {
		logger    zerolog.Logger
		occupants OccupantLister
		relayed   *prometheus.CounterVec
	}
)

func NewSwitch(cfg Config) *Switch {
	return &Switch{
		logger:    cfg.Logger.With().Str("component", "switch").Logger(),
		occupants: cfg.Occupants,
		relayed:   cfg.Relayed,
	}
}

// Broadcast delivers msg to every live occupant of the room except src.
// Message is serialized once. Delivery is fire-and-forget, dead endpoints
// are skipped and left to their own disconnect handling.
// It returns number of occupants the message was queued for.
func (sw *Switch) Broadcast(roomID string, src model.Conn, msgType string, msg any) (int, error) {
	b, err := marshal(msg)
	if err != nil {
		return 0, errors.Join(ErrMarshal, err)
	}

	logger := sw.logger.With().
		Str("roomID", roomID).
		Str("type", msgType).
		Str("src", src.ID()).
		Logger()

	var sent int
	for _, dst := range sw.occupants.OccupantsExcept(roomID, src) {
		if dst == src {
			continue
		}
		if !dst.Alive() {
			logger.Debug().Str("dst", dst.ID()).Msg("dead endpoint, skipping")
			continue
		}
		if !dst.Send(b) {
			logger.Debug().Str("dst", dst.ID()).Msg("message was not queued")
			continue
		}
		sent++
		logger.Trace().Str("dst", dst.ID()).Msg("message is forwarded")
	}

	if sent == 0 {
		logger.Debug().Msg("broadcast did not reach anyone")
	} else if sw.relayed != nil {
		sw.relayed.WithLabelValues(msgType).Add(float64(sent))
	}
	return sent, nil
}

// marshal encodes msg without HTML escaping so relayed payloads keep their bytes.
func marshal(msg any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
