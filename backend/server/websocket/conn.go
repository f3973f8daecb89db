package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// conn is a signaling connection handle. Outbound frames are queued
// and written by a single sender goroutine.
type conn struct {
	id     string
	ws     *websocket.Conn
	tx     chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	logger zerolog.Logger
}

func newConn(
	ctx context.Context,
	cancel context.CancelFunc,
	id string,
	ws *websocket.Conn,
	logger *zerolog.Logger,
) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		tx:     make(chan []byte, defaultSendQueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("connID", id).Logger(),
	}
}

func (c *conn) ID() string {
	return c.id
}

func (c *conn) Alive() bool {
	return c.ctx.Err() == nil
}

// Send queues frame without blocking. A peer that cannot keep up
// with its queue is disconnected.
func (c *conn) Send(frame []byte) bool {
	if !c.Alive() {
		return false
	}
	select {
	case c.tx <- frame:
		return true
	case <-c.ctx.Done():
		return false
	default:
		c.logger.Warn().Msg("send queue overflow, dropping connection")
		c.cancel()
		return false
	}
}

func (c *conn) send(wg *sync.WaitGroup) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-c.ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := c.ws.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = c.ws.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			c.logger.Trace().Msg("ping sent")

		case frame := <-c.tx:
			wsErr := c.ws.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsW, wsErr := c.ws.NextWriter(websocket.TextMessage)
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to get websocket text writer")
				break SendLoop
			}
			_, wsErr = wsW.Write(frame)
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to write outgoing message")
				break SendLoop
			}
			wsErr = wsW.Close()
			if wsErr != nil {
				c.logger.Error().Err(wsErr).Msg("failed to close websocket writer")
				break SendLoop
			}
		}
	}
}

// receive feeds inbound frames to sess in arrival order.
func (c *conn) receive(wg *sync.WaitGroup, sess Session) {
	defer wg.Done()

	c.ws.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	}
	c.ws.SetPongHandler(func(string) error {
		c.logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

	for {
		_, msg, wsErr := c.ws.ReadMessage()
		if wsErr != nil {
			switch {
			case c.ctx.Err() != nil:
				c.logger.Debug().Msg("connection terminated")
			case websocket.IsCloseError(wsErr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway):
				c.logger.Debug().Err(wsErr).Msg("connection closed")
			default:
				c.logger.Warn().Err(wsErr).Msg("unexpected error during receive")
			}
			return
		}
		sess.Handle(msg)
	}
}

func (c *conn) close() {
	wsErr := c.ws.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		c.logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if wsErr != nil {
			c.logger.Debug().Err(wsErr).Msg("failed to send close message")
		}
	}
	wsErr = c.ws.Close()
	if wsErr != nil {
		c.logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
