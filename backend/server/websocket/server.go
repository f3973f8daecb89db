package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/webrtc-rendezvous/backend/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 64 * 1024
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	defaultSendQueueSize = 64

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

type (
	// Session consumes inbound frames of a single connection.
	Session interface {
		Handle(frame []byte)
		Close()
	}

	// SessionFactory binds a new signaling session to accepted connection.
	SessionFactory func(conn model.Conn) Session

	Config struct {
		Logger     *zerolog.Logger
		NewSession SessionFactory
		// Connections tracks live connections, can be nil.
		Connections prometheus.Gauge
	}

	Server struct {
		newSession  SessionFactory
		ws          *websocket.Upgrader
		connections prometheus.Gauge
		wg          *sync.WaitGroup
		mx          *sync.Mutex
		conns       map[*conn]struct{}
		closing     bool

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	return &Server{
		logger:      cfg.Logger.With().Str("component", "websocket-server").Logger(),
		newSession:  cfg.NewSession,
		connections: cfg.Connections,
		wg:          &sync.WaitGroup{},
		mx:          &sync.Mutex{},
		conns:       make(map[*conn]struct{}),
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades request to websocket and starts signaling session.
// Connection lives until the peer goes away or server is shut down.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if srv.isClosing() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already replied with error status
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background()) // long-living connection context
	c := newConn(ctx, cancel, uuid.NewString(), ws, &srv.logger)
	if !srv.track(c) {
		// shutdown started during upgrade
		cancel()
		c.close()
		return
	}
	sess := srv.newSession(c)

	c.logger.Debug().Str("remote", r.RemoteAddr).Msg("connection accepted")
	if srv.connections != nil {
		srv.connections.Inc()
	}
	go srv.handleWSConn(c, sess)
}

// Shutdown refuses new connections, terminates live ones
// and waits for their sessions to be closed.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.closeAll()
	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (srv *Server) handleWSConn(c *conn, sess Session) {
	defer srv.wg.Done()

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		c.receive(wg, sess)
		c.cancel()
	}()
	go func() {
		c.send(wg)
		c.cancel()
		// unblock reader
		_ = c.ws.UnderlyingConn().SetReadDeadline(time.Now())
	}()

	wg.Wait()
	c.close()
	sess.Close()

	srv.untrack(c)
	if srv.connections != nil {
		srv.connections.Dec()
	}
	c.logger.Debug().Msg("signaling session ended")
}

// track registers connection unless shutdown has started.
func (srv *Server) track(c *conn) bool {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	if srv.closing {
		return false
	}
	srv.wg.Add(1)
	srv.conns[c] = struct{}{}
	return true
}

func (srv *Server) isClosing() bool {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	return srv.closing
}

func (srv *Server) untrack(c *conn) {
	srv.mx.Lock()
	delete(srv.conns, c)
	srv.mx.Unlock()
}

func (srv *Server) closeAll() {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	srv.closing = true
	for c := range srv.conns {
		c.cancel()
	}
}
