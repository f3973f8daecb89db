package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/adwski/webrtc-rendezvous/backend/model"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline  = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	RoomService interface {
		GetRoom(roomID string) (*model.Room, error)
	}

	// Upgrader handles websocket signaling connections and terminates them on shutdown.
	Upgrader interface {
		http.Handler
		Shutdown(ctx context.Context) error
	}

	GenericResponse struct {
		Message string      `json:"message,omitempty"`
		Error   string      `json:"error,omitempty"`
		Data    interface{} `json:"data,omitempty"`
	}

	Server struct {
		logger    zerolog.Logger
		svc       RoomService
		signaling Upgrader
		indexPath string
		*http.Server
	}

	Config struct {
		Logger      *zerolog.Logger
		RoomService RoomService
		Signaling   Upgrader
		// Metrics serves /metrics, can be nil.
		Metrics     http.Handler
		ListenAddr  string
		IndexPath   string
		CORSAllowed []string
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:    cfg.Logger.With().Str("component", "http-server").Logger(),
		svc:       cfg.RoomService,
		signaling: cfg.Signaling,
		indexPath: cfg.IndexPath,
	}

	r := http.NewServeMux()
	r.HandleFunc("/", srv.root)
	r.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.HandleFunc("GET /api/room/{roomID}", srv.getRoom)
	if cfg.Metrics != nil {
		r.Handle("GET /metrics", cfg.Metrics)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowed,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:         86400,
	})

	srv.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return srv
}

// root accepts signaling websockets on any path and serves landing page otherwise.
func (srv *Server) root(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		srv.signaling.ServeHTTP(w, r)
		return
	}
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	b, err := os.ReadFile(srv.indexPath)
	if err != nil {
		srv.logger.Debug().Err(err).Str("path", srv.indexPath).Msg("cannot read landing page")
		http.Error(w, "index.html not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write landing page")
	}
}

func (srv *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	room, err := srv.svc.GetRoom(roomID)
	if err != nil {
		srv.writeJSON(w, http.StatusNotFound, &GenericResponse{Error: err.Error()})
		return
	}
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: room})
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, resp *GenericResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		// stop accepting first, hijacked websocket connections
		// are not tracked by http.Server and are terminated after
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
		if err := srv.signaling.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("signaling shutdown failed")
		}
	}
}
