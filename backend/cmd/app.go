package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/adwski/webrtc-rendezvous/backend/config"
	"github.com/adwski/webrtc-rendezvous/backend/metrics"
	"github.com/adwski/webrtc-rendezvous/backend/model"
	httpServer "github.com/adwski/webrtc-rendezvous/backend/server/http"
	websocketServer "github.com/adwski/webrtc-rendezvous/backend/server/websocket"
	"github.com/adwski/webrtc-rendezvous/backend/service"
	store "github.com/adwski/webrtc-rendezvous/backend/storage/memory"
	sw "github.com/adwski/webrtc-rendezvous/backend/switch"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// local .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	logger = logger.Level(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	rooms := store.NewMemStore(m.Rooms)
	svc := service.NewService(service.Config{
		RoomStore: rooms,
		Switch: sw.NewSwitch(sw.Config{
			Logger:    &logger,
			Occupants: rooms,
			Relayed:   m.Relayed,
		}),
		Logger: &logger,
		Joins:  m.Joins,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger: &logger,
		NewSession: func(conn model.Conn) websocketServer.Session {
			return svc.NewSession(conn)
		},
		Connections: m.Connections,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: rooms,
		Signaling:   wsSrv,
		Metrics:     m.Handler(),
		ListenAddr:  cfg.ListenAddr,
		IndexPath:   cfg.IndexPath,
		CORSAllowed: cfg.CORSAllowed,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go httpSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
