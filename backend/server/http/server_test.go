package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adwski/webrtc-rendezvous/backend/metrics"
	"github.com/adwski/webrtc-rendezvous/backend/model"
	store "github.com/adwski/webrtc-rendezvous/backend/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSignaling struct {
	mx       sync.Mutex
	upgrades int
	shutdown bool
	// listening reports whether http server still accepted connections at signaling shutdown
	listening bool
	addr      string
}

func (s *testSignaling) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mx.Lock()
	s.upgrades++
	s.mx.Unlock()
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (s *testSignaling) Shutdown(context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.shutdown = true
	if s.addr != "" {
		if c, err := net.DialTimeout("tcp", s.addr, time.Second); err == nil {
			s.listening = true
			_ = c.Close()
		}
	}
	return nil
}

type testConn struct{}

func (c *testConn) ID() string         { return "test" }
func (c *testConn) Send(_ []byte) bool { return true }
func (c *testConn) Alive() bool        { return true }

func newTestServer(t *testing.T, indexPath string) (*Server, *testSignaling, *store.MemStore) {
	t.Helper()
	logger := zerolog.Nop()
	m := metrics.New(prometheus.NewRegistry())
	rooms := store.NewMemStore(m.Rooms)
	sig := &testSignaling{}
	srv := NewServer(Config{
		Logger:      &logger,
		RoomService: rooms,
		Signaling:   sig,
		Metrics:     m.Handler(),
		ListenAddr:  "127.0.0.1:0",
		IndexPath:   indexPath,
		CORSAllowed: []string{"*"},
	})
	return srv, sig, rooms
}

func do(t *testing.T, srv *Server, r *http.Request) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, r)
	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestServer_LandingPage(t *testing.T) {
	index := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(index, []byte("<html>hi</html>"), 0o600))
	srv, _, _ := newTestServer(t, index)

	for _, path := range []string{"/", "/index.html"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "text/html", w.Header().Get("Content-Type"))
			assert.Equal(t, "<html>hi</html>", w.Body.String())
		})
	}

	code, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Not found", strings.TrimSpace(body))
}

func TestServer_LandingPageMissing(t *testing.T) {
	srv, _, _ := newTestServer(t, filepath.Join(t.TempDir(), "missing.html"))

	code, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "index.html not found", strings.TrimSpace(body))
}

func TestServer_WebsocketUpgradeDispatch(t *testing.T) {
	srv, sig, _ := newTestServer(t, "index.html")

	for _, path := range []string{"/", "/ws", "/any/path"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("Connection", "Upgrade")
		r.Header.Set("Upgrade", "websocket")
		code, _ := do(t, srv, r)
		assert.Equal(t, http.StatusSwitchingProtocols, code)
	}
	assert.Equal(t, 3, sig.upgrades)
}

func TestServer_GetRoom(t *testing.T) {
	srv, _, rooms := newTestServer(t, "index.html")

	code, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/room/r1", nil))
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"error":"room is not found"}`, body)

	_, err := rooms.Join("r1", &testConn{})
	require.NoError(t, err)

	code, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/room/r1", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"data":{"room_id":"r1","peers":1}}`, body)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv, _, rooms := newTestServer(t, "index.html")
	_, err := rooms.Join("r1", &testConn{})
	require.NoError(t, err)

	code, _ := do(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, code)

	code, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "rendezvous_rooms 1")
}

func TestServer_CORS(t *testing.T) {
	srv, _, _ := newTestServer(t, "index.html")

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, r)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
	// wildcard origin must not be combined with credentials
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))

	r = httptest.NewRequest(http.MethodOptions, "/api/room/r1", nil)
	r.Header.Set("Origin", "http://example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, r)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestServer_RunShutdown(t *testing.T) {
	srv, sig, _ := newTestServer(t, "index.html")
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.Addr = l.Addr().String()
	require.NoError(t, l.Close())
	sig.addr = srv.Addr

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go srv.Run(ctx, wg, errc)

	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	assert.Empty(t, errc)
	assert.True(t, sig.shutdown)
	// listener is closed before signaling connections are terminated
	assert.False(t, sig.listening)
}

func TestServer_RunListenError(t *testing.T) {
	logger := zerolog.Nop()
	srv := NewServer(Config{
		Logger:      &logger,
		RoomService: store.NewMemStore(nil),
		Signaling:   &testSignaling{},
		ListenAddr:  "256.0.0.1:-1",
	})

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go srv.Run(context.Background(), wg, errc)
	wg.Wait()

	err := <-errc
	require.ErrorIs(t, err, ErrUnexpected)
}

var _ RoomService = (*store.MemStore)(nil)
var _ model.Conn = (*testConn)(nil)
