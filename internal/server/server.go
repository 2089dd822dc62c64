// Package server implements the bus daemon. Nodes register over a websocket
// on a unix socket; the hub links a consumer to a producer, allocates their
// shared pool and paces frames.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/stillcam/stillcam/internal/server/handlers"
	"github.com/stillcam/stillcam/internal/server/router"
	"github.com/stillcam/stillcam/internal/util"
)

// Options configure a bus server.
type Options struct {
	SocketPath     string
	PoolDir        string
	MaxBufferSize  int
	DefaultBuffers int
	Clock          clock.WithTicker
}

// BusServer is the bus daemon
type BusServer struct {
	opts       Options
	httpServer *http.Server
	mux        *http.ServeMux
	listener   net.Listener
	hub        *Hub
	log        *slog.Logger

	// State
	mu        sync.RWMutex
	running   bool
	startTime time.Time
	buildID   string
}

var _ handlers.ServerService = (*BusServer)(nil)

// NewBusServer creates a new bus server
func NewBusServer(opts Options) *BusServer {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.PoolDir == "" {
		opts.PoolDir = filepath.Dir(opts.SocketPath)
	}
	return &BusServer{
		opts: opts,
		mux:  http.NewServeMux(),
		hub: NewHub(HubConfig{
			PoolDir:        opts.PoolDir,
			MaxBufferSize:  opts.MaxBufferSize,
			DefaultBuffers: opts.DefaultBuffers,
			Clock:          opts.Clock,
		}),
		log: util.Component("bus"),
	}
}

// Listen binds the unix socket, replacing a stale one.
func (s *BusServer) Listen() error {
	dir := filepath.Dir(s.opts.SocketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "failed to create socket directory %s", dir)
	}
	if err := os.Remove(s.opts.SocketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove stale socket %s", s.opts.SocketPath)
	}
	l, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.opts.SocketPath)
	}
	return s.Serve(l)
}

// Serve runs the daemon on l until Stop is called.
func (s *BusServer) Serve(l net.Listener) error {
	s.mu.Lock()
	s.startTime = s.opts.Clock.Now()
	s.buildID = GetBuildID()
	s.listener = l
	s.running = true
	s.setupRoutes()
	s.httpServer = &http.Server{
		Handler: loggingMiddleware(s.log, s.mux),
		// node connections are long lived
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  0,
	}
	srv := s.httpServer
	s.mu.Unlock()

	go s.hub.Run()
	s.log.Info("Bus listening", "socket", s.opts.SocketPath, "pool_dir", s.opts.PoolDir)
	return srv.Serve(l)
}

// Stop stops the server
func (s *BusServer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv, l := s.httpServer, s.listener
	s.mu.Unlock()

	// hijacked websocket connections are not tracked by Shutdown
	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("HTTP server shutdown error", "error", err)
		// Force close if graceful shutdown fails
		if err := srv.Close(); err != nil {
			s.log.Warn("HTTP server force close error", "error", err)
		}
	}
	if l.Addr().Network() == "unix" {
		os.Remove(s.opts.SocketPath)
	}

	s.log.Info("Bus stopped")
	return nil
}

// setupRoutes sets up all HTTP routes
func (s *BusServer) setupRoutes() {
	router.RegisterAll(s.mux, s,
		&router.NodeSocketRouter{},
		&router.APIRouter{},
	)
}

// ServerService interface implementations for handlers

// IsRunning returns whether the server is running
func (s *BusServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *BusServer) GetSocketPath() string {
	return s.opts.SocketPath
}

func (s *BusServer) GetPoolDir() string {
	return s.opts.PoolDir
}

// GetUptime returns server uptime
func (s *BusServer) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Clock.Since(s.startTime)
}

// GetBuildID returns build ID
func (s *BusServer) GetBuildID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildID
}

// GetVersion returns version info
func (s *BusServer) GetVersion() string {
	return BuildInfo.Version
}

func (s *BusServer) ListNodes() []handlers.NodeDTO {
	return s.hub.Nodes()
}

func (s *BusServer) ListLinks() []handlers.LinkDTO {
	return s.hub.Links()
}

func (s *BusServer) EvictNode(idOrName string) error {
	return s.hub.Evict(idOrName)
}

func (s *BusServer) HandleNodeSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWebSocket(w, r)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("http.Hijacker interface is not supported")
	}
	lw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"bytes", lw.length,
			"duration", time.Since(start))
	})
}
