package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var (
	ErrServerRunning    = errors.New("registry: server already running")
	ErrServerNotRunning = errors.New("registry: server not running")
)

// ServerConfig controls one master registry instance.
type ServerConfig struct {
	ListenAddr string
	// AdvertiseHost replaces an unspecified bind address in the published URI.
	AdvertiseHost string
	MasterID      string
	CORSOrigins   []string
	Store         ParamStore
	Debug         bool
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", master.DefaultPort),
		MasterID:   "master.local",
	}
}

// Server is the master registry: graph names, services, latched topics and params.
type Server struct {
	cfg     ServerConfig
	router  *gin.Engine
	graph   *graphState
	store   ParamStore
	started time.Time

	mu       sync.Mutex
	httpSrv  *http.Server
	uri      master.Endpoint
	serveErr chan error
}

func NewServer(cfg ServerConfig) *Server {
	defaults := DefaultServerConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.MasterID == "" {
		cfg.MasterID = defaults.MasterID
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.MasterID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		router:  r,
		graph:   newGraphState(),
		store:   cfg.Store,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) MasterID() string {
	return s.cfg.MasterID
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return ErrServerRunning
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("registry: listen %s: %w", s.cfg.ListenAddr, err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s.uri = master.NewEndpoint(s.advertiseHost(addr), addr.Port)
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.serveErr = make(chan error, 1)

	srv := s.httpSrv
	errCh := s.serveErr
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("master", s.cfg.MasterID).Msg("registry.Server.serve failed")
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().
		Str("master", s.cfg.MasterID).
		Str("listen", ln.Addr().String()).
		Str("uri", s.uri.String()).
		Msg("registry.Server.Start listening")
	return nil
}

// AwaitStart polls /health until the master answers, ctx ends, or serving fails.
func (s *Server) AwaitStart(ctx context.Context) error {
	s.mu.Lock()
	uri := s.uri
	errCh := s.serveErr
	s.mu.Unlock()
	if errCh == nil {
		return ErrServerNotRunning
	}

	client := NewClient(uri, WithTimeout(500*time.Millisecond))
	for {
		if _, err := client.Health(ctx); err == nil {
			return nil
		}
		timer := time.NewTimer(50 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case err, ok := <-errCh:
			timer.Stop()
			if ok && err != nil {
				return err
			}
			return ErrServerNotRunning
		case <-timer.C:
		}
	}
}

// URI is the endpoint other processes use to reach this master.
func (s *Server) URI() master.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpSrv != nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	log.Info().Str("master", s.cfg.MasterID).Msg("registry.Server.Shutdown stopped")
	return err
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	errCh := s.serveErr
	s.mu.Unlock()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) advertiseHost(addr *net.TCPAddr) string {
	if s.cfg.AdvertiseHost != "" {
		return s.cfg.AdvertiseHost
	}
	if addr.IP == nil || addr.IP.IsUnspecified() {
		if host, err := os.Hostname(); err == nil && host != "" {
			return host
		}
		return "127.0.0.1"
	}
	return addr.IP.String()
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
