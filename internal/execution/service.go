package execution

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/observability"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

// Config controls one execution service.
type Config struct {
	// LockPath is the host lock held while the service runs. Empty disables it.
	LockPath           string
	Hostname           string
	MasterPort         int
	MasterStartTimeout time.Duration
	MasterID           string
	CORSOrigins        []string
	// ParamStore backs a locally started master; nil uses memory.
	ParamStore registry.ParamStore
}

func DefaultConfig() Config {
	return Config{
		LockPath:           filepath.Join(os.TempDir(), "rosclient.lock"),
		MasterPort:         master.DefaultPort,
		MasterStartTimeout: 10 * time.Second,
		MasterID:           "master.local",
	}
}

// Service owns the node executor, an optional local master, and the shutdown signal.
type Service struct {
	cfg  Config
	exec *graph.Executor

	mu          sync.Mutex
	started     bool
	lock        *flock.Flock
	hostname    string
	masterEP    master.Endpoint
	localMaster *registry.Server
	confirm     func() bool

	listeners listenerGroup
	closing   atomic.Bool
	done      chan struct{}
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultConfig())
}

func NewServiceWithConfig(cfg Config) *Service {
	defaults := DefaultConfig()
	if cfg.MasterPort <= 0 {
		cfg.MasterPort = defaults.MasterPort
	}
	if cfg.MasterStartTimeout <= 0 {
		cfg.MasterStartTimeout = defaults.MasterStartTimeout
	}
	if cfg.MasterID == "" {
		cfg.MasterID = defaults.MasterID
	}
	return &Service{
		cfg:      cfg,
		exec:     graph.NewExecutor(),
		hostname: cfg.Hostname,
		done:     make(chan struct{}),
	}
}

// Start acquires the host lock. Failing to get it is logged and the service
// runs without it.
func (s *Service) Start() error {
	if s.closing.Load() {
		return ErrShutdown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	if s.cfg.LockPath == "" {
		return nil
	}
	lock := flock.New(s.cfg.LockPath)
	ok, err := lock.TryLock()
	switch {
	case err != nil:
		log.Warn().Err(err).Str("path", s.cfg.LockPath).Msg("execution.Service.Start host lock unavailable, continuing without it")
	case !ok:
		log.Warn().Str("path", s.cfg.LockPath).Msg("execution.Service.Start host lock held elsewhere, continuing without it")
	default:
		s.lock = lock
		log.Debug().Str("path", s.cfg.LockPath).Msg("execution.Service.Start host lock acquired")
	}
	return nil
}

// HoldsLock reports whether Start acquired the host lock.
func (s *Service) HoldsLock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock != nil
}

// StartLocalMaster runs a master registry in-process and blocks until it answers
// or the start timeout passes. Private masters bind loopback on an ephemeral port;
// public ones bind the service hostname on the configured port.
func (s *Service) StartLocalMaster(ctx context.Context, private bool) (master.Endpoint, error) {
	if s.closing.Load() {
		return master.Endpoint{}, ErrShutdown
	}
	s.mu.Lock()
	if !s.masterEP.IsZero() {
		s.mu.Unlock()
		return master.Endpoint{}, ErrMasterAlreadySet
	}
	hostname := s.hostname
	s.mu.Unlock()

	cfg := registry.ServerConfig{
		MasterID:    s.cfg.MasterID,
		CORSOrigins: s.cfg.CORSOrigins,
		Store:       s.cfg.ParamStore,
	}
	if private {
		cfg.ListenAddr = "127.0.0.1:0"
	} else {
		bind := hostname
		if bind == "" {
			bind = "0.0.0.0"
		}
		cfg.ListenAddr = net.JoinHostPort(bind, strconv.Itoa(s.cfg.MasterPort))
		cfg.AdvertiseHost = hostname
	}

	fail := func(err error) (master.Endpoint, error) {
		observability.RecordMasterStart(private, false)
		log.Error().Err(err).Bool("private", private).Str("listen", cfg.ListenAddr).Msg("execution.Service.StartLocalMaster failed")
		return master.Endpoint{}, &MasterStartError{Private: private, Addr: cfg.ListenAddr, Err: err}
	}

	srv := registry.NewServer(cfg)
	if err := srv.Start(); err != nil {
		return fail(err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.MasterStartTimeout)
	defer cancel()
	if err := srv.AwaitStart(waitCtx); err != nil {
		s.stopServer(srv)
		return fail(err)
	}

	ep := srv.URI()
	s.mu.Lock()
	if !s.masterEP.IsZero() || s.closing.Load() {
		s.mu.Unlock()
		s.stopServer(srv)
		if s.closing.Load() {
			return master.Endpoint{}, ErrShutdown
		}
		return master.Endpoint{}, ErrMasterAlreadySet
	}
	s.masterEP = ep
	s.localMaster = srv
	s.mu.Unlock()

	observability.RecordMasterStart(private, true)
	log.Info().Bool("private", private).Str("uri", ep.String()).Msg("execution.Service.StartLocalMaster ready")
	return ep, nil
}

// SetMasterEndpoint records an externally supplied master. It can be set once.
func (s *Service) SetMasterEndpoint(ep master.Endpoint) error {
	if ep.IsZero() {
		return fmt.Errorf("execution: %w", master.ErrInvalidAddress)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.masterEP.IsZero() {
		return ErrMasterAlreadySet
	}
	s.masterEP = ep
	log.Info().Str("uri", ep.String()).Msg("execution.Service.SetMasterEndpoint recorded")
	return nil
}

func (s *Service) MasterEndpoint() (master.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterEP, !s.masterEP.IsZero()
}

// OwnsMaster reports whether the master was started by this service.
func (s *Service) OwnsMaster() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localMaster != nil
}

func (s *Service) Hostname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostname
}

func (s *Service) SetHostname(host string) {
	s.mu.Lock()
	s.hostname = host
	s.mu.Unlock()
}

// NodeConfig is a node configuration for the current master and hostname.
func (s *Service) NodeConfig() graph.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localMaster != nil && s.masterEP.Host == "127.0.0.1" {
		return graph.NewPrivateConfig(s.masterEP)
	}
	return graph.NewPublicConfig(s.hostname, s.masterEP)
}

func (s *Service) Execute(n graph.Node, cfg graph.Config) (*graph.Handle, error) {
	if s.closing.Load() {
		return nil, ErrShutdown
	}
	return s.exec.Execute(n, cfg)
}

func (s *Service) ShutdownNode(n graph.Node) error {
	return s.exec.ShutdownNode(n)
}

func (s *Service) Running() []*graph.Handle {
	return s.exec.Running()
}

// AddListener registers l for the shutdown signal. If the service has already
// shut down, l is signalled immediately.
func (s *Service) AddListener(l Listener) ListenerID {
	id, ok := s.listeners.add(l)
	if !ok {
		s.signal(l)
	}
	return id
}

// RemoveListener is a no-op for unknown ids.
func (s *Service) RemoveListener(id ListenerID) {
	s.listeners.remove(id)
}

// SetConfirmHook installs the prompt used by RequestShutdown.
func (s *Service) SetConfirmHook(confirm func() bool) {
	s.mu.Lock()
	s.confirm = confirm
	s.mu.Unlock()
}

// RequestShutdown asks the confirm hook first when confirm is set.
// It reports whether shutdown went ahead.
func (s *Service) RequestShutdown(confirm bool) bool {
	s.mu.Lock()
	hook := s.confirm
	s.mu.Unlock()
	if confirm && hook != nil && !hook() {
		log.Info().Msg("execution.Service.RequestShutdown declined")
		return false
	}
	s.Shutdown()
	return true
}

// Shutdown stops all nodes and any owned master, releases the host lock, and
// signals each listener once in registration order. Concurrent and nested
// calls return immediately; Done reports completion.
func (s *Service) Shutdown() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	log.Info().Msg("execution.Service.Shutdown begin")

	s.exec.Shutdown()

	s.mu.Lock()
	srv := s.localMaster
	s.localMaster = nil
	lock := s.lock
	s.lock = nil
	s.mu.Unlock()

	if srv != nil {
		s.stopServer(srv)
	}
	if lock != nil {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("execution.Service.Shutdown host lock release failed")
		}
	}

	for _, l := range s.listeners.seal() {
		s.signal(l)
	}
	close(s.done)
	log.Info().Msg("execution.Service.Shutdown complete")
}

// Done is closed after Shutdown has signalled every listener.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Alive is false once shutdown has begun.
func (s *Service) Alive() bool {
	return !s.closing.Load()
}

func (s *Service) signal(l Listener) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("execution.Service.signal listener panicked: %v", r)
		}
	}()
	l.OnShutdown(s)
}

func (s *Service) stopServer(srv *registry.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("execution.Service local master shutdown failed")
	}
}
