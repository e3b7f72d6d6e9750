package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/observability"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrExecutorShutdown = errors.New("graph: executor shut down")
	ErrAlreadyRunning   = errors.New("graph: node already running")
	ErrNodeNotRunning   = errors.New("graph: node not running")
	ErrNoMaster         = errors.New("graph: master endpoint required")
	ErrNilNode          = errors.New("graph: nil node")
)

const stopWait = 2 * time.Second

// Executor runs nodes against a master registry. Nodes are tracked by
// identity, so implementations should be pointer types.
type Executor struct {
	mu      sync.Mutex
	handles map[Node]*Handle
	closed  bool
	rng     *rand.Rand

	clientFor func(master.Endpoint) *registry.Client
}

func NewExecutor() *Executor {
	return &Executor{
		handles: make(map[Node]*Handle),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		clientFor: func(ep master.Endpoint) *registry.Client {
			return registry.NewClient(ep)
		},
	}
}

// Execute accepts n (Created -> Started) and registers and starts it in the background.
// Each call is independent; a node that has stopped may be executed again with a fresh handle.
func (e *Executor) Execute(n Node, cfg Config) (*Handle, error) {
	if n == nil {
		return nil, ErrNilNode
	}
	if cfg.Master.IsZero() {
		return nil, ErrNoMaster
	}

	resolver := cfg.Resolver()
	rawName := cfg.NodeName
	if rawName == "" {
		rawName = n.DefaultName()
	}
	name := resolver.Resolve(rawName)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorShutdown
	}
	if existing, ok := e.handles[n]; ok && existing.State() != Stopped {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, existing.Name())
	}
	h := newHandle(uuid.NewString(), name, n)
	h.master = cfg.Master
	if err := h.transition(Started); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	e.handles[n] = h
	e.mu.Unlock()

	observability.RecordNodeTransition(name, Started.String())
	log.Info().Str("node", name).Str("id", h.id).Str("master", cfg.Master.String()).Msg("graph.Executor.Execute accepted")

	conn := &Conn{
		id:       h.id,
		name:     name,
		cfg:      cfg,
		resolver: resolver.ForNode(rawName),
		master:   e.clientFor(cfg.Master),
		ctx:      ctx,
	}
	go e.run(ctx, h, conn)
	return h, nil
}

func (e *Executor) run(ctx context.Context, h *Handle, conn *Conn) {
	err := e.startNode(ctx, h, conn)
	close(h.runDone)
	if err == nil || ctx.Err() != nil {
		return
	}
	h.setErr(err)
	log.Error().Err(err).Str("node", h.name).Msg("graph.Executor.run node failed")
	e.stop(h)
}

func (e *Executor) startNode(ctx context.Context, h *Handle, conn *Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("graph: node %s panicked: %v", h.name, r)
		}
	}()
	if err := e.register(ctx, h, conn); err != nil {
		return err
	}
	return h.node.OnStart(ctx, conn)
}

func (e *Executor) register(ctx context.Context, h *Handle, conn *Conn) error {
	attempts := conn.cfg.RegisterAttempts
	if attempts < 1 {
		attempts = 1
	}
	info := registry.NodeInfo{Name: h.name, ID: h.id, Host: conn.cfg.Host}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		_, err := conn.master.RegisterNode(ctx, info)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		e.mu.Lock()
		delay := registry.NextBackoffDelay(conn.cfg.Backoff, attempt, e.rng)
		e.mu.Unlock()
		log.Warn().Err(lastErr).Str("node", h.name).Int("attempt", attempt).Dur("retry_in", delay).Msg("graph.Executor.register retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("graph: register %s: %w", h.name, lastErr)
}

// ShutdownNode stops one node. Unknown or already stopped nodes are reported, not fatal.
func (e *Executor) ShutdownNode(n Node) error {
	e.mu.Lock()
	h, ok := e.handles[n]
	e.mu.Unlock()
	if !ok {
		return ErrNodeNotRunning
	}
	if !e.stop(h) {
		return ErrNodeNotRunning
	}
	return nil
}

// Shutdown stops every node and refuses new ones. Safe to call more than once.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	e.closed = true
	handles := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		e.stop(h)
	}
}

// Running lists handles that are not yet stopped.
func (e *Executor) Running() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		if h.State() != Stopped {
			out = append(out, h)
		}
	}
	return out
}

// stop drives h to Stopped. If another caller is already stopping it, stop
// waits for that to finish and reports false.
func (e *Executor) stop(h *Handle) bool {
	if err := h.transition(ShuttingDown); err != nil {
		select {
		case <-h.done:
		case <-time.After(stopWait):
		}
		return false
	}
	observability.RecordNodeTransition(h.name, ShuttingDown.String())
	h.cancel()
	select {
	case <-h.runDone:
	case <-time.After(stopWait):
		log.Warn().Str("node", h.name).Msg("graph.Executor.stop start did not return in time")
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("node", h.name).Msgf("graph.Executor.stop shutdown hook panicked: %v", r)
			}
		}()
		h.node.OnShutdown()
	}()

	e.unregister(h)

	_ = h.transition(Stopped)
	observability.RecordNodeTransition(h.name, Stopped.String())

	e.mu.Lock()
	if e.handles[h.node] == h {
		delete(e.handles, h.node)
	}
	e.mu.Unlock()
	log.Info().Str("node", h.name).Msg("graph.Executor.stop stopped")
	return true
}

func (e *Executor) unregister(h *Handle) {
	if h.Err() != nil || h.master.IsZero() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopWait)
	defer cancel()
	if err := e.clientFor(h.master).UnregisterNode(ctx, h.name); err != nil && !errors.Is(err, registry.ErrNodeNotFound) {
		log.Debug().Err(err).Str("node", h.name).Msg("graph.Executor.stop unregister failed")
	}
}
