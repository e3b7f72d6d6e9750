package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/master"
)

var ErrIllegalTransition = errors.New("graph: illegal node state transition")

// Node is a unit of work run by the Executor.
// OnStart may block until ctx is cancelled or return early; the node stays
// Started either way until it is shut down.
type Node interface {
	DefaultName() string
	OnStart(ctx context.Context, conn *Conn) error
	OnShutdown()
}

// State is a node handle's lifecycle position. Stopped is terminal.
type State int

const (
	Created State = iota
	Started
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Started:
		return "started"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) canMove(to State) bool {
	switch s {
	case Created:
		return to == Started || to == Stopped
	case Started:
		return to == ShuttingDown
	case ShuttingDown:
		return to == Stopped
	default:
		return false
	}
}

// Handle tracks one execution of one node. A stopped handle is never reused.
type Handle struct {
	id     string
	name   string
	node   Node
	master master.Endpoint

	mu        sync.Mutex
	state     State
	err       error
	startedAt time.Time

	cancel  context.CancelFunc
	runDone chan struct{}
	done    chan struct{}
}

func newHandle(id, name string, n Node) *Handle {
	return &Handle{
		id:      id,
		name:    name,
		node:    n,
		runDone: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (h *Handle) ID() string {
	return h.id
}

// Name is the node's resolved graph name.
func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the handle reaches Stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err is the registration or OnStart failure that stopped the node, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

func (h *Handle) transition(to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.canMove(to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrIllegalTransition, h.state, to, h.name)
	}
	h.state = to
	switch to {
	case Started:
		h.startedAt = time.Now()
	case Stopped:
		close(h.done)
	}
	return nil
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
}
