package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/rs/zerolog/log"
)

// RobotNameParam is the master parameter consulted when no master name is given.
const RobotNameParam = "/robot/name"

var ErrResolverStopped = errors.New("nodes: master name resolver stopped")

// MasterNameResolver works out the session namespace from the master's name
// and signals readiness once. Dependent nodes resolve their names under it.
type MasterNameResolver struct {
	mu          sync.Mutex
	defaultName string
	explicit    string
	masterName  string
	namespace   string
	readyAt     time.Time
	stopped     bool

	readyOnce sync.Once
	ready     chan struct{}
	stopOnce  sync.Once
	stop      chan struct{}
}

func NewMasterNameResolver(defaultName string) *MasterNameResolver {
	return &MasterNameResolver{
		defaultName: defaultName,
		ready:       make(chan struct{}),
		stop:        make(chan struct{}),
	}
}

// SetMasterName fixes the master name; the master is then not consulted.
func (r *MasterNameResolver) SetMasterName(name string) {
	r.mu.Lock()
	r.explicit = strings.TrimSpace(name)
	r.mu.Unlock()
}

func (r *MasterNameResolver) DefaultName() string {
	return "masterNameResolver"
}

func (r *MasterNameResolver) OnStart(ctx context.Context, conn *graph.Conn) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrResolverStopped
	}
	name := r.explicit
	r.mu.Unlock()

	if name == "" {
		name = r.lookupRobotName(ctx, conn)
	}
	if name == "" {
		name = r.defaultName
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ns := graph.NewNameResolver("/", nil).Resolve("/" + strings.Trim(name, "/"))

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrResolverStopped
	}
	r.masterName = name
	r.namespace = ns
	r.readyAt = time.Now()
	r.mu.Unlock()
	r.readyOnce.Do(func() { close(r.ready) })

	log.Info().Str("master_name", name).Str("namespace", ns).Msg("nodes.MasterNameResolver resolved")
	return nil
}

func (r *MasterNameResolver) lookupRobotName(ctx context.Context, conn *graph.Conn) string {
	v, err := conn.Master().GetParam(ctx, RobotNameParam)
	if err != nil {
		if !errors.Is(err, registry.ErrParamNotFound) {
			log.Debug().Err(err).Msg("nodes.MasterNameResolver robot name lookup failed")
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		log.Warn().Str("param", RobotNameParam).Msgf("nodes.MasterNameResolver ignoring non-string robot name %T", v)
		return ""
	}
	return strings.TrimSpace(s)
}

// OnShutdown is final: a stopped resolver never becomes ready.
func (r *MasterNameResolver) OnShutdown() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.stop) })
}

// WaitForResolver blocks until the namespace is resolved, the resolver is
// stopped, or ctx ends.
func (r *MasterNameResolver) WaitForResolver(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	default:
	}
	select {
	case <-r.ready:
		return nil
	case <-r.stop:
		return ErrResolverStopped
	case <-ctx.Done():
		return fmt.Errorf("nodes: wait for resolver: %w", ctx.Err())
	}
}

func (r *MasterNameResolver) Ready() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

func (r *MasterNameResolver) ReadyAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readyAt
}

func (r *MasterNameResolver) MasterName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.masterName
}

// Namespace is "/" until the resolver is ready.
func (r *MasterNameResolver) Namespace() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.namespace == "" {
		return "/"
	}
	return r.namespace
}

// NameResolver resolves names under the resolved namespace.
func (r *MasterNameResolver) NameResolver(remap graph.Remappings) *graph.NameResolver {
	return graph.NewNameResolver(r.Namespace(), remap)
}
