package mapsave

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/boundcall"
	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/rs/zerolog/log"
)

const (
	// ServiceName is the logical save service, subject to remapping.
	ServiceName = "save_map"
	// DefaultTimeout bounds one save.
	DefaultTimeout = 10 * time.Second
)

type Request struct {
	MapName string `json:"map_name"`
}

// Response is the save service's result.
type Response struct {
	Saved   bool   `json:"saved"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

// Callbacks receive the outcome of one SaveMap. Exactly one of them fires.
type Callbacks struct {
	OnSuccess func(Response)
	OnFailure func(error)
	OnTimeout func()
}

// Locator finds a transport for the resolved service name.
type Locator func(ctx context.Context, name string) (boundcall.AsyncTransport[Request, Response], error)

// MasterLocator looks services up on a master registry.
func MasterLocator(m *registry.Client) Locator {
	return func(ctx context.Context, name string) (boundcall.AsyncTransport[Request, Response], error) {
		sc, err := graph.Locate[Request, Response](ctx, m, name)
		if err != nil {
			return nil, err
		}
		return sc, nil
	}
}

type Option func(*Coordinator)

func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAlive aborts a waiting save once alive reports false.
func WithAlive(alive func() bool) Option {
	return func(c *Coordinator) {
		c.alive = alive
	}
}

func WithRemappings(r graph.Remappings) Option {
	return func(c *Coordinator) {
		c.serviceName = r.Get(ServiceName)
	}
}

// Coordinator saves the current map through the bounded remote call.
type Coordinator struct {
	locate      Locator
	timeout     time.Duration
	alive       func() bool
	serviceName string

	mu       sync.Mutex
	resolver *graph.NameResolver
}

func New(locate Locator, opts ...Option) *Coordinator {
	c := &Coordinator{
		locate:      locate,
		timeout:     DefaultTimeout,
		serviceName: ServiceName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetNameResolver resolves the service name in a session namespace.
func (c *Coordinator) SetNameResolver(r *graph.NameResolver) {
	c.mu.Lock()
	c.resolver = r
	c.mu.Unlock()
}

// ResolvedServiceName is the service name SaveMap will look up.
func (c *Coordinator) ResolvedServiceName() string {
	c.mu.Lock()
	r := c.resolver
	c.mu.Unlock()
	if r == nil {
		r = graph.NewNameResolver("/", nil)
	}
	return r.Resolve(c.serviceName)
}

// SaveMap asks the save service to store the current map as name. It blocks
// until an outcome is known; run it off the foreground goroutine. A service
// that cannot be located fails immediately without a call.
func (c *Coordinator) SaveMap(ctx context.Context, name string, cb Callbacks) boundcall.Kind {
	service := c.ResolvedServiceName()
	t, err := c.locate(ctx, service)
	if err != nil {
		log.Warn().Err(err).Str("service", service).Msg("mapsave.Coordinator.SaveMap service unavailable")
		if cb.OnFailure != nil {
			cb.OnFailure(err)
		}
		return boundcall.Failure
	}

	opts := []boundcall.Option{boundcall.WithName(service)}
	if c.alive != nil {
		opts = append(opts, boundcall.WithAlive(c.alive))
	}
	out := boundcall.Call(ctx, t, Request{MapName: name}, c.timeout, opts...)

	switch out.Kind {
	case boundcall.Success:
		log.Info().Str("map", name).Str("path", out.Response.Path).Msg("mapsave.Coordinator.SaveMap saved")
		if cb.OnSuccess != nil {
			cb.OnSuccess(out.Response)
		}
	case boundcall.TimedOut:
		log.Warn().Err(out.Err).Str("map", name).Msg("mapsave.Coordinator.SaveMap timed out")
		if cb.OnTimeout != nil {
			cb.OnTimeout()
		}
	default:
		log.Warn().Err(out.Err).Str("map", name).Msg("mapsave.Coordinator.SaveMap failed")
		if cb.OnFailure != nil {
			cb.OnFailure(out.Err)
		}
	}
	return out.Kind
}
