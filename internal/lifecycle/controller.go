package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/rosclient/internal/execution"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/rs/zerolog/log"
)

var (
	ErrBind           = errors.New("lifecycle: execution service bind failed")
	ErrAlreadyStarted = errors.New("lifecycle: controller already started")
	ErrClosed         = errors.New("lifecycle: controller closed")
	ErrMissingOption  = errors.New("lifecycle: missing required option")
)

// Binder creates or attaches to the execution service for this client.
type Binder interface {
	Bind(ctx context.Context) (*execution.Service, error)
	Release(svc *execution.Service)
}

// LocalBinder runs the execution service in-process.
type LocalBinder struct {
	Config execution.Config
}

func (b LocalBinder) Bind(context.Context) (*execution.Service, error) {
	svc := execution.NewServiceWithConfig(b.Config)
	if err := svc.Start(); err != nil {
		return nil, err
	}
	return svc, nil
}

// Release drops the binding only; the service keeps running until it is shut down.
func (b LocalBinder) Release(*execution.Service) {}

// Initializer is the mode-specific startup run once a master is known.
type Initializer interface {
	Init(ctx context.Context, svc *execution.Service) error
}

type InitFunc func(ctx context.Context, svc *execution.Service) error

func (f InitFunc) Init(ctx context.Context, svc *execution.Service) error {
	return f(ctx, svc)
}

// Hooks are foreground callbacks. All of them run through the Dispatcher.
type Hooks struct {
	OnState func(State)
	// OnError shows a failure to the user.
	OnError func(error)
	// Teardown removes the client's UI surface.
	Teardown func()
	// Exit ends the client process.
	Exit func(code int)
}

type Options struct {
	Binder      Binder
	Chooser     Chooser
	Initializer Initializer
	Dispatcher  Dispatcher
	// MasterOverride is a master supplied out of band, e.g. by an external launcher.
	MasterOverride master.Endpoint
	Hooks          Hooks
}

// Controller drives a client session:
// Unbound -> Binding -> AwaitingMaster -> Initializing -> Ready, and ShuttingDown
// from any state when the execution service shuts down.
type Controller struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	svc        *execution.Service
	listenerID execution.ListenerID
	closed     bool

	resolving atomic.Bool
	finishing atomic.Bool

	readyOnce sync.Once
	ready     chan struct{}
	doneOnce  sync.Once
	done      chan struct{}
}

func New(opts Options) (*Controller, error) {
	if opts.Binder == nil {
		return nil, fmt.Errorf("%w: binder", ErrMissingOption)
	}
	if opts.Initializer == nil {
		return nil, fmt.Errorf("%w: initializer", ErrMissingOption)
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher", ErrMissingOption)
	}
	if opts.Chooser == nil && opts.MasterOverride.IsZero() {
		return nil, fmt.Errorf("%w: chooser", ErrMissingOption)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start binds the execution service and begins master resolution. A bind
// failure is returned and is fatal to the caller.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Unbound {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.mu.Unlock()
	c.setState(Binding)

	svc, err := c.opts.Binder.Bind(ctx)
	if err == nil && svc == nil {
		err = errors.New("binder returned no service")
	}
	if err != nil {
		log.Error().Err(err).Msg("lifecycle.Controller.Start bind failed")
		return fmt.Errorf("%w: %v", ErrBind, err)
	}

	c.mu.Lock()
	c.svc = svc
	c.mu.Unlock()
	id := svc.AddListener(execution.ListenerFunc(c.onServiceShutdown))
	c.mu.Lock()
	c.listenerID = id
	c.mu.Unlock()

	if !svc.Alive() {
		return nil
	}
	c.setState(AwaitingMaster)

	switch ep, ok := svc.MasterEndpoint(); {
	case ok:
		c.HandleChoice(ExistingMaster(ep))
	case !c.opts.MasterOverride.IsZero():
		c.HandleChoice(ExistingMaster(c.opts.MasterOverride))
	default:
		c.openChooser()
	}
	return nil
}

// HandleChoice applies a chooser result. Only the first master resolution of
// the session is honoured; a cancelled choice shuts the session down.
func (c *Controller) HandleChoice(choice Choice) {
	svc := c.Service()
	if svc == nil {
		log.Warn().Str("choice", choice.Kind.String()).Msg("lifecycle.Controller.HandleChoice before bind, ignored")
		return
	}
	if choice.Kind == ChoiceCancelled {
		if c.resolving.Load() {
			log.Warn().Msg("lifecycle.Controller.HandleChoice cancel after master resolution, ignored")
			return
		}
		log.Info().Msg("lifecycle.Controller.HandleChoice cancelled, shutting down")
		svc.Shutdown()
		return
	}
	if !c.resolving.CompareAndSwap(false, true) {
		log.Warn().Str("choice", choice.Kind.String()).Msg("lifecycle.Controller.HandleChoice master already resolving, ignored")
		return
	}
	if choice.Hostname != "" {
		svc.SetHostname(choice.Hostname)
	}
	go c.resolveAndInit(svc, choice)
}

// NotifyAppTerminated marks the client as already finishing so a later
// shutdown signal does not exit the process a second time.
func (c *Controller) NotifyAppTerminated() {
	c.finishing.Store(true)
}

// Close detaches from the service: the shutdown listener is removed before the
// binding is released.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	svc := c.svc
	id := c.listenerID
	c.mu.Unlock()

	c.finishing.Store(true)
	c.cancel()
	if svc != nil {
		svc.RemoveListener(id)
		c.opts.Binder.Release(svc)
	}
	log.Info().Msg("lifecycle.Controller.Close released")
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Service() *execution.Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.svc
}

// Ready is closed when init completes.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed when the controller reaches ShuttingDown.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) openChooser() {
	if c.opts.Chooser == nil {
		c.report(errors.New("lifecycle: no master chooser configured"))
		if svc := c.Service(); svc != nil {
			svc.Shutdown()
		}
		return
	}
	go func() {
		choice := c.opts.Chooser.Choose(c.ctx)
		if c.ctx.Err() != nil {
			return
		}
		c.opts.Dispatcher.Post(func() { c.HandleChoice(choice) })
	}()
}

func (c *Controller) resolveAndInit(svc *execution.Service, choice Choice) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("lifecycle: init panicked: %v", r)
			log.Error().Err(err).Msg("lifecycle.Controller.resolveAndInit")
			c.report(err)
			svc.Shutdown()
		}
	}()

	if err := c.resolveMaster(svc, choice); err != nil {
		if !svc.Alive() {
			return
		}
		c.report(err)
		if errors.Is(err, execution.ErrMasterStart) {
			c.resolving.Store(false)
			c.opts.Dispatcher.Post(c.openChooser)
			return
		}
		svc.Shutdown()
		return
	}

	if !c.setState(Initializing) {
		return
	}
	if err := c.opts.Initializer.Init(c.ctx, svc); err != nil {
		if !svc.Alive() {
			return
		}
		log.Error().Err(err).Msg("lifecycle.Controller init failed")
		c.report(err)
		svc.Shutdown()
		return
	}
	if c.setState(Ready) {
		c.readyOnce.Do(func() { close(c.ready) })
	}
}

func (c *Controller) resolveMaster(svc *execution.Service, choice Choice) error {
	switch choice.Kind {
	case ChoiceExisting:
		err := svc.SetMasterEndpoint(choice.Endpoint)
		if errors.Is(err, execution.ErrMasterAlreadySet) {
			if ep, _ := svc.MasterEndpoint(); ep == choice.Endpoint {
				return nil
			}
		}
		return err
	case ChoiceCreateNew:
		_, err := svc.StartLocalMaster(c.ctx, choice.Private)
		return err
	default:
		return fmt.Errorf("lifecycle: unexpected choice %s", choice.Kind)
	}
}

func (c *Controller) onServiceShutdown(*execution.Service) {
	c.setState(ShuttingDown)
	c.doneOnce.Do(func() { close(c.done) })
	c.cancel()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	exit := !c.finishing.Load()
	c.opts.Dispatcher.Post(func() {
		if c.opts.Hooks.Teardown != nil {
			c.opts.Hooks.Teardown()
		}
		if exit && c.opts.Hooks.Exit != nil {
			c.opts.Hooks.Exit(0)
		}
	})
}

// setState moves to s unless the controller is already shutting down.
func (c *Controller) setState(s State) bool {
	c.mu.Lock()
	if c.state == ShuttingDown {
		c.mu.Unlock()
		return false
	}
	prev := c.state
	c.state = s
	c.mu.Unlock()

	log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("lifecycle.Controller state")
	if hook := c.opts.Hooks.OnState; hook != nil {
		c.opts.Dispatcher.Post(func() { hook(s) })
	}
	return true
}

func (c *Controller) report(err error) {
	if hook := c.opts.Hooks.OnError; hook != nil {
		c.opts.Dispatcher.Post(func() { hook(err) })
	}
}
