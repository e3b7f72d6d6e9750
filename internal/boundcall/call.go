package boundcall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is how often the waiter checks the liveness flag.
const DefaultPollInterval = 200 * time.Millisecond

var (
	ErrTimedOut       = errors.New("boundcall: timed out")
	ErrInterrupted    = errors.New("boundcall: interrupted")
	ErrInvalidTimeout = errors.New("boundcall: timeout must be positive")
	ErrNoResult       = errors.New("boundcall: transport failed without an error")
)

// Kind is the state of a pending call's outcome.
type Kind int

const (
	Pending Kind = iota
	Success
	Failure
	TimedOut
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case TimedOut:
		return "timed_out"
	default:
		return "pending"
	}
}

// Outcome is the single result of a bounded call.
type Outcome[Resp any] struct {
	Kind     Kind
	Response Resp
	Err      error
}

// AsyncTransport issues req and later invokes exactly one of the handlers,
// possibly from another goroutine, possibly after the caller gave up.
type AsyncTransport[Req, Resp any] interface {
	CallAsync(ctx context.Context, req Req, onSuccess func(Resp), onFailure func(error))
}

type TransportFunc[Req, Resp any] func(ctx context.Context, req Req, onSuccess func(Resp), onFailure func(error))

func (f TransportFunc[Req, Resp]) CallAsync(ctx context.Context, req Req, onSuccess func(Resp), onFailure func(error)) {
	f(ctx, req, onSuccess, onFailure)
}

type Options struct {
	Name         string
	PollInterval time.Duration
	// Alive is polled while waiting; false ends the wait as interrupted.
	Alive func() bool
}

type Option func(*Options)

func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

func WithAlive(alive func() bool) Option {
	return func(o *Options) { o.Alive = alive }
}

// PendingCall holds one in-flight request. Its outcome is written once.
type PendingCall[Req, Resp any] struct {
	ID       string
	Name     string
	Request  Req
	Deadline time.Time

	mu      sync.Mutex
	outcome Outcome[Resp]
	settled chan struct{}
}

func newPendingCall[Req, Resp any](name string, req Req, deadline time.Time) *PendingCall[Req, Resp] {
	return &PendingCall[Req, Resp]{
		ID:       uuid.NewString(),
		Name:     name,
		Request:  req,
		Deadline: deadline,
		settled:  make(chan struct{}),
	}
}

// settle records o if nothing has won yet. Later arrivals are dropped.
func (p *PendingCall[Req, Resp]) settle(o Outcome[Resp]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outcome.Kind != Pending {
		log.Debug().
			Str("call", p.ID).
			Str("service", p.Name).
			Str("won", p.outcome.Kind.String()).
			Str("dropped", o.Kind.String()).
			Msg("boundcall.PendingCall.settle late outcome ignored")
		return false
	}
	p.outcome = o
	close(p.settled)
	return true
}

func (p *PendingCall[Req, Resp]) Outcome() Outcome[Resp] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// Call issues req through t and blocks until the first of response, failure,
// deadline, ctx cancellation or a false liveness poll. Exactly one outcome is
// returned; interruption is reported as TimedOut wrapping ErrInterrupted.
func Call[Req, Resp any](ctx context.Context, t AsyncTransport[Req, Resp], req Req, timeout time.Duration, opts ...Option) Outcome[Resp] {
	o := Options{PollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if timeout <= 0 {
		return Outcome[Resp]{Kind: Failure, Err: ErrInvalidTimeout}
	}

	start := time.Now()
	pc := newPendingCall[Req, Resp](o.Name, req, start.Add(timeout))

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	issue(callCtx, t, pc)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-pc.settled:
			break wait
		case <-timer.C:
			pc.settle(Outcome[Resp]{Kind: TimedOut, Err: ErrTimedOut})
			break wait
		case <-ctx.Done():
			pc.settle(Outcome[Resp]{Kind: TimedOut, Err: fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())})
			break wait
		case <-ticker.C:
			if o.Alive != nil && !o.Alive() {
				pc.settle(Outcome[Resp]{Kind: TimedOut, Err: ErrInterrupted})
				break wait
			}
		}
	}

	out := pc.Outcome()
	elapsed := time.Since(start)
	observability.RecordRemoteCall(o.Name, out.Kind.String(), elapsed)
	event := log.Debug()
	if out.Kind != Success {
		event = log.Warn().Err(out.Err)
	}
	event.
		Str("call", pc.ID).
		Str("service", o.Name).
		Str("outcome", out.Kind.String()).
		Dur("elapsed", elapsed).
		Msg("boundcall.Call finished")
	return out
}

// issue hands the request to the transport; a panicking transport is a Failure.
func issue[Req, Resp any](ctx context.Context, t AsyncTransport[Req, Resp], pc *PendingCall[Req, Resp]) {
	defer func() {
		if r := recover(); r != nil {
			pc.settle(Outcome[Resp]{Kind: Failure, Err: fmt.Errorf("boundcall: transport panic: %v", r)})
		}
	}()
	t.CallAsync(ctx, pc.Request,
		func(resp Resp) {
			pc.settle(Outcome[Resp]{Kind: Success, Response: resp})
		},
		func(err error) {
			if err == nil {
				err = ErrNoResult
			}
			pc.settle(Outcome[Resp]{Kind: Failure, Err: err})
		},
	)
}
