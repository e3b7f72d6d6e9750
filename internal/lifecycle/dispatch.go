package lifecycle

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Dispatcher runs fn on the client's foreground goroutine.
type Dispatcher interface {
	Post(fn func())
}

// Loop is a single-goroutine Dispatcher. Tasks posted after Stop are dropped.
type Loop struct {
	tasks   chan func()
	stopped chan struct{}
	once    sync.Once
}

func NewLoop(buffer int) *Loop {
	if buffer < 1 {
		buffer = 64
	}
	return &Loop{
		tasks:   make(chan func(), buffer),
		stopped: make(chan struct{}),
	}
}

func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	select {
	case <-l.stopped:
		return
	default:
	}
	select {
	case l.tasks <- fn:
	case <-l.stopped:
	}
}

// Run executes posted tasks in order until ctx ends or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopped:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stopped) })
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("lifecycle.Loop.exec task panicked: %v", r)
		}
	}()
	fn()
}
