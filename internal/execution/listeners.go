package execution

import "sync"

// Listener is told once that the service has shut down.
type Listener interface {
	OnShutdown(svc *Service)
}

type ListenerFunc func(svc *Service)

func (f ListenerFunc) OnShutdown(svc *Service) {
	f(svc)
}

// ListenerID identifies a registration; zero is never issued.
type ListenerID uint64

type listenerEntry struct {
	id       ListenerID
	listener Listener
}

// listenerGroup keeps registration order. Once sealed it accepts no more entries.
type listenerGroup struct {
	mu      sync.Mutex
	next    ListenerID
	entries []listenerEntry
	sealed  bool
}

// add returns false if the group was already sealed.
func (g *listenerGroup) add(l Listener) (ListenerID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	if g.sealed {
		return g.next, false
	}
	g.entries = append(g.entries, listenerEntry{id: g.next, listener: l})
	return g.next, true
}

func (g *listenerGroup) remove(id ListenerID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, e := range g.entries {
		if e.id == id {
			g.entries = append(g.entries[:i], g.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (g *listenerGroup) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// seal closes the group and returns a snapshot in registration order.
func (g *listenerGroup) seal() []Listener {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sealed = true
	out := make([]Listener, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e.listener)
	}
	g.entries = nil
	return out
}
