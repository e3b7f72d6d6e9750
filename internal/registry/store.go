package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ParamStore holds the master's parameter server values.
// Values are JSON-compatible; keys are canonical absolute names.
type ParamStore interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Names(ctx context.Context) ([]string, error)
}

// MemoryStore is the default in-process ParamStore.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

var _ ParamStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]json.RawMessage)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	raw, ok := m.values[CanonicalKey(key)]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("registry: decode param %q: %w", key, err)
	}
	return out, true, nil
}

// Set stores a copy of value so later caller mutation is not visible.
func (m *MemoryStore) Set(_ context.Context, key string, value any) error {
	key = CanonicalKey(key)
	if key == "" {
		return ErrParamKeyRequired
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("registry: encode param %q: %w", key, err)
	}
	m.mu.Lock()
	m.values[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, CanonicalKey(key))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.values))
	for name := range m.values {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}
