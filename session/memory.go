package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
)

// MemoryStore keeps serialized state blobs in memory. Storing the encoded form
// instead of the pointer gives the same isolation as an external store: a
// caller mutating a loaded state cannot corrupt what was saved.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*State, error) {
	m.mu.RLock()
	blob, ok := m.blobs[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var state State
	if err := sonic.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %v", ErrUnavailable, sessionID, err)
	}
	return &state, nil
}

func (m *MemoryStore) Save(ctx context.Context, state *State) error {
	blob, err := sonic.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encode session %s: %v", ErrUnavailable, state.SessionID, err)
	}
	m.mu.Lock()
	m.blobs[state.SessionID] = blob
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.blobs))
	for id := range m.blobs {
		out = append(out, id)
	}
	return out, nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Lister = (*MemoryStore)(nil)
)
