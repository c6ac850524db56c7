package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jrsteele09/go-middle-layer/internal/errors"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps sessions in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
	}
}

func (st *InMemoryStore) Get(_ context.Context, id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrSessionNotFound, "[InMemoryStore.Get] %s", id)
	}
	return s.clone(), nil
}

func (st *InMemoryStore) Put(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("[InMemoryStore.Put] session id is required")
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.sessions[s.ID] = s.clone()
	return nil
}

func (st *InMemoryStore) Delete(_ context.Context, id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, nil
	}
	delete(st.sessions, id)
	return s, nil
}

func (st *InMemoryStore) Update(_ context.Context, id string, fn func(s *Session) Mutation) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	current, ok := st.sessions[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrSessionNotFound, "[InMemoryStore.Update] %s", id)
	}
	working := current.clone()
	switch fn(working) {
	case Save:
		working.ID = id
		st.sessions[id] = working.clone()
		return working, nil
	case Remove:
		delete(st.sessions, id)
		return nil, nil
	default:
		return current.clone(), nil
	}
}

func (st *InMemoryStore) List(_ context.Context) ([]*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
