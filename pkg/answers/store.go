// Package answers holds the per-session answer log consumed by the phase handler.
package answers

import (
	"context"
	"errors"
	"sync"

	"phasedoc/pkg/proto"
)

// ErrEmptySession is returned when an operation is called without a session id.
var ErrEmptySession = errors.New("session id is empty")

// Store is an append-only answer log keyed by session.
//
// List returns answers in insertion order and an empty slice for sessions it
// has never seen. Clear resets one session atomically: a concurrent List sees
// either the whole log or none of it.
type Store interface {
	Append(ctx context.Context, sessionID string, a proto.Answer) error
	List(ctx context.Context, sessionID string) ([]proto.Answer, error)
	Clear(ctx context.Context, sessionID string) error
}

// MemoryStore keeps answers in process memory.
// Sessions are guarded independently; appends to one session serialize.
type MemoryStore struct {
	logs map[string]*sessionLog
	mu   sync.Mutex
}

type sessionLog struct {
	answers []proto.Answer
	mu      sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*sessionLog)}
}

func (s *MemoryStore) log(sessionID string, create bool) *sessionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[sessionID]
	if !ok && create {
		l = &sessionLog{}
		s.logs[sessionID] = l
	}
	return l
}

// Append adds a to the end of the session's log.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, a proto.Answer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return ErrEmptySession
	}
	l := s.log(sessionID, true)
	l.mu.Lock()
	l.answers = append(l.answers, a.Clone())
	l.mu.Unlock()
	return nil
}

// List returns a copy of the session's log.
func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]proto.Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.log(sessionID, false)
	if l == nil {
		return []proto.Answer{}, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]proto.Answer, len(l.answers))
	for i := range l.answers {
		out[i] = l.answers[i].Clone()
	}
	return out, nil
}

// Clear empties the session's log. Clearing an unknown session is a no-op.
func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return ErrEmptySession
	}
	l := s.log(sessionID, false)
	if l == nil {
		return nil
	}
	l.mu.Lock()
	l.answers = nil
	l.mu.Unlock()
	return nil
}
