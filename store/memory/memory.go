// Package memory provides an in-process session store. Values are held per
// session with an optional TTL; expired entries are dropped lazily on read
// and by an optional background sweeper.
//
// Suitable for tests, single-process deployments, and as the default store
// when no external backend is configured.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     interface{}
	updatedAt time.Time
}

// Store is a thread-safe in-memory session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]map[string]entry
	ttl      time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires entries that have not been written for ttl.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithSweepInterval runs a background sweeper removing expired entries.
// Only meaningful together with WithTTL.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval <= 0 {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.Sweep()
				case <-s.stop:
					return
				}
			}
		}()
	}
}

// New builds an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]map[string]entry),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the value stored under (sessionID, key).
func (s *Store) Get(ctx context.Context, sessionID, key string) (interface{}, bool, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.RUnlock()
		return nil, false, nil
	}
	e, ok := session[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if s.expired(e) {
		s.mu.Lock()
		if cur, still := s.sessions[sessionID][key]; still && s.expired(cur) {
			delete(s.sessions[sessionID], key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under (sessionID, key), resetting its TTL.
func (s *Store) Set(ctx context.Context, sessionID, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		session = make(map[string]entry)
		s.sessions[sessionID] = session
	}
	session[key] = entry{value: value, updatedAt: time.Now()}
	return nil
}

// Delete removes (sessionID, key). Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok {
		delete(session, key)
		if len(session) == 0 {
			delete(s.sessions, sessionID)
		}
	}
	return nil
}

// DeleteSession removes every key belonging to the session.
func (s *Store) DeleteSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Sweep removes expired entries and returns how many were dropped.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for sid, session := range s.sessions {
		for key, e := range session {
			if s.expired(e) {
				delete(session, key)
				removed++
			}
		}
		if len(session) == 0 {
			delete(s.sessions, sid)
		}
	}
	return removed
}

// Len returns the total number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, session := range s.sessions {
		n += len(session)
	}
	return n
}

// Close stops the background sweeper.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

func (s *Store) expired(e entry) bool {
	return s.ttl > 0 && time.Since(e.updatedAt) > s.ttl
}
