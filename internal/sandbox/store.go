package sandbox

import "sync"

// Store provides thread-safe storage of sandbox infos keyed by thread ID.
// It mirrors the runtime; the runtime remains the source of truth and the
// manager reconciles the store against it at startup.
//
// Put copies the value in and Get/List copy values out, so callers can
// mutate an Info they hold (readiness, claim state) while other goroutines
// look up the same thread.
type Store struct {
	byThread map[string]Info
	mu       sync.RWMutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byThread: make(map[string]Info)}
}

// Put inserts or replaces the sandbox for a thread.
func (s *Store) Put(info *Info) {
	if info == nil || info.ThreadID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byThread[info.ThreadID] = *info
}

// Get returns a copy of the sandbox for a thread.
func (s *Store) Get(threadID string) (*Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.byThread[threadID]
	if !ok {
		return nil, false
	}
	cp := info
	return &cp, true
}

// Remove deletes the sandbox entry for a thread.
func (s *Store) Remove(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byThread, threadID)
}

// List returns a snapshot of all tracked sandboxes.
func (s *Store) List() []*Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Info, 0, len(s.byThread))
	for _, info := range s.byThread {
		cp := info
		out = append(out, &cp)
	}
	return out
}

// Len returns the number of tracked sandboxes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byThread)
}
