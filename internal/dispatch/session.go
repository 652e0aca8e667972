package dispatch

import "sync"

// sessionKey is the unit of mutual exclusion. Session is empty for modules
// without a session field, and for commands that do not name a session.
type sessionKey struct {
	module  string
	session string
}

// sessionLocks is a keyed mutex. Entries live only while held or awaited.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[sessionKey]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[sessionKey]*sessionLock)}
}

// lock blocks until key is free and returns its unlock function.
func (s *sessionLocks) lock(key sessionKey) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sessionLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// held returns the number of keys with a holder or waiter.
func (s *sessionLocks) held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
