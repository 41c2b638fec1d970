package jobs

import (
	"sync"

	"mirrorsync/internal/util"
)

// ProfileLocks serializes sync cycles per profile. Usernames are compared
// case-folded, the same way the repository compares them.
type ProfileLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewProfileLocks() *ProfileLocks {
	return &ProfileLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the profile is free and returns its unlock func.
func (l *ProfileLocks) Lock(username string) func() {
	key := util.NormalizeUsername(username)
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// TryLock is Lock without waiting; ok is false when a cycle is running.
func (l *ProfileLocks) TryLock(username string) (unlock func(), ok bool) {
	key := util.NormalizeUsername(username)
	l.mu.Lock()
	m, exists := l.locks[key]
	if !exists {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}
