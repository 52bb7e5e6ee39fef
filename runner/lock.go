package runner

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyRunning is returned when a migration is started while a run of it is in progress.
var ErrAlreadyRunning = errors.New("migration is already running")

// RunLock serializes runs per migration id. Runs of different migrations do not block each
// other.
type RunLock struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// NewRunLock returns an empty RunLock.
func NewRunLock() *RunLock {
	return &RunLock{running: make(map[string]struct{})}
}

// TryLock marks id as running, or returns ErrAlreadyRunning.
func (l *RunLock) TryLock(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.running[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	l.running[id] = struct{}{}

	return nil
}

// Unlock releases id.
func (l *RunLock) Unlock(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.running, id)
}

// Running reports whether id is locked.
func (l *RunLock) Running(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.running[id]

	return ok
}
