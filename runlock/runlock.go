// Package runlock serializes release runs: at most one run per pipeline
// name may be in flight. A second invocation is rejected immediately
// rather than queued, so an operator never stacks promotions by accident.
package runlock

import (
	"fmt"
	"sync"
)

// ErrHeld reports that a run already holds the lock.
var ErrHeld = fmt.Errorf("release already in progress")

// Locks tracks in-flight runs by pipeline name.
type Locks struct {
	mu   sync.Mutex
	held map[string]bool
}

// New returns an empty lock set.
func New() *Locks {
	return &Locks{held: make(map[string]bool)}
}

// Acquire takes the lock for the named pipeline. The returned release
// function gives it back; calling it more than once is harmless. If a run
// already holds the lock, Acquire fails with ErrHeld.
func (l *Locks) Acquire(name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, fmt.Errorf("pipeline %q: %w", name, ErrHeld)
	}
	l.held[name] = true
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, name)
		})
	}
	return release, nil
}

// Held reports whether the named pipeline has a run in flight.
func (l *Locks) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}
