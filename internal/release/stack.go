// Package release runs resource releases as a scoped unit: every registered
// release runs exactly once, in reverse order, even when an earlier one
// returns an error or panics.
package release

import (
	"errors"
	"fmt"
	"sync"
)

type step struct {
	name string
	fn   func() error
}

// Stack is a LIFO list of release steps. The zero value is ready to use.
type Stack struct {
	mu       sync.Mutex
	steps    []step
	released bool
}

// Push registers fn under name. Pushing onto an already released stack runs
// fn immediately so late-arriving resources are not leaked.
func (s *Stack) Push(name string, fn func() error) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return run(step{name: name, fn: fn})
	}
	s.steps = append(s.steps, step{name: name, fn: fn})
	s.mu.Unlock()
	return nil
}

// Release runs every step once. Subsequent calls return nil.
func (s *Stack) Release() error {
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.released = true
	s.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := run(steps[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Released reports whether Release has been called.
func (s *Stack) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func run(st step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("release %s: panic: %v", st.name, r)
		}
	}()
	if e := st.fn(); e != nil {
		return fmt.Errorf("release %s: %w", st.name, e)
	}
	return nil
}
