package core

import (
	"errors"
	"sync"
)

// Completion - result of an asynchronous Transfer:
// - resolves only once, later resolves are ignored
// - callbacks added after resolve run immediately
// - ok is always false when err is set
type Completion struct {
	mu        sync.Mutex
	done      chan struct{}
	ok        bool
	err       error
	resolved  bool
	callbacks []func(ok bool, err error)
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolved - already finished Completion
func Resolved(ok bool, err error) *Completion {
	c := NewCompletion()
	c.Resolve(ok, err)
	return c
}

func (c *Completion) Resolve(ok bool, err error) {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return
	}
	c.resolved = true
	c.ok = ok && err == nil
	c.err = err
	close(c.done)
	callbacks := c.callbacks
	c.callbacks = nil
	c.mu.Unlock()

	for _, f := range callbacks {
		f(c.ok, c.err)
	}
}

func (c *Completion) Done() <-chan struct{} {
	return c.done
}

func (c *Completion) Wait() (bool, error) {
	<-c.done
	return c.ok, c.err
}

// Then - run f when resolved, on the goroutine that resolves
func (c *Completion) Then(f func(ok bool, err error)) {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		f(c.ok, c.err)
		return
	}
	c.callbacks = append(c.callbacks, f)
	c.mu.Unlock()
}

// WhenAll - resolves after every completion, ok is AND-ed, errors are joined.
// Empty list resolves true.
func WhenAll(list ...*Completion) *Completion {
	switch len(list) {
	case 0:
		return Resolved(true, nil)
	case 1:
		return list[0]
	}

	all := NewCompletion()

	var mu sync.Mutex
	var errs []error
	remain := len(list)
	ok := true

	for _, c := range list {
		c.Then(func(cok bool, err error) {
			mu.Lock()
			ok = ok && cok
			if err != nil {
				errs = append(errs, err)
			}
			remain--
			last := remain == 0
			resOK, resErr := ok, errors.Join(errs...)
			mu.Unlock()

			if last {
				all.Resolve(resOK, resErr)
			}
		})
	}

	return all
}
