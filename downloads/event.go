package downloads

import "sync"

// event is a one-shot notification. Callbacks registered before it fires run
// once when it fires; callbacks registered afterwards run immediately.
type event struct {
	mu    sync.Mutex
	fired bool
	fns   []func()
}

func (e *event) register(fn func()) {
	e.mu.Lock()
	if e.fired {
		e.mu.Unlock()
		fn()
		return
	}
	e.fns = append(e.fns, fn)
	e.mu.Unlock()
}

// fire runs the waiting callbacks and reports whether this call fired the event.
func (e *event) fire() bool {
	e.mu.Lock()
	if e.fired {
		e.mu.Unlock()
		return false
	}
	e.fired = true
	fns := e.fns
	e.fns = nil
	e.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return true
}

func (e *event) hasFired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

// errorEvent is an event that carries the failure that fired it.
type errorEvent struct {
	ev  event
	mu  sync.Mutex
	set bool
	err error
}

func (e *errorEvent) register(fn func(error)) {
	e.ev.register(func() {
		e.mu.Lock()
		err := e.err
		e.mu.Unlock()
		fn(err)
	})
}

func (e *errorEvent) fire(err error) bool {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return false
	}
	e.set = true
	e.err = err
	e.mu.Unlock()
	return e.ev.fire()
}
