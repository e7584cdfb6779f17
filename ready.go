package datastore

import "sync"

// readySignal is a single-shot, sticky notification. It is fired at most
// once; waiters that arrive before or after the fire all observe it, cheaply,
// once it has happened. StorageState uses one to mark the point after which
// its fields are safe for a reader to inspect.
type readySignal struct {
	once sync.Once
	done chan struct{}
}

func newReadySignal() *readySignal {
	return &readySignal{done: make(chan struct{})}
}

// newFiredReadySignal returns a signal that is already fired, for states
// installed synchronously (no background completion to wait for).
func newFiredReadySignal() *readySignal {
	s := newReadySignal()
	s.fire()
	return s
}

func (r *readySignal) fire() {
	r.once.Do(func() { close(r.done) })
}

func (r *readySignal) wait() {
	<-r.done
}

func (r *readySignal) fired() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
