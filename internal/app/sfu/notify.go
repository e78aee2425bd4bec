package sfu

import "sync"

// closeNotifier runs registered callbacks once, outside its lock.
// Callbacks registered after close run immediately.
type closeNotifier struct {
	mu     sync.Mutex
	closed bool
	fns    []func()
}

func (n *closeNotifier) OnClose(fn func()) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		fn()
		return
	}
	n.fns = append(n.fns, fn)
	n.mu.Unlock()
}

// markClosed reports false if already closed; otherwise it hands back the
// callbacks to run once teardown is done.
func (n *closeNotifier) markClosed() ([]func(), bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, false
	}
	n.closed = true
	fns := n.fns
	n.fns = nil
	return fns, true
}

func (n *closeNotifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func fire(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
