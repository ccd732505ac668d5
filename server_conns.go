package httpkit

import (
	"net"
	"sync"
	"time"
)

// connTracker keeps every connection the server currently owns so Shutdown
// can reap the idle ones and, on a hard stop, force-close the rest.
//
// A zero time value marks a connection busy with a request (or handed to a
// hijack handler); a non-zero value records since when it has been sitting
// in the keep-alive wait.
type connTracker struct {
	mtx   sync.Mutex
	conns map[net.Conn]time.Time
}

func (t *connTracker) add(c net.Conn) {
	t.mtx.Lock()
	if t.conns == nil {
		t.conns = make(map[net.Conn]time.Time)
	}
	t.conns[c] = time.Time{}
	t.mtx.Unlock()
}

func (t *connTracker) remove(c net.Conn) {
	t.mtx.Lock()
	delete(t.conns, c)
	t.mtx.Unlock()
}

func (t *connTracker) setIdle(c net.Conn) {
	t.mtx.Lock()
	if _, ok := t.conns[c]; ok {
		t.conns[c] = coarseTimeNow()
	}
	t.mtx.Unlock()
}

func (t *connTracker) setActive(c net.Conn) {
	t.mtx.Lock()
	if _, ok := t.conns[c]; ok {
		t.conns[c] = time.Time{}
	}
	t.mtx.Unlock()
}

// closeIdle closes every connection waiting for its next request.
// Connections in the middle of a request cycle are left alone.
func (t *connTracker) closeIdle() {
	t.mtx.Lock()
	for c, idleSince := range t.conns {
		if !idleSince.IsZero() {
			c.Close()
			delete(t.conns, c)
		}
	}
	t.mtx.Unlock()
}

// closeAll force-closes every tracked connection, busy or not.
func (t *connTracker) closeAll() {
	t.mtx.Lock()
	for c := range t.conns {
		c.Close()
		delete(t.conns, c)
	}
	t.mtx.Unlock()
}

func (t *connTracker) len() int {
	t.mtx.Lock()
	n := len(t.conns)
	t.mtx.Unlock()
	return n
}
