package httpkit

import (
	"sync"
	"sync/atomic"
	"time"
)

// dateClock caches the value of the Date response header. While at least
// one accept loop runs, a background goroutine refreshes the cache once a
// second and readers never take a lock. Requests served via ServeConn
// fall back to the locked slow path.
type dateClock struct {
	mtx    sync.Mutex
	users  int
	cached atomic.Value
	stopCh chan struct{}

	slowBuf  []byte
	slowNext time.Time
}

var serverDate = dateClock{
	slowNext: time.Now().AddDate(0, 0, -1),
}

// NOTE: Ensure one call to startServerDateUpdater matches always one call to stopServerDateUpdater
func startServerDateUpdater() {
	serverDate.mtx.Lock()
	defer serverDate.mtx.Unlock()

	serverDate.users++
	if serverDate.users == 1 {
		serverDate.stopCh = make(chan struct{})
		serverDate.refresh()
		go serverDate.run(serverDate.stopCh)
	}
}

func stopServerDateUpdater() {
	serverDate.mtx.Lock()
	defer serverDate.mtx.Unlock()

	serverDate.users--
	if serverDate.users == 0 {
		close(serverDate.stopCh)
		// A non-nil zero-length value routes getServerDate to the slow
		// path until the next start.
		serverDate.cached.Store([]byte{})
	}
}

func (dc *dateClock) run(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-time.After(time.Second):
			dc.refresh()
		}
	}
}

func (dc *dateClock) refresh() {
	dc.cached.Store(AppendHTTPDate(nil, time.Now()))
}

// slowDate recomputes the date at most once a second under the lock.
func (dc *dateClock) slowDate() []byte {
	dc.mtx.Lock()
	defer dc.mtx.Unlock()

	now := time.Now()
	if now.After(dc.slowNext) {
		dc.slowNext = now.Add(time.Second)
		dc.slowBuf = AppendHTTPDate(nil, now)
	}
	return dc.slowBuf
}

func getServerDate() []byte {
	b, ok := serverDate.cached.Load().([]byte)
	if !ok || len(b) == 0 {
		return serverDate.slowDate()
	}
	return b
}
