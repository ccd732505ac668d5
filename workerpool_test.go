package httpkit

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/httpkit/httpkit/httpkitutil"
)

func newTestWorkerPool(workerFunc ServeHandler, maxWorkers int) *workerPool {
	return &workerPool{
		WorkerFunc:      workerFunc,
		MaxWorkersCount: maxWorkers,
		Logger:          &testLogger{},
		connState:       func(net.Conn, ConnState) {},
	}
}

func TestWorkerPoolStartStop(t *testing.T) {
	t.Parallel()

	wp := newTestWorkerPool(func(net.Conn) error { return nil }, 10)

	// Start and Stop are idempotent.
	wp.Start()
	wp.Start()
	wp.Stop()
	wp.Stop()
}

func TestWorkerPoolServesConn(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	wp := newTestWorkerPool(func(c net.Conn) error {
		buf := make([]byte, 5)
		if _, err := io.ReadFull(c, buf); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if string(buf) != "hello" {
			t.Errorf("unexpected payload %q", buf)
		}
		close(done)
		return nil
	}, 10)
	wp.Start()
	defer wp.Stop()

	pc := httpkitutil.NewPipeConns()
	clientConn, serverConn := pc.Conn1(), pc.Conn2()

	if !wp.Serve(serverConn) {
		t.Fatalf("worker pool rejected the connection")
	}
	if _, err := clientConn.Write([]byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for the worker")
	}

	// The pool closes the connection once the worker returns.
	clientConn.SetReadDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	if _, err := clientConn.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expecting EOF after worker completion, got %v", err)
	}
	clientConn.Close()
}

func TestWorkerPoolMaxWorkersLimit(t *testing.T) {
	t.Parallel()

	firstServing := make(chan struct{})
	release := make(chan struct{})
	wp := newTestWorkerPool(func(c net.Conn) error {
		close(firstServing)
		<-release
		return nil
	}, 1)
	wp.Start()
	defer wp.Stop()
	defer close(release)

	pc1 := httpkitutil.NewPipeConns()
	if !wp.Serve(pc1.Conn2()) {
		t.Fatalf("worker pool rejected the first connection")
	}
	<-firstServing

	// The only worker is busy, so the next connection is rejected.
	pc2 := httpkitutil.NewPipeConns()
	if wp.Serve(pc2.Conn2()) {
		t.Fatalf("worker pool accepted a connection above the worker limit")
	}
	pc1.Close() //nolint:errcheck
	pc2.Close() //nolint:errcheck
}

func TestWorkerPoolUpgradedConnStaysOpen(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var states []ConnState
	wp := &workerPool{
		WorkerFunc:      func(c net.Conn) error { return errHijacked },
		MaxWorkersCount: 1,
		Logger:          &testLogger{},
		connState: func(_ net.Conn, state ConnState) {
			mu.Lock()
			states = append(states, state)
			mu.Unlock()
		},
	}
	wp.Start()
	defer wp.Stop()

	pc := httpkitutil.NewPipeConns()
	clientConn, serverConn := pc.Conn1(), pc.Conn2()
	if !wp.Serve(serverConn) {
		t.Fatalf("worker pool rejected the connection")
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(states)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for the state callback")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	state := states[0]
	mu.Unlock()
	if state != StateUpgraded {
		t.Fatalf("unexpected state %v. Expecting %v", state, StateUpgraded)
	}

	// The connection must survive the worker handoff.
	go func() {
		serverConn.Write([]byte("x")) //nolint:errcheck
	}()
	clientConn.SetReadDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	buf := make([]byte, 1)
	if _, err := clientConn.Read(buf); err != nil {
		t.Fatalf("upgraded connection was closed: %v", err)
	}
	clientConn.Close()
	serverConn.Close()
}

func TestWorkerPoolIdleWorkerCleanup(t *testing.T) {
	t.Parallel()

	wp := newTestWorkerPool(func(c net.Conn) error { return nil }, 16)
	wp.MaxIdleWorkerDuration = 10 * time.Millisecond
	wp.Start()
	defer wp.Stop()

	for i := 0; i < 4; i++ {
		pc := httpkitutil.NewPipeConns()
		pc.Conn1().Close() //nolint:errcheck
		if !wp.Serve(pc.Conn2()) {
			t.Fatalf("worker pool rejected connection %d", i)
		}
	}

	deadline := time.Now().Add(time.Second)
	for {
		wp.lock.Lock()
		n := wp.workersCount
		wp.lock.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d idle workers survived cleanup", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
