// Package stackless provides functionality that may save stack space
// for high number of concurrently running goroutines.
package stackless

import (
	"runtime"
	"sync"
)

// NewFunc returns stackless wrapper for the function f.
//
// The wrapper runs f on a small shared pool of worker goroutines, so the
// calling goroutine's stack never grows to accommodate f. That pays off
// when f needs a lot of stack, doesn't block on network, I/O or channels,
// and is called from many goroutines at once.
//
// The wrapper returns false when all workers are busy and the pending
// queue is full. The caller may retry or fall back to calling f directly.
func NewFunc(f func(ctx any)) func(ctx any) bool {
	if f == nil {
		// developer sanity-check
		panic("BUG: f cannot be nil")
	}

	pending := make(chan *task, runtime.GOMAXPROCS(-1)*2048)
	spawnWorkers := func() {
		for i := runtime.GOMAXPROCS(-1); i > 0; i-- {
			go func() {
				for t := range pending {
					f(t.ctx)
					t.doneCh <- struct{}{}
				}
			}()
		}
	}
	var spawnOnce sync.Once

	return func(ctx any) bool {
		spawnOnce.Do(spawnWorkers)
		t := acquireTask(ctx)

		select {
		case pending <- t:
		default:
			releaseTask(t)
			return false
		}
		<-t.doneCh
		releaseTask(t)
		return true
	}
}

type task struct {
	ctx    any
	doneCh chan struct{}
}

func acquireTask(ctx any) *task {
	v := taskPool.Get()
	if v == nil {
		v = &task{
			doneCh: make(chan struct{}, 1),
		}
	}
	t := v.(*task)
	t.ctx = ctx
	return t
}

func releaseTask(t *task) {
	t.ctx = nil
	taskPool.Put(t)
}

var taskPool sync.Pool
