package httpkit

import (
	"sync/atomic"
	"time"
)

// coarseTimeNow returns the current time truncated to the nearest second.
//
// It is much faster than time.Now() at the cost of precision, which is
// fine for connection bookkeeping.
func coarseTimeNow() time.Time {
	tp := coarseTime.Load().(*time.Time)
	return *tp
}

func init() {
	t := time.Now().Truncate(time.Second)
	coarseTime.Store(&t)
	go func() {
		for {
			time.Sleep(time.Second)
			t := time.Now().Truncate(time.Second)
			coarseTime.Store(&t)
		}
	}()
}

var coarseTime atomic.Value
