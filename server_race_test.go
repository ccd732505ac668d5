//go:build race

package httpkit

import (
	"bufio"
	"fmt"
	"sync"
	"testing"

	"github.com/httpkit/httpkit/httpkitutil"
)

// TestServerShutdownRace drives many concurrent connections while Shutdown
// runs in parallel, so the race detector can look at the listener and
// connection tracking paths.
func TestServerShutdownRace(t *testing.T) {
	t.Parallel()

	s := &Server{
		Handler: func(ctx *RequestCtx) error {
			fmt.Fprintf(ctx, "%s", ctx.Path())
			return nil
		},
	}

	ln := httpkitutil.NewInmemoryListener()
	serveCh := make(chan error, 1)
	go func() {
		serveCh <- s.Serve(ln)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c, err := ln.Dial()
			if err != nil {
				// Shutdown won the race for the listener.
				return
			}
			defer c.Close()
			if _, err = c.Write([]byte(fmt.Sprintf("GET /%d HTTP/1.1\r\nHost: x\r\n\r\n", id))); err != nil {
				return
			}
			var resp Response
			resp.Read(bufio.NewReader(c)) //nolint:errcheck
		}(i)
	}

	if err := s.Shutdown(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	wg.Wait()
	if err := <-serveCh; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
