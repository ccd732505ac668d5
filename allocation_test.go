//go:build !race

package httpkit

import (
	"bytes"
	"net"
	"testing"
	"time"
)

// bufferConn is a net.Conn over in-memory buffers, so the hot path can
// be measured without any real IO.
type bufferConn struct {
	r bytes.Buffer
	w bytes.Buffer
}

func (rw *bufferConn) Read(p []byte) (int, error)       { return rw.r.Read(p) }
func (rw *bufferConn) Write(p []byte) (int, error)      { return rw.w.Write(p) }
func (rw *bufferConn) Close() error                     { return nil }
func (rw *bufferConn) LocalAddr() net.Addr              { return zeroTCPAddr }
func (rw *bufferConn) RemoteAddr() net.Addr             { return zeroTCPAddr }
func (rw *bufferConn) SetDeadline(time.Time) error      { return nil }
func (rw *bufferConn) SetReadDeadline(time.Time) error  { return nil }
func (rw *bufferConn) SetWriteDeadline(time.Time) error { return nil }

func TestAllocationServeConn(t *testing.T) {
	t.Parallel()

	s := &Server{
		Handler: func(ctx *RequestCtx) error {
			return nil
		},
	}

	rw := &bufferConn{}
	rw.r.Grow(1024)
	rw.w.Grow(1024)

	n := testing.AllocsPerRun(100, func() {
		rw.r.WriteString("GET / HTTP/1.1\r\nHost: example.com\r\nCookie: foo=bar\r\n\r\n")
		if err := s.ServeConn(rw); err != nil {
			t.Fatal(err)
		}
		rw.w.Reset()
	})
	if n != 0 {
		t.Fatalf("unexpected allocations on the request path: %f", n)
	}
}

func TestAllocationURI(t *testing.T) {
	t.Parallel()

	uri := []byte("/some/path?foo=bar#test")

	n := testing.AllocsPerRun(100, func() {
		u := AcquireURI()
		u.Parse(uri)
		ReleaseURI(u)
	})
	if n != 0 {
		t.Fatalf("unexpected allocations on the URI path: %f", n)
	}
}

func TestAllocationCookie(t *testing.T) {
	t.Parallel()

	raw := "sid=abc123; domain=example.com; path=/; HttpOnly"

	n := testing.AllocsPerRun(100, func() {
		c := AcquireCookie()
		if err := c.Parse(raw); err != nil {
			t.Fatal(err)
		}
		ReleaseCookie(c)
	})
	if n != 0 {
		t.Fatalf("unexpected allocations on the cookie path: %f", n)
	}
}
