package httpkit

import (
	"net"
	"time"
)

// TimeoutListener wraps a net.Listener so that every accepted connection
// re-arms a read and/or write deadline before each IO operation.
//
// Zero timeouts disable the corresponding deadline.
type TimeoutListener struct {
	// The original listener.
	Listener net.Listener

	// Maximum wait time for each read() operation on accepted connections.
	//
	// By default read timeout is disabled.
	ReadTimeout time.Duration

	// Maximum wait time for each write() operation on accepted connections.
	//
	// By default write timeout is disabled.
	WriteTimeout time.Duration
}

// Accept implements net.Listener's Accept.
func (ln *TimeoutListener) Accept() (net.Conn, error) {
	c, err := ln.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &timeoutConn{
		Conn:         c,
		readTimeout:  ln.ReadTimeout,
		writeTimeout: ln.WriteTimeout,
	}, nil
}

// Addr implements net.Listener's Addr.
func (ln *TimeoutListener) Addr() net.Addr {
	return ln.Listener.Addr()
}

// Close implements net.Listener's Close.
func (ln *TimeoutListener) Close() error {
	return ln.Listener.Close()
}

type timeoutConn struct {
	net.Conn

	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *timeoutConn) Read(b []byte) (int, error) {
	if err := armDeadline(c.Conn.SetReadDeadline, c.readTimeout); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *timeoutConn) Write(b []byte) (int, error) {
	if err := armDeadline(c.Conn.SetWriteDeadline, c.writeTimeout); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

func armDeadline(set func(time.Time) error, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	return set(time.Now().Add(timeout))
}
