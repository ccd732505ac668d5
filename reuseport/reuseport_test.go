package reuseport

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"
)

func TestListenTCP4SharedPort(t *testing.T) {
	t.Parallel()

	testSharedPort(t, "tcp4", "127.0.0.1:10081")
}

func TestListenTCP6SharedPort(t *testing.T) {
	t.Parallel()

	if !localIPv6Available(t) {
		t.Skip("no local ipv6 interface")
	}
	testSharedPort(t, "tcp6", "[::1]:10082")
}

func localIPv6Available(t *testing.T) bool {
	t.Helper()

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		t.Fatalf("cannot obtain local interfaces: %v", err)
	}
	for _, a := range addrs {
		if a.String() == "::1/128" {
			return true
		}
	}
	return false
}

// Two listeners must be able to share the same address thanks to
// SO_REUSEPORT, and both must accept connections.
func testSharedPort(t *testing.T, network, addr string) {
	ln1, err := Listen(network, addr)
	if err != nil {
		t.Fatalf("cannot create the first listener: %v", err)
	}
	defer ln1.Close()

	ln2, err := Listen(network, addr)
	if err != nil {
		t.Fatalf("cannot create the second listener: %v", err)
	}
	defer ln2.Close()

	for _, ln := range []net.Listener{ln1, ln2} {
		go func(ln net.Listener) {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				fmt.Fprintf(conn, "hello") //nolint:errcheck
				conn.Close()
			}
		}(ln)
	}

	// The kernel distributes connections between the listeners, so just
	// verify that dials against the shared address are served.
	for i := 0; i < 4; i++ {
		conn, err := net.DialTimeout(network, addr, time.Second)
		if err != nil {
			t.Fatalf("dial %d failed: %v", i, err)
		}
		data, err := io.ReadAll(conn)
		conn.Close()
		if err != nil {
			t.Fatalf("dial %d read failed: %v", i, err)
		}
		if string(data) != "hello" {
			t.Fatalf("dial %d: unexpected payload %q", i, data)
		}
	}
}

func TestListenUnsupportedNetwork(t *testing.T) {
	t.Parallel()

	for _, network := range []string{"udp", "unix", "tcp5"} {
		if _, err := Listen(network, "127.0.0.1:10083"); err == nil {
			t.Fatalf("expecting error for network %q", network)
		}
	}
}
