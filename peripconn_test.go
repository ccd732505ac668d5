package httpkit

import (
	"net"
	"testing"
)

func TestIPUint32RoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"0.0.0.0", "127.0.0.1", "10.1.2.3", "255.255.255.255"} {
		ip := net.ParseIP(s).To4()
		n := ip2uint32(ip)
		back := uint322ip(n)
		if !back.Equal(ip) {
			t.Fatalf("ip %s changed in round trip: %s", ip, back)
		}
	}

	// Anything that is not a 4-byte address maps to zero.
	if n := ip2uint32(net.ParseIP("::1")); n != 0 {
		t.Fatalf("unexpected value %d for an ipv6 address", n)
	}
	if n := ip2uint32(nil); n != 0 {
		t.Fatalf("unexpected value %d for a nil ip", n)
	}
}

func TestPerIPConnCounter(t *testing.T) {
	t.Parallel()

	var cc perIPConnCounter

	ip1 := ip2uint32(net.IPv4(10, 0, 0, 1).To4())
	ip2 := ip2uint32(net.IPv4(10, 0, 0, 2).To4())

	for i := 1; i <= 5; i++ {
		if n := cc.Register(ip1); n != i {
			t.Fatalf("unexpected count %d for conn %d", n, i)
		}
	}

	// Counts are tracked per address.
	if n := cc.Register(ip2); n != 1 {
		t.Fatalf("unexpected count %d for a fresh ip", n)
	}

	for i := 0; i < 5; i++ {
		cc.Unregister(ip1)
	}
	if n := cc.Register(ip1); n != 1 {
		t.Fatalf("unexpected count %d after unregistering all conns", n)
	}
}

func TestPerIPConnCounterUnregisterWithoutRegister(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expecting panic on Unregister without Register")
		}
	}()

	var cc perIPConnCounter
	cc.Unregister(123)
}

func TestPerIPConnCloseUnregisters(t *testing.T) {
	t.Parallel()

	var cc perIPConnCounter

	remoteAddr := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 777}
	ip := getUint32IP(fakeAddrConn{remoteAddr: remoteAddr})
	if ip == 0 {
		t.Fatalf("cannot extract ip from the connection")
	}

	cc.Register(ip)
	c := acquirePerIPConn(fakeAddrConn{remoteAddr: remoteAddr}, ip, &cc)
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The slot freed by Close is available again.
	if n := cc.Register(ip); n != 1 {
		t.Fatalf("unexpected count %d after Close", n)
	}
}

type fakeAddrConn struct {
	net.Conn

	remoteAddr net.Addr
}

func (c fakeAddrConn) RemoteAddr() net.Addr { return c.remoteAddr }
func (c fakeAddrConn) Close() error         { return nil }
