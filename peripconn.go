package httpkit

import (
	"encoding/binary"
	"net"
	"sync"
)

// perIPConnCounter tracks how many connections each client IPv4 address
// currently holds.
type perIPConnCounter struct {
	pool sync.Pool
	lock sync.Mutex
	m    map[uint32]int
}

// Register bumps the connection count for ip and returns the new count.
func (cc *perIPConnCounter) Register(ip uint32) int {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	if cc.m == nil {
		cc.m = make(map[uint32]int)
	}
	cc.m[ip]++
	return cc.m[ip]
}

func (cc *perIPConnCounter) Unregister(ip uint32) {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	if cc.m == nil {
		// developer safeguard
		panic("BUG: perIPConnCounter.Register() wasn't called")
	}
	if n := cc.m[ip]; n > 0 {
		cc.m[ip] = n - 1
	}
}

// perIPConn unregisters itself from the counter on Close.
type perIPConn struct {
	net.Conn

	perIPConnCounter *perIPConnCounter

	ip uint32
}

func acquirePerIPConn(conn net.Conn, ip uint32, counter *perIPConnCounter) *perIPConn {
	v := counter.pool.Get()
	if v == nil {
		return &perIPConn{
			perIPConnCounter: counter,
			Conn:             conn,
			ip:               ip,
		}
	}
	c := v.(*perIPConn)
	c.Conn = conn
	c.ip = ip
	return c
}

func (c *perIPConn) Close() error {
	err := c.Conn.Close()
	c.perIPConnCounter.Unregister(c.ip)
	c.Conn = nil
	c.perIPConnCounter.pool.Put(c)
	return err
}

func getUint32IP(c net.Conn) uint32 {
	addr, ok := c.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return ip2uint32(addr.IP.To4())
}

func ip2uint32(ip net.IP) uint32 {
	if len(ip) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(ip)
}

func uint322ip(ip uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, ip)
	return b
}
