package httpkit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RequestHandler must process incoming requests.
//
// RequestHandler must not hold references to ctx and/or its members
// after the return.
//
// A non-nil error is caught at the dispatch boundary: the response composed
// so far is dropped, a plain-text 500 is sent instead and the connection is
// closed after it. The error never unwinds past the connection.
type RequestHandler func(ctx *RequestCtx) error

// ServeHandler must process the given connection.
//
// ServeHandler must leave c unclosed.
type ServeHandler func(c net.Conn) error

// ConnState represents the state of a client connection inside the server.
//
// Within one request cycle the states run strictly left to right:
// StateReading, StateDispatching, StateWriting, then either back to
// StateReading (keep-alive), to StateUpgraded (the handler hijacked the
// stream) or to StateClosing. StateUpgraded is terminal: the connection is
// no longer HTTP after it.
type ConnState int

const (
	// StateReading means the driver waits for, or parses, the next request.
	StateReading ConnState = iota

	// StateDispatching means the request handler runs.
	StateDispatching

	// StateWriting means the response is being serialized to the peer.
	StateWriting

	// StateUpgraded means the handler took the raw stream over (WebSocket).
	StateUpgraded

	// StateClosing means the connection is going away.
	StateClosing
)

var connStateNames = []string{
	StateReading:     "reading",
	StateDispatching: "dispatching",
	StateWriting:     "writing",
	StateUpgraded:    "upgraded",
	StateClosing:     "closing",
}

// String returns the state name.
func (s ConnState) String() string {
	if int(s) < len(connStateNames) {
		return connStateNames[s]
	}
	return "unknown"
}

// ServerState represents the lifecycle phase of a Server.
type ServerState int32

const (
	// StateCreated is the zero value: the server was not started yet.
	StateCreated ServerState = iota

	// StateListening means Serve runs an accept loop.
	StateListening

	// StateDraining means Shutdown was called and the server waits for the
	// remaining connections to finish.
	StateDraining

	// StateStopped means the accept loops exited and every connection the
	// server was waiting for has gone.
	StateStopped
)

var serverStateNames = []string{
	StateCreated:   "created",
	StateListening: "listening",
	StateDraining:  "draining",
	StateStopped:   "stopped",
}

// String returns the state name.
func (s ServerState) String() string {
	if int(s) < len(serverStateNames) {
		return serverStateNames[s]
	}
	return "unknown"
}

// Default concurrency used by Server.Serve().
const DefaultConcurrency = 256 * 1024

// DefaultMaxRequestBodySize is the maximum request body size the server
// buffers by default (see Server.MaxRequestBodySize).
const DefaultMaxRequestBodySize = 4 * 1024 * 1024

// Server implements HTTP server.
//
// Default Server settings should satisfy the majority of Server users.
// Adjust Server settings only if you really understand the consequences.
//
// It is forbidden copying Server instances. Create new Server instances
// instead.
//
// It is safe to call Server methods from concurrently running goroutines.
type Server struct {
	noCopy noCopy

	// Handler for processing incoming requests.
	Handler RequestHandler

	// Server name for sending in response headers.
	//
	// Default server name is used if left blank.
	Name string

	// The maximum number of concurrent connections the server may serve.
	//
	// DefaultConcurrency is used if not set.
	Concurrency int

	// Per-connection buffer size for requests' reading.
	// This also limits the maximum header size.
	//
	// Increase this buffer if your clients send multi-KB RequestURIs
	// and/or multi-KB headers (for example, BIG cookies).
	//
	// Default buffer size is used if not set.
	ReadBufferSize int

	// Per-connection buffer size for responses' writing.
	//
	// Default buffer size is used if not set.
	WriteBufferSize int

	// Maximum duration for reading the full request (including body).
	//
	// By default request read timeout is unlimited.
	ReadTimeout time.Duration

	// Maximum duration for writing the full response (including body).
	//
	// By default response write timeout is unlimited.
	WriteTimeout time.Duration

	// Maximum number of concurrent client connections allowed per IP.
	//
	// By default unlimited number of concurrent connections
	// may be established to the server from a single IP address.
	MaxConnsPerIP int

	// Maximum request body size the server buffers via Request.Body.
	//
	// The server rejects requests with bodies exceeding this limit
	// with a 413.
	//
	// Request body size is limited by DefaultMaxRequestBodySize by default.
	MaxRequestBodySize int

	// MaxIdleWorkerDuration is the maximum idle time of a single worker
	// in the underlying worker pool of the Serve method. Idle workers
	// beyond this duration are cleaned up.
	//
	// By default idle workers are cleaned up after 10 seconds.
	MaxIdleWorkerDuration time.Duration

	// Whether to disable keep-alive connections.
	//
	// The server closes each incoming connection after sending the first
	// response to it if this option is set to true.
	DisableKeepalive bool

	// Logs all errors, including the most frequent
	// 'connection reset by peer', 'broken pipe' and 'connection timeout'
	// errors. Such errors are common in production serving real-world
	// clients.
	//
	// By default the most frequent errors such as
	// 'connection reset by peer', 'broken pipe' and 'connection timeout'
	// are suppressed.
	LogAllErrors bool

	// Logger, which is used by RequestCtx.Logger().
	//
	// By default standard logger from log package is used.
	Logger Logger

	// ConnState specifies an optional callback function that is called
	// when a client connection changes state.
	ConnState func(net.Conn, ConnState)

	// Trace is an optional set of finer-grained hooks run at various
	// stages of connection and request handling.
	Trace ServerTrace

	perIPConnCounter perIPConnCounter
	serverName       atomic.Value

	ctxPool        sync.Pool
	readerPool     sync.Pool
	writerPool     sync.Pool
	hijackConnPool sync.Pool

	// We need to know our listeners and open connections so we can close
	// them in Shutdown().
	ln    []net.Listener
	conns connTracker

	mu          sync.Mutex
	concurrency uint32
	open        int32
	stop        int32
	state       int32
}

// RequestCtx contains incoming request and manages outgoing response.
//
// It is forbidden copying RequestCtx instances.
//
// RequestHandler should avoid holding references to incoming RequestCtx and/or
// its members after the return.
type RequestCtx struct {
	noCopy noCopy

	// Incoming request.
	//
	// Copying Request by value is forbidden. Use pointer to Request instead.
	Request Request

	// Outgoing response.
	//
	// Copying Response by value is forbidden. Use pointer to Response instead.
	Response Response

	userValues userData

	id             uint64
	connID         uint64
	connRequestNum uint64
	connTime       time.Time

	time time.Time

	logger ctxLogger
	s      *Server
	c      net.Conn
	cw     countingWriter

	hijackHandler HijackHandler
}

// HijackHandler must process the hijacked connection c.
//
// The connection is automatically closed after the handler returns.
type HijackHandler func(c net.Conn)

// Hijack registers the given handler for connection takeover.
//
// The handler is called after the response to the current request has been
// fully sent. From that point on the connection is no longer managed by the
// server: no keep-alive loop, no timeouts, no further ConnState transitions
// except StateUpgraded.
//
// The server closes the connection when the handler returns.
func (ctx *RequestCtx) Hijack(handler HijackHandler) {
	ctx.hijackHandler = handler
}

// Hijacked returns true after Hijack is called.
func (ctx *RequestCtx) Hijacked() bool {
	return ctx.hijackHandler != nil
}

// Logger is used for logging formatted messages.
type Logger interface {
	// Printf must have the same semantics as log.Printf.
	Printf(format string, args ...interface{})
}

var defaultLogger = Logger(log.New(os.Stderr, "", log.LstdFlags))

func (s *Server) logger() Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return defaultLogger
}

var ctxLoggerLock sync.Mutex

type ctxLogger struct {
	ctx    *RequestCtx
	logger Logger
}

func (cl *ctxLogger) Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	ctx := cl.ctx
	ctxLoggerLock.Lock()
	req := &ctx.Request
	cl.logger.Printf("%.3f #%016X - %s - %s %s - %s",
		time.Since(ctx.time).Seconds(), ctx.id, ctx.RemoteAddr(),
		req.Header.Method(), req.Header.RequestURI(), msg)
	ctxLoggerLock.Unlock()
}

// countingWriter counts the bytes flowing to the connection so the
// WroteResponse trace hook can report response sizes.
type countingWriter struct {
	c net.Conn
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.c.Write(p)
	cw.n += int64(n)
	return n, err
}

var zeroTCPAddr = &net.TCPAddr{
	IP: net.IPv4zero,
}

// ID returns unique ID of the request.
func (ctx *RequestCtx) ID() uint64 {
	return ctx.id
}

// Time returns RequestHandler call time.
func (ctx *RequestCtx) Time() time.Time {
	return ctx.time
}

// ConnTime returns the time the server started serving the connection
// the current request came from.
func (ctx *RequestCtx) ConnTime() time.Time {
	return ctx.connTime
}

// ConnRequestNum returns request sequence number for the current connection.
//
// Sequence starts with 1.
func (ctx *RequestCtx) ConnRequestNum() uint64 {
	return ctx.connRequestNum
}

// Conn returns a reference to the underlying net.Conn.
//
// WARNING: Only use this method if you know what you are doing!
// Reading from or writing to the returned connection will end badly.
func (ctx *RequestCtx) Conn() net.Conn {
	return ctx.c
}

// RemoteAddr returns client address for the given request.
//
// Always returns non-nil result.
func (ctx *RequestCtx) RemoteAddr() net.Addr {
	if ctx.c == nil {
		return zeroTCPAddr
	}
	addr := ctx.c.RemoteAddr()
	if addr == nil {
		return zeroTCPAddr
	}
	return addr
}

// LocalAddr returns the server address for the given request.
//
// Always returns non-nil result.
func (ctx *RequestCtx) LocalAddr() net.Addr {
	if ctx.c == nil {
		return zeroTCPAddr
	}
	addr := ctx.c.LocalAddr()
	if addr == nil {
		return zeroTCPAddr
	}
	return addr
}

// RemoteIP returns the client ip the request came from.
//
// Always returns non-nil result.
func (ctx *RequestCtx) RemoteIP() net.IP {
	x, ok := ctx.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return net.IPv4zero
	}
	return x.IP
}

// Method returns request method.
func (ctx *RequestCtx) Method() []byte {
	return ctx.Request.Header.Method()
}

// IsGet returns true if request method is GET.
func (ctx *RequestCtx) IsGet() bool {
	return ctx.Request.Header.IsGet()
}

// IsPost returns true if request method is POST.
func (ctx *RequestCtx) IsPost() bool {
	return ctx.Request.Header.IsPost()
}

// IsHead returns true if request method is HEAD.
func (ctx *RequestCtx) IsHead() bool {
	return ctx.Request.Header.IsHead()
}

// URI returns requested uri.
//
// The uri is valid until the request handler returns.
func (ctx *RequestCtx) URI() *URI {
	return ctx.Request.URI()
}

// Path returns requested path, i.e. the part of the request target before
// the query string.
//
// The path is passed through exactly as the client sent it: no
// percent-decoding, no normalization.
//
// The returned bytes are valid until the request handler returns.
func (ctx *RequestCtx) Path() []byte {
	return ctx.URI().Path()
}

// QueryArgs returns query arguments from the request URI.
//
// It doesn't return POST'ed arguments - use PostArgs() for this.
//
// The returned args are valid until the request handler returns.
func (ctx *RequestCtx) QueryArgs() *Args {
	return ctx.URI().QueryArgs()
}

// PostArgs returns POST arguments.
//
// The returned args are valid until the request handler returns.
func (ctx *RequestCtx) PostArgs() *Args {
	return ctx.Request.PostArgs()
}

// Host returns requested host, taken from the Host header.
//
// The host is valid until the request handler returns.
func (ctx *RequestCtx) Host() []byte {
	return ctx.Request.Header.Host()
}

// PostBody returns the request body.
//
// The first call drains the body from the connection; the driver caps it
// by Server.MaxRequestBodySize.
//
// The returned bytes are valid until the request handler returns.
func (ctx *RequestCtx) PostBody() []byte {
	return ctx.Request.Body()
}

// RequestBodyStream returns the request body as a stream bound to the
// connection, without buffering it.
//
// See Request.BodyStream.
func (ctx *RequestCtx) RequestBodyStream() io.Reader {
	return ctx.Request.BodyStream()
}

// SetStatusCode sets response status code.
func (ctx *RequestCtx) SetStatusCode(statusCode int) {
	ctx.Response.SetStatusCode(statusCode)
}

// SetContentType sets response Content-Type.
func (ctx *RequestCtx) SetContentType(contentType string) {
	ctx.Response.Header.SetContentType(contentType)
}

// SetContentTypeBytes sets response Content-Type.
//
// It is safe modifying contentType buffer after the function return.
func (ctx *RequestCtx) SetContentTypeBytes(contentType []byte) {
	ctx.Response.Header.SetContentTypeBytes(contentType)
}

// SetConnectionClose sets 'Connection: close' response header and closes
// the connection after the response is sent.
func (ctx *RequestCtx) SetConnectionClose() {
	ctx.Response.SetConnectionClose()
}

// SetBody sets response body to the given value.
//
// It is safe re-using body argument after the function returns.
func (ctx *RequestCtx) SetBody(body []byte) {
	ctx.Response.SetBody(body)
}

// SetBodyString sets response body to the given value.
func (ctx *RequestCtx) SetBodyString(body string) {
	ctx.Response.SetBodyString(body)
}

// SetBodyStream sets response body stream and, optionally body size.
//
// See Response.SetBodyStream for details.
func (ctx *RequestCtx) SetBodyStream(bodyStream io.Reader, bodySize int) {
	ctx.Response.SetBodyStream(bodyStream, bodySize)
}

// ResetBody resets response body contents.
func (ctx *RequestCtx) ResetBody() {
	ctx.Response.ResetBody()
}

// Write writes p into response body.
//
// RequestCtx implements io.Writer, so it may be passed to fmt.Fprintf
// and friends.
func (ctx *RequestCtx) Write(p []byte) (int, error) {
	ctx.Response.AppendBody(p)
	return len(p), nil
}

// WriteString appends s to response body.
func (ctx *RequestCtx) WriteString(s string) (int, error) {
	ctx.Response.AppendBodyString(s)
	return len(s), nil
}

// Success sets response Content-Type and body to the given values.
//
// It is safe modifying body buffer after the Success() call.
func (ctx *RequestCtx) Success(contentType string, body []byte) {
	ctx.SetContentType(contentType)
	ctx.SetBody(body)
}

// SuccessString sets response Content-Type and body to the given values.
func (ctx *RequestCtx) SuccessString(contentType, body string) {
	ctx.SetContentType(contentType)
	ctx.SetBodyString(body)
}

// Error sets response status code to the given value and sets response body
// to the given message.
//
// Warning: this will reset the response headers and body already set!
func (ctx *RequestCtx) Error(msg string, statusCode int) {
	ctx.Response.Reset()
	ctx.SetStatusCode(statusCode)
	ctx.SetContentTypeBytes(defaultContentType)
	ctx.SetBodyString(msg)
}

// NotFound resets response and sets '404 Not Found' response status code.
func (ctx *RequestCtx) NotFound() {
	ctx.Error("404 Page not found", StatusNotFound)
}

// SetUserValue stores the given value (arbitrary object) under the given
// key in ctx.
//
// The value stored in ctx may be obtained by UserValue().
//
// This functionality may be useful for passing arbitrary values between
// functions involved in request processing.
//
// All the values are removed from ctx after returning from the top
// RequestHandler. Additionally, Close method is called on each value
// implementing io.Closer before removing the value from ctx.
func (ctx *RequestCtx) SetUserValue(key string, value interface{}) {
	ctx.userValues.Set(key, value)
}

// SetUserValueBytes stores the given value (arbitrary object) under
// the given key in ctx.
func (ctx *RequestCtx) SetUserValueBytes(key []byte, value interface{}) {
	ctx.userValues.SetBytes(key, value)
}

// UserValue returns the value stored via SetUserValue under the given key.
func (ctx *RequestCtx) UserValue(key string) interface{} {
	return ctx.userValues.Get(key)
}

// UserValueBytes returns the value stored via SetUserValueBytes under
// the given key.
func (ctx *RequestCtx) UserValueBytes(key []byte) interface{} {
	return ctx.userValues.GetBytes(key)
}

// VisitUserValues calls visitor for each existing userValue.
//
// visitor must not retain references to key and value after returning.
// Make key and/or value copies if you need storing them after returning.
func (ctx *RequestCtx) VisitUserValues(visitor func([]byte, interface{})) {
	ctx.userValues.VisitAll(visitor)
}

// RemoveUserValue removes the given key and the value under it in ctx.
func (ctx *RequestCtx) RemoveUserValue(key string) {
	ctx.userValues.Remove(key)
}

// RemoveUserValueBytes removes the given key and the value under it in ctx.
func (ctx *RequestCtx) RemoveUserValueBytes(key []byte) {
	ctx.userValues.RemoveBytes(key)
}

// Logger returns logger, which may be used for logging arbitrary
// request-specific messages inside RequestHandler.
//
// Each message logged via returned logger contains request-specific
// information such as request id, request duration, remote address,
// request method and request url.
//
// It is safe re-using returned logger for logging multiple messages
// for the current request.
//
// The returned logger is valid until the request handler returns.
func (ctx *RequestCtx) Logger() Logger {
	if ctx.logger.ctx == nil {
		ctx.logger.ctx = ctx
	}
	if ctx.logger.logger == nil {
		ctx.logger.logger = ctx.s.logger()
	}
	return &ctx.logger
}

// ListenAndServe serves HTTP requests from the given TCP addr
// using the given handler.
func ListenAndServe(addr string, handler RequestHandler) error {
	s := &Server{
		Handler: handler,
	}
	return s.ListenAndServe(addr)
}

// Serve serves incoming connections from the given listener
// using the given handler.
//
// Serve blocks until the given listener returns permanent error
// or the server is shut down.
func Serve(ln net.Listener, handler RequestHandler) error {
	s := &Server{
		Handler: handler,
	}
	return s.Serve(ln)
}

// ServeConn serves HTTP requests from the given connection
// using the given handler.
//
// ServeConn returns nil if all requests from the c are successfully served.
// It returns non-nil error otherwise.
//
// Connection c must immediately propagate all the data passed to Write()
// to the client. Otherwise requests' processing may hang.
//
// ServeConn closes c before returning unless the connection was hijacked.
func ServeConn(c net.Conn, handler RequestHandler) error {
	s := &Server{
		Handler: handler,
	}
	return s.ServeConn(c)
}

// State returns the current lifecycle phase of the server.
func (s *Server) State() ServerState {
	return ServerState(atomic.LoadInt32(&s.state))
}

func (s *Server) setServerState(state ServerState) {
	atomic.StoreInt32(&s.state, int32(state))
}

// ListenAndServe serves HTTP requests from the given TCP4 addr.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// ErrPerIPConnLimit may be returned from ServeConn if the number of
// connections per ip exceeds Server.MaxConnsPerIP.
var ErrPerIPConnLimit = errors.New("too many connections per ip")

// ErrConcurrencyLimit may be returned from ServeConn if the number
// of concurrently served connections exceeds Server.Concurrency.
var ErrConcurrencyLimit = errors.New("cannot serve the connection because Server.Concurrency concurrent connections are served")

// ServeConn serves HTTP requests from the given connection.
//
// ServeConn returns nil if all requests from the c are successfully served.
// It returns non-nil error otherwise.
//
// Connection c must immediately propagate all the data passed to Write()
// to the client. Otherwise requests' processing may hang.
//
// ServeConn closes c before returning unless the connection was hijacked.
func (s *Server) ServeConn(c net.Conn) error {
	if s.MaxConnsPerIP > 0 {
		pic := wrapPerIPConn(s, c)
		if pic == nil {
			return ErrPerIPConnLimit
		}
		c = pic
	}

	n := atomic.AddUint32(&s.concurrency, 1)
	if n > uint32(s.getConcurrency()) {
		atomic.AddUint32(&s.concurrency, ^uint32(0))
		s.writeFastError(c, StatusServiceUnavailable, "The connection cannot be served because Server.Concurrency limit exceeded")
		c.Close()
		return ErrConcurrencyLimit
	}

	atomic.AddInt32(&s.open, 1)

	err := s.serveConn(c)

	atomic.AddUint32(&s.concurrency, ^uint32(0))

	if err != errHijacked {
		errc := c.Close()
		s.setConnState(c, StateClosing)
		if err == nil {
			err = errc
		}
	} else {
		err = nil
		s.setConnState(c, StateUpgraded)
	}

	return err
}

var errHijacked = errors.New("connection has been hijacked")

func (s *Server) getConcurrency() int {
	n := s.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	return n
}

func (s *Server) maxRequestBodySize() int {
	n := s.MaxRequestBodySize
	if n <= 0 {
		n = DefaultMaxRequestBodySize
	}
	return n
}

// Serve serves incoming connections from the given listener.
//
// Serve blocks until the given listener returns a permanent error
// or Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	var lastOverflowErrorTime time.Time
	var lastPerIPErrorTime time.Time
	var c net.Conn
	var err error

	maxWorkersCount := s.getConcurrency()

	s.mu.Lock()
	s.ln = append(s.ln, ln)
	s.mu.Unlock()

	wp := &workerPool{
		WorkerFunc:            s.serveConn,
		MaxWorkersCount:       maxWorkersCount,
		LogAllErrors:          s.LogAllErrors,
		MaxIdleWorkerDuration: s.MaxIdleWorkerDuration,
		Logger:                s.logger(),
		connState:             s.setConnState,
	}
	wp.Start()
	defer wp.Stop()

	startServerDateUpdater()
	defer stopServerDateUpdater()

	s.setServerState(StateListening)

	// Count this accept loop as an open item so Shutdown waits for it
	// to exit before declaring the server stopped.
	atomic.AddInt32(&s.open, 1)

	for {
		if c, err = acceptConn(s, ln, &lastPerIPErrorTime); err != nil {
			atomic.AddInt32(&s.open, -1)
			if atomic.LoadInt32(&s.stop) == 1 {
				// Shutdown closed the listener and owns the transition
				// to StateStopped once the drain finishes.
				return nil
			}
			s.setServerState(StateStopped)
			if err == io.EOF {
				return nil
			}
			return err
		}
		s.Trace.onGotConn(c)
		atomic.AddInt32(&s.open, 1)
		if !wp.Serve(c) {
			atomic.AddInt32(&s.open, -1)
			s.writeFastError(c, StatusServiceUnavailable,
				"The connection cannot be served because Server.Concurrency limit exceeded")
			c.Close()
			if time.Since(lastOverflowErrorTime) > time.Minute {
				s.logger().Printf("The incoming connection cannot be served, because %d concurrent connections are served. "+
					"Try increasing Server.Concurrency", maxWorkersCount)
				lastOverflowErrorTime = time.Now()
			}
		}
		c = nil
	}
}

// Shutdown gracefully shuts down the server without interrupting any active
// connections. Shutdown works by first closing all open listeners, then
// closing all idle keep-alive connections, and then waiting indefinitely
// for the remaining connections to finish their current request cycle.
//
// When Shutdown is in progress the keep-alive loop closes each connection
// after its in-flight response, so the wait is bounded by the slowest
// request, not by the keep-alive lifetime.
//
// Shutdown does not wait for hijacked connections.
func (s *Server) Shutdown() error {
	return s.ShutdownWithContext(context.Background())
}

// ShutdownWithContext is Shutdown with a deadline: when ctx expires, every
// connection still in flight is force-closed (their blocked reads and
// writes unwind with errors) and ctx.Err() is returned.
func (s *Server) ShutdownWithContext(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	atomic.StoreInt32(&s.stop, 1)
	defer atomic.StoreInt32(&s.stop, 0)

	if s.ln == nil {
		s.setServerState(StateStopped)
		return nil
	}

	s.setServerState(StateDraining)

	for _, ln := range s.ln {
		if err = ln.Close(); err != nil {
			return err
		}
	}
	s.ln = nil

	// Closing the listener makes Serve return and release its open slot.
	// Reap the idle keep-alive connections until the busy ones finish.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.conns.closeIdle()

		if open := atomic.LoadInt32(&s.open); open == 0 {
			break
		}
		select {
		case <-ctx.Done():
			s.conns.closeAll()
			s.setServerState(StateStopped)
			return ctx.Err()
		case <-ticker.C:
		}
	}

	s.setServerState(StateStopped)
	return nil
}

func acceptConn(s *Server, ln net.Listener, lastPerIPErrorTime *time.Time) (net.Conn, error) {
	for {
		c, err := ln.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger().Printf("Timeout error when accepting new connections: %v", netErr)
				time.Sleep(time.Second)
				continue
			}
			if err != io.EOF && !strings.Contains(err.Error(), "use of closed network connection") {
				s.logger().Printf("Permanent error when accepting new connections: %v", err)
				return nil, err
			}
			return nil, io.EOF
		}
		if c == nil {
			panic("BUG: net.Listener returned (nil, nil)")
		}
		if s.MaxConnsPerIP > 0 {
			pic := wrapPerIPConn(s, c)
			if pic == nil {
				if time.Since(*lastPerIPErrorTime) > time.Minute {
					s.logger().Printf("The number of connections from %s exceeds MaxConnsPerIP=%d",
						uint322ip(getUint32IP(c)), s.MaxConnsPerIP)
					*lastPerIPErrorTime = time.Now()
				}
				continue
			}
			c = pic
		}
		return c, nil
	}
}

func wrapPerIPConn(s *Server, c net.Conn) net.Conn {
	ip := getUint32IP(c)
	if ip == 0 {
		return c
	}
	n := s.perIPConnCounter.Register(ip)
	if n > s.MaxConnsPerIP {
		s.perIPConnCounter.Unregister(ip)
		s.writeFastError(c, StatusTooManyRequests, "The number of connections from your ip exceeds MaxConnsPerIP")
		c.Close()
		return nil
	}
	return acquirePerIPConn(c, ip, &s.perIPConnCounter)
}

// setConnState fires the ConnState callback and runs the state bookkeeping
// shared by the Serve and ServeConn paths.
func (s *Server) setConnState(c net.Conn, state ConnState) {
	switch state {
	case StateUpgraded:
		s.Trace.onHijackedConn(c)
	case StateClosing:
		s.conns.remove(c)
		s.Trace.onClosedConn(c)
	}
	if hook := s.ConnState; hook != nil {
		hook(c, state)
	}
}

func (s *Server) serveConn(c net.Conn) (err error) {
	defer atomic.AddInt32(&s.open, -1)

	s.conns.add(c)

	connTime := time.Now()
	connID := nextConnID()

	readTimeout := s.ReadTimeout
	writeTimeout := s.WriteTimeout

	ctx := s.acquireCtx(c)
	ctx.connTime = connTime
	ctx.connID = connID
	s.Trace.onAcquiredContext(ctx)

	var (
		br *bufio.Reader
		bw *bufio.Writer

		connRequestNum  uint64
		connectionClose bool
		hijackHandler   HijackHandler
	)

	for {
		connRequestNum++

		s.setConnState(c, StateReading)

		if br == nil {
			br = acquireReader(ctx)
		}

		if readTimeout > 0 {
			if err = c.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
				break
			}
		}

		if connRequestNum > 1 {
			// The connection sits in the keep-alive wait until the next
			// request line arrives. Shutdown may reap it here.
			s.conns.setIdle(c)
		}

		err = ctx.Request.readLimitBody(br, s.maxRequestBodySize())

		if connRequestNum > 1 {
			s.conns.setActive(c)
		}

		if err != nil {
			if nr, ok := err.(ErrNothingRead); ok {
				if connRequestNum > 1 {
					// This is not the first request and we haven't read
					// a single byte of a new one: the client closed a
					// keep-alive connection (or the shutdown reaper did).
					// Not an error.
					err = nil
				} else {
					err = nr.error
				}
			}
			if err == nil || err == io.EOF {
				err = nil
				break
			}
			bw = s.writeErrorResponse(bw, ctx, err)
			break
		}

		s.Trace.onActivatedConn(c)

		ctx.connRequestNum = connRequestNum
		ctx.id = (connID << 32) | (connRequestNum & 0xffffffff)
		ctx.time = time.Now()

		connectionClose = s.DisableKeepalive || ctx.Request.Header.ConnectionClose()

		s.Trace.onGotRequest(ctx)

		if ctx.Request.MayContinue() {
			// The client holds the body back until the interim response
			// arrives. Put it on the wire before dispatching, so the
			// handler may pull the body.
			if bw == nil {
				bw = acquireWriter(ctx)
			}
			bw.Write(strResponseContinue) //nolint:errcheck
			if err = bw.Flush(); err != nil {
				break
			}
		}

		s.setConnState(c, StateDispatching)

		handlerErr := s.dispatchHandler(ctx)
		if handlerErr != nil {
			ctx.Error("Internal Server Error", StatusInternalServerError)
			connectionClose = true
		}

		hijackHandler = ctx.hijackHandler
		ctx.hijackHandler = nil

		// Drain whatever the handler left of the body so the connection
		// is positioned at a frame boundary. An over-limit chunked body
		// surfaces here, while the 413 can still be sent.
		if bodyErr := ctx.Request.finishBodyStream(); bodyErr != nil {
			bw = s.writeErrorResponse(bw, ctx, bodyErr)
			err = bodyErr
			break
		}

		s.setConnState(c, StateWriting)

		if !connectionClose {
			connectionClose = ctx.Response.ConnectionClose() || atomic.LoadInt32(&s.stop) == 1
		}
		if connectionClose {
			ctx.Response.SetConnectionClose()
		} else if !ctx.Request.Header.IsHTTP11() {
			// Tell HTTP/1.0 clients explicitly that the connection is
			// kept open, since for them closing is the default.
			ctx.Response.Header.SetCanonical(strConnection, strKeepAlive)
		}

		if ctx.Request.Header.IsHead() {
			ctx.Response.SkipBody = true
		}

		if writeTimeout > 0 {
			if err = c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				break
			}
		}

		if bw == nil {
			bw = acquireWriter(ctx)
		}

		nw := ctx.cw.n
		if err = writeResponse(ctx, bw); err != nil {
			break
		}
		err = bw.Flush()
		s.Trace.onWroteResponse(ctx, ctx.cw.n-nw, err)
		if err != nil {
			break
		}

		if hijackHandler != nil {
			// The response (e.g. the 101) is on the wire. Hand the raw
			// stream over together with anything already buffered.
			var hjr io.Reader = c
			if br != nil {
				hjr = br
				br = nil
			}
			releaseWriter(s, bw)
			bw = nil

			if readTimeout > 0 || writeTimeout > 0 {
				if err = c.SetDeadline(zeroTime); err != nil {
					break
				}
			}

			go hijackConnHandler(ctx, hjr, c, s, hijackHandler)
			return errHijacked
		}

		if handlerErr != nil {
			err = handlerErr
			break
		}
		if connectionClose {
			break
		}

		s.Trace.onIdledConn(c)

		ctx.userValues.Reset()
		ctx.Request.Reset()
		ctx.Response.Reset()
	}

	if br != nil {
		releaseReader(s, br)
	}
	if bw != nil {
		releaseWriter(s, bw)
	}
	s.releaseCtx(ctx)

	return err
}

func (s *Server) dispatchHandler(ctx *RequestCtx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().Printf("panic when serving the request: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("recovered panic: %v", r)
		}
	}()
	return s.Handler(ctx)
}

func hijackConnHandler(ctx *RequestCtx, r io.Reader, c net.Conn, s *Server, h HijackHandler) {
	hjc := s.acquireHijackConn(r, c)
	h(hjc)

	if br, ok := r.(*bufio.Reader); ok {
		releaseReader(s, br)
	}
	c.Close()
	s.conns.remove(c)
	s.releaseHijackConn(hjc)
	s.releaseCtx(ctx)
}

func (s *Server) acquireHijackConn(r io.Reader, c net.Conn) *hijackConn {
	v := s.hijackConnPool.Get()
	if v == nil {
		return &hijackConn{
			Conn: c,
			r:    r,
		}
	}
	hjc := v.(*hijackConn)
	hjc.Conn = c
	hjc.r = r
	return hjc
}

func (s *Server) releaseHijackConn(hjc *hijackConn) {
	hjc.Conn = nil
	hjc.r = nil
	s.hijackConnPool.Put(hjc)
}

type hijackConn struct {
	net.Conn
	r io.Reader
}

func (c *hijackConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *hijackConn) Close() error {
	// The server closes the underlying connection when the hijack
	// handler returns.
	return nil
}

func writeResponse(ctx *RequestCtx, w *bufio.Writer) error {
	h := &ctx.Response.Header
	serverOld := h.Server()
	if len(serverOld) == 0 {
		h.server = ctx.s.getServerName()
	}
	err := ctx.Response.Write(w)
	if len(serverOld) == 0 {
		h.server = h.server[:0]
	}
	return err
}

const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096

	// Pooled bufio buffers beyond this size are dropped to avoid holding
	// big chunks of memory for occasional huge requests.
	maxPooledBufferSize = 16 * 1024
)

func acquireReader(ctx *RequestCtx) *bufio.Reader {
	v := ctx.s.readerPool.Get()
	if v == nil {
		n := ctx.s.ReadBufferSize
		if n <= 0 {
			n = defaultReadBufferSize
		}
		return bufio.NewReaderSize(ctx.c, n)
	}
	r := v.(*bufio.Reader)
	r.Reset(ctx.c)
	return r
}

func releaseReader(s *Server, r *bufio.Reader) {
	if r.Size() > maxPooledBufferSize {
		return
	}
	r.Reset(nil)
	s.readerPool.Put(r)
}

func acquireWriter(ctx *RequestCtx) *bufio.Writer {
	ctx.cw.c = ctx.c
	ctx.cw.n = 0
	v := ctx.s.writerPool.Get()
	if v == nil {
		n := ctx.s.WriteBufferSize
		if n <= 0 {
			n = defaultWriteBufferSize
		}
		return bufio.NewWriterSize(&ctx.cw, n)
	}
	w := v.(*bufio.Writer)
	w.Reset(&ctx.cw)
	return w
}

func releaseWriter(s *Server, w *bufio.Writer) {
	if w.Size() > maxPooledBufferSize {
		return
	}
	w.Reset(nil)
	s.writerPool.Put(w)
}

var globalConnID uint64

func nextConnID() uint64 {
	return atomic.AddUint64(&globalConnID, 1)
}

func (s *Server) acquireCtx(c net.Conn) *RequestCtx {
	var ctx *RequestCtx
	v := s.ctxPool.Get()
	if v == nil {
		ctx = &RequestCtx{
			s: s,
		}
	} else {
		ctx = v.(*RequestCtx)
	}
	ctx.c = c
	return ctx
}

func (s *Server) releaseCtx(ctx *RequestCtx) {
	ctx.reset()
	s.ctxPool.Put(ctx)
}

func (ctx *RequestCtx) reset() {
	ctx.userValues.Reset()
	ctx.Request.Reset()
	ctx.Response.Reset()
	ctx.logger.ctx = nil
	ctx.logger.logger = nil
	ctx.id = 0
	ctx.connID = 0
	ctx.connRequestNum = 0
	ctx.connTime = zeroTime
	ctx.time = zeroTime
	ctx.c = nil
	ctx.cw.c = nil
	ctx.cw.n = 0
	ctx.hijackHandler = nil
}

func (s *Server) writeErrorResponse(bw *bufio.Writer, ctx *RequestCtx, err error) *bufio.Writer {
	statusCode := StatusBadRequest
	msg := "Error when parsing request"
	switch {
	case errors.Is(err, ErrHeaderTooLarge):
		statusCode = StatusRequestHeaderFieldsTooLarge
		msg = "Too big request header"
	case errors.Is(err, ErrBodyTooLarge):
		statusCode = StatusRequestEntityTooLarge
		msg = "Request body is too large"
	}

	ctx.Error(msg, statusCode)
	ctx.Response.SetConnectionClose()

	if bw == nil {
		bw = acquireWriter(ctx)
	}
	writeResponse(ctx, bw) //nolint:errcheck
	ctx.Response.Reset()
	bw.Flush()
	return bw
}

// writeFastError writes a canned error response directly to w, bypassing
// the Response machinery. Used for connections rejected before serving.
func (s *Server) writeFastError(w io.Writer, statusCode int, msg string) {
	w.Write(formatStatusLine(nil, strHTTP11, statusCode, s2b(StatusMessage(statusCode)))) //nolint:errcheck

	fmt.Fprintf(w, "Connection: close\r\n"+
		"Server: %s\r\n"+
		"Date: %s\r\n"+
		"Content-Type: text/plain\r\n"+
		"Content-Length: %d\r\n"+
		"\r\n"+
		"%s", s.getServerName(), getServerDate(), len(msg), msg)
}

func (s *Server) getServerName() []byte {
	v := s.serverName.Load()
	var serverName []byte
	if v == nil {
		serverName = []byte(s.Name)
		if len(serverName) == 0 {
			serverName = defaultServerName
		}
		s.serverName.Store(serverName)
	} else {
		serverName = v.([]byte)
	}
	return serverName
}
