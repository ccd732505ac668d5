package websocket

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/httpkit/httpkit"
	"github.com/httpkit/httpkit/httpkitutil"
)

func TestComputeAcceptKey(t *testing.T) {
	t.Parallel()

	// Sample handshake from RFC 6455, section 1.3.
	accept := computeAcceptKey([]byte("dGhlIHNhbXBsZSBub25jZQ=="))
	if accept != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("unexpected accept key %q. Expecting %q", accept, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")
	}
}

func TestSelectSubprotocol(t *testing.T) {
	t.Parallel()

	u := &Upgrader{Subprotocols: []string{"v2", "v1"}}

	testSelectSubprotocol(t, u, "", "")
	testSelectSubprotocol(t, u, "v1", "v1")
	testSelectSubprotocol(t, u, "v3", "")

	// The server's preference order wins.
	testSelectSubprotocol(t, u, "v1, v2", "v2")
	testSelectSubprotocol(t, u, " v3 , v1 ", "v1")

	empty := &Upgrader{}
	testSelectSubprotocol(t, empty, "v1", "")
}

func testSelectSubprotocol(t *testing.T, u *Upgrader, clientProtocols, expected string) {
	t.Helper()

	if proto := u.selectSubprotocol([]byte(clientProtocols)); proto != expected {
		t.Fatalf("unexpected subprotocol %q for client header %q. Expecting %q", proto, clientProtocols, expected)
	}
}

func echoConnHandler(conn *Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

func TestUpgradeHandshake(t *testing.T) {
	t.Parallel()

	upgrader := &Upgrader{Subprotocols: []string{"chat"}}
	upgradeErrCh := make(chan error, 1)
	s := &httpkit.Server{
		Handler: func(ctx *httpkit.RequestCtx) error {
			upgradeErrCh <- upgrader.Upgrade(ctx, echoConnHandler)
			return nil
		},
	}

	ln := httpkitutil.NewInmemoryListener()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- s.Serve(ln)
	}()

	conn, err := ln.Dial()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := "GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Protocol: chat, superchat\r\n" +
		"\r\n"
	if _, err = conn.Write([]byte(req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	br := bufio.NewReader(conn)
	var h httpkit.ResponseHeader
	if err = h.Read(br); err != nil {
		t.Fatalf("cannot read handshake response: %v", err)
	}
	if h.StatusCode() != httpkit.StatusSwitchingProtocols {
		t.Fatalf("unexpected status code %d. Expecting %d", h.StatusCode(), httpkit.StatusSwitchingProtocols)
	}
	if !h.ConnectionUpgrade() {
		t.Fatalf("missing 'Upgrade' token in the Connection header")
	}
	if upgrade := string(h.Peek(httpkit.HeaderUpgrade)); !strings.EqualFold(upgrade, "websocket") {
		t.Fatalf("unexpected Upgrade header %q. Expecting %q", upgrade, "websocket")
	}
	if accept := string(h.Peek(httpkit.HeaderSecWebSocketAccept)); accept != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("unexpected Sec-WebSocket-Accept %q. Expecting %q", accept, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")
	}
	if proto := string(h.Peek(httpkit.HeaderSecWebSocketProtocol)); proto != "chat" {
		t.Fatalf("unexpected Sec-WebSocket-Protocol %q. Expecting %q", proto, "chat")
	}
	if err = <-upgradeErrCh; err != nil {
		t.Fatalf("unexpected upgrade error: %v", err)
	}

	// The same connection now talks frames.
	writeClientFrame(t, conn, true, TextMessage, []byte("hello"))
	fin, opcode, payload := readServerFrame(t, br)
	if !fin || opcode != TextMessage {
		t.Fatalf("unexpected frame (fin=%v, opcode=%d)", fin, opcode)
	}
	if string(payload) != "hello" {
		t.Fatalf("unexpected echo %q. Expecting %q", payload, "hello")
	}

	writeClientFrame(t, conn, true, CloseMessage, FormatCloseMessage(CloseNormalClosure, "done"))
	expectCloseFrame(t, br, CloseNormalClosure)

	conn.Close()
	if err = s.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = <-serverErrCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpgradeMaxMessageSize(t *testing.T) {
	t.Parallel()

	upgrader := &Upgrader{MaxMessageSize: 64}
	s := &httpkit.Server{
		Handler: func(ctx *httpkit.RequestCtx) error {
			upgrader.Upgrade(ctx, echoConnHandler) //nolint:errcheck
			return nil
		},
	}

	ln := httpkitutil.NewInmemoryListener()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- s.Serve(ln)
	}()

	conn, err := ln.Dial()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := "GET /ws HTTP/1.1\r\nHost: go.dev\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n"
	if _, err = conn.Write([]byte(req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	br := bufio.NewReader(conn)
	var h httpkit.ResponseHeader
	if err = h.Read(br); err != nil {
		t.Fatalf("cannot read handshake response: %v", err)
	}
	if h.StatusCode() != httpkit.StatusSwitchingProtocols {
		t.Fatalf("unexpected status code %d. Expecting %d", h.StatusCode(), httpkit.StatusSwitchingProtocols)
	}

	writeClientFrame(t, conn, true, BinaryMessage, make([]byte, 128))
	expectCloseFrame(t, br, CloseMessageTooBig)

	conn.Close()
	if err = s.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = <-serverErrCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpgradeRejections(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		req        string
		statusCode int
	}{
		{
			name: "non-GET method",
			req: "POST /ws HTTP/1.1\r\nHost: go.dev\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Key: x\r\nSec-WebSocket-Version: 13\r\nContent-Length: 0\r\n\r\n",
			statusCode: httpkit.StatusBadRequest,
		},
		{
			name: "missing Connection upgrade",
			req: "GET /ws HTTP/1.1\r\nHost: go.dev\r\nUpgrade: websocket\r\n" +
				"Sec-WebSocket-Key: x\r\nSec-WebSocket-Version: 13\r\n\r\n",
			statusCode: httpkit.StatusBadRequest,
		},
		{
			name: "missing Upgrade header",
			req: "GET /ws HTTP/1.1\r\nHost: go.dev\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Key: x\r\nSec-WebSocket-Version: 13\r\n\r\n",
			statusCode: httpkit.StatusBadRequest,
		},
		{
			name: "unsupported version",
			req: "GET /ws HTTP/1.1\r\nHost: go.dev\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Key: x\r\nSec-WebSocket-Version: 8\r\n\r\n",
			statusCode: httpkit.StatusUpgradeRequired,
		},
		{
			name: "missing key",
			req: "GET /ws HTTP/1.1\r\nHost: go.dev\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Version: 13\r\n\r\n",
			statusCode: httpkit.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			testUpgradeRejection(t, tc.req, tc.statusCode)
		})
	}
}

func testUpgradeRejection(t *testing.T, req string, expectedStatusCode int) {
	t.Helper()

	upgrader := &Upgrader{}
	upgradeErrCh := make(chan error, 1)
	s := &httpkit.Server{
		Handler: func(ctx *httpkit.RequestCtx) error {
			upgradeErrCh <- upgrader.Upgrade(ctx, echoConnHandler)
			return nil
		},
	}

	ln := httpkitutil.NewInmemoryListener()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- s.Serve(ln)
	}()

	conn, err := ln.Dial()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err = conn.Write([]byte(req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	br := bufio.NewReader(conn)
	resp := httpkit.AcquireResponse()
	if err = resp.Read(br); err != nil {
		t.Fatalf("cannot read response: %v", err)
	}
	if resp.StatusCode() != expectedStatusCode {
		t.Fatalf("unexpected status code %d. Expecting %d", resp.StatusCode(), expectedStatusCode)
	}
	if !bytes.HasPrefix(resp.Body(), []byte("WebSocket upgrade failed")) {
		t.Fatalf("unexpected body %q", resp.Body())
	}
	if expectedStatusCode == httpkit.StatusUpgradeRequired {
		if v := string(resp.Header.Peek(httpkit.HeaderSecWebSocketVersion)); v != "13" {
			t.Fatalf("unexpected Sec-WebSocket-Version %q. Expecting %q", v, "13")
		}
	}
	httpkit.ReleaseResponse(resp)

	if err = <-upgradeErrCh; !errors.Is(err, ErrUpgradeRejected) {
		t.Fatalf("unexpected error: %v. Expecting %v", err, ErrUpgradeRejected)
	}

	conn.Close()
	if err = s.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = <-serverErrCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpgradeOriginCheck(t *testing.T) {
	t.Parallel()

	upgrader := &Upgrader{
		CheckOrigin: func(ctx *httpkit.RequestCtx) bool {
			return bytes.Equal(ctx.Request.Header.Peek(httpkit.HeaderOrigin), []byte("https://example.com"))
		},
	}
	upgradeErrCh := make(chan error, 1)
	s := &httpkit.Server{
		Handler: func(ctx *httpkit.RequestCtx) error {
			upgradeErrCh <- upgrader.Upgrade(ctx, echoConnHandler)
			return nil
		},
	}

	ln := httpkitutil.NewInmemoryListener()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- s.Serve(ln)
	}()

	// Disallowed origin.
	conn, err := ln.Dial()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := "GET /ws HTTP/1.1\r\nHost: go.dev\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n" +
		"Origin: https://evil.example\r\n\r\n"
	if _, err = conn.Write([]byte(req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp := httpkit.AcquireResponse()
	if err = resp.Read(bufio.NewReader(conn)); err != nil {
		t.Fatalf("cannot read response: %v", err)
	}
	if resp.StatusCode() != httpkit.StatusForbidden {
		t.Fatalf("unexpected status code %d. Expecting %d", resp.StatusCode(), httpkit.StatusForbidden)
	}
	httpkit.ReleaseResponse(resp)
	if err = <-upgradeErrCh; !errors.Is(err, ErrUpgradeRejected) {
		t.Fatalf("unexpected error: %v. Expecting %v", err, ErrUpgradeRejected)
	}
	conn.Close()

	// Allowed origin.
	conn, err = ln.Dial()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req = "GET /ws HTTP/1.1\r\nHost: go.dev\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n" +
		"Origin: https://example.com\r\n\r\n"
	if _, err = conn.Write([]byte(req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var h httpkit.ResponseHeader
	if err = h.Read(bufio.NewReader(conn)); err != nil {
		t.Fatalf("cannot read handshake response: %v", err)
	}
	if h.StatusCode() != httpkit.StatusSwitchingProtocols {
		t.Fatalf("unexpected status code %d. Expecting %d", h.StatusCode(), httpkit.StatusSwitchingProtocols)
	}
	if err = <-upgradeErrCh; err != nil {
		t.Fatalf("unexpected upgrade error: %v", err)
	}
	conn.Close()

	if err = s.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = <-serverErrCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpgradeGorillaEcho(t *testing.T) {
	t.Parallel()

	upgrader := &Upgrader{Subprotocols: []string{"v2"}}

	var stateLock sync.Mutex
	sawUpgraded := false
	s := &httpkit.Server{
		Handler: func(ctx *httpkit.RequestCtx) error {
			if err := upgrader.Upgrade(ctx, echoConnHandler); err != nil {
				ctx.Logger().Printf("unexpected upgrade error: %v", err)
			}
			return nil
		},
		ConnState: func(c net.Conn, state httpkit.ConnState) {
			if state == httpkit.StateUpgraded {
				stateLock.Lock()
				sawUpgraded = true
				stateLock.Unlock()
			}
		},
	}

	ln := httpkitutil.NewInmemoryListener()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- s.Serve(ln)
	}()

	d := &gorilla.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			return ln.Dial()
		},
		Subprotocols:     []string{"v1", "v2"},
		HandshakeTimeout: time.Second,

		// A small write buffer forces fragmentation of big messages.
		WriteBufferSize: 128,
	}
	c, resp, err := d.Dial("ws://example.com/echo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected status code %d. Expecting %d", resp.StatusCode, http.StatusSwitchingProtocols)
	}
	if proto := c.Subprotocol(); proto != "v2" {
		t.Fatalf("unexpected subprotocol %q. Expecting %q", proto, "v2")
	}

	if err = c.WriteMessage(gorilla.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mt, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mt != gorilla.TextMessage || string(data) != "hello" {
		t.Fatalf("unexpected echo (type=%d, data=%q)", mt, data)
	}

	// A message split over multiple continuation frames must be
	// reassembled before it is echoed.
	big := strings.Repeat("0123456789", 100)
	w, err := c.NextWriter(gorilla.BinaryMessage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err = w.Write([]byte(big)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = w.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mt, data, err = c.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mt != gorilla.BinaryMessage || string(data) != big {
		t.Fatalf("unexpected echo (type=%d, len=%d). Expecting len=%d", mt, len(data), len(big))
	}

	// Pings are answered transparently while the echo handler is blocked
	// in ReadMessage.
	pongCh := make(chan string, 1)
	c.SetPongHandler(func(appData string) error {
		pongCh <- appData
		return nil
	})
	if err = c.WriteControl(gorilla.PingMessage, []byte("hi"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = c.WriteMessage(gorilla.TextMessage, []byte("after-ping")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, data, err = c.ReadMessage(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "after-ping" {
		t.Fatalf("unexpected echo %q. Expecting %q", data, "after-ping")
	}
	select {
	case p := <-pongCh:
		if p != "hi" {
			t.Fatalf("unexpected pong payload %q. Expecting %q", p, "hi")
		}
	default:
		t.Fatalf("no pong received")
	}

	// Close handshake: the server echoes the close code.
	err = c.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err = c.ReadMessage(); !gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
		t.Fatalf("unexpected error: %v. Expecting close %d", err, gorilla.CloseNormalClosure)
	}
	c.Close()

	if err = s.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err = <-serverErrCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stateLock.Lock()
	defer stateLock.Unlock()
	if !sawUpgraded {
		t.Fatalf("no connection reached the upgraded state")
	}
}
