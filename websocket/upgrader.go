package websocket

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // mandated by RFC 6455
	"encoding/base64"
	"errors"
	"fmt"
	"net"

	"github.com/httpkit/httpkit"
)

// ErrUpgradeRejected means the request did not qualify as a WebSocket
// handshake. When Upgrade returns an error wrapping it, the fallback HTTP
// error response has already been composed; the error itself is diagnostic
// and should not be propagated as a handler failure.
var ErrUpgradeRejected = errors.New("websocket: upgrade rejected")

var (
	acceptGUID   = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")
	strWebsocket = []byte("websocket")
	strVersion13 = []byte("13")
)

// Upgrader negotiates WebSocket handshakes on top of a RequestCtx.
//
// The zero value accepts every origin, negotiates no subprotocol and caps
// incoming messages at DefaultMaxMessageSize. Upgrader instances may be
// shared by concurrently running handlers.
type Upgrader struct {
	// Subprotocols lists the supported application subprotocols in
	// preference order. The first entry also offered by the client's
	// Sec-WebSocket-Protocol header is selected; with no overlap (or an
	// empty list) no subprotocol is negotiated.
	Subprotocols []string

	// CheckOrigin validates cross-origin handshakes. It runs only when
	// the request carries an Origin header; nil allows every origin.
	CheckOrigin func(ctx *httpkit.RequestCtx) bool

	// MaxMessageSize bounds the reassembled size of incoming messages on
	// upgraded connections. DefaultMaxMessageSize is used if zero.
	MaxMessageSize int64

	// ReadBufferSize and WriteBufferSize size the upgraded connection's
	// frame buffers. Default buffer sizes are used if zero.
	ReadBufferSize  int
	WriteBufferSize int
}

// Upgrade performs the server side of the WebSocket handshake.
//
// On success it composes a 101 Switching Protocols response, takes the
// connection over from the HTTP server and runs handler on it from a
// separate goroutine once the response is flushed. The connection is
// closed when handler returns.
//
// On failure it composes the fallback HTTP error response itself (400, or
// 426 with a Sec-WebSocket-Version header for a version mismatch) and
// returns an error wrapping ErrUpgradeRejected. The connection stays under
// HTTP semantics in that case.
func (u *Upgrader) Upgrade(ctx *httpkit.RequestCtx, handler func(*Conn)) error {
	h := &ctx.Request.Header

	if !ctx.IsGet() {
		return rejectUpgrade(ctx, httpkit.StatusBadRequest, "handshake requires method GET")
	}
	if !h.ConnectionUpgrade() {
		return rejectUpgrade(ctx, httpkit.StatusBadRequest, "missing 'Upgrade' token in Connection header")
	}
	if !bytes.EqualFold(h.Peek(httpkit.HeaderUpgrade), strWebsocket) {
		return rejectUpgrade(ctx, httpkit.StatusBadRequest, "missing 'websocket' token in Upgrade header")
	}
	if !bytes.Equal(h.Peek(httpkit.HeaderSecWebSocketVersion), strVersion13) {
		err := rejectUpgrade(ctx, httpkit.StatusUpgradeRequired, "unsupported websocket version, need 13")
		ctx.Response.Header.Set(httpkit.HeaderSecWebSocketVersion, "13")
		return err
	}
	key := h.Peek(httpkit.HeaderSecWebSocketKey)
	if len(key) == 0 {
		return rejectUpgrade(ctx, httpkit.StatusBadRequest, "missing Sec-WebSocket-Key header")
	}
	if u.CheckOrigin != nil && len(h.Peek(httpkit.HeaderOrigin)) > 0 && !u.CheckOrigin(ctx) {
		return rejectUpgrade(ctx, httpkit.StatusForbidden, "origin not allowed")
	}

	subprotocol := u.selectSubprotocol(h.Peek(httpkit.HeaderSecWebSocketProtocol))

	resp := &ctx.Response
	resp.Reset()
	resp.SetStatusCode(httpkit.StatusSwitchingProtocols)
	resp.Header.Set(httpkit.HeaderUpgrade, "websocket")
	resp.Header.Set(httpkit.HeaderConnection, "Upgrade")
	resp.Header.Set(httpkit.HeaderSecWebSocketAccept, computeAcceptKey(key))
	if subprotocol != "" {
		resp.Header.Set(httpkit.HeaderSecWebSocketProtocol, subprotocol)
	}

	maxMessageSize := u.MaxMessageSize
	readBufferSize := u.ReadBufferSize
	writeBufferSize := u.WriteBufferSize
	ctx.Hijack(func(c net.Conn) {
		conn := newConn(c, subprotocol, maxMessageSize, readBufferSize, writeBufferSize)
		handler(conn)
		conn.release()
	})
	return nil
}

func rejectUpgrade(ctx *httpkit.RequestCtx, statusCode int, detail string) error {
	ctx.Error("WebSocket upgrade failed: "+detail, statusCode)
	return fmt.Errorf("%w: %s", ErrUpgradeRejected, detail)
}

// selectSubprotocol picks the first configured subprotocol the client
// offered. clientProtocols is the raw comma-separated header value.
func (u *Upgrader) selectSubprotocol(clientProtocols []byte) string {
	if len(u.Subprotocols) == 0 || len(clientProtocols) == 0 {
		return ""
	}
	for _, want := range u.Subprotocols {
		rest := clientProtocols
		for len(rest) > 0 {
			var token []byte
			if i := bytes.IndexByte(rest, ','); i >= 0 {
				token, rest = rest[:i], rest[i+1:]
			} else {
				token, rest = rest, nil
			}
			token = bytes.TrimSpace(token)
			if string(token) == want {
				return want
			}
		}
	}
	return ""
}

// computeAcceptKey derives the Sec-WebSocket-Accept value for the client's
// Sec-WebSocket-Key per RFC 6455, section 4.2.2.
func computeAcceptKey(key []byte) string {
	d := sha1.New() //nolint:gosec // mandated by RFC 6455
	d.Write(key)
	d.Write(acceptGUID)
	return base64.StdEncoding.EncodeToString(d.Sum(nil))
}
