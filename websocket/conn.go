package websocket

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/httpkit/httpkit"
)

// Message types, matching the RFC 6455 opcode values.
const (
	// TextMessage denotes a text data message. The payload is
	// interpreted as UTF-8 encoded text.
	TextMessage = 1

	// BinaryMessage denotes a binary data message.
	BinaryMessage = 2

	// CloseMessage denotes a close control message.
	CloseMessage = 8

	// PingMessage denotes a ping control message.
	PingMessage = 9

	// PongMessage denotes a pong control message.
	PongMessage = 10
)

const opcodeContinuation = 0

// Close codes defined in RFC 6455, section 11.7.
const (
	CloseNormalClosure           = 1000
	CloseGoingAway               = 1001
	CloseProtocolError           = 1002
	CloseUnsupportedData         = 1003
	CloseNoStatusReceived        = 1005
	CloseAbnormalClosure         = 1006
	CloseInvalidFramePayloadData = 1007
	ClosePolicyViolation         = 1008
	CloseMessageTooBig           = 1009
	CloseMandatoryExtension      = 1010
	CloseInternalServerErr       = 1011
)

const (
	finBit  = 1 << 7
	rsvMask = 0x70
	maskBit = 1 << 7

	maxControlPayloadSize = 125

	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096

	// Deadline for close frames sent on behalf of the connection
	// (protocol failures, close echoes).
	closeWriteTimeout = time.Second
)

// DefaultMaxMessageSize bounds the reassembled size of incoming messages
// unless Upgrader.MaxMessageSize overrides it.
const DefaultMaxMessageSize = 1 << 20

// ErrProtocolViolation is wrapped by every error caused by the peer
// breaking the framing rules: unmasked client frames, nonzero RSV bits,
// unknown opcodes, fragmented or oversized control frames, continuation
// frames without a message in progress, interleaved data frames and
// messages exceeding the size limit.
//
// The connection sends a close frame (1002, or 1009 for oversized
// messages) before the error is returned, and no further reads succeed.
var ErrProtocolViolation = errors.New("websocket: protocol violation")

// CloseError is returned by ReadMessage after the peer sent a close frame.
// The close has already been echoed, completing the handshake.
type CloseError struct {
	// Code is the close code the peer sent, or CloseNoStatusReceived
	// when the close frame carried an empty payload.
	Code int

	// Text is the optional close reason.
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("websocket: close %d", e.Code)
	}
	return fmt.Sprintf("websocket: close %d: %s", e.Code, e.Text)
}

// Conn is a server-side WebSocket connection created by Upgrader.Upgrade.
//
// One goroutine may call ReadMessage while others write; writers are
// serialized internally. Concurrent readers are not supported.
type Conn struct {
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	// wmu serializes frame writes so control frames never interleave
	// with data frames mid-frame.
	wmu           sync.Mutex
	writeDeadline time.Time

	subprotocol    string
	maxMessageSize int64

	pingHandler func(data []byte) error
	pongHandler func(data []byte) error

	readBuf *bytebufferpool.ByteBuffer
	readErr error
}

func newConn(c net.Conn, subprotocol string, maxMessageSize int64, readBufferSize, writeBufferSize int) *Conn {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	if readBufferSize <= 0 {
		readBufferSize = defaultReadBufferSize
	}
	if writeBufferSize <= 0 {
		writeBufferSize = defaultWriteBufferSize
	}
	conn := &Conn{
		c:              c,
		br:             bufio.NewReaderSize(c, readBufferSize),
		bw:             bufio.NewWriterSize(c, writeBufferSize),
		subprotocol:    subprotocol,
		maxMessageSize: maxMessageSize,
	}
	conn.pingHandler = conn.defaultPingHandler
	conn.pongHandler = func([]byte) error { return nil }
	return conn
}

// release returns the assembly buffer to the pool. Called by the upgrade
// machinery once the connection handler returned.
func (c *Conn) release() {
	if c.readBuf != nil {
		httpkit.ReleaseByteBuffer(c.readBuf)
		c.readBuf = nil
	}
}

// Subprotocol returns the negotiated application subprotocol, if any.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.c.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.c.LocalAddr()
}

// SetReadDeadline sets the deadline for future reads from the underlying
// connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.c.SetReadDeadline(t)
}

// SetWriteDeadline sets the deadline for future writes to the underlying
// connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.wmu.Lock()
	c.writeDeadline = t
	err := c.c.SetWriteDeadline(t)
	c.wmu.Unlock()
	return err
}

// SetPingHandler overrides the handler invoked for incoming pings.
// The default answers with a pong carrying the identical payload.
// Setting nil restores the default.
//
// The handler runs inside ReadMessage; an error it returns aborts the read.
func (c *Conn) SetPingHandler(h func(data []byte) error) {
	if h == nil {
		h = c.defaultPingHandler
	}
	c.pingHandler = h
}

// SetPongHandler overrides the handler invoked for incoming pongs.
// The default ignores them. Setting nil restores the default.
//
// The handler runs inside ReadMessage; an error it returns aborts the read.
func (c *Conn) SetPongHandler(h func(data []byte) error) {
	if h == nil {
		h = func([]byte) error { return nil }
	}
	c.pongHandler = h
}

func (c *Conn) defaultPingHandler(data []byte) error {
	return c.WriteControl(PongMessage, data, time.Now().Add(closeWriteTimeout))
}

// Close closes the underlying connection. Payloads previously returned by
// ReadMessage must not be used after Close.
//
// The server also closes the connection when the upgrade handler returns,
// so calling Close is only needed for early teardown.
func (c *Conn) Close() error {
	return c.c.Close()
}

// ReadMessage blocks until the next complete text or binary message
// arrives. Continuation frames are reassembled into one payload; control
// frames arriving between fragments are handled transparently (pings are
// answered, pongs dispatched, a close frame is echoed and surfaces as
// *CloseError).
//
// The returned payload is valid until the next ReadMessage call.
func (c *Conn) ReadMessage() (messageType int, data []byte, err error) {
	if c.readErr != nil {
		return 0, nil, c.readErr
	}
	if c.readBuf == nil {
		c.readBuf = httpkit.AcquireByteBuffer()
	}
	c.readBuf.Reset()

	for {
		fin, opcode, n, key, err := c.readFrameHeader()
		if err != nil {
			c.readErr = err
			return 0, nil, err
		}

		switch opcode {
		case TextMessage, BinaryMessage:
			if messageType != 0 {
				return 0, nil, c.failProto("data frame while a fragmented message is in progress")
			}
			messageType = opcode

		case opcodeContinuation:
			if messageType == 0 {
				return 0, nil, c.failProto("continuation frame without a message in progress")
			}

		case CloseMessage, PingMessage, PongMessage:
			if !fin {
				return 0, nil, c.failProto("fragmented control frame")
			}
			if n > maxControlPayloadSize {
				return 0, nil, c.failProto("control frame payload exceeds 125 bytes")
			}
			var ctrl [maxControlPayloadSize]byte
			payload := ctrl[:n]
			if _, err := io.ReadFull(c.br, payload); err != nil {
				c.readErr = err
				return 0, nil, err
			}
			maskBytes(key, payload)
			if err := c.handleControl(opcode, payload); err != nil {
				c.readErr = err
				return 0, nil, err
			}
			continue

		default:
			return 0, nil, c.failProto(fmt.Sprintf("unknown opcode %d", opcode))
		}

		if int64(len(c.readBuf.B))+n > c.maxMessageSize {
			return 0, nil, c.failClose(CloseMessageTooBig, "message exceeds the size limit")
		}
		if err := c.appendFramePayload(n, key); err != nil {
			c.readErr = err
			return 0, nil, err
		}
		if fin {
			return messageType, c.readBuf.B, nil
		}
	}
}

// readFrameHeader decodes the fixed header, the extended length and the
// mask key of the next frame. Every client frame must be masked.
func (c *Conn) readFrameHeader() (fin bool, opcode int, n int64, key [4]byte, err error) {
	var b [8]byte
	if _, err = io.ReadFull(c.br, b[:2]); err != nil {
		return false, 0, 0, key, err
	}

	fin = b[0]&finBit != 0
	if b[0]&rsvMask != 0 {
		return false, 0, 0, key, c.failProto("nonzero RSV bits")
	}
	opcode = int(b[0] & 0x0f)

	if b[1]&maskBit == 0 {
		return false, 0, 0, key, c.failProto("unmasked client frame")
	}

	n = int64(b[1] &^ maskBit)
	switch n {
	case 126:
		if _, err = io.ReadFull(c.br, b[:2]); err != nil {
			return false, 0, 0, key, err
		}
		n = int64(binary.BigEndian.Uint16(b[:2]))
	case 127:
		if _, err = io.ReadFull(c.br, b[:8]); err != nil {
			return false, 0, 0, key, err
		}
		v := binary.BigEndian.Uint64(b[:8])
		if v > math.MaxInt64 {
			return false, 0, 0, key, c.failProto("frame length out of range")
		}
		n = int64(v)
	}

	if _, err = io.ReadFull(c.br, key[:]); err != nil {
		return false, 0, 0, key, err
	}
	return fin, opcode, n, key, nil
}

// appendFramePayload reads n payload bytes into the assembly buffer and
// unmasks them in place.
func (c *Conn) appendFramePayload(n int64, key [4]byte) error {
	b := c.readBuf.B
	off := len(b)
	need := off + int(n)
	if cap(b) < need {
		nb := make([]byte, need)
		copy(nb, b)
		b = nb
	} else {
		b = b[:need]
	}
	if _, err := io.ReadFull(c.br, b[off:]); err != nil {
		return err
	}
	maskBytes(key, b[off:])
	c.readBuf.B = b
	return nil
}

func (c *Conn) handleControl(opcode int, payload []byte) error {
	switch opcode {
	case PingMessage:
		return c.pingHandler(payload)
	case PongMessage:
		return c.pongHandler(payload)
	}

	closeCode := CloseNoStatusReceived
	text := ""
	switch {
	case len(payload) >= 2:
		closeCode = int(binary.BigEndian.Uint16(payload))
		text = string(payload[2:])
	case len(payload) == 1:
		return c.failProto("close frame with a 1-byte payload")
	}

	// Echo the close so the peer can finish its handshake, then surface
	// the close to the application.
	c.WriteControl(CloseMessage, FormatCloseMessage(closeCode, ""), time.Now().Add(closeWriteTimeout)) //nolint:errcheck
	return &CloseError{Code: closeCode, Text: text}
}

func (c *Conn) failProto(detail string) error {
	return c.failClose(CloseProtocolError, detail)
}

// failClose sends a best-effort close frame with the given code, poisons
// the read side and returns the violation error.
func (c *Conn) failClose(code int, detail string) error {
	c.WriteControl(CloseMessage, FormatCloseMessage(code, detail), time.Now().Add(closeWriteTimeout)) //nolint:errcheck
	err := fmt.Errorf("%w: %s", ErrProtocolViolation, detail)
	c.readErr = err
	return err
}

// WriteMessage sends a complete text or binary message as a single
// unmasked fin frame.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	if messageType != TextMessage && messageType != BinaryMessage {
		return fmt.Errorf("websocket: invalid data message type %d", messageType)
	}
	c.wmu.Lock()
	err := c.writeFrame(byte(messageType)|finBit, data)
	c.wmu.Unlock()
	return err
}

// WriteControl sends a control message with the given deadline. The payload
// must not exceed 125 bytes.
//
// WriteControl may be called concurrently with WriteMessage.
func (c *Conn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if messageType != CloseMessage && messageType != PingMessage && messageType != PongMessage {
		return fmt.Errorf("websocket: invalid control message type %d", messageType)
	}
	if len(data) > maxControlPayloadSize {
		return fmt.Errorf("websocket: control frame payload exceeds %d bytes", maxControlPayloadSize)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if !deadline.IsZero() {
		if err := c.c.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	err := c.writeFrame(byte(messageType)|finBit, data)
	if !deadline.IsZero() {
		c.c.SetWriteDeadline(c.writeDeadline) //nolint:errcheck
	}
	return err
}

// writeFrame emits one unmasked frame with minimal length encoding.
// Callers must hold wmu.
func (c *Conn) writeFrame(b0 byte, payload []byte) error {
	var header [10]byte
	header[0] = b0

	n := 2
	switch {
	case len(payload) < 126:
		header[1] = byte(len(payload))
	case len(payload) <= math.MaxUint16:
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:4], uint16(len(payload)))
		n = 4
	default:
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:10], uint64(len(payload)))
		n = 10
	}

	if _, err := c.bw.Write(header[:n]); err != nil {
		return err
	}
	if _, err := c.bw.Write(payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

// maskBytes XORs the 4-byte key cyclically over b, in place. Applying it
// to masked client payload recovers the clear bytes.
func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// FormatCloseMessage formats closeCode and text as a close frame payload.
// CloseNoStatusReceived maps to an empty payload, since that code is never
// put on the wire.
func FormatCloseMessage(closeCode int, text string) []byte {
	if closeCode == CloseNoStatusReceived {
		return []byte{}
	}
	buf := make([]byte, 2+len(text))
	binary.BigEndian.PutUint16(buf, uint16(closeCode))
	copy(buf[2:], text)
	return buf
}
