package httpkit

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// Parse errors returned by RequestHeader.Read. All of them are terminal for
// the connection: the server synthesizes an error response where possible
// and closes.
var (
	// ErrMalformedRequestLine is returned when the request line violates
	// the METHOD SP TARGET SP VERSION grammar, carries an unknown method
	// or an unsupported protocol version.
	ErrMalformedRequestLine = errors.New("malformed request line")

	// ErrMalformedHeader is returned when a header line cannot be parsed,
	// e.g. it contains no colon or an invalid header name.
	ErrMalformedHeader = errors.New("malformed header")

	// ErrInvalidContentLength is returned when Content-Length is negative,
	// non-numeric, duplicated with a different value, or conflicts with
	// Transfer-Encoding: chunked.
	ErrInvalidContentLength = errors.New("invalid Content-Length")

	// ErrHeaderTooLarge is returned when the request header block doesn't
	// fit into the read buffer (Server.ReadBufferSize).
	ErrHeaderTooLarge = errors.New("header block is too large")
)

// errNeedMore means the header block is incomplete and more bytes must be
// buffered before parsing can make progress.
var errNeedMore = errors.New("need more data: cannot find trailing lf")

// ErrNothingRead is returned when the connection was closed (or errored)
// before a single byte of the next request arrived. It distinguishes a
// quiet close between keep-alive requests from a truncated request.
type ErrNothingRead struct {
	error
}

// RequestHeader represents HTTP request header.
//
// It is forbidden copying RequestHeader instances.
// Create new instances instead and use CopyTo.
//
// RequestHeader instance must not be used from concurrently running
// goroutines.
type RequestHeader struct {
	disableNormalizing bool
	noHTTP11           bool
	connectionClose    bool

	// contentLength is -2 when neither Content-Length nor chunked
	// Transfer-Encoding was seen, -1 for chunked, >= 0 otherwise.
	contentLength      int
	contentLengthBytes []byte
	contentLengthSeen  bool
	chunkedSeen        bool

	method      []byte
	requestURI  []byte
	proto       []byte
	host        []byte
	userAgent   []byte
	contentType []byte

	h       []argsKV
	cookies []argsKV

	bufKV argsKV
}

// ResponseHeader represents HTTP response header.
//
// It is forbidden copying ResponseHeader instances.
// Create new instances instead and use CopyTo.
//
// ResponseHeader instance must not be used from concurrently running
// goroutines.
type ResponseHeader struct {
	disableNormalizing bool
	noHTTP11           bool
	connectionClose    bool

	statusCode         int
	statusMessage      []byte
	contentLength      int
	contentLengthBytes []byte

	contentType []byte
	server      []byte

	h       []argsKV
	cookies []argsKV

	bufKV argsKV
}

// SetContentLength sets Content-Length for the request.
func (h *RequestHeader) SetContentLength(contentLength int) {
	h.contentLength = contentLength
	if contentLength >= 0 {
		h.contentLengthBytes = AppendUint(h.contentLengthBytes[:0], contentLength)
	} else {
		h.contentLengthBytes = h.contentLengthBytes[:0]
	}
}

// ContentLength returns Content-Length header value.
//
// It may be negative:
// -1 means Transfer-Encoding: chunked.
// -2 means the request carries no body.
func (h *RequestHeader) ContentLength() int {
	return h.contentLength
}

// SetContentLength sets Content-Length for the response.
//
// Content-Length may be negative: -1 means the body is streamed with
// Transfer-Encoding: chunked.
func (h *ResponseHeader) SetContentLength(contentLength int) {
	h.contentLength = contentLength
	if contentLength >= 0 {
		h.contentLengthBytes = AppendUint(h.contentLengthBytes[:0], contentLength)
	} else {
		h.contentLengthBytes = h.contentLengthBytes[:0]
	}
}

// ContentLength returns Content-Length header value.
func (h *ResponseHeader) ContentLength() int {
	return h.contentLength
}

// isBodilessStatus reports whether responses with the given status code
// never carry a body (nor Content-Length) on the wire.
func isBodilessStatus(statusCode int) bool {
	return (statusCode >= 100 && statusCode <= 199) ||
		statusCode == StatusNoContent ||
		statusCode == StatusNotModified
}

func (h *ResponseHeader) mustSkipContentLength() bool {
	return isBodilessStatus(h.StatusCode())
}

// StatusCode returns response status code.
func (h *ResponseHeader) StatusCode() int {
	if h.statusCode == 0 {
		return StatusOK
	}
	return h.statusCode
}

// SetStatusCode sets response status code.
func (h *ResponseHeader) SetStatusCode(statusCode int) {
	h.statusCode = statusCode
}

// StatusMessage returns the response reason phrase.
//
// The canonical message for the status code is returned when no custom
// message was set.
func (h *ResponseHeader) StatusMessage() []byte {
	if len(h.statusMessage) > 0 {
		return h.statusMessage
	}
	return s2b(StatusMessage(h.StatusCode()))
}

// SetStatusMessage sets the response reason phrase.
func (h *ResponseHeader) SetStatusMessage(message []byte) {
	h.statusMessage = append(h.statusMessage[:0], message...)
}

// ConnectionClose returns true if 'Connection: close' header is set.
func (h *ResponseHeader) ConnectionClose() bool {
	return h.connectionClose
}

// SetConnectionClose sets 'Connection: close' header.
func (h *ResponseHeader) SetConnectionClose() {
	h.connectionClose = true
}

// ResetConnectionClose clears 'Connection: close' header if it is set.
func (h *ResponseHeader) ResetConnectionClose() {
	if h.connectionClose {
		h.connectionClose = false
		h.h = delAllArgs(h.h, strConnection)
	}
}

// ConnectionClose returns true if 'Connection: close' header is set.
func (h *RequestHeader) ConnectionClose() bool {
	return h.connectionClose
}

// SetConnectionClose sets 'Connection: close' header.
func (h *RequestHeader) SetConnectionClose() {
	h.connectionClose = true
}

// ConnectionUpgrade returns true if 'Connection' header contains 'Upgrade'.
func (h *RequestHeader) ConnectionUpgrade() bool {
	return hasHeaderValue(h.Peek(HeaderConnection), strUpgrade)
}

// ContentType returns Content-Type header value.
func (h *ResponseHeader) ContentType() []byte {
	contentType := h.contentType
	if len(contentType) == 0 {
		contentType = defaultContentType
	}
	return contentType
}

// SetContentType sets Content-Type header value.
func (h *ResponseHeader) SetContentType(contentType string) {
	h.contentType = append(h.contentType[:0], contentType...)
}

// SetContentTypeBytes sets Content-Type header value.
func (h *ResponseHeader) SetContentTypeBytes(contentType []byte) {
	h.contentType = append(h.contentType[:0], contentType...)
}

// Server returns Server header value.
func (h *ResponseHeader) Server() []byte {
	return h.server
}

// SetServer sets Server header value.
func (h *ResponseHeader) SetServer(server string) {
	h.server = append(h.server[:0], server...)
}

// SetServerBytes sets Server header value.
func (h *ResponseHeader) SetServerBytes(server []byte) {
	h.server = append(h.server[:0], server...)
}

// ContentEncoding returns Content-Encoding header value.
func (h *ResponseHeader) ContentEncoding() []byte {
	return h.peek(strContentEncoding)
}

// SetContentEncoding sets Content-Encoding header value.
func (h *ResponseHeader) SetContentEncoding(contentEncoding string) {
	h.bufKV.value = append(h.bufKV.value[:0], contentEncoding...)
	h.SetCanonical(strContentEncoding, h.bufKV.value)
}

// SetContentEncodingBytes sets Content-Encoding header value.
func (h *ResponseHeader) SetContentEncodingBytes(contentEncoding []byte) {
	h.SetCanonical(strContentEncoding, contentEncoding)
}

// addVaryBytes appends value to the 'Vary' header if it is not listed yet.
func (h *ResponseHeader) addVaryBytes(value []byte) {
	v := h.peek(strVary)
	if len(v) == 0 {
		h.SetCanonical(strVary, value)
		return
	}
	if bytes.Contains(v, value) {
		return
	}
	h.bufKV.value = append(h.bufKV.value[:0], v...)
	h.bufKV.value = append(h.bufKV.value, ',')
	h.bufKV.value = append(h.bufKV.value, value...)
	h.SetCanonical(strVary, h.bufKV.value)
}

// SetLastModified sets 'Last-Modified' header to the given value.
func (h *ResponseHeader) SetLastModified(t time.Time) {
	h.bufKV.value = AppendHTTPDate(h.bufKV.value[:0], t)
	h.SetCanonical(strLastModified, h.bufKV.value)
}

// ContentType returns Content-Type header value.
func (h *RequestHeader) ContentType() []byte {
	return h.contentType
}

// SetContentType sets Content-Type header value.
func (h *RequestHeader) SetContentType(contentType string) {
	h.contentType = append(h.contentType[:0], contentType...)
}

// SetContentTypeBytes sets Content-Type header value.
func (h *RequestHeader) SetContentTypeBytes(contentType []byte) {
	h.contentType = append(h.contentType[:0], contentType...)
}

// Host returns Host header value.
func (h *RequestHeader) Host() []byte {
	return h.host
}

// SetHost sets Host header value.
func (h *RequestHeader) SetHost(host string) {
	h.host = append(h.host[:0], host...)
}

// SetHostBytes sets Host header value.
func (h *RequestHeader) SetHostBytes(host []byte) {
	h.host = append(h.host[:0], host...)
}

// UserAgent returns User-Agent header value.
func (h *RequestHeader) UserAgent() []byte {
	return h.userAgent
}

// SetUserAgent sets User-Agent header value.
func (h *RequestHeader) SetUserAgent(userAgent string) {
	h.userAgent = append(h.userAgent[:0], userAgent...)
}

// SetUserAgentBytes sets User-Agent header value.
func (h *RequestHeader) SetUserAgentBytes(userAgent []byte) {
	h.userAgent = append(h.userAgent[:0], userAgent...)
}

// Method returns HTTP request method.
func (h *RequestHeader) Method() []byte {
	if len(h.method) == 0 {
		return strGet
	}
	return h.method
}

// SetMethod sets HTTP request method.
func (h *RequestHeader) SetMethod(method string) {
	h.method = append(h.method[:0], method...)
}

// SetMethodBytes sets HTTP request method.
func (h *RequestHeader) SetMethodBytes(method []byte) {
	h.method = append(h.method[:0], method...)
}

// Protocol returns the HTTP protocol version of the request.
func (h *RequestHeader) Protocol() []byte {
	if len(h.proto) == 0 {
		return strHTTP11
	}
	return h.proto
}

// IsHTTP11 returns true if the request is sent via HTTP/1.1.
func (h *RequestHeader) IsHTTP11() bool {
	return !h.noHTTP11
}

// RequestURI returns RequestURI from the first HTTP request line.
func (h *RequestHeader) RequestURI() []byte {
	requestURI := h.requestURI
	if len(requestURI) == 0 {
		requestURI = strSlash
	}
	return requestURI
}

// SetRequestURI sets RequestURI for the first HTTP request line.
//
// RequestURI must be properly encoded. The core never percent-decodes it.
func (h *RequestHeader) SetRequestURI(requestURI string) {
	h.requestURI = append(h.requestURI[:0], requestURI...)
}

// SetRequestURIBytes sets RequestURI for the first HTTP request line.
func (h *RequestHeader) SetRequestURIBytes(requestURI []byte) {
	h.requestURI = append(h.requestURI[:0], requestURI...)
}

// IsGet returns true if request method is GET.
func (h *RequestHeader) IsGet() bool {
	return bytes.Equal(h.Method(), strGet)
}

// IsPost returns true if request method is POST.
func (h *RequestHeader) IsPost() bool {
	return bytes.Equal(h.Method(), strPost)
}

// IsHead returns true if request method is HEAD.
func (h *RequestHeader) IsHead() bool {
	return bytes.Equal(h.Method(), strHead)
}

func (h *RequestHeader) ignoreBody() bool {
	return h.IsGet() || h.IsHead()
}

// HasAcceptEncoding returns true if the header contains
// the given Accept-Encoding value.
func (h *RequestHeader) HasAcceptEncoding(acceptEncoding string) bool {
	h.bufKV.value = append(h.bufKV.value[:0], acceptEncoding...)
	return h.HasAcceptEncodingBytes(h.bufKV.value)
}

// HasAcceptEncodingBytes returns true if the header contains
// the given Accept-Encoding value.
func (h *RequestHeader) HasAcceptEncodingBytes(acceptEncoding []byte) bool {
	ae := h.peek(strAcceptEncoding)
	n := bytes.Index(ae, acceptEncoding)
	if n < 0 {
		return false
	}
	b := ae[n+len(acceptEncoding):]
	if len(b) > 0 && b[0] != ',' {
		return false
	}
	if n == 0 {
		return true
	}
	return ae[n-1] == ' '
}

// Reset clears request header.
func (h *RequestHeader) Reset() {
	h.disableNormalizing = false
	h.resetSkipNormalize()
}

func (h *RequestHeader) resetSkipNormalize() {
	h.noHTTP11 = false
	h.connectionClose = false

	h.contentLength = -2
	h.contentLengthBytes = h.contentLengthBytes[:0]
	h.contentLengthSeen = false
	h.chunkedSeen = false

	h.method = h.method[:0]
	h.requestURI = h.requestURI[:0]
	h.proto = h.proto[:0]
	h.host = h.host[:0]
	h.userAgent = h.userAgent[:0]
	h.contentType = h.contentType[:0]

	h.h = h.h[:0]
	h.cookies = h.cookies[:0]
}

// Reset clears response header.
func (h *ResponseHeader) Reset() {
	h.disableNormalizing = false
	h.noHTTP11 = false
	h.connectionClose = false

	h.statusCode = 0
	h.statusMessage = h.statusMessage[:0]
	h.contentLength = 0
	h.contentLengthBytes = h.contentLengthBytes[:0]

	h.contentType = h.contentType[:0]
	h.server = h.server[:0]

	h.h = h.h[:0]
	h.cookies = h.cookies[:0]
}

// CopyTo copies all the header fields to dst.
func (h *RequestHeader) CopyTo(dst *RequestHeader) {
	dst.Reset()

	dst.disableNormalizing = h.disableNormalizing
	dst.noHTTP11 = h.noHTTP11
	dst.connectionClose = h.connectionClose

	dst.contentLength = h.contentLength
	dst.contentLengthBytes = append(dst.contentLengthBytes[:0], h.contentLengthBytes...)
	dst.contentLengthSeen = h.contentLengthSeen
	dst.chunkedSeen = h.chunkedSeen
	dst.method = append(dst.method[:0], h.method...)
	dst.requestURI = append(dst.requestURI[:0], h.requestURI...)
	dst.proto = append(dst.proto[:0], h.proto...)
	dst.host = append(dst.host[:0], h.host...)
	dst.userAgent = append(dst.userAgent[:0], h.userAgent...)
	dst.contentType = append(dst.contentType[:0], h.contentType...)
	dst.h = copyArgs(dst.h, h.h)
	dst.cookies = copyArgs(dst.cookies, h.cookies)
}

// CopyTo copies all the header fields to dst.
func (h *ResponseHeader) CopyTo(dst *ResponseHeader) {
	dst.Reset()

	dst.disableNormalizing = h.disableNormalizing
	dst.noHTTP11 = h.noHTTP11
	dst.connectionClose = h.connectionClose

	dst.statusCode = h.statusCode
	dst.statusMessage = append(dst.statusMessage[:0], h.statusMessage...)
	dst.contentLength = h.contentLength
	dst.contentLengthBytes = append(dst.contentLengthBytes[:0], h.contentLengthBytes...)
	dst.contentType = append(dst.contentType[:0], h.contentType...)
	dst.server = append(dst.server[:0], h.server...)
	dst.h = copyArgs(dst.h, h.h)
	dst.cookies = copyArgs(dst.cookies, h.cookies)
}

// VisitAll calls f for each header except Content-Length.
//
// The Content-Length value is managed by the writer. f must not retain
// references to key and/or value after returning.
func (h *ResponseHeader) VisitAll(f func(key, value []byte)) {
	contentType := h.ContentType()
	if len(contentType) > 0 {
		f(strContentType, contentType)
	}
	server := h.Server()
	if len(server) > 0 {
		f(strServer, server)
	}
	visitArgs(h.h, f)
	if len(h.cookies) > 0 {
		visitArgs(h.cookies, func(_, v []byte) {
			f(strSetCookie, v)
		})
	}
	if h.ConnectionClose() {
		f(strConnection, strClose)
	}
}

// VisitAllCookie calls f for each response cookie.
//
// Cookie name is passed in key and the whole Set-Cookie value is passed
// in value.
func (h *ResponseHeader) VisitAllCookie(f func(key, value []byte)) {
	visitArgs(h.cookies, f)
}

// VisitAllCookie calls f for each request cookie.
func (h *RequestHeader) VisitAllCookie(f func(key, value []byte)) {
	visitArgs(h.cookies, f)
}

// VisitAll calls f for each header.
//
// f must not retain references to key and/or value after returning.
func (h *RequestHeader) VisitAll(f func(key, value []byte)) {
	host := h.Host()
	if len(host) > 0 {
		f(strHost, host)
	}
	if h.contentLength >= 0 && len(h.contentLengthBytes) > 0 {
		f(strContentLength, h.contentLengthBytes)
	}
	contentType := h.ContentType()
	if len(contentType) > 0 {
		f(strContentType, contentType)
	}
	userAgent := h.UserAgent()
	if len(userAgent) > 0 {
		f(strUserAgent, userAgent)
	}
	visitArgs(h.h, f)
	if len(h.cookies) > 0 {
		h.bufKV.value = appendRequestCookieBytes(h.bufKV.value[:0], h.cookies)
		f(strCookie, h.bufKV.value)
	}
	if h.ConnectionClose() {
		f(strConnection, strClose)
	}
}

// Len returns the number of headers VisitAll would report.
func (h *ResponseHeader) Len() int {
	n := 0
	h.VisitAll(func(_, _ []byte) { n++ })
	return n
}

// Len returns the number of headers VisitAll would report.
func (h *RequestHeader) Len() int {
	n := 0
	h.VisitAll(func(_, _ []byte) { n++ })
	return n
}

// Del deletes header with the given key.
func (h *ResponseHeader) Del(key string) {
	k := getHeaderKeyBytes(&h.bufKV, key, h.disableNormalizing)
	h.del(k)
}

// DelBytes deletes header with the given key.
func (h *ResponseHeader) DelBytes(key []byte) {
	h.bufKV.key = append(h.bufKV.key[:0], key...)
	normalizeHeaderKey(h.bufKV.key, h.disableNormalizing)
	h.del(h.bufKV.key)
}

func (h *ResponseHeader) del(key []byte) {
	switch string(key) {
	case HeaderContentType:
		h.contentType = h.contentType[:0]
	case HeaderServer:
		h.server = h.server[:0]
	case HeaderSetCookie:
		h.cookies = h.cookies[:0]
	case HeaderContentLength:
		h.contentLength = 0
		h.contentLengthBytes = h.contentLengthBytes[:0]
	case HeaderConnection:
		h.connectionClose = false
	}
	h.h = delAllArgs(h.h, key)
}

// Del deletes header with the given key.
func (h *RequestHeader) Del(key string) {
	k := getHeaderKeyBytes(&h.bufKV, key, h.disableNormalizing)
	h.del(k)
}

// DelBytes deletes header with the given key.
func (h *RequestHeader) DelBytes(key []byte) {
	h.bufKV.key = append(h.bufKV.key[:0], key...)
	normalizeHeaderKey(h.bufKV.key, h.disableNormalizing)
	h.del(h.bufKV.key)
}

func (h *RequestHeader) del(key []byte) {
	switch string(key) {
	case HeaderHost:
		h.host = h.host[:0]
	case HeaderContentType:
		h.contentType = h.contentType[:0]
	case HeaderUserAgent:
		h.userAgent = h.userAgent[:0]
	case HeaderCookie:
		h.cookies = h.cookies[:0]
	case HeaderContentLength:
		h.contentLength = -2
		h.contentLengthBytes = h.contentLengthBytes[:0]
	case HeaderConnection:
		h.connectionClose = false
	}
	h.h = delAllArgs(h.h, key)
}

// Set sets the given 'key: value' header.
//
// CR and LF in the value are replaced with spaces, so attacker-controlled
// values cannot inject additional header lines.
func (h *ResponseHeader) Set(key, value string) {
	k := getHeaderKeyBytes(&h.bufKV, key, h.disableNormalizing)
	h.bufKV.value = append(h.bufKV.value[:0], value...)
	h.bufKV.value = removeNewLines(h.bufKV.value)
	h.SetCanonical(k, h.bufKV.value)
}

// SetBytesKV sets the given 'key: value' header.
func (h *ResponseHeader) SetBytesKV(key, value []byte) {
	h.bufKV.key = append(h.bufKV.key[:0], key...)
	normalizeHeaderKey(h.bufKV.key, h.disableNormalizing)
	h.SetCanonical(h.bufKV.key, value)
}

// SetCanonical sets the given 'key: value' header assuming that the key
// is in canonical form.
func (h *ResponseHeader) SetCanonical(key, value []byte) {
	switch string(key) {
	case HeaderContentType:
		h.SetContentTypeBytes(value)
	case HeaderServer:
		h.SetServerBytes(value)
	case HeaderSetCookie:
		var kv *argsKV
		h.cookies, kv = allocArg(h.cookies)
		kv.key = getCookieKey(kv.key, value)
		kv.value = append(kv.value[:0], value...)
	case HeaderContentLength:
		if contentLength, err := parseContentLength(value); err == nil {
			h.contentLength = contentLength
			h.contentLengthBytes = append(h.contentLengthBytes[:0], value...)
		}
	case HeaderConnection:
		if bytes.Equal(strClose, value) {
			h.SetConnectionClose()
		} else {
			h.ResetConnectionClose()
			h.h = setArg(h.h, key, value)
		}
	case HeaderTransferEncoding, HeaderDate:
		// managed by the response writer
	default:
		h.h = setArg(h.h, key, value)
	}
}

// Add adds the given 'key: value' header.
//
// Multiple headers with the same key may be added with this function.
// Use Set for setting a single header for the given key.
func (h *ResponseHeader) Add(key, value string) {
	k := getHeaderKeyBytes(&h.bufKV, key, h.disableNormalizing)
	if string(k) == HeaderSetCookie ||
		string(k) == HeaderContentType ||
		string(k) == HeaderServer ||
		string(k) == HeaderContentLength ||
		string(k) == HeaderConnection {
		h.bufKV.value = append(h.bufKV.value[:0], value...)
		h.SetCanonical(k, h.bufKV.value)
		return
	}
	h.h = appendArg(h.h, k, s2b(value))
}

// Set sets the given 'key: value' header.
//
// CR and LF in the value are replaced with spaces, so attacker-controlled
// values cannot inject additional header lines.
func (h *RequestHeader) Set(key, value string) {
	k := getHeaderKeyBytes(&h.bufKV, key, h.disableNormalizing)
	h.bufKV.value = append(h.bufKV.value[:0], value...)
	h.bufKV.value = removeNewLines(h.bufKV.value)
	h.SetCanonical(k, h.bufKV.value)
}

// SetBytesKV sets the given 'key: value' header.
func (h *RequestHeader) SetBytesKV(key, value []byte) {
	h.bufKV.key = append(h.bufKV.key[:0], key...)
	normalizeHeaderKey(h.bufKV.key, h.disableNormalizing)
	h.SetCanonical(h.bufKV.key, value)
}

// SetCanonical sets the given 'key: value' header assuming that the key
// is in canonical form.
func (h *RequestHeader) SetCanonical(key, value []byte) {
	switch string(key) {
	case HeaderHost:
		h.SetHostBytes(value)
	case HeaderContentType:
		h.SetContentTypeBytes(value)
	case HeaderUserAgent:
		h.SetUserAgentBytes(value)
	case HeaderCookie:
		h.cookies = h.cookies[:0]
		h.cookies = parseRequestCookies(h.cookies, value)
	case HeaderContentLength:
		if contentLength, err := parseContentLength(value); err == nil {
			h.contentLength = contentLength
			h.contentLengthBytes = append(h.contentLengthBytes[:0], value...)
		}
	case HeaderConnection:
		if bytes.Equal(strClose, value) {
			h.SetConnectionClose()
		} else {
			h.connectionClose = false
			h.h = setArg(h.h, key, value)
		}
	case HeaderTransferEncoding:
		// managed by the request writer
	default:
		h.h = setArg(h.h, key, value)
	}
}

// Add adds the given 'key: value' header.
//
// Multiple headers with the same key may be added with this function.
// Use Set for setting a single header for the given key.
func (h *RequestHeader) Add(key, value string) {
	k := getHeaderKeyBytes(&h.bufKV, key, h.disableNormalizing)
	if string(k) == HeaderHost ||
		string(k) == HeaderContentType ||
		string(k) == HeaderUserAgent ||
		string(k) == HeaderCookie ||
		string(k) == HeaderContentLength ||
		string(k) == HeaderConnection {
		h.bufKV.value = append(h.bufKV.value[:0], value...)
		h.SetCanonical(k, h.bufKV.value)
		return
	}
	h.h = appendArg(h.h, k, s2b(value))
}

// Peek returns header value for the given key.
//
// The returned value is valid until the next call to the header object.
func (h *ResponseHeader) Peek(key string) []byte {
	k := getHeaderKeyBytes(&h.bufKV, key, h.disableNormalizing)
	return h.peek(k)
}

// PeekBytes returns header value for the given key.
func (h *ResponseHeader) PeekBytes(key []byte) []byte {
	h.bufKV.key = append(h.bufKV.key[:0], key...)
	normalizeHeaderKey(h.bufKV.key, h.disableNormalizing)
	return h.peek(h.bufKV.key)
}

func (h *ResponseHeader) peek(key []byte) []byte {
	switch string(key) {
	case HeaderContentType:
		return h.ContentType()
	case HeaderServer:
		return h.Server()
	case HeaderConnection:
		if h.ConnectionClose() {
			return strClose
		}
		return peekArgBytes(h.h, key)
	case HeaderContentLength:
		return h.contentLengthBytes
	default:
		return peekArgBytes(h.h, key)
	}
}

// Peek returns header value for the given key.
//
// The returned value is valid until the next call to the header object.
func (h *RequestHeader) Peek(key string) []byte {
	k := getHeaderKeyBytes(&h.bufKV, key, h.disableNormalizing)
	return h.peek(k)
}

// PeekBytes returns header value for the given key.
func (h *RequestHeader) PeekBytes(key []byte) []byte {
	h.bufKV.key = append(h.bufKV.key[:0], key...)
	normalizeHeaderKey(h.bufKV.key, h.disableNormalizing)
	return h.peek(h.bufKV.key)
}

func (h *RequestHeader) peek(key []byte) []byte {
	switch string(key) {
	case HeaderHost:
		return h.Host()
	case HeaderContentType:
		return h.ContentType()
	case HeaderUserAgent:
		return h.UserAgent()
	case HeaderConnection:
		if h.ConnectionClose() {
			return strClose
		}
		return peekArgBytes(h.h, key)
	case HeaderContentLength:
		return h.contentLengthBytes
	case HeaderCookie:
		if len(h.cookies) > 0 {
			h.bufKV.value = appendRequestCookieBytes(h.bufKV.value[:0], h.cookies)
			return h.bufKV.value
		}
		return nil
	default:
		return peekArgBytes(h.h, key)
	}
}

// Cookie returns cookie for the given key.
func (h *RequestHeader) Cookie(key string) []byte {
	return peekArgStr(h.cookies, key)
}

// CookieBytes returns cookie for the given key.
func (h *RequestHeader) CookieBytes(key []byte) []byte {
	return peekArgBytes(h.cookies, key)
}

// SetCookie sets 'key: value' cookies.
func (h *RequestHeader) SetCookie(key, value string) {
	h.bufKV.key = append(h.bufKV.key[:0], key...)
	h.bufKV.value = append(h.bufKV.value[:0], value...)
	h.cookies = setArg(h.cookies, h.bufKV.key, h.bufKV.value)
}

// DelCookie deletes cookie with the given key.
func (h *RequestHeader) DelCookie(key string) {
	h.bufKV.key = append(h.bufKV.key[:0], key...)
	h.cookies = delAllArgs(h.cookies, h.bufKV.key)
}

// DelAllCookies deletes all the cookies.
func (h *RequestHeader) DelAllCookies() {
	h.cookies = h.cookies[:0]
}

// SetCookie sets the given response cookie.
func (h *ResponseHeader) SetCookie(cookie *Cookie) {
	h.cookies = setArg(h.cookies, cookie.Key(), cookie.Cookie())
}

// Cookie fills cookie for the given cookie.Key.
//
// It returns false if cookie with the given cookie.Key is missing.
func (h *ResponseHeader) Cookie(cookie *Cookie) bool {
	v := peekArgBytes(h.cookies, cookie.Key())
	if v == nil {
		return false
	}
	cookie.ParseBytes(v) //nolint:errcheck
	return true
}

// DelAllCookies deletes all the cookies.
func (h *ResponseHeader) DelAllCookies() {
	h.cookies = h.cookies[:0]
}

// Read reads response header from r.
//
// io.EOF is returned if r is closed before reading the first header byte.
func (h *ResponseHeader) Read(r *bufio.Reader) error {
	n := 1
	for {
		err := h.tryRead(r, n)
		if err == nil {
			return nil
		}
		if err != errNeedMore {
			h.Reset()
			return err
		}
		n = r.Buffered() + 1
	}
}

func (h *ResponseHeader) tryRead(r *bufio.Reader, n int) error {
	h.Reset()
	b, err := r.Peek(n)
	if len(b) == 0 {
		if err == io.EOF {
			return err
		}
		if err == nil {
			panic("bufio.Reader.Peek() returned nil, nil")
		}
		return fmt.Errorf("error when reading response headers: %w", err)
	}
	b = mustPeekBuffered(r)
	headersLen, errParse := h.parse(b)
	if errParse != nil {
		return headerError("response", err, errParse, b)
	}
	mustDiscard(r, headersLen)
	return nil
}

// Read reads request header from r.
//
// ErrNothingRead is returned if r is closed (or errors) before a single
// header byte was read; this signals a quiet close between requests.
func (h *RequestHeader) Read(r *bufio.Reader) error {
	n := 1
	for {
		err := h.tryRead(r, n)
		if err == nil {
			return nil
		}
		if err != errNeedMore {
			h.resetSkipNormalize()
			return err
		}
		n = r.Buffered() + 1
	}
}

func (h *RequestHeader) tryRead(r *bufio.Reader, n int) error {
	h.resetSkipNormalize()
	b, err := r.Peek(n)
	if len(b) == 0 {
		if err == nil {
			panic("bufio.Reader.Peek() returned nil, nil")
		}
		// The caller didn't read a single byte: the connection was
		// closed (or errored) while idle.
		return ErrNothingRead{err}
	}
	b = mustPeekBuffered(r)
	headersLen, errParse := h.parse(b)
	if errParse != nil {
		return headerError("request", err, errParse, b)
	}
	mustDiscard(r, headersLen)
	return nil
}

func headerError(typ string, err, errParse error, b []byte) error {
	if errParse != errNeedMore {
		return headerErrorMsg(typ, errParse, b)
	}
	if err == nil {
		return errNeedMore
	}
	if err == bufio.ErrBufferFull {
		// The block doesn't fit into the read buffer.
		return fmt.Errorf("%w: %s", ErrHeaderTooLarge, headerErrorMsg(typ, err, b))
	}
	if err == io.EOF {
		// The peer closed mid-block.
		err = io.ErrUnexpectedEOF
		return fmt.Errorf("error when reading %s headers: %w", typ, err)
	}
	return headerErrorMsg(typ, err, b)
}

func headerErrorMsg(typ string, err error, b []byte) error {
	return fmt.Errorf("error when reading %s headers: %w. Buffer size=%d, contents: %s", typ, err, len(b), bufferSnippet(b))
}

func bufferSnippet(b []byte) string {
	n := len(b)
	start := 200
	end := n - start
	if start >= end {
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("%q...%q", b[:start], b[end:])
}

func (h *RequestHeader) parse(buf []byte) (int, error) {
	m, err := h.parseFirstLine(buf)
	if err != nil {
		return 0, err
	}
	n, err := h.parseHeaders(buf[m:])
	if err != nil {
		return 0, err
	}
	return m + n, nil
}

func (h *ResponseHeader) parse(buf []byte) (int, error) {
	m, err := h.parseFirstLine(buf)
	if err != nil {
		return 0, err
	}
	n, err := h.parseHeaders(buf[m:])
	if err != nil {
		return 0, err
	}
	return m + n, nil
}

func (h *RequestHeader) parseFirstLine(buf []byte) (int, error) {
	bNext := buf
	var b []byte
	var err error
	// Skip any empty lines preceding the request line.
	for len(b) == 0 {
		if b, bNext, err = nextLine(bNext); err != nil {
			return 0, err
		}
	}

	n := bytes.IndexByte(b, ' ')
	if n <= 0 {
		return 0, fmt.Errorf("%w: cannot find http method in %q", ErrMalformedRequestLine, b)
	}
	method := b[:n]
	if !isKnownMethod(method) {
		return 0, fmt.Errorf("%w: unknown method %q", ErrMalformedRequestLine, method)
	}
	h.method = append(h.method[:0], method...)
	b = b[n+1:]

	n = bytes.LastIndexByte(b, ' ')
	if n < 0 {
		return 0, fmt.Errorf("%w: cannot find http version in %q", ErrMalformedRequestLine, b)
	}
	proto := b[n+1:]
	switch {
	case bytes.Equal(proto, strHTTP11):
	case bytes.Equal(proto, strHTTP10):
		h.noHTTP11 = true
	default:
		return 0, fmt.Errorf("%w: unsupported http version %q", ErrMalformedRequestLine, proto)
	}
	h.proto = append(h.proto[:0], proto...)

	requestURI := b[:n]
	if len(requestURI) == 0 || bytes.IndexByte(requestURI, ' ') >= 0 {
		return 0, fmt.Errorf("%w: invalid request target in %q", ErrMalformedRequestLine, b)
	}
	h.requestURI = append(h.requestURI[:0], requestURI...)

	return len(buf) - len(bNext), nil
}

func (h *ResponseHeader) parseFirstLine(buf []byte) (int, error) {
	bNext := buf
	var b []byte
	var err error
	for len(b) == 0 {
		if b, bNext, err = nextLine(bNext); err != nil {
			return 0, err
		}
	}

	// parse protocol
	n := bytes.IndexByte(b, ' ')
	if n < 0 {
		return 0, fmt.Errorf("cannot find whitespace in the first line of response %q", b)
	}
	switch {
	case bytes.Equal(b[:n], strHTTP11):
	case bytes.Equal(b[:n], strHTTP10):
		h.noHTTP11 = true
	default:
		return 0, fmt.Errorf("unsupported response protocol %q", b[:n])
	}
	b = b[n+1:]

	// parse status code
	var statusCode int
	statusCode, n, err = parseUintBuf(b)
	if err != nil {
		return 0, fmt.Errorf("cannot parse response status code: %w. Response %q", err, buf)
	}
	h.statusCode = statusCode
	if len(b) > n && b[n] != ' ' {
		return 0, fmt.Errorf("unexpected char at the end of status code. Response %q", buf)
	}
	if len(b) > n+1 {
		h.statusMessage = append(h.statusMessage[:0], b[n+1:]...)
	}

	return len(buf) - len(bNext), nil
}

func (h *RequestHeader) parseHeaders(buf []byte) (int, error) {
	h.contentLength = -2

	var s headerScanner
	s.b = buf
	for s.next() {
		normalizeHeaderKey(s.key, h.disableNormalizing)
		if len(s.key) == 0 {
			continue
		}

		switch s.key[0] | 0x20 {
		case 'h':
			if caseInsensitiveCompare(s.key, strHost) {
				h.host = append(h.host[:0], s.value...)
				continue
			}
		case 'u':
			if caseInsensitiveCompare(s.key, strUserAgent) {
				h.userAgent = append(h.userAgent[:0], s.value...)
				continue
			}
		case 'c':
			if caseInsensitiveCompare(s.key, strContentType) {
				h.contentType = append(h.contentType[:0], s.value...)
				continue
			}
			if caseInsensitiveCompare(s.key, strContentLength) {
				if err := h.parseContentLengthHeader(s.value); err != nil {
					return 0, err
				}
				continue
			}
			if caseInsensitiveCompare(s.key, strConnection) {
				if bytes.Equal(s.value, strClose) {
					h.connectionClose = true
				} else {
					h.connectionClose = false
					h.h = appendArg(h.h, s.key, s.value)
				}
				continue
			}
			if caseInsensitiveCompare(s.key, strCookie) {
				h.cookies = parseRequestCookies(h.cookies, s.value)
				continue
			}
		case 't':
			if caseInsensitiveCompare(s.key, strTransferEncoding) {
				if err := h.parseTransferEncodingHeader(s.value); err != nil {
					return 0, err
				}
				continue
			}
		}
		h.h = appendArg(h.h, s.key, s.value)
	}
	if s.err != nil {
		h.connectionClose = true
		return 0, s.err
	}

	if h.contentLength < 0 {
		h.contentLengthBytes = h.contentLengthBytes[:0]
	}
	if h.noHTTP11 && !h.connectionClose {
		// HTTP/1.0 closes by default unless keep-alive was requested.
		v := peekArgBytes(h.h, strConnection)
		h.connectionClose = !hasHeaderValue(v, strKeepAlive)
	}
	return s.r, nil
}

func (h *RequestHeader) parseContentLengthHeader(value []byte) error {
	if h.chunkedSeen {
		return fmt.Errorf("%w: both Content-Length and chunked Transfer-Encoding are set", ErrInvalidContentLength)
	}
	if h.contentLengthSeen {
		return fmt.Errorf("%w: duplicate Content-Length header", ErrInvalidContentLength)
	}
	h.contentLengthSeen = true

	var err error
	if h.contentLength, err = parseContentLength(value); err != nil {
		return err
	}
	h.contentLengthBytes = append(h.contentLengthBytes[:0], value...)
	return nil
}

func (h *RequestHeader) parseTransferEncodingHeader(value []byte) error {
	if caseInsensitiveCompare(value, strIdentity) {
		return nil
	}
	if !caseInsensitiveCompare(value, strChunked) {
		return fmt.Errorf("%w: unsupported Transfer-Encoding %q", ErrInvalidContentLength, value)
	}
	if h.contentLengthSeen {
		return fmt.Errorf("%w: both Content-Length and chunked Transfer-Encoding are set", ErrInvalidContentLength)
	}
	h.chunkedSeen = true
	h.contentLength = -1
	return nil
}

func (h *ResponseHeader) parseHeaders(buf []byte) (int, error) {
	h.contentLength = -2

	var s headerScanner
	s.b = buf
	for s.next() {
		normalizeHeaderKey(s.key, h.disableNormalizing)
		if len(s.key) == 0 {
			continue
		}

		switch s.key[0] | 0x20 {
		case 'c':
			if caseInsensitiveCompare(s.key, strContentType) {
				h.contentType = append(h.contentType[:0], s.value...)
				continue
			}
			if caseInsensitiveCompare(s.key, strContentLength) {
				// Once chunked Transfer-Encoding was seen, a declared
				// Content-Length is ignored.
				if h.contentLength != -1 {
					var err error
					if h.contentLength, err = parseContentLength(s.value); err != nil {
						return 0, err
					}
					h.contentLengthBytes = append(h.contentLengthBytes[:0], s.value...)
				}
				continue
			}
			if caseInsensitiveCompare(s.key, strConnection) {
				if bytes.Equal(s.value, strClose) {
					h.connectionClose = true
				} else {
					h.connectionClose = false
					h.h = appendArg(h.h, s.key, s.value)
				}
				continue
			}
		case 's':
			if caseInsensitiveCompare(s.key, strServer) {
				h.server = append(h.server[:0], s.value...)
				continue
			}
			if caseInsensitiveCompare(s.key, strSetCookie) {
				var kv *argsKV
				h.cookies, kv = allocArg(h.cookies)
				kv.key = getCookieKey(kv.key, s.value)
				kv.value = append(kv.value[:0], s.value...)
				continue
			}
		case 't':
			if caseInsensitiveCompare(s.key, strTransferEncoding) {
				if len(s.value) > 0 && !caseInsensitiveCompare(s.value, strIdentity) {
					h.contentLength = -1
				}
				continue
			}
		}
		h.h = appendArg(h.h, s.key, s.value)
	}
	if s.err != nil {
		h.connectionClose = true
		return 0, s.err
	}

	if h.contentLength < 0 {
		h.contentLengthBytes = h.contentLengthBytes[:0]
	}
	if h.contentLength == -2 && !h.ConnectionUpgrade() && !h.mustSkipContentLength() {
		// An identity response without a declared length is terminated
		// by connection close.
		h.h = setArg(h.h, strTransferEncoding, strIdentity)
		h.connectionClose = true
	}
	if h.noHTTP11 && !h.connectionClose {
		v := peekArgBytes(h.h, strConnection)
		h.connectionClose = !hasHeaderValue(v, strKeepAlive)
	}
	return s.r, nil
}

// ConnectionUpgrade returns true if 'Connection' header contains 'Upgrade'.
func (h *ResponseHeader) ConnectionUpgrade() bool {
	return hasHeaderValue(peekArgBytes(h.h, strConnection), strUpgrade)
}

func parseContentLength(b []byte) (int, error) {
	v, n, err := parseUintBuf(b)
	if err != nil {
		return -1, fmt.Errorf("%w: %s", ErrInvalidContentLength, err)
	}
	if n != len(b) {
		return -1, fmt.Errorf("%w: non-numeric chars at the end of Content-Length", ErrInvalidContentLength)
	}
	return v, nil
}

func nextLine(b []byte) ([]byte, []byte, error) {
	nNext := bytes.IndexByte(b, '\n')
	if nNext < 0 {
		return nil, nil, errNeedMore
	}
	n := nNext
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return b[:n], b[nNext+1:], nil
}

// Write writes response header to w.
func (h *ResponseHeader) Write(w *bufio.Writer) error {
	_, err := w.Write(h.Header())
	return err
}

// WriteTo writes response header to w.
//
// WriteTo implements io.WriterTo interface.
func (h *ResponseHeader) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(h.Header())
	return int64(n), err
}

// Header returns response header representation.
//
// The returned value is valid until the next call to ResponseHeader methods.
func (h *ResponseHeader) Header() []byte {
	h.bufKV.value = h.AppendBytes(h.bufKV.value[:0])
	return h.bufKV.value
}

// String returns response header representation.
func (h *ResponseHeader) String() string {
	return string(h.Header())
}

// AppendBytes appends response header representation to dst and returns
// the extended dst.
func (h *ResponseHeader) AppendBytes(dst []byte) []byte {
	statusCode := h.StatusCode()
	dst = formatStatusLine(dst, strHTTP11, statusCode, h.StatusMessage())

	server := h.Server()
	if len(server) != 0 {
		dst = appendHeaderLine(dst, strServer, server)
	}
	dst = appendHeaderLine(dst, strDate, getServerDate())

	skipBody := h.mustSkipContentLength()
	if !skipBody {
		dst = appendHeaderLine(dst, strContentType, h.ContentType())
		if h.contentLength >= 0 && len(h.contentLengthBytes) > 0 {
			dst = appendHeaderLine(dst, strContentLength, h.contentLengthBytes)
		} else if h.contentLength == -1 {
			dst = appendHeaderLine(dst, strTransferEncoding, strChunked)
		}
	}

	for i, n := 0, len(h.h); i < n; i++ {
		kv := &h.h[i]
		if !bytes.Equal(kv.key, strDate) {
			dst = appendHeaderLine(dst, kv.key, kv.value)
		}
	}

	n := len(h.cookies)
	for i := 0; i < n; i++ {
		kv := &h.cookies[i]
		dst = appendHeaderLine(dst, strSetCookie, kv.value)
	}

	if h.ConnectionClose() {
		dst = appendHeaderLine(dst, strConnection, strClose)
	}

	return append(dst, strCRLF...)
}

// Write writes request header to w.
func (h *RequestHeader) Write(w *bufio.Writer) error {
	_, err := w.Write(h.Header())
	return err
}

// WriteTo writes request header to w.
//
// WriteTo implements io.WriterTo interface.
func (h *RequestHeader) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(h.Header())
	return int64(n), err
}

// Header returns request header representation.
//
// The returned value is valid until the next call to RequestHeader methods.
func (h *RequestHeader) Header() []byte {
	h.bufKV.value = h.AppendBytes(h.bufKV.value[:0])
	return h.bufKV.value
}

// String returns request header representation.
func (h *RequestHeader) String() string {
	return string(h.Header())
}

// AppendBytes appends request header representation to dst and returns
// the extended dst.
func (h *RequestHeader) AppendBytes(dst []byte) []byte {
	dst = append(dst, h.Method()...)
	dst = append(dst, ' ')
	dst = append(dst, h.RequestURI()...)
	dst = append(dst, ' ')
	dst = append(dst, h.Protocol()...)
	dst = append(dst, strCRLF...)

	host := h.Host()
	if len(host) > 0 {
		dst = appendHeaderLine(dst, strHost, host)
	}
	userAgent := h.UserAgent()
	if len(userAgent) > 0 {
		dst = appendHeaderLine(dst, strUserAgent, userAgent)
	}
	contentType := h.ContentType()
	if len(contentType) > 0 {
		dst = appendHeaderLine(dst, strContentType, contentType)
	}
	if h.contentLength >= 0 && len(h.contentLengthBytes) > 0 {
		dst = appendHeaderLine(dst, strContentLength, h.contentLengthBytes)
	} else if h.contentLength == -1 {
		dst = appendHeaderLine(dst, strTransferEncoding, strChunked)
	}

	for i, n := 0, len(h.h); i < n; i++ {
		kv := &h.h[i]
		dst = appendHeaderLine(dst, kv.key, kv.value)
	}

	if len(h.cookies) > 0 {
		h.bufKV.value = appendRequestCookieBytes(h.bufKV.value[:0], h.cookies)
		dst = appendHeaderLine(dst, strCookie, h.bufKV.value)
	}

	if h.ConnectionClose() {
		dst = appendHeaderLine(dst, strConnection, strClose)
	}

	return append(dst, strCRLF...)
}

func appendHeaderLine(dst, key, value []byte) []byte {
	dst = append(dst, key...)
	dst = append(dst, strColonSpace...)
	dst = append(dst, value...)
	return append(dst, strCRLF...)
}

func getHeaderKeyBytes(kv *argsKV, key string, disableNormalizing bool) []byte {
	kv.key = append(kv.key[:0], key...)
	normalizeHeaderKey(kv.key, disableNormalizing)
	return kv.key
}

// removeNewLines replaces CR and LF in raw with spaces, so a value set by
// the caller cannot terminate the header line early.
//
// See https://tools.ietf.org/html/rfc7230#section-3.2.4
func removeNewLines(raw []byte) []byte {
	if bytes.IndexByte(raw, '\r') < 0 && bytes.IndexByte(raw, '\n') < 0 {
		return raw
	}
	for i, c := range raw {
		if c == '\r' || c == '\n' {
			raw[i] = ' '
		}
	}
	return raw
}

// normalizeHeaderKey converts the header name to its canonical form in
// place: the first letter and letters after dashes are uppercased, the
// rest lowercased.
func normalizeHeaderKey(b []byte, disableNormalizing bool) {
	if disableNormalizing {
		return
	}

	n := len(b)
	if n == 0 {
		return
	}

	uppercaseByte(&b[0])
	for i := 1; i < n; i++ {
		p := &b[i]
		if *p == '-' {
			i++
			if i < n {
				uppercaseByte(&b[i])
			}
			continue
		}
		lowercaseByte(p)
	}
}

// hasHeaderValue reports whether the comma-separated header value s
// contains the given token, ignoring ASCII case.
func hasHeaderValue(s, value []byte) bool {
	for len(s) > 0 {
		var v []byte
		if n := bytes.IndexByte(s, ','); n >= 0 {
			v, s = s[:n], s[n+1:]
		} else {
			v, s = s, nil
		}
		if caseInsensitiveCompare(trim(v), value) {
			return true
		}
	}
	return false
}

var knownMethods = [][]byte{
	strGet, strHead, strPost, strPut, strDelete,
	strConnect, strOptions, strTrace, strPatch,
}

func isKnownMethod(method []byte) bool {
	for _, m := range knownMethods {
		if bytes.Equal(method, m) {
			return true
		}
	}
	return false
}

func mustPeekBuffered(r *bufio.Reader) []byte {
	buf, err := r.Peek(r.Buffered())
	if len(buf) == 0 || err != nil {
		panic(fmt.Sprintf("bufio.Reader.Peek() returned unexpected data (%q, %v)", buf, err))
	}
	return buf
}

func mustDiscard(r *bufio.Reader, n int) {
	if _, err := r.Discard(n); err != nil {
		panic(fmt.Sprintf("bufio.Reader.Discard(%d) failed: %v", n, err))
	}
}
