package httpkit

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"testing"
)

func TestRequestReadSimple(t *testing.T) {
	t.Parallel()

	var req Request
	br := bufio.NewReader(strings.NewReader("GET /hello?foo=bar HTTP/1.1\r\nHost: x\r\n\r\n"))
	if err := req.Read(br); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(req.Header.Method()) != "GET" {
		t.Fatalf("unexpected method %q. Expecting GET", req.Header.Method())
	}
	if string(req.Header.RequestURI()) != "/hello?foo=bar" {
		t.Fatalf("unexpected uri %q", req.Header.RequestURI())
	}
	if string(req.Host()) != "x" {
		t.Fatalf("unexpected host %q", req.Host())
	}
	if !req.Header.IsHTTP11() {
		t.Fatalf("expecting http/1.1 protocol, got %q", req.Header.Protocol())
	}
	if len(req.Body()) != 0 {
		t.Fatalf("unexpected non-empty body %q", req.Body())
	}
}

func TestRequestReadNoDecoding(t *testing.T) {
	t.Parallel()

	// The core must keep the request target raw. Decoding, if any,
	// is the application's business.
	var req Request
	br := bufio.NewReader(strings.NewReader("GET /a%20b/%2e%2e?x=%31 HTTP/1.1\r\nHost: x\r\n\r\n"))
	if err := req.Read(br); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(req.Header.RequestURI()) != "/a%20b/%2e%2e?x=%31" {
		t.Fatalf("request target was tampered with: %q", req.Header.RequestURI())
	}
}

func TestRequestReadLazyBody(t *testing.T) {
	t.Parallel()

	body := "foobar baz"
	s := fmt.Sprintf("POST /upload HTTP/1.1\r\nHost: x\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	br := bufio.NewReader(strings.NewReader(s))

	var req Request
	if err := req.Read(br); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// The parser must stop at the end of the header block.
	if br.Buffered() < len(body) {
		t.Fatalf("parser consumed body bytes: %d buffered, expecting at least %d", br.Buffered(), len(body))
	}
	if string(req.Body()) != body {
		t.Fatalf("unexpected body %q. Expecting %q", req.Body(), body)
	}
}

func TestRequestReadChunked(t *testing.T) {
	t.Parallel()

	body := createFixedBody(137)
	chunked := createChunkedBody(body)
	s := fmt.Sprintf("POST /u HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n%s", chunked)
	br := bufio.NewReader(strings.NewReader(s))

	var req Request
	if err := req.Read(br); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if req.Header.ContentLength() != -1 {
		t.Fatalf("unexpected content-length %d. Expecting -1", req.Header.ContentLength())
	}
	if !bytes.Equal(req.Body(), body) {
		t.Fatalf("unexpected body %q. Expecting %q", req.Body(), body)
	}
}

func TestRequestReadChunkedTrailerDiscarded(t *testing.T) {
	t.Parallel()

	// Trailer lines after the terminal chunk are consumed and dropped so
	// that the connection lands at a frame boundary.
	s := "POST /u HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"2\r\nhi\r\n0\r\nX-Trailer: whatever\r\n\r\nNEXT"
	br := bufio.NewReader(strings.NewReader(s))

	var req Request
	if err := req.Read(br); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(req.Body()) != "hi" {
		t.Fatalf("unexpected body %q", req.Body())
	}
	tail, err := ioutil.ReadAll(br)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(tail) != "NEXT" {
		t.Fatalf("trailer not fully consumed; %q left on the wire", tail)
	}
}

func TestRequestReadNothing(t *testing.T) {
	t.Parallel()

	// A close before the first byte of a request is a quiet close,
	// reported as ErrNothingRead so the caller can tell it apart from
	// a truncated request.
	var req Request
	br := bufio.NewReader(strings.NewReader(""))
	err := req.Read(br)
	if err == nil {
		t.Fatalf("expecting error")
	}
	var nr ErrNothingRead
	if !errors.As(err, &nr) {
		t.Fatalf("expecting ErrNothingRead, got %v", err)
	}
}

func TestRequestReadTruncated(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"GET ",
		"GET /foo HTTP/1.1",
		"GET /foo HTTP/1.1\r\nHost: x",
		"GET /foo HTTP/1.1\r\nHost: x\r\n",
	} {
		var req Request
		br := bufio.NewReader(strings.NewReader(s))
		err := req.Read(br)
		if err == nil {
			t.Fatalf("expecting error when reading %q", s)
		}
		if _, ok := err.(ErrNothingRead); ok {
			t.Fatalf("got ErrNothingRead for a truncated request %q", s)
		}
	}
}

func TestRequestReadMalformedRequestLine(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		// no version token
		"GET /foo\r\nHost: x\r\n\r\n",
		// unknown method
		"UNKNOWN /foo HTTP/1.1\r\nHost: x\r\n\r\n",
		// lowercased method
		"get /foo HTTP/1.1\r\nHost: x\r\n\r\n",
		// unsupported version
		"GET /foo HTTP/2.0\r\nHost: x\r\n\r\n",
		"GET /foo SPDY/1.1\r\nHost: x\r\n\r\n",
		// empty target
		"GET  HTTP/1.1\r\nHost: x\r\n\r\n",
	} {
		var req Request
		br := bufio.NewReader(strings.NewReader(s))
		err := req.Read(br)
		if !errors.Is(err, ErrMalformedRequestLine) {
			t.Fatalf("expecting ErrMalformedRequestLine when reading %q, got %v", s, err)
		}
	}
}

func TestRequestReadMalformedHeader(t *testing.T) {
	t.Parallel()

	var req Request
	br := bufio.NewReader(strings.NewReader("GET /foo HTTP/1.1\r\nHost: x\r\nNoColonHere\r\n\r\n"))
	err := req.Read(br)
	if !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("expecting ErrMalformedHeader, got %v", err)
	}
}

func TestRequestReadInvalidContentLength(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"POST /foo HTTP/1.1\r\nHost: x\r\nContent-Length: -1\r\n\r\n",
		"POST /foo HTTP/1.1\r\nHost: x\r\nContent-Length: 12q\r\n\r\n",
		"POST /foo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\nhello",
		"POST /foo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n",
		"POST /foo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: gzip\r\n\r\n",
	} {
		var req Request
		br := bufio.NewReader(strings.NewReader(s))
		err := req.Read(br)
		if !errors.Is(err, ErrInvalidContentLength) {
			t.Fatalf("expecting ErrInvalidContentLength when reading %q, got %v", s, err)
		}
	}
}

func TestRequestReadLimitBody(t *testing.T) {
	t.Parallel()

	s := "POST /foo HTTP/1.1\r\nHost: x\r\nContent-Length: 9\r\n\r\n123456789"

	var req Request
	br := bufio.NewReader(strings.NewReader(s))
	if err := req.ReadLimitBody(br, 9); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(req.Body()) != "123456789" {
		t.Fatalf("unexpected body %q", req.Body())
	}

	req.Reset()
	br = bufio.NewReader(strings.NewReader(s))
	if err := req.ReadLimitBody(br, 8); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expecting ErrBodyTooLarge, got %v", err)
	}
}

func TestRequestMayContinue(t *testing.T) {
	t.Parallel()

	var req Request
	if req.MayContinue() {
		t.Fatalf("MayContinue on empty request")
	}

	br := bufio.NewReader(strings.NewReader(
		"POST /foo HTTP/1.1\r\nHost: x\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\nhello"))
	if err := req.Read(br); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !req.MayContinue() {
		t.Fatalf("expecting MayContinue")
	}
}

func TestResponseWriteRoundTrip(t *testing.T) {
	t.Parallel()

	var resp Response
	resp.SetStatusCode(StatusTeapot)
	resp.Header.Set("X-Foo", "bar")
	resp.Header.Add("X-Multi", "a")
	resp.Header.Add("X-Multi", "b")
	resp.SetBodyString("short and stout")

	// An independent conformant client must agree on what was sent.
	hr, err := http.ReadResponse(bufio.NewReader(strings.NewReader(respString(t, &resp))), nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer hr.Body.Close()
	if hr.StatusCode != StatusTeapot {
		t.Fatalf("unexpected status code %d", hr.StatusCode)
	}
	if hr.Header.Get("X-Foo") != "bar" {
		t.Fatalf("unexpected X-Foo %q", hr.Header.Get("X-Foo"))
	}
	if got := hr.Header["X-Multi"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("duplicate headers lost: %v", got)
	}
	if hr.ContentLength != 15 {
		t.Fatalf("unexpected Content-Length %d. Expecting 15", hr.ContentLength)
	}
	body, err := ioutil.ReadAll(hr.Body)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(body) != "short and stout" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestResponseWriteDefaults(t *testing.T) {
	t.Parallel()

	var resp Response
	resp.SetBodyString("Hello world!")

	s := respString(t, &resp)
	if !strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("unexpected status line in %q", s)
	}
	if !strings.Contains(s, "Content-Length: 12\r\n") {
		t.Fatalf("missing Content-Length in %q", s)
	}
	if !strings.Contains(s, "Content-Type: text/plain; charset=utf-8\r\n") {
		t.Fatalf("missing default Content-Type in %q", s)
	}
	if !strings.HasSuffix(s, "\r\n\r\nHello world!") {
		t.Fatalf("unexpected body placement in %q", s)
	}
}

func TestResponseWriteCustomReason(t *testing.T) {
	t.Parallel()

	var resp Response
	resp.SetStatusCode(StatusOK)
	resp.Header.SetStatusMessage([]byte("Fine"))
	if s := respString(t, &resp); !strings.HasPrefix(s, "HTTP/1.1 200 Fine\r\n") {
		t.Fatalf("unexpected status line in %q", s)
	}
}

func TestResponseWriteBodiless(t *testing.T) {
	t.Parallel()

	for _, code := range []int{StatusSwitchingProtocols, StatusNoContent, StatusNotModified} {
		var resp Response
		resp.SetStatusCode(code)
		s := respString(t, &resp)
		if strings.Contains(s, "Content-Length") {
			t.Fatalf("unexpected Content-Length in %d response: %q", code, s)
		}
		if !strings.HasSuffix(s, "\r\n\r\n") {
			t.Fatalf("unexpected body in %d response: %q", code, s)
		}
	}
}

func TestResponseWriteSkipBody(t *testing.T) {
	t.Parallel()

	// A HEAD response carries the Content-Length of the body it does
	// not send.
	var resp Response
	resp.SkipBody = true
	resp.SetBodyString("invisible")
	s := respString(t, &resp)
	if !strings.Contains(s, "Content-Length: 9\r\n") {
		t.Fatalf("missing Content-Length in HEAD response %q", s)
	}
	if !strings.HasSuffix(s, "\r\n\r\n") {
		t.Fatalf("unexpected body in HEAD response %q", s)
	}
}

func TestResponseBodyStreamFixedSize(t *testing.T) {
	t.Parallel()

	body := createFixedBody(100500)
	var resp Response
	resp.SetBodyStream(bytes.NewReader(body), len(body))

	var parsed Response
	if err := parsed.Read(bufio.NewReader(strings.NewReader(respString(t, &resp)))); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if parsed.Header.ContentLength() != len(body) {
		t.Fatalf("unexpected content-length %d. Expecting %d", parsed.Header.ContentLength(), len(body))
	}
	if !bytes.Equal(parsed.Body(), body) {
		t.Fatalf("unexpected body read back: %d bytes", len(parsed.Body()))
	}
}

func TestResponseBodyStreamChunked(t *testing.T) {
	t.Parallel()

	body := "this goes out in chunks of unknown total size"
	var resp Response
	resp.SetBodyStream(oneByteReader{strings.NewReader(body)}, -1)

	s := respString(t, &resp)
	if !strings.Contains(s, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("missing chunked transfer encoding in %q", s)
	}

	// net/http must be able to undo the chunking.
	hr, err := http.ReadResponse(bufio.NewReader(strings.NewReader(s)), nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer hr.Body.Close()
	got, err := ioutil.ReadAll(hr.Body)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(got) != body {
		t.Fatalf("unexpected body %q. Expecting %q", got, body)
	}
}

func TestRequestWriteRoundTrip(t *testing.T) {
	t.Parallel()

	var req Request
	req.Header.SetMethod("POST")
	req.SetRequestURI("http://example.com/upload?kind=test")
	req.Header.Set("X-Token", "abc")
	req.SetBodyString("payload")

	var w bytes.Buffer
	bw := bufio.NewWriter(&w)
	if err := req.Write(bw); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var parsed Request
	if err := parsed.Read(bufio.NewReader(&w)); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if string(parsed.Header.Method()) != "POST" {
		t.Fatalf("unexpected method %q", parsed.Header.Method())
	}
	if string(parsed.Header.RequestURI()) != "/upload?kind=test" {
		t.Fatalf("unexpected uri %q", parsed.Header.RequestURI())
	}
	if string(parsed.Host()) != "example.com" {
		t.Fatalf("unexpected host %q", parsed.Host())
	}
	if string(parsed.Header.Peek("X-Token")) != "abc" {
		t.Fatalf("unexpected X-Token %q", parsed.Header.Peek("X-Token"))
	}
	if string(parsed.Body()) != "payload" {
		t.Fatalf("unexpected body %q", parsed.Body())
	}
}

func TestRequestWriteRequiresHost(t *testing.T) {
	t.Parallel()

	var req Request
	req.SetRequestURI("/nohost")
	var w bytes.Buffer
	bw := bufio.NewWriter(&w)
	if err := req.Write(bw); err == nil {
		t.Fatalf("expecting error when writing a request without a host")
	}
}

func TestResponseReadInterim(t *testing.T) {
	t.Parallel()

	// A 100 Continue is transparent: the client sees the final response.
	s := "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	var resp Response
	if err := resp.Read(bufio.NewReader(strings.NewReader(s))); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.StatusCode() != StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode())
	}
	if string(resp.Body()) != "ok" {
		t.Fatalf("unexpected body %q", resp.Body())
	}
}

func TestResponseCopyTo(t *testing.T) {
	t.Parallel()

	var src Response
	src.SetStatusCode(StatusAccepted)
	src.Header.Set("X-A", "1")
	src.SetBodyString("copied")

	var dst Response
	src.CopyTo(&dst)
	if dst.StatusCode() != StatusAccepted {
		t.Fatalf("unexpected status code %d", dst.StatusCode())
	}
	if string(dst.Header.Peek("X-A")) != "1" {
		t.Fatalf("unexpected X-A %q", dst.Header.Peek("X-A"))
	}
	if string(dst.Body()) != "copied" {
		t.Fatalf("unexpected body %q", dst.Body())
	}
}

func TestRequestConnectionClose(t *testing.T) {
	t.Parallel()

	var req Request
	br := bufio.NewReader(strings.NewReader("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	if err := req.Read(br); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !req.ConnectionClose() {
		t.Fatalf("expecting connection close")
	}

	req.Reset()
	br = bufio.NewReader(strings.NewReader("GET / HTTP/1.0\r\nHost: x\r\n\r\n"))
	if err := req.Read(br); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if req.Header.IsHTTP11() {
		t.Fatalf("unexpected http/1.1 protocol")
	}
}

// respString serializes resp through a bufio.Writer the way the server does.
func respString(t testing.TB, resp *Response) string {
	t.Helper()
	var w bytes.Buffer
	bw := bufio.NewWriter(&w)
	if err := resp.Write(bw); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	return w.String()
}

// oneByteReader hides the underlying size so the writer has to chunk.
type oneByteReader struct {
	r io.Reader
}

func (r oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return r.r.Read(p)
}

func createFixedBody(bodySize int) []byte {
	b := make([]byte, 0, bodySize)
	for i := 0; i < bodySize; i++ {
		b = append(b, byte(i%10)+'0')
	}
	return b
}

func createChunkedBody(body []byte) []byte {
	var b []byte
	chunkSize := 1
	for len(body) > 0 {
		if chunkSize > len(body) {
			chunkSize = len(body)
		}
		b = append(b, fmt.Sprintf("%x\r\n", chunkSize)...)
		b = append(b, body[:chunkSize]...)
		b = append(b, "\r\n"...)
		body = body[chunkSize:]
		chunkSize++
	}
	return append(b, "0\r\n\r\n"...)
}
