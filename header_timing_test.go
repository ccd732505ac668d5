package httpkit

import (
	"bufio"
	"io"
	"strings"
	"testing"
)

func BenchmarkRequestHeaderRead(b *testing.B) {
	s := "GET /bench HTTP/1.1\r\nHost: bench.local\r\nUser-Agent: bench/1.0\r\nAccept: */*\r\nCookie: a=1; b=2\r\n\r\n"
	r := strings.NewReader(s)
	br := bufio.NewReader(r)
	var h RequestHeader

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := h.Read(br); err != nil {
			b.Fatalf("unexpected error: %s", err)
		}
		r.Reset(s)
		br.Reset(r)
	}
}

func BenchmarkResponseHeaderWrite(b *testing.B) {
	var h ResponseHeader
	h.SetStatusCode(StatusOK)
	h.SetContentType("text/html; charset=utf-8")
	h.SetContentLength(1024)
	h.SetServer("bench")

	bw := bufio.NewWriter(io.Discard)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := h.Write(bw); err != nil {
			b.Fatalf("unexpected error: %s", err)
		}
	}
}

func BenchmarkRequestHeaderPeek(b *testing.B) {
	var h RequestHeader
	h.Set("X-Request-Id", "0123456789abcdef")
	key := []byte("X-Request-Id")

	for i := 0; i < b.N; i++ {
		if len(h.PeekBytes(key)) == 0 {
			b.Fatalf("missing header value")
		}
	}
}

func BenchmarkRequestHeaderSetCanonical(b *testing.B) {
	var h RequestHeader
	for i := 0; i < b.N; i++ {
		h.Set("Content-Type", "text/plain")
	}
}

func BenchmarkRequestHeaderSetNonCanonical(b *testing.B) {
	// Key normalization cost on top of the plain Set path.
	var h RequestHeader
	for i := 0; i < b.N; i++ {
		h.Set("content-type", "text/plain")
	}
}
