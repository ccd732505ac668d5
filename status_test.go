package httpkit

import (
	"testing"
)

func TestStatusMessage(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		code     int
		expected string
	}{
		{StatusOK, "OK"},
		{StatusNotFound, "Not Found"},
		{StatusSwitchingProtocols, "Switching Protocols"},
		{StatusRequestHeaderFieldsTooLarge, "Request Header Fields Too Large"},
		{StatusInternalServerError, "Internal Server Error"},
		{99, "Unknown Status Code"},
		{-1, "Unknown Status Code"},
		{999, "Unknown Status Code"},
	} {
		if got := StatusMessage(tc.code); got != tc.expected {
			t.Fatalf("unexpected message %q for code %d. Expecting %q", got, tc.code, tc.expected)
		}
	}
}

func TestFormatStatusLine(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		code     int
		expected string
	}{
		{200, "HTTP/1.1 200 OK\r\n"},
		{404, "HTTP/1.1 404 Not Found\r\n"},
		{101, "HTTP/1.1 101 Switching Protocols\r\n"},
		{599, "HTTP/1.1 599 Unknown Status Code\r\n"},
		{-1, "HTTP/1.1 -1 Unknown Status Code\r\n"},
	} {
		line := formatStatusLine(nil, strHTTP11, tc.code, s2b(StatusMessage(tc.code)))
		if string(line) != tc.expected {
			t.Fatalf("unexpected status line %q. Expecting %q", line, tc.expected)
		}
	}
}

func TestFormatStatusLineKeepsPrefix(t *testing.T) {
	t.Parallel()

	line := formatStatusLine([]byte("x"), strHTTP11, 200, s2b(StatusMessage(200)))
	if string(line) != "xHTTP/1.1 200 OK\r\n" {
		t.Fatalf("unexpected status line %q", line)
	}
}
