package httpkit

import (
	"bufio"
	"strings"
	"testing"
)

// A declared Content-Type together with an explicit Content-Length must
// survive serialization for any method, including GET.
func TestRequestHeaderContentTypeSurvivesRoundTrip(t *testing.T) {
	t.Parallel()

	for _, method := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		var h RequestHeader
		h.SetMethod(method)
		h.SetRequestURI("/round-trip")
		h.SetContentType("application/json")
		h.SetContentLength(123)

		verifyHeaderContentType(t, &h, method)

		var parsed RequestHeader
		br := bufio.NewReader(strings.NewReader(h.String()))
		if err := parsed.Read(br); err != nil {
			t.Fatalf("method %s: unexpected error: %s", method, err)
		}
		verifyHeaderContentType(t, &parsed, method)
	}
}

func verifyHeaderContentType(t *testing.T, h *RequestHeader, method string) {
	t.Helper()

	if string(h.Method()) != method {
		t.Fatalf("unexpected method %q. Expecting %q", h.Method(), method)
	}
	if ct := string(h.ContentType()); ct != "application/json" {
		t.Fatalf("method %s: unexpected content-type %q", method, ct)
	}
	if cl := h.ContentLength(); cl != 123 {
		t.Fatalf("method %s: unexpected content-length %d", method, cl)
	}
}
