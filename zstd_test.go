package httpkit

import (
	"bytes"
	"testing"
)

var zstdLevels = []int{
	CompressZstdBestSpeed,
	CompressZstdDefault,
	CompressZstdSpeedBetter,
	CompressZstdBestCompression,
}

func TestZstdBytesRoundTrip(t *testing.T) {
	t.Parallel()

	payload := createFixedBody(4097)
	for _, level := range zstdLevels {
		compressed := AppendZstdBytesLevel(nil, payload, level)
		plain, err := AppendUnzstdBytes(nil, compressed)
		if err != nil {
			t.Fatalf("level %d: unexpected error: %s", level, err)
		}
		if !bytes.Equal(plain, payload) {
			t.Fatalf("level %d: payload mismatch after round trip", level)
		}
	}
}

func TestWriteZstdUnzstd(t *testing.T) {
	t.Parallel()

	payload := createFixedBody(65536)

	var compressed bytes.Buffer
	if _, err := WriteZstd(&compressed, payload); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if compressed.Len() >= len(payload) {
		t.Fatalf("compressible payload did not shrink: %d -> %d", len(payload), compressed.Len())
	}

	var plain bytes.Buffer
	if _, err := WriteUnzstd(&plain, compressed.Bytes()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !bytes.Equal(plain.Bytes(), payload) {
		t.Fatalf("payload mismatch after stream round trip")
	}
}

func TestUnzstdGarbage(t *testing.T) {
	t.Parallel()

	if _, err := AppendUnzstdBytes(nil, []byte("definitely not a zstd frame")); err == nil {
		t.Fatalf("expecting error when decoding garbage")
	}
}

func TestResponseZstdBody(t *testing.T) {
	t.Parallel()

	body := createFixedBody(1024)

	var resp Response
	resp.SetBody(body)
	resp.zstdBody(CompressZstdDefault)

	if ce := string(resp.Header.ContentEncoding()); ce != "zstd" {
		t.Fatalf("unexpected content-encoding %q. Expecting %q", ce, "zstd")
	}
	plain, err := resp.BodyUnzstd()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !bytes.Equal(plain, body) {
		t.Fatalf("body mismatch after zstd round trip")
	}
}

func TestResponseZstdBodySkipsSmallBody(t *testing.T) {
	t.Parallel()

	var resp Response
	resp.SetBodyString("tiny")
	resp.zstdBody(CompressZstdDefault)
	if len(resp.Header.ContentEncoding()) != 0 {
		t.Fatalf("small body was compressed")
	}
	if string(resp.Body()) != "tiny" {
		t.Fatalf("small body was mangled: %q", resp.Body())
	}
}

func TestZstdLevelNormalization(t *testing.T) {
	t.Parallel()

	// Out-of-range levels fall back to the default instead of failing.
	payload := createFixedBody(2048)
	for _, level := range []int{-3, 99} {
		compressed := AppendZstdBytesLevel(nil, payload, level)
		plain, err := AppendUnzstdBytes(nil, compressed)
		if err != nil {
			t.Fatalf("level %d: unexpected error: %s", level, err)
		}
		if !bytes.Equal(plain, payload) {
			t.Fatalf("level %d: payload mismatch", level)
		}
	}
}

func BenchmarkAppendZstdBytes(b *testing.B) {
	payload := createFixedBody(16 * 1024)
	var dst []byte
	b.SetBytes(int64(len(payload)))
	for i := 0; i < b.N; i++ {
		dst = AppendZstdBytesLevel(dst[:0], payload, CompressZstdDefault)
	}
}

func BenchmarkAppendUnzstdBytes(b *testing.B) {
	compressed := AppendZstdBytes(nil, createFixedBody(16*1024))
	var dst []byte
	var err error
	b.SetBytes(int64(len(compressed)))
	for i := 0; i < b.N; i++ {
		if dst, err = AppendUnzstdBytes(dst[:0], compressed); err != nil {
			b.Fatalf("unexpected error: %s", err)
		}
	}
}
