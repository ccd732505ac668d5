package httpkit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"strconv"
	"sync"
	"time"
	"unsafe"
)

// Limits below depend on the native int size so that parsed values can
// never overflow it.
const (
	maxIntChars    = 9 + 9*(bits.UintSize/64)
	maxHexIntChars = 7 + 8*(bits.UintSize/64)
)

// AppendHTTPDate appends HTTP-compliant (RFC1123) representation of date
// to dst and returns the extended dst.
func AppendHTTPDate(dst []byte, date time.Time) []byte {
	dst = date.In(time.UTC).AppendFormat(dst, time.RFC1123)
	copy(dst[len(dst)-3:], strGMT)
	return dst
}

// ParseHTTPDate parses an HTTP-compliant (RFC1123) date.
func ParseHTTPDate(date []byte) (time.Time, error) {
	return time.Parse(time.RFC1123, b2s(date))
}

// AppendUint appends n to dst and returns the extended dst.
func AppendUint(dst []byte, n int) []byte {
	if n < 0 {
		panic("BUG: int must be positive")
	}
	return strconv.AppendUint(dst, uint64(n), 10)
}

// ParseUint parses uint from buf.
func ParseUint(buf []byte) (int, error) {
	v, n, err := parseUintBuf(buf)
	if n != len(buf) {
		return -1, fmt.Errorf("only %d bytes out of %d bytes exhausted when parsing int %q", n, len(buf), buf)
	}
	return v, err
}

func parseUintBuf(b []byte) (int, int, error) {
	n := len(b)
	if n == 0 {
		return -1, 0, fmt.Errorf("empty integer")
	}
	v := 0
	for i := 0; i < n; i++ {
		c := b[i]
		k := c - '0'
		if k > 9 {
			if i == 0 {
				return -1, i, fmt.Errorf("unexpected first char %c. Expected 0-9", c)
			}
			return v, i, nil
		}
		if i >= maxIntChars {
			return -1, i, fmt.Errorf("too long int %q", b[:i+1])
		}
		v = 10*v + int(k)
	}
	return v, n, nil
}

// ParseUfloat parses unsigned float from buf.
//
// Negative numbers and non-finite values are rejected.
func ParseUfloat(buf []byte) (float64, error) {
	if len(buf) == 0 {
		return -1, errEmptyFloat
	}
	if buf[0] == '-' || buf[0] == '+' {
		return -1, fmt.Errorf("unexpected sign char in float %q", buf)
	}
	f, err := strconv.ParseFloat(b2s(buf), 64)
	if err != nil {
		return -1, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return -1, fmt.Errorf("non-finite float %q", buf)
	}
	return f, nil
}

var (
	errEmptyFloat     = errors.New("empty float number")
	errEmptyHexNum    = errors.New("empty hex number")
	errTooLargeHexNum = errors.New("too large hex number")
)

// readHexInt reads hex digits off r until the first non-hex byte, which
// stays unconsumed.
func readHexInt(r *bufio.Reader) (int, error) {
	n := 0
	digits := 0
	for {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && digits > 0 {
				return n, nil
			}
			return -1, err
		}
		k := hexbyte2int(c)
		if k < 0 {
			if digits == 0 {
				return -1, errEmptyHexNum
			}
			r.UnreadByte() //nolint:errcheck
			return n, nil
		}
		if digits >= maxHexIntChars {
			return -1, errTooLargeHexNum
		}
		n = n<<4 | k
		digits++
	}
}

var hexIntBufPool sync.Pool

func writeHexInt(w *bufio.Writer, n int) error {
	if n < 0 {
		panic("BUG: int must be positive")
	}

	v := hexIntBufPool.Get()
	if v == nil {
		v = make([]byte, 0, maxHexIntChars+1)
	}
	buf := v.([]byte)
	_, err := w.Write(strconv.AppendUint(buf[:0], uint64(n), 16))
	hexIntBufPool.Put(v)
	return err
}

func hexCharUpper(c byte) byte {
	if c < 10 {
		return '0' + c
	}
	return c - 10 + 'A'
}

// hex2intTable maps hex digits to value+1; zero marks a non-hex byte.
var hex2intTable = func() [256]byte {
	var b [256]byte
	for c := '0'; c <= '9'; c++ {
		b[c] = byte(c-'0') + 1
	}
	for c := 'a'; c <= 'f'; c++ {
		b[c] = byte(c-'a') + 11
	}
	for c := 'A'; c <= 'F'; c++ {
		b[c] = byte(c-'A') + 11
	}
	return b
}()

func hexbyte2int(c byte) int {
	return int(hex2intTable[c]) - 1
}

const toLower = 'a' - 'A'

func uppercaseByte(p *byte) {
	c := *p
	if c >= 'a' && c <= 'z' {
		*p = c - toLower
	}
}

func lowercaseByte(p *byte) {
	c := *p
	if c >= 'A' && c <= 'Z' {
		*p = c + toLower
	}
}

func lowercaseBytes(b []byte) {
	for i, n := 0, len(b); i < n; i++ {
		lowercaseByte(&b[i])
	}
}

// caseInsensitiveCompare returns true if a equals b, ignoring ASCII case.
// It assumes that neither slice contains non-ASCII bytes in positions that
// matter for header names.
func caseInsensitiveCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i, n := 0, len(a); i < n; i++ {
		if a[i]|0x20 != b[i]|0x20 {
			return false
		}
	}
	return true
}

func appendQuotedArg(dst, v []byte) []byte {
	for _, c := range v {
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '/' || c == '.' {
			dst = append(dst, c)
		} else {
			dst = append(dst, '%', hexCharUpper(c>>4), hexCharUpper(c&15))
		}
	}
	return dst
}

// b2s converts a byte slice to a string without memory allocation.
// The byte slice must not be mutated while the string is alive.
func b2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// s2b converts a string to a byte slice without memory allocation.
// The returned slice must not be mutated.
func s2b(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// roundUpForSliceCap rounds n up to the next power of two so append-heavy
// buffers reallocate less. Above 100MB the rounding overhead is too large.
func roundUpForSliceCap(n int) int {
	if n <= 0 {
		return 0
	}
	if n > 100*1024*1024 {
		return n
	}
	return 1 << bits.Len(uint(n-1))
}
