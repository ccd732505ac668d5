package httpkit

import (
	"bytes"
	"errors"
	"io"
)

// Args holds parsed query arguments as an ordered key-value list.
//
// Args instances must not be copied (use CopyTo) and must not be used
// from concurrently running goroutines.
type Args struct {
	args  []argsKV
	bufKV argsKV
	buf   []byte
}

// Reset drops all arguments.
func (a *Args) Reset() {
	a.args = a.args[:0]
}

// CopyTo replaces dst's arguments with a copy of a's.
func (a *Args) CopyTo(dst *Args) {
	dst.Reset()
	dst.args = copyArgs(dst.args, a.args)
}

// Len returns the number of arguments.
func (a *Args) Len() int {
	return len(a.args)
}

// VisitAll calls f for each argument in order.
//
// The key and value buffers are reused between calls. Copy them if they
// must outlive the visit.
func (a *Args) VisitAll(f func(key, value []byte)) {
	visitArgs(a.args, f)
}

// Parse replaces the arguments with those parsed from s.
func (a *Args) Parse(s string) {
	a.buf = append(a.buf[:0], s...)
	a.ParseBytes(a.buf)
}

// ParseBytes replaces the arguments with those parsed from b.
func (a *Args) ParseBytes(b []byte) {
	a.Reset()

	var s argsScanner
	s.b = b

	var kv *argsKV
	a.args, kv = allocArg(a.args)
	for s.next(kv) {
		if len(kv.key) > 0 || len(kv.value) > 0 {
			a.args, kv = allocArg(a.args)
		}
	}
	a.args = releaseArg(a.args)
}

// String returns the encoded query string.
func (a *Args) String() string {
	return string(a.QueryString())
}

// QueryString returns the encoded query string.
//
// The returned bytes are valid until the next Args method call.
func (a *Args) QueryString() []byte {
	a.buf = a.AppendBytes(a.buf[:0])
	return a.buf
}

// AppendBytes appends the encoded query string to dst and returns the
// extended dst.
func (a *Args) AppendBytes(dst []byte) []byte {
	for i := range a.args {
		kv := &a.args[i]
		if i > 0 {
			dst = append(dst, '&')
		}
		dst = appendQuotedArg(dst, kv.key)
		if len(kv.value) > 0 {
			dst = append(dst, '=')
			dst = appendQuotedArg(dst, kv.value)
		}
	}
	return dst
}

// WriteTo writes the encoded query string to w.
//
// WriteTo implements io.WriterTo.
func (a *Args) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(a.QueryString())
	return int64(n), err
}

// Del removes all arguments with the given key.
func (a *Args) Del(key string) {
	a.bufKV.key = append(a.bufKV.key[:0], key...)
	a.DelBytes(a.bufKV.key)
}

// DelBytes removes all arguments with the given key.
func (a *Args) DelBytes(key []byte) {
	a.args = delAllArgs(a.args, key)
}

// Add appends a 'key=value' argument. The same key may be added more
// than once.
func (a *Args) Add(key, value string) {
	a.bufKV.key = append(a.bufKV.key[:0], key...)
	a.bufKV.value = append(a.bufKV.value[:0], value...)
	a.args = appendArg(a.args, a.bufKV.key, a.bufKV.value)
}

// Set stores value under key, replacing any previous value.
func (a *Args) Set(key, value string) {
	a.bufKV.value = append(a.bufKV.value[:0], value...)
	a.SetBytesV(key, a.bufKV.value)
}

// SetBytesK stores value under key, replacing any previous value.
func (a *Args) SetBytesK(key []byte, value string) {
	a.bufKV.value = append(a.bufKV.value[:0], value...)
	a.SetBytesKV(key, a.bufKV.value)
}

// SetBytesV stores value under key, replacing any previous value.
func (a *Args) SetBytesV(key string, value []byte) {
	a.bufKV.key = append(a.bufKV.key[:0], key...)
	a.SetBytesKV(a.bufKV.key, value)
}

// SetBytesKV stores value under key, replacing any previous value.
func (a *Args) SetBytesKV(key, value []byte) {
	a.args = setArg(a.args, key, value)
}

// Peek returns the value stored under key.
//
// The returned bytes are valid until the next Args method call.
func (a *Args) Peek(key string) []byte {
	return peekArgStr(a.args, key)
}

// PeekBytes returns the value stored under key.
//
// The returned bytes are valid until the next Args method call.
func (a *Args) PeekBytes(key []byte) []byte {
	return peekArgBytes(a.args, key)
}

// Get returns the value stored under key as a string copy, which stays
// valid after further Args calls.
func (a *Args) Get(key string) string {
	return string(a.Peek(key))
}

// Has reports whether an argument with the given key exists.
func (a *Args) Has(key string) bool {
	a.bufKV.key = append(a.bufKV.key[:0], key...)
	return hasArg(a.args, a.bufKV.key)
}

// ErrNoArgValue is returned when the Args value with the given key is
// missing.
var ErrNoArgValue = errors.New("no Args value for the given key")

// GetUint returns the value stored under key parsed as an unsigned int.
func (a *Args) GetUint(key string) (int, error) {
	value := a.Peek(key)
	if len(value) == 0 {
		return -1, ErrNoArgValue
	}
	return ParseUint(value)
}

// SetUint stores the decimal representation of value under key.
func (a *Args) SetUint(key string, value int) {
	a.bufKV.value = AppendUint(a.bufKV.value[:0], value)
	a.SetBytesV(key, a.bufKV.value)
}

// GetUintOrZero is GetUint with errors mapped to zero.
func (a *Args) GetUintOrZero(key string) int {
	n, err := a.GetUint(key)
	if err != nil {
		n = 0
	}
	return n
}

// GetUfloat returns the value stored under key parsed as an unsigned
// float.
func (a *Args) GetUfloat(key string) (float64, error) {
	value := a.Peek(key)
	if len(value) == 0 {
		return -1, ErrNoArgValue
	}
	return ParseUfloat(value)
}

// GetUfloatOrZero is GetUfloat with errors mapped to zero.
func (a *Args) GetUfloatOrZero(key string) float64 {
	f, err := a.GetUfloat(key)
	if err != nil {
		f = 0
	}
	return f
}

type argsScanner struct {
	b []byte
}

// next splits off the leading '&'-delimited pair. A pair without '='
// becomes a value-less key.
func (s *argsScanner) next(kv *argsKV) bool {
	if len(s.b) == 0 {
		return false
	}

	pair := s.b
	if i := bytes.IndexByte(pair, '&'); i >= 0 {
		pair, s.b = pair[:i], pair[i+1:]
	} else {
		s.b = pair[len(pair):]
	}

	if i := bytes.IndexByte(pair, '='); i >= 0 {
		kv.key = decodeArg(kv.key, pair[:i], true)
		kv.value = decodeArg(kv.value, pair[i+1:], true)
	} else {
		kv.key = decodeArg(kv.key, pair, true)
		kv.value = kv.value[:0]
	}
	return true
}

func decodeArg(dst, src []byte, decodePlus bool) []byte {
	return decodeArgAppend(dst[:0], src, decodePlus)
}

func decodeArgAppend(dst, src []byte, decodePlus bool) []byte {
	for i := 0; i < len(src); i++ {
		switch c := src[i]; {
		case c == '%' && i+2 < len(src):
			hi := hexbyte2int(src[i+1])
			lo := hexbyte2int(src[i+2])
			if hi < 0 || lo < 0 {
				// not a hex escape, keep the '%' verbatim
				dst = append(dst, c)
			} else {
				dst = append(dst, byte(hi<<4|lo))
				i += 2
			}
		case c == '%':
			// truncated escape at the end of input
			return append(dst, src[i:]...)
		case c == '+' && decodePlus:
			dst = append(dst, ' ')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}
