package httpkit

import (
	"bytes"
	"fmt"
)

var (
	strColon    = []byte(":")
	strCRLFCRLF = []byte("\r\n\r\n")
)

// headerScanner splits one complete header block into key/value pairs.
// The block must be fully buffered: next returns errNeedMore through s.err
// when the terminating empty line has not arrived yet.
type headerScanner struct {
	initialized bool

	b []byte
	r int

	key   []byte
	value []byte

	// foldBuf holds values assembled from obs-fold continuation lines so
	// folding never writes over bytes of the following header lines.
	foldBuf []byte

	err error
}

func (s *headerScanner) next() bool {
	if !s.initialized {
		if bytes.HasPrefix(s.b, strCRLF) {
			s.r = 2
			return false
		}

		i := bytes.Index(s.b, strCRLFCRLF)
		if i < 0 {
			s.err = errNeedMore
			return false
		}
		i += 4

		s.b = s.b[:i]
		if s.b[0] == ' ' || s.b[0] == '\t' {
			s.err = fmt.Errorf("%w: header block starts with space or tab", ErrMalformedHeader)
			return false
		}

		s.initialized = true
	}

	kv := s.readContinuedLineSlice()
	if s.err != nil {
		return false
	}
	if len(kv) == 0 {
		return false
	}

	// Key ends at the first colon.
	k, v, ok := bytes.Cut(kv, strColon)
	if !ok {
		s.err = fmt.Errorf("%w: missing colon in %q", ErrMalformedHeader, kv)
		return false
	}
	if !isValidHeaderKey(k) {
		s.err = fmt.Errorf("%w: invalid header name in %q", ErrMalformedHeader, kv)
		return false
	}

	s.key = k
	s.value = trim(v)
	for _, c := range s.value {
		if !validHeaderValueByteTable[c] {
			s.err = fmt.Errorf("%w: invalid byte %q in value %q for key %q", ErrMalformedHeader, c, s.value, k)
			return false
		}
	}
	return true
}

// readLine returns the next line of the block without its line ending,
// advancing s.r past it. The block always ends with CRLFCRLF, so a \n is
// always found.
func (s *headerScanner) readLine() (line []byte) {
	i := bytes.IndexByte(s.b[s.r:], '\n')
	line = s.b[s.r : s.r+i+1]
	s.r += i + 1

	// drop \n and a possible preceding \r
	drop := 1
	if len(line) > 1 && line[len(line)-2] == '\r' {
		drop = 2
	}
	return line[:len(line)-drop]
}

// readContinuedLineSlice reads one header line plus any obs-fold
// continuation lines (lines starting with space or tab), joining them with
// single spaces.
func (s *headerScanner) readContinuedLineSlice() []byte {
	line := s.readLine()
	if len(line) == 0 { // blank line terminates the block
		return nil
	}

	if bytes.IndexByte(line, ':') < 0 {
		s.err = fmt.Errorf("%w: missing colon in %q", ErrMalformedHeader, line)
		return nil
	}

	if c := s.b[s.r]; c != ' ' && c != '\t' {
		return line
	}

	s.foldBuf = append(s.foldBuf[:0], line...)
	for s.skipSpace() {
		s.foldBuf = append(s.foldBuf, ' ')
		s.foldBuf = append(s.foldBuf, trim(s.readLine())...)
	}
	return s.foldBuf
}

// skipSpace skips spaces and tabs at the current read position.
func (s *headerScanner) skipSpace() bool {
	skipped := false
	for {
		c := s.b[s.r]
		if c != ' ' && c != '\t' {
			break
		}
		s.r++
		skipped = true
	}
	return skipped
}

// isValidHeaderKey reports whether k consists of valid field-name bytes
// (RFC 7230 tchar).
func isValidHeaderKey(k []byte) bool {
	if len(k) == 0 {
		return false
	}
	for _, c := range k {
		if !validHeaderFieldByteTable[c] {
			return false
		}
	}
	return true
}

// trim returns s with leading and trailing spaces and tabs removed.
func trim(s []byte) []byte {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	n := len(s)
	for n > i && (s[n-1] == ' ' || s[n-1] == '\t') {
		n--
	}
	return s[i:n]
}

var validHeaderFieldByteTable = func() [256]bool {
	var t [256]bool
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		t[c] = true
	}
	for _, c := range "!#$%&'*+-.^_`|~" {
		t[c] = true
	}
	return t
}()

// validHeaderValueByteTable allows VCHAR, SP and HTAB. obs-text (0x80-0xFF)
// is rejected, matching net/textproto.
var validHeaderValueByteTable = func() [256]bool {
	var t [256]bool
	for c := 0x20; c < 0x7f; c++ {
		t[c] = true
	}
	t['\t'] = true
	return t
}()

// VisitHeaderParams calls f for each parameter in the given header bytes.
// It stops processing when f returns false or an invalid parameter is found.
// Parameter values may be quoted, in which case \ is treated as an escape
// character, and the value is unquoted before being passed to value.
// See: https://www.rfc-editor.org/rfc/rfc9110#section-5.6.6
//
// f must not retain references to key and/or value after returning.
// Copy key and/or value contents before returning if you need retaining them.
func VisitHeaderParams(b []byte, f func(key, value []byte) bool) {
	for len(b) > 0 {
		idxSemi := 0
		for idxSemi < len(b) && b[idxSemi] != ';' {
			idxSemi++
		}
		if idxSemi >= len(b) {
			return
		}
		b = b[idxSemi+1:]
		for len(b) > 0 && b[0] == ' ' {
			b = b[1:]
		}

		n := 0
		if len(b) == 0 || !validHeaderFieldByteTable[b[n]] {
			return
		}
		n++
		for n < len(b) && validHeaderFieldByteTable[b[n]] {
			n++
		}

		if n >= len(b)-1 || b[n] != '=' {
			return
		}
		param := b[:n]
		n++

		switch {
		case validHeaderFieldByteTable[b[n]]:
			m := n
			n++
			for n < len(b) && validHeaderFieldByteTable[b[n]] {
				n++
			}
			if !f(param, b[m:n]) {
				return
			}
		case b[n] == '"':
			foundEndQuote := false
			escaping := false
			n++
			m := n
			for ; n < len(b); n++ {
				if b[n] == '"' && !escaping {
					foundEndQuote = true
					break
				}
				escaping = (b[n] == '\\' && !escaping)
			}
			if !foundEndQuote {
				return
			}
			if !f(param, b[m:n]) {
				return
			}
			n++
		default:
			return
		}
		b = b[n:]
	}
}
