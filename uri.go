package httpkit

import (
	"bytes"
	"io"
	"sync"
)

// AcquireURI returns an empty URI object from the pool.
//
// The returned object may be returned back to the pool with ReleaseURI.
// This allows reducing GC load.
func AcquireURI() *URI {
	return uriPool.Get().(*URI)
}

// ReleaseURI returns the URI object acquired with AcquireURI back to the pool.
//
// Do not access released URI object, otherwise data races may occur.
func ReleaseURI(u *URI) {
	u.Reset()
	uriPool.Put(u)
}

var uriPool = &sync.Pool{
	New: func() any {
		return &URI{}
	},
}

// URI represents a parsed request target in origin form, i.e.
// /path?query#hash.
//
// URI instance MUST NOT be used from concurrently running goroutines.
type URI struct {
	noCopy noCopy

	pathOriginal []byte
	queryString  []byte
	hash         []byte

	queryArgs       Args
	parsedQueryArgs bool

	requestURI []byte
}

// Reset clears uri.
func (u *URI) Reset() {
	u.pathOriginal = u.pathOriginal[:0]
	u.queryString = u.queryString[:0]
	u.hash = u.hash[:0]
	u.queryArgs.Reset()
	u.parsedQueryArgs = false
	u.requestURI = u.requestURI[:0]
}

// CopyTo copies uri contents to dst.
func (u *URI) CopyTo(dst *URI) {
	dst.Reset()
	dst.pathOriginal = append(dst.pathOriginal, u.pathOriginal...)
	dst.queryString = append(dst.queryString, u.queryString...)
	dst.hash = append(dst.hash, u.hash...)
	dst.requestURI = append(dst.requestURI, u.requestURI...)

	u.queryArgs.CopyTo(&dst.queryArgs)
	dst.parsedQueryArgs = u.parsedQueryArgs
}

// Path returns URI path, i.e. /foo/bar of /foo/bar?baz=123#qwe .
//
// The path is returned exactly as the client sent it, without
// percent-decoding or dot-segment normalization. Callers needing a
// decoded path must decode it themselves.
func (u *URI) Path() []byte {
	if len(u.pathOriginal) == 0 {
		return strSlash
	}
	return u.pathOriginal
}

// SetPath sets URI path.
func (u *URI) SetPath(path string) {
	u.pathOriginal = append(u.pathOriginal[:0], path...)
}

// SetPathBytes sets URI path.
func (u *URI) SetPathBytes(path []byte) {
	u.pathOriginal = append(u.pathOriginal[:0], path...)
}

// PathOriginal returns the path exactly as it was sent, without the
// empty-path to slash substitution done by Path.
func (u *URI) PathOriginal() []byte {
	return u.pathOriginal
}

// LastPathSegment returns the last part of uri path after '/'.
//
// Examples:
//
//   - For /foo/bar/baz.html path returns baz.html.
//   - For /foo/bar/ returns empty byte slice.
//   - For /foobar.js returns foobar.js.
func (u *URI) LastPathSegment() []byte {
	path := u.Path()
	n := bytes.LastIndexByte(path, '/')
	if n < 0 {
		return path
	}
	return path[n+1:]
}

// QueryString returns URI query string, i.e. baz=123 of /foo/bar?baz=123#qwe .
func (u *URI) QueryString() []byte {
	return u.queryString
}

// SetQueryString sets URI query string.
func (u *URI) SetQueryString(queryString string) {
	u.queryString = append(u.queryString[:0], queryString...)
	u.parsedQueryArgs = false
}

// SetQueryStringBytes sets URI query string.
func (u *URI) SetQueryStringBytes(queryString []byte) {
	u.queryString = append(u.queryString[:0], queryString...)
	u.parsedQueryArgs = false
}

// Hash returns URI hash, i.e. qwe of /foo/bar?baz=123#qwe .
func (u *URI) Hash() []byte {
	return u.hash
}

// SetHash sets URI hash.
func (u *URI) SetHash(hash string) {
	u.hash = append(u.hash[:0], hash...)
}

// QueryArgs returns query args parsed from QueryString.
//
// Args are parsed on the first call and cached until the next
// SetQueryString or Reset.
func (u *URI) QueryArgs() *Args {
	u.parseQueryArgs()
	return &u.queryArgs
}

func (u *URI) parseQueryArgs() {
	if u.parsedQueryArgs {
		return
	}
	u.queryArgs.ParseBytes(u.queryString)
	u.parsedQueryArgs = true
}

// Parse splits requestURI into path, query string and hash parts.
func (u *URI) Parse(requestURI []byte) {
	u.Reset()

	b := requestURI
	queryIndex := bytes.IndexByte(b, '?')
	fragmentIndex := bytes.IndexByte(b, '#')
	// Ignore query in fragment part
	if fragmentIndex >= 0 && queryIndex > fragmentIndex {
		queryIndex = -1
	}

	if queryIndex < 0 && fragmentIndex < 0 {
		u.pathOriginal = append(u.pathOriginal, b...)
		return
	}

	if queryIndex >= 0 {
		u.pathOriginal = append(u.pathOriginal, b[:queryIndex]...)
		if fragmentIndex < 0 {
			u.queryString = append(u.queryString, b[queryIndex+1:]...)
		} else {
			u.queryString = append(u.queryString, b[queryIndex+1:fragmentIndex]...)
			u.hash = append(u.hash, b[fragmentIndex+1:]...)
		}
		return
	}

	u.pathOriginal = append(u.pathOriginal, b[:fragmentIndex]...)
	u.hash = append(u.hash, b[fragmentIndex+1:]...)
}

// AppendBytes appends the request target to dst and returns the extended dst.
func (u *URI) AppendBytes(dst []byte) []byte {
	dst = append(dst, u.RequestURI()...)
	if len(u.hash) > 0 {
		dst = append(dst, '#')
		dst = append(dst, u.hash...)
	}
	return dst
}

// RequestURI returns the URI as it appears on a request line: the path
// with the query string, without the fragment.
func (u *URI) RequestURI() []byte {
	dst := append(u.requestURI[:0], u.Path()...)
	queryString := u.queryString
	if u.parsedQueryArgs {
		// Serialize from the args so mutations made through QueryArgs
		// are not lost.
		queryString = u.queryArgs.QueryString()
	}
	if len(queryString) > 0 {
		dst = append(dst, '?')
		dst = append(dst, queryString...)
	}
	u.requestURI = dst
	return u.requestURI
}

// WriteTo writes the request target to w.
//
// WriteTo implements io.WriterTo interface.
func (u *URI) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(u.AppendBytes(nil))
	return int64(n), err
}

// String returns the request target.
func (u *URI) String() string {
	return string(u.AppendBytes(nil))
}
