package httpkit

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

var zeroTime time.Time

var (
	// CookieExpireDelete may be set on Cookie.Expire for expiring the given cookie.
	CookieExpireDelete = time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)

	// CookieExpireUnlimited indicates that the cookie doesn't expire.
	CookieExpireUnlimited = zeroTime
)

// CookieSameSite is an enum for the mode in which the SameSite flag should be set for the given cookie.
// See https://tools.ietf.org/html/draft-ietf-httpbis-cookie-same-site-00 for details.
type CookieSameSite int

const (
	// CookieSameSiteDisabled removes the SameSite flag.
	CookieSameSiteDisabled CookieSameSite = iota
	// CookieSameSiteDefaultMode sets the SameSite flag.
	CookieSameSiteDefaultMode
	// CookieSameSiteLaxMode sets the SameSite flag with the "Lax" parameter.
	CookieSameSiteLaxMode
	// CookieSameSiteStrictMode sets the SameSite flag with the "Strict" parameter.
	CookieSameSiteStrictMode
	// CookieSameSiteNoneMode sets the SameSite flag with the "None" parameter.
	CookieSameSiteNoneMode
)

var cookiePool = &sync.Pool{
	New: func() any {
		return &Cookie{}
	},
}

// AcquireCookie returns an empty Cookie object from the pool.
//
// The returned object may be returned back to the pool with ReleaseCookie.
// This allows reducing GC load.
func AcquireCookie() *Cookie {
	return cookiePool.Get().(*Cookie)
}

// ReleaseCookie returns the Cookie object acquired with AcquireCookie back
// to the pool.
//
// Do not access released Cookie object, otherwise data races may occur.
func ReleaseCookie(c *Cookie) {
	c.Reset()
	cookiePool.Put(c)
}

// Cookie represents HTTP response cookie.
//
// Do not copy Cookie objects. Create new object and use CopyTo instead.
//
// Cookie instance MUST NOT be used from concurrently running goroutines.
type Cookie struct {
	noCopy noCopy

	expire time.Time

	key    []byte
	value  []byte
	domain []byte
	path   []byte

	bufK []byte
	bufV []byte

	// maxAge=0 means no 'max-age' attribute specified.
	// maxAge<0 means delete cookie now, equivalently 'max-age=0'.
	// maxAge>0 means 'max-age' attribute present and given in seconds.
	maxAge int

	sameSite    CookieSameSite
	httpOnly    bool
	secure      bool
	partitioned bool
}

// CopyTo copies src cookie to c.
func (c *Cookie) CopyTo(src *Cookie) {
	c.Reset()
	c.key = append(c.key, src.key...)
	c.value = append(c.value, src.value...)
	c.domain = append(c.domain, src.domain...)
	c.path = append(c.path, src.path...)
	c.expire = src.expire
	c.maxAge = src.maxAge
	c.sameSite = src.sameSite
	c.httpOnly = src.httpOnly
	c.secure = src.secure
	c.partitioned = src.partitioned
}

// Key returns cookie name.
//
// The returned value is valid until the Cookie reused or released (ReleaseCookie).
// Do not store references to the returned value. Make copies instead.
func (c *Cookie) Key() []byte {
	return c.key
}

// SetKey sets cookie name.
func (c *Cookie) SetKey(key string) {
	c.key = append(c.key[:0], key...)
}

// SetKeyBytes sets cookie name.
func (c *Cookie) SetKeyBytes(key []byte) {
	c.key = append(c.key[:0], key...)
}

// Value returns cookie value.
//
// The returned value is valid until the Cookie reused or released (ReleaseCookie).
// Do not store references to the returned value. Make copies instead.
func (c *Cookie) Value() []byte {
	return c.value
}

// SetValue sets cookie value.
func (c *Cookie) SetValue(value string) {
	c.value = append(c.value[:0], value...)
}

// SetValueBytes sets cookie value.
func (c *Cookie) SetValueBytes(value []byte) {
	c.value = append(c.value[:0], value...)
}

// Domain returns cookie domain.
//
// The returned value is valid until the Cookie reused or released (ReleaseCookie).
// Do not store references to the returned value. Make copies instead.
func (c *Cookie) Domain() []byte {
	return c.domain
}

// SetDomain sets cookie domain.
func (c *Cookie) SetDomain(domain string) {
	c.domain = append(c.domain[:0], domain...)
}

// SetDomainBytes sets cookie domain.
func (c *Cookie) SetDomainBytes(domain []byte) {
	c.domain = append(c.domain[:0], domain...)
}

// Path returns cookie path.
func (c *Cookie) Path() []byte {
	return c.path
}

// SetPath sets cookie path.
func (c *Cookie) SetPath(path string) {
	c.path = append(c.path[:0], path...)
}

// SetPathBytes sets cookie path.
func (c *Cookie) SetPathBytes(path []byte) {
	c.path = append(c.path[:0], path...)
}

// Expire returns cookie expiration time.
//
// CookieExpireUnlimited is returned if cookie doesn't expire.
func (c *Cookie) Expire() time.Time {
	if c.expire.IsZero() {
		return CookieExpireUnlimited
	}
	return c.expire
}

// SetExpire sets cookie expiration time.
//
// Set expiration time to CookieExpireDelete for expiring (deleting)
// the cookie on the client.
//
// By default cookie lifetime is limited by browser session.
func (c *Cookie) SetExpire(expire time.Time) {
	c.expire = expire
}

// MaxAge returns the seconds until the cookie is meant to expire or 0
// if no max age.
func (c *Cookie) MaxAge() int {
	return c.maxAge
}

// SetMaxAge sets cookie expiration time based on seconds. This takes
// precedence over any absolute expiry set on the cookie.
//
// 'max-age' is set when the maxAge is non-zero. That is, if maxAge = 0,
// the 'max-age' is unset. If maxAge < 0, it indicates that the cookie
// should be deleted immediately, equivalent to 'max-age=0'.
func (c *Cookie) SetMaxAge(seconds int) {
	c.maxAge = seconds
}

// HTTPOnly returns true if the cookie is http only.
func (c *Cookie) HTTPOnly() bool {
	return c.httpOnly
}

// SetHTTPOnly sets cookie's httpOnly flag to the given value.
func (c *Cookie) SetHTTPOnly(httpOnly bool) {
	c.httpOnly = httpOnly
}

// Secure returns true if the cookie is secure.
func (c *Cookie) Secure() bool {
	return c.secure
}

// SetSecure sets cookie's secure flag to the given value.
func (c *Cookie) SetSecure(secure bool) {
	c.secure = secure
}

// SameSite returns the SameSite mode.
func (c *Cookie) SameSite() CookieSameSite {
	return c.sameSite
}

// SetSameSite sets the cookie's SameSite flag to the given value.
// Setting CookieSameSiteNoneMode also sets Secure to avoid browser rejection.
func (c *Cookie) SetSameSite(mode CookieSameSite) {
	c.sameSite = mode
	if mode == CookieSameSiteNoneMode {
		c.SetSecure(true)
	}
}

// Partitioned returns true if the cookie is partitioned.
func (c *Cookie) Partitioned() bool {
	return c.partitioned
}

// SetPartitioned sets the cookie's Partitioned flag to the given value.
// Setting it also sets Secure and Path=/ to avoid browser rejection.
func (c *Cookie) SetPartitioned(partitioned bool) {
	c.partitioned = partitioned
	if partitioned {
		c.SetSecure(true)
		c.SetPath("/")
	}
}

// Reset clears the cookie.
func (c *Cookie) Reset() {
	c.key = c.key[:0]
	c.value = c.value[:0]
	c.domain = c.domain[:0]
	c.path = c.path[:0]
	c.expire = zeroTime
	c.maxAge = 0
	c.sameSite = CookieSameSiteDisabled
	c.httpOnly = false
	c.secure = false
	c.partitioned = false
}

// AppendBytes appends cookie representation to dst and returns
// the extended dst.
//
// Attribute order follows what browsers emit: the pair itself, then
// max-age or expires, domain, path and the boolean attributes.
func (c *Cookie) AppendBytes(dst []byte) []byte {
	if len(c.key) > 0 {
		dst = append(dst, c.key...)
		dst = append(dst, '=')
	}
	dst = append(dst, c.value...)

	// max-age wins over expires when both are set.
	if c.maxAge != 0 {
		age := c.maxAge
		if age < 0 {
			age = 0
		}
		dst = append(dst, ';', ' ')
		dst = append(dst, strCookieMaxAge...)
		dst = append(dst, '=')
		dst = AppendUint(dst, age)
	} else if !c.expire.IsZero() {
		c.bufV = AppendHTTPDate(c.bufV[:0], c.expire)
		dst = appendCookiePart(dst, strCookieExpires, c.bufV)
	}

	if len(c.domain) > 0 {
		dst = appendCookiePart(dst, strCookieDomain, c.domain)
	}
	if len(c.path) > 0 {
		dst = appendCookiePart(dst, strCookiePath, c.path)
	}

	if c.httpOnly {
		dst = appendCookieFlag(dst, strCookieHTTPOnly)
	}
	if c.secure {
		dst = appendCookieFlag(dst, strCookieSecure)
	}
	if c.sameSite != CookieSameSiteDisabled {
		dst = appendCookieFlag(dst, strCookieSameSite)
		if token := sameSiteToken(c.sameSite); len(token) > 0 {
			dst = append(dst, '=')
			dst = append(dst, token...)
		}
	}
	if c.partitioned {
		dst = appendCookieFlag(dst, strCookiePartitioned)
	}
	return dst
}

func sameSiteToken(mode CookieSameSite) []byte {
	switch mode {
	case CookieSameSiteLaxMode:
		return strCookieSameSiteLax
	case CookieSameSiteStrictMode:
		return strCookieSameSiteStrict
	case CookieSameSiteNoneMode:
		return strCookieSameSiteNone
	}
	return nil
}

func appendCookiePart(dst, key, value []byte) []byte {
	dst = appendCookieFlag(dst, key)
	dst = append(dst, '=')
	return append(dst, value...)
}

func appendCookieFlag(dst, name []byte) []byte {
	dst = append(dst, ';', ' ')
	return append(dst, name...)
}

// Cookie returns cookie representation.
//
// The returned value is valid until the Cookie reused or released (ReleaseCookie).
// Do not store references to the returned value. Make copies instead.
func (c *Cookie) Cookie() []byte {
	c.bufK = c.AppendBytes(c.bufK[:0])
	return c.bufK
}

// String returns cookie representation.
func (c *Cookie) String() string {
	return string(c.Cookie())
}

// WriteTo writes cookie representation to w.
//
// WriteTo implements io.WriterTo interface.
func (c *Cookie) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(c.Cookie())
	return int64(n), err
}

var errNoCookies = errors.New("no cookies found")

// Parse parses Set-Cookie header.
func (c *Cookie) Parse(src string) error {
	c.bufK = append(c.bufK[:0], src...)
	return c.ParseBytes(c.bufK)
}

// ParseBytes parses Set-Cookie header.
func (c *Cookie) ParseBytes(src []byte) error {
	c.Reset()

	var s cookieScanner
	s.b = src

	// The first pair is the cookie itself, the rest are attributes.
	if !s.next(&c.bufK, &c.bufV) {
		return errNoCookies
	}
	c.key = append(c.key, c.bufK...)
	c.value = append(c.value, c.bufV...)

	for s.next(&c.bufK, &c.bufV) {
		if len(c.bufK) > 0 {
			if err := c.parseAttr(c.bufK, c.bufV); err != nil {
				return err
			}
		} else if len(c.bufV) > 0 {
			c.parseFlag(c.bufV)
		}
	}
	return nil
}

// parseAttr handles attributes of the key=value form. Unknown
// attributes are silently skipped.
func (c *Cookie) parseAttr(key, value []byte) error {
	switch {
	case caseInsensitiveCompare(strCookieMaxAge, key):
		maxAge, err := ParseUint(value)
		if err != nil {
			return err
		}
		c.maxAge = maxAge
	case caseInsensitiveCompare(strCookieExpires, key):
		exptime, err := parseCookieExpires(value)
		if err != nil {
			return err
		}
		c.expire = exptime
	case caseInsensitiveCompare(strCookieDomain, key):
		c.domain = append(c.domain[:0], value...)
	case caseInsensitiveCompare(strCookiePath, key):
		c.path = append(c.path[:0], value...)
	case caseInsensitiveCompare(strCookieSameSite, key):
		switch {
		case caseInsensitiveCompare(strCookieSameSiteLax, value):
			c.sameSite = CookieSameSiteLaxMode
		case caseInsensitiveCompare(strCookieSameSiteStrict, value):
			c.sameSite = CookieSameSiteStrictMode
		case caseInsensitiveCompare(strCookieSameSiteNone, value):
			c.sameSite = CookieSameSiteNoneMode
		}
	}
	return nil
}

// parseFlag handles value-less attributes.
func (c *Cookie) parseFlag(v []byte) {
	switch {
	case caseInsensitiveCompare(strCookieHTTPOnly, v):
		c.httpOnly = true
	case caseInsensitiveCompare(strCookieSecure, v):
		c.secure = true
	case caseInsensitiveCompare(strCookieSameSite, v):
		c.sameSite = CookieSameSiteDefaultMode
	case caseInsensitiveCompare(strCookiePartitioned, v):
		c.partitioned = true
	}
}

// parseCookieExpires accepts the RFC1123 format plus the legacy
// dashed-date variant still emitted by some origins.
func parseCookieExpires(v []byte) (time.Time, error) {
	exptime, err := time.ParseInLocation(time.RFC1123, b2s(v), time.UTC)
	if err != nil {
		exptime, err = time.Parse("Mon, 02-Jan-2006 15:04:05 MST", b2s(v))
	}
	return exptime, err
}

func getCookieKey(dst, src []byte) []byte {
	if n := bytes.IndexByte(src, '='); n >= 0 {
		src = src[:n]
	}
	return decodeCookieArg(dst, src, false)
}

func appendRequestCookieBytes(dst []byte, cookies []argsKV) []byte {
	for i := range cookies {
		kv := &cookies[i]
		if i > 0 {
			dst = append(dst, ';', ' ')
		}
		if len(kv.key) > 0 {
			dst = append(dst, kv.key...)
			dst = append(dst, '=')
		}
		dst = append(dst, kv.value...)
	}
	return dst
}

func parseRequestCookies(cookies []argsKV, src []byte) []argsKV {
	var s cookieScanner
	s.b = src
	var kv *argsKV
	cookies, kv = allocArg(cookies)
	for s.next(&kv.key, &kv.value) {
		if len(kv.key) > 0 || len(kv.value) > 0 {
			cookies, kv = allocArg(cookies)
		}
	}
	return releaseArg(cookies)
}

type cookieScanner struct {
	b []byte
}

// next splits off the leading ';'-delimited pair. A pair without '='
// yields an empty key with the whole token as the value.
func (s *cookieScanner) next(key, val *[]byte) bool {
	if len(s.b) == 0 {
		return false
	}

	pair := s.b
	if i := bytes.IndexByte(pair, ';'); i >= 0 {
		pair, s.b = pair[:i], pair[i+1:]
	} else {
		s.b = pair[len(pair):]
	}

	if i := bytes.IndexByte(pair, '='); i >= 0 {
		*key = decodeCookieArg(*key, pair[:i], false)
		*val = decodeCookieArg(*val, pair[i+1:], true)
	} else {
		*key = (*key)[:0]
		*val = decodeCookieArg(*val, pair, true)
	}
	return true
}

func decodeCookieArg(dst, src []byte, skipQuotes bool) []byte {
	src = bytes.TrimLeft(src, " ")
	src = bytes.TrimRight(src, " ")
	if skipQuotes && len(src) > 1 && src[0] == '"' && src[len(src)-1] == '"' {
		src = src[1 : len(src)-1]
	}
	return append(dst[:0], src...)
}
