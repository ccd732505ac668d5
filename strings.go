package httpkit

var (
	defaultServerName  = []byte("httpkit")
	defaultContentType = []byte("text/plain; charset=utf-8")
)

var (
	strSlash      = []byte("/")
	strCRLF       = []byte("\r\n")
	strHTTP11     = []byte("HTTP/1.1")
	strHTTP10     = []byte("HTTP/1.0")
	strColonSpace = []byte(": ")
	strCommaSpace = []byte(", ")
	strGMT        = []byte("GMT")

	strGet     = []byte("GET")
	strHead    = []byte("HEAD")
	strPost    = []byte("POST")
	strPut     = []byte("PUT")
	strDelete  = []byte("DELETE")
	strConnect = []byte("CONNECT")
	strOptions = []byte("OPTIONS")
	strTrace   = []byte("TRACE")
	strPatch   = []byte("PATCH")

	strConnection       = []byte(HeaderConnection)
	strContentLength    = []byte(HeaderContentLength)
	strContentType      = []byte(HeaderContentType)
	strContentEncoding  = []byte(HeaderContentEncoding)
	strAcceptEncoding   = []byte(HeaderAcceptEncoding)
	strDate             = []byte(HeaderDate)
	strHost             = []byte(HeaderHost)
	strServer           = []byte(HeaderServer)
	strTransferEncoding = []byte(HeaderTransferEncoding)
	strUserAgent        = []byte(HeaderUserAgent)
	strCookie           = []byte(HeaderCookie)
	strSetCookie        = []byte(HeaderSetCookie)
	strVary             = []byte(HeaderVary)
	strUpgrade          = []byte(HeaderUpgrade)
	strLastModified     = []byte(HeaderLastModified)

	strCookieExpires        = []byte("expires")
	strCookieDomain         = []byte("domain")
	strCookiePath           = []byte("path")
	strCookieHTTPOnly       = []byte("HttpOnly")
	strCookieSecure         = []byte("secure")
	strCookieMaxAge         = []byte("max-age")
	strCookieSameSite       = []byte("SameSite")
	strCookieSameSiteLax    = []byte("Lax")
	strCookieSameSiteStrict = []byte("Strict")
	strCookieSameSiteNone   = []byte("None")
	strCookiePartitioned    = []byte("Partitioned")

	strClose     = []byte("close")
	strKeepAlive = []byte("keep-alive")
	strChunked   = []byte("chunked")
	strIdentity  = []byte("identity")
	strWebsocket = []byte("websocket")

	strExpect           = []byte(HeaderExpect)
	str100Continue      = []byte("100-continue")
	strResponseContinue = []byte("HTTP/1.1 100 Continue\r\n\r\n")

	strGzip    = []byte("gzip")
	strBr      = []byte("br")
	strDeflate = []byte("deflate")
	strZstd    = []byte("zstd")

	strTextSlash        = []byte("text/")
	strApplicationSlash = []byte("application/")
	strImageSVG         = []byte("image/svg")
	strImageIcon        = []byte("image/x-icon")
	strFontSlash        = []byte("font/")
	strMultipartSlash   = []byte("multipart/")

	strPostArgsContentType = []byte("application/x-www-form-urlencoded")
)
