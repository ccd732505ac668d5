package httpkit

// Header names used by this package. Passing these constants to header
// lookups avoids typos; any string works as well since lookups are
// case-insensitive.
const (
	HeaderAcceptEncoding       = "Accept-Encoding"
	HeaderConnection           = "Connection"
	HeaderContentEncoding      = "Content-Encoding"
	HeaderContentLength        = "Content-Length"
	HeaderContentType          = "Content-Type"
	HeaderCookie               = "Cookie"
	HeaderDate                 = "Date"
	HeaderExpect               = "Expect"
	HeaderHost                 = "Host"
	HeaderLastModified         = "Last-Modified"
	HeaderLocation             = "Location"
	HeaderOrigin               = "Origin"
	HeaderServer               = "Server"
	HeaderSetCookie            = "Set-Cookie"
	HeaderTransferEncoding     = "Transfer-Encoding"
	HeaderUpgrade              = "Upgrade"
	HeaderUserAgent            = "User-Agent"
	HeaderVary                 = "Vary"
	HeaderSecWebSocketAccept   = "Sec-WebSocket-Accept"
	HeaderSecWebSocketKey      = "Sec-WebSocket-Key"
	HeaderSecWebSocketProtocol = "Sec-WebSocket-Protocol"
	HeaderSecWebSocketVersion  = "Sec-WebSocket-Version"
)
