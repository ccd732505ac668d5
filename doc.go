// Package httpkit is a minimal HTTP/1.x server-side protocol library.
//
// It parses requests from a byte stream, hands them to an
// application-supplied handler, serializes the handler's response back onto
// the stream, and decides whether to keep the connection alive, close it, or
// hand it off to another protocol (see the websocket subpackage for the
// RFC 6455 upgrade and frame codec).
//
// The entry point is Server:
//
//	s := &httpkit.Server{
//		Handler: func(ctx *httpkit.RequestCtx) error {
//			ctx.WriteString("Hello world!")
//			return nil
//		},
//	}
//	log.Fatal(s.ListenAndServe(":8080"))
//
// httpkit aims for zero allocations in the hot path. Request and response
// objects are pooled and reused between requests on the same connection, so
// handlers must not retain references to them (or to any []byte they expose)
// after returning.
package httpkit
