// Package websocket implements the server side of the WebSocket protocol
// (RFC 6455) on top of httpkit connections.
//
// An Upgrader validates the handshake, responds 101 Switching Protocols and
// takes the TCP stream over from the HTTP server:
//
//	var upgrader = websocket.Upgrader{}
//
//	func handler(ctx *httpkit.RequestCtx) error {
//		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
//			for {
//				mt, msg, err := conn.ReadMessage()
//				if err != nil {
//					return
//				}
//				if err := conn.WriteMessage(mt, msg); err != nil {
//					return
//				}
//			}
//		})
//		if err != nil {
//			ctx.Logger().Printf("upgrade failed: %v", err)
//		}
//		return nil
//	}
//
// The connection handler runs on its own goroutine after the 101 response
// is flushed. Reads reassemble fragmented messages and answer pings
// transparently; writes never mask, as required for servers.
package websocket
