package httpkit

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

func ExampleListenAndServe() {
	// This function will be called by the server for each incoming
	// request. A returned error is converted into a plain 500 response;
	// it never takes the server down.
	requestHandler := func(ctx *RequestCtx) error {
		fmt.Fprintf(ctx, "Hello, world! Requested path is %q", ctx.Path())
		return nil
	}

	// ListenAndServe returns only on listener error, so usually
	// it blocks forever.
	if err := ListenAndServe("127.0.0.1:8080", requestHandler); err != nil {
		log.Fatalf("error in ListenAndServe: %s", err)
	}
}

func ExampleServe() {
	// Any net.Listener works here, not just TCP: unix socket listeners
	// and in-memory listeners from httpkitutil are fine too.
	ln, err := net.Listen("tcp4", "127.0.0.1:8080")
	if err != nil {
		log.Fatalf("error in net.Listen: %s", err)
	}

	requestHandler := func(ctx *RequestCtx) error {
		fmt.Fprintf(ctx, "Hello, world! Requested path is %q", ctx.Path())
		return nil
	}

	// Serve returns after Shutdown or on listener error.
	if err := Serve(ln, requestHandler); err != nil {
		log.Fatalf("error in Serve: %s", err)
	}
}

func ExampleServer_Shutdown() {
	s := &Server{
		Handler: func(ctx *RequestCtx) error {
			ctx.SetBodyString("ok")
			return nil
		},
	}

	go func() {
		if err := s.ListenAndServe("127.0.0.1:8080"); err != nil {
			log.Fatalf("error in ListenAndServe: %s", err)
		}
	}()

	// Soft stop: the listener closes immediately, in-flight requests
	// finish their cycle, idle keep-alive connections are reaped.
	if err := s.Shutdown(); err != nil {
		log.Fatalf("error in Shutdown: %s", err)
	}

	// The hard variant severs whatever is still running once the
	// context expires.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.ShutdownWithContext(ctx); err != nil {
		log.Fatalf("error in ShutdownWithContext: %s", err)
	}
}

func ExampleRequestCtx_Hijack() {
	requestHandler := func(ctx *RequestCtx) error {
		ctx.SetStatusCode(StatusSwitchingProtocols)

		// The handler runs after the response has been sent; from then
		// on the connection is no longer HTTP.
		ctx.Hijack(func(c net.Conn) {
			fmt.Fprintf(c, "the connection is yours now")
		})
		return nil
	}

	if err := ListenAndServe("127.0.0.1:8080", requestHandler); err != nil {
		log.Fatalf("error in ListenAndServe: %s", err)
	}
}
