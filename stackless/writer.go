package stackless

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// Writer is the common subset of the writers from the compress/*
// packages that a stackless writer can wrap.
type Writer interface {
	Write(p []byte) (int, error)
	Flush() error
	Close() error
	Reset(w io.Writer)
}

// NewWriterFunc constructs the writer to be wrapped. It is called once
// per stackless writer with the capture buffer as the destination.
type NewWriterFunc func(w io.Writer) Writer

// NewWriter wraps the writer built by newWriter so that its operations
// run on the shared stackless worker pool instead of the calling
// goroutine's stack. Compressed output lands in dstW.
func NewWriter(dstW io.Writer, newWriter NewWriterFunc) Writer {
	w := &writer{
		dst: dstW,
	}
	w.wrapped = newWriter(&w.capture)
	return w
}

type writer struct {
	dst     io.Writer
	wrapped Writer
	capture captureWriter

	err error
	n   int

	p  []byte
	op op
}

type op int

const (
	opWrite op = iota
	opFlush
	opClose
	opReset
)

func (w *writer) Write(p []byte) (int, error) {
	w.p = p
	err := w.do(opWrite)
	w.p = nil
	return w.n, err
}

func (w *writer) Flush() error {
	return w.do(opFlush)
}

func (w *writer) Close() error {
	return w.do(opClose)
}

func (w *writer) Reset(dstW io.Writer) {
	w.capture.Reset()
	w.do(opReset) //nolint:errcheck
	w.dst = dstW
}

// do runs a single operation on the worker pool and then moves whatever
// the wrapped writer produced from the capture buffer into dst.
func (w *writer) do(op op) error {
	w.op = op
	if !sharedWriterFunc(w) {
		return errHighLoad
	}
	err := w.err
	if err != nil {
		return err
	}
	if w.capture.bb != nil && len(w.capture.bb.B) > 0 {
		_, err = w.dst.Write(w.capture.bb.B)
	}
	w.capture.Reset()

	return err
}

var errHighLoad = errors.New("cannot compress data due to high load")

// All stackless writers share one worker pool; the pool is sized by
// GOMAXPROCS inside NewFunc.
var (
	sharedWriterFuncOnce sync.Once
	sharedWriterFuncFn   func(ctx any) bool
)

func sharedWriterFunc(ctx any) bool {
	sharedWriterFuncOnce.Do(func() {
		sharedWriterFuncFn = NewFunc(runWriterOp)
	})
	return sharedWriterFuncFn(ctx)
}

func runWriterOp(ctx any) {
	w := ctx.(*writer)
	switch w.op {
	case opWrite:
		w.n, w.err = w.wrapped.Write(w.p)
	case opFlush:
		w.err = w.wrapped.Flush()
	case opClose:
		w.err = w.wrapped.Close()
	case opReset:
		w.wrapped.Reset(&w.capture)
		w.err = nil
	default:
		panic(fmt.Sprintf("BUG: unexpected op: %d", w.op))
	}
}

// captureWriter collects the wrapped writer's output while it runs on a
// worker goroutine.
type captureWriter struct {
	bb *bytebufferpool.ByteBuffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.bb == nil {
		w.bb = captureBufferPool.Get()
	}
	w.bb.Write(p) //nolint:errcheck
	return len(p), nil
}

func (w *captureWriter) Reset() {
	if w.bb != nil {
		captureBufferPool.Put(w.bb)
		w.bb = nil
	}
}

var captureBufferPool bytebufferpool.Pool
