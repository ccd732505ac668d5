package httpkit

import (
	"bufio"
	"io"
	"sync"
)

// requestStream exposes the request body bytes still sitting on the
// connection as an io.Reader.
//
// Fixed-size bodies end after Content-Length bytes. Chunked bodies are
// decoded on the fly; the trailer section is consumed together with the
// terminal chunk, so a stream read to io.EOF leaves the connection at a
// frame boundary.
type requestStream struct {
	header *RequestHeader
	reader *bufio.Reader

	totalBytesRead int
	chunkLeft      int

	// finished makes reads past the terminal chunk return io.EOF instead
	// of pulling the next request's bytes off the connection.
	finished bool
}

func (rs *requestStream) Read(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	if rs.finished {
		return 0, io.EOF
	}
	if rs.header.ContentLength() == -1 {
		if rs.chunkLeft == 0 {
			chunkSize, err := parseChunkSize(rs.reader)
			if err != nil {
				return 0, err
			}
			if chunkSize == 0 {
				err = skipTrailer(rs.reader)
				if err != nil {
					return 0, err
				}
				rs.finished = true
				return 0, io.EOF
			}
			rs.chunkLeft = chunkSize
		}
		bytesToRead := len(p)
		if rs.chunkLeft < len(p) {
			bytesToRead = rs.chunkLeft
		}
		n, err = rs.reader.Read(p[:bytesToRead])
		rs.totalBytesRead += n
		rs.chunkLeft -= n
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err == nil && rs.chunkLeft == 0 {
			err = readCrLf(rs.reader)
		}
		return n, err
	}
	if rs.totalBytesRead == rs.header.ContentLength() {
		return 0, io.EOF
	}
	left := rs.header.ContentLength() - rs.totalBytesRead
	if len(p) > left {
		p = p[:left]
	}
	n, err = rs.reader.Read(p)
	rs.totalBytesRead += n
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err == nil && rs.totalBytesRead == rs.header.ContentLength() {
		err = io.EOF
	}
	return n, err
}

// drain discards whatever the consumer left unread. maxBodySize bounds the
// leftover bytes so a hostile chunked stream cannot keep the connection
// busy forever. Bytes the handler chose to read on its own don't count
// against the limit.
func (rs *requestStream) drain(maxBodySize int) error {
	vbuf := copyBufPool.Get()
	buf := vbuf.([]byte)
	alreadyRead := rs.totalBytesRead
	var err error
	for err == nil {
		if maxBodySize > 0 && rs.totalBytesRead-alreadyRead > maxBodySize {
			err = ErrBodyTooLarge
			break
		}
		_, err = rs.Read(buf)
	}
	copyBufPool.Put(vbuf)
	if err == io.EOF {
		return nil
	}
	return err
}

func acquireRequestStream(r *bufio.Reader, h *RequestHeader) *requestStream {
	rs := requestStreamPool.Get().(*requestStream)
	rs.reader = r
	rs.header = h
	return rs
}

func releaseRequestStream(rs *requestStream) {
	rs.header = nil
	rs.reader = nil
	rs.totalBytesRead = 0
	rs.chunkLeft = 0
	rs.finished = false
	requestStreamPool.Put(rs)
}

var requestStreamPool = sync.Pool{
	New: func() interface{} {
		return &requestStream{}
	},
}
