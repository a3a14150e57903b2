package supertyphon

import (
	"io"
	"net/http"
)

// chunkThreshold is the body size above which a Request or Response stops tracking its content length and is sent
// with chunked transfer encoding instead.
const chunkThreshold = 5 * 1000000 // 5 megabytes

// copyChunked copies src to dst, flushing after every read so that a handler target which streams its body is
// observed by the Test as it writes.
func copyChunked(dst io.Writer, src io.Reader, buf []byte) (written int64, err error) {
	flusher, flusherOk := dst.(http.Flusher)
	if !flusherOk {
		return io.Copy(dst, src)
	}

	// http2 won't write response headers until there is at least one byte of the body available. Calling Flush()
	// forces headers to be sent.
	flusher.Flush()

	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if ew != nil {
				err = ew
				break
			}
			flusher.Flush()
			if nr != nw {
				err = io.ErrShortWrite
				break
			}
		}
		if er != nil {
			if er != io.EOF {
				err = er
			}
			break
		}
	}
	return
}
