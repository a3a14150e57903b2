package supertyphon

import (
	"bytes"
)

// bufCloser is the body type of every Request and Response built by this package. Its contents can be read any
// number of times through BodyBytes(false), which is what lets a Test replay a body across retries and redirects.
type bufCloser struct {
	bytes.Buffer
}

func (b *bufCloser) Close() error {
	return nil // No-op
}

func newBufCloser(b []byte) *bufCloser {
	buf := &bufCloser{}
	buf.Write(b)
	return buf
}
