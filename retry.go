package supertyphon

import (
	"errors"
	"io"
	"syscall"

	mapset "github.com/deckarep/golang-set"
	"github.com/monzo/terrors"
)

// transportErrorParam classifies a failed round trip on the terror it produced.
const transportErrorParam = "transport_error"

const (
	connectionRefused = "connection_refused"
	connectionReset   = "connection_reset"
)

// Responses with these statuses are retried by default
var retryableStatuses = mapset.NewSet(408, 413, 429, 500, 502, 503, 504, 521, 522, 524)

// A RetryFunc decides whether an attempt is made again. err is the transport error of the attempt and rsp its
// response; either may be nil.
type RetryFunc func(err error, rsp *Response) bool

// DefaultRetry retries timeouts, refused and reset connections, and responses whose status is commonly transient.
func DefaultRetry(err error, rsp *Response) bool {
	if rsp != nil && retryableStatuses.Contains(rsp.Status()) {
		return true
	}
	if err == nil {
		return false
	}
	if terrors.Is(err, terrors.ErrTimeout) {
		return true
	}
	if terr, ok := err.(*terrors.Error); ok {
		switch terr.Params[transportErrorParam] {
		case connectionRefused, connectionReset:
			return true
		}
	}
	return false
}

// wrapTransportError turns a round trip error into a terror, recording what kind of connection failure it was. The
// classification would be lost in the wrapping otherwise.
func wrapTransportError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*terrors.Error); ok {
		return err
	}
	params := map[string]string{}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		params[transportErrorParam] = connectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		params[transportErrorParam] = connectionReset
	}
	return terrors.Wrap(err, params)
}
