package supertyphon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	legacyproto "github.com/golang/protobuf/proto"
	"github.com/monzo/terrors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// A Response is the wrapper around http.Response which flows through Services. It is also what a Test hands to its
// assertions and its completion callback, at which point the body has been read in full and may be inspected any
// number of times.
//
// Note that no guarantees are made that a Response is safe to access or mutate concurrently.
type Response struct {
	*http.Response
	Error   error
	Request *Request // The Request that we are responding to
	// Redirects lists the URLs followed by the Test which produced this response, in order.
	Redirects []string
}

// Encode serialises the passed object into the body (and sets appropriate headers).
func (r *Response) Encode(v interface{}) {
	if r.Response == nil {
		r.Response = newHTTPResponse(Request{}, http.StatusOK)
	}

	// If we were given an io.ReadCloser or an io.Reader (that is not also
	// a json.Marshaler or proto.Message), use it directly
	switch v := v.(type) {
	case proto.Message, json.Marshaler, legacyproto.Message:
	case io.ReadCloser:
		r.Body = v
		r.ContentLength = -1
		return
	case io.Reader:
		r.Body = io.NopCloser(v)
		r.ContentLength = -1
		return
	}

	accept := ""
	if r.Request != nil {
		accept = r.Request.Header.Get("Accept")
	}
	switch m := v.(type) {
	case proto.Message:
		// if we didn't ask for protobuf, send JSON
		if !strings.Contains(accept, "application/protobuf") {
			r.EncodeAsProtobufJSON(m)
			return
		}
		r.EncodeAsProtobuf(m)
		return
	case legacyproto.Message:
		if strings.Contains(accept, "application/protobuf") {
			r.EncodeAsLegacyProtobuf(m)
			return
		}
	}

	r.EncodeAsJSON(v)
}

// EncodeAsJSON writes the response as JSON. This is the default encoding type when using Encode.
func (r *Response) EncodeAsJSON(v interface{}) {
	if err := json.NewEncoder(r).Encode(v); err != nil {
		r.Error = terrors.Wrap(err, nil)
		return
	}
	r.Header.Set("Content-Type", "application/json")
}

// EncodeAsProtobuf writes the passed object as protobuf wire format into the body.
func (r *Response) EncodeAsProtobuf(m proto.Message) {
	b, err := proto.Marshal(m)
	if err != nil {
		r.Error = terrors.Wrap(err, nil)
		return
	}
	r.writeEncoded(b, "application/protobuf")
}

// EncodeAsLegacyProtobuf is required as github.com/monzo/terrors still uses the old protobuf code path.
func (r *Response) EncodeAsLegacyProtobuf(m legacyproto.Message) {
	b, err := legacyproto.Marshal(m)
	if err != nil {
		r.Error = terrors.Wrap(err, nil)
		return
	}
	r.writeEncoded(b, "application/protobuf")
}

// EncodeAsProtobufJSON writes well-formed protobuf JSON to the response.
func (r *Response) EncodeAsProtobufJSON(m proto.Message) {
	b, err := protojson.Marshal(m)
	if err != nil {
		r.Error = terrors.Wrap(err, nil)
		return
	}
	r.writeEncoded(b, "application/json")
}

func (r *Response) writeEncoded(b []byte, contentType string) {
	n, err := r.Write(b)
	r.Error = terrors.Wrap(err, nil)
	r.Header.Set("Content-Type", contentType)
	r.ContentLength = int64(n)
}

// Decode de-serialises the body into the passed object.
func (r *Response) Decode(v interface{}) error {
	if r.Error != nil {
		return r.Error
	}

	if r.Response == nil {
		r.Error = terrors.InternalService("", "Response has no body", nil)
		return r.Error
	}

	b, err := r.BodyBytes(false)
	if err != nil {
		r.Error = terrors.WrapWithCode(err, nil, terrors.ErrBadResponse)
		return r.Error
	}

	protobuf := isProtobufContentType(r.Header.Get("Content-Type"))
	switch m := v.(type) {
	// A proto.Message is unmarshalled as protobuf JSON unless the content type says otherwise, so that timestamps and
	// enums survive.
	case proto.Message:
		if protobuf {
			err = proto.Unmarshal(b, m)
		} else {
			err = protojson.Unmarshal(b, m)
		}
	case legacyproto.Message:
		if protobuf {
			err = legacyproto.Unmarshal(b, m)
		} else {
			err = json.Unmarshal(b, m)
		}
	default:
		err = json.Unmarshal(b, v)
	}

	return terrors.WrapWithCode(err, nil, terrors.ErrBadResponse)
}

// Write writes the passed bytes to the response's body.
func (r *Response) Write(b []byte) (n int, err error) {
	if r.Response == nil {
		r.Response = newHTTPResponse(Request{}, http.StatusOK)
	}
	switch rc := r.Body.(type) {
	// In the "regular" case, the response body will be a bufCloser; we can write
	case io.Writer:
		n, err = rc.Write(b)
		if err != nil {
			return n, err
		}
	// If a caller manually sets Response.Body, then we may not be able to write to it. In that case, we need to be
	// cleverer.
	default:
		buf := &bufCloser{}
		if rc != nil {
			if _, err := io.Copy(buf, rc); err != nil {
				// This can be quite bad; we have consumed (and possibly lost) some of the original body
				return 0, err
			}
			// rc will never again be accessible: once it's copied it must be closed
			rc.Close()
		}
		r.Body = buf
		n, err = buf.Write(b)
		if err != nil {
			return n, err
		}
	}

	if r.ContentLength >= 0 {
		r.ContentLength += int64(n)
		if r.ContentLength >= chunkThreshold {
			r.ContentLength = -1
		}
	}
	return n, nil
}

// BodyBytes fully reads the response body and returns the bytes read. If consume is false, the body is copied into a
// new buffer such that it may be read again.
func (r *Response) BodyBytes(consume bool) ([]byte, error) {
	if r.Response == nil || r.Body == nil {
		return nil, nil
	}
	if consume {
		defer r.Body.Close()
		return io.ReadAll(r.Body)
	}

	switch rc := r.Body.(type) {
	case *bufCloser:
		return rc.Bytes(), nil

	default:
		buf := &bufCloser{}
		r.Body = buf
		rdr := io.TeeReader(rc, buf)
		// rc will never again be accessible: once it's copied it must be closed
		defer rc.Close()
		return io.ReadAll(rdr)
	}
}

// Writer returns a ResponseWriter which can be used to populate the response.
//
// This is how an http.Handler target is run inside a Service.
func (r *Response) Writer() ResponseWriter {
	return responseWriterWrapper{
		r: r}
}

// Status returns the status code of the response, or 0 if no response was received.
func (r *Response) Status() int {
	if r == nil || r.Response == nil {
		return 0
	}
	return r.StatusCode
}

// Text returns the raw body as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	b, _ := r.BodyBytes(false)
	return string(b)
}

// ParsedBody returns the parsed body: JSON bodies decode to interface{} (maps, slices, float64s...), url-encoded forms to
// a map[string]interface{} holding a string for each single-valued field and a []string for each repeated one. Any
// other content type, or an unparseable body, yields nil.
func (r *Response) ParsedBody() interface{} {
	if r == nil || r.Response == nil {
		return nil
	}
	b, err := r.BodyBytes(false)
	if err != nil || len(b) == 0 {
		return nil
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			return nil
		}
		return v
	case mt == "application/x-www-form-urlencoded":
		v, err := url.ParseQuery(string(b))
		if err != nil {
			return nil
		}
		return flattenForm(v)
	}
	return nil
}

func flattenForm(v url.Values) map[string]interface{} {
	m := make(map[string]interface{}, len(v))
	for k, vs := range v {
		if len(vs) == 1 {
			m[k] = vs[0]
		} else {
			m[k] = vs
		}
	}
	return m
}

// Get returns the named header field. Fields with more than one value are joined with commas.
func (r *Response) Get(field string) string {
	if r == nil || r.Response == nil {
		return ""
	}
	return strings.Join(r.Header.Values(field), ",")
}

// Redirect reports whether the response carries a redirect status.
func (r *Response) Redirect() bool {
	return redirectStatuses.Contains(r.Status())
}

func (r Response) String() string {
	b := new(bytes.Buffer)
	fmt.Fprint(b, "Response(")
	if r.Response != nil {
		fmt.Fprintf(b, "%d", r.StatusCode)
	} else {
		fmt.Fprint(b, "???")
	}
	if r.Error != nil {
		fmt.Fprintf(b, ", error: %v", r.Error)
	}
	fmt.Fprint(b, ")")
	return b.String()
}

func newHTTPResponse(req Request, statusCode int) *http.Response {
	return &http.Response{
		StatusCode:    statusCode,
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		ContentLength: 0,
		Header:        make(http.Header, 5),
		Body:          &bufCloser{}}
}

// NewResponse constructs a Response with status code 200.
func NewResponse(req Request) Response {
	return NewResponseWithCode(req, http.StatusOK)
}

// NewResponseWithCode constructs a Response with the given status code.
func NewResponseWithCode(req Request, statusCode int) Response {
	return Response{
		Request:  &req,
		Error:    nil,
		Response: newHTTPResponse(req, statusCode)}
}
