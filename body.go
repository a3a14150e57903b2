package supertyphon

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	legacyproto "github.com/golang/protobuf/proto"
	"github.com/monzo/terrors"
	"google.golang.org/protobuf/proto"
)

const (
	formContentType = "application/x-www-form-urlencoded"
	jsonContentType = "application/json"
)

var typeShorthands = map[string]string{
	"json":       jsonContentType,
	"form":       formContentType,
	"urlencoded": formContentType,
	"form-data":  "multipart/form-data",
	"txt":        "text/plain",
	"text":       "text/plain",
	"html":       "text/html",
	"xml":        "application/xml",
	"protobuf":   "application/protobuf",
}

// contentTypeOf expands a Type shorthand or file extension into a MIME type.
func contentTypeOf(t string) string {
	if ct, ok := typeShorthands[t]; ok {
		return ct
	}
	if strings.Contains(t, "/") {
		return t
	}
	if ct := mime.TypeByExtension("." + t); ct != "" {
		return ct
	}
	return t
}

type formFile struct {
	field, filename string
	content         []byte
}

// payload accumulates what Send, Field and Attach are given until the Test is dispatched.
type payload struct {
	raw         []byte
	rawSet      bool
	object      map[string]interface{} // merged JSON objects
	fields      [][2]string
	files       []formFile
	contentType string // implied by what was sent; an explicit Type wins
	err         error
}

func (p *payload) send(v interface{}) {
	switch v := v.(type) {
	case nil:
		return
	case string:
		// Strings are form-encoded unless a type says otherwise; successive ones are joined
		if p.rawSet && p.contentType == formContentType && len(p.raw) > 0 && v != "" {
			p.raw = append(p.raw, '&')
		} else if !p.rawSet {
			p.contentType = formContentType
		}
		p.raw = append(p.raw, v...)
		p.rawSet = true
		return
	case []byte:
		p.setRaw(v, "")
		return
	case proto.Message:
		b, err := proto.Marshal(v)
		p.fail(err)
		p.setRaw(b, "application/protobuf")
		return
	case legacyproto.Message:
		b, err := legacyproto.Marshal(v)
		p.fail(err)
		p.setRaw(b, "application/protobuf")
		return
	case io.Reader:
		b, err := io.ReadAll(v)
		p.fail(err)
		p.setRaw(b, "")
		return
	}

	b, err := json.Marshal(v)
	if err != nil {
		p.fail(err)
		return
	}
	var obj map[string]interface{}
	if json.Unmarshal(b, &obj) == nil && obj != nil && !p.rawSet {
		if p.object == nil {
			p.object = obj
		} else {
			for k, v := range obj {
				p.object[k] = v
			}
		}
		p.contentType = jsonContentType
		return
	}
	p.object = nil
	p.setRaw(b, jsonContentType)
}

func (p *payload) setRaw(b []byte, contentType string) {
	p.raw = b
	p.rawSet = true
	p.object = nil
	if contentType != "" {
		p.contentType = contentType
	}
}

func (p *payload) fail(err error) {
	if err != nil && p.err == nil {
		p.err = terrors.BadRequest("invalid_body", err.Error(), nil)
	}
}

func (p *payload) multipart() bool {
	return len(p.fields) > 0 || len(p.files) > 0
}

// build renders the payload, returning its bytes and the content type they imply (empty if none).
func (p *payload) build() ([]byte, string, error) {
	if p.err != nil {
		return nil, "", p.err
	}
	if p.multipart() {
		if p.rawSet || p.object != nil {
			return nil, "", terrors.BadRequest("invalid_body", "A multipart form cannot also have a body sent", nil)
		}
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		for _, f := range p.fields {
			if err := w.WriteField(f[0], f[1]); err != nil {
				return nil, "", terrors.Wrap(err, nil)
			}
		}
		for _, f := range p.files {
			fw, err := w.CreateFormFile(f.field, f.filename)
			if err != nil {
				return nil, "", terrors.Wrap(err, nil)
			}
			if _, err := fw.Write(f.content); err != nil {
				return nil, "", terrors.Wrap(err, nil)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", terrors.Wrap(err, nil)
		}
		return buf.Bytes(), w.FormDataContentType(), nil
	}
	if p.object != nil {
		b, err := json.Marshal(p.object)
		if err != nil {
			return nil, "", terrors.BadRequest("invalid_body", err.Error(), nil)
		}
		return b, jsonContentType, nil
	}
	return p.raw, p.contentType, nil
}
