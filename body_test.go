package supertyphon

import (
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestContentTypeOf(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"json":             "application/json",
		"form":             "application/x-www-form-urlencoded",
		"urlencoded":       "application/x-www-form-urlencoded",
		"text":             "text/plain",
		"html":             "text/html",
		"xml":              "application/xml",
		"application/yaml": "application/yaml",
		"png":              "image/png",
	}
	for in, expected := range cases {
		assert.Equal(t, expected, contentTypeOf(in), in)
	}
}

func TestPayloadStrings(t *testing.T) {
	t.Parallel()
	p := payload{}
	p.send("a=1")
	p.send("b=2")
	b, ct, err := p.build()
	require.NoError(t, err)
	assert.Equal(t, "a=1&b=2", string(b))
	assert.Equal(t, formContentType, ct)
}

func TestPayloadObjectsMerge(t *testing.T) {
	t.Parallel()
	p := payload{}
	p.send(map[string]interface{}{"a": 1})
	p.send(struct {
		B string `json:"b"`
	}{"x"})
	b, ct, err := p.build()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":"x"}`, string(b))
	assert.Equal(t, jsonContentType, ct)
}

func TestPayloadRaw(t *testing.T) {
	t.Parallel()
	p := payload{}
	p.send([]byte{0, 1, 2})
	b, ct, err := p.build()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, b)
	assert.Empty(t, ct)

	p = payload{}
	p.send(strings.NewReader("streamed"))
	b, _, err = p.build()
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(b))

	// Arrays are JSON too, but are not merged
	p = payload{}
	p.send([]int{1, 2})
	b, ct, err = p.build()
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", string(b))
	assert.Equal(t, jsonContentType, ct)
}

func TestPayloadProto(t *testing.T) {
	t.Parallel()
	p := payload{}
	p.send(wrapperspb.String("hello"))
	b, ct, err := p.build()
	require.NoError(t, err)
	assert.Equal(t, "application/protobuf", ct)
	out := &wrapperspb.StringValue{}
	require.NoError(t, proto.Unmarshal(b, out))
	assert.Equal(t, "hello", out.Value)
}

func TestPayloadMultipart(t *testing.T) {
	t.Parallel()
	p := payload{
		fields: [][2]string{{"name", "john"}},
		files:  []formFile{{field: "avatar", filename: "a.txt", content: []byte("contents")}}}
	b, ct, err := p.build()
	require.NoError(t, err)

	mt, params, err := mime.ParseMediaType(ct)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mt)
	form, err := multipart.NewReader(strings.NewReader(string(b)), params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"john"}, form.Value["name"])
	require.Len(t, form.File["avatar"], 1)
	assert.Equal(t, "a.txt", form.File["avatar"][0].Filename)

	// A multipart form can't also have a body
	p.send("x=1")
	_, _, err = p.build()
	assert.Error(t, err)
}

func TestPayloadUnmarshallable(t *testing.T) {
	t.Parallel()
	p := payload{}
	p.send(map[string]interface{}{"f": func() {}})
	_, _, err := p.build()
	assert.Error(t, err)
}
