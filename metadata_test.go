package supertyphon

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataRoundtrip(t *testing.T) {
	meta := NewMetadata(map[string]string{
		"meta": "data",
	})
	ctx := context.Background()

	withMeta := AppendMetadataToContext(ctx, meta)
	out := MetadataFromContext(withMeta)

	assert.Equal(t, meta, out)
}

func TestMetadataNotSet(t *testing.T) {
	meta := NewMetadata(map[string]string{})
	out := MetadataFromContext(context.Background())

	assert.Equal(t, meta, out)
}

func TestMetadataMerges(t *testing.T) {
	ctx := AppendMetadataToContext(context.Background(), NewMetadata(map[string]string{
		"a": "1",
		"b": "2"}))
	ctx = AppendMetadataToContext(ctx, NewMetadata(map[string]string{
		"b": "3"}))

	assert.Equal(t, Metadata{
		"a": {"1"},
		"b": {"3"}}, MetadataFromContext(ctx))
	assert.Equal(t, http.Header{
		"A": {"1"},
		"B": {"3"}}, MetadataFromContext(ctx).Header())
}

func TestMetadataSentWithRequests(t *testing.T) {
	ctx := AppendMetadataToContext(context.Background(), NewMetadata(map[string]string{
		"x-trace": "abc"}))
	req := NewRequest(ctx, "GET", "http://localhost/", nil)
	assert.Equal(t, "abc", req.Header.Get("X-Trace"))
}
