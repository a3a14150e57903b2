package supertyphon

import (
	"context"
	"net/http"
)

type metadataKey struct{}

// Metadata is a set of headers carried on a context. Every request built from that context (including each
// redirect hop of a Test) starts out with these headers.
type Metadata map[string][]string

// NewMetadata creates a metadata struct from a map of strings.
func NewMetadata(data map[string]string) Metadata {
	meta := make(Metadata, len(data))
	for k, v := range data {
		meta[k] = []string{v}
	}
	return meta
}

// AppendMetadataToContext sets the metadata on the context, merging it over any metadata the context already has.
func AppendMetadataToContext(ctx context.Context, md Metadata) context.Context {
	merged := MetadataFromContext(ctx)
	for k, v := range md {
		merged[k] = v
	}
	return context.WithValue(ctx, metadataKey{}, merged)
}

// MetadataFromContext retrieves the metadata from the context. The returned value is a copy.
func MetadataFromContext(ctx context.Context) Metadata {
	meta, ok := ctx.Value(metadataKey{}).(Metadata)
	if !ok {
		return Metadata{}
	}
	out := make(Metadata, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// Header returns the metadata as canonicalised HTTP headers.
func (m Metadata) Header() http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	return h
}
