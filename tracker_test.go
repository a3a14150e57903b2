package supertyphon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerFromContext(t *testing.T) {
	t.Parallel()
	assert.Nil(t, trackerFromContext(context.Background()))

	tr := newTracker()
	assert.Equal(t, tr, trackerFromContext(withTracker(context.Background(), tr)))
}

func TestNilTracker(t *testing.T) {
	t.Parallel()
	var tr *tracker
	tr.add(&ResponseFuture{})
	assert.Equal(t, 0, tr.pending())
	assert.NoError(t, tr.drain(context.Background()))
}

func TestTrackerDrain(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	f := SendVia(NewRequest(nil, "GET", "/", nil), func(req Request) Response {
		return NewResponse(req)
	})
	tr.add(f)
	tr.add(nil)
	assert.Equal(t, 1, tr.pending())
	assert.NoError(t, tr.drain(context.Background()))
	assert.Equal(t, 0, tr.pending())
}
