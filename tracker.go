package supertyphon

import (
	"context"

	mapset "github.com/deckarep/golang-set"
)

// tracker records work started on behalf of a single Test which the Test has stopped waiting for, such as a call
// abandoned by TimeoutFilter. A Test drains its tracker before it evaluates assertions so that nothing it started
// outlives its callback.
type tracker struct {
	futures mapset.Set // of *ResponseFuture
}

func newTracker() *tracker {
	return &tracker{
		futures: mapset.NewSet()}
}

type trackerKey struct{}

func withTracker(ctx context.Context, t *tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// trackerFromContext returns the tracker carried by ctx, or nil. A nil tracker discards what it is given.
func trackerFromContext(ctx context.Context) *tracker {
	t, _ := ctx.Value(trackerKey{}).(*tracker)
	return t
}

func (t *tracker) add(f *ResponseFuture) {
	if t == nil || f == nil {
		return
	}
	t.futures.Add(f)
}

func (t *tracker) pending() int {
	if t == nil {
		return 0
	}
	return t.futures.Cardinality()
}

// drain waits for every tracked future to complete, or for ctx to be done.
func (t *tracker) drain(ctx context.Context) error {
	if t == nil {
		return nil
	}
	for _, v := range t.futures.ToSlice() {
		f := v.(*ResponseFuture)
		select {
		case <-f.WaitC():
			t.futures.Remove(f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
