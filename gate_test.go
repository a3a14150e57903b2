package supertyphon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGate(t *testing.T) {
	t.Parallel()
	g := newGate()
	select {
	case <-g.C():
		t.Fatal("gate should not be open yet")
	default:
	}
	assert.NoError(t, g.Err())

	err := errors.New("boom")
	g.open(err)
	g.open(nil) // no effect
	<-g.C()
	assert.Equal(t, err, g.Err())

	assert.NoError(t, openGate(nil).Err())
}

func TestWaitAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, b := newGate(), newGate()
	go func() {
		time.Sleep(5 * time.Millisecond)
		a.open(nil)
		b.open(nil)
	}()
	assert.NoError(t, waitAll(ctx, a, b))

	err := errors.New("not listening")
	assert.Equal(t, err, waitAll(ctx, openGate(nil), openGate(err), openGate(errors.New("later"))))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, waitAll(ctx, openGate(nil), newGate()))
}
