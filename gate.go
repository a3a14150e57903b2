package supertyphon

import (
	"context"
	"sync"
)

// A gate is a one-shot readiness signal. It opens exactly once, optionally with an error.
type gate struct {
	once sync.Once
	c    chan struct{}
	err  error
}

func newGate() *gate {
	return &gate{
		c: make(chan struct{})}
}

// openGate returns a gate which is already open.
func openGate(err error) *gate {
	g := newGate()
	g.open(err)
	return g
}

// open opens the gate. Only the first call has any effect.
func (g *gate) open(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.c)
	})
}

func (g *gate) C() <-chan struct{} {
	return g.c
}

// Err is the error the gate was opened with. It is only meaningful once C() is closed.
func (g *gate) Err() error {
	select {
	case <-g.c:
		return g.err
	default:
		return nil
	}
}

// waitAll waits for every gate to open, returning the first error any of them was opened with. If ctx is done first,
// its error is returned.
func waitAll(ctx context.Context, gates ...*gate) error {
	var err error
	for _, g := range gates {
		select {
		case <-g.C():
			if err == nil {
				err = g.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
