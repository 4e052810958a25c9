package runner

import (
	"context"
	"sync"
)

// Gate holds the scheduling loop between rounds while a run is paused.
// A round already dispatched is never interrupted by it.
type Gate struct {
	mu       sync.Mutex
	id       int
	paused   bool
	resume   chan struct{}
	onChange func(paused bool)
}

func NewGate(controllerID int) *Gate {
	return &Gate{id: controllerID}
}

// OnChange registers fn to be called after every applied transition.
func (g *Gate) OnChange(fn func(paused bool)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// Pause moves Running to Paused. It reports whether the signal was applied.
func (g *Gate) Pause(id int) bool {
	g.mu.Lock()
	if id != g.id || g.paused {
		g.mu.Unlock()
		return false
	}
	g.paused = true
	g.resume = make(chan struct{})
	fn := g.onChange
	g.mu.Unlock()

	if fn != nil {
		fn(true)
	}
	return true
}

// Resume moves Paused to Running and releases a waiting scheduler.
func (g *Gate) Resume(id int) bool {
	g.mu.Lock()
	if id != g.id || !g.paused {
		g.mu.Unlock()
		return false
	}
	g.paused = false
	close(g.resume)
	fn := g.onChange
	g.mu.Unlock()

	if fn != nil {
		fn(false)
	}
	return true
}

func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait returns immediately while running, otherwise blocks until resumed or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.paused {
			g.mu.Unlock()
			return nil
		}
		ch := g.resume
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
