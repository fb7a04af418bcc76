package engine

import (
	"context"
	"sync"
)

// PassFunc performs one redraw. clear asks for a full screen wipe first.
type PassFunc func(ctx context.Context, clear bool)

// Redrawer serialises redraw passes onto a single goroutine. Requests made
// while a pass is running collapse into one follow-up pass; a clear request
// stays pending until a pass consumes it and cancels the pass in flight.
type Redrawer struct {
	pass PassFunc
	wake chan struct{}

	mu       sync.Mutex
	clear    bool
	inflight context.CancelFunc
}

// NewRedrawer creates a redrawer running pass for every coalesced request
func NewRedrawer(pass PassFunc) *Redrawer {
	return &Redrawer{
		pass: pass,
		wake: make(chan struct{}, 1),
	}
}

// Request schedules a pass. It never blocks.
func (r *Redrawer) Request(clear bool) {
	if clear {
		r.mu.Lock()
		r.clear = true
		if r.inflight != nil {
			r.inflight()
		}
		r.mu.Unlock()
	}

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run executes passes until ctx is done
func (r *Redrawer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.wake:
			r.runPass(ctx)
		}
	}
}

func (r *Redrawer) runPass(ctx context.Context) {
	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	clear := r.clear
	r.clear = false
	r.inflight = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight = nil
		r.mu.Unlock()
	}()

	r.pass(passCtx, clear)
}
