// Package terminal owns the terminal for the lifetime of the panel.
package terminal

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
)

// Terminal is the single scoped handle on the terminal. Open switches to the
// alternate screen with mouse capture and raw input; Close restores the
// previous state and is safe to call from every exit path.
type Terminal struct {
	logger *zap.Logger
	screen tcell.Screen

	mu     sync.Mutex
	opened bool
	closed bool
}

// New creates a handle on the controlling terminal without touching it
func New(logger *zap.Logger) (*Terminal, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("failed to open terminal: %w", err)
	}
	return NewWithScreen(logger, screen), nil
}

// NewWithScreen wraps an existing screen, e.g. a simulation screen in tests
func NewWithScreen(logger *zap.Logger, screen tcell.Screen) *Terminal {
	return &Terminal{logger: logger, screen: screen}
}

// Open takes over the terminal: alternate screen, raw mode, hidden cursor
// and mouse button reporting.
func (t *Terminal) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("terminal already released")
	}
	if t.opened {
		return nil
	}

	if err := t.screen.Init(); err != nil {
		return fmt.Errorf("failed to initialise terminal: %w", err)
	}
	t.screen.HideCursor()
	t.screen.EnableMouse(tcell.MouseButtonEvents)
	t.screen.Clear()
	t.opened = true

	w, h := t.screen.Size()
	t.logger.Info("Terminal acquired", zap.Int("cols", w), zap.Int("rows", h))
	return nil
}

// Close restores the terminal. Only the first call has an effect.
func (t *Terminal) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	if !t.opened {
		return
	}

	// Fini leaves the alternate screen, shows the cursor and restores cooked mode
	t.screen.DisableMouse()
	t.screen.Fini()
	t.logger.Info("Terminal restored")
}

// Screen returns the underlying screen for drawing
func (t *Terminal) Screen() tcell.Screen {
	return t.screen
}

// Events pumps terminal input into a channel. The channel is closed when the
// input stream ends (the screen was finalised) or ctx is cancelled.
func (t *Terminal) Events(ctx context.Context) <-chan tcell.Event {
	events := make(chan tcell.Event, 16)
	go func() {
		defer close(events)
		for {
			ev := t.screen.PollEvent()
			if ev == nil {
				t.logger.Debug("Terminal input stream ended")
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events
}
