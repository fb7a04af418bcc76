package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/input"
	"github.com/genricoloni/nowplaying/internal/layout"
	"github.com/genricoloni/nowplaying/internal/render"
	"github.com/genricoloni/nowplaying/internal/terminal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// playerCallTimeout bounds a single snapshot read or transport command
	playerCallTimeout = 2 * time.Second

	// warnInterval is the minimum gap between two identical warnings
	warnInterval = 5 * time.Second
)

// State of the event core
type State int32

const (
	// StateRunning is the normal operating state
	StateRunning State = iota
	// StateTerminating is entered once; the process is shutting down
	StateTerminating
)

// ChangeSource notifies that the player's track or status changed
type ChangeSource interface {
	Changes() <-chan struct{}
}

// Engine is the event core of the panel.
// It races the refresh ticker against terminal input and player change
// notifications, dispatches commands and schedules redraws.
type Engine struct {
	logger     *zap.Logger
	cfg        domain.Config
	player     domain.Player
	painter    *render.Painter
	term       *terminal.Terminal
	dispatcher *input.Dispatcher
	changes    ChangeSource
	shutdowner fx.Shutdowner

	geom    layout.Geometry
	redraws *Redrawer
	state   atomic.Int32

	cancel context.CancelFunc
	group  *errgroup.Group

	// drawMu is held by every redraw pass and by terminal release, so the
	// screen is never finalised under a pass still writing to it
	drawMu sync.Mutex

	warnMu      sync.Mutex
	lastWarning map[string]time.Time
}

// NewEngine creates a new event core
func NewEngine(
	logger *zap.Logger,
	cfg domain.Config,
	player domain.Player,
	painter *render.Painter,
	term *terminal.Terminal,
	dispatcher *input.Dispatcher,
	changes ChangeSource,
	shutdowner fx.Shutdowner,
) *Engine {
	e := &Engine{
		logger:      logger,
		cfg:         cfg,
		player:      player,
		painter:     painter,
		term:        term,
		dispatcher:  dispatcher,
		changes:     changes,
		shutdowner:  shutdowner,
		geom:        painter.Geometry(),
		lastWarning: make(map[string]time.Time),
	}
	e.redraws = NewRedrawer(e.redraw)
	return e
}

// State reports the current state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Start takes over the terminal and launches the event loop and the
// redrawer. It returns immediately (non-blocking).
func (e *Engine) Start(_ context.Context) error {
	e.logger.Info("Engine starting...",
		zap.Duration("refresh", e.cfg.GetRefreshInterval()))

	if err := e.term.Open(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	e.cancel = cancel
	e.group = g

	g.Go(func() error { return e.redraws.Run(gctx) })
	g.Go(func() error { return e.runLoop(gctx) })

	e.redraws.Request(true)
	return nil
}

// Stop ends the loop and the redrawer, then restores the terminal
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")
	// Runs after a timed-out wait too: it blocks until the pass in flight,
	// already cancelled, has returned
	defer e.closeTerminal()

	if e.cancel == nil {
		return nil
	}
	e.cancel()

	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("engine did not stop in time: %w", ctx.Err())
	}
}

// runLoop is the single event loop. Only this goroutine dispatches commands.
func (e *Engine) runLoop(ctx context.Context) error {
	defer e.restoreOnPanic()

	ticker := time.NewTicker(e.cfg.GetRefreshInterval())
	defer ticker.Stop()

	events := e.term.Events(ctx)
	changes := e.changes.Changes()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return nil

		case <-ticker.C:
			e.redraws.Request(false)

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			e.logger.Debug("Player changed, redrawing")
			e.redraws.Request(false)

		case ev, ok := <-events:
			if !ok {
				e.terminate("input stream ended", 0)
				return nil
			}
			if errEv, isErr := ev.(*tcell.EventError); isErr {
				e.logger.Error("Failed to read terminal input", zap.Error(errEv))
				e.terminate("input error", 1)
				return nil
			}
			if e.handleEvent(ctx, ev) {
				return nil
			}
		}
	}
}

// handleEvent reacts to one terminal event. Returns true when the loop must end.
func (e *Engine) handleEvent(ctx context.Context, ev tcell.Event) bool {
	if _, ok := ev.(*tcell.EventResize); ok {
		e.logger.Debug("Terminal resized")
		e.redraws.Request(true)
		return false
	}

	cmd := e.dispatcher.Dispatch(ev, e.geom)
	switch {
	case cmd == domain.CommandNone:
		return false
	case cmd == domain.CommandQuit:
		e.terminate("quit requested", 0)
		return true
	case cmd == domain.CommandForceRefresh:
		e.redraws.Request(true)
	case cmd.IsTransport():
		e.transport(ctx, cmd)
		e.redraws.Request(false)
	}
	return false
}

// transport issues a player command. Failures are logged and swallowed.
func (e *Engine) transport(ctx context.Context, cmd domain.Command) {
	ctx, cancel := context.WithTimeout(ctx, playerCallTimeout)
	defer cancel()

	var err error
	switch cmd {
	case domain.CommandPrevious:
		err = e.player.Previous(ctx)
	case domain.CommandNext:
		err = e.player.Next(ctx)
	case domain.CommandPlayPause:
		err = e.player.PlayPause(ctx)
	}

	if err != nil {
		e.logger.Error("Player command failed", zap.Stringer("command", cmd), zap.Error(err))
		return
	}
	e.logger.Debug("Player command sent", zap.Stringer("command", cmd))
}

// redraw is one pass: fresh snapshot, then the three draw operations
func (e *Engine) redraw(ctx context.Context, clear bool) {
	defer e.restoreOnPanic()

	e.drawMu.Lock()
	defer e.drawMu.Unlock()

	if clear {
		e.painter.Clear()
	}

	snapCtx, cancel := context.WithTimeout(ctx, playerCallTimeout)
	snap, err := e.player.Snapshot(snapCtx)
	cancel()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.warnThrottled("Redraw skipped, player unavailable", err)
		}
		return
	}

	if err := e.painter.DrawAll(ctx, snap); err != nil && ctx.Err() == nil {
		e.warnThrottled("Redraw incomplete", err)
	}
}

// terminate moves to Terminating and asks the application to shut down.
// Only the first call has an effect.
func (e *Engine) terminate(reason string, code int) {
	if !e.state.CompareAndSwap(int32(StateRunning), int32(StateTerminating)) {
		return
	}
	e.logger.Info("Terminating", zap.String("reason", reason), zap.Int("exit_code", code))
	if err := e.shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
		e.logger.Error("Failed to request shutdown", zap.Error(err))
	}
}

// restoreOnPanic gives the terminal back before a panic unwinds the process.
// Deferred ahead of the drawMu unlock, so a panicking pass has released it.
func (e *Engine) restoreOnPanic() {
	if r := recover(); r != nil {
		e.logger.Error("Engine panicked, restoring terminal", zap.Any("panic", r))
		e.closeTerminal()
		_ = e.logger.Sync()
		panic(r)
	}
}

// closeTerminal releases the terminal once no redraw pass is running
func (e *Engine) closeTerminal() {
	e.drawMu.Lock()
	defer e.drawMu.Unlock()
	e.term.Close()
}

// warnThrottled logs a warning unless the same one was logged recently
func (e *Engine) warnThrottled(msg string, err error) {
	key := msg + ": " + err.Error()
	now := time.Now()

	e.warnMu.Lock()
	last, seen := e.lastWarning[key]
	if seen && now.Sub(last) < warnInterval {
		e.warnMu.Unlock()
		return
	}
	e.lastWarning[key] = now
	e.warnMu.Unlock()

	e.logger.Warn(msg, zap.Error(err))
}
