package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/domain/mocks"
	"github.com/genricoloni/nowplaying/internal/input"
	"github.com/genricoloni/nowplaying/internal/layout"
	"github.com/genricoloni/nowplaying/internal/render"
	"github.com/genricoloni/nowplaying/internal/terminal"
	"go.uber.org/fx"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testConfig struct {
	refresh time.Duration
}

func (c testConfig) GetRefreshInterval() time.Duration { return c.refresh }
func (c testConfig) GetRendererBinary() string          { return "chafa" }
func (c testConfig) GetRenderTimeout() time.Duration    { return time.Second }
func (c testConfig) GetCacheDir() string                { return "" }

type fakeShutdowner struct {
	calls atomic.Int32
	ch    chan struct{}
}

func newFakeShutdowner() *fakeShutdowner {
	return &fakeShutdowner{ch: make(chan struct{}, 4)}
}

func (f *fakeShutdowner) Shutdown(...fx.ShutdownOption) error {
	f.calls.Add(1)
	f.ch <- struct{}{}
	return nil
}

type chanSource struct {
	ch chan struct{}
}

func (c chanSource) Changes() <-chan struct{} { return c.ch }

// countingScreen counts how often the terminal was restored. Closing
// inputDone ends the input stream without finalising the screen.
type countingScreen struct {
	tcell.SimulationScreen
	mu        sync.Mutex
	finis     int
	inputDone chan struct{}
}

// eventQueue is implemented by the simulation screen
type eventQueue interface {
	EventQ() chan tcell.Event
	StopQ() <-chan struct{}
}

func (s *countingScreen) PollEvent() tcell.Event {
	q := s.SimulationScreen.(eventQueue)
	select {
	case <-s.inputDone:
		return nil
	case <-q.StopQ():
		return nil
	case ev := <-q.EventQ():
		return ev
	}
}

func (s *countingScreen) Fini() {
	s.mu.Lock()
	s.finis++
	s.mu.Unlock()
	s.SimulationScreen.Fini()
}

func (s *countingScreen) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finis
}

type harness struct {
	engine     *Engine
	screen     *countingScreen
	term       *terminal.Terminal
	player     *mocks.MockPlayer
	shutdowner *fakeShutdowner
	changes    chan struct{}
	geom       layout.Geometry
}

var testSnapshot = domain.Snapshot{
	Title: "Song", HasTitle: true,
	Artists: []string{"Band"}, HasArtists: true,
	Album:  "Record",
	Status: domain.StatusPlaying,
}

func newHarness(t *testing.T, logger *zap.Logger, refresh time.Duration) *harness {
	ctrl := gomock.NewController(t)

	screen := &countingScreen{
		SimulationScreen: tcell.NewSimulationScreen("UTF-8"),
		inputDone:        make(chan struct{}),
	}
	term := terminal.NewWithScreen(logger, screen)
	painter := render.NewPainter(logger, screen, layout.Default(),
		mocks.NewMockRenderer(ctrl), mocks.NewMockArtResolver(ctrl), time.Second)

	h := &harness{
		screen:     screen,
		term:       term,
		player:     mocks.NewMockPlayer(ctrl),
		shutdowner: newFakeShutdowner(),
		changes:    make(chan struct{}, 1),
	}
	h.engine = NewEngine(logger, testConfig{refresh: refresh}, h.player, painter, term,
		input.NewDispatcher(), chanSource{ch: h.changes}, h.shutdowner)
	h.geom = painter.Geometry()
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	t.Cleanup(func() {
		_ = h.engine.Stop(context.Background())
	})
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func TestEngine_QuitRestoresTerminalOnce(t *testing.T) {
	tests := []struct {
		name string
		ev   tcell.Event
	}{
		{"q", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)},
		{"Esc", tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, zap.NewNop(), time.Hour)
			h.player.EXPECT().Snapshot(gomock.Any()).Return(testSnapshot, nil).AnyTimes()
			h.start(t)

			if err := h.screen.PostEvent(tt.ev); err != nil {
				t.Fatalf("failed to post event: %v", err)
			}
			waitFor(t, h.shutdowner.ch, "shutdown request")

			if h.engine.State() != StateTerminating {
				t.Errorf("expected Terminating state, got %v", h.engine.State())
			}

			if err := h.engine.Stop(context.Background()); err != nil {
				t.Fatalf("unexpected stop error: %v", err)
			}
			h.term.Close()

			if got := h.screen.count(); got != 1 {
				t.Errorf("expected the terminal to be restored once, got %d", got)
			}
			if got := h.shutdowner.calls.Load(); got != 1 {
				t.Errorf("expected one shutdown request, got %d", got)
			}
		})
	}
}

func TestEngine_DispatchesTransportCommands(t *testing.T) {
	geom := layout.Resolve(layout.Default())

	tests := []struct {
		name   string
		ev     tcell.Event
		expect func(p *mocks.MockPlayer, done chan struct{})
	}{
		{
			name: "Space toggles playback",
			ev:   tcell.NewEventKey(tcell.KeyRune, ' ', tcell.ModNone),
			expect: func(p *mocks.MockPlayer, done chan struct{}) {
				p.EXPECT().PlayPause(gomock.Any()).DoAndReturn(func(context.Context) error {
					close(done)
					return nil
				})
			},
		},
		{
			name: "Left skips back",
			ev:   tcell.NewEventKey(tcell.KeyLeft, 0, tcell.ModNone),
			expect: func(p *mocks.MockPlayer, done chan struct{}) {
				p.EXPECT().Previous(gomock.Any()).DoAndReturn(func(context.Context) error {
					close(done)
					return nil
				})
			},
		},
		{
			name: "Click on next",
			ev:   tcell.NewEventMouse(geom.Next.IconCol, geom.Next.Row, tcell.Button1, tcell.ModNone),
			expect: func(p *mocks.MockPlayer, done chan struct{}) {
				p.EXPECT().Next(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
					if _, ok := ctx.Deadline(); !ok {
						t.Error("player command should carry a deadline")
					}
					close(done)
					return nil
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, zap.NewNop(), time.Hour)
			h.player.EXPECT().Snapshot(gomock.Any()).Return(testSnapshot, nil).AnyTimes()
			done := make(chan struct{})
			tt.expect(h.player, done)
			h.start(t)

			if err := h.screen.PostEvent(tt.ev); err != nil {
				t.Fatalf("failed to post event: %v", err)
			}
			waitFor(t, done, "player command")

			if h.engine.State() != StateRunning {
				t.Error("engine should keep running after a transport command")
			}
		})
	}
}

func TestEngine_CommandFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, zap.NewNop(), time.Hour)
	h.player.EXPECT().Snapshot(gomock.Any()).Return(testSnapshot, nil).AnyTimes()
	called := make(chan struct{})
	h.player.EXPECT().PlayPause(gomock.Any()).DoAndReturn(func(context.Context) error {
		close(called)
		return errors.New("org.freedesktop.DBus.Error.ServiceUnknown")
	})
	h.start(t)

	_ = h.screen.PostEvent(tcell.NewEventKey(tcell.KeyRune, ' ', tcell.ModNone))
	waitFor(t, called, "play/pause")

	_ = h.screen.PostEvent(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone))
	waitFor(t, h.shutdowner.ch, "shutdown request")
}

func TestEngine_SnapshotFailuresAreThrottled(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := newHarness(t, zap.New(core), 2*time.Millisecond)

	var calls atomic.Int32
	enough := make(chan struct{})
	h.player.EXPECT().Snapshot(gomock.Any()).DoAndReturn(func(context.Context) (domain.Snapshot, error) {
		if calls.Add(1) == 5 {
			close(enough)
		}
		return domain.Snapshot{}, errors.New("player went away")
	}).AnyTimes()
	h.start(t)

	waitFor(t, enough, "repeated redraw passes")

	if got := logs.FilterMessage("Redraw skipped, player unavailable").Len(); got != 1 {
		t.Errorf("expected a single warning, got %d", got)
	}
	if h.engine.State() != StateRunning {
		t.Error("snapshot failures must not stop the engine")
	}
}

func TestEngine_PlayerChangeRequestsRedraw(t *testing.T) {
	h := newHarness(t, zap.NewNop(), time.Hour)

	passes := make(chan struct{}, 4)
	h.player.EXPECT().Snapshot(gomock.Any()).DoAndReturn(func(context.Context) (domain.Snapshot, error) {
		passes <- struct{}{}
		return testSnapshot, nil
	}).AnyTimes()
	h.start(t)

	waitFor(t, passes, "initial redraw")
	notify(h.changes)
	waitFor(t, passes, "redraw after player change")

	// The initial draw put the metadata on screen
	r, _, _, _ := h.screen.GetContent(h.geom.Title.Col, h.geom.Title.Row)
	if r != 'B' {
		t.Errorf("expected metadata to be drawn, got %q at title origin", r)
	}
}

func TestEngine_InputEndTerminates(t *testing.T) {
	h := newHarness(t, zap.NewNop(), time.Hour)
	h.player.EXPECT().Snapshot(gomock.Any()).Return(testSnapshot, nil).AnyTimes()
	h.start(t)

	close(h.screen.inputDone)
	waitFor(t, h.shutdowner.ch, "shutdown request")

	if h.engine.State() != StateTerminating {
		t.Error("expected Terminating state")
	}
	if err := h.engine.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if got := h.screen.count(); got != 1 {
		t.Errorf("expected the terminal to be restored once, got %d", got)
	}
}

func TestEngine_StopWaitsForRedrawBeforeRestoring(t *testing.T) {
	h := newHarness(t, zap.NewNop(), time.Hour)

	inPass := make(chan struct{}, 1)
	release := make(chan struct{})
	h.player.EXPECT().Snapshot(gomock.Any()).DoAndReturn(func(context.Context) (domain.Snapshot, error) {
		select {
		case inPass <- struct{}{}:
		default:
		}
		<-release
		return testSnapshot, nil
	}).AnyTimes()
	h.start(t)

	waitFor(t, inPass, "initial redraw")

	// Stop gives up waiting at once, yet must not finalise the screen
	// under the pass that is still running
	expired, cancel := context.WithCancel(context.Background())
	cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- h.engine.Stop(expired) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a redraw pass was still running")
	case <-time.After(50 * time.Millisecond):
	}
	if got := h.screen.count(); got != 0 {
		t.Fatalf("terminal restored under a running pass (%d restores)", got)
	}

	close(release)
	select {
	case err := <-stopped:
		if err == nil {
			t.Error("expected the expired stop context to be reported")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}
	if got := h.screen.count(); got != 1 {
		t.Errorf("expected the terminal to be restored once, got %d", got)
	}
}
