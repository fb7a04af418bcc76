package main

import (
	"context"
	"fmt"
	"os"

	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/engine"
	"github.com/genricoloni/nowplaying/internal/executor"
	"github.com/genricoloni/nowplaying/internal/fetcher"
	"github.com/genricoloni/nowplaying/internal/input"
	"github.com/genricoloni/nowplaying/internal/monitor"
	"github.com/genricoloni/nowplaying/internal/processor"
	"github.com/genricoloni/nowplaying/internal/render"
	"github.com/genricoloni/nowplaying/internal/terminal"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// AppOptions holds the whole dependency graph, shared by main and the tests
var AppOptions = fx.Options(
	fx.Provide(
		newLogger,
		fx.Annotate(config.NewAppConfig, fx.As(fx.Self()), fx.As(new(domain.Config))),

		// Player control
		newDBusClient,
		fx.Annotate(newPlayer, fx.As(fx.Self()), fx.As(new(domain.Player))),
		fx.Annotate(monitor.NewMprisMonitor, fx.As(fx.Self()), fx.As(new(engine.ChangeSource))),

		// Artwork pipeline
		fx.Annotate(fetcher.NewHTTPFetcher, fx.As(new(domain.Fetcher))),
		fx.Annotate(processor.NewArtworkProcessor, fx.As(new(domain.ImageProcessor))),
		fx.Annotate(fetcher.NewArtCache, fx.As(new(domain.ArtResolver))),
		fx.Annotate(executor.NewChafaRenderer, fx.As(new(domain.Renderer))),

		// Terminal side
		terminal.New,
		newPainter,
		input.NewDispatcher,
		engine.NewEngine,
	),

	fx.Invoke(registerHooks),
)

func main() {
	os.Exit(run())
}

func run() int {
	app := fx.New(
		AppOptions,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()

	// The terminal is untouched (or already restored) when start fails
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "nowplaying: %v\n", err)
		return 1
	}

	// Quit key, end of input, SIGINT or SIGTERM
	sig := <-app.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "nowplaying: shutdown: %v\n", err)
		return 1
	}
	return sig.ExitCode
}

// newLogger creates the file-backed production logger.
// Stderr is never used while the panel owns the terminal.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if os.Getenv("NOWPLAYING_DEBUG") != "" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	path := config.LogFilePath()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// newDBusClient connects to the session bus and closes it on shutdown
func newDBusClient(lc fx.Lifecycle, logger *zap.Logger) (monitor.DBusClient, error) {
	client, err := monitor.NewStdDBusClient()
	if err != nil {
		return nil, fmt.Errorf("player control service unreachable: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debug("Closing D-Bus connection")
			return client.Close()
		},
	})
	return client, nil
}

// newPlayer binds to the active player session; having none is fatal
func newPlayer(logger *zap.Logger, conn monitor.DBusClient) (*monitor.MprisPlayer, error) {
	player := monitor.NewMprisPlayer(logger, conn)
	if err := player.FindActive(); err != nil {
		return nil, fmt.Errorf("no active player session: %w", err)
	}
	return player, nil
}

func newPainter(
	logger *zap.Logger,
	cfg *config.AppConfig,
	term *terminal.Terminal,
	renderer domain.Renderer,
	art domain.ArtResolver,
) *render.Painter {
	return render.NewPainter(logger, term.Screen(), cfg.GetLayout(), renderer, art, cfg.GetRenderTimeout())
}

// registerHooks sets up application lifecycle hooks.
// The monitor starts first so the first redraw sees change notifications;
// fx stops in reverse order, so the terminal is restored before D-Bus closes.
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	cfg *config.AppConfig,
	mon *monitor.MprisMonitor,
	eng *engine.Engine,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("nowplaying started",
				zap.String("layout", layoutSource(cfg)),
				zap.String("renderer", cfg.GetRendererBinary()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			_ = logger.Sync()
			return nil
		},
	})
	lc.Append(fx.Hook{OnStart: mon.Start, OnStop: mon.Stop})
	lc.Append(fx.Hook{OnStart: eng.Start, OnStop: eng.Stop})
}

func layoutSource(cfg *config.AppConfig) string {
	if p := cfg.GetLayoutPath(); p != "" {
		return p
	}
	return "built-in"
}
