package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/genricoloni/nowplaying/internal/layout"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	appName                = "nowplaying"
	defaultRefreshInterval = 100 * time.Millisecond
	defaultRenderTimeout   = 2 * time.Second
	defaultRenderer        = "chafa"
)

// AppConfig holds application configuration
type AppConfig struct {
	logger          *zap.Logger
	layoutPath      string
	layout          layout.Layout
	refreshInterval time.Duration
	renderer        string
	renderTimeout   time.Duration
	cacheDir        string
}

// NewAppConfig reads the environment and loads the layout file.
// A missing default layout file falls back to the built-in layout; an
// explicitly configured file that is missing or malformed is an error.
func NewAppConfig(logger *zap.Logger) (*AppConfig, error) {
	refresh, err := durationEnv("NOWPLAYING_REFRESH", defaultRefreshInterval)
	if err != nil {
		return nil, err
	}
	renderTimeout, err := durationEnv("NOWPLAYING_RENDER_TIMEOUT", defaultRenderTimeout)
	if err != nil {
		return nil, err
	}

	renderer := os.Getenv("NOWPLAYING_RENDERER")
	if renderer == "" {
		renderer = defaultRenderer
	}

	cacheDir := os.Getenv("NOWPLAYING_CACHE_DIR")
	if cacheDir == "" {
		cacheDir = filepath.Join(xdgDir("XDG_CACHE_HOME", ".cache"), appName)
	}
	cacheDir = expandPath(cacheDir)

	layoutPath := os.Getenv("NOWPLAYING_CONFIG")
	explicit := layoutPath != ""
	if !explicit {
		layoutPath = filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), appName, "config.yaml")
	}
	layoutPath = expandPath(layoutPath)

	l, err := LoadLayout(layoutPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		logger.Info("No layout file found, using built-in layout", zap.String("path", layoutPath))
		l = layout.Default()
		layoutPath = ""
	case err != nil:
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("layout", layoutPath),
		zap.Duration("refresh", refresh),
		zap.String("renderer", renderer),
		zap.Duration("renderTimeout", renderTimeout),
		zap.String("cacheDir", cacheDir))

	return &AppConfig{
		logger:          logger,
		layoutPath:      layoutPath,
		layout:          l,
		refreshInterval: refresh,
		renderer:        renderer,
		renderTimeout:   renderTimeout,
		cacheDir:        cacheDir,
	}, nil
}

// LoadLayout reads and validates a YAML layout file. Unknown keys are rejected.
func LoadLayout(path string) (layout.Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return layout.Layout{}, fmt.Errorf("failed to read layout file: %w", err)
	}

	var l layout.Layout
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return layout.Layout{}, fmt.Errorf("failed to parse layout file %s: %w", path, err)
	}
	if err := l.Validate(); err != nil {
		return layout.Layout{}, fmt.Errorf("invalid layout file %s: %w", path, err)
	}
	return l, nil
}

// LogFilePath returns where the logger should write. The terminal belongs to
// the panel, so logs never go to stderr while it runs.
func LogFilePath() string {
	if p := os.Getenv("NOWPLAYING_LOG_FILE"); p != "" {
		return expandPath(p)
	}
	dir := filepath.Join(xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state")), appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, appName+".log")
}

// GetLayout returns the loaded panel layout
func (c *AppConfig) GetLayout() layout.Layout {
	return c.layout
}

// GetLayoutPath returns the file the layout came from, empty for the built-in one
func (c *AppConfig) GetLayoutPath() string {
	return c.layoutPath
}

// GetRefreshInterval returns the redraw tick period
func (c *AppConfig) GetRefreshInterval() time.Duration {
	return c.refreshInterval
}

// GetRendererBinary returns the name or path of the image renderer
func (c *AppConfig) GetRendererBinary() string {
	return c.renderer
}

// GetRenderTimeout bounds a single renderer invocation
func (c *AppConfig) GetRenderTimeout() time.Duration {
	return c.renderTimeout
}

// GetCacheDir returns the directory for downloaded artwork
func (c *AppConfig) GetCacheDir() string {
	return c.cacheDir
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// xdgDir returns $env, or ~/fallback when it is unset
func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), fallback)
	}
	return filepath.Join(home, fallback)
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}
