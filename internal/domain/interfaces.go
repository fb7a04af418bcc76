package domain

import (
	"context"
	"time"
)

// Player defines the transport and query surface of a media player session.
// Every method may fail when the session has gone away.
//
//go:generate mockgen -destination=mocks/domain_mock.go -package=mocks github.com/genricoloni/nowplaying/internal/domain Player,Renderer,ArtResolver,Fetcher,ImageProcessor
type Player interface {
	// Previous skips to the previous track
	Previous(ctx context.Context) error

	// Next skips to the next track
	Next(ctx context.Context) error

	// PlayPause toggles playback
	PlayPause(ctx context.Context) error

	// Snapshot reads metadata and playback status in one go
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Renderer converts an image file into rows of terminal glyphs.
// Implementations usually shell out to an external program.
type Renderer interface {
	// Render returns one string per terminal line, or an error carrying
	// the renderer's diagnostic output
	Render(ctx context.Context, path string, width, height, marginBottom, marginRight int) ([]string, error)
}

// ArtResolver turns an artwork URL into a local file path the Renderer can read
type ArtResolver interface {
	Resolve(ctx context.Context, artURL string) (string, error)
}

// Fetcher defines the interface for retrieving album artwork
type Fetcher interface {
	// Fetch downloads or reads image data from a URL or local path
	// Returns the raw image bytes or an error
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ImageProcessor defines the interface for in-memory image processing
// This is OS-agnostic and works purely with byte streams
type ImageProcessor interface {
	// Process transforms image data (e.g. decode, fit, re-encode)
	// Returns the processed image bytes or an error
	Process(ctx context.Context, imageData []byte) ([]byte, error)
}

// Config defines the interface for application configuration
type Config interface {
	// GetRefreshInterval returns the redraw tick period
	GetRefreshInterval() time.Duration

	// GetRendererBinary returns the name or path of the image renderer
	GetRendererBinary() string

	// GetRenderTimeout bounds a single renderer invocation
	GetRenderTimeout() time.Duration

	// GetCacheDir returns the directory for downloaded artwork
	GetCacheDir() string
}
