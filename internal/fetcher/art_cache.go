package fetcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

// ArtCache resolves artwork URLs to local files. Local URLs are used as-is;
// remote ones are downloaded once, normalised and kept in the cache directory.
type ArtCache struct {
	logger    *zap.Logger
	fetcher   domain.Fetcher
	processor domain.ImageProcessor
	dir       string

	mu       sync.Mutex
	inflight map[string]*sync.Mutex // Serialises downloads of the same URL
}

// NewArtCache creates a resolver storing remote art under cfg's cache directory
func NewArtCache(logger *zap.Logger, cfg domain.Config, fetcher domain.Fetcher, processor domain.ImageProcessor) *ArtCache {
	return &ArtCache{
		logger:    logger,
		fetcher:   fetcher,
		processor: processor,
		dir:       cfg.GetCacheDir(),
		inflight:  make(map[string]*sync.Mutex),
	}
}

// Resolve returns a local path for artURL
func (c *ArtCache) Resolve(ctx context.Context, artURL string) (string, error) {
	if artURL == "" {
		return "", fmt.Errorf("empty artwork url")
	}

	u, err := url.Parse(artURL)
	if err != nil {
		return "", fmt.Errorf("invalid artwork url: %w", err)
	}

	switch u.Scheme {
	case "":
		return artURL, nil
	case "file":
		if u.Path == "" {
			return "", fmt.Errorf("file url without path: %s", artURL)
		}
		return u.Path, nil
	case "http", "https":
		return c.download(ctx, artURL)
	default:
		return "", fmt.Errorf("unsupported artwork scheme %q", u.Scheme)
	}
}

// CachePath returns where the art for artURL is stored
func (c *ArtCache) CachePath(artURL string) string {
	sum := sha1.Sum([]byte(artURL))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".png")
}

func (c *ArtCache) download(ctx context.Context, artURL string) (string, error) {
	path := c.CachePath(artURL)

	lock := c.lockFor(artURL)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	data, err := c.fetcher.Fetch(ctx, artURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch artwork: %w", err)
	}

	processed, err := c.processor.Process(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to process artwork: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Write then rename so the renderer never sees a partial file
	tmp, err := os.CreateTemp(c.dir, ".art-*")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	if _, err := tmp.Write(processed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store cache file: %w", err)
	}

	c.logger.Info("Artwork cached",
		zap.String("url", redact(artURL)),
		zap.String("path", path),
		zap.Int("bytes", len(processed)))
	return path, nil
}

func (c *ArtCache) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.inflight[key]
	if !ok {
		l = &sync.Mutex{}
		c.inflight[key] = l
	}
	return l
}

// redact drops query strings, which often carry access tokens
func redact(artURL string) string {
	if i := strings.IndexByte(artURL, '?'); i >= 0 {
		return artURL[:i]
	}
	return artURL
}
