package fetcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain/mocks"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type cacheConfig struct {
	dir string
}

func (c cacheConfig) GetRefreshInterval() time.Duration { return 100 * time.Millisecond }
func (c cacheConfig) GetRendererBinary() string         { return "chafa" }
func (c cacheConfig) GetRenderTimeout() time.Duration   { return time.Second }
func (c cacheConfig) GetCacheDir() string               { return c.dir }

func TestArtCache_Resolve_Local(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := NewArtCache(zap.NewNop(), cacheConfig{dir: t.TempDir()},
		mocks.NewMockFetcher(ctrl), mocks.NewMockImageProcessor(ctrl))

	tests := []struct {
		name        string
		url         string
		expected    string
		expectError bool
	}{
		{name: "File URL", url: "file:///home/me/Music/cover.jpg", expected: "/home/me/Music/cover.jpg"},
		{name: "Escaped File URL", url: "file:///home/me/My%20Music/cover.jpg", expected: "/home/me/My Music/cover.jpg"},
		{name: "Plain Path", url: "/tmp/cover.png", expected: "/tmp/cover.png"},
		{name: "Empty", url: "", expectError: true},
		{name: "Unsupported Scheme", url: "spotify:image:abc", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := cache.Resolve(context.Background(), tt.url)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error, got path %q", path)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if path != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, path)
			}
		})
	}
}

func TestArtCache_Resolve_Remote(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	processor := mocks.NewMockImageProcessor(ctrl)
	dir := filepath.Join(t.TempDir(), "art")
	cache := NewArtCache(zap.NewNop(), cacheConfig{dir: dir}, fetcher, processor)

	url := "https://i.scdn.co/image/ab67616d0000b273?token=secret"
	fetcher.EXPECT().Fetch(gomock.Any(), url).Return([]byte("raw"), nil).Times(1)
	processor.EXPECT().Process(gomock.Any(), []byte("raw")).Return([]byte("png"), nil).Times(1)

	path, err := cache.Resolve(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != cache.CachePath(url) || !strings.HasPrefix(path, dir) {
		t.Errorf("unexpected cache path %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(data, []byte("png")) {
		t.Fatalf("cache file content: %q, %v", data, err)
	}

	// Second resolve is served from disk
	again, err := cache.Resolve(context.Background(), url)
	if err != nil || again != path {
		t.Fatalf("expected cached path %q, got %q (%v)", path, again, err)
	}
}

func TestArtCache_Resolve_RemoteFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*mocks.MockFetcher, *mocks.MockImageProcessor)
		expectError string
	}{
		{
			name: "Fetch Error",
			setup: func(f *mocks.MockFetcher, p *mocks.MockImageProcessor) {
				f.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, errors.New("unexpected status code: 404"))
			},
			expectError: "failed to fetch artwork",
		},
		{
			name: "Process Error",
			setup: func(f *mocks.MockFetcher, p *mocks.MockImageProcessor) {
				f.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return([]byte("not an image"), nil)
				p.EXPECT().Process(gomock.Any(), gomock.Any()).Return(nil, errors.New("failed to decode image"))
			},
			expectError: "failed to process artwork",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			f := mocks.NewMockFetcher(ctrl)
			p := mocks.NewMockImageProcessor(ctrl)
			tt.setup(f, p)
			cache := NewArtCache(zap.NewNop(), cacheConfig{dir: t.TempDir()}, f, p)

			url := "http://example.com/cover.jpg"
			_, err := cache.Resolve(context.Background(), url)
			if err == nil || !strings.Contains(err.Error(), tt.expectError) {
				t.Fatalf("expected error containing %q, got %v", tt.expectError, err)
			}
			if _, statErr := os.Stat(cache.CachePath(url)); statErr == nil {
				t.Error("failed download must not leave a cache file")
			}
		})
	}
}
