package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // GIF format support
	_ "image/jpeg" // JPEG format support
	_ "image/png"  // PNG format support

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // WebP format support, common for streaming services
)

const defaultMaxSide = 512

// ProcessorConfig holds configuration for image processing
type ProcessorConfig struct {
	// MaxSide bounds both dimensions of the stored artwork. The renderer
	// only needs a few dozen cells, so larger images just slow it down.
	MaxSide int
}

// ArtworkProcessor decodes downloaded cover art, shrinks it and re-encodes
// it as PNG so the renderer gets a small file in a format it always reads.
type ArtworkProcessor struct {
	logger *zap.Logger
	config ProcessorConfig
}

// NewArtworkProcessor creates a new artwork normaliser
func NewArtworkProcessor(logger *zap.Logger) *ArtworkProcessor {
	return &ArtworkProcessor{
		logger: logger,
		config: ProcessorConfig{MaxSide: defaultMaxSide},
	}
}

// Process decodes, fits and re-encodes the image
func (p *ArtworkProcessor) Process(ctx context.Context, imageData []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dy() == 0 || bounds.Dx() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Fit never upscales, small covers pass through unchanged
	out := imaging.Fit(img, p.config.MaxSide, p.config.MaxSide, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	p.logger.Debug("Artwork processed",
		zap.String("format", format),
		zap.Int("srcWidth", bounds.Dx()),
		zap.Int("srcHeight", bounds.Dy()),
		zap.Int("width", out.Bounds().Dx()),
		zap.Int("height", out.Bounds().Dy()),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}
