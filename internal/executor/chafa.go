package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

// RenderError carries the renderer's diagnostic output
type RenderError struct {
	Binary string
	Line   string // First non-empty line of stderr
	Err    error  // Process error, if the renderer also failed to exit cleanly
}

func (e *RenderError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("%s: %s", e.Binary, e.Line)
	}
	return fmt.Sprintf("%s: %v", e.Binary, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ErrRendererMissing is returned when the renderer binary is not on PATH
var ErrRendererMissing = errors.New("image renderer not found")

// ChafaRenderer turns images into terminal glyphs with chafa
type ChafaRenderer struct {
	logger *zap.Logger
	binary string // Resolved path, empty when not installed
	name   string
}

// NewChafaRenderer resolves the renderer binary. A missing binary is not
// fatal: the panel still works, every image draw is skipped.
func NewChafaRenderer(logger *zap.Logger, cfg domain.Config) *ChafaRenderer {
	name := cfg.GetRendererBinary()
	r := &ChafaRenderer{logger: logger, name: name}

	path, err := exec.LookPath(name)
	if err != nil {
		logger.Warn("Image renderer not found, cover art will not be drawn",
			zap.String("binary", name),
			zap.Error(err))
		return r
	}

	r.binary = path
	logger.Info("Image renderer detected", zap.String("binary", path))
	return r
}

// Args builds the renderer command line
func (r *ChafaRenderer) Args(path string, width, height, marginBottom, marginRight int) []string {
	// chafa reserves its margins against the terminal size; the extra row
	// and columns keep the last line from scrolling the panel
	return []string{
		path,
		"--format", "symbols",
		"--stretch",
		"--size", strconv.Itoa(width) + "x" + strconv.Itoa(height),
		"--margin-bottom", strconv.Itoa(marginBottom + 1),
		"--margin-right", strconv.Itoa(marginRight + 2),
	}
}

// Render runs the renderer and splits its output into rows.
// Anything written to stderr is a failure.
func (r *ChafaRenderer) Render(ctx context.Context, path string, width, height, marginBottom, marginRight int) ([]string, error) {
	if r.binary == "" {
		return nil, fmt.Errorf("%w: %s", ErrRendererMissing, r.name)
	}

	args := r.Args(path, width, height, marginBottom, marginRight)
	r.logger.Debug("Rendering image",
		zap.String("command", r.binary),
		zap.Strings("args", args))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", r.name, ctx.Err())
	}

	if msg := firstLine(stderr.String()); msg != "" || runErr != nil {
		return nil, &RenderError{Binary: r.name, Line: msg, Err: runErr}
	}

	return SplitRows(stdout.String()), nil
}

// SplitRows splits renderer output into terminal rows, dropping the
// trailing newline and any carriage returns.
func SplitRows(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	rows := strings.Split(out, "\n")
	for i, row := range rows {
		rows[i] = strings.TrimSuffix(row, "\r")
	}
	return rows
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
