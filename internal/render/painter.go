// Package render draws the panel: cover art, metadata and the controls bar.
// Each draw operation clears what it owns, writes into the screen buffer and
// flushes once.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/layout"
	"github.com/mattn/go-runewidth"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrNoArt is returned when the snapshot carries no artwork; nothing is drawn
	ErrNoArt = errors.New("no artwork")
	// ErrMissingTitle is returned when the snapshot carries no title
	ErrMissingTitle = errors.New("track has no title")
	// ErrMissingArtists is returned when the snapshot carries no artist field
	ErrMissingArtists = errors.New("track has no artist field")
)

var (
	styleBar      = tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorPurple)
	styleBarPlain = tcell.StyleDefault
	styleCap      = tcell.StyleDefault.Foreground(tcell.ColorPurple)
	styleArtists  = tcell.StyleDefault.Bold(true)
	styleTitle    = tcell.StyleDefault.Bold(true)
	styleAlbum    = tcell.StyleDefault.Italic(true)
	styleError    = tcell.StyleDefault.Foreground(tcell.ColorRed)
)

// Painter draws the three panel blocks onto a screen
type Painter struct {
	logger        *zap.Logger
	screen        tcell.Screen
	layout        layout.Layout
	renderer      domain.Renderer
	art           domain.ArtResolver
	renderTimeout time.Duration

	mu        sync.Mutex
	cachedKey string
	cached    []string
}

// NewPainter creates a painter for the given layout
func NewPainter(
	logger *zap.Logger,
	screen tcell.Screen,
	l layout.Layout,
	renderer domain.Renderer,
	art domain.ArtResolver,
	renderTimeout time.Duration,
) *Painter {
	return &Painter{
		logger:        logger,
		screen:        screen,
		layout:        l,
		renderer:      renderer,
		art:           art,
		renderTimeout: renderTimeout,
	}
}

// Geometry resolves the painter's layout
func (p *Painter) Geometry() layout.Geometry {
	return layout.Resolve(p.layout)
}

// Clear wipes the whole screen and repaints it from scratch
func (p *Painter) Clear() {
	p.screen.Clear()
	p.screen.Sync()
}

// DrawAll runs the three draw operations. A failing step does not stop the
// others; their errors are combined.
func (p *Painter) DrawAll(ctx context.Context, snap domain.Snapshot) error {
	var err error
	if imgErr := p.DrawImage(ctx, snap); imgErr != nil && !errors.Is(imgErr, ErrNoArt) {
		err = multierr.Append(err, fmt.Errorf("image: %w", imgErr))
	}
	if metaErr := p.DrawMetadata(snap); metaErr != nil {
		err = multierr.Append(err, fmt.Errorf("metadata: %w", metaErr))
	}
	p.DrawButtons(snap.Status)
	return err
}

// DrawImage renders the cover art into the image region. When the snapshot
// has no art nothing is drawn. On failure the region is cleared and the
// first line of the error is shown in its place, unless the pass itself was
// cancelled: then the region is left as it was for the pass that replaces it.
func (p *Painter) DrawImage(ctx context.Context, snap domain.Snapshot) error {
	if !snap.HasArt() {
		return ErrNoArt
	}

	g := p.Geometry()
	rows, err := p.imageRows(ctx, snap.ArtURL)
	if err != nil && ctx.Err() != nil {
		return err
	}

	p.clearRegion(g.Image)
	if err != nil {
		drawText(p.screen, g.Image.Col, g.Image.Row, g.Image.ColEnd, firstLine(err.Error()), styleError)
		p.screen.Show()
		return err
	}

	parser := newSequenceParser()
	for i, line := range rows {
		if i >= g.Image.Rows {
			break
		}
		drawANSI(p.screen, parser, g.Image.Col, g.Image.Row+i, g.Image.ColEnd, line, tcell.StyleDefault)
	}
	p.screen.Show()
	return nil
}

// imageRows resolves and renders the artwork, reusing the last render while
// the resolved file, its size on disk, its modification time and the target
// size are unchanged. Players that rewrite one cover file per track thus
// still get a fresh render.
func (p *Painter) imageRows(ctx context.Context, artURL string) ([]string, error) {
	img := p.layout.Image

	ctx, cancel := context.WithTimeout(ctx, p.renderTimeout)
	defer cancel()

	path, err := p.art.Resolve(ctx, artURL)
	if err != nil {
		return nil, err
	}
	key := renderKey(path, img.Size)

	p.mu.Lock()
	if p.cachedKey == key {
		rows := p.cached
		p.mu.Unlock()
		return rows, nil
	}
	p.mu.Unlock()

	rows, err := p.renderer.Render(ctx, path,
		img.Size.Width, img.Size.Height, img.Margins.Bottom, img.Margins.Right)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cachedKey = key
	p.cached = rows
	p.mu.Unlock()

	p.logger.Debug("Artwork rendered", zap.String("path", path), zap.Int("rows", len(rows)))
	return rows, nil
}

// renderKey identifies one render of the file at path. A file that cannot
// be stat'ed is keyed by name only; the renderer reports the real problem.
func renderKey(path string, size layout.Size) string {
	key := fmt.Sprintf("%s@%dx%d", path, size.Width, size.Height)
	if info, err := os.Stat(path); err == nil {
		key += fmt.Sprintf("#%d:%d", info.ModTime().UnixNano(), info.Size())
	}
	return key
}

// DrawMetadata writes "artists - title" and the album name. Each line is
// cleared to the end of the terminal row first.
func (p *Painter) DrawMetadata(snap domain.Snapshot) error {
	if !snap.HasTitle {
		return ErrMissingTitle
	}
	if !snap.HasArtists {
		return ErrMissingArtists
	}

	g := p.Geometry()
	width, _ := p.screen.Size()

	p.clearLine(g.Title)
	col := drawText(p.screen, g.Title.Col, g.Title.Row, width, snap.ArtistLine(), styleArtists)
	col = drawText(p.screen, col, g.Title.Row, width, " - ", tcell.StyleDefault)
	drawText(p.screen, col, g.Title.Row, width, snap.Title, styleTitle)

	p.clearLine(g.Album)
	drawText(p.screen, g.Album.Col, g.Album.Row, width, snap.Album, styleAlbum)

	p.screen.Show()
	return nil
}

// DrawButtons writes the controls bar as one contiguous styled run.
// Margins are drawn as filler, padding as blanks around the icon.
func (p *Painter) DrawButtons(status domain.PlayerStatus) {
	c := p.layout.Controls
	g := p.Geometry()

	run := styleBarPlain
	if c.Background {
		run = styleBar
	}

	col := g.Bar.Col
	end := g.Bar.ColEnd
	if c.Caps {
		p.screen.SetContent(col, g.Bar.Row, rune(c.CapLeft), nil, styleCap)
		col++
		end--
	}

	playPause := c.PlayPause.IconPaused
	if status == domain.StatusPlaying {
		playPause = c.PlayPause.IconPlaying
	}

	buttons := []struct {
		span layout.ButtonSpan
		icon layout.Glyph
	}{
		{g.Prev, c.Prev.Icon},
		{g.PlayPause, playPause},
		{g.Next, c.Next.Icon},
	}
	for _, b := range buttons {
		for ; col < b.span.ColEnd; col++ {
			r := ' '
			if col == b.span.IconCol {
				r = rune(b.icon)
			}
			p.screen.SetContent(col, g.Bar.Row, r, nil, run)
		}
	}
	for ; col < end; col++ {
		p.screen.SetContent(col, g.Bar.Row, ' ', nil, run)
	}

	if c.Caps {
		p.screen.SetContent(end, g.Bar.Row, rune(c.CapRight), nil, styleCap)
	}
	p.screen.Show()
}

// clearRegion blanks every cell of r
func (p *Painter) clearRegion(r layout.Region) {
	for row := r.Row; row < r.Row+r.Rows; row++ {
		for col := r.Col; col < r.ColEnd; col++ {
			p.screen.SetContent(col, row, ' ', nil, tcell.StyleDefault)
		}
	}
}

// clearLine blanks r's row from its start column to the end of the screen
func (p *Painter) clearLine(r layout.Region) {
	width, _ := p.screen.Size()
	for col := r.Col; col < width; col++ {
		p.screen.SetContent(col, r.Row, ' ', nil, tcell.StyleDefault)
	}
}

// drawText writes s starting at col, stopping before maxCol.
// Returns the column after the last written cell.
func drawText(screen tcell.Screen, col, row, maxCol int, s string, style tcell.Style) int {
	for _, r := range s {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			continue
		}
		if col+w > maxCol {
			break
		}
		screen.SetContent(col, row, r, nil, style)
		col += w
	}
	return col
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
