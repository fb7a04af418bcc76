package layout

// Region is an absolute screen rectangle in cells. ColEnd is exclusive.
type Region struct {
	Row    int
	Col    int
	ColEnd int
	Rows   int
}

// Width returns the number of columns covered by the region
func (r Region) Width() int {
	return r.ColEnd - r.Col
}

// Contains reports whether the cell (col, row) lies inside the region
func (r Region) Contains(col, row int) bool {
	return row >= r.Row && row < r.Row+r.Rows &&
		col >= r.Col && col < r.ColEnd
}

// ButtonID identifies one of the transport buttons
type ButtonID int

const (
	ButtonNone ButtonID = iota
	ButtonPrev
	ButtonPlayPause
	ButtonNext
)

// ButtonSpan is the clickable span of a button (padding included) and the
// column its icon is drawn in.
type ButtonSpan struct {
	Region
	IconCol int
}

// Geometry is the resolved, absolute form of a Layout
type Geometry struct {
	Image Region

	// Title and Album start at Col and run to the end of the terminal line
	Title Region
	Album Region

	// Bar covers the whole controls strip, caps and margins included
	Bar       Region
	Prev      ButtonSpan
	PlayPause ButtonSpan
	Next      ButtonSpan
}

// Resolve converts a layout into absolute regions. It is pure; drawing and
// hit-testing both call it so they always agree.
func Resolve(l Layout) Geometry {
	var g Geometry

	img := l.Image
	g.Image = Region{
		Row:    img.Margins.Top,
		Col:    img.Margins.Left,
		ColEnd: img.Margins.Left + img.Size.Width,
		Rows:   img.Size.Height,
	}

	origin := img.Margins.Left + img.Margins.Right + img.Size.Width
	g.Title = Region{Row: l.Metadata.Top, Col: origin, ColEnd: origin, Rows: 1}
	g.Album = Region{Row: l.Metadata.Top + 1 + l.Metadata.Gap, Col: origin, ColEnd: origin, Rows: 1}

	c := l.Controls
	row := g.Album.Row + 1 + c.MarginTop
	col := origin
	if c.Caps {
		col++
	}

	place := func(padding, margins Pair) ButtonSpan {
		col += margins.Left
		span := ButtonSpan{
			Region: Region{
				Row:    row,
				Col:    col,
				ColEnd: col + padding.Left + 1 + padding.Right,
				Rows:   1,
			},
			IconCol: col + padding.Left,
		}
		col = span.ColEnd + margins.Right
		return span
	}
	g.Prev = place(c.Prev.Padding, c.Prev.Margins)
	g.PlayPause = place(c.PlayPause.Padding, c.PlayPause.Margins)
	g.Next = place(c.Next.Padding, c.Next.Margins)

	if c.Caps {
		col++
	}
	g.Bar = Region{Row: row, Col: origin, ColEnd: col, Rows: 1}

	return g
}

// ButtonAt returns the button whose clickable span contains (col, row)
func (g Geometry) ButtonAt(col, row int) ButtonID {
	switch {
	case g.Prev.Contains(col, row):
		return ButtonPrev
	case g.PlayPause.Contains(col, row):
		return ButtonPlayPause
	case g.Next.Contains(col, row):
		return ButtonNext
	default:
		return ButtonNone
	}
}
