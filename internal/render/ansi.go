package render

import (
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/gdamore/tcell/v2"
)

// newSequenceParser returns a parser sized for renderer output: SGR
// parameters only, no string payloads worth keeping.
func newSequenceParser() *ansi.Parser {
	p := ansi.NewParser()
	p.SetDataSize(256)
	return p
}

// drawANSI writes a line of renderer output at (col, row), translating SGR
// colour sequences into tcell styles. Other escape sequences are dropped.
// Nothing is written at or beyond maxCol. Returns the column after the last cell.
func drawANSI(screen tcell.Screen, p *ansi.Parser, col, row, maxCol int, line string, style tcell.Style) int {
	var state byte
	for len(line) > 0 {
		seq, width, n, newState := ansi.DecodeSequence(line, state, p)
		if n == 0 {
			break
		}
		state = newState
		line = line[n:]

		if width == 0 {
			if isSGR(seq, p) {
				style = applySGR(style, p.Params())
			}
			continue
		}

		if col+width > maxCol {
			break
		}
		r, size := utf8.DecodeRuneInString(seq)
		var combining []rune
		if size < len(seq) {
			combining = []rune(seq[size:])
		}
		screen.SetContent(col, row, r, combining, style)
		col += width
	}
	return col
}

// isSGR reports whether seq, just decoded by p, is a plain "select graphic
// rendition" CSI sequence
func isSGR(seq string, p *ansi.Parser) bool {
	if !ansi.HasCsiPrefix(seq) {
		return false
	}
	cmd := ansi.Cmd(p.Command())
	return cmd.Final() == 'm' && cmd.Prefix() == 0 && cmd.Intermediate() == 0
}

// applySGR folds one SGR parameter list into style. Sub-parameters
// (38:5:n) are read the same way as plain ones (38;5;n).
func applySGR(style tcell.Style, params ansi.Params) tcell.Style {
	if len(params) == 0 {
		return tcell.StyleDefault
	}

	codes := make([]int, len(params))
	for i, param := range params {
		codes[i] = param.Param(0)
	}

	for i := 0; i < len(codes); i++ {
		switch c := codes[i]; {
		case c == 0:
			style = tcell.StyleDefault
		case c == 1:
			style = style.Bold(true)
		case c == 2:
			style = style.Dim(true)
		case c == 3:
			style = style.Italic(true)
		case c == 4:
			style = style.Underline(true)
		case c == 5:
			style = style.Blink(true)
		case c == 7:
			style = style.Reverse(true)
		case c == 22:
			style = style.Bold(false).Dim(false)
		case c == 23:
			style = style.Italic(false)
		case c == 24:
			style = style.Underline(false)
		case c == 25:
			style = style.Blink(false)
		case c == 27:
			style = style.Reverse(false)
		case c >= 30 && c <= 37:
			style = style.Foreground(tcell.PaletteColor(c - 30))
		case c == 39:
			style = style.Foreground(tcell.ColorReset)
		case c >= 40 && c <= 47:
			style = style.Background(tcell.PaletteColor(c - 40))
		case c == 49:
			style = style.Background(tcell.ColorReset)
		case c >= 90 && c <= 97:
			style = style.Foreground(tcell.PaletteColor(c - 90 + 8))
		case c >= 100 && c <= 107:
			style = style.Background(tcell.PaletteColor(c - 100 + 8))
		case c == 38 || c == 48:
			color, used := extendedColor(codes[i+1:])
			i += used
			if color == tcell.ColorDefault {
				continue
			}
			if c == 38 {
				style = style.Foreground(color)
			} else {
				style = style.Background(color)
			}
		}
	}
	return style
}

// extendedColor parses the tail of a 38/48 sequence: "5;n" or "2;r;g;b".
// Returns the colour and how many codes it consumed.
func extendedColor(codes []int) (tcell.Color, int) {
	if len(codes) == 0 {
		return tcell.ColorDefault, 0
	}
	switch codes[0] {
	case 5:
		if len(codes) < 2 {
			return tcell.ColorDefault, len(codes)
		}
		return tcell.PaletteColor(codes[1]), 2
	case 2:
		if len(codes) < 4 {
			return tcell.ColorDefault, len(codes)
		}
		return tcell.NewRGBColor(int32(codes[1]), int32(codes[2]), int32(codes[3])), 4
	default:
		return tcell.ColorDefault, 1
	}
}
