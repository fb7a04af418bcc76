// Package layout holds the declarative panel geometry and resolves it into
// absolute screen regions shared by drawing and hit-testing.
package layout

import (
	"fmt"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Glyph is a single display character read from a one-rune YAML string
type Glyph rune

// UnmarshalYAML accepts a scalar holding exactly one rune
func (g *Glyph) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if utf8.RuneCountInString(s) != 1 {
		return fmt.Errorf("line %d: glyph %q must be exactly one character", node.Line, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	*g = Glyph(r)
	return nil
}

// MarshalYAML writes the glyph back as a string
func (g Glyph) MarshalYAML() (interface{}, error) {
	return string(rune(g)), nil
}

// Pair is a (left, right) cell count, written as a two-element sequence
type Pair struct {
	Left  int
	Right int
}

// UnmarshalYAML accepts either [left, right] or {left: n, right: n}
func (p *Pair) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var v []int
		if err := node.Decode(&v); err != nil {
			return err
		}
		if len(v) != 2 {
			return fmt.Errorf("line %d: expected [left, right], got %d values", node.Line, len(v))
		}
		p.Left, p.Right = v[0], v[1]
		return nil
	case yaml.MappingNode:
		var v struct {
			Left  int `yaml:"left"`
			Right int `yaml:"right"`
		}
		if err := node.Decode(&v); err != nil {
			return err
		}
		p.Left, p.Right = v.Left, v.Right
		return nil
	default:
		return fmt.Errorf("line %d: expected [left, right]", node.Line)
	}
}

// MarshalYAML writes the pair in sequence form
func (p Pair) MarshalYAML() (interface{}, error) {
	return []int{p.Left, p.Right}, nil
}

// Box holds the four margins around the image block
type Box struct {
	Top    int `yaml:"top"`
	Bottom int `yaml:"bottom"`
	Left   int `yaml:"left"`
	Right  int `yaml:"right"`
}

// Size is a (width, height) cell count
type Size struct {
	Width  int
	Height int
}

// UnmarshalYAML accepts [width, height]
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var p Pair
	if err := p.UnmarshalYAML(node); err != nil {
		return err
	}
	s.Width, s.Height = p.Left, p.Right
	return nil
}

// MarshalYAML writes the size in sequence form
func (s Size) MarshalYAML() (interface{}, error) {
	return []int{s.Width, s.Height}, nil
}

// ImageBox describes where the cover art is drawn
type ImageBox struct {
	Margins Box  `yaml:"margins"`
	Size    Size `yaml:"size"`
}

// MetadataBox places the two metadata lines
type MetadataBox struct {
	// Top is the row of the title line
	Top int `yaml:"top"`
	// Gap is the number of blank rows between the title and album lines
	Gap int `yaml:"gap"`
}

// Button is a transport button with a fixed icon.
// Padding is clickable, margins are not.
type Button struct {
	Icon    Glyph `yaml:"icon"`
	Padding Pair  `yaml:"padding"`
	Margins Pair  `yaml:"margins"`
}

// SwitchableButton carries one icon per playback state
type SwitchableButton struct {
	IconPlaying Glyph `yaml:"icon_state1"`
	IconPaused  Glyph `yaml:"icon_state2"`
	Padding     Pair  `yaml:"padding"`
	Margins     Pair  `yaml:"margins"`
}

// ControlsBar is the prev/play-pause/next strip
type ControlsBar struct {
	Prev       Button           `yaml:"button_prev"`
	PlayPause  SwitchableButton `yaml:"button_playpause"`
	Next       Button           `yaml:"button_next"`
	Background bool             `yaml:"is_background_present"`
	Caps       bool             `yaml:"is_caps_present"`
	CapLeft    Glyph            `yaml:"cap_left"`
	CapRight   Glyph            `yaml:"cap_right"`
	// MarginTop is the number of blank rows between the album line and the bar
	MarginTop int `yaml:"margin_top"`
}

// Layout is the full panel description. It is loaded once and passed by value.
type Layout struct {
	Image    ImageBox    `yaml:"image"`
	Metadata MetadataBox `yaml:"metadata"`
	Controls ControlsBar `yaml:"controls_bar"`
}

// Default returns the stock panel: a 24x12 cover with the metadata and
// controls to its right.
func Default() Layout {
	return Layout{
		Image: ImageBox{
			Margins: Box{Top: 1, Bottom: 1, Left: 2, Right: 3},
			Size:    Size{Width: 24, Height: 12},
		},
		Metadata: MetadataBox{Top: 3, Gap: 0},
		Controls: ControlsBar{
			Prev: Button{
				Icon:    '⏮',
				Padding: Pair{Left: 1, Right: 1},
				Margins: Pair{Left: 0, Right: 2},
			},
			PlayPause: SwitchableButton{
				IconPlaying: '⏸',
				IconPaused:  '▶',
				Padding:     Pair{Left: 0, Right: 0},
				Margins:     Pair{Left: 2, Right: 2},
			},
			Next: Button{
				Icon:    '⏭',
				Padding: Pair{Left: 1, Right: 1},
				Margins: Pair{Left: 2, Right: 0},
			},
			Background: true,
			Caps:       true,
			CapLeft:    '',
			CapRight:   '',
			MarginTop:  1,
		},
	}
}

// cellWidth measures glyphs independently of the locale: ambiguous-width
// symbols such as powerline caps count as one cell.
var cellWidth = &runewidth.Condition{EastAsianWidth: false}

// checkGlyph reports a missing glyph or one that does not fill exactly one cell
func checkGlyph(name string, g Glyph) error {
	if g == 0 {
		return fmt.Errorf("%s is required", name)
	}
	if w := cellWidth.RuneWidth(rune(g)); w != 1 {
		return fmt.Errorf("%s %q must be one cell wide (got %d)", name, rune(g), w)
	}
	return nil
}

// Validate checks every dimension of the layout. Icons and caps must be
// single-cell glyphs, since the geometry gives each of them one column.
func (l Layout) Validate() error {
	var err error
	check := func(name string, v int) {
		if v < 0 {
			err = multierr.Append(err, fmt.Errorf("%s must not be negative (got %d)", name, v))
		}
	}

	m := l.Image.Margins
	check("image.margins.top", m.Top)
	check("image.margins.bottom", m.Bottom)
	check("image.margins.left", m.Left)
	check("image.margins.right", m.Right)
	if l.Image.Size.Width <= 0 || l.Image.Size.Height <= 0 {
		err = multierr.Append(err, fmt.Errorf("image.size must be positive (got %dx%d)",
			l.Image.Size.Width, l.Image.Size.Height))
	}

	check("metadata.top", l.Metadata.Top)
	check("metadata.gap", l.Metadata.Gap)
	check("controls_bar.margin_top", l.Controls.MarginTop)

	checkButton := func(name string, icons []Glyph, padding, margins Pair) {
		for _, icon := range icons {
			err = multierr.Append(err, checkGlyph(name+": icon", icon))
		}
		check(name+".padding.left", padding.Left)
		check(name+".padding.right", padding.Right)
		check(name+".margins.left", margins.Left)
		check(name+".margins.right", margins.Right)
	}
	c := l.Controls
	checkButton("button_prev", []Glyph{c.Prev.Icon}, c.Prev.Padding, c.Prev.Margins)
	checkButton("button_playpause", []Glyph{c.PlayPause.IconPlaying, c.PlayPause.IconPaused},
		c.PlayPause.Padding, c.PlayPause.Margins)
	checkButton("button_next", []Glyph{c.Next.Icon}, c.Next.Padding, c.Next.Margins)
	if c.Caps {
		err = multierr.Append(err, checkGlyph("controls_bar.cap_left", c.CapLeft))
		err = multierr.Append(err, checkGlyph("controls_bar.cap_right", c.CapRight))
	}

	return err
}
