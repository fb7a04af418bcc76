// Package input maps terminal events onto panel commands.
package input

import (
	"github.com/gdamore/tcell/v2"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/layout"
)

// Dispatcher classifies terminal events. It remembers the last mouse button
// state so that only the press edge of the primary button counts as a click;
// drags and releases are ignored. Not safe for concurrent use.
type Dispatcher struct {
	buttons tcell.ButtonMask
}

// NewDispatcher creates a dispatcher with no button held
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch returns the command for ev. Pointer events are hit-tested against
// geom, the same geometry the button bar was drawn with.
func (d *Dispatcher) Dispatch(ev tcell.Event, geom layout.Geometry) domain.Command {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		return keyCommand(ev)
	case *tcell.EventMouse:
		return d.mouseCommand(ev, geom)
	default:
		// Resize and everything else
		return domain.CommandNone
	}
}

func keyCommand(ev *tcell.EventKey) domain.Command {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return domain.CommandQuit
	case tcell.KeyLeft:
		return domain.CommandPrevious
	case tcell.KeyRight:
		return domain.CommandNext
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return domain.CommandQuit
		case ' ':
			return domain.CommandPlayPause
		case 'r':
			return domain.CommandForceRefresh
		case 'c':
			// Some terminals report Ctrl-C as a modified rune
			if ev.Modifiers()&tcell.ModCtrl != 0 {
				return domain.CommandQuit
			}
		}
	}
	return domain.CommandNone
}

func (d *Dispatcher) mouseCommand(ev *tcell.EventMouse, geom layout.Geometry) domain.Command {
	prev := d.buttons
	d.buttons = ev.Buttons()

	pressed := d.buttons&tcell.Button1 != 0 && prev&tcell.Button1 == 0
	if !pressed {
		return domain.CommandNone
	}

	col, row := ev.Position()
	switch geom.ButtonAt(col, row) {
	case layout.ButtonPrev:
		return domain.CommandPrevious
	case layout.ButtonPlayPause:
		return domain.CommandPlayPause
	case layout.ButtonNext:
		return domain.CommandNext
	default:
		return domain.CommandNone
	}
}
