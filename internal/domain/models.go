package domain

import "strings"

// PlayerStatus represents the current state of the media player
type PlayerStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlayerStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlayerStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlayerStatus = "Stopped"
)

// ParseStatus maps an MPRIS PlaybackStatus string to a PlayerStatus.
// Unknown values are treated as stopped.
func ParseStatus(s string) PlayerStatus {
	switch s {
	case "Playing":
		return StatusPlaying
	case "Paused":
		return StatusPaused
	default:
		return StatusStopped
	}
}

// Snapshot is a point-in-time read of the active player.
// Optional fields carry an explicit presence flag so that an empty value
// and a missing value can be told apart.
type Snapshot struct {
	// Title of the currently playing track
	Title    string
	HasTitle bool

	// Artists in the order reported by the player
	Artists    []string
	HasArtists bool

	// Album name, drawn empty when missing
	Album string

	// ArtURL is the URL or local path to the album artwork, empty when missing
	ArtURL string

	// Status is the current playback status
	Status PlayerStatus
}

// HasArt reports whether the snapshot references cover art
func (s Snapshot) HasArt() bool {
	return s.ArtURL != ""
}

// ArtistLine joins the artists with ", "
func (s Snapshot) ArtistLine() string {
	return strings.Join(s.Artists, ", ")
}

// Command is a decision taken by the input dispatcher
type Command int

const (
	CommandNone Command = iota
	CommandPrevious
	CommandPlayPause
	CommandNext
	CommandForceRefresh
	CommandQuit
)

func (c Command) String() string {
	switch c {
	case CommandPrevious:
		return "previous"
	case CommandPlayPause:
		return "play-pause"
	case CommandNext:
		return "next"
	case CommandForceRefresh:
		return "force-refresh"
	case CommandQuit:
		return "quit"
	default:
		return "none"
	}
}

// IsTransport reports whether the command is sent to the player
func (c Command) IsTransport() bool {
	return c == CommandPrevious || c == CommandPlayPause || c == CommandNext
}
