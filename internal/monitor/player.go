package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisPath       = "/org/mpris/MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
)

// ErrNoPlayer is returned when no MPRIS player session is available
var ErrNoPlayer = errors.New("no active MPRIS player")

// MprisPlayer controls a single MPRIS player over D-Bus
type MprisPlayer struct {
	logger *zap.Logger
	conn   DBusClient

	mu      sync.RWMutex
	busName string // Well-known name, e.g. org.mpris.MediaPlayer2.spotify
}

// NewMprisPlayer creates a player bound to no session yet; call FindActive
func NewMprisPlayer(logger *zap.Logger, conn DBusClient) *MprisPlayer {
	return &MprisPlayer{logger: logger, conn: conn}
}

// FindActive selects the player to control: the first one reporting Playing,
// otherwise the first MPRIS name on the bus.
func (p *MprisPlayer) FindActive() error {
	names, err := p.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	var candidates []string
	for _, name := range names {
		if strings.HasPrefix(name, mprisPrefix) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return ErrNoPlayer
	}

	chosen := candidates[0]
	for _, name := range candidates {
		variant, err := p.conn.GetProperty(name, mprisPath, playerInterface+".PlaybackStatus")
		if err != nil {
			p.logger.Debug("Skipping player without status",
				zap.String("player", name),
				zap.Error(err))
			continue
		}
		if s, ok := variant.Value().(string); ok && domain.ParseStatus(s) == domain.StatusPlaying {
			chosen = name
			break
		}
	}

	p.SetTarget(chosen)
	p.logger.Info("Active player selected",
		zap.String("player", chosen),
		zap.Int("candidates", len(candidates)))
	return nil
}

// Name returns the well-known bus name of the controlled player, empty when none
func (p *MprisPlayer) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.busName
}

// SetTarget switches control to another player; an empty name detaches
func (p *MprisPlayer) SetTarget(name string) {
	p.mu.Lock()
	p.busName = name
	p.mu.Unlock()
}

// Previous skips to the previous track
func (p *MprisPlayer) Previous(ctx context.Context) error {
	return p.call(ctx, "Previous")
}

// Next skips to the next track
func (p *MprisPlayer) Next(ctx context.Context) error {
	return p.call(ctx, "Next")
}

// PlayPause toggles playback
func (p *MprisPlayer) PlayPause(ctx context.Context) error {
	return p.call(ctx, "PlayPause")
}

func (p *MprisPlayer) call(ctx context.Context, member string) error {
	name := p.Name()
	if name == "" {
		return ErrNoPlayer
	}
	if err := p.conn.Call(ctx, name, mprisPath, playerInterface+"."+member); err != nil {
		return fmt.Errorf("%s on %s failed: %w", member, name, err)
	}
	return nil
}

// Snapshot reads the current metadata and playback status
func (p *MprisPlayer) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	name := p.Name()
	if name == "" {
		return domain.Snapshot{}, ErrNoPlayer
	}
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	statusVariant, err := p.conn.GetProperty(name, mprisPath, playerInterface+".PlaybackStatus")
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to get playback status: %w", err)
	}
	status, ok := statusVariant.Value().(string)
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("invalid playback status format")
	}

	variant, err := p.conn.GetProperty(name, mprisPath, playerInterface+".Metadata")
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to get metadata: %w", err)
	}

	// Some players return nil or unexpected types when nothing is loaded
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		p.logger.Debug("Metadata variant is not a map", zap.String("player", name))
		metadata = nil
	}

	return parseMetadata(p.logger, metadata, status), nil
}

// parseMetadata converts MPRIS metadata to a snapshot. Each field is read
// independently; a missing or mistyped field is left absent.
func parseMetadata(logger *zap.Logger, metadata map[string]dbus.Variant, status string) domain.Snapshot {
	snap := domain.Snapshot{Status: domain.ParseStatus(status)}

	if metadata == nil {
		return snap
	}

	if titleVar, ok := metadata["xesam:title"]; ok {
		if title, ok := titleVar.Value().(string); ok {
			snap.Title = title
			snap.HasTitle = true
		}
	}

	// Artist should be an array, some players send a plain string
	if artistVar, ok := metadata["xesam:artist"]; ok {
		switch artists := artistVar.Value().(type) {
		case []string:
			snap.Artists = artists
			snap.HasArtists = true
		case string:
			snap.Artists = []string{artists}
			snap.HasArtists = true
		default:
			logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", artistVar.Value())))
		}
	}

	if albumVar, ok := metadata["xesam:album"]; ok {
		if album, ok := albumVar.Value().(string); ok {
			snap.Album = album
		}
	}

	if artVar, ok := metadata["mpris:artUrl"]; ok {
		if artURL, ok := artVar.Value().(string); ok {
			snap.ArtURL = artURL
		}
	}

	return snap
}
