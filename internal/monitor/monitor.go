package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// MprisMonitor watches D-Bus for changes on the controlled player and for
// players joining or leaving the bus. It emits a notification whenever the
// panel should redraw.
type MprisMonitor struct {
	logger          *zap.Logger
	player          *MprisPlayer
	changes         chan struct{}
	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	conn            DBusClient        // Interface for testability
	lastDropWarning time.Time         // Rate limiting for dropped notifications
	wg              sync.WaitGroup    // Tracks active producer goroutines
	playerNames     map[string]string // Maps unique bus names (:1.45) to well-known names (org.mpris.MediaPlayer2.spotify)
}

// NewMprisMonitor creates a new MPRIS monitor instance
func NewMprisMonitor(logger *zap.Logger, conn DBusClient, player *MprisPlayer) *MprisMonitor {
	return &MprisMonitor{
		logger:      logger,
		player:      player,
		conn:        conn,
		changes:     make(chan struct{}, 1),
		playerNames: make(map[string]string),
	}
}

// Start subscribes to MPRIS signals and returns; signals are handled on a
// background goroutine until Stop.
func (m *MprisMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true

	// The start context only bounds startup; the loop lives until Stop
	monitorCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.mapExistingPlayers(); err != nil {
		m.logger.Warn("Failed to map existing players", zap.Error(err))
	}

	if err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		m.logger.Error("Failed to add match signal", zap.Error(err))
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	// Needed to follow players appearing and disappearing
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
		// Non-fatal, continue without dynamic tracking
	} else {
		m.logger.Info("Dynamic player tracking enabled via NameOwnerChanged")
	}

	signals := make(chan *dbus.Signal, 10)
	m.conn.Signal(signals)

	m.wg.Add(1)
	go m.monitorSignals(monitorCtx, signals)

	m.logger.Info("MPRIS monitor started")
	return ctx.Err()
}

// Stop gracefully stops the monitor
func (m *MprisMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}

	m.running = false
	m.mu.Unlock()

	// Wait for the producer before closing the channel
	m.logger.Debug("Waiting for monitoring goroutines to finish")
	m.wg.Wait()

	close(m.changes)

	m.logger.Info("MPRIS monitor shutdown complete")
	return nil
}

// Changes returns a channel that receives a value whenever the panel is stale.
// At most one notification is buffered.
func (m *MprisMonitor) Changes() <-chan struct{} {
	return m.changes
}

// mapExistingPlayers records the unique bus name of every MPRIS player
func (m *MprisMonitor) mapExistingPlayers() error {
	names, err := m.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		uniqueName, err := m.conn.GetNameOwner(name)
		if err != nil {
			m.logger.Debug("Failed to resolve player owner",
				zap.String("player", name),
				zap.Error(err))
			continue
		}
		m.mu.Lock()
		m.playerNames[uniqueName] = name
		m.mu.Unlock()
		m.logger.Debug("Mapped player name",
			zap.String("unique", uniqueName),
			zap.String("wellKnown", name))
	}
	return nil
}

// monitorSignals listens for D-Bus signals and processes them
func (m *MprisMonitor) monitorSignals(ctx context.Context, signals <-chan *dbus.Signal) {
	defer m.wg.Done() // Signal completion when goroutine exits

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Signal monitoring goroutine stopped")
			return
		case sig, ok := <-signals:
			if !ok {
				m.logger.Warn("D-Bus signal channel closed")
				return
			}
			if sig == nil {
				continue
			}
			if sig.Name == "org.freedesktop.DBus.NameOwnerChanged" {
				m.handleNameOwnerChanged(sig)
			} else {
				m.handleSignal(sig)
			}
		}
	}
}

// handleNameOwnerChanged tracks player lifecycle and re-targets the player
// when the controlled session goes away.
func (m *MprisMonitor) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return // Not an MPRIS player
	}

	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	m.mu.Lock()
	if oldOwner != "" {
		delete(m.playerNames, oldOwner)
	}
	if newOwner != "" {
		m.playerNames[newOwner] = name
	}
	m.mu.Unlock()

	switch {
	case newOwner != "" && oldOwner == "":
		m.logger.Info("New MPRIS player detected",
			zap.String("player", name),
			zap.String("unique", newOwner))

		if m.player.Name() == "" {
			m.player.SetTarget(name)
			m.logger.Info("Controlling newly appeared player", zap.String("player", name))
			m.notify()
		}

	case newOwner == "" && oldOwner != "":
		m.logger.Info("MPRIS player removed",
			zap.String("player", name),
			zap.String("unique", oldOwner))

		if m.player.Name() == name {
			m.player.SetTarget("")
			if err := m.player.FindActive(); err != nil {
				m.logger.Warn("Controlled player went away and no other is available", zap.Error(err))
			}
			m.notify()
		}

	default:
		m.logger.Debug("MPRIS player ownership changed",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))
	}
}

// handleSignal processes a PropertiesChanged signal
func (m *MprisMonitor) handleSignal(sig *dbus.Signal) {
	// PropertiesChanged signal has 3 arguments:
	// 1. Interface name (string)
	// 2. Changed properties (map[string]Variant)
	// 3. Invalidated properties ([]string)

	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
		return
	}

	if len(sig.Body) < 2 {
		return
	}

	interfaceName, ok := sig.Body[0].(string)
	if !ok || interfaceName != playerInterface {
		return
	}

	changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	playerName := m.getPlayerName(sig.Sender)
	if playerName != m.player.Name() {
		return
	}

	_, hasMetadata := changedProps["Metadata"]
	_, hasStatus := changedProps["PlaybackStatus"]
	if !hasMetadata && !hasStatus {
		return
	}

	m.logger.Debug("Player changed",
		zap.String("player", playerName),
		zap.Bool("metadata", hasMetadata),
		zap.Bool("status", hasStatus))
	m.notify()
}

// notify performs a non-blocking send; a pending notification already covers this one
func (m *MprisMonitor) notify() {
	select {
	case m.changes <- struct{}{}:
	default:
		m.logDropWarning()
	}
}

// getPlayerName returns the well-known player name for a unique bus name
// Falls back to the unique name if no mapping exists
func (m *MprisMonitor) getPlayerName(uniqueName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wellKnown, ok := m.playerNames[uniqueName]; ok {
		return wellKnown
	}
	return uniqueName
}

// logDropWarning is rate limited to avoid log spam during rapid track changes
func (m *MprisMonitor) logDropWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()

	if now.Sub(m.lastDropWarning) >= warningInterval {
		m.logger.Debug("Change notification already pending, coalescing")
		m.lastDropWarning = now
	}
}
