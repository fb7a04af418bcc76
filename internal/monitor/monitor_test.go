package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/genricoloni/nowplaying/internal/monitor/mocks"
	"github.com/godbus/dbus/v5"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

// noopDBusClient satisfies DBusClient for tests that never reach the bus
type noopDBusClient struct{}

func (n *noopDBusClient) Close() error { return nil }
func (n *noopDBusClient) AddMatchSignal(options ...dbus.MatchOption) error { return nil }
func (n *noopDBusClient) Signal(ch chan<- *dbus.Signal) {}
func (n *noopDBusClient) ListNames() ([]string, error) { return nil, nil }
func (n *noopDBusClient) GetNameOwner(name string) (string, error) { return "", fmt.Errorf("not implemented") }
func (n *noopDBusClient) GetProperty(player, path, prop string) (dbus.Variant, error) {
	return dbus.Variant{}, fmt.Errorf("not implemented")
}
func (n *noopDBusClient) Call(ctx context.Context, dest, path, method string) error { return nil }

func newTestMonitor(conn DBusClient, target string) *MprisMonitor {
	player := NewMprisPlayer(zap.NewNop(), conn)
	player.SetTarget(target)
	mon := NewMprisMonitor(zap.NewNop(), conn, player)
	mon.running = true
	mon.playerNames = map[string]string{":1.100": spotify, ":1.200": vlc}
	return mon
}

func propertiesChanged(sender string, props map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
		Sender: sender,
		Body:   []interface{}{"org.mpris.MediaPlayer2.Player", props, []string{}},
	}
}

func expectNotification(t *testing.T, mon *MprisMonitor, want bool) {
	t.Helper()
	select {
	case <-mon.Changes():
		if !want {
			t.Error("Should NOT emit a change notification")
		}
	case <-time.After(50 * time.Millisecond):
		if want {
			t.Error("Timeout: change notification was not emitted")
		}
	}
}

// TestHandleSignal_HappyPath verifies a track change on the controlled player requests a redraw
func TestHandleSignal_HappyPath(t *testing.T) {
	mon := newTestMonitor(&noopDBusClient{}, spotify)

	mon.handleSignal(propertiesChanged(":1.100", map[string]dbus.Variant{
		"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
			"xesam:title": dbus.MakeVariant("Bohemian Rhapsody"),
		}),
	}))

	expectNotification(t, mon, true)
}

// TestHandleSignal_EdgeCases consolidates all ignored scenarios into a table test
func TestHandleSignal_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		signal *dbus.Signal
	}{
		{
			name:   "Wrong Signal Name",
			signal: &dbus.Signal{Name: "org.freedesktop.DBus.SomeOtherSignal", Body: []interface{}{}},
		},
		{
			name: "Wrong Interface",
			signal: &dbus.Signal{
				Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
				Sender: ":1.100",
				Body:   []interface{}{"org.mpris.MediaPlayer2", map[string]dbus.Variant{}, []string{}},
			},
		},
		{
			name: "Short Body",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{"org.mpris.MediaPlayer2.Player"},
			},
		},
		{
			name:   "Other Player",
			signal: propertiesChanged(":1.200", map[string]dbus.Variant{"PlaybackStatus": dbus.MakeVariant("Playing")}),
		},
		{
			name:   "Irrelevant Property",
			signal: propertiesChanged(":1.100", map[string]dbus.Variant{"Volume": dbus.MakeVariant(0.5)}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := newTestMonitor(&noopDBusClient{}, spotify)
			mon.handleSignal(tt.signal)
			expectNotification(t, mon, false)
		})
	}
}

func TestNotify_Coalesces(t *testing.T) {
	mon := newTestMonitor(&noopDBusClient{}, spotify)

	sig := propertiesChanged(":1.100", map[string]dbus.Variant{"PlaybackStatus": dbus.MakeVariant("Paused")})
	for i := 0; i < 5; i++ {
		mon.handleSignal(sig)
	}

	expectNotification(t, mon, true)
	expectNotification(t, mon, false)
}

func nameOwnerChanged(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Name: "org.freedesktop.DBus.NameOwnerChanged",
		Body: []interface{}{name, oldOwner, newOwner},
	}
}

func TestHandleNameOwnerChanged(t *testing.T) {
	t.Run("Controlled player vanishes and another takes over", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockDBusClient(ctrl)
		client.EXPECT().ListNames().Return([]string{vlc}, nil)
		client.EXPECT().GetProperty(vlc, mprisPath, statusProp).Return(dbus.MakeVariant("Paused"), nil)

		mon := newTestMonitor(client, spotify)
		mon.handleNameOwnerChanged(nameOwnerChanged(spotify, ":1.100", ""))

		if got := mon.player.Name(); got != vlc {
			t.Errorf("expected player to switch to %s, got %q", vlc, got)
		}
		if _, ok := mon.playerNames[":1.100"]; ok {
			t.Error("stale unique name mapping was not removed")
		}
		expectNotification(t, mon, true)
	})

	t.Run("Controlled player vanishes with no replacement", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockDBusClient(ctrl)
		client.EXPECT().ListNames().Return([]string{}, nil)

		mon := newTestMonitor(client, spotify)
		mon.handleNameOwnerChanged(nameOwnerChanged(spotify, ":1.100", ""))

		if got := mon.player.Name(); got != "" {
			t.Errorf("expected detached player, got %q", got)
		}
		expectNotification(t, mon, true)
	})

	t.Run("New player adopted when detached", func(t *testing.T) {
		mon := newTestMonitor(&noopDBusClient{}, "")
		mon.handleNameOwnerChanged(nameOwnerChanged(vlc, "", ":1.300"))

		if got := mon.player.Name(); got != vlc {
			t.Errorf("expected %s, got %q", vlc, got)
		}
		if mon.getPlayerName(":1.300") != vlc {
			t.Error("new unique name was not mapped")
		}
		expectNotification(t, mon, true)
	})

	t.Run("New player ignored while controlling another", func(t *testing.T) {
		mon := newTestMonitor(&noopDBusClient{}, spotify)
		mon.handleNameOwnerChanged(nameOwnerChanged(vlc, "", ":1.300"))

		if got := mon.player.Name(); got != spotify {
			t.Errorf("expected to keep %s, got %q", spotify, got)
		}
		expectNotification(t, mon, false)
	})

	t.Run("Non-MPRIS name", func(t *testing.T) {
		mon := newTestMonitor(&noopDBusClient{}, spotify)
		mon.handleNameOwnerChanged(nameOwnerChanged("org.gnome.Shell", ":1.5", ""))
		expectNotification(t, mon, false)
	})
}

func TestStartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockDBusClient(ctrl)

	var signals chan<- *dbus.Signal
	client.EXPECT().ListNames().Return([]string{spotify, "org.freedesktop.Notifications"}, nil)
	client.EXPECT().GetNameOwner(spotify).Return(":1.100", nil)
	client.EXPECT().AddMatchSignal(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().AddMatchSignal(gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().Signal(gomock.Any()).Do(func(ch chan<- *dbus.Signal) { signals = ch })

	player := NewMprisPlayer(zap.NewNop(), client)
	player.SetTarget(spotify)
	mon := NewMprisMonitor(zap.NewNop(), client, player)

	if err := mon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Starting twice is a no-op
	if err := mon.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	signals <- propertiesChanged(":1.100", map[string]dbus.Variant{"PlaybackStatus": dbus.MakeVariant("Paused")})
	select {
	case <-mon.Changes():
	case <-time.After(time.Second):
		t.Fatal("Timeout: signal was not processed")
	}

	if err := mon.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, ok := <-mon.Changes(); ok {
		t.Error("Changes channel should be closed after Stop")
	}
}

func TestStart_MatchFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockDBusClient(ctrl)
	client.EXPECT().ListNames().Return(nil, nil)
	client.EXPECT().AddMatchSignal(gomock.Any(), gomock.Any(), gomock.Any()).Return(fmt.Errorf("access denied"))

	mon := NewMprisMonitor(zap.NewNop(), client, NewMprisPlayer(zap.NewNop(), client))
	if err := mon.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if mon.running {
		t.Error("monitor should not be running after a failed Start")
	}
}
