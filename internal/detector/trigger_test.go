package detector

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/goleak"
)

func TestNewTrigger(t *testing.T) {
	tests := []struct {
		kind    string
		file    string
		want    string
		wantErr bool
	}{
		{"", "", "poll", false},
		{"poll", "", "poll", false},
		{"file", "/tmp/signal", "file", false},
		{"file", "", "", true},
		{"dbus", "", "dbus", false},
		{"inotify", "", "", true},
	}
	for _, tt := range tests {
		trig, err := NewTrigger(tt.kind, time.Second, tt.file)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewTrigger(%q) err = %v, wantErr %v", tt.kind, err, tt.wantErr)
			continue
		}
		if err == nil && trig.Name() != tt.want {
			t.Errorf("NewTrigger(%q).Name() = %s, want %s", tt.kind, trig.Name(), tt.want)
		}
	}
}

func TestPollTriggerClosesOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := PollTrigger{Interval: 5 * time.Millisecond}.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("poll trigger never fired")
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestIsClipboardSignal(t *testing.T) {
	tests := []struct {
		name string
		sig  *dbus.Signal
		want bool
	}{
		{"klipper update", &dbus.Signal{Path: "/klipper", Name: "org.kde.klipper.klipper.clipboardHistoryUpdated"}, true},
		{"other member", &dbus.Signal{Path: "/klipper", Name: "org.kde.klipper.klipper.clearClipboardHistory"}, false},
		{"other interface", &dbus.Signal{Path: "/klipper", Name: "org.freedesktop.DBus.Properties.clipboardHistoryUpdated"}, false},
		{"other path", &dbus.Signal{Path: "/other", Name: "org.kde.klipper.klipper.clipboardHistoryUpdated"}, false},
		{"bare member", &dbus.Signal{Path: "/klipper", Name: "clipboardHistoryUpdated"}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := isClipboardSignal(tt.sig); got != tt.want {
			t.Errorf("%s: isClipboardSignal = %v, want %v", tt.name, got, tt.want)
		}
	}
}
