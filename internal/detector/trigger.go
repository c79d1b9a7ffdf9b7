package detector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/godbus/dbus/v5"
)

// DefaultPollInterval matches the desktop app's clipboard polling cadence.
const DefaultPollInterval = 500 * time.Millisecond

// Trigger tells the detector when the clipboard may have changed. The
// returned channel is closed, and every resource the trigger holds is
// released, once ctx is done.
type Trigger interface {
	Name() string
	Start(ctx context.Context) (<-chan struct{}, error)
}

// NewTrigger builds the trigger named by kind: "poll" (the default),
// "file" or "dbus".
func NewTrigger(kind string, interval time.Duration, signalFile string) (Trigger, error) {
	switch kind {
	case "", "poll":
		return PollTrigger{Interval: interval}, nil
	case "file":
		if signalFile == "" {
			return nil, fmt.Errorf("file trigger requires a signal file")
		}
		return FileTrigger{Path: signalFile}, nil
	case "dbus":
		return DBusTrigger{}, nil
	default:
		return nil, fmt.Errorf("unknown trigger %q (want poll, file or dbus)", kind)
	}
}

// notify performs a coalescing send: a pending signal already covers any
// change that happens before the detector reads it.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// PollTrigger fires on a fixed interval.
type PollTrigger struct {
	Interval time.Duration
}

func (p PollTrigger) Name() string { return "poll" }

func (p PollTrigger) Start(ctx context.Context) (<-chan struct{}, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				notify(ch)
			}
		}
	}()
	return ch, nil
}

// FileTrigger fires whenever a signal file is written, e.g. by
// `wl-paste --watch touch ~/.cache/plate/clipboard.signal`.
type FileTrigger struct {
	Path string
}

func (f FileTrigger) Name() string { return "file" }

func (f FileTrigger) Start(ctx context.Context) (<-chan struct{}, error) {
	path, err := filepath.Abs(f.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve signal file: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create signal dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors and tools that replace the file still trigger
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) == 0 {
					continue
				}
				notify(ch)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("signal file watcher", "err", err)
			}
		}
	}()
	return ch, nil
}

const (
	klipperPath      = dbus.ObjectPath("/klipper")
	klipperInterface = "org.kde.klipper.klipper"
	klipperSignal    = "clipboardHistoryUpdated"
)

// DBusTrigger fires on KDE Klipper's clipboardHistoryUpdated signal on the
// session bus.
type DBusTrigger struct{}

func (DBusTrigger) Name() string { return "dbus" }

func (DBusTrigger) Start(ctx context.Context) (<-chan struct{}, error) {
	// A private connection so closing it never affects other bus users
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(klipperPath),
		dbus.WithMatchInterface(klipperInterface),
		dbus.WithMatchMember(klipperSignal),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to klipper: %w", err)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				conn.RemoveSignal(signals)
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if isClipboardSignal(sig) {
					notify(ch)
				}
			}
		}
	}()
	return ch, nil
}

// isClipboardSignal reports whether sig is Klipper's history update. The
// bus match already filters, but a shared connection can deliver others.
func isClipboardSignal(sig *dbus.Signal) bool {
	return sig != nil && sig.Path == klipperPath && sig.Name == klipperInterface+"."+klipperSignal
}
