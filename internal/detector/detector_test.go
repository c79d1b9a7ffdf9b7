package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/marcus/plate/internal/clipboard"
	"github.com/marcus/plate/internal/crypto"
	"github.com/marcus/plate/internal/events"
	"github.com/marcus/plate/internal/history"
	"github.com/marcus/plate/internal/models"
)

type memPersister struct {
	mu    sync.Mutex
	saved []models.Entry
}

func (m *memPersister) LoadEntries() ([]models.Entry, error) { return nil, nil }

func (m *memPersister) SaveEntries(e []models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = slices.Clone(e)
	return nil
}

type fakePusher struct {
	mu     sync.Mutex
	pushed []models.Entry
}

func (f *fakePusher) Push(_ context.Context, e models.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, e)
	return nil
}

type failingInserter struct{ calls int }

func (f *failingInserter) Insert(models.Entry) error {
	f.calls++
	return errors.New("disk full")
}

type harness struct {
	clip     *clipboard.Memory
	store    *history.Store
	codec    *crypto.Codec
	bus      *events.Bus
	pusher   *fakePusher
	settings models.Settings
	det      *Detector
}

func newHarness(t *testing.T, mutate ...func(*models.Settings)) *harness {
	t.Helper()
	codec, err := crypto.NewCodec("detector-test")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	h := &harness{
		clip:     clipboard.NewMemory(),
		codec:    codec,
		bus:      events.NewBus(),
		pusher:   &fakePusher{},
		settings: models.DefaultSettings(),
	}
	for _, m := range mutate {
		m(&h.settings)
	}
	h.store = history.New(&memPersister{}, h.settings.MaxHistoryItems, codec)
	h.det = h.newDetector(t)
	return h
}

func (h *harness) newDetector(t *testing.T) *Detector {
	t.Helper()
	det, err := New(Options{
		Clipboard: h.clip,
		History:   h.store,
		Codec:     h.codec,
		Events:    h.bus,
		Sync:      h.pusher,
		Settings:  func() models.Settings { return h.settings },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return det
}

func testPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{History: history.New(&memPersister{}, 10, nil)}); err == nil {
		t.Error("New without clipboard should fail")
	}
	if _, err := New(Options{Clipboard: clipboard.NewMemory()}); err == nil {
		t.Error("New without history should fail")
	}
}

func TestLinkCapturedEncryptedAndQueryable(t *testing.T) {
	h := newHarness(t)
	h.clip.WriteText("http://a.com")

	captured := h.det.Tick(context.Background())
	if len(captured) != 1 {
		t.Fatalf("captured %d entries, want 1", len(captured))
	}
	if h.store.Len() != 1 {
		t.Fatalf("store length = %d, want 1", h.store.Len())
	}

	stored := h.store.List()[0]
	if stored.Category != models.CategoryLink {
		t.Errorf("category = %s, want link", stored.Category)
	}
	if !h.codec.IsEnvelope(stored.Content) {
		t.Errorf("stored content %q is not an envelope", stored.Content)
	}

	got := h.store.Query("a.com")
	if len(got) != 1 || got[0].Content != "http://a.com" {
		t.Fatalf("Query(a.com) = %+v", got)
	}
}

func TestHundredAndOneChangesKeepNewestHundred(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 1; i <= 101; i++ {
		h.clip.WriteText(fmt.Sprintf("change %d", i))
		if n := len(h.det.Tick(ctx)); n != 1 {
			t.Fatalf("tick %d captured %d entries", i, n)
		}
	}

	if h.store.Len() != 100 {
		t.Fatalf("store length = %d, want 100", h.store.Len())
	}
	all := h.store.Query("")
	if all[0].Content != "change 101" || all[99].Content != "change 2" {
		t.Errorf("newest=%q oldest=%q", all[0].Content, all[99].Content)
	}
	// "change 1" itself is evicted; 10 through 19, 100 and 101 remain
	if n := len(h.store.Query("change 1")); n != 12 {
		t.Errorf("oldest entry not evicted: %d matches for \"change 1\"", n)
	}
}

func TestStartupContentNotCaptured(t *testing.T) {
	h := newHarness(t)
	h.clip.WriteText("already here")
	h.clip.WriteImage(testPNG(t, color.Black))
	det := h.newDetector(t)

	if got := det.Tick(context.Background()); len(got) != 0 {
		t.Fatalf("captured %d entries from startup contents", len(got))
	}
}

func TestUnchangedAndEmptyTextIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.det.Tick(ctx)
	h.clip.WriteText("same")
	h.det.Tick(ctx)
	h.det.Tick(ctx)
	h.clip.WriteText("")
	h.det.Tick(ctx)

	if h.store.Len() != 1 {
		t.Errorf("store length = %d, want 1", h.store.Len())
	}
}

func TestEncryptionDisabledStoresPlaintext(t *testing.T) {
	h := newHarness(t, func(s *models.Settings) { s.EncryptEnabled = false })
	h.clip.WriteText("func main() {\n\tprintln(1)\n}")
	h.det.Tick(context.Background())

	stored := h.store.List()[0]
	if stored.Content != "func main() {\n\tprintln(1)\n}" {
		t.Errorf("content = %q, want plaintext", stored.Content)
	}
	if stored.Category != models.CategoryCode {
		t.Errorf("category = %s, want code", stored.Category)
	}
}

func TestImageAndTextInOneTick(t *testing.T) {
	h := newHarness(t)
	h.clip.WriteText("caption")
	h.clip.WriteImage(testPNG(t, color.White))

	captured := h.det.Tick(context.Background())
	if len(captured) != 2 {
		t.Fatalf("captured %d entries, want 2", len(captured))
	}

	img := captured[1]
	if img.Category != models.CategoryImage {
		t.Fatalf("second entry category = %s, want image", img.Category)
	}
	if !strings.HasPrefix(img.Content, "data:image/") {
		t.Errorf("image content %.30q is not a data URL", img.Content)
	}
	if h.codec.IsEnvelope(img.Content) {
		t.Error("image content must never be encrypted")
	}
	if captured[0].ID == img.ID {
		t.Error("entries share an id")
	}

	// Same image again is not a change; a different one is.
	if got := h.det.Tick(context.Background()); len(got) != 0 {
		t.Errorf("unchanged image recaptured")
	}
	h.clip.WriteImage(testPNG(t, color.Black))
	if got := h.det.Tick(context.Background()); len(got) != 1 {
		t.Errorf("changed image captured %d entries, want 1", len(got))
	}
}

func TestFailedInsertNotRetried(t *testing.T) {
	clip := clipboard.NewMemory()
	ins := &failingInserter{}
	det, err := New(Options{Clipboard: clip, History: ins})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clip.WriteText("boom")
	for i := 0; i < 3; i++ {
		if got := det.Tick(context.Background()); len(got) != 0 {
			t.Fatalf("failed capture reported as captured")
		}
	}
	if ins.calls != 1 {
		t.Errorf("insert called %d times, want 1", ins.calls)
	}
}

func TestWriteTextIsNotRecaptured(t *testing.T) {
	h := newHarness(t)
	if err := h.det.WriteText("pasted from history"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if text, _ := h.clip.ReadText(); text != "pasted from history" {
		t.Fatalf("clipboard = %q", text)
	}
	if got := h.det.Tick(context.Background()); len(got) != 0 {
		t.Errorf("self-written text captured as %d entries", len(got))
	}
}

func TestCaptureNotifiesEventsAndSync(t *testing.T) {
	h := newHarness(t)
	ch, unsub := h.bus.Subscribe(events.TypeClipboardChange)
	defer unsub()

	h.clip.WriteText("hello")
	h.det.Tick(context.Background())

	select {
	case ev := <-ch:
		if ev.Source != events.SourceLocal || ev.Entry == nil || ev.Entry.Content != "hello" {
			t.Errorf("event = %+v, want local change with plaintext", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no clipboard-change event")
	}

	if len(h.pusher.pushed) != 1 || !h.codec.IsEnvelope(h.pusher.pushed[0].Content) {
		t.Errorf("pushed = %+v, want one encrypted entry", h.pusher.pushed)
	}

	h.settings.SyncEnabled = false
	h.clip.WriteText("local only")
	h.det.Tick(context.Background())
	if len(h.pusher.pushed) != 1 {
		t.Errorf("pushed with sync disabled")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func runDetector(t *testing.T, det *Detector, trig Trigger) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- det.Run(ctx, trig) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestRunWithPollTrigger(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	stop := runDetector(t, h.det, PollTrigger{Interval: 10 * time.Millisecond})

	h.clip.WriteText("polled")
	waitFor(t, func() bool { return h.store.Len() == 1 })
	stop()
}

func TestRunWithFileTrigger(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	signal := filepath.Join(t.TempDir(), "clipboard.signal")
	stop := runDetector(t, h.det, FileTrigger{Path: signal})

	h.clip.WriteText("signalled")
	waitFor(t, func() bool {
		os.WriteFile(signal, []byte(time.Now().String()), 0600)
		return h.store.Len() == 1
	})
	stop()
}
