// Package detector watches the native clipboard and turns each change into
// a history entry.
package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/plate/internal/classify"
	"github.com/marcus/plate/internal/clipboard"
	"github.com/marcus/plate/internal/events"
	"github.com/marcus/plate/internal/imaging"
	"github.com/marcus/plate/internal/models"
)

// Inserter receives captured entries. history.Store implements it.
type Inserter interface {
	Insert(models.Entry) error
}

// Encrypter seals text content at rest. crypto.Codec implements it.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Pusher forwards captured entries to other devices. sync.Engine implements it.
type Pusher interface {
	Push(ctx context.Context, e models.Entry) error
}

// Options wires a Detector to its collaborators. Clipboard and History are
// required; the rest are optional.
type Options struct {
	Clipboard clipboard.Clipboard
	History   Inserter
	Codec     Encrypter
	Events    events.Publisher
	Sync      Pusher
	// Settings is consulted on every capture so changes apply without a
	// restart. Nil means default settings.
	Settings func() models.Settings
}

// Detector holds the last observed clipboard snapshot and captures every
// change against it.
type Detector struct {
	opts Options

	mu        sync.Mutex
	lastText  string
	lastImage []byte

	now   func() time.Time
	newID func() string
}

// New creates a detector seeded with the clipboard's current contents, so
// whatever is on the clipboard at startup is not captured.
func New(opts Options) (*Detector, error) {
	if opts.Clipboard == nil {
		return nil, errors.New("detector: clipboard is required")
	}
	if opts.History == nil {
		return nil, errors.New("detector: history is required")
	}
	if opts.Settings == nil {
		opts.Settings = models.DefaultSettings
	}

	d := &Detector{
		opts:  opts,
		now:   time.Now,
		newID: newEntryID,
	}

	if text, err := opts.Clipboard.ReadText(); err == nil {
		d.lastText = text
	}
	if img, err := opts.Clipboard.ReadImage(); err == nil {
		d.lastImage = img
	}
	return d, nil
}

func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Run captures changes each time trigger fires until ctx is cancelled. It
// returns only after the trigger has released its resources.
func (d *Detector) Run(ctx context.Context, trigger Trigger) error {
	signals, err := trigger.Start(ctx)
	if err != nil {
		return fmt.Errorf("start %s trigger: %w", trigger.Name(), err)
	}
	slog.Info("clipboard detector started", "trigger", trigger.Name())

	for range signals {
		if ctx.Err() != nil {
			continue
		}
		d.Tick(ctx)
	}

	slog.Info("clipboard detector stopped")
	return nil
}

// Tick runs one detection pass and returns the entries it captured.
// Failures are logged and never stop later passes.
func (d *Detector) Tick(ctx context.Context) []models.Entry {
	text, err := d.opts.Clipboard.ReadText()
	if err != nil {
		slog.Debug("read clipboard text", "err", err)
		text = ""
	}
	img, err := d.opts.Clipboard.ReadImage()
	if err != nil {
		slog.Debug("read clipboard image", "err", err)
		img = nil
	}

	// Snapshots advance before any processing so a failing change is not
	// captured again on the next pass.
	d.mu.Lock()
	textChanged := text != "" && text != d.lastText
	imageChanged := len(img) > 0 && (len(d.lastImage) == 0 || !bytes.Equal(img, d.lastImage))
	if textChanged {
		d.lastText = text
	}
	if imageChanged {
		d.lastImage = img
	}
	d.mu.Unlock()

	var captured []models.Entry
	if textChanged {
		if e, err := d.captureText(ctx, text); err != nil {
			slog.Warn("capture clipboard text", "err", err)
		} else {
			captured = append(captured, e)
		}
	}
	if imageChanged {
		if e, err := d.captureImage(ctx, img); err != nil {
			slog.Warn("capture clipboard image", "err", err)
		} else {
			captured = append(captured, e)
		}
	}
	return captured
}

func (d *Detector) captureText(ctx context.Context, text string) (models.Entry, error) {
	settings := d.opts.Settings()

	entry := models.Entry{
		ID:        d.newID(),
		Category:  classify.Classify(text),
		Content:   text,
		Timestamp: d.now(),
	}
	if settings.EncryptEnabled && d.opts.Codec != nil {
		sealed, err := d.opts.Codec.Encrypt(text)
		if err != nil {
			return models.Entry{}, fmt.Errorf("encrypt: %w", err)
		}
		entry.Content = sealed
	}

	if err := d.opts.History.Insert(entry); err != nil {
		return models.Entry{}, fmt.Errorf("insert: %w", err)
	}
	slog.Debug("captured clipboard text", "id", entry.ID, "category", entry.Category)

	plain := entry
	plain.Content = text
	d.publish(plain)
	d.push(ctx, settings, entry)
	return entry, nil
}

func (d *Detector) captureImage(ctx context.Context, png []byte) (models.Entry, error) {
	settings := d.opts.Settings()

	payload, err := imaging.FromBytes(png)
	if err != nil {
		return models.Entry{}, err
	}
	if normalized, err := imaging.Normalize(payload, settings.MaxImageSize); err != nil {
		slog.Warn("normalize image, keeping original", "err", err)
	} else {
		payload = normalized
	}

	entry := models.Entry{
		ID:        d.newID(),
		Category:  models.CategoryImage,
		Content:   payload,
		Timestamp: d.now(),
	}
	if err := d.opts.History.Insert(entry); err != nil {
		return models.Entry{}, fmt.Errorf("insert: %w", err)
	}
	slog.Debug("captured clipboard image", "id", entry.ID, "kb", imaging.SizeKB(payload))

	d.publish(entry)
	d.push(ctx, settings, entry)
	return entry, nil
}

func (d *Detector) publish(e models.Entry) {
	if d.opts.Events == nil {
		return
	}
	d.opts.Events.Publish(events.Event{
		Type:   events.TypeClipboardChange,
		Source: events.SourceLocal,
		Entry:  &e,
	})
}

func (d *Detector) push(ctx context.Context, settings models.Settings, e models.Entry) {
	if d.opts.Sync == nil || !settings.SyncEnabled {
		return
	}
	if err := d.opts.Sync.Push(ctx, e); err != nil {
		slog.Warn("push clipboard entry", "id", e.ID, "err", err)
	}
}

// WriteText puts text on the clipboard without capturing it as a new entry.
func (d *Detector) WriteText(text string) error {
	d.mu.Lock()
	prev := d.lastText
	d.lastText = text
	d.mu.Unlock()

	if err := d.opts.Clipboard.WriteText(text); err != nil {
		d.mu.Lock()
		if d.lastText == text {
			d.lastText = prev
		}
		d.mu.Unlock()
		return err
	}
	return nil
}

// WriteImage puts PNG data on the clipboard without capturing it.
func (d *Detector) WriteImage(png []byte) error {
	d.mu.Lock()
	prev := d.lastImage
	d.lastImage = bytes.Clone(png)
	d.mu.Unlock()

	if err := d.opts.Clipboard.WriteImage(png); err != nil {
		d.mu.Lock()
		d.lastImage = prev
		d.mu.Unlock()
		return err
	}
	return nil
}
