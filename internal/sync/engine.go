// Package sync keeps the local history in step with the user's other
// devices through the plate-sync server.
package sync

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/marcus/plate/internal/events"
	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/syncclient"
	"github.com/marcus/plate/internal/syncconfig"
)

// ErrNotLoggedIn is returned by operations that need a token when none is set.
var ErrNotLoggedIn = errors.New("not logged in: run 'plate login'")

// ErrOutboxFull is returned by Push when entries are captured faster than
// the server accepts them.
var ErrOutboxFull = errors.New("sync outbox full")

const (
	outboxSize  = 64
	pushTimeout = 5 * time.Second
)

//go:embed entry.schema.json
var entrySchema []byte

// Store is the history the engine merges remote entries into.
// history.Store implements it.
type Store interface {
	Insert(models.Entry) error
	Merge([]models.Entry) (int, error)
	Has(id string) bool
}

// Cursor persists the capture time of the newest remote entry already
// pulled. db.DB implements it.
type Cursor interface {
	LoadSyncCursor() (time.Time, error)
	SaveSyncCursor(time.Time) error
}

// Codec seals and opens text content. crypto.Codec implements it.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) string
	IsEnvelope(s string) bool
}

// Options wires an Engine. Client and Store are required.
type Options struct {
	Client   *syncclient.Client
	Store    Store
	Codec    Codec
	Events   events.Publisher
	Settings func() models.Settings
	// Cursor keeps the pull position across restarts; nil keeps it in memory.
	Cursor Cursor
	// SaveAuth persists credentials after login; defaults to syncconfig.SaveAuth.
	SaveAuth func(*syncconfig.AuthCredentials) error
}

// Engine owns the sync session: credentials, the duplex channel and its
// state (disconnected, connecting, connected).
type Engine struct {
	opts   Options
	schema *jsonschema.Schema
	now    func() time.Time

	outbox chan models.Entry

	mu     stdsync.Mutex
	state  models.ConnState
	ch     *syncclient.Channel
	done   chan struct{} // closed when the current channel's loops exit
	cursor time.Time
}

// New creates a disconnected engine.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil || opts.Store == nil {
		return nil, errors.New("sync: client and store are required")
	}
	if opts.Settings == nil {
		opts.Settings = models.DefaultSettings
	}
	if opts.SaveAuth == nil {
		opts.SaveAuth = syncconfig.SaveAuth
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("entry.schema.json", bytes.NewReader(entrySchema)); err != nil {
		return nil, fmt.Errorf("add entry schema: %w", err)
	}
	schema, err := compiler.Compile("entry.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile entry schema: %w", err)
	}

	var cursor time.Time
	if opts.Cursor != nil {
		if cursor, err = opts.Cursor.LoadSyncCursor(); err != nil {
			slog.Warn("load sync cursor", "err", err)
			cursor = time.Time{}
		}
	}

	return &Engine{
		opts:   opts,
		schema: schema,
		now:    time.Now,
		outbox: make(chan models.Entry, outboxSize),
		state:  models.StateDisconnected,
		cursor: cursor,
	}, nil
}

// DeviceID returns this device's identity
func (e *Engine) DeviceID() string {
	return e.opts.Client.DeviceID
}

// State returns the channel state
func (e *Engine) State() models.ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Session returns a snapshot of the sync session
func (e *Engine) Session() models.SyncSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.SyncSession{
		DeviceID:  e.opts.Client.DeviceID,
		AuthToken: e.opts.Client.Token,
		State:     e.state,
	}
}

func (e *Engine) setState(s models.ConnState) {
	e.mu.Lock()
	changed := e.state != s
	e.state = s
	e.mu.Unlock()
	if changed {
		e.publish(events.Event{Type: events.TypeSyncState, State: s})
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.opts.Events != nil {
		e.opts.Events.Publish(ev)
	}
}

// Login authenticates, stores the token with the device id, and moves the
// session to connecting. The caller (or Run) then opens the channel.
func (e *Engine) Login(ctx context.Context, username, password string) (string, error) {
	resp, err := e.opts.Client.Login(ctx, username, password)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	e.mu.Lock()
	e.opts.Client.Token = resp.Token
	e.mu.Unlock()

	creds := &syncconfig.AuthCredentials{
		Token:     resp.Token,
		Username:  resp.Username,
		ServerURL: e.opts.Client.BaseURL,
		DeviceID:  e.opts.Client.DeviceID,
		LoggedIn:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.opts.SaveAuth(creds); err != nil {
		return "", fmt.Errorf("save credentials: %w", err)
	}

	e.setState(models.StateConnecting)
	slog.Info("logged in", "user", resp.Username, "device", e.DeviceID())
	return resp.Token, nil
}

// Register creates an account on the server
func (e *Engine) Register(ctx context.Context, username, password, email string) error {
	if _, err := e.opts.Client.Register(ctx, username, password, email); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Connect opens the duplex channel and starts dispatching remote updates.
// Connecting while already connected is a no-op.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.ch != nil {
		e.mu.Unlock()
		return nil
	}
	token := e.opts.Client.Token
	e.mu.Unlock()
	if token == "" {
		return ErrNotLoggedIn
	}

	e.setState(models.StateConnecting)
	ch, err := e.opts.Client.Dial(ctx)
	if err != nil {
		e.setState(models.StateDisconnected)
		return err
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.ch = ch
	e.done = done
	e.mu.Unlock()
	e.setState(models.StateConnected)
	slog.Info("sync channel connected", "server", e.opts.Client.BaseURL)

	go func() {
		defer close(done)
		sendCtx, cancel := context.WithCancel(context.Background())
		sent := make(chan struct{})
		go func() {
			defer close(sent)
			e.sendLoop(sendCtx, ch)
		}()
		e.readLoop(ch)
		cancel()
		<-sent
	}()
	return nil
}

// sendLoop delivers queued local entries over ch until ctx ends.
func (e *Engine) sendLoop(ctx context.Context, ch *syncclient.Channel) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-e.outbox:
			if err := e.deliver(ctx, ch, entry); err != nil && ctx.Err() == nil {
				slog.Warn("push clipboard entry", "id", entry.ID, "err", err)
			}
		}
	}
}

func (e *Engine) deliver(ctx context.Context, ch *syncclient.Channel, entry models.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if _, err := e.opts.Client.Sync(ctx, entry); err != nil {
		return fmt.Errorf("sync entry: %w", err)
	}
	if err := ch.SendUpdate(entry); err != nil {
		return fmt.Errorf("emit update: %w", err)
	}
	return nil
}

func (e *Engine) readLoop(ch *syncclient.Channel) {
	for {
		msg, err := ch.Receive()
		if err != nil {
			slog.Debug("sync channel read ended", "err", err)
			break
		}
		if msg.Type != syncclient.MessageClipboardUpdate {
			slog.Debug("ignoring channel message", "type", msg.Type)
			continue
		}
		if _, err := e.HandleRemote(msg.Data); err != nil {
			slog.Warn("remote clipboard update rejected", "err", err)
		}
	}

	e.mu.Lock()
	current := e.ch == ch
	if current {
		e.ch = nil
	}
	e.mu.Unlock()
	if current {
		ch.Close()
		e.setState(models.StateDisconnected)
		slog.Info("sync channel disconnected")
	}
}

// HandleRemote ingests one clipboard-update payload. It reports whether the
// entry was inserted; echoes of this device's own pushes are dropped, as is
// everything while sync is disabled in the settings.
func (e *Engine) HandleRemote(data []byte) (bool, error) {
	if !e.opts.Settings().SyncEnabled {
		slog.Debug("sync disabled, ignoring remote update")
		return false, nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("decode update: %w", err)
	}
	if err := e.schema.Validate(raw); err != nil {
		return false, fmt.Errorf("invalid update: %w", err)
	}

	var entry models.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return false, fmt.Errorf("decode update: %w", err)
	}
	if entry.DeviceID == e.DeviceID() {
		slog.Debug("dropping echo of own update", "id", entry.ID)
		return false, nil
	}

	plain, err := e.localize(&entry)
	if err != nil {
		return false, err
	}
	if err := e.opts.Store.Insert(entry); err != nil {
		return false, fmt.Errorf("insert remote entry: %w", err)
	}
	slog.Debug("merged remote entry", "id", entry.ID, "from", entry.DeviceID)
	e.advanceCursor(entry.Timestamp)

	entry.Content = plain
	e.publish(events.Event{Type: events.TypeClipboardChange, Source: events.SourceRemote, Entry: &entry})
	return true, nil
}

// localize decrypts a remote entry's text and re-seals it under the local
// encryption setting, returning the plaintext.
func (e *Engine) localize(entry *models.Entry) (string, error) {
	if entry.IsImage() || e.opts.Codec == nil {
		return entry.Content, nil
	}
	plain := e.opts.Codec.Decrypt(entry.Content)
	entry.Content = plain
	if e.opts.Settings().EncryptEnabled {
		sealed, err := e.opts.Codec.Encrypt(plain)
		if err != nil {
			return "", fmt.Errorf("encrypt remote entry: %w", err)
		}
		entry.Content = sealed
	}
	return plain, nil
}

// Push queues a local entry for the server and the user's other live
// devices, returning without waiting for the network. It is a no-op unless
// the channel is connected.
func (e *Engine) Push(ctx context.Context, entry models.Entry) error {
	e.mu.Lock()
	ch := e.ch
	connected := e.state == models.StateConnected && ch != nil
	e.mu.Unlock()
	if !connected {
		return nil
	}

	if !entry.IsImage() && e.opts.Codec != nil && !e.opts.Codec.IsEnvelope(entry.Content) {
		sealed, err := e.opts.Codec.Encrypt(entry.Content)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		entry.Content = sealed
	}
	entry.DeviceID = e.DeviceID()
	entry.Timestamp = e.now().UTC()

	select {
	case e.outbox <- entry:
		return nil
	default:
		return fmt.Errorf("push %s: %w", entry.ID, ErrOutboxFull)
	}
}

// Upload stores entries on the server over HTTP only, keeping their ids
// and capture times. Entries without a device id are attributed to this
// device. It returns how many were accepted.
func (e *Engine) Upload(ctx context.Context, entries []models.Entry) (int, error) {
	if e.opts.Client.Token == "" {
		return 0, ErrNotLoggedIn
	}
	accepted := 0
	for _, entry := range entries {
		if !entry.IsImage() && e.opts.Codec != nil && !e.opts.Codec.IsEnvelope(entry.Content) {
			sealed, err := e.opts.Codec.Encrypt(entry.Content)
			if err != nil {
				return accepted, fmt.Errorf("encrypt %s: %w", entry.ID, err)
			}
			entry.Content = sealed
		}
		if entry.DeviceID == "" {
			entry.DeviceID = e.DeviceID()
		}
		resp, err := e.opts.Client.Sync(ctx, entry)
		if err != nil {
			return accepted, fmt.Errorf("upload %s: %w", entry.ID, err)
		}
		if resp.Accepted {
			accepted++
		}
	}
	return accepted, nil
}

// FetchHistory returns the server-side history, newest first, with text
// content decrypted.
func (e *Engine) FetchHistory(ctx context.Context) ([]models.Entry, error) {
	if e.opts.Client.Token == "" {
		return nil, ErrNotLoggedIn
	}
	entries, err := e.opts.Client.History(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if e.opts.Codec != nil {
		for i := range entries {
			if !entries[i].IsImage() {
				entries[i].Content = e.opts.Codec.Decrypt(entries[i].Content)
			}
		}
	}
	return entries, nil
}

// PullHistory merges server entries captured since the last pull into the
// local history by capture time. Entries from this device, entries past the
// retention period and entries at or before the cursor are skipped, so
// entries deleted locally are not brought back. It returns how many were
// added.
func (e *Engine) PullHistory(ctx context.Context) (int, error) {
	if e.opts.Client.Token == "" {
		return 0, ErrNotLoggedIn
	}
	e.mu.Lock()
	cursor := e.cursor
	e.mu.Unlock()
	entries, err := e.opts.Client.History(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("fetch history: %w", err)
	}

	var cutoff time.Time
	if retention := e.opts.Settings().Retention(); retention > 0 {
		cutoff = e.now().Add(-retention)
	}

	newest := cursor
	fresh := make([]models.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Timestamp.After(newest) {
			newest = entry.Timestamp
		}
		switch {
		case entry.DeviceID == e.DeviceID(),
			!entry.Timestamp.After(cursor),
			entry.Timestamp.Before(cutoff),
			e.opts.Store.Has(entry.ID):
			continue
		}
		if _, err := e.localize(&entry); err != nil {
			return 0, err
		}
		fresh = append(fresh, entry)
	}

	added, err := e.opts.Store.Merge(fresh)
	if err != nil {
		return 0, fmt.Errorf("merge pulled entries: %w", err)
	}
	e.advanceCursor(newest)
	if added > 0 {
		slog.Info("pulled remote history", "added", added)
		e.publish(events.Event{Type: events.TypeHistoryReplaced, Source: events.SourceRemote})
	}
	return added, nil
}

// advanceCursor moves the pull cursor forward to t and persists it.
func (e *Engine) advanceCursor(t time.Time) {
	e.mu.Lock()
	if !t.After(e.cursor) {
		e.mu.Unlock()
		return
	}
	e.cursor = t
	e.mu.Unlock()
	if e.opts.Cursor != nil {
		if err := e.opts.Cursor.SaveSyncCursor(t); err != nil {
			slog.Warn("save sync cursor", "err", err)
		}
	}
}

// Disconnect closes the channel. Pushes are no-ops until the next Connect.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	ch := e.ch
	done := e.done
	e.ch = nil
	e.mu.Unlock()

	if ch != nil {
		ch.Close()
		<-done
	}
	e.setState(models.StateDisconnected)
}

// Run keeps the channel up until ctx is cancelled, reconnecting with
// exponential backoff and, while sync is enabled, pulling history on connect
// and every syncInterval seconds. Authentication failures stop it.
func (e *Engine) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0

	defer e.Disconnect()
	for {
		err := e.Connect(ctx)
		switch {
		case err == nil:
			policy.Reset()
			if e.opts.Settings().SyncEnabled {
				if _, err := e.PullHistory(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("initial history pull", "err", err)
				}
			}
			e.waitConnected(ctx)
		case errors.Is(err, ErrNotLoggedIn), errors.Is(err, syncclient.ErrUnauthorized),
			errors.Is(err, syncclient.ErrForbidden):
			return err
		default:
			if ctx.Err() == nil {
				slog.Warn("sync channel connect failed", "err", err)
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		delay := policy.NextBackOff()
		slog.Debug("reconnecting sync channel", "in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// waitConnected blocks until the current channel drops or ctx ends,
// pulling history on the configured interval.
func (e *Engine) waitConnected(ctx context.Context) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return
	}

	interval := time.Duration(e.opts.Settings().SyncInterval) * time.Second
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-tick:
			if !e.opts.Settings().SyncEnabled {
				continue
			}
			if _, err := e.PullHistory(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("periodic history pull", "err", err)
			}
		}
	}
}
