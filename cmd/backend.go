package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/marcus/plate/internal/config"
	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/shell"
)

// backend is what the history, settings and shortcut commands operate on.
// While `plate watch` runs it owns the history, so edits go through its
// shell listener; otherwise the database is opened directly.
type backend interface {
	History() ([]models.Entry, error)
	Search(q string, fuzzy bool) ([]models.Entry, error)
	Copy(id string) (models.Entry, error)
	Remove(id string) error
	Clear() error
	Settings() (models.Settings, error)
	SaveSettings(models.Settings) error
	Shortcuts() ([]models.Shortcut, error)
	SaveShortcuts([]models.Shortcut) error
	Close() error
}

const daemonProbeTimeout = 300 * time.Millisecond

// openBackend returns the running daemon's shell when it answers, else the
// local database.
func openBackend() (backend, error) {
	cfg, err := config.Resolve()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if addr := cfg.Shell(); addr != "" {
		rb := newRemoteBackend(addr)
		if rb.alive() {
			return rb, nil
		}
	}
	a, err := openAppWith(cfg, nil)
	if err != nil {
		return nil, err
	}
	return localBackend{a}, nil
}

// --- local ---

type localBackend struct{ a *app }

func (l localBackend) History() ([]models.Entry, error) { return l.a.svc.History(), nil }
func (l localBackend) Search(q string, fuzzy bool) ([]models.Entry, error) {
	return l.a.svc.Search(q, fuzzy), nil
}
func (l localBackend) Copy(id string) (models.Entry, error)   { return l.a.svc.Copy(id) }
func (l localBackend) Remove(id string) error                  { return l.a.svc.RemoveEntry(id) }
func (l localBackend) Clear() error                            { return l.a.svc.ClearHistory() }
func (l localBackend) Settings() (models.Settings, error)      { return l.a.svc.Settings(), nil }
func (l localBackend) SaveSettings(s models.Settings) error    { return l.a.svc.SaveSettings(s) }
func (l localBackend) Shortcuts() ([]models.Shortcut, error)   { return l.a.svc.Shortcuts() }
func (l localBackend) SaveShortcuts(b []models.Shortcut) error { return l.a.svc.SaveShortcuts(b) }
func (l localBackend) Close() error                            { return l.a.Close() }

// --- remote (daemon shell) ---

type remoteBackend struct {
	base string
	http *http.Client
}

func newRemoteBackend(addr string) *remoteBackend {
	return &remoteBackend{base: "http://" + addr, http: &http.Client{Timeout: 10 * time.Second}}
}

func (r *remoteBackend) alive() bool {
	c := &http.Client{Timeout: daemonProbeTimeout}
	resp, err := c.Get(r.base + "/healthz")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type shellError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *remoteBackend) do(method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, r.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var se shellError
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &se) != nil || se.Error.Message == "" {
			return fmt.Errorf("daemon %s %s: HTTP %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", se.Error.Message, shell.ErrNotFound)
		}
		return errors.New(se.Error.Message)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}

func (r *remoteBackend) History() ([]models.Entry, error) {
	var out []models.Entry
	err := r.do("GET", "/history", nil, &out)
	return out, err
}

func (r *remoteBackend) Search(q string, fuzzy bool) ([]models.Entry, error) {
	v := url.Values{"q": {q}}
	if fuzzy {
		v.Set("fuzzy", "1")
	}
	var out []models.Entry
	err := r.do("GET", "/history/search?"+v.Encode(), nil, &out)
	return out, err
}

func (r *remoteBackend) Copy(id string) (models.Entry, error) {
	var out models.Entry
	err := r.do("POST", "/history/"+url.PathEscape(id)+"/copy", nil, &out)
	return out, err
}

func (r *remoteBackend) Remove(id string) error {
	return r.do("DELETE", "/history/"+url.PathEscape(id), nil, nil)
}

func (r *remoteBackend) Clear() error { return r.do("DELETE", "/history", nil, nil) }

func (r *remoteBackend) Settings() (models.Settings, error) {
	var out models.Settings
	err := r.do("GET", "/settings", nil, &out)
	return out, err
}

func (r *remoteBackend) SaveSettings(s models.Settings) error {
	return r.do("PUT", "/settings", s, nil)
}

func (r *remoteBackend) Shortcuts() ([]models.Shortcut, error) {
	var out []models.Shortcut
	err := r.do("GET", "/shortcuts", nil, &out)
	return out, err
}

func (r *remoteBackend) SaveShortcuts(b []models.Shortcut) error {
	return r.do("PUT", "/shortcuts", b, nil)
}

func (r *remoteBackend) Close() error { return nil }
