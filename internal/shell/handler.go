package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/plate/internal/events"
	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/shortcuts"
)

const (
	errCodeBadRequest = "bad_request"
	errCodeNotFound   = "not_found"
	errCodeInternal   = "internal"

	maxBodyBytes = 16 << 20
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: apiError{Code: code, Message: message}}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps service errors onto HTTP statuses
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, errCodeNotFound, err.Error())
	case errors.Is(err, shortcuts.ErrInvalidAccelerator), errors.Is(err, shortcuts.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
	default:
		slog.Error("shell request failed", "err", err)
		writeError(w, http.StatusInternalServerError, errCodeInternal, err.Error())
	}
}

// Handler serves the shell boundary over HTTP. Events are streamed from bus
// on GET /events.
type Handler struct {
	svc      *Service
	bus      *events.Bus
	status   func() models.SyncSession
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// NewHandler builds the route table. status may be nil when sync is not
// running.
func NewHandler(svc *Service, bus *events.Bus, status func() models.SyncSession) *Handler {
	h := &Handler{
		svc:    svc,
		bus:    bus,
		status: status,
		upgrader: websocket.Upgrader{
			// The shell listens on loopback; browsers embedding the UI send
			// their own origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /clipboard", h.handleGetClipboard)
	h.mux.HandleFunc("POST /clipboard", h.handleSetClipboard)
	h.mux.HandleFunc("GET /history", h.handleGetHistory)
	h.mux.HandleFunc("PUT /history", h.handleSaveHistory)
	h.mux.HandleFunc("DELETE /history", h.handleClearHistory)
	h.mux.HandleFunc("GET /history/search", h.handleSearch)
	h.mux.HandleFunc("DELETE /history/{id}", h.handleRemoveEntry)
	h.mux.HandleFunc("POST /history/{id}/copy", h.handleCopyEntry)
	h.mux.HandleFunc("GET /settings", h.handleGetSettings)
	h.mux.HandleFunc("PUT /settings", h.handleSaveSettings)
	h.mux.HandleFunc("GET /shortcuts", h.handleGetShortcuts)
	h.mux.HandleFunc("PUT /shortcuts", h.handleSaveShortcuts)
	h.mux.HandleFunc("GET /events", h.handleEvents)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "entries": len(h.svc.History())}
	if h.status != nil {
		resp["sync"] = h.status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetClipboard(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Clipboard()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleSetClipboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SetClipboard(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.History())
}

func (h *Handler) handleSaveHistory(w http.ResponseWriter, r *http.Request) {
	var entries []models.Entry
	if !decodeBody(w, r, &entries) {
		return
	}
	if err := h.svc.SaveHistory(entries); err != nil {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.History())
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearHistory(); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fuzzy := q.Get("fuzzy") == "1" || strings.EqualFold(q.Get("fuzzy"), "true")
	writeJSON(w, http.StatusOK, h.svc.Search(q.Get("q"), fuzzy))
}

func (h *Handler) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveEntry(r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCopyEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Copy(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

func (h *Handler) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	// Fields left out of the body keep their current values.
	next := h.svc.Settings()
	if !decodeBody(w, r, &next) {
		return
	}
	if err := h.svc.SaveSettings(next); err != nil {
		writeError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *Handler) handleGetShortcuts(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.svc.Shortcuts()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bindings)
}

func (h *Handler) handleSaveShortcuts(w http.ResponseWriter, r *http.Request) {
	var bindings []models.Shortcut
	if !decodeBody(w, r, &bindings) {
		return
	}
	if err := h.svc.SaveShortcuts(bindings); err != nil {
		writeServiceError(w, err)
		return
	}
	h.handleGetShortcuts(w, r)
}

// handleEvents streams bus events as JSON text frames. An optional
// comma-separated ?types= filter limits what is sent.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var types []events.Type
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			t, ok := events.NormalizeType(name)
			if !ok {
				writeError(w, http.StatusBadRequest, errCodeBadRequest, fmt.Sprintf("unknown event type %q", name))
				return
			}
			types = append(types, t)
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("events upgrade", "err", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := h.bus.Subscribe(types...)
	defer unsubscribe()

	// Reader goroutine notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Serve listens on addr and serves h until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	slog.Info("shell listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown shell: %w", err)
	}
	return nil
}
