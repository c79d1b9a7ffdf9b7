package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/plate/internal/models"
)

const (
	messageClipboardUpdate = "clipboard-update"

	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 50 * time.Second
	wsMaxMessageSize = 16 << 20
)

// wsMessage is one frame on the live channel.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// peer is one open channel. Writes are serialized by writeMu.
type peer struct {
	conn     *websocket.Conn
	userID   string
	deviceID string
	writeMu  sync.Mutex
}

func (p *peer) write(messageType int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteMessage(messageType, data)
}

// hub tracks open channels per user.
type hub struct {
	mu      sync.Mutex
	peers   map[string]map[*peer]struct{}
	metrics *Metrics
}

func newHub(m *Metrics) *hub {
	return &hub{peers: make(map[string]map[*peer]struct{}), metrics: m}
}

func (h *hub) add(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.peers[p.userID]
	if !ok {
		set = make(map[*peer]struct{})
		h.peers[p.userID] = set
	}
	set[p] = struct{}{}
	h.metrics.ChannelOpened()
}

func (h *hub) remove(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.peers[p.userID]
	if !ok {
		return
	}
	if _, ok := set[p]; !ok {
		return
	}
	delete(set, p)
	if len(set) == 0 {
		delete(h.peers, p.userID)
	}
	h.metrics.ChannelClosed()
}

func (h *hub) snapshot(userID string) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*peer, 0, len(h.peers[userID]))
	for p := range h.peers[userID] {
		out = append(out, p)
	}
	return out
}

// broadcast sends data to every channel the user has open, the sender's
// included. It returns the number of successful deliveries.
func (h *hub) broadcast(userID string, data []byte) int {
	sent := 0
	for _, p := range h.snapshot(userID) {
		if err := p.write(websocket.TextMessage, data); err != nil {
			slog.Debug("broadcast write", "err", err, "device", p.deviceID)
			p.conn.Close()
			continue
		}
		sent++
	}
	h.metrics.RecordBroadcast(sent)
	return sent
}

// count returns how many channels the user has open.
func (h *hub) count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers[userID])
}

// closeAll drops every open channel. Hijacked connections are not closed
// by http.Server.Shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*peer
	for _, set := range h.peers {
		for p := range set {
			all = append(all, p)
		}
	}
	h.mu.Unlock()
	for _, p := range all {
		p.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		p.conn.Close()
	}
}

// checkOrigin admits native clients (no Origin header) and browsers from
// the configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.originAllowed(origin)
}

// handleWS upgrades to the live channel. Clipboard updates received on it
// are stored and fanned out to all of the user's channels.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logFor(r.Context()).Debug("ws upgrade", "err", err)
		return
	}

	p := &peer{conn: conn, userID: user.UserID, deviceID: user.DeviceID}
	if d := r.URL.Query().Get("deviceId"); d != "" {
		p.deviceID = d
	}
	log := logFor(r.Context()).With("device", p.deviceID)

	s.hub.add(p)
	log.Info("channel opened")
	defer func() {
		s.hub.remove(p)
		conn.Close()
		log.Info("channel closed")
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := p.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("channel read", "err", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		s.handleChannelMessage(log, p, msg)
	}
}

func (s *Server) handleChannelMessage(log *slog.Logger, p *peer, msg wsMessage) {
	if msg.Type != messageClipboardUpdate {
		log.Debug("ignoring channel message", "type", msg.Type)
		return
	}
	var e models.Entry
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		log.Warn("malformed clipboard update", "err", err)
		return
	}
	if err := validateEntry(e); err != nil {
		log.Warn("invalid clipboard update", "err", err)
		return
	}
	if e.DeviceID == "" {
		e.DeviceID = p.deviceID
	}
	if err := s.storeEntry(p.userID, e); err != nil {
		log.Error("store entry", "err", err, "id", e.ID)
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.Error("encode entry", "err", err)
		return
	}
	frame, err := json.Marshal(wsMessage{Type: messageClipboardUpdate, Data: data})
	if err != nil {
		log.Error("encode frame", "err", err)
		return
	}
	s.hub.broadcast(p.userID, frame)
}
