package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime       time.Time
	requests        atomic.Int64
	serverErrors    atomic.Int64
	clientErrors    atomic.Int64
	entriesAccepted atomic.Int64
	historyRequests atomic.Int64
	broadcasts      atomic.Int64
	channels        atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Requests        int64   `json:"requests"`
	ServerErrors    int64   `json:"server_errors"`
	ClientErrors    int64   `json:"client_errors"`
	EntriesAccepted int64   `json:"entries_accepted"`
	HistoryRequests int64   `json:"history_requests"`
	Broadcasts      int64   `json:"broadcasts"`
	OpenChannels    int64   `json:"open_channels"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordRequest()        { m.requests.Add(1) }
func (m *Metrics) RecordError()          { m.serverErrors.Add(1) }
func (m *Metrics) RecordClientError()    { m.clientErrors.Add(1) }
func (m *Metrics) RecordEntryAccepted()  { m.entriesAccepted.Add(1) }
func (m *Metrics) RecordHistoryRequest() { m.historyRequests.Add(1) }

// RecordBroadcast counts one update fanned out to n channels.
func (m *Metrics) RecordBroadcast(n int) { m.broadcasts.Add(int64(n)) }

// ChannelOpened and ChannelClosed track live WebSocket channels.
func (m *Metrics) ChannelOpened() { m.channels.Add(1) }
func (m *Metrics) ChannelClosed() { m.channels.Add(-1) }

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
		Requests:        m.requests.Load(),
		ServerErrors:    m.serverErrors.Load(),
		ClientErrors:    m.clientErrors.Load(),
		EntriesAccepted: m.entriesAccepted.Load(),
		HistoryRequests: m.historyRequests.Load(),
		Broadcasts:      m.broadcasts.Load(),
		OpenChannels:    m.channels.Load(),
	}
}
