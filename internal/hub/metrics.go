package hub

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks hub runtime statistics. All counters use atomic
// operations so the HTTP metrics endpoint can read them from outside the
// event loop.
type Metrics struct {
	startTime time.Time

	TotalConnections  atomic.Int64 // lifetime websocket connections accepted
	ActiveSessions    atomic.Int64 // currently registered sessions (fake included)
	Joins             atomic.Int64 // completed join handshakes
	Disconnects       atomic.Int64 // sessions removed for any reason
	PolicyDisconnects atomic.Int64 // forced closes due to bans

	MessagesBroadcast atomic.Int64 // public chat messages delivered to the room
	DirectMessages    atomic.Int64 // DMs relayed
	CommandsProcessed atomic.Int64 // administrative commands executed
	EvasionsDetected  atomic.Int64 // fingerprint submissions that auto-banned an address
	BroadcastFailures atomic.Int64 // recipients purged during fan-out
	MalformedFrames   atomic.Int64 // inbound frames that failed to decode
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// MetricsSnapshot is a point-in-time serializable view of all counters.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	TotalConnections  int64 `json:"total_connections"`
	ActiveSessions    int64 `json:"active_sessions"`
	Joins             int64 `json:"joins"`
	Disconnects       int64 `json:"disconnects"`
	PolicyDisconnects int64 `json:"policy_disconnects"`

	MessagesBroadcast int64 `json:"messages_broadcast"`
	DirectMessages    int64 `json:"direct_messages"`
	CommandsProcessed int64 `json:"commands_processed"`
	EvasionsDetected  int64 `json:"evasions_detected"`
	BroadcastFailures int64 `json:"broadcast_failures"`
	MalformedFrames   int64 `json:"malformed_frames"`
}

// Snapshot returns a read-consistent snapshot of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		TotalConnections:  m.TotalConnections.Load(),
		ActiveSessions:    m.ActiveSessions.Load(),
		Joins:             m.Joins.Load(),
		Disconnects:       m.Disconnects.Load(),
		PolicyDisconnects: m.PolicyDisconnects.Load(),
		MessagesBroadcast: m.MessagesBroadcast.Load(),
		DirectMessages:    m.DirectMessages.Load(),
		CommandsProcessed: m.CommandsProcessed.Load(),
		EvasionsDetected:  m.EvasionsDetected.Load(),
		BroadcastFailures: m.BroadcastFailures.Load(),
		MalformedFrames:   m.MalformedFrames.Load(),
	}
}

// JSON returns the snapshot as indented JSON.
func (m *Metrics) JSON() []byte {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return []byte("{}")
	}
	return data
}

// LogSummary writes a one-line metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"sessions", s.ActiveSessions,
		"total_connections", s.TotalConnections,
		"messages", s.MessagesBroadcast,
		"dms", s.DirectMessages,
		"evasions", s.EvasionsDetected,
	)
}
