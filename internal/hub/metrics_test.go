package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.TotalConnections.Add(3)
	m.ActiveSessions.Add(2)
	m.EvasionsDetected.Add(1)

	s := m.Snapshot()
	require.Equal(t, int64(3), s.TotalConnections)
	require.Equal(t, int64(2), s.ActiveSessions)
	require.Equal(t, int64(1), s.EvasionsDetected)
}

func TestMetricsJSON(t *testing.T) {
	m := NewMetrics()
	m.MessagesBroadcast.Add(7)

	var out map[string]any
	require.NoError(t, json.Unmarshal(m.JSON(), &out))
	require.Equal(t, float64(7), out["messages_broadcast"])
	require.Contains(t, out, "uptime")
	require.Contains(t, out, "policy_disconnects")
}
