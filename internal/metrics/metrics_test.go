package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsAndWritesTextfile(t *testing.T) {
	m := New()
	m.DispatchItem(OutcomeCompleted)
	m.DispatchItem(OutcomeCompleted)
	m.DispatchItem(OutcomeSkipped)
	m.PhaseRun("specify", true)
	m.PhaseRun("plan", false)
	m.GateScore("specify", 65)
	m.AgentLaunch(90 * time.Second)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "heartbeat_dispatch_items_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			byName[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), byName[OutcomeCompleted])
	assert.Equal(t, float64(1), byName[OutcomeSkipped])

	path := filepath.Join(t.TempDir(), "heartbeat.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `heartbeat_pipeline_phases_total{outcome="failed",phase="plan"} 1`)
	assert.Contains(t, string(data), "heartbeat_agent_launch_seconds_count 1")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DispatchItem(OutcomeFailed)
		m.PhaseRun("tasks", true)
		m.GateScore("plan", 90)
		m.AgentLaunch(time.Second)
		assert.NoError(t, m.WriteTextfile("/should/not/be/written"))
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_EmptyPathIsNoop(t *testing.T) {
	assert.NoError(t, New().WriteTextfile(""))
}
