package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBeats() (EmitFunc, func() []Event) {
	var mu sync.Mutex
	var beats []Event
	emit := func(e Event) {
		mu.Lock()
		beats = append(beats, e)
		mu.Unlock()
	}
	snapshot := func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), beats...)
	}
	return emit, snapshot
}

func TestHeartbeatFastToolEmitsNothing(t *testing.T) {
	h := newHeartbeatSupervisor(50 * time.Millisecond)
	emit, beats := collectBeats()

	stop := h.Start("search", "trial search", emit)
	time.Sleep(5 * time.Millisecond)
	stop()

	assert.Empty(t, beats())
	assert.Zero(t, h.Beats())
}

func TestHeartbeatSlowToolEmitsPeriodically(t *testing.T) {
	h := newHeartbeatSupervisor(20 * time.Millisecond)
	emit, beats := collectBeats()

	stop := h.Start("matching", "NCT01234567", emit)
	time.Sleep(70 * time.Millisecond)
	stop()

	got := beats()
	require.GreaterOrEqual(t, len(got), 2)
	first := got[0]
	assert.Equal(t, "status", first.Kind())
	assert.Equal(t, "matching", first["phase"])
	assert.Contains(t, first["message"], "Still working on NCT01234567")
}

func TestHeartbeatNoBeatAfterStop(t *testing.T) {
	h := newHeartbeatSupervisor(15 * time.Millisecond)
	emit, beats := collectBeats()

	stop := h.Start("report", "report generation", emit)
	time.Sleep(40 * time.Millisecond)
	stop()
	count := len(beats())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, len(beats()), "beats emitted after stop returned")
}

func TestHeartbeatNonPositiveIntervalDefaults(t *testing.T) {
	h := newHeartbeatSupervisor(0)
	assert.Equal(t, 8*time.Second, h.interval)

	emit, beats := collectBeats()
	stop := h.Start("search", "trial search", emit)
	stop()
	assert.Empty(t, beats())
}

func TestHeartbeatLabels(t *testing.T) {
	assert.Equal(t, "NCT04267848",
		heartbeatLabel(toolGetTrialDetails, map[string]any{"nct_id": "NCT04267848"}))
	assert.Equal(t, "FDA lookup for pembrolizumab",
		heartbeatLabel(toolGetAdverseEvents, map[string]any{"drug_name": "pembrolizumab"}))
	assert.Equal(t, "FDA lookup for drug",
		heartbeatLabel(toolGetDrugLabel, map[string]any{}))
	assert.Equal(t, "trial search", heartbeatLabel(toolSearchTrials, nil))
	assert.Equal(t, "report generation", heartbeatLabel(toolGenerateReport, nil))
	assert.Equal(t, "saving analysis", heartbeatLabel(toolSaveMatchedTrials, nil))
}

func TestSlowToolSet(t *testing.T) {
	for _, name := range []string{
		toolSearchTrials, toolGetTrialDetails, toolGetEligibilityCriteria,
		toolGetTrialLocations, toolGetAdverseEvents, toolGetDrugLabel,
		toolGenerateReport, toolSaveMatchedTrials,
	} {
		assert.True(t, slowTools[name], name)
	}
	for _, name := range []string{
		toolEmitWidget, toolEmitStatus, toolUpdateSessionPhase,
		toolCalculateDistance, toolSavePatientProfile,
	} {
		assert.False(t, slowTools[name], name)
	}
}
