package agent

import (
	"fmt"
	"sync"
	"time"
)

// Tools that may run long enough to warrant progress heartbeats. Everything
// else executes with no supervisor overhead.
var slowTools = map[string]bool{
	toolSearchTrials:           true,
	toolGetTrialDetails:        true,
	toolGetEligibilityCriteria: true,
	toolGetTrialLocations:      true,
	toolGetAdverseEvents:       true,
	toolGetDrugLabel:           true,
	toolGenerateReport:         true,
	toolSaveMatchedTrials:      true,
}

// heartbeatLabel derives a human-readable subject for the still-working
// message from the tool's input.
func heartbeatLabel(toolName string, input map[string]any) string {
	switch toolName {
	case toolGetTrialDetails, toolGetEligibilityCriteria, toolGetTrialLocations:
		if nctID, _ := input["nct_id"].(string); nctID != "" {
			return nctID
		}
		return toolName
	case toolGetAdverseEvents, toolGetDrugLabel:
		drug, _ := input["drug_name"].(string)
		if drug == "" {
			drug = "drug"
		}
		return "FDA lookup for " + drug
	case toolSearchTrials:
		return "trial search"
	case toolGenerateReport:
		return "report generation"
	case toolSaveMatchedTrials:
		return "saving analysis"
	default:
		return toolName
	}
}

// heartbeatSupervisor sends periodic still-working status events while a
// slow tool runs, so long calls never look stalled. The orchestrator's other
// emissions are queued until the tool batch completes, so beats are the only
// live traffic during execution.
type heartbeatSupervisor struct {
	interval time.Duration

	mu    sync.Mutex
	beats int
}

func newHeartbeatSupervisor(interval time.Duration) *heartbeatSupervisor {
	if interval <= 0 {
		interval = 8 * time.Second
	}
	return &heartbeatSupervisor{interval: interval}
}

// Start launches the timer for one wrapped call and emits a beat every
// interval until stopped. The returned stop function cancels the timer and
// waits for the goroutine to exit, guaranteeing no beat is emitted after stop
// returns. Stop is safe to call exactly once.
func (h *heartbeatSupervisor) Start(phase, label string, emit EmitFunc) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		elapsed := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				elapsed += int(h.interval.Seconds())
				h.mu.Lock()
				h.beats++
				h.mu.Unlock()
				emit(statusEvent(phase,
					fmt.Sprintf("Still working on %s... (%ds)", label, elapsed)))
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

// Beats reports the total number of heartbeats emitted so far.
func (h *heartbeatSupervisor) Beats() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats
}
