// Package agent implements the phase-aware, tool-calling conversation loop
// that drives a patient's session with the model.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"compass/internal/agent/ports"
	"compass/internal/metrics"
	"compass/internal/session"
	"compass/internal/shared/logging"
	tokenutil "compass/internal/shared/token"
)

// ErrSessionBusy is returned when a message arrives while another turn for
// the same session is still in flight. The transcript is mutated in place, so
// turns are never interleaved.
var ErrSessionBusy = errors.New("session is busy processing another message")

const capReachedMessage = "\n\nI've been working on this for a while. Let me know if you'd like me to continue or if you have any questions."

const standardContextWindow = 200_000

var modelContextWindows = map[string]int{
	"claude-sonnet-4-5-20250929": 200_000,
	"claude-haiku-4-5-20251001":  200_000,
	"claude-opus-4-1-20250805":   200_000,
}

// Collaborators bundles everything an orchestrator depends on.
type Collaborators struct {
	Store    ports.SessionStore
	Trials   ports.TrialRegistry
	Drugs    ports.DrugData
	Geocoder ports.Geocoder
	Reporter ports.ReportRenderer
	PDF      ports.PDFRenderer
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

// Policy holds the loop's tunable constants.
type Policy struct {
	Model                     string
	MaxTokens                 int
	Temperature               float64
	MaxIterations             int
	HeartbeatInterval         time.Duration
	CompactionThreshold       int
	IntakeCompactionThreshold int
	CompactionTail            int
}

// DefaultPolicy mirrors the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxTokens:                 16384,
		MaxIterations:             15,
		HeartbeatInterval:         8 * time.Second,
		CompactionThreshold:       24,
		IntakeCompactionThreshold: 50,
		CompactionTail:            20,
	}
}

// configurableLLM is implemented by clients whose model and context window
// can be changed per session.
type configurableLLM interface {
	SetModel(model string)
	SetContextWindow(window int)
}

// DetectedLocation is the browser-reported position pushed by the client
// alongside a chat message.
type DetectedLocation struct {
	Display   string  `json:"display"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Orchestrator owns one session's transcript and drives the tool-calling
// conversation. One turn at a time; a concurrent message is rejected.
type Orchestrator struct {
	sessionID string
	store     ports.SessionStore
	llm       ports.StreamingLLMClient
	executor  *Executor
	heartbeat *heartbeatSupervisor
	logger    logging.Logger
	metrics   *metrics.Metrics
	policy    Policy

	// turnMu serializes whole turns. stateMu guards the transcript and the
	// session-scoped fields below, which Configure and the read accessors
	// touch while a turn is in flight.
	turnMu  sync.Mutex
	stateMu sync.Mutex

	history          []ports.Message
	answers          *intakeAnswers
	detectedLocation *DetectedLocation
	turnCount        int
	lastActive       time.Time

	model              string
	contextWindow      int
	compactionDisabled bool
}

// NewOrchestrator builds the loop for one session.
func NewOrchestrator(sessionID string, llm ports.StreamingLLMClient, policy Policy, deps Collaborators) (*Orchestrator, error) {
	executor, err := NewExecutor(sessionID, deps)
	if err != nil {
		return nil, err
	}
	model := policy.Model
	if model == "" {
		model = llm.Model()
	}
	window, ok := modelContextWindows[model]
	if !ok {
		window = standardContextWindow
	}
	return &Orchestrator{
		sessionID:     sessionID,
		store:         deps.Store,
		llm:           llm,
		executor:      executor,
		heartbeat:     newHeartbeatSupervisor(policy.HeartbeatInterval),
		logger:        logging.OrNop(deps.Logger),
		metrics:       deps.Metrics,
		policy:        policy,
		answers:       newIntakeAnswers(),
		lastActive:    time.Now(),
		model:         model,
		contextWindow: window,
	}, nil
}

// SessionConfig summarizes the per-session model configuration.
type SessionConfig struct {
	Model              string `json:"model"`
	ContextWindow      int    `json:"context_window"`
	CompactionDisabled bool   `json:"compaction_disabled"`
}

// Configure updates the per-session model, context window, or compaction
// flag. Nil fields keep their current value. Context windows above the
// standard size enable the provider's extended-context mode.
func (o *Orchestrator) Configure(model *string, contextWindow *int, compactionDisabled *bool) SessionConfig {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	configurable, _ := o.llm.(configurableLLM)
	if model != nil {
		o.model = *model
		if window, ok := modelContextWindows[*model]; ok {
			o.contextWindow = window
		} else {
			o.contextWindow = standardContextWindow
		}
		if configurable != nil {
			configurable.SetModel(*model)
			configurable.SetContextWindow(o.contextWindow)
		}
	}
	if contextWindow != nil {
		o.contextWindow = *contextWindow
		if configurable != nil {
			configurable.SetContextWindow(*contextWindow)
		}
	}
	if compactionDisabled != nil {
		o.compactionDisabled = *compactionDisabled
	}
	return SessionConfig{
		Model:              o.model,
		ContextWindow:      o.contextWindow,
		CompactionDisabled: o.compactionDisabled,
	}
}

// SetDetectedLocation records the browser-reported location so it persists in
// the system prompt across the conversation.
func (o *Orchestrator) SetDetectedLocation(loc *DetectedLocation) {
	o.stateMu.Lock()
	o.detectedLocation = loc
	o.stateMu.Unlock()
}

// HistoryLen reports the transcript length. Zero means the session has not
// spoken yet and a welcome message is in order.
func (o *Orchestrator) HistoryLen() int {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return len(o.history)
}

func (o *Orchestrator) appendHistory(msg ports.Message) {
	o.stateMu.Lock()
	o.history = append(o.history, msg)
	o.stateMu.Unlock()
}

// historySnapshot copies the transcript for one model request.
func (o *Orchestrator) historySnapshot() []ports.Message {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return append([]ports.Message(nil), o.history...)
}

// LastActive reports when the orchestrator last processed a message.
func (o *Orchestrator) LastActive() time.Time {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.lastActive
}

// ProcessMessage runs one user turn to completion, delivering events through
// emit. Exactly one terminal done event is emitted on success; on error the
// caller is responsible for the terminal error event. A second concurrent
// call returns ErrSessionBusy immediately.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userMessage string, emit EmitFunc) error {
	if !o.turnMu.TryLock() {
		return ErrSessionBusy
	}
	defer o.turnMu.Unlock()

	// Configure can run mid-turn from the config endpoint; the whole turn
	// works from one snapshot of the session settings.
	o.stateMu.Lock()
	o.lastActive = time.Now()
	model := o.model
	contextWindow := o.contextWindow
	compactionDisabled := o.compactionDisabled
	o.stateMu.Unlock()

	state, err := o.store.State(ctx, o.sessionID)
	if err != nil {
		return fmt.Errorf("load session state: %w", err)
	}

	// Intake answers are captured before compaction can discard the turn.
	if state.Phase == session.PhaseIntake && !state.ProfileComplete {
		o.answers.Record(userMessage)
	}

	systemPrompt := buildSystemPrompt(o.logger, state.Phase) +
		"\n\n## Session Context\n" + o.buildSessionContext(ctx, state)

	o.appendHistory(ports.Message{Role: "user", Content: userMessage})
	if !compactionDisabled {
		o.compact(state)
	}

	tc := &turnContext{}
	iterations := 0
	defer func() { o.metrics.ObserveLoopIterations(iterations) }()

	for iterations = 1; iterations <= o.policy.MaxIterations; iterations++ {
		messages := o.historySnapshot()
		resp, sawText, err := o.streamTurn(ctx, systemPrompt, messages, emit)
		if err != nil {
			return err
		}

		o.stateMu.Lock()
		o.turnCount++
		turn := o.turnCount
		o.stateMu.Unlock()

		inputTokens := resp.Usage.InputTokens
		outputTokens := resp.Usage.OutputTokens
		if inputTokens == 0 {
			// Providers that omit usage still get an approximate gauge.
			inputTokens = tokenutil.CountTokens(systemPrompt)
			for _, msg := range messages {
				inputTokens += tokenutil.CountTokens(msg.Content)
			}
		}
		if outputTokens == 0 && resp.Content != "" {
			outputTokens = tokenutil.CountTokens(resp.Content)
		}
		emit(Event{
			"type":                "context_update",
			"input_tokens":        inputTokens,
			"output_tokens":       outputTokens,
			"model":               model,
			"context_window":      contextWindow,
			"compaction_disabled": compactionDisabled,
			"turn":                turn,
		})

		o.appendHistory(ports.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if sawText {
			emit(textDoneEvent())
		}

		if resp.StopReason == ports.StopReasonMaxTokens && len(resp.ToolCalls) == 0 {
			// Output was cut mid-utterance; loop again so the model finishes.
			continue
		}
		if resp.StopReason != ports.StopReasonToolUse || len(resp.ToolCalls) == 0 {
			tc.flush(emit)
			emit(doneEvent())
			return nil
		}

		results := make([]ports.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			o.emitProgressNotice(emit, tc, state, call)
			result := o.executeWithHeartbeat(ctx, tc, state, call, emit)
			o.emitLocationSummary(emit, tc, call)
			tc.toolsExecuted++
			results = append(results, ports.ToolResult{CallID: call.ID, Content: result})
		}
		tc.flush(emit)
		o.appendHistory(ports.Message{Role: "user", ToolResults: results})
	}

	iterations = o.policy.MaxIterations

	// Iteration cap: recoverable and user-visible, not an error.
	emit(textEvent(capReachedMessage))
	emit(textDoneEvent())
	emit(doneEvent())
	return nil
}

// Status shown the moment the model starts generating certain tool calls,
// before arguments finish streaming.
var toolGenerationStatus = map[string][2]string{
	toolSaveMatchedTrials:  {"matching", "Compiling detailed trial analysis..."},
	toolGenerateReport:     {"report", "Building your personalized report..."},
	toolSavePatientProfile: {"intake", "Saving your profile..."},
	toolSearchTrials:       {"search", "Preparing search..."},
}

// argProgress tracks serialized argument bytes for one streaming tool-use
// block, so large payloads surface progress before the call executes.
type argProgress struct {
	name  string
	bytes int
	next  int
}

const argProgressStride = 10 * 1024

func (o *Orchestrator) streamTurn(ctx context.Context, systemPrompt string, messages []ports.Message, emit EmitFunc) (*ports.CompletionResponse, bool, error) {
	sawText := false
	progress := map[int]*argProgress{}
	callbacks := ports.CompletionStreamCallbacks{
		OnContentDelta: func(d ports.ContentDelta) {
			if d.Final || d.Delta == "" {
				return
			}
			sawText = true
			emit(textEvent(d.Delta))
		},
		OnToolCallStart: func(s ports.ToolCallStart) {
			progress[s.Index] = &argProgress{name: s.Name, next: argProgressStride}
			if status, ok := toolGenerationStatus[s.Name]; ok {
				emit(statusEvent(status[0], status[1]))
			}
		},
		OnToolCallDelta: func(d ports.ToolCallDelta) {
			p := progress[d.Index]
			if p == nil {
				return
			}
			status, ok := toolGenerationStatus[p.name]
			if !ok {
				return
			}
			p.bytes += len(d.PartialJSON)
			if p.bytes >= p.next {
				p.next = p.bytes + argProgressStride
				emit(statusEvent(status[0], fmt.Sprintf("%s (%dKB processed)", status[1], p.bytes/1024)))
			}
		},
	}

	resp, err := o.llm.StreamComplete(ctx, ports.CompletionRequest{
		System:      systemPrompt,
		Messages:    messages,
		Tools:       Catalog(),
		Temperature: o.policy.Temperature,
		MaxTokens:   o.policy.MaxTokens,
	}, callbacks)
	if err != nil {
		return nil, sawText, fmt.Errorf("model request: %w", err)
	}
	return resp, sawText, nil
}

func (o *Orchestrator) executeWithHeartbeat(ctx context.Context, tc *turnContext, state *session.State, call ports.ToolCall, emit EmitFunc) string {
	if !slowTools[call.Name] {
		return o.executor.Execute(ctx, tc, call.Name, call.Arguments)
	}

	// stop cancels and awaits the supervisor goroutine, so the last beat for
	// this tool lands before the next tool's progress notice.
	stop := o.heartbeat.Start(string(state.Phase), heartbeatLabel(call.Name, call.Arguments), func(e Event) {
		o.metrics.IncHeartbeat(call.Name)
		emit(e)
	})
	result := o.executor.Execute(ctx, tc, call.Name, call.Arguments)
	stop()
	return result
}

func (o *Orchestrator) compact(state *session.State) {
	threshold := o.policy.CompactionThreshold
	if state.Phase == session.PhaseIntake && !state.ProfileComplete {
		threshold = o.policy.IntakeCompactionThreshold
	}
	o.stateMu.Lock()
	before := len(o.history)
	o.history = compactHistory(o.history, threshold, o.policy.CompactionTail)
	after := len(o.history)
	o.stateMu.Unlock()
	if after < before {
		o.metrics.IncCompaction()
		o.logger.Info("Compacted history for session %s: %d -> %d turns", o.sessionID, before, after)
	}
}

// emitProgressNotice announces the tool about to run. emit_status and
// emit_partial_filters run silently; emit_status speaks for itself.
func (o *Orchestrator) emitProgressNotice(emit EmitFunc, tc *turnContext, state *session.State, call ports.ToolCall) {
	input := call.Arguments
	switch call.Name {
	case toolSearchTrials:
		emit(statusEvent("searching", "Searching ClinicalTrials.gov..."))
	case toolGetTrialDetails:
		nctID := stringArg(input, "nct_id")
		tc.currentNCTID = nctID
		emit(statusEvent("matching", fmt.Sprintf("Analyzing %s: fetching study details...", nctID)))
	case toolGetEligibilityCriteria:
		nctID := stringArg(input, "nct_id")
		titleSuffix := ""
		if tc.currentBriefTitle != "" && tc.currentNCTID == nctID {
			titleSuffix = " — " + tc.currentBriefTitle
		}
		emit(statusEvent("matching", fmt.Sprintf("Analyzing %s%s: checking eligibility...", nctID, titleSuffix)))
	case toolGetAdverseEvents, toolGetDrugLabel:
		drug := stringArg(input, "drug_name")
		nctCtx := ""
		if tc.currentNCTID != "" {
			nctCtx = " (" + tc.currentNCTID + ")"
		}
		emit(statusEvent("fda_lookup", fmt.Sprintf("Looking up FDA data for %s%s...", drug, nctCtx)))
	case toolSaveMatchedTrials:
		trials, _ := input["trials"].([]any)
		emit(statusEvent("matching", fmt.Sprintf("Saving %d matched trials...", len(trials))))
	case toolGenerateReport:
		emit(statusEvent("report", "Generating your personalized report..."))
	case toolGeocodeLocation:
		emit(statusEvent("geocoding", fmt.Sprintf("Looking up location: %s...", stringArg(input, "location_string"))))
	case toolCalculateDistance:
		emit(statusEvent("matching", fmt.Sprintf("Calculating distance to %s...", distanceLabel(tc, input))))
	case toolGetTrialLocations:
		emit(statusEvent("matching", fmt.Sprintf("Fetching locations for %s...", stringArg(input, "nct_id"))))
	case toolHealthImportSummary:
		emit(statusEvent("matching", "Reviewing imported health data..."))
	case toolSavePatientProfile:
		emit(statusEvent("intake", "Compiling your patient profile..."))
	case toolUpdateSessionPhase:
		phase := stringArg(input, "phase")
		if phase == "" {
			phase = "next"
		}
		emit(statusEvent(phase, fmt.Sprintf("Transitioning to %s phase...", phase)))
	case toolEmitWidget:
		emit(statusEvent("intake", "Preparing question..."))
	case toolEmitTrialCards:
		trials, _ := input["trials"].([]any)
		emit(statusEvent("selection", fmt.Sprintf("Presenting %d trial cards...", len(trials))))
	case toolEmitStatus, toolEmitPartialFilters:
		// Silent: emit_status speaks for itself, partial filters are cheap.
	default:
		emit(statusEvent(string(state.Phase), fmt.Sprintf("Running %s...", call.Name)))
	}
}

// distanceLabel resolves the destination of a distance calculation to a site
// name by matching against this turn's cached locations within 0.01 degrees.
func distanceLabel(tc *turnContext, input map[string]any) string {
	lat2 := floatPtrArg(input, "lat2")
	lon2 := floatPtrArg(input, "lon2")
	if lat2 == nil || lon2 == nil {
		return "trial site"
	}
	for _, loc := range tc.lastLocations {
		if loc.Latitude == nil || loc.Longitude == nil {
			continue
		}
		if abs(*loc.Latitude-*lat2) < 0.01 && abs(*loc.Longitude-*lon2) < 0.01 {
			switch {
			case loc.City != "" && loc.State != "":
				return loc.City + ", " + loc.State
			case loc.Facility != "":
				return loc.Facility
			}
			break
		}
	}
	return "trial site"
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// emitLocationSummary follows a get_trial_locations call with a found-N-sites
// status built from the fetched list.
func (o *Orchestrator) emitLocationSummary(emit EmitFunc, tc *turnContext, call ports.ToolCall) {
	if call.Name != toolGetTrialLocations || len(tc.lastLocations) == 0 {
		return
	}
	var summaries []string
	for i, loc := range tc.lastLocations {
		if i >= 5 {
			break
		}
		switch {
		case loc.Facility != "" && loc.City != "":
			summaries = append(summaries, loc.Facility+", "+loc.City)
		case loc.City != "" && loc.State != "":
			summaries = append(summaries, loc.City+", "+loc.State)
		case loc.Facility != "":
			summaries = append(summaries, loc.Facility)
		}
	}
	if len(summaries) == 0 {
		return
	}
	more := ""
	if len(tc.lastLocations) > 5 {
		more = fmt.Sprintf(" (+%d more)", len(tc.lastLocations)-5)
	}
	emit(statusEvent("matching", fmt.Sprintf("Found %d sites for %s: %s%s",
		len(tc.lastLocations), stringArg(call.Arguments, "nct_id"), strings.Join(summaries, "; "), more)))
}

func (o *Orchestrator) buildSessionContext(ctx context.Context, state *session.State) string {
	parts := []string{
		"Session ID: " + o.sessionID,
		"Current phase: " + string(state.Phase),
		fmt.Sprintf("Profile complete: %t", state.ProfileComplete),
		fmt.Sprintf("Search complete: %t", state.SearchComplete),
		fmt.Sprintf("Matching complete: %t", state.MatchingComplete),
		fmt.Sprintf("Report generated: %t", state.ReportGenerated),
	}

	o.stateMu.Lock()
	detected := o.detectedLocation
	o.stateMu.Unlock()
	if detected != nil {
		parts = append(parts, fmt.Sprintf(
			"\nBrowser-detected location: %s (lat %v, lon %v). "+
				"During intake, confirm this with the user and allow them to override.",
			detected.Display, detected.Latitude, detected.Longitude))
	}

	// Answers live here so they survive transcript compaction.
	if o.answers.Len() > 0 && !state.ProfileComplete {
		parts = append(parts, o.answers.ContextBlock())
	}

	if state.ProfileComplete {
		if profile, err := o.store.Profile(ctx, o.sessionID); err == nil {
			if encoded, err := json.MarshalIndent(profile, "", "  "); err == nil {
				parts = append(parts, "\nPatient profile:\n"+string(encoded))
			}
			hk := profile.HealthKit
			if !hk.Empty() {
				steps := "unknown"
				if hk.ActivityStepsPerDay != nil {
					steps = fmt.Sprintf("%v", *hk.ActivityStepsPerDay)
				}
				parts = append(parts, fmt.Sprintf(
					"\nApple Health data imported: %d lab results, %d vitals, %d medications, avg steps/day: %s",
					len(hk.LabResults), len(hk.Vitals), len(hk.Medications), steps))
			}
		}
	}

	if len(state.SelectedTrialIDs) > 0 {
		parts = append(parts, "\nSelected trial IDs: "+strings.Join(state.SelectedTrialIDs, ", "))
	}

	return strings.Join(parts, "\n")
}
