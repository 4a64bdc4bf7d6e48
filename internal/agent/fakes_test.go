package agent

import (
	"context"
	"fmt"
	"sync"

	"compass/internal/agent/ports"
	"compass/internal/session"
)

// memStore is an in-memory SessionStore for loop and executor tests.
type memStore struct {
	mu       sync.Mutex
	states   map[string]*session.State
	profiles map[string]*session.PatientProfile
	searches map[string][]session.TrialSummary
	matched  map[string][]session.MatchedTrial
	reports  map[string]string
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{
		states:   map[string]*session.State{},
		profiles: map[string]*session.PatientProfile{},
		searches: map[string][]session.TrialSummary{},
		matched:  map[string][]session.MatchedTrial{},
		reports:  map[string]string{},
	}
}

func (s *memStore) Create(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("sess-%d", s.nextID)
	s.states[id] = session.NewState(id)
	return id, nil
}

func (s *memStore) Exists(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[sessionID]
	return ok
}

func (s *memStore) State(_ context.Context, sessionID string) (*session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[sessionID]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	copied := *state
	return &copied, nil
}

func (s *memStore) SaveState(_ context.Context, sessionID string, state *session.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.states[sessionID] = &copied
	return nil
}

func (s *memStore) Profile(_ context.Context, sessionID string) (*session.PatientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile, ok := s.profiles[sessionID]; ok {
		copied := *profile
		return &copied, nil
	}
	return session.NewPatientProfile(), nil
}

func (s *memStore) SaveProfile(_ context.Context, sessionID string, profile *session.PatientProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *profile
	s.profiles[sessionID] = &copied
	return nil
}

func (s *memStore) SearchResults(_ context.Context, sessionID string) ([]session.TrialSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches[sessionID], nil
}

func (s *memStore) SaveSearchResults(_ context.Context, sessionID string, trials []session.TrialSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches[sessionID] = trials
	return nil
}

func (s *memStore) MatchedTrials(_ context.Context, sessionID string) ([]session.MatchedTrial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matched[sessionID], nil
}

func (s *memStore) SaveMatchedTrials(_ context.Context, sessionID string, trials []session.MatchedTrial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matched[sessionID] = trials
	return nil
}

func (s *memStore) Report(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	html, ok := s.reports[sessionID]
	if !ok {
		return "", ports.ErrSessionNotFound
	}
	return html, nil
}

func (s *memStore) SaveReport(_ context.Context, sessionID string, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[sessionID] = html
	return nil
}

// stubRegistry returns canned trial data, or errors when failWith is set.
type stubRegistry struct {
	results   []session.TrialSummary
	detail    *ports.TrialDetail
	criteria  *ports.EligibilityCriteria
	locations []session.TrialLocation
	failWith  error
}

func (r *stubRegistry) Search(context.Context, ports.TrialSearchQuery) ([]session.TrialSummary, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	return r.results, nil
}

func (r *stubRegistry) Detail(_ context.Context, nctID string) (*ports.TrialDetail, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	if r.detail != nil {
		return r.detail, nil
	}
	return &ports.TrialDetail{NCTID: nctID, BriefTitle: "Stub Study", OverallStatus: "RECRUITING", Phase: "PHASE2"}, nil
}

func (r *stubRegistry) Eligibility(_ context.Context, nctID string) (*ports.EligibilityCriteria, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	if r.criteria != nil {
		return r.criteria, nil
	}
	return &ports.EligibilityCriteria{NCTID: nctID, Inclusion: []string{"Adults 18+"}, Exclusion: []string{"Pregnancy"}}, nil
}

func (r *stubRegistry) Locations(context.Context, string) ([]session.TrialLocation, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	return r.locations, nil
}

type stubDrugs struct {
	events []ports.AdverseEvent
	label  *ports.DrugLabel
}

func (d *stubDrugs) AdverseEvents(context.Context, string, int) ([]ports.AdverseEvent, error) {
	return d.events, nil
}

func (d *stubDrugs) Label(context.Context, string) (*ports.DrugLabel, error) {
	return d.label, nil
}

type stubGeocoder struct {
	forward *ports.GeocodeResult
	reverse *ports.ReverseResult
}

func (g *stubGeocoder) Forward(context.Context, string) (*ports.GeocodeResult, error) {
	return g.forward, nil
}

func (g *stubGeocoder) Reverse(context.Context, float64, float64) (*ports.ReverseResult, error) {
	return g.reverse, nil
}

type stubReporter struct{}

func (stubReporter) Render(*session.PatientProfile, []session.MatchedTrial, []string, []ports.GlossaryEntry) (string, error) {
	return "<html><body>report</body></html>", nil
}

type stubPDF struct{ available bool }

func (p stubPDF) Available() bool                                { return p.available }
func (p stubPDF) Render(context.Context, string) ([]byte, error) { return []byte("%PDF-1.4"), nil }

func testCollaborators(store *memStore) Collaborators {
	return Collaborators{
		Store:    store,
		Trials:   &stubRegistry{},
		Drugs:    &stubDrugs{},
		Geocoder: &stubGeocoder{},
		Reporter: stubReporter{},
		PDF:      stubPDF{},
	}
}

// gatedClient blocks inside StreamComplete until released, so a test can
// overlap an in-flight turn with other orchestrator calls.
type gatedClient struct {
	inner   ports.StreamingLLMClient
	entered chan struct{}
	release chan struct{}
}

func newGatedClient(inner ports.StreamingLLMClient) *gatedClient {
	return &gatedClient{inner: inner, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedClient) Model() string { return g.inner.Model() }

func (g *gatedClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return g.inner.Complete(ctx, req)
}

func (g *gatedClient) StreamComplete(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.inner.StreamComplete(ctx, req, callbacks)
}

// eventRecorder captures emitted events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind()
	}
	return out
}

func (r *eventRecorder) ofKind(kind string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out string
	for _, e := range r.events {
		if e.Kind() == "text" {
			content, _ := e["content"].(string)
			out += content
		}
	}
	return out
}
