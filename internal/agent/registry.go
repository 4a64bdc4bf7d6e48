package agent

import (
	"sync"
	"time"

	"compass/internal/agent/ports"
	"compass/internal/metrics"
	"compass/internal/shared/logging"
)

// Factory builds the orchestrator for a session on first use.
type Factory func(sessionID string) (*Orchestrator, error)

// Registry holds one live orchestrator per session and evicts entries whose
// session has been idle too long. Session state lives in the store, so an
// evicted orchestrator is rebuilt on the next message with only its in-memory
// transcript lost.
type Registry struct {
	factory Factory
	idle    time.Duration
	logger  logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*Orchestrator

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegistry starts the eviction loop in the background. Close stops it.
func NewRegistry(factory Factory, idle time.Duration, logger logging.Logger, m *metrics.Metrics) *Registry {
	if idle <= 0 {
		idle = 2 * time.Hour
	}
	r := &Registry{
		factory: factory,
		idle:    idle,
		logger:  logging.OrNop(logger),
		metrics: m,
		entries: make(map[string]*Orchestrator),
		stopCh:  make(chan struct{}),
	}
	go r.evictLoop()
	return r
}

// Get returns the session's orchestrator, building one if needed.
func (r *Registry) Get(sessionID string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if orchestrator, ok := r.entries[sessionID]; ok {
		return orchestrator, nil
	}
	orchestrator, err := r.factory(sessionID)
	if err != nil {
		return nil, err
	}
	r.entries[sessionID] = orchestrator
	r.metrics.SessionOpened()
	return orchestrator, nil
}

// Len reports the number of live orchestrators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the eviction loop.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) evictLoop() {
	ticker := time.NewTicker(r.idle / 4)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.evictIdle(time.Now())
		}
	}
}

func (r *Registry) evictIdle(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, orchestrator := range r.entries {
		if now.Sub(orchestrator.LastActive()) < r.idle {
			continue
		}
		delete(r.entries, id)
		r.metrics.SessionClosed()
		r.logger.Info("Evicted idle orchestrator for session %s", id)
	}
}

// BuildFactory wires the standard factory used by the server: every session
// shares collaborators but gets its own orchestrator and transcript.
func BuildFactory(llm func() ports.StreamingLLMClient, policy Policy, deps Collaborators) Factory {
	return func(sessionID string) (*Orchestrator, error) {
		return NewOrchestrator(sessionID, llm(), policy, deps)
	}
}
