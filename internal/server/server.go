// Package server exposes the REST and WebSocket surface of the trial
// navigator: session CRUD, report retrieval, and the conversational socket.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"compass/internal/agent"
	"compass/internal/agent/ports"
	"compass/internal/session"
	"compass/internal/shared/logging"
)

// Server wires HTTP routes to the session store and the orchestrator
// registry.
type Server struct {
	store    ports.SessionStore
	registry *agent.Registry
	pdf      ports.PDFRenderer
	logger   logging.Logger
	engine   *gin.Engine
}

// New builds the router. pdf may be nil when no converter is installed; the
// PDF route then reports 404.
func New(store ports.SessionStore, registry *agent.Registry, pdf ports.PDFRenderer, logger logging.Logger) *Server {
	s := &Server{
		store:    store,
		registry: registry,
		pdf:      pdf,
		logger:   logging.OrNop(logger),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: false,
	}))

	engine.GET("/health", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	{
		api.POST("/sessions", s.createSession)
		api.GET("/sessions/:id", s.sessionState)
		api.GET("/sessions/:id/profile", s.sessionProfile)
		api.GET("/sessions/:id/trials", s.sessionTrials)
		api.GET("/sessions/:id/matched", s.sessionMatched)
		api.GET("/sessions/:id/report", s.sessionReport)
		api.GET("/sessions/:id/report.pdf", s.sessionReportPDF)
		api.POST("/sessions/:id/config", s.configureSession)
	}

	engine.GET("/ws/:id", s.websocket)

	s.engine = engine
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createSession(c *gin.Context) {
	sessionID, err := s.store.Create(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to create session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

// requireSession resolves the path session ID, answering 404 for unknown
// ones.
func (s *Server) requireSession(c *gin.Context) (string, bool) {
	sessionID := c.Param("id")
	if !s.store.Exists(sessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return "", false
	}
	return sessionID, true
}

func (s *Server) sessionState(c *gin.Context) {
	sessionID, ok := s.requireSession(c)
	if !ok {
		return
	}
	state, err := s.store.State(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) sessionProfile(c *gin.Context) {
	sessionID, ok := s.requireSession(c)
	if !ok {
		return
	}
	profile, err := s.store.Profile(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) sessionTrials(c *gin.Context) {
	sessionID, ok := s.requireSession(c)
	if !ok {
		return
	}
	trials, err := s.store.SearchResults(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if trials == nil {
		trials = []session.TrialSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(trials), "trials": trials})
}

func (s *Server) sessionMatched(c *gin.Context) {
	sessionID, ok := s.requireSession(c)
	if !ok {
		return
	}
	matched, err := s.store.MatchedTrials(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if matched == nil {
		matched = []session.MatchedTrial{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(matched), "trials": matched})
}

func (s *Server) sessionReport(c *gin.Context) {
	sessionID, ok := s.requireSession(c)
	if !ok {
		return
	}
	html, ok := s.loadReport(c, sessionID)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// loadReport fetches the stored report HTML, answering 404 when none was
// generated yet.
func (s *Server) loadReport(c *gin.Context, sessionID string) (string, bool) {
	html, err := s.store.Report(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ports.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not generated yet"})
			return "", false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", false
	}
	if html == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not generated yet"})
		return "", false
	}
	return html, true
}

func (s *Server) sessionReportPDF(c *gin.Context) {
	sessionID, ok := s.requireSession(c)
	if !ok {
		return
	}
	if s.pdf == nil || !s.pdf.Available() {
		c.JSON(http.StatusNotFound, gin.H{"error": "pdf export not available"})
		return
	}
	html, ok := s.loadReport(c, sessionID)
	if !ok {
		return
	}
	pdfBytes, err := s.pdf.Render(c.Request.Context(), html)
	if err != nil {
		s.logger.Error("PDF render failed for session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pdf rendering failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="clinical-trial-report.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdfBytes)
}

type configRequest struct {
	Model              *string `json:"model"`
	ContextWindow      *int    `json:"context_window"`
	CompactionDisabled *bool   `json:"compaction_disabled"`
}

func (s *Server) configureSession(c *gin.Context) {
	sessionID, ok := s.requireSession(c)
	if !ok {
		return
	}
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	orchestrator, err := s.registry.Get(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, orchestrator.Configure(req.Model, req.ContextWindow, req.CompactionDisabled))
}
