package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"compass/internal/agent"
)

const welcomeMessage = "Welcome to the Clinical Trial Compass!\n\n" +
	"What condition are you exploring clinical trials for? " +
	"Please include the specific diagnosis, stage, or subtype if you know it."

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS layer on the REST surface;
	// the socket accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// inboundMessage is one client frame on the conversation socket.
type inboundMessage struct {
	Type            string                  `json:"type"`
	Content         string                  `json:"content"`
	Question        string                  `json:"question"`
	Selections      []string                `json:"selections"`
	TrialIDs        []string                `json:"trial_ids"`
	LocationContext *agent.DetectedLocation `json:"location_context"`
}

// wsConn serializes writes: heartbeats arrive from the supervisor goroutine
// while the loop goroutine streams text.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(e agent.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(e)
}

func (s *Server) websocket(c *gin.Context) {
	sessionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	// Unknown sessions get an error frame, not a refused handshake, so the
	// client can show a message and start over.
	if !s.store.Exists(sessionID) {
		_ = ws.send(agent.Event{"type": "error", "content": "Invalid session ID"})
		return
	}

	orchestrator, err := s.registry.Get(sessionID)
	if err != nil {
		s.logger.Error("Failed to build orchestrator for session %s: %v", sessionID, err)
		_ = ws.send(agent.Event{"type": "error", "content": "Failed to initialize session"})
		return
	}

	// A fresh conversation opens with the assistant's greeting. Reconnects
	// resume silently.
	if orchestrator.HistoryLen() == 0 {
		_ = ws.send(agent.Event{"type": "text", "content": welcomeMessage})
		_ = ws.send(agent.Event{"type": "text_done"})
	}

	s.logger.Info("WebSocket connected: session %s", sessionID)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("WebSocket closed unexpectedly: session %s: %v", sessionID, err)
			}
			return
		}

		userMessage, err := s.resolveInbound(c.Request.Context(), sessionID, orchestrator, inbound)
		if err != nil {
			_ = ws.send(agent.Event{"type": "error", "content": err.Error()})
			continue
		}
		if userMessage == "" {
			continue
		}

		err = orchestrator.ProcessMessage(c.Request.Context(), userMessage, func(e agent.Event) {
			if sendErr := ws.send(e); sendErr != nil {
				s.logger.Error("WebSocket write failed: session %s: %v", sessionID, sendErr)
			}
		})
		switch {
		case err == nil:
		case errors.Is(err, agent.ErrSessionBusy):
			_ = ws.send(agent.Event{"type": "error", "content": "Still processing your previous message. Please wait."})
		default:
			s.logger.Error("Message processing failed: session %s: %v", sessionID, err)
			_ = ws.send(agent.Event{"type": "error", "content": "Something went wrong processing your message. Please try again."})
		}
	}
}

// resolveInbound converts a client frame into the user-turn text fed to the
// loop. An empty string means the frame needs no model turn.
func (s *Server) resolveInbound(ctx context.Context, sessionID string, orchestrator *agent.Orchestrator, inbound inboundMessage) (string, error) {
	switch inbound.Type {
	case "message", "":
		if inbound.LocationContext != nil {
			orchestrator.SetDetectedLocation(inbound.LocationContext)
		}
		return strings.TrimSpace(inbound.Content), nil

	case "system_hint":
		if strings.TrimSpace(inbound.Content) == "" {
			return "", nil
		}
		return fmt.Sprintf("[System: %s]", inbound.Content), nil

	case "widget_response":
		if inbound.Question == "" || len(inbound.Selections) == 0 {
			return "", nil
		}
		return fmt.Sprintf("Question: %q — My answer: %s",
			inbound.Question, strings.Join(inbound.Selections, ", ")), nil

	case "trial_selection":
		if len(inbound.TrialIDs) == 0 {
			return "", nil
		}
		if err := s.persistSelection(ctx, sessionID, inbound.TrialIDs); err != nil {
			s.logger.Error("Failed to persist trial selection: session %s: %v", sessionID, err)
			return "", errors.New("failed to save trial selection")
		}
		return "I've selected these trials for detailed analysis: " + strings.Join(inbound.TrialIDs, ", "), nil

	default:
		s.logger.Warn("Ignoring unknown message type %q: session %s", inbound.Type, sessionID)
		return "", nil
	}
}

func (s *Server) persistSelection(ctx context.Context, sessionID string, trialIDs []string) error {
	state, err := s.store.State(ctx, sessionID)
	if err != nil {
		return err
	}
	state.SelectedTrialIDs = trialIDs
	return s.store.SaveState(ctx, sessionID, state)
}
