// Package filestore persists session state as flat JSON files, one directory
// per session: state.json, patient_profile.json, search_results.json,
// matched_trials.json and report.html.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"compass/internal/agent/ports"
	"compass/internal/session"
	"compass/internal/shared/logging"
)

// Short session codes avoid lookalike characters (0/O, 1/I/L).
const idAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const idLength = 6

const (
	stateFile   = "state.json"
	profileFile = "patient_profile.json"
	searchFile  = "search_results.json"
	matchedFile = "matched_trials.json"
	reportFile  = "report.html"
)

type store struct {
	baseDir string
	logger  logging.Logger
}

// New returns a SessionStore rooted at baseDir, creating it if needed.
func New(baseDir string) ports.SessionStore {
	if strings.HasPrefix(baseDir, "~/") {
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, baseDir[2:])
	}
	_ = os.MkdirAll(baseDir, 0o755)
	return &store{
		baseDir: baseDir,
		logger:  logging.NewComponentLogger("SessionFileStore"),
	}
}

func (s *store) generateID() (string, error) {
	for attempt := 0; attempt < 32; attempt++ {
		var b strings.Builder
		for i := 0; i < idLength; i++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
			if err != nil {
				return "", fmt.Errorf("generate session id: %w", err)
			}
			b.WriteByte(idAlphabet[n.Int64()])
		}
		id := b.String()
		if _, err := os.Stat(filepath.Join(s.baseDir, id)); os.IsNotExist(err) {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique session id")
}

func (s *store) Create(ctx context.Context) (string, error) {
	sessionID, err := s.generateID()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.baseDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	if err := s.writeJSON(sessionID, stateFile, session.NewState(sessionID)); err != nil {
		return "", err
	}
	if err := s.writeJSON(sessionID, profileFile, session.NewPatientProfile()); err != nil {
		return "", err
	}
	s.logger.Info("Created session %s", sessionID)
	return sessionID, nil
}

func (s *store) Exists(sessionID string) bool {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\.") {
		return false
	}
	info, err := os.Stat(filepath.Join(s.baseDir, sessionID))
	return err == nil && info.IsDir()
}

func (s *store) sessionDir(sessionID string) (string, error) {
	if !s.Exists(sessionID) {
		return "", fmt.Errorf("%w: %s", ports.ErrSessionNotFound, sessionID)
	}
	return filepath.Join(s.baseDir, sessionID), nil
}

func (s *store) writeJSON(sessionID, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(s.baseDir, sessionID, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *store) readJSON(sessionID, name string, v any) error {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s for session %s: %w", name, sessionID, err)
	}
	return nil
}

func (s *store) State(ctx context.Context, sessionID string) (*session.State, error) {
	var state session.State
	if err := s.readJSON(sessionID, stateFile, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *store) SaveState(ctx context.Context, sessionID string, state *session.State) error {
	if _, err := s.sessionDir(sessionID); err != nil {
		return err
	}
	return s.writeJSON(sessionID, stateFile, state)
}

func (s *store) Profile(ctx context.Context, sessionID string) (*session.PatientProfile, error) {
	var profile session.PatientProfile
	if err := s.readJSON(sessionID, profileFile, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *store) SaveProfile(ctx context.Context, sessionID string, profile *session.PatientProfile) error {
	if _, err := s.sessionDir(sessionID); err != nil {
		return err
	}
	return s.writeJSON(sessionID, profileFile, profile)
}

func (s *store) SearchResults(ctx context.Context, sessionID string) ([]session.TrialSummary, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, searchFile))
	if os.IsNotExist(err) {
		return []session.TrialSummary{}, nil
	}
	if err != nil {
		return nil, err
	}
	var trials []session.TrialSummary
	if err := json.Unmarshal(data, &trials); err != nil {
		return nil, fmt.Errorf("decode %s for session %s: %w", searchFile, sessionID, err)
	}
	return trials, nil
}

func (s *store) SaveSearchResults(ctx context.Context, sessionID string, trials []session.TrialSummary) error {
	if _, err := s.sessionDir(sessionID); err != nil {
		return err
	}
	return s.writeJSON(sessionID, searchFile, trials)
}

func (s *store) MatchedTrials(ctx context.Context, sessionID string) ([]session.MatchedTrial, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, matchedFile))
	if os.IsNotExist(err) {
		return []session.MatchedTrial{}, nil
	}
	if err != nil {
		return nil, err
	}
	var trials []session.MatchedTrial
	if err := json.Unmarshal(data, &trials); err != nil {
		return nil, fmt.Errorf("decode %s for session %s: %w", matchedFile, sessionID, err)
	}
	return trials, nil
}

func (s *store) SaveMatchedTrials(ctx context.Context, sessionID string, trials []session.MatchedTrial) error {
	if _, err := s.sessionDir(sessionID); err != nil {
		return err
	}
	return s.writeJSON(sessionID, matchedFile, trials)
}

func (s *store) Report(ctx context.Context, sessionID string) (string, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, reportFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *store) SaveReport(ctx context.Context, sessionID string, html string) error {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, reportFile), []byte(html), 0o644)
}
