// Package api provides HTTP handlers for session and interview endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxform/voxform/internal/flow"
	"github.com/voxform/voxform/internal/models"
)

type createSessionRequest struct {
	Script string `json:"script"`
}

type submitTranscriptRequest struct {
	Transcript string `json:"transcript"`
}

// sessionView is the wire shape of a live session.
type sessionView struct {
	ID         string             `json:"id"`
	Script     string             `json:"script"`
	Phase      models.Phase       `json:"phase"`
	Done       bool               `json:"done"`
	Utterances []models.Utterance `json:"utterances"`
}

func (s *Server) viewOf(sess *flow.Session, scriptName string) sessionView {
	utts, done := sess.Prompt()
	return sessionView{
		ID:         sess.ID(),
		Script:     scriptName,
		Phase:      sess.State().Phase,
		Done:       done,
		Utterances: utts,
	}
}

// sessionsHandler handles POST /sessions.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sessionsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sessionsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	scr, ok := s.scripts[req.Script]
	if !ok {
		slog.Warn("Server.sessionsHandler: unknown script", "script", req.Script)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown script: "+req.Script))
		return
	}

	var opts []flow.Option
	if s.fugen != nil {
		opts = append(opts, flow.WithFollowups(s.fugen, s.overlap))
	}
	if s.caps != nil {
		opts = append(opts, flow.WithCapabilities(*s.caps))
	}
	sess := flow.NewSession(scr, s.validator, opts...)

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	// An empty or fully gated script can terminate immediately.
	s.archiveIfDone(sess)

	slog.Info("Server.sessionsHandler: session created", "session", sess.ID(), "script", req.Script)
	writeJSONResponse(w, http.StatusCreated, models.Success(s.viewOf(sess, req.Script)))
}

// sessionHandler handles GET/DELETE /sessions/{id} and POST /sessions/{id}/transcript.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing session id"))
		return
	}
	id := parts[0]

	sess := s.getSession(id)
	if sess == nil {
		slog.Debug("Server.sessionHandler: session not found", "session", id)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.viewOf(sess, sess.Interview().ScriptName)))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.abandonSession(w, sess)

	case len(parts) == 2 && parts[1] == "transcript" && r.Method == http.MethodPost:
		s.submitTranscript(w, r, sess)

	default:
		slog.Warn("Server.sessionHandler: method not allowed", "method", r.Method, "path", r.URL.Path)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// submitTranscript feeds one captured transcript into the session.
func (s *Server) submitTranscript(w http.ResponseWriter, r *http.Request, sess *flow.Session) {
	var req submitTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.submitTranscript: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	scriptName := sess.Interview().ScriptName
	_, err := sess.Submit(r.Context(), req.Transcript)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionClosed):
			writeJSONResponse(w, http.StatusConflict, models.Error("Session is closed"))
		case errors.Is(err, models.ErrSessionTerminal):
			writeJSONResponse(w, http.StatusConflict, models.Error("Session already completed"))
		default:
			slog.Error("Server.submitTranscript: submit failed", "session", sess.ID(), "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process transcript"))
		}
		return
	}

	view := s.viewOf(sess, scriptName)
	s.archiveIfDone(sess)
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

// abandonSession closes a session early and archives the partial interview.
func (s *Server) abandonSession(w http.ResponseWriter, sess *flow.Session) {
	sess.Close()
	iv := sess.Interview()
	if err := s.store.SaveInterview(iv); err != nil {
		slog.Error("Server.abandonSession: failed to archive partial interview", "session", sess.ID(), "error", err)
	}

	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()

	slog.Info("Server.abandonSession: session abandoned", "session", sess.ID(), "answers", len(iv.Answers))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session abandoned", nil))
}

// interviewsHandler handles GET /interviews.
func (s *Server) interviewsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list, err := s.store.ListInterviews()
	if err != nil {
		slog.Error("Server.interviewsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list interviews"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(list))
}

// interviewHandler handles GET/DELETE /interviews/{id}.
func (s *Server) interviewHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/interviews/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid interview id"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		iv, err := s.store.GetInterview(id)
		if err != nil {
			slog.Error("Server.interviewHandler: get failed", "interview", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load interview"))
			return
		}
		if iv == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Interview not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(iv))

	case http.MethodDelete:
		if err := s.store.DeleteInterview(id); err != nil {
			slog.Error("Server.interviewHandler: delete failed", "interview", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete interview"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Interview deleted", nil))

	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// statusHandler handles GET /status.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	live := len(s.sessions)
	s.mu.RUnlock()

	scriptNames := make([]string, 0, len(s.scripts))
	for name := range s.scripts {
		scriptNames = append(scriptNames, name)
	}
	var caps models.Capabilities
	if s.caps != nil {
		caps = *s.caps
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"live_sessions":  live,
		"scripts":        scriptNames,
		"capabilities":   caps,
	}))
}
