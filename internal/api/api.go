// Package api provides the HTTP surface for driving questionnaire sessions.
//
// It exposes RESTful endpoints for creating sessions, submitting captured
// transcripts, inspecting session state, and browsing archived interviews.
// Speech stays outside this package: callers exchange text transcripts and
// utterance lists with the flow controller.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/voxform/voxform/internal/flow"
	"github.com/voxform/voxform/internal/followup"
	"github.com/voxform/voxform/internal/models"
	"github.com/voxform/voxform/internal/script"
	"github.com/voxform/voxform/internal/store"
	"github.com/voxform/voxform/internal/validate"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful server shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr              string
	FollowupGenerator followup.Generator
	OverlapChecker    followup.OverlapChecker
	Capabilities      *models.Capabilities
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithFollowups enables the follow-up sub-flow for sessions created through
// the API.
func WithFollowups(gen followup.Generator, checker followup.OverlapChecker) Option {
	return func(o *Opts) {
		o.FollowupGenerator = gen
		o.OverlapChecker = checker
	}
}

// WithCapabilities overrides the backend availability probe passed to new
// sessions.
func WithCapabilities(caps models.Capabilities) Option {
	return func(o *Opts) { o.Capabilities = &caps }
}

// Server hosts the session registry and the interview archive behind HTTP.
type Server struct {
	addr      string
	scripts   map[string]*script.Script
	validator validate.Validator
	store     store.Store

	fugen   followup.Generator
	overlap followup.OverlapChecker
	caps    *models.Capabilities

	mu       sync.RWMutex
	sessions map[string]*flow.Session

	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates a server over the given scripts, validator and archive.
func NewServer(scripts map[string]*script.Script, v validate.Validator, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		addr:      cfg.Addr,
		scripts:   scripts,
		validator: v,
		store:     st,
		fugen:     cfg.FollowupGenerator,
		overlap:   cfg.OverlapChecker,
		caps:      cfg.Capabilities,
		sessions:  make(map[string]*flow.Session),
		startedAt: time.Now(),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/sessions/", s.sessionHandler)
	mux.HandleFunc("/interviews", s.interviewsHandler)
	mux.HandleFunc("/interviews/", s.interviewHandler)
	mux.HandleFunc("/status", s.statusHandler)
	return mux
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	slog.Info("Server.Run: API server listening", "addr", s.addr, "scripts", len(s.scripts))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully and closes every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	slog.Info("Server.Shutdown: stopping API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) getSession(id string) *flow.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// archiveIfDone persists a terminal session's interview and drops it from
// the registry. Archive failures are logged, not surfaced; the caller still
// holds the full state in its response.
func (s *Server) archiveIfDone(sess *flow.Session) {
	if !sess.Done() {
		return
	}
	iv := sess.Interview()
	if err := s.store.SaveInterview(iv); err != nil {
		slog.Error("Server.archiveIfDone: failed to archive interview", "session", sess.ID(), "error", err)
	} else {
		slog.Info("Server.archiveIfDone: interview archived", "session", sess.ID(), "answers", len(iv.Answers))
	}
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
}
