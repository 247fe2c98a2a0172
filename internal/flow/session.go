// Package flow implements the questionnaire flow controller: a per-session
// state machine that selects questions, applies the retry and escalation
// policy, drives the bounded follow-up sub-loop, and records answers.
//
// The state machine is the system's correctness core: the probabilistic
// validator can influence whether an answer is accepted, but never which
// question is asked next, when the script branches, or how many follow-ups
// may be injected.
package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxform/voxform/internal/followup"
	"github.com/voxform/voxform/internal/models"
	"github.com/voxform/voxform/internal/script"
	"github.com/voxform/voxform/internal/validate"
)

// Default policy constants.
const (
	// DefaultRetryLimit is the questionnaire-wide cap on invalid-answer
	// retries per scripted question.
	DefaultRetryLimit = 3
	// DefaultFollowupRetryLimit caps invalid-answer retries per individual
	// follow-up question when the script does not configure one.
	DefaultFollowupRetryLimit = 2
	// DefaultUpcomingWindow bounds how many upcoming scripted prompts are
	// passed to the follow-up generator and overlap guard.
	DefaultUpcomingWindow = 5
	// DefaultPriorAnswerWindow bounds how many recent answers are passed to
	// the follow-up generator.
	DefaultPriorAnswerWindow = 3
	// recentQAPairLimit bounds the per-section follow-up exchange context.
	recentQAPairLimit = 5
)

// GiveUpPhrase is spoken when the retry limit is exhausted. Product text,
// configurable constant.
const GiveUpPhrase = "Let's move on."

// escalationSuffix is appended to a retry explanation, keyed purely on the
// retry count. It is authored here, never by the validator.
func escalationSuffix(retryCount int) string {
	if retryCount >= 2 {
		return " Let's try once more."
	}
	return ""
}

// Opts holds configuration options for a session.
type Opts struct {
	ID                string
	RetryLimit        int
	UpcomingWindow    int
	PriorAnswerWindow int
	FollowupGenerator followup.Generator
	OverlapChecker    followup.OverlapChecker
	Capabilities      *models.Capabilities
}

// Option defines a configuration option for a session.
type Option func(*Opts)

// WithID sets the session identifier instead of a generated one.
func WithID(id string) Option {
	return func(o *Opts) { o.ID = id }
}

// WithRetryLimit overrides the questionnaire-wide retry limit.
func WithRetryLimit(limit int) Option {
	return func(o *Opts) { o.RetryLimit = limit }
}

// WithUpcomingWindow overrides the upcoming-question context window.
func WithUpcomingWindow(n int) Option {
	return func(o *Opts) { o.UpcomingWindow = n }
}

// WithFollowups enables the follow-up sub-flow with the given generator and
// overlap checker.
func WithFollowups(gen followup.Generator, checker followup.OverlapChecker) Option {
	return func(o *Opts) {
		o.FollowupGenerator = gen
		o.OverlapChecker = checker
	}
}

// WithCapabilities sets the backend availability probe consumed at session
// start.
func WithCapabilities(caps models.Capabilities) Option {
	return func(o *Opts) { o.Capabilities = &caps }
}

// Session drives one questionnaire interview. All methods are safe for
// concurrent use, but the flow itself is strictly sequential: one suspension
// point (awaiting a transcript) is outstanding at a time.
type Session struct {
	mu     sync.Mutex
	closed atomic.Bool

	id        string
	script    *script.Script
	validator validate.Validator
	fugen     followup.Generator
	overlap   followup.OverlapChecker
	caps      models.Capabilities

	retryLimit     int
	upcomingWindow int
	priorWindow    int

	state   *models.FlowState
	pending []models.Utterance

	// Resolved script index to move to once the current question (and its
	// follow-up sub-loop, if any) completes.
	nextIndex int

	// Follow-up sub-loop working state, reset per parent question.
	inFollowup      bool
	pendingFollowup string
	fuRetryCount    int
	fuAsked         []string
	sectionQA       map[string][]models.QAPair

	startedAt   time.Time
	completedAt time.Time
}

// NewSession creates a session over the given script and validator and
// speaks the first applicable question.
func NewSession(scr *script.Script, v validate.Validator, opts ...Option) *Session {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	if cfg.UpcomingWindow <= 0 {
		cfg.UpcomingWindow = DefaultUpcomingWindow
	}
	if cfg.PriorAnswerWindow <= 0 {
		cfg.PriorAnswerWindow = DefaultPriorAnswerWindow
	}
	caps := models.Capabilities{ValidationAvailable: true, FollowupsAvailable: cfg.FollowupGenerator != nil}
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
	}
	if cfg.OverlapChecker == nil {
		cfg.OverlapChecker = followup.NewBypassOverlapChecker()
	}

	s := &Session{
		id:             cfg.ID,
		script:         scr,
		validator:      v,
		fugen:          cfg.FollowupGenerator,
		overlap:        cfg.OverlapChecker,
		caps:           caps,
		retryLimit:     cfg.RetryLimit,
		upcomingWindow: cfg.UpcomingWindow,
		priorWindow:    cfg.PriorAnswerWindow,
		state:          models.NewFlowState(),
		sectionQA:      make(map[string][]models.QAPair),
		startedAt:      time.Now(),
	}

	idx := scr.FindNext(0, s.state.Answers)
	if idx == script.None {
		slog.Warn("flow.NewSession: no applicable question, session is terminal", "session", s.id, "script", scr.Name())
		s.terminal()
		return s
	}
	s.state.CurrentIndex = idx
	s.speakCurrentQuestion()
	slog.Info("flow.NewSession: session started", "session", s.id, "script", scr.Name(), "first_question", scr.Question(idx).ID)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Done reports whether the session reached its terminal state.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Phase == models.PhaseTerminal
}

// Close abandons the session. Any in-flight external call's result is
// discarded when it arrives; Close never blocks on one.
func (s *Session) Close() {
	s.closed.Store(true)
	slog.Info("flow.Session.Close: session abandoned", "session", s.id)
}

// Prompt returns the utterances awaiting speech and whether the session is
// terminal. It does not consume them; submitting a transcript replaces them.
func (s *Session) Prompt() ([]models.Utterance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	utts := make([]models.Utterance, len(s.pending))
	copy(utts, s.pending)
	return utts, s.state.Phase == models.PhaseTerminal
}

// State returns a copy of the session's flow state for inspection.
func (s *Session) State() models.FlowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotState()
}

func (s *Session) snapshotState() models.FlowState {
	answers := make(map[string]models.AnswerRecord, len(s.state.Answers))
	for id, rec := range s.state.Answers {
		answers[id] = rec
	}
	transcript := make([]models.TranscriptEntry, len(s.state.Transcript))
	copy(transcript, s.state.Transcript)
	return models.FlowState{
		CurrentIndex:  s.state.CurrentIndex,
		RetryCount:    s.state.RetryCount,
		FollowupCount: s.state.FollowupCount,
		Phase:         s.state.Phase,
		Answers:       answers,
		Transcript:    transcript,
	}
}

// Interview returns the archivable record of the session.
func (s *Session) Interview() models.Interview {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotState()
	return models.Interview{
		ID:          s.id,
		ScriptName:  s.script.Name(),
		StartedAt:   s.startedAt,
		CompletedAt: s.completedAt,
		Answers:     snap.Answers,
		Transcript:  snap.Transcript,
	}
}

// Submit consumes one captured transcript and advances the state machine.
// A capture failure is submitted as an empty transcript. The returned
// utterances are what the session wants spoken next.
func (s *Session) Submit(ctx context.Context, transcript string) ([]models.Utterance, error) {
	if s.closed.Load() {
		return nil, models.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == models.PhaseTerminal {
		return nil, models.ErrSessionTerminal
	}
	s.pending = nil

	if s.inFollowup && s.pendingFollowup != "" {
		return s.submitFollowupAnswer(ctx, transcript)
	}
	return s.submitScriptedAnswer(ctx, transcript)
}

func (s *Session) submitScriptedAnswer(ctx context.Context, transcript string) ([]models.Utterance, error) {
	q := s.script.Question(s.state.CurrentIndex)
	s.state.Phase = models.PhaseValidating
	slog.Debug("flow.Session: validating answer", "session", s.id, "question", q.ID, "type", q.Type)

	result := s.validator.Validate(ctx, q.Prompt, q.Type, transcript, q.Choices)
	if s.closed.Load() {
		// Session was abandoned while the call was in flight; discard.
		return nil, models.ErrSessionClosed
	}

	if result.Repeat {
		slog.Debug("flow.Session: repeat requested", "session", s.id, "question", q.ID)
		s.appendUser(transcript)
		s.say(q.Prompt, models.UtteranceQuestion)
		s.state.Phase = models.PhaseListening
		return s.pendingCopy(), nil
	}

	if result.Valid {
		s.appendUser(transcript)
		s.state.Answers[q.ID] = models.AnswerRecord{Normalized: result.Normalized, RawTranscript: transcript}
		s.state.RetryCount = 0
		slog.Info("flow.Session: answer recorded", "session", s.id, "question", q.ID, "normalized", result.Normalized)

		if q.OnNo != "" && result.Normalized == models.AnswerNo {
			s.nextIndex = s.script.ResolveSkip(q.OnNo, s.state.Answers)
			slog.Debug("flow.Session: onNo skip resolved", "session", s.id, "question", q.ID, "target", q.OnNo, "index", s.nextIndex)
		} else {
			s.nextIndex = s.script.FindNext(s.state.CurrentIndex+1, s.state.Answers)
		}

		if s.followupsEnabled(q) {
			s.beginFollowups(ctx, q)
			if s.closed.Load() {
				return nil, models.ErrSessionClosed
			}
			if s.inFollowup {
				return s.pendingCopy(), nil
			}
		}
		s.advance()
		return s.pendingCopy(), nil
	}

	// Invalid, not a repeat: retry or give up.
	s.appendUser(transcript)
	s.state.RetryCount++
	s.state.Phase = models.PhaseRetry
	if s.state.RetryCount >= s.retryLimit {
		slog.Info("flow.Session: retry limit reached, giving up on question", "session", s.id, "question", q.ID, "retries", s.state.RetryCount)
		s.say(GiveUpPhrase, models.UtteranceGiveUp)
		s.state.Answers[q.ID] = models.AnswerRecord{Normalized: models.SentinelNoValidResponse, RawTranscript: transcript}
		s.state.RetryCount = 0
		// No real answer was obtained, so onNo branching does not apply.
		s.nextIndex = s.script.FindNext(s.state.CurrentIndex+1, s.state.Answers)
		s.advance()
		return s.pendingCopy(), nil
	}

	explanation := result.Explanation
	if explanation == "" {
		explanation = validate.GenericExplanation(q.Type)
	}
	explanation += escalationSuffix(s.state.RetryCount)
	slog.Debug("flow.Session: re-asking after invalid answer", "session", s.id, "question", q.ID, "retry", s.state.RetryCount)
	s.say(explanation, models.UtteranceExplanation)
	s.say(q.Prompt, models.UtteranceQuestion)
	s.state.Phase = models.PhaseListening
	return s.pendingCopy(), nil
}

// advance moves to the previously resolved next index, or terminates.
func (s *Session) advance() {
	s.endFollowups()
	s.state.Phase = models.PhaseAdvancing
	if s.nextIndex == script.None {
		s.terminal()
		return
	}
	s.state.CurrentIndex = s.nextIndex
	s.state.RetryCount = 0
	s.state.FollowupCount = 0
	s.speakCurrentQuestion()
}

func (s *Session) speakCurrentQuestion() {
	q := s.script.Question(s.state.CurrentIndex)
	s.say(q.Prompt, models.UtteranceQuestion)
	s.state.Phase = models.PhaseListening
}

func (s *Session) terminal() {
	s.state.Phase = models.PhaseTerminal
	s.completedAt = time.Now()
	slog.Info("flow.Session: terminal state reached", "session", s.id, "answers", len(s.state.Answers))
}

// say enqueues text for speech and records the assistant transcript entry.
func (s *Session) say(text string, kind models.UtteranceKind) {
	s.pending = append(s.pending, models.Utterance{Text: text, Kind: kind})
	s.state.Transcript = append(s.state.Transcript, models.TranscriptEntry{Role: models.RoleAssistant, Text: text})
}

// appendUser records a user transcript entry for a non-empty transcript.
func (s *Session) appendUser(transcript string) {
	if strings.TrimSpace(transcript) == "" {
		return
	}
	s.state.Transcript = append(s.state.Transcript, models.TranscriptEntry{Role: models.RoleUser, Text: transcript})
}

func (s *Session) pendingCopy() []models.Utterance {
	utts := make([]models.Utterance, len(s.pending))
	copy(utts, s.pending)
	return utts
}

func (s *Session) followupsEnabled(q models.QuestionDef) bool {
	if q.Followups == nil || s.fugen == nil {
		return false
	}
	if !s.caps.FollowupsAvailable {
		return false
	}
	// after_valid is the only supported trigger; an empty when means the same.
	return q.Followups.When == "" || q.Followups.When == models.FollowupWhenAfterValid
}
