// Package models defines session state types to avoid circular imports.
package models

import (
	"strings"
	"time"
)

// Phase represents a specific point in the flow state machine.
type Phase string

// Phase constants for the questionnaire flow.
const (
	PhaseIdle               Phase = "IDLE"
	PhaseSpeaking           Phase = "SPEAKING"
	PhaseListening          Phase = "LISTENING"
	PhaseValidating         Phase = "VALIDATING"
	PhaseFollowupCheck      Phase = "FOLLOWUP_CHECK"
	PhaseFollowupSpeaking   Phase = "FOLLOWUP_SPEAKING"
	PhaseFollowupListening  Phase = "FOLLOWUP_LISTENING"
	PhaseFollowupValidating Phase = "FOLLOWUP_VALIDATING"
	PhaseAdvancing          Phase = "ADVANCING"
	PhaseRetry              Phase = "RETRY"
	PhaseTerminal           Phase = "TERMINAL"
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// TranscriptEntry is one line of the append-only conversation log. It is a
// pure observational record, never read back into flow decisions.
type TranscriptEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// AnswerRecord holds the final validated answer for a question id.
// A later visit via branching overwrites.
type AnswerRecord struct {
	Normalized    string `json:"normalized"`
	RawTranscript string `json:"raw_transcript"`
}

// UtteranceKind classifies what the assistant is about to speak.
type UtteranceKind string

const (
	UtteranceQuestion    UtteranceKind = "question"
	UtteranceFollowup    UtteranceKind = "followup"
	UtteranceExplanation UtteranceKind = "explanation"
	UtteranceGiveUp      UtteranceKind = "give_up"
)

// Utterance is a single piece of text the session wants rendered as speech.
type Utterance struct {
	Text string        `json:"text"`
	Kind UtteranceKind `json:"kind"`
}

// FlowState is the mutable per-session state, owned exclusively by the
// flow session. No other component mutates it.
type FlowState struct {
	CurrentIndex  int                     `json:"current_index"`
	RetryCount    int                     `json:"retry_count"`
	FollowupCount int                     `json:"followup_count"`
	Phase         Phase                   `json:"phase"`
	Answers       map[string]AnswerRecord `json:"answers"`
	Transcript    []TranscriptEntry       `json:"transcript"`
}

// NewFlowState creates the initial state: index 0, counters zero, empty
// answers and transcript.
func NewFlowState() *FlowState {
	return &FlowState{
		Phase:      PhaseIdle,
		Answers:    make(map[string]AnswerRecord),
		Transcript: []TranscriptEntry{},
	}
}

// Interview is the archived record of a completed session.
type Interview struct {
	ID          string                  `json:"id"`
	ScriptName  string                  `json:"script_name"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
	Answers     map[string]AnswerRecord `json:"answers"`
	Transcript  []TranscriptEntry       `json:"transcript"`
}

// containsFold reports whether substr occurs in s, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
