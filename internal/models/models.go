// Package models defines the core data structures for VoxForm.
//
// It includes the question script types, the validator and follow-up
// adapter contracts, and the API response envelope shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// QuestionType defines how an answer transcript is interpreted.
type QuestionType string

const (
	// QuestionTypeYesNo expects a yes/no answer normalized to "YES" or "NO".
	QuestionTypeYesNo QuestionType = "yes_no"
	// QuestionTypeDate expects a spoken date.
	QuestionTypeDate QuestionType = "date"
	// QuestionTypeNumber expects a spoken number.
	QuestionTypeNumber QuestionType = "number"
	// QuestionTypeOpen accepts free-form answers.
	QuestionTypeOpen QuestionType = "open"
	// QuestionTypeChoice expects one of a fixed set of choices.
	QuestionTypeChoice QuestionType = "choice"
)

// Normalized answer literals for yes/no questions.
const (
	AnswerYes = "YES"
	AnswerNo  = "NO"
)

// SkipTargetEnd is the sentinel skip target that terminates the script.
const SkipTargetEnd = "END"

// SentinelNoValidResponse is recorded when the retry limit is exhausted
// without a valid answer.
const SentinelNoValidResponse = "NO_VALID_RESPONSE"

// MaxFollowupAskLength is the ceiling for generated follow-up question text.
// Longer candidates are coerced to a done result.
const MaxFollowupAskLength = 200

// Error variables for better error handling and testability
var (
	ErrEmptyQuestionID      = errors.New("question id cannot be empty")
	ErrDuplicateQuestionID  = errors.New("duplicate question id")
	ErrEmptyPrompt          = errors.New("question prompt cannot be empty")
	ErrInvalidQuestionType  = errors.New("invalid question type")
	ErrMissingChoices       = errors.New("choices are required for choice questions")
	ErrUnexpectedChoices    = errors.New("choices are only allowed for choice questions")
	ErrUnknownSkipTarget    = errors.New("onNo references an unknown question id")
	ErrUnknownPredicateID   = errors.New("requires references an unknown question id")
	ErrInvalidPredicate     = errors.New("predicate must set exactly one of answer or contains")
	ErrInvalidFollowupMax   = errors.New("followups.max must be positive")
	ErrSessionClosed        = errors.New("session is closed")
	ErrSessionTerminal      = errors.New("session already reached terminal state")
	ErrNoPendingQuestion    = errors.New("no question is awaiting a transcript")
	ErrEmptyScript          = errors.New("script must contain at least one question")
)

// IsValidQuestionType checks if the given question type is supported.
func IsValidQuestionType(qt QuestionType) bool {
	switch qt {
	case QuestionTypeYesNo, QuestionTypeDate, QuestionTypeNumber, QuestionTypeOpen, QuestionTypeChoice:
		return true
	default:
		return false
	}
}

// Predicate gates a question on a previously recorded normalized answer.
// Exactly one of Answer (exact match) or Contains (substring match) is set.
type Predicate struct {
	ID       string `json:"id"`
	Answer   string `json:"answer,omitempty"`
	Contains string `json:"contains,omitempty"`
}

// Validate checks the predicate shape.
func (p Predicate) Validate() error {
	if p.ID == "" {
		return ErrUnknownPredicateID
	}
	if (p.Answer == "") == (p.Contains == "") {
		return ErrInvalidPredicate
	}
	return nil
}

// Matches reports whether the predicate is satisfied by the answer map.
// A missing answer never satisfies a predicate.
func (p Predicate) Matches(answers map[string]AnswerRecord) bool {
	rec, ok := answers[p.ID]
	if !ok {
		return false
	}
	if p.Answer != "" {
		return rec.Normalized == p.Answer
	}
	return containsFold(rec.Normalized, p.Contains)
}

// PredicateList normalizes the requires field: scripts may declare a single
// predicate object or a list; both decode to a list with AND semantics.
type PredicateList []Predicate

// UnmarshalJSON accepts either a single predicate object or an array.
func (pl *PredicateList) UnmarshalJSON(data []byte) error {
	var list []Predicate
	if err := json.Unmarshal(data, &list); err == nil {
		*pl = list
		return nil
	}
	var single Predicate
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("requires must be a predicate or list of predicates: %w", err)
	}
	*pl = PredicateList{single}
	return nil
}

// Satisfied reports whether all predicates match (AND semantics).
// An empty list is always satisfied.
func (pl PredicateList) Satisfied(answers map[string]AnswerRecord) bool {
	for _, p := range pl {
		if !p.Matches(answers) {
			return false
		}
	}
	return true
}

// FollowupWhen values supported by follow-up configuration.
const FollowupWhenAfterValid = "after_valid"

// FollowupConfig enables the bounded follow-up sub-flow after a question
// is answered validly.
type FollowupConfig struct {
	Max              int    `json:"max"`
	When             string `json:"when,omitempty"`
	Topic            string `json:"topic,omitempty"`
	Guidance         string `json:"guidance,omitempty"`
	RetryLimit       int    `json:"retryLimit,omitempty"`
	StopOnNoResponse bool   `json:"stopOnNoResponse,omitempty"`
}

// QuestionDef is a single immutable entry in the question script.
type QuestionDef struct {
	ID        string          `json:"id"`
	Section   string          `json:"section,omitempty"`
	Prompt    string          `json:"prompt"`
	Type      QuestionType    `json:"type"`
	Choices   []string        `json:"choices,omitempty"`
	OnNo      string          `json:"onNo,omitempty"`
	Requires  PredicateList   `json:"requires,omitempty"`
	Followups *FollowupConfig `json:"followups,omitempty"`
}

// Validate checks the standalone shape of a question definition.
// Cross-question references are validated at script load.
func (q QuestionDef) Validate() error {
	if q.ID == "" {
		return ErrEmptyQuestionID
	}
	if q.Prompt == "" {
		return fmt.Errorf("question %s: %w", q.ID, ErrEmptyPrompt)
	}
	if !IsValidQuestionType(q.Type) {
		return fmt.Errorf("question %s: %w: %s", q.ID, ErrInvalidQuestionType, q.Type)
	}
	if q.Type == QuestionTypeChoice && len(q.Choices) == 0 {
		return fmt.Errorf("question %s: %w", q.ID, ErrMissingChoices)
	}
	if q.Type != QuestionTypeChoice && len(q.Choices) > 0 {
		return fmt.Errorf("question %s: %w", q.ID, ErrUnexpectedChoices)
	}
	for _, p := range q.Requires {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
	}
	if q.Followups != nil && q.Followups.Max <= 0 {
		return fmt.Errorf("question %s: %w", q.ID, ErrInvalidFollowupMax)
	}
	return nil
}

// ValidationResult is the fixed shape every answer-checking backend is
// normalized to. Exactly one of the three expected outcomes holds:
// valid with Normalized set, invalid with Repeat, or invalid with
// Explanation. Anything else is coerced to invalid.
type ValidationResult struct {
	Valid       bool   `json:"valid"`
	Normalized  string `json:"normalized,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Repeat      bool   `json:"repeat,omitempty"`
}

// FollowupResult is the fixed shape every follow-up backend is normalized to.
type FollowupResult struct {
	Ask  string `json:"ask,omitempty"`
	Done bool   `json:"done,omitempty"`
}

// OverlapResult is the overlap guard decision.
type OverlapResult struct {
	Allow bool `json:"allow"`
}

// QAPair is one follow-up question/answer exchange kept as generation context.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FollowupContext carries everything the follow-up generator may use.
type FollowupContext struct {
	Section           string            `json:"section"`
	QuestionText      string            `json:"questionText"`
	LastAnswer        string            `json:"lastAnswer"`
	PriorAnswers      []string          `json:"priorAnswers,omitempty"`
	Topic             string            `json:"topic,omitempty"`
	Guidance          string            `json:"guidance,omitempty"`
	PreviousFollowups []string          `json:"previousFollowups,omitempty"`
	UpcomingQuestions []string          `json:"upcomingQuestions,omitempty"`
	SectionAnswers    map[string]string `json:"sectionAnswers,omitempty"`
	RecentQAPairs     []QAPair          `json:"recentQAPairs,omitempty"`
	PrimaryContext    string            `json:"primaryContext,omitempty"`
}

// Capabilities describes which external backends are currently configured.
// Consumed once at session start to decide whether follow-ups are attempted.
type Capabilities struct {
	TTSAvailable        bool   `json:"tts_available"`
	ValidationAvailable bool   `json:"validation_available"`
	FollowupsAvailable  bool   `json:"followups_available"`
	Provider            string `json:"provider,omitempty"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
