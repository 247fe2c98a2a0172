// Package validate normalizes any answer-checking backend, AI or rule-based,
// to one fixed result shape. Backend failures and malformed output are never
// surfaced to the caller; they degrade to the deterministic fallback or the
// safest default.
package validate

import (
	"context"

	"github.com/voxform/voxform/internal/genai"
	"github.com/voxform/voxform/internal/models"
)

// Validator checks a transcript against a question and returns the fixed
// result shape. Implementations never return an error; degraded paths
// produce an invalid result with a generic explanation instead.
type Validator interface {
	Validate(ctx context.Context, question string, qtype models.QuestionType, transcript string, choices []string) models.ValidationResult
}

// Generic fallback explanations per question type. These are product text,
// configurable constants rather than protocol.
var genericExplanations = map[models.QuestionType]string{
	models.QuestionTypeYesNo:  "Please answer with a simple yes or no.",
	models.QuestionTypeDate:   "I need a date for that one, for example March 5th of last year.",
	models.QuestionTypeNumber: "I need a number for that one.",
	models.QuestionTypeOpen:   "I didn't catch that. Could you say it again in a few words?",
	models.QuestionTypeChoice: "Please pick one of the options I listed.",
}

// GenericExplanation returns the fixed per-type fallback explanation used
// when a validator produces none.
func GenericExplanation(qtype models.QuestionType) string {
	if msg, ok := genericExplanations[qtype]; ok {
		return msg
	}
	return genericExplanations[models.QuestionTypeOpen]
}

// New returns the AI-backed validator when a GenAI client is configured and
// the deterministic rule validator otherwise.
func New(client genai.ClientInterface) Validator {
	if client == nil {
		return NewRuleValidator()
	}
	return NewAIValidator(client)
}
