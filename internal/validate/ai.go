package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/voxform/voxform/internal/genai"
	"github.com/voxform/voxform/internal/models"
)

const validatorSystemPrompt = `You validate spoken answers to questionnaire questions.
Respond with a single JSON object and nothing else. The contract is strict:
{"valid": true, "normalized": "<canonical answer>"} when the transcript answers the question,
{"valid": false, "repeat": true} when the user asked you to repeat or restate the question,
{"valid": false, "explanation": "<one short sentence telling the user what you need>"} otherwise.
For yes_no questions, normalized must be exactly "YES" or "NO".
For choice questions, normalized must be exactly one of the provided choices.
For date and number questions, normalized is the cleaned-up spoken value.
For open questions, normalized is the transcript with filler removed.
Never add fields, commentary, or markdown.`

// AIValidator validates transcripts with an LLM backend under a strict
// output contract, falling back to the rule validator whenever the backend
// call fails.
type AIValidator struct {
	client   genai.ClientInterface
	fallback *RuleValidator
}

// NewAIValidator creates an AI-backed validator with the deterministic
// rule validator as its fallback.
func NewAIValidator(client genai.ClientInterface) *AIValidator {
	return &AIValidator{client: client, fallback: NewRuleValidator()}
}

// Validate asks the backend to interpret the transcript. Backend errors
// route to the rule fallback; responses that violate the output contract
// are coerced to invalid. The caller never sees an error.
func (v *AIValidator) Validate(ctx context.Context, question string, qtype models.QuestionType, transcript string, choices []string) models.ValidationResult {
	if strings.TrimSpace(transcript) == "" {
		// Capture failure or silence: no point in an AI round-trip.
		return v.fallback.Validate(ctx, question, qtype, transcript, choices)
	}

	userPrompt := buildValidationPrompt(question, qtype, transcript, choices)
	raw, err := v.client.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(validatorSystemPrompt),
		openai.UserMessage(userPrompt),
	})
	if err != nil {
		slog.Warn("validate.AIValidator: backend call failed, using rule fallback", "error", err, "type", qtype)
		return v.fallback.Validate(ctx, question, qtype, transcript, choices)
	}

	result, ok := decodeValidationResult(raw)
	if !ok {
		slog.Warn("validate.AIValidator: malformed backend output coerced to invalid", "type", qtype, "raw_length", len(raw))
		return models.ValidationResult{Valid: false}
	}
	return sanitizeValidationResult(result, qtype, choices)
}

func buildValidationPrompt(question string, qtype models.QuestionType, transcript string, choices []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", question)
	fmt.Fprintf(&sb, "Question type: %s\n", qtype)
	if len(choices) > 0 {
		fmt.Fprintf(&sb, "Choices: %s\n", strings.Join(choices, " | "))
	}
	fmt.Fprintf(&sb, "Transcript: %s", transcript)
	return sb.String()
}

// validationPayload mirrors the backend JSON contract, with pointers to
// distinguish absent fields from empty ones.
type validationPayload struct {
	Valid       *bool   `json:"valid"`
	Normalized  *string `json:"normalized"`
	Explanation *string `json:"explanation"`
	Repeat      *bool   `json:"repeat"`
}

// decodeValidationResult is the strict decode-or-default boundary for the
// validation contract. It returns ok=false for anything unparseable or
// missing the required valid field; parse failures never propagate.
func decodeValidationResult(raw string) (models.ValidationResult, bool) {
	var payload validationPayload
	if err := json.Unmarshal([]byte(genai.StripJSONFence(raw)), &payload); err != nil {
		return models.ValidationResult{}, false
	}
	if payload.Valid == nil {
		return models.ValidationResult{}, false
	}
	result := models.ValidationResult{Valid: *payload.Valid}
	if payload.Normalized != nil {
		result.Normalized = strings.TrimSpace(*payload.Normalized)
	}
	if payload.Explanation != nil {
		result.Explanation = strings.TrimSpace(*payload.Explanation)
	}
	if payload.Repeat != nil {
		result.Repeat = *payload.Repeat
	}
	return result, true
}

// sanitizeValidationResult enforces the output contract by construction:
// a repeat request is never valid, a valid result must carry a normalized
// answer, and yes_no answers are exactly YES or NO.
func sanitizeValidationResult(result models.ValidationResult, qtype models.QuestionType, choices []string) models.ValidationResult {
	if result.Repeat {
		return models.ValidationResult{Valid: false, Repeat: true}
	}
	if !result.Valid {
		return models.ValidationResult{Valid: false, Explanation: result.Explanation}
	}
	if result.Normalized == "" {
		return models.ValidationResult{Valid: false}
	}
	switch qtype {
	case models.QuestionTypeYesNo:
		switch strings.ToUpper(result.Normalized) {
		case models.AnswerYes:
			result.Normalized = models.AnswerYes
		case models.AnswerNo:
			result.Normalized = models.AnswerNo
		default:
			slog.Warn("validate.sanitizeValidationResult: yes_no literal out of contract", "normalized", result.Normalized)
			return models.ValidationResult{Valid: false}
		}
	case models.QuestionTypeChoice:
		matched := false
		for _, choice := range choices {
			if strings.EqualFold(result.Normalized, choice) {
				result.Normalized = choice
				matched = true
				break
			}
		}
		if !matched {
			slog.Warn("validate.sanitizeValidationResult: choice out of contract", "normalized", result.Normalized)
			return models.ValidationResult{Valid: false}
		}
	}
	result.Explanation = ""
	return result
}
