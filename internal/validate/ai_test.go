package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"

	"github.com/voxform/voxform/internal/models"
)

// mockGenAIClient implements genai.ClientInterface for testing.
type mockGenAIClient struct {
	response string
	err      error
	calls    int
}

func (m *mockGenAIClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.calls++
	return m.response, m.err
}

func TestAIValidatorValidResult(t *testing.T) {
	client := &mockGenAIClient{response: `{"valid": true, "normalized": "YES"}`}
	v := NewAIValidator(client)
	got := v.Validate(context.Background(), "Do you own a car?", models.QuestionTypeYesNo, "yeah I do", nil)
	if !got.Valid || got.Normalized != models.AnswerYes {
		t.Errorf("expected valid YES, got %+v", got)
	}
}

func TestAIValidatorRepeatResult(t *testing.T) {
	client := &mockGenAIClient{response: `{"valid": false, "repeat": true}`}
	v := NewAIValidator(client)
	got := v.Validate(context.Background(), "q", models.QuestionTypeOpen, "say that again please", nil)
	if got.Valid || !got.Repeat {
		t.Errorf("expected repeat result, got %+v", got)
	}
}

func TestAIValidatorMalformedOutputCoercedToInvalid(t *testing.T) {
	cases := []string{
		"I think that answer is fine!",
		`{"something": "else"}`,
		`{"valid": "yes"}`,
		``,
	}
	for _, raw := range cases {
		client := &mockGenAIClient{response: raw}
		v := NewAIValidator(client)
		got := v.Validate(context.Background(), "q", models.QuestionTypeOpen, "two dogs", nil)
		if got.Valid || got.Normalized != "" || got.Repeat {
			t.Errorf("raw %q: expected coercion to invalid, got %+v", raw, got)
		}
	}
}

func TestAIValidatorFencedJSONAccepted(t *testing.T) {
	client := &mockGenAIClient{response: "```json\n{\"valid\": true, \"normalized\": \"two dogs\"}\n```"}
	v := NewAIValidator(client)
	got := v.Validate(context.Background(), "q", models.QuestionTypeOpen, "uh two dogs", nil)
	if !got.Valid || got.Normalized != "two dogs" {
		t.Errorf("expected fenced JSON to decode, got %+v", got)
	}
}

func TestAIValidatorBackendErrorFallsBack(t *testing.T) {
	client := &mockGenAIClient{err: errors.New("network down")}
	v := NewAIValidator(client)
	got := v.Validate(context.Background(), "Do you own a car?", models.QuestionTypeYesNo, "yeah I do", nil)
	if !got.Valid || got.Normalized != models.AnswerYes {
		t.Errorf("expected rule fallback to validate, got %+v", got)
	}
}

func TestAIValidatorYesNoLiteralEnforced(t *testing.T) {
	// Backend tries to normalize yes_no to something else entirely.
	client := &mockGenAIClient{response: `{"valid": true, "normalized": "Definitely"}`}
	v := NewAIValidator(client)
	got := v.Validate(context.Background(), "q", models.QuestionTypeYesNo, "definitely", nil)
	if got.Valid {
		t.Errorf("expected out-of-contract yes_no literal to be rejected, got %+v", got)
	}
	// Case-only deviations are re-coerced, not rejected.
	client = &mockGenAIClient{response: `{"valid": true, "normalized": "yes"}`}
	v = NewAIValidator(client)
	got = v.Validate(context.Background(), "q", models.QuestionTypeYesNo, "yes", nil)
	if !got.Valid || got.Normalized != models.AnswerYes {
		t.Errorf("expected lowercase yes re-coerced to YES, got %+v", got)
	}
}

func TestAIValidatorChoiceEnforced(t *testing.T) {
	client := &mockGenAIClient{response: `{"valid": true, "normalized": "evening"}`}
	v := NewAIValidator(client)
	got := v.Validate(context.Background(), "q", models.QuestionTypeChoice, "evening works", []string{"Morning", "Evening"})
	if !got.Valid || got.Normalized != "Evening" {
		t.Errorf("expected choice re-coerced to canonical casing, got %+v", got)
	}
	client = &mockGenAIClient{response: `{"valid": true, "normalized": "Midnight"}`}
	v = NewAIValidator(client)
	got = v.Validate(context.Background(), "q", models.QuestionTypeChoice, "midnight", []string{"Morning", "Evening"})
	if got.Valid {
		t.Errorf("expected out-of-contract choice rejected, got %+v", got)
	}
}

func TestAIValidatorEmptyTranscriptSkipsBackend(t *testing.T) {
	client := &mockGenAIClient{response: `{"valid": true, "normalized": "ghost"}`}
	v := NewAIValidator(client)
	got := v.Validate(context.Background(), "q", models.QuestionTypeOpen, "  ", nil)
	if got.Valid {
		t.Errorf("expected invalid for empty transcript, got %+v", got)
	}
	if client.calls != 0 {
		t.Errorf("expected no backend call for empty transcript, got %d", client.calls)
	}
}
