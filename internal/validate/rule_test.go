package validate

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/voxform/voxform/internal/models"
)

func TestRuleValidatorYesNo(t *testing.T) {
	v := NewRuleValidator()
	ctx := context.Background()
	cases := []struct {
		transcript string
		normalized string
	}{
		{"yeah I do", models.AnswerYes},
		{"yes", models.AnswerYes},
		{"absolutely", models.AnswerYes},
		{"no", models.AnswerNo},
		{"nope, never", models.AnswerNo},
		{"I don't think so", models.AnswerNo},
		{"yeah I don't think so", models.AnswerNo},
	}
	for _, tc := range cases {
		got := v.Validate(ctx, "Do you own a car?", models.QuestionTypeYesNo, tc.transcript, nil)
		if !got.Valid {
			t.Errorf("transcript %q: expected valid, got %+v", tc.transcript, got)
			continue
		}
		if got.Normalized != tc.normalized {
			t.Errorf("transcript %q: expected %s, got %s", tc.transcript, tc.normalized, got.Normalized)
		}
	}
}

func TestRuleValidatorYesNoAlwaysCanonical(t *testing.T) {
	v := NewRuleValidator()
	ctx := context.Background()
	transcripts := []string{"yeah I do", "nah", "blue", "", "maybe tomorrow", "of course", "negative"}
	for _, tr := range transcripts {
		got := v.Validate(ctx, "q", models.QuestionTypeYesNo, tr, nil)
		if got.Valid && got.Normalized != models.AnswerYes && got.Normalized != models.AnswerNo {
			t.Errorf("transcript %q: valid yes_no result with out-of-contract literal %q", tr, got.Normalized)
		}
	}
}

func TestRuleValidatorYesNoUnrecognized(t *testing.T) {
	v := NewRuleValidator()
	got := v.Validate(context.Background(), "q", models.QuestionTypeYesNo, "purple elephants", nil)
	if got.Valid {
		t.Errorf("expected invalid for unrecognized yes/no answer, got %+v", got)
	}
	if got.Explanation == "" {
		t.Error("expected a yes/no explanation")
	}
}

func TestRuleValidatorRepeatRequest(t *testing.T) {
	v := NewRuleValidator()
	ctx := context.Background()
	for _, qtype := range []models.QuestionType{
		models.QuestionTypeYesNo, models.QuestionTypeDate, models.QuestionTypeNumber,
		models.QuestionTypeOpen, models.QuestionTypeChoice,
	} {
		got := v.Validate(ctx, "q", qtype, "can you repeat that", []string{"red"})
		if got.Valid || !got.Repeat {
			t.Errorf("type %s: expected repeat result, got %+v", qtype, got)
		}
		if got.Normalized != "" {
			t.Errorf("type %s: repeat result must not carry a normalized answer", qtype)
		}
	}
}

func TestRuleValidatorDate(t *testing.T) {
	v := NewRuleValidator()
	ctx := context.Background()
	got := v.Validate(ctx, "When did it happen?", models.QuestionTypeDate, "Volvo", nil)
	if got.Valid {
		t.Errorf("expected invalid for non-date transcript, got %+v", got)
	}
	if !strings.Contains(got.Explanation, "date") {
		t.Errorf("expected date-specific explanation, got %q", got.Explanation)
	}
	got = v.Validate(ctx, "When did it happen?", models.QuestionTypeDate, "March 5th 2024", nil)
	if !got.Valid || got.Normalized != "March 5th 2024" {
		t.Errorf("expected valid date, got %+v", got)
	}
	got = v.Validate(ctx, "When?", models.QuestionTypeDate, "yesterday", nil)
	if !got.Valid {
		t.Errorf("expected relative date to validate, got %+v", got)
	}
}

func TestRuleValidatorNumber(t *testing.T) {
	v := NewRuleValidator()
	ctx := context.Background()
	got := v.Validate(ctx, "How many?", models.QuestionTypeNumber, "about twelve", nil)
	if !got.Valid {
		t.Errorf("expected number word to validate, got %+v", got)
	}
	got = v.Validate(ctx, "How many?", models.QuestionTypeNumber, "a whole bunch", nil)
	if got.Valid {
		t.Errorf("expected invalid for non-number transcript, got %+v", got)
	}
}

func TestRuleValidatorChoice(t *testing.T) {
	v := NewRuleValidator()
	ctx := context.Background()
	choices := []string{"Morning", "Afternoon", "Evening"}
	got := v.Validate(ctx, "When do you prefer?", models.QuestionTypeChoice, "probably the afternoon", choices)
	if !got.Valid || got.Normalized != "Afternoon" {
		t.Errorf("expected Afternoon, got %+v", got)
	}
	got = v.Validate(ctx, "When do you prefer?", models.QuestionTypeChoice, "at night", choices)
	if got.Valid {
		t.Errorf("expected invalid for unmatched choice, got %+v", got)
	}
}

func TestRuleValidatorOpenStripsAcknowledgement(t *testing.T) {
	v := NewRuleValidator()
	got := v.Validate(context.Background(), "Tell me more", models.QuestionTypeOpen, "ok, it was last Tuesday", nil)
	if !got.Valid || got.Normalized != "it was last Tuesday" {
		t.Errorf("expected acknowledgement stripped, got %+v", got)
	}
}

func TestRuleValidatorEmptyTranscript(t *testing.T) {
	v := NewRuleValidator()
	ctx := context.Background()
	for _, qtype := range []models.QuestionType{
		models.QuestionTypeYesNo, models.QuestionTypeDate, models.QuestionTypeOpen,
	} {
		got := v.Validate(ctx, "q", qtype, "   ", nil)
		if got.Valid {
			t.Errorf("type %s: expected invalid for empty transcript", qtype)
		}
		if got.Explanation != GenericExplanation(qtype) {
			t.Errorf("type %s: expected type-specific message, got %q", qtype, got.Explanation)
		}
	}
}

func TestRuleValidatorIdempotent(t *testing.T) {
	v := NewRuleValidator()
	ctx := context.Background()
	inputs := []struct {
		qtype      models.QuestionType
		transcript string
		choices    []string
	}{
		{models.QuestionTypeYesNo, "yeah I do", nil},
		{models.QuestionTypeDate, "Volvo", nil},
		{models.QuestionTypeChoice, "the second one, afternoon", []string{"Morning", "Afternoon"}},
		{models.QuestionTypeOpen, "got it, two dogs", nil},
	}
	for _, in := range inputs {
		first := v.Validate(ctx, "q", in.qtype, in.transcript, in.choices)
		second := v.Validate(ctx, "q", in.qtype, in.transcript, in.choices)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("fallback not idempotent for %+v: %+v vs %+v", in, first, second)
		}
	}
}
