package validate

import (
	"context"
	"strings"

	"github.com/voxform/voxform/internal/models"
)

// Fixed phrase sets for the deterministic fallback. Matching is substring
// based for phrases and token based for single words.
var (
	repeatPhrases = []string{
		"repeat", "say that again", "say it again", "pardon",
		"come again", "one more time", "didn't catch that", "did not catch that",
	}

	yesWords = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
		"correct": true, "absolutely": true, "definitely": true, "affirmative": true,
	}
	yesPhrases = []string{"i do", "i am", "i have", "i did", "of course", "that's right", "that is right"}

	noWords = map[string]bool{
		"no": true, "nope": true, "nah": true, "never": true, "negative": true,
	}
	noPhrases = []string{"i don't", "i do not", "i'm not", "i am not", "i haven't", "i have not", "not really", "i didn't", "i did not"}

	// Leading acknowledgements stripped from open answers.
	ackPrefixes = []string{"ok,", "okay,", "got it,", "sure,", "alright,", "ok so", "okay so"}

	monthWords = []string{
		"january", "february", "march", "april", "may", "june",
		"july", "august", "september", "october", "november", "december",
	}
	relativeDateWords = []string{"today", "tomorrow", "yesterday", "last year", "last month", "last week", "next week", "next month"}

	numberWords = map[string]bool{
		"zero": true, "one": true, "two": true, "three": true, "four": true,
		"five": true, "six": true, "seven": true, "eight": true, "nine": true,
		"ten": true, "eleven": true, "twelve": true, "thirteen": true, "fourteen": true,
		"fifteen": true, "sixteen": true, "seventeen": true, "eighteen": true, "nineteen": true,
		"twenty": true, "thirty": true, "forty": true, "fifty": true, "sixty": true,
		"seventy": true, "eighty": true, "ninety": true, "hundred": true, "thousand": true,
	}
)

// RuleValidator is the deterministic rule-based fallback. It is a pure
// function of its inputs: identical inputs always yield identical results.
type RuleValidator struct{}

// NewRuleValidator creates the deterministic fallback validator.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{}
}

// Validate interprets the transcript without any AI backend.
func (v *RuleValidator) Validate(ctx context.Context, question string, qtype models.QuestionType, transcript string, choices []string) models.ValidationResult {
	cleaned := normalize(transcript)

	if cleaned != "" && isRepeatRequest(cleaned) {
		return models.ValidationResult{Valid: false, Repeat: true}
	}
	if cleaned == "" {
		return invalid(qtype)
	}

	switch qtype {
	case models.QuestionTypeYesNo:
		return validateYesNo(cleaned)
	case models.QuestionTypeChoice:
		return validateChoice(cleaned, choices)
	case models.QuestionTypeDate:
		if looksLikeDate(cleaned) {
			return models.ValidationResult{Valid: true, Normalized: strings.TrimSpace(transcript)}
		}
		return invalid(qtype)
	case models.QuestionTypeNumber:
		if looksLikeNumber(cleaned) {
			return models.ValidationResult{Valid: true, Normalized: strings.TrimSpace(transcript)}
		}
		return invalid(qtype)
	default:
		return models.ValidationResult{Valid: true, Normalized: stripAcknowledgement(strings.TrimSpace(transcript))}
	}
}

func invalid(qtype models.QuestionType) models.ValidationResult {
	return models.ValidationResult{Valid: false, Explanation: GenericExplanation(qtype)}
}

// normalize lowercases and strips punctuation other than apostrophes, which
// carry meaning in contractions like "don't".
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ',', '.', '!', '?', ';', ':':
			b.WriteRune(' ')
		case '’':
			b.WriteRune('\'')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isRepeatRequest(cleaned string) bool {
	for _, phrase := range repeatPhrases {
		if strings.Contains(cleaned, phrase) {
			return true
		}
	}
	return false
}

func validateYesNo(cleaned string) models.ValidationResult {
	tokens := strings.Fields(cleaned)
	// Negations take precedence: "yeah I don't think so" is a no.
	for _, phrase := range noPhrases {
		if strings.Contains(cleaned, phrase) {
			return models.ValidationResult{Valid: true, Normalized: models.AnswerNo}
		}
	}
	for _, tok := range tokens {
		if noWords[tok] {
			return models.ValidationResult{Valid: true, Normalized: models.AnswerNo}
		}
	}
	for _, phrase := range yesPhrases {
		if strings.Contains(cleaned, phrase) {
			return models.ValidationResult{Valid: true, Normalized: models.AnswerYes}
		}
	}
	for _, tok := range tokens {
		if yesWords[tok] {
			return models.ValidationResult{Valid: true, Normalized: models.AnswerYes}
		}
	}
	return invalid(models.QuestionTypeYesNo)
}

func validateChoice(cleaned string, choices []string) models.ValidationResult {
	for _, choice := range choices {
		if strings.Contains(cleaned, strings.ToLower(choice)) {
			return models.ValidationResult{Valid: true, Normalized: choice}
		}
	}
	return invalid(models.QuestionTypeChoice)
}

func looksLikeDate(cleaned string) bool {
	if strings.ContainsAny(cleaned, "0123456789") {
		return true
	}
	for _, w := range monthWords {
		if strings.Contains(cleaned, w) {
			return true
		}
	}
	for _, w := range relativeDateWords {
		if strings.Contains(cleaned, w) {
			return true
		}
	}
	return false
}

func looksLikeNumber(cleaned string) bool {
	if strings.ContainsAny(cleaned, "0123456789") {
		return true
	}
	for _, tok := range strings.Fields(cleaned) {
		if numberWords[tok] {
			return true
		}
	}
	return false
}

// stripAcknowledgement removes a leading acknowledgement phrase from an
// open answer so "ok, it was last Tuesday" records as "it was last Tuesday".
func stripAcknowledgement(s string) string {
	lower := strings.ToLower(s)
	for _, prefix := range ackPrefixes {
		if strings.HasPrefix(lower, prefix) {
			rest := strings.TrimSpace(s[len(prefix):])
			if rest != "" {
				return rest
			}
		}
	}
	return s
}
