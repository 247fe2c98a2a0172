// Package followup normalizes follow-up-generation backends to one fixed
// result shape and guards generated questions against overlapping upcoming
// scripted content. Follow-ups are an optional, strictly bounded enrichment:
// any ambiguity in a backend response fails toward silently skipping the
// follow-up, never toward injecting unvetted content.
package followup

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

// Generator produces at most one candidate follow-up question per call, or
// signals that no further follow-up is warranted. Implementations never
// return an error; degraded paths produce a done result.
type Generator interface {
	GenerateFollowup(ctx context.Context, fc models.FollowupContext) models.FollowupResult
}

// OverlapChecker decides whether a candidate follow-up duplicates upcoming
// scripted content. Implementations never return an error.
type OverlapChecker interface {
	CheckOverlap(ctx context.Context, candidate string, upcoming []string) models.OverlapResult
}

const generatorSystemPrompt = `You generate at most one short spoken follow-up question for a voice questionnaire.
Respond with a single JSON object and nothing else:
{"ask": "<one short follow-up question>"} to ask a follow-up, or
{"done": true} when the answer needs no follow-up.
The follow-up must dig into the user's last answer, must not repeat earlier follow-ups,
and must not ask anything covered by the upcoming scripted questions.
Keep it under 200 characters. Never add fields, commentary, or markdown.`

const overlapSystemPrompt = `You guard a voice questionnaire against duplicate content.
Given a candidate follow-up question and the upcoming scripted questions, decide whether
the candidate substantially overlaps any of them. Respond with a single JSON object and
nothing else: {"allow": true} or {"allow": false}. Never add fields, commentary, or markdown.`

// AIGenerator generates follow-up questions with an LLM backend.
type AIGenerator struct {
	client genai.ClientInterface
}

// NewAIGenerator creates an AI-backed follow-up generator.
func NewAIGenerator(client genai.ClientInterface) *AIGenerator {
	return &AIGenerator{client: client}
}

// GenerateFollowup asks the backend for one candidate question. Backend
// errors, malformed output, empty asks, and over-length asks all coerce to
// done.
func (g *AIGenerator) GenerateFollowup(ctx context.Context, fc models.FollowupContext) models.FollowupResult {
	raw, err := g.client.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(generatorSystemPrompt),
		openai.UserMessage(buildGenerationPrompt(fc)),
	})
	if err != nil {
		slog.Warn("followup.AIGenerator: backend call failed, treating as done", "error", err)
		return models.FollowupResult{Done: true}
	}
	result, ok := decodeFollowupResult(raw)
	if !ok {
		slog.Warn("followup.AIGenerator: malformed backend output, treating as done", "raw_length", len(raw))
		return models.FollowupResult{Done: true}
	}
	if result.Done {
		return models.FollowupResult{Done: true}
	}
	ask := strings.TrimSpace(result.Ask)
	if ask == "" || len(ask) > models.MaxFollowupAskLength {
		slog.Warn("followup.AIGenerator: ask violates length bounds, treating as done", "length", len(ask))
		return models.FollowupResult{Done: true}
	}
	return models.FollowupResult{Ask: ask}
}

func buildGenerationPrompt(fc models.FollowupContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Section: %s\n", fc.Section)
	fmt.Fprintf(&sb, "Scripted question just answered: %s\n", fc.QuestionText)
	fmt.Fprintf(&sb, "Answer: %s\n", fc.LastAnswer)
	if fc.Topic != "" {
		fmt.Fprintf(&sb, "Follow-up topic: %s\n", fc.Topic)
	}
	if fc.Guidance != "" {
		fmt.Fprintf(&sb, "Guidance: %s\n", fc.Guidance)
	}
	if fc.PrimaryContext != "" {
		fmt.Fprintf(&sb, "Context: %s\n", fc.PrimaryContext)
	}
	if len(fc.PriorAnswers) > 0 {
		fmt.Fprintf(&sb, "Recent prior answers: %s\n", strings.Join(fc.PriorAnswers, " | "))
	}
	if len(fc.PreviousFollowups) > 0 {
		fmt.Fprintf(&sb, "Follow-ups already asked (do not repeat): %s\n", strings.Join(fc.PreviousFollowups, " | "))
	}
	if len(fc.UpcomingQuestions) > 0 {
		fmt.Fprintf(&sb, "Upcoming scripted questions (do not duplicate): %s\n", strings.Join(fc.UpcomingQuestions, " | "))
	}
	if len(fc.RecentQAPairs) > 0 {
		sb.WriteString("Recent follow-up exchanges:\n")
		for _, qa := range fc.RecentQAPairs {
			fmt.Fprintf(&sb, "  Q: %s A: %s\n", qa.Question, qa.Answer)
		}
	}
	if len(fc.SectionAnswers) > 0 {
		sb.WriteString("Section answers so far:\n")
		for id, answer := range fc.SectionAnswers {
			fmt.Fprintf(&sb, "  %s: %s\n", id, answer)
		}
	}
	return sb.String()
}

// followupPayload mirrors the backend JSON contract.
type followupPayload struct {
	Ask  *string `json:"ask"`
	Done *bool   `json:"done"`
}

// decodeFollowupResult is the strict decode-or-default boundary for the
// follow-up contract.
func decodeFollowupResult(raw string) (models.FollowupResult, bool) {
	var payload followupPayload
	if err := json.Unmarshal([]byte(genai.StripJSONFence(raw)), &payload); err != nil {
		return models.FollowupResult{}, false
	}
	if payload.Done != nil && *payload.Done {
		return models.FollowupResult{Done: true}, true
	}
	if payload.Ask == nil {
		return models.FollowupResult{}, false
	}
	return models.FollowupResult{Ask: *payload.Ask}, true
}

// AIOverlapChecker consults an LLM backend for the overlap decision.
type AIOverlapChecker struct {
	client genai.ClientInterface
}

// NewAIOverlapChecker creates an AI-backed overlap checker.
func NewAIOverlapChecker(client genai.ClientInterface) *AIOverlapChecker {
	return &AIOverlapChecker{client: client}
}

// CheckOverlap fails safe: any backend error or malformed response denies
// the candidate, preferring a dropped follow-up over duplicate content.
func (c *AIOverlapChecker) CheckOverlap(ctx context.Context, candidate string, upcoming []string) models.OverlapResult {
	if len(upcoming) == 0 {
		return models.OverlapResult{Allow: true}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Candidate follow-up: %s\n", candidate)
	fmt.Fprintf(&sb, "Upcoming scripted questions:\n")
	for _, q := range upcoming {
		fmt.Fprintf(&sb, "  - %s\n", q)
	}
	raw, err := c.client.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(overlapSystemPrompt),
		openai.UserMessage(sb.String()),
	})
	if err != nil {
		slog.Warn("followup.AIOverlapChecker: backend call failed, denying candidate", "error", err)
		return models.OverlapResult{Allow: false}
	}
	result, ok := decodeOverlapResult(raw)
	if !ok {
		slog.Warn("followup.AIOverlapChecker: malformed backend output, denying candidate", "raw_length", len(raw))
		return models.OverlapResult{Allow: false}
	}
	return result
}

// overlapPayload mirrors the backend JSON contract.
type overlapPayload struct {
	Allow *bool `json:"allow"`
}

// decodeOverlapResult is the strict decode-or-default boundary for the
// overlap contract.
func decodeOverlapResult(raw string) (models.OverlapResult, bool) {
	var payload overlapPayload
	if err := json.Unmarshal([]byte(genai.StripJSONFence(raw)), &payload); err != nil {
		return models.OverlapResult{}, false
	}
	if payload.Allow == nil {
		return models.OverlapResult{}, false
	}
	return models.OverlapResult{Allow: *payload.Allow}, true
}

// BypassOverlapChecker allows every candidate. Used when no backend is
// configured at all: no LLM available means no enforcement capability, not
// a violation.
type BypassOverlapChecker struct{}

// NewBypassOverlapChecker creates the no-backend overlap checker.
func NewBypassOverlapChecker() *BypassOverlapChecker {
	return &BypassOverlapChecker{}
}

// CheckOverlap always allows.
func (BypassOverlapChecker) CheckOverlap(ctx context.Context, candidate string, upcoming []string) models.OverlapResult {
	return models.OverlapResult{Allow: true}
}

// DisabledGenerator never generates a follow-up. Used when follow-ups are
// not configured for a deployment.
type DisabledGenerator struct{}

// NewDisabledGenerator creates a generator that is always done.
func NewDisabledGenerator() *DisabledGenerator {
	return &DisabledGenerator{}
}

// GenerateFollowup always reports done.
func (DisabledGenerator) GenerateFollowup(ctx context.Context, fc models.FollowupContext) models.FollowupResult {
	return models.FollowupResult{Done: true}
}
