package flow

import (
	"context"
	"log/slog"

	"github.com/voxform/voxform/internal/models"
	"github.com/voxform/voxform/internal/script"
	"github.com/voxform/voxform/internal/validate"
)

// The follow-up sub-loop runs only right after a question with followups
// config is answered validly. Its invariants: at most Followups.Max
// exchanges per parent question, an independent retry counter per
// follow-up question, and an overlap denial always ends the sub-loop
// without another generation attempt.

// beginFollowups enters the sub-loop for the just-answered parent question.
func (s *Session) beginFollowups(ctx context.Context, parent models.QuestionDef) {
	s.inFollowup = true
	s.state.FollowupCount = 0
	s.fuAsked = nil
	s.fuRetryCount = 0
	s.state.Phase = models.PhaseFollowupCheck
	slog.Debug("flow.Session: entering follow-up sub-loop", "session", s.id, "question", parent.ID, "max", parent.Followups.Max)
	s.requestNextFollowup(ctx, parent)
}

// endFollowups clears the sub-loop working state.
func (s *Session) endFollowups() {
	s.inFollowup = false
	s.pendingFollowup = ""
	s.fuRetryCount = 0
}

// requestNextFollowup generates and vets one candidate. On done, budget
// exhaustion, or overlap denial it leaves the sub-loop; otherwise it speaks
// the candidate and suspends awaiting a transcript.
func (s *Session) requestNextFollowup(ctx context.Context, parent models.QuestionDef) {
	if s.state.FollowupCount >= parent.Followups.Max {
		slog.Debug("flow.Session: follow-up budget exhausted", "session", s.id, "question", parent.ID)
		s.inFollowup = false
		return
	}

	fc := s.buildFollowupContext(parent)
	result := s.fugen.GenerateFollowup(ctx, fc)
	if s.closed.Load() {
		s.inFollowup = false
		return
	}
	if result.Done {
		slog.Debug("flow.Session: generator reported done", "session", s.id, "question", parent.ID, "count", s.state.FollowupCount)
		s.inFollowup = false
		return
	}

	overlap := s.overlap.CheckOverlap(ctx, result.Ask, fc.UpcomingQuestions)
	if s.closed.Load() {
		s.inFollowup = false
		return
	}
	if !overlap.Allow {
		// An overlapping candidate is a signal to stop follow-ups for this
		// question, not to regenerate.
		slog.Info("flow.Session: follow-up overlaps upcoming content, ending sub-loop", "session", s.id, "question", parent.ID)
		s.inFollowup = false
		return
	}

	s.pendingFollowup = result.Ask
	s.fuAsked = append(s.fuAsked, result.Ask)
	s.fuRetryCount = 0
	s.say(result.Ask, models.UtteranceFollowup)
	s.state.Phase = models.PhaseFollowupListening
	slog.Debug("flow.Session: follow-up asked", "session", s.id, "question", parent.ID, "count", s.state.FollowupCount)
}

// submitFollowupAnswer validates a transcript against the pending synthetic
// question as an open-type answer.
func (s *Session) submitFollowupAnswer(ctx context.Context, transcript string) ([]models.Utterance, error) {
	parent := s.script.Question(s.state.CurrentIndex)
	asked := s.pendingFollowup
	s.state.Phase = models.PhaseFollowupValidating

	result := s.validator.Validate(ctx, asked, models.QuestionTypeOpen, transcript, nil)
	if s.closed.Load() {
		return nil, models.ErrSessionClosed
	}

	if result.Repeat {
		s.appendUser(transcript)
		s.say(asked, models.UtteranceFollowup)
		s.state.Phase = models.PhaseFollowupListening
		return s.pendingCopy(), nil
	}

	if result.Valid {
		s.appendUser(transcript)
		s.recordFollowupExchange(parent.Section, asked, result.Normalized)
		s.state.FollowupCount++
		s.pendingFollowup = ""
		s.fuRetryCount = 0
		s.state.Phase = models.PhaseFollowupCheck
		s.requestNextFollowup(ctx, parent)
		if s.closed.Load() {
			return nil, models.ErrSessionClosed
		}
		if s.inFollowup && s.pendingFollowup != "" {
			return s.pendingCopy(), nil
		}
		s.advance()
		return s.pendingCopy(), nil
	}

	// Invalid follow-up answer: bounded by the per-follow-up retry limit,
	// independent of the main retry counter.
	s.appendUser(transcript)
	s.fuRetryCount++
	limit := parent.Followups.RetryLimit
	if limit <= 0 {
		limit = DefaultFollowupRetryLimit
	}
	if s.fuRetryCount >= limit {
		// Follow-up answers are supplementary: no sentinel is recorded.
		s.pendingFollowup = ""
		if parent.Followups.StopOnNoResponse {
			slog.Debug("flow.Session: follow-up retries exhausted, ending sub-loop", "session", s.id, "question", parent.ID)
			s.inFollowup = false
			s.advance()
			return s.pendingCopy(), nil
		}
		// The abandoned exchange still consumes one budget slot.
		s.state.FollowupCount++
		s.state.Phase = models.PhaseFollowupCheck
		s.requestNextFollowup(ctx, parent)
		if s.closed.Load() {
			return nil, models.ErrSessionClosed
		}
		if s.inFollowup && s.pendingFollowup != "" {
			return s.pendingCopy(), nil
		}
		s.advance()
		return s.pendingCopy(), nil
	}

	explanation := result.Explanation
	if explanation == "" {
		explanation = validate.GenericExplanation(models.QuestionTypeOpen)
	}
	s.say(explanation, models.UtteranceExplanation)
	s.say(asked, models.UtteranceFollowup)
	s.state.Phase = models.PhaseFollowupListening
	return s.pendingCopy(), nil
}

// recordFollowupExchange keeps a bounded per-section history of follow-up
// question/answer pairs as generation context.
func (s *Session) recordFollowupExchange(section, question, answer string) {
	pairs := append(s.sectionQA[section], models.QAPair{Question: question, Answer: answer})
	if len(pairs) > recentQAPairLimit {
		pairs = pairs[len(pairs)-recentQAPairLimit:]
	}
	s.sectionQA[section] = pairs
}

// buildFollowupContext assembles everything the generator may use for the
// parent question's follow-ups.
func (s *Session) buildFollowupContext(parent models.QuestionDef) models.FollowupContext {
	fc := models.FollowupContext{
		Section:           parent.Section,
		QuestionText:      parent.Prompt,
		LastAnswer:        s.state.Answers[parent.ID].Normalized,
		PreviousFollowups: s.fuAsked,
		RecentQAPairs:     s.sectionQA[parent.Section],
	}
	if parent.Followups != nil {
		fc.Topic = parent.Followups.Topic
		fc.Guidance = parent.Followups.Guidance
	}
	if s.nextIndex != script.None {
		fc.UpcomingQuestions = s.script.UpcomingPrompts(s.nextIndex, s.upcomingWindow, s.state.Answers)
	}

	// Recent answers in script order, bounded, excluding the parent's own.
	sectionAnswers := make(map[string]string)
	var prior []string
	for i := 0; i <= s.state.CurrentIndex && i < s.script.Len(); i++ {
		q := s.script.Question(i)
		rec, ok := s.state.Answers[q.ID]
		if !ok {
			continue
		}
		if q.Section == parent.Section {
			sectionAnswers[q.ID] = rec.Normalized
		}
		if q.ID != parent.ID {
			prior = append(prior, rec.Normalized)
		}
	}
	if len(prior) > s.priorWindow {
		prior = prior[len(prior)-s.priorWindow:]
	}
	fc.PriorAnswers = prior
	if len(sectionAnswers) > 0 {
		fc.SectionAnswers = sectionAnswers
	}
	return fc
}
