package script

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/voxform/voxform/internal/models"
)

func testQuestions() []models.QuestionDef {
	return []models.QuestionDef{
		{ID: "Q1", Section: "intro", Prompt: "Do you own a car?", Type: models.QuestionTypeYesNo, OnNo: "Q3"},
		{ID: "Q2", Section: "car", Prompt: "What make is it?", Type: models.QuestionTypeOpen,
			Requires: models.PredicateList{{ID: "Q1", Answer: "YES"}}},
		{ID: "Q3", Section: "general", Prompt: "Do you commute daily?", Type: models.QuestionTypeYesNo},
	}
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	qs := testQuestions()
	qs[2].ID = "Q1"
	qs[0].OnNo = ""
	_, err := New("dup", qs)
	if !errors.Is(err, models.ErrDuplicateQuestionID) {
		t.Errorf("expected duplicate id error, got %v", err)
	}
}

func TestNewRejectsDanglingOnNo(t *testing.T) {
	qs := testQuestions()
	qs[0].OnNo = "Q99"
	_, err := New("dangling", qs)
	if !errors.Is(err, models.ErrUnknownSkipTarget) {
		t.Errorf("expected unknown skip target error, got %v", err)
	}
}

func TestNewRejectsDanglingRequires(t *testing.T) {
	qs := testQuestions()
	qs[1].Requires = models.PredicateList{{ID: "Q99", Answer: "YES"}}
	_, err := New("dangling", qs)
	if !errors.Is(err, models.ErrUnknownPredicateID) {
		t.Errorf("expected unknown predicate id error, got %v", err)
	}
}

func TestNewAllowsEndSentinel(t *testing.T) {
	qs := testQuestions()
	qs[0].OnNo = models.SkipTargetEnd
	if _, err := New("end", qs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFindNextSkipsUnmetRequires(t *testing.T) {
	s, err := New("test", testQuestions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// No answers yet: Q2 requires Q1=YES, so scanning from 1 lands on Q3.
	if got := s.FindNext(1, nil); got != 2 {
		t.Errorf("expected index 2, got %d", got)
	}
	answers := map[string]models.AnswerRecord{"Q1": {Normalized: "YES"}}
	if got := s.FindNext(1, answers); got != 1 {
		t.Errorf("expected index 1 when requires met, got %d", got)
	}
}

func TestFindNextNeverReturnsUnmetIndex(t *testing.T) {
	s, err := New("test", testQuestions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	answerSets := []map[string]models.AnswerRecord{
		nil,
		{"Q1": {Normalized: "YES"}},
		{"Q1": {Normalized: "NO"}},
		{"Q1": {Normalized: "YES"}, "Q3": {Normalized: "NO"}},
	}
	for _, answers := range answerSets {
		for from := 0; from <= s.Len(); from++ {
			got := s.FindNext(from, answers)
			if got == None {
				continue
			}
			if !s.Question(got).Requires.Satisfied(answers) {
				t.Errorf("FindNext(%d) returned index %d with unmet requires for %v", from, got, answers)
			}
		}
	}
}

func TestFindNextExhausted(t *testing.T) {
	s, err := New("test", testQuestions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.FindNext(s.Len(), nil); got != None {
		t.Errorf("expected None past the end, got %d", got)
	}
}

func TestResolveSkipToQuestion(t *testing.T) {
	// Scenario: Q1.onNo="Q3", Q1 answered NO resolves to Q3.
	s, err := New("test", testQuestions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	answers := map[string]models.AnswerRecord{"Q1": {Normalized: "NO"}}
	if got := s.ResolveSkip("Q3", answers); got != 2 {
		t.Errorf("expected skip to resolve to index 2, got %d", got)
	}
}

func TestResolveSkipTransparentlySkipsUnmetTarget(t *testing.T) {
	qs := []models.QuestionDef{
		{ID: "Q1", Prompt: "Gate?", Type: models.QuestionTypeYesNo, OnNo: "Q2"},
		{ID: "Q2", Prompt: "Gated", Type: models.QuestionTypeOpen,
			Requires: models.PredicateList{{ID: "Q1", Answer: "YES"}}},
		{ID: "Q3", Prompt: "Always", Type: models.QuestionTypeOpen},
	}
	s, err := New("test", qs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	answers := map[string]models.AnswerRecord{"Q1": {Normalized: "NO"}}
	// Q2's requires are unmet, so the skip lands on Q3.
	if got := s.ResolveSkip("Q2", answers); got != 2 {
		t.Errorf("expected skip target with unmet requires to be skipped, got %d", got)
	}
}

func TestResolveSkipEnd(t *testing.T) {
	s, err := New("test", testQuestions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.ResolveSkip(models.SkipTargetEnd, nil); got != None {
		t.Errorf("expected END to terminate, got %d", got)
	}
}

func TestUpcomingPrompts(t *testing.T) {
	s, err := New("test", testQuestions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompts := s.UpcomingPrompts(1, 5, nil)
	if len(prompts) != 1 || prompts[0] != "Do you commute daily?" {
		t.Errorf("unexpected upcoming prompts: %v", prompts)
	}
	answers := map[string]models.AnswerRecord{"Q1": {Normalized: "YES"}}
	prompts = s.UpcomingPrompts(1, 1, answers)
	if len(prompts) != 1 || prompts[0] != "What make is it?" {
		t.Errorf("expected bounded window of one prompt, got %v", prompts)
	}
}

func TestLoadScriptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.json")
	raw := `{
		"name": "vehicle-intake",
		"questions": [
			{"id": "Q1", "prompt": "Do you own a car?", "type": "yes_no", "onNo": "END"},
			{"id": "Q2", "prompt": "What make is it?", "type": "open",
			 "requires": {"id": "Q1", "answer": "YES"}}
		]
	}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name() != "vehicle-intake" || s.Len() != 2 {
		t.Errorf("script not loaded correctly: name=%s len=%d", s.Name(), s.Len())
	}
	if len(s.Question(1).Requires) != 1 {
		t.Errorf("single-object requires not normalized: %+v", s.Question(1).Requires)
	}
}

func TestLoadRejectsIntegrityViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	raw := `{"questions": [{"id": "Q1", "prompt": "p", "type": "yes_no", "onNo": "NOPE"}]}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected integrity error at load time")
	}
}
