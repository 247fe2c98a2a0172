// Package script provides the ordered, immutable question script and its
// selection logic. Selection is deterministic and pure: no AI input of any
// kind participates in choosing the next question.
package script

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/voxform/voxform/internal/models"
)

// None is returned by selection operations when the scan reaches the end of
// the script.
const None = -1

// Script is an ordered, immutable list of question definitions with
// branching metadata.
type Script struct {
	name      string
	questions []models.QuestionDef
	index     map[string]int
}

// file is the on-disk JSON shape of a script.
type file struct {
	Name      string               `json:"name"`
	Questions []models.QuestionDef `json:"questions"`
}

// New builds a script from question definitions and validates its integrity.
// Integrity violations (duplicate ids, dangling onNo or requires references)
// are fatal here and must prevent a session from starting.
func New(name string, questions []models.QuestionDef) (*Script, error) {
	if len(questions) == 0 {
		return nil, models.ErrEmptyScript
	}
	index := make(map[string]int, len(questions))
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			return nil, err
		}
		if _, exists := index[q.ID]; exists {
			return nil, fmt.Errorf("%w: %s", models.ErrDuplicateQuestionID, q.ID)
		}
		index[q.ID] = i
	}
	for _, q := range questions {
		if q.OnNo != "" && q.OnNo != models.SkipTargetEnd {
			if _, ok := index[q.OnNo]; !ok {
				return nil, fmt.Errorf("%w: question %s onNo=%s", models.ErrUnknownSkipTarget, q.ID, q.OnNo)
			}
		}
		for _, p := range q.Requires {
			if _, ok := index[p.ID]; !ok {
				return nil, fmt.Errorf("%w: question %s requires %s", models.ErrUnknownPredicateID, q.ID, p.ID)
			}
		}
	}
	slog.Debug("script.New: script validated", "name", name, "questions", len(questions))
	return &Script{name: name, questions: questions, index: index}, nil
}

// Load reads and validates a script from a JSON file.
func Load(path string) (*Script, error) {
	slog.Debug("script.Load: reading script file", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("script.Load: failed to read script file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Error("script.Load: failed to parse script file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to parse script file: %w", err)
	}
	if f.Name == "" {
		f.Name = path
	}
	return New(f.Name, f.Questions)
}

// Name returns the script's display name.
func (s *Script) Name() string { return s.name }

// Len returns the number of questions in the script.
func (s *Script) Len() int { return len(s.questions) }

// Question returns the question definition at index i.
func (s *Script) Question(i int) models.QuestionDef { return s.questions[i] }

// IndexOf resolves a question id to its position, or None if unknown.
func (s *Script) IndexOf(id string) int {
	if i, ok := s.index[id]; ok {
		return i
	}
	return None
}

// FindNext scans forward from fromIndex inclusive and returns the first
// index whose requires predicates, if any, are all satisfied by the
// recorded answers. Returns None when the scan reaches the end.
func (s *Script) FindNext(fromIndex int, answers map[string]models.AnswerRecord) int {
	if fromIndex < 0 {
		fromIndex = 0
	}
	for i := fromIndex; i < len(s.questions); i++ {
		if s.questions[i].Requires.Satisfied(answers) {
			return i
		}
	}
	return None
}

// ResolveSkip resolves an onNo skip target. The sentinel END terminates the
// script. A target whose own requires are unmet is skipped transparently by
// re-applying FindNext from its position.
func (s *Script) ResolveSkip(targetID string, answers map[string]models.AnswerRecord) int {
	if targetID == models.SkipTargetEnd {
		return None
	}
	i := s.IndexOf(targetID)
	if i == None {
		// Unknown targets are rejected at load time; an unknown id here ends the script.
		slog.Error("script.ResolveSkip: unknown skip target", "target", targetID)
		return None
	}
	return s.FindNext(i, answers)
}

// UpcomingPrompts returns the prompt texts of up to limit questions starting
// at fromIndex whose requires are satisfied, used as overlap-guard context.
func (s *Script) UpcomingPrompts(fromIndex, limit int, answers map[string]models.AnswerRecord) []string {
	var prompts []string
	i := fromIndex
	for len(prompts) < limit {
		i = s.FindNext(i, answers)
		if i == None {
			break
		}
		prompts = append(prompts, s.questions[i].Prompt)
		i++
	}
	return prompts
}
