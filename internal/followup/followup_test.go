package followup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/voxform/voxform/internal/models"
)

// mockGenAIClient implements genai.ClientInterface for testing.
type mockGenAIClient struct {
	response string
	err      error
}

func (m *mockGenAIClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return m.response, m.err
}

func TestAIGeneratorAsk(t *testing.T) {
	client := &mockGenAIClient{response: `{"ask": "What breed is your dog?"}`}
	g := NewAIGenerator(client)
	got := g.GenerateFollowup(context.Background(), models.FollowupContext{LastAnswer: "I have a dog"})
	if got.Done || got.Ask != "What breed is your dog?" {
		t.Errorf("expected ask result, got %+v", got)
	}
}

func TestAIGeneratorDone(t *testing.T) {
	client := &mockGenAIClient{response: `{"done": true}`}
	g := NewAIGenerator(client)
	got := g.GenerateFollowup(context.Background(), models.FollowupContext{})
	if !got.Done {
		t.Errorf("expected done result, got %+v", got)
	}
}

func TestAIGeneratorLengthCeilingCoercedToDone(t *testing.T) {
	long := strings.Repeat("why ", 100)
	client := &mockGenAIClient{response: `{"ask": "` + long + `"}`}
	g := NewAIGenerator(client)
	got := g.GenerateFollowup(context.Background(), models.FollowupContext{})
	if !got.Done {
		t.Errorf("expected over-length ask coerced to done, got %+v", got)
	}
}

func TestAIGeneratorEmptyAskCoercedToDone(t *testing.T) {
	client := &mockGenAIClient{response: `{"ask": "   "}`}
	g := NewAIGenerator(client)
	got := g.GenerateFollowup(context.Background(), models.FollowupContext{})
	if !got.Done {
		t.Errorf("expected empty ask coerced to done, got %+v", got)
	}
}

func TestAIGeneratorMalformedOutputCoercedToDone(t *testing.T) {
	for _, raw := range []string{"Sure, here's a question!", `{"question": "hm"}`, ""} {
		client := &mockGenAIClient{response: raw}
		g := NewAIGenerator(client)
		got := g.GenerateFollowup(context.Background(), models.FollowupContext{})
		if !got.Done {
			t.Errorf("raw %q: expected done, got %+v", raw, got)
		}
	}
}

func TestAIGeneratorBackendErrorCoercedToDone(t *testing.T) {
	client := &mockGenAIClient{err: errors.New("timeout")}
	g := NewAIGenerator(client)
	got := g.GenerateFollowup(context.Background(), models.FollowupContext{})
	if !got.Done {
		t.Errorf("expected backend error coerced to done, got %+v", got)
	}
}

func TestAIOverlapCheckerAllow(t *testing.T) {
	client := &mockGenAIClient{response: `{"allow": true}`}
	c := NewAIOverlapChecker(client)
	got := c.CheckOverlap(context.Background(), "What breed?", []string{"Do you commute daily?"})
	if !got.Allow {
		t.Errorf("expected allow, got %+v", got)
	}
}

func TestAIOverlapCheckerDeny(t *testing.T) {
	client := &mockGenAIClient{response: `{"allow": false}`}
	c := NewAIOverlapChecker(client)
	got := c.CheckOverlap(context.Background(), "Do you commute?", []string{"Do you commute daily?"})
	if got.Allow {
		t.Errorf("expected deny, got %+v", got)
	}
}

func TestAIOverlapCheckerFailsSafeOnError(t *testing.T) {
	client := &mockGenAIClient{err: errors.New("network down")}
	c := NewAIOverlapChecker(client)
	got := c.CheckOverlap(context.Background(), "q", []string{"upcoming"})
	if got.Allow {
		t.Errorf("expected backend error to deny candidate, got %+v", got)
	}
}

func TestAIOverlapCheckerFailsSafeOnMalformedOutput(t *testing.T) {
	client := &mockGenAIClient{response: "looks fine to me"}
	c := NewAIOverlapChecker(client)
	got := c.CheckOverlap(context.Background(), "q", []string{"upcoming"})
	if got.Allow {
		t.Errorf("expected malformed output to deny candidate, got %+v", got)
	}
}

func TestAIOverlapCheckerNoUpcomingAllows(t *testing.T) {
	client := &mockGenAIClient{err: errors.New("should not be called")}
	c := NewAIOverlapChecker(client)
	got := c.CheckOverlap(context.Background(), "q", nil)
	if !got.Allow {
		t.Errorf("expected allow with no upcoming questions, got %+v", got)
	}
}

func TestBypassOverlapCheckerAllows(t *testing.T) {
	c := NewBypassOverlapChecker()
	got := c.CheckOverlap(context.Background(), "anything", []string{"upcoming"})
	if !got.Allow {
		t.Errorf("expected bypass checker to allow, got %+v", got)
	}
}

func TestDisabledGeneratorAlwaysDone(t *testing.T) {
	g := NewDisabledGenerator()
	got := g.GenerateFollowup(context.Background(), models.FollowupContext{LastAnswer: "anything"})
	if !got.Done {
		t.Errorf("expected done, got %+v", got)
	}
}
