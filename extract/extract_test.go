package extract_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/evermind-ai/recall/embedder/mock"
	"github.com/evermind-ai/recall/extract"
	"github.com/evermind-ai/recall/index/chromem"
	"github.com/evermind-ai/recall/memory"
	"github.com/evermind-ai/recall/memory/memorytest"
)

// scriptedClassifier answers by perspective: system prompts asking about
// the human get userResponse, the rest get characterResponse.
type scriptedClassifier struct {
	userResponse      string
	characterResponse string

	userErr      error
	characterErr error

	calls int
}

func (c *scriptedClassifier) Classify(ctx context.Context, systemPrompt, text string) (string, error) {
	c.calls++
	if strings.Contains(systemPrompt, "the human") {
		return c.userResponse, c.userErr
	}
	return c.characterResponse, c.characterErr
}

const notSignificant = `{"significant": false}`

func newPipeline(t *testing.T, c *scriptedClassifier) (*extract.Pipeline, *memorytest.Repo) {
	t.Helper()
	repo := memorytest.NewRepo()
	idx, err := chromem.New()
	if err != nil {
		t.Fatalf("chromem: %v", err)
	}
	return extract.New(c, mock.New(), repo, idx), repo
}

func TestExtractFromExchange(t *testing.T) {
	classifier := &scriptedClassifier{
		userResponse: `{
			"significant": true,
			"content": "The user grew up in Lisbon and misses the ocean.",
			"summary": "User grew up in Lisbon",
			"keywords": ["lisbon", "childhood", "ocean"],
			"importance": 0.8
		}`,
		characterResponse: notSignificant,
	}
	p, repo := newPipeline(t, classifier)

	scope := extract.Scope{
		CharacterID:   "char-1",
		CharacterName: "Mira",
		PersonaName:   "Alex",
		ChatID:        "chat-9",
	}
	ex := extract.Exchange{
		UserMessage:      "I grew up in Lisbon, I really miss the ocean.",
		AssistantMessage: "That sounds lovely. Do you visit often?",
		SourceMessageID:  "msg-42",
	}

	created := p.ExtractFromExchange(context.Background(), scope, ex)
	if len(created) != 1 {
		t.Fatalf("got %d memories, want 1", len(created))
	}

	m := created[0]
	if m.Content != "The user grew up in Lisbon and misses the ocean." {
		t.Errorf("content = %q", m.Content)
	}
	if m.Summary != "User grew up in Lisbon" {
		t.Errorf("summary = %q", m.Summary)
	}
	if m.Importance != 0.8 {
		t.Errorf("importance = %v, want 0.8", m.Importance)
	}
	if m.Source != memory.SourceAuto {
		t.Errorf("source = %q, want %q", m.Source, memory.SourceAuto)
	}
	if m.CharacterID != "char-1" || m.ChatID != "chat-9" || m.SourceMessageID != "msg-42" {
		t.Errorf("provenance = %s/%s/%s", m.CharacterID, m.ChatID, m.SourceMessageID)
	}

	// The memory was persisted with its embedding attached.
	stored, err := repo.FindForCharacter(context.Background(), "char-1", m.ID)
	if err != nil {
		t.Fatalf("stored memory not found: %v", err)
	}
	if len(stored.Embedding) == 0 {
		t.Error("stored memory has no embedding")
	}
}

func TestExtractNothingSignificant(t *testing.T) {
	classifier := &scriptedClassifier{
		userResponse:      notSignificant,
		characterResponse: notSignificant,
	}
	p, repo := newPipeline(t, classifier)

	created := p.ExtractFromExchange(context.Background(), extract.Scope{CharacterID: "char-1"}, extract.Exchange{
		UserMessage:      "nice weather today",
		AssistantMessage: "it really is",
	})
	if len(created) != 0 {
		t.Fatalf("got %d memories, want 0", len(created))
	}
	if n, _ := repo.CountByCharacter(context.Background(), "char-1"); n != 0 {
		t.Errorf("repo has %d memories, want 0", n)
	}
}

func TestExtractDuplicateSkipped(t *testing.T) {
	classifier := &scriptedClassifier{
		userResponse: `{
			"significant": true,
			"content": "The user grew up in Lisbon and misses the ocean.",
			"summary": "User grew up in Lisbon",
			"keywords": ["lisbon", "childhood"],
			"importance": 0.8
		}`,
		characterResponse: notSignificant,
	}
	p, repo := newPipeline(t, classifier)

	scope := extract.Scope{CharacterID: "char-1"}
	ex := extract.Exchange{UserMessage: "I grew up in Lisbon", AssistantMessage: "Lovely"}

	if got := p.ExtractFromExchange(context.Background(), scope, ex); len(got) != 1 {
		t.Fatalf("first extraction created %d memories, want 1", len(got))
	}
	// The identical candidate embeds to the identical vector, so the
	// second pass must hit the duplicate check.
	if got := p.ExtractFromExchange(context.Background(), scope, ex); len(got) != 0 {
		t.Fatalf("second extraction created %d memories, want 0", len(got))
	}
	if n, _ := repo.CountByCharacter(context.Background(), "char-1"); n != 1 {
		t.Errorf("repo has %d memories, want 1", n)
	}
}

func TestExtractOnePerspectiveFails(t *testing.T) {
	classifier := &scriptedClassifier{
		userResponse: `{
			"significant": true,
			"content": "The user adopted a dog named Biscuit.",
			"summary": "User adopted a dog",
			"keywords": ["dog", "biscuit"],
			"importance": 0.6
		}`,
		characterErr: errors.New("provider unavailable"),
	}
	p, _ := newPipeline(t, classifier)

	created := p.ExtractFromExchange(context.Background(), extract.Scope{CharacterID: "char-1"}, extract.Exchange{
		UserMessage:      "I adopted a dog, his name is Biscuit",
		AssistantMessage: "Congratulations!",
	})
	if len(created) != 1 {
		t.Fatalf("got %d memories, want 1 from the surviving perspective", len(created))
	}
	if created[0].Summary != "User adopted a dog" {
		t.Errorf("summary = %q", created[0].Summary)
	}
}

func TestExtractMalformedResponse(t *testing.T) {
	classifier := &scriptedClassifier{
		userResponse:      "Sure! Here is my analysis of the conversation...",
		characterResponse: notSignificant,
	}
	p, _ := newPipeline(t, classifier)

	created := p.ExtractFromExchange(context.Background(), extract.Scope{CharacterID: "char-1"}, extract.Exchange{
		UserMessage:      "I grew up in Lisbon",
		AssistantMessage: "Lovely",
	})
	if len(created) != 0 {
		t.Fatalf("malformed response produced %d memories, want 0", len(created))
	}
}

func TestExtractFromHistory(t *testing.T) {
	classifier := &scriptedClassifier{
		userResponse: `[
			{"significant": false},
			{"significant": true, "content": "The user plays violin.", "summary": "User plays violin", "keywords": ["violin", "music"], "importance": 0.6}
		]`,
		characterResponse: `[{"significant": false}, {"significant": false}]`,
	}
	p, repo := newPipeline(t, classifier)

	exchanges := []extract.Exchange{
		{UserMessage: "hello", AssistantMessage: "hi", SourceMessageID: "m1"},
		{UserMessage: "I play violin", AssistantMessage: "How long?", SourceMessageID: "m2"},
	}

	created := p.ExtractFromHistory(context.Background(), extract.Scope{CharacterID: "char-1"}, exchanges)
	if len(created) != 1 {
		t.Fatalf("got %d memories, want 1", len(created))
	}
	if created[0].SourceMessageID != "m2" {
		t.Errorf("source message = %q, want m2", created[0].SourceMessageID)
	}
	if n, _ := repo.CountByCharacter(context.Background(), "char-1"); n != 1 {
		t.Errorf("repo has %d memories, want 1", n)
	}
	// One batched call per perspective, not one per exchange.
	if classifier.calls != 2 {
		t.Errorf("classifier called %d times, want 2", classifier.calls)
	}
}

func TestExtractFromHistoryCanceled(t *testing.T) {
	classifier := &scriptedClassifier{
		userResponse:      `[{"significant": false}]`,
		characterResponse: `[{"significant": false}]`,
	}
	p, _ := newPipeline(t, classifier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exchanges := make([]extract.Exchange, 20)
	for i := range exchanges {
		exchanges[i] = extract.Exchange{UserMessage: "a", AssistantMessage: "b"}
	}

	start := time.Now()
	p.ExtractFromHistory(ctx, extract.Scope{CharacterID: "char-1"}, exchanges)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("canceled back-fill still took %s", elapsed)
	}
	// Only the first call runs before the delay notices cancellation.
	if classifier.calls > 1 {
		t.Errorf("classifier called %d times after cancel, want at most 1", classifier.calls)
	}
}
