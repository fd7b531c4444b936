// Package extract turns conversational exchanges into durable memories.
//
// For every user/assistant exchange the pipeline runs two independent
// classification calls concurrently (facts about the user, facts about
// the character), parses the strict-JSON responses defensively, checks
// surviving candidates against the duplicate detector and persists the
// rest. Provider failures, malformed output and duplicate hits all
// collapse to "no memory created": this pipeline is attached to a live
// conversation and must never abort or delay it.
package extract

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/evermind-ai/recall/dedupe"
	"github.com/evermind-ai/recall/index"
	"github.com/evermind-ai/recall/memory"
	"github.com/evermind-ai/recall/provider"
	"github.com/evermind-ai/recall/transcript"
)

const (
	// defaultBatchSize is how many historical exchanges share one
	// batched classification prompt during back-fill.
	defaultBatchSize = 8

	// defaultBatchDelay throttles sequential back-fill calls to respect
	// provider rate limits. Floor of 100ms; not a correctness need.
	defaultBatchDelay = 150 * time.Millisecond
)

// Scope carries the identity context of an extraction: whose memories
// are being formed and where the exchange came from.
type Scope struct {
	CharacterID   string
	CharacterName string
	PersonaName   string

	// Provenance passed through onto created memories.
	ChatID    string
	PersonaID string
}

// Exchange is one user/assistant turn pair as the pipeline consumes it.
type Exchange struct {
	UserMessage      string
	AssistantMessage string

	// SourceMessageID references the assistant message the fact was
	// distilled from; passthrough provenance.
	SourceMessageID string
}

// FromTranscript converts a paired transcript exchange.
func FromTranscript(p transcript.Exchange) Exchange {
	return Exchange{
		UserMessage:      p.User.Content,
		AssistantMessage: p.Assistant.Content,
		SourceMessageID:  p.Assistant.ID,
	}
}

// FromTranscriptAll converts a paired history in order.
func FromTranscriptAll(pairs []transcript.Exchange) []Exchange {
	out := make([]Exchange, len(pairs))
	for i, p := range pairs {
		out[i] = FromTranscript(p)
	}
	return out
}

// Pipeline extracts memories from exchanges.
type Pipeline struct {
	classifier provider.Classifier
	embedder   provider.Embedder
	repo       memory.Repository
	idx        index.Index
	detector   *dedupe.Detector

	batchSize  int
	batchDelay time.Duration
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithDetector overrides the default duplicate detector.
func WithDetector(d *dedupe.Detector) Option {
	return func(p *Pipeline) {
		p.detector = d
	}
}

// WithBatchSize sets how many historical exchanges share one batched
// classification prompt.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithBatchDelay sets the inter-call throttle for back-fill. Values
// under 100ms are raised to the floor.
func WithBatchDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		if d < 100*time.Millisecond {
			d = 100 * time.Millisecond
		}
		p.batchDelay = d
	}
}

// New creates a pipeline. The duplicate detector defaults to the
// standard creation-time threshold over the same index and repository.
func New(classifier provider.Classifier, embedder provider.Embedder, repo memory.Repository, idx index.Index, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier: classifier,
		embedder:   embedder,
		repo:       repo,
		idx:        idx,
		batchSize:  defaultBatchSize,
		batchDelay: defaultBatchDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.detector == nil {
		p.detector = dedupe.New(idx, repo, embedder)
	}
	return p
}

// ExtractFromExchange runs both perspective classifications concurrently
// and returns whatever memories were created (zero, one or two). It
// never returns an error; every failure mode is logged and absorbed, and
// one perspective failing never rolls back the other.
func (p *Pipeline) ExtractFromExchange(ctx context.Context, scope Scope, ex Exchange) []*memory.Memory {
	perspectives := []Perspective{PerspectiveUser, PerspectiveCharacter}

	var (
		mu      sync.Mutex
		created []*memory.Memory
		wg      sync.WaitGroup
	)
	for _, persp := range perspectives {
		wg.Add(1)
		go func(persp Perspective) {
			defer wg.Done()
			if m := p.extractPerspective(ctx, scope, ex, persp); m != nil {
				mu.Lock()
				created = append(created, m)
				mu.Unlock()
			}
		}(persp)
	}
	wg.Wait()
	return created
}

// extractPerspective runs one classification call end to end.
func (p *Pipeline) extractPerspective(ctx context.Context, scope Scope, ex Exchange, persp Perspective) *memory.Memory {
	raw, err := p.classifier.Classify(ctx, perspectivePrompt(persp, scope, false), formatExchange(scope, ex))
	if err != nil {
		log.Printf("[EXTRACT] %s/%s classification failed: %v", scope.CharacterID, persp, err)
		return nil
	}

	cand, err := memory.ParseCandidate(raw)
	if err != nil {
		// The model ignored the JSON contract. Designed fallback: the
		// exchange is treated as non-significant for this perspective.
		log.Printf("[EXTRACT] %s/%s unparseable classification, skipping: %v", scope.CharacterID, persp, err)
		return nil
	}
	if !cand.Significant {
		return nil
	}

	return p.commit(ctx, scope, ex, cand, persp)
}

// commit runs the duplicate check and persists an accepted candidate.
func (p *Pipeline) commit(ctx context.Context, scope Scope, ex Exchange, cand *memory.Candidate, persp Perspective) *memory.Memory {
	if dup, match := p.detector.IsDuplicate(ctx, scope.CharacterID, cand); dup {
		log.Printf("[EXTRACT] %s/%s candidate duplicates %s, skipping", scope.CharacterID, persp, match.MemoryID)
		return nil
	}

	m := memory.New(scope.CharacterID, cand)
	m.ChatID = scope.ChatID
	m.PersonaID = scope.PersonaID
	m.SourceMessageID = ex.SourceMessageID

	if err := p.repo.Create(ctx, m); err != nil {
		log.Printf("[EXTRACT] %s/%s persist failed: %v", scope.CharacterID, persp, err)
		return nil
	}
	log.Printf("[EXTRACT] %s/%s new memory %s: %s", scope.CharacterID, persp, m.ID, m.Summary)

	p.embedAndIndex(ctx, m)
	return m
}

// embedAndIndex attaches a vector to a freshly created memory. Strictly
// best-effort: a memory without an embedding is still searchable through
// the lexical fallback, and the index can be rebuilt later.
func (p *Pipeline) embedAndIndex(ctx context.Context, m *memory.Memory) {
	vec, err := p.embedder.Embed(ctx, m.EmbeddingText())
	if err != nil {
		log.Printf("[EXTRACT] embed %s failed: %v", m.ID, err)
		return
	}

	m.Embedding = vec
	if err := p.repo.UpdateForCharacter(ctx, m.CharacterID, m); err != nil {
		log.Printf("[EXTRACT] store embedding for %s failed: %v", m.ID, err)
	}

	if err := p.idx.Add(ctx, m.CharacterID, m.ID, vec, indexMetadata(m)); err != nil {
		log.Printf("[EXTRACT] index %s failed: %v", m.ID, err)
	}
}

func indexMetadata(m *memory.Memory) map[string]string {
	return map[string]string{
		"summary": m.Summary,
		"source":  string(m.Source),
	}
}

// ExtractFromHistory back-fills memories from a chat's history. The
// exchanges are classified in chunks through a batched prompt (array
// output, exchange order), sequentially with an inter-call delay to
// respect provider rate limits. Per-element rules are identical to live
// extraction; a failed chunk skips only that chunk.
func (p *Pipeline) ExtractFromHistory(ctx context.Context, scope Scope, exchanges []Exchange) []*memory.Memory {
	var created []*memory.Memory
	first := true

	for start := 0; start < len(exchanges); start += p.batchSize {
		end := start + p.batchSize
		if end > len(exchanges) {
			end = len(exchanges)
		}
		chunk := exchanges[start:end]

		for _, persp := range []Perspective{PerspectiveUser, PerspectiveCharacter} {
			if !first {
				select {
				case <-ctx.Done():
					log.Printf("[EXTRACT] %s back-fill canceled: %v", scope.CharacterID, ctx.Err())
					return created
				case <-time.After(p.batchDelay):
				}
			}
			first = false

			created = append(created, p.extractChunk(ctx, scope, chunk, persp)...)
		}
	}

	log.Printf("[EXTRACT] %s back-fill created %d memories from %d exchanges",
		scope.CharacterID, len(created), len(exchanges))
	return created
}

func (p *Pipeline) extractChunk(ctx context.Context, scope Scope, chunk []Exchange, persp Perspective) []*memory.Memory {
	raw, err := p.classifier.Classify(ctx, perspectivePrompt(persp, scope, true), formatExchangeBatch(scope, chunk))
	if err != nil {
		log.Printf("[EXTRACT] %s/%s batch classification failed: %v", scope.CharacterID, persp, err)
		return nil
	}

	cands, err := memory.ParseCandidates(raw)
	if err != nil {
		log.Printf("[EXTRACT] %s/%s unparseable batch, skipping chunk: %v", scope.CharacterID, persp, err)
		return nil
	}
	if len(cands) != len(chunk) {
		log.Printf("[EXTRACT] %s/%s batch length mismatch: %d candidates for %d exchanges",
			scope.CharacterID, persp, len(cands), len(chunk))
	}

	var created []*memory.Memory
	for i, cand := range cands {
		if i >= len(chunk) {
			break
		}
		if cand == nil || !cand.Significant {
			continue
		}
		if m := p.commit(ctx, scope, chunk[i], cand, persp); m != nil {
			created = append(created, m)
		}
	}
	return created
}
