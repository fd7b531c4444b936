// Package dedupe decides whether a candidate memory is already known.
//
// The primary path embeds the candidate and asks the vector index for
// its nearest neighbor. When embedding or search fails, a lexical
// fallback compares keywords and content prefixes instead; it trades
// recall for being dependency-free, which is the right trade for a path
// that only runs while the embedding provider is down.
package dedupe

import (
	"context"
	"log"
	"strings"

	"github.com/evermind-ai/recall/index"
	"github.com/evermind-ai/recall/memory"
	"github.com/evermind-ai/recall/provider"
)

const (
	// DefaultThreshold is the creation-time similarity bar. Note it sits
	// below housekeeping's merge threshold (0.9): a candidate can clear
	// this bar as "new" and later become mergeable as embeddings drift
	// with model updates. Accepted behavior, not a bug.
	DefaultThreshold = 0.85

	// keywordOverlapRatio is the fraction of candidate keywords that
	// must appear in an existing memory's content for the lexical
	// fallback to call it a duplicate.
	keywordOverlapRatio = 0.7

	// prefixLength is how much leading content is compared as a cheap
	// proxy for "the same sentence reworded".
	prefixLength = 50
)

// Match describes the existing memory a candidate collided with.
type Match struct {
	MemoryID string
	// Score is the cosine similarity for embedding matches, 0 for
	// lexical ones.
	Score float32
}

// Detector checks candidates against a character's existing memories.
type Detector struct {
	idx       index.Index
	repo      memory.Repository
	embedder  provider.Embedder
	threshold float32
}

// New creates a detector with the default creation threshold.
func New(idx index.Index, repo memory.Repository, embedder provider.Embedder) *Detector {
	return NewWithThreshold(idx, repo, embedder, DefaultThreshold)
}

// NewWithThreshold creates a detector with a custom similarity bar.
func NewWithThreshold(idx index.Index, repo memory.Repository, embedder provider.Embedder, threshold float32) *Detector {
	return &Detector{idx: idx, repo: repo, embedder: embedder, threshold: threshold}
}

// IsDuplicate reports whether the candidate matches an existing memory
// of the character. It never returns an error: an unusable embedding
// path degrades to the lexical fallback, and a fallback failure counts
// as "not a duplicate" so extraction keeps its never-blocks contract.
func (d *Detector) IsDuplicate(ctx context.Context, characterID string, c *memory.Candidate) (bool, *Match) {
	text := memory.EmbeddingText(c.Summary, c.Content)

	hits, err := d.nearest(ctx, characterID, text, 1)
	if err == nil {
		if len(hits) > 0 && hits[0].Score >= d.threshold {
			return true, &Match{MemoryID: hits[0].MemoryID, Score: hits[0].Score}
		}
		return false, nil
	}

	log.Printf("[DEDUPE] Embedding path unavailable for %s, using lexical fallback: %v", characterID, err)
	return d.lexicalDuplicate(ctx, characterID, c)
}

// FindSimilar exposes the embedding path at an arbitrary threshold.
// Housekeeping's merge pass uses it with a stricter bar than creation.
func (d *Detector) FindSimilar(ctx context.Context, characterID, text string, k int, minScore float32) ([]index.Hit, error) {
	hits, err := d.nearest(ctx, characterID, text, k)
	if err != nil {
		return nil, err
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			out = append(out, h)
		}
	}
	return out, nil
}

func (d *Detector) nearest(ctx context.Context, characterID, text string, k int) ([]index.Hit, error) {
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return d.idx.Search(ctx, characterID, vec, k)
}

func (d *Detector) lexicalDuplicate(ctx context.Context, characterID string, c *memory.Candidate) (bool, *Match) {
	if len(c.Keywords) == 0 {
		return false, nil
	}

	existing, err := d.repo.FindByKeywords(ctx, characterID, c.Keywords)
	if err != nil {
		log.Printf("[DEDUPE] Keyword lookup failed for %s: %v", characterID, err)
		return false, nil
	}

	candPrefix := contentPrefix(c.Content)
	for _, m := range existing {
		if keywordContainment(c.Keywords, m.Content) >= keywordOverlapRatio {
			return true, &Match{MemoryID: m.ID}
		}
		memPrefix := contentPrefix(m.Content)
		if candPrefix != "" && memPrefix != "" {
			if strings.Contains(strings.ToLower(m.Content), candPrefix) ||
				strings.Contains(strings.ToLower(c.Content), memPrefix) {
				return true, &Match{MemoryID: m.ID}
			}
		}
	}
	return false, nil
}

// keywordContainment returns the fraction of keywords appearing in the
// content, case-insensitively.
func keywordContainment(keywords []string, content string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	found := 0
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			found++
		}
	}
	return float64(found) / float64(len(keywords))
}

func contentPrefix(content string) string {
	content = strings.ToLower(strings.TrimSpace(content))
	if len(content) > prefixLength {
		return content[:prefixLength]
	}
	return content
}
