// Package search retrieves a character's memories for a query.
//
// The primary path embeds the query and ranks by cosine similarity over
// the vector index. When the embedding provider or index is unusable the
// service degrades to a lexical ranking over summaries, content and
// keywords; coarser, but a character that temporarily forgets nuance
// beats one that forgets everything.
package search

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/evermind-ai/recall/index"
	"github.com/evermind-ai/recall/memory"
	"github.com/evermind-ai/recall/provider"
)

// DefaultLimit is the result cap when the caller does not set one.
const DefaultLimit = 20

// Lexical ranking weights. A summary hit outranks a content hit, and
// keyword coverage tops the score up.
const (
	summaryWeight = 0.5
	contentWeight = 0.3
	keywordWeight = 0.2
)

// Options filters and sizes a search.
type Options struct {
	// Limit caps the result count; 0 means DefaultLimit.
	Limit int

	// MinScore drops results below a similarity bar. Applied on both
	// the embedding and the lexical path.
	MinScore float32

	// MinImportance drops results below an importance bar.
	MinImportance float64

	// Source, when non-empty, restricts results to one origin.
	Source memory.Source
}

// Result is one ranked memory.
type Result struct {
	Memory *memory.Memory
	Score  float32
}

// Results is a ranked search outcome.
type Results struct {
	Hits []Result

	// UsedEmbedding reports which path produced the ranking. False
	// means the lexical fallback ran.
	UsedEmbedding bool
}

// Service searches a character's memories.
type Service struct {
	repo     memory.Repository
	idx      index.Index
	embedder provider.Embedder
	now      func() time.Time
}

// New creates a search service.
func New(repo memory.Repository, idx index.Index, embedder provider.Embedder) *Service {
	return &Service{repo: repo, idx: idx, embedder: embedder, now: time.Now}
}

// Search ranks the character's memories against the query. The lexical
// fallback runs when embedding fails or when the vector path comes back
// empty; an embedding-side failure alone never surfaces as an error (the
// Results report which path ran). Returned memories have their access
// time refreshed.
func (s *Service) Search(ctx context.Context, characterID, query string, opts Options) (*Results, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	hits, err := s.semantic(ctx, characterID, query, opts)
	if err == nil && len(hits) > 0 {
		s.touchAll(ctx, characterID, hits)
		return &Results{Hits: hits, UsedEmbedding: true}, nil
	}
	if err != nil {
		log.Printf("[SEARCH] Embedding path unavailable for %s, using lexical fallback: %v", characterID, err)
	}

	lexHits, lexErr := s.lexical(ctx, characterID, query, opts)
	if lexErr != nil {
		if err == nil {
			// The embedding path worked and found nothing; an empty
			// answer beats surfacing the fallback's failure.
			return &Results{UsedEmbedding: true}, nil
		}
		return nil, lexErr
	}
	s.touchAll(ctx, characterID, lexHits)
	return &Results{Hits: lexHits, UsedEmbedding: false}, nil
}

// semantic runs the vector path. It over-fetches twice the limit so that
// post-filtering on importance and source still fills the page.
func (s *Service) semantic(ctx context.Context, characterID, query string, opts Options) ([]Result, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	raw, err := s.idx.Search(ctx, characterID, vec, opts.Limit*2)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(raw))
	for _, h := range raw {
		if h.Score < opts.MinScore {
			continue
		}
		m, err := s.repo.FindForCharacter(ctx, characterID, h.MemoryID)
		if err != nil {
			// An index entry with no backing row is an orphan left by a
			// crashed delete; skip it, housekeeping rebuilds the index.
			log.Printf("[SEARCH] Index entry %s has no stored memory, skipping: %v", h.MemoryID, err)
			continue
		}
		if !s.passes(m, opts) {
			continue
		}
		results = append(results, Result{Memory: m, Score: h.Score})
		if len(results) == opts.Limit {
			break
		}
	}
	return results, nil
}

// lexical ranks candidates found by content and keyword lookups.
func (s *Service) lexical(ctx context.Context, characterID, query string, opts Options) ([]Result, error) {
	terms := queryTerms(query)

	candidates := make(map[string]*memory.Memory)
	byContent, err := s.repo.SearchByContent(ctx, characterID, query)
	if err != nil {
		return nil, err
	}
	for _, m := range byContent {
		candidates[m.ID] = m
	}
	if len(terms) > 0 {
		byKeyword, err := s.repo.FindByKeywords(ctx, characterID, terms)
		if err != nil {
			return nil, err
		}
		for _, m := range byKeyword {
			if _, ok := candidates[m.ID]; !ok {
				candidates[m.ID] = m
			}
		}
	}

	results := make([]Result, 0, len(candidates))
	for _, m := range candidates {
		score := lexicalScore(query, terms, m)
		if score < opts.MinScore || !s.passes(m, opts) {
			continue
		}
		results = append(results, Result{Memory: m, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *Service) passes(m *memory.Memory, opts Options) bool {
	if m.Importance < opts.MinImportance {
		return false
	}
	if opts.Source != "" && m.Source != opts.Source {
		return false
	}
	return true
}

// touchAll refreshes access times so housekeeping sees these memories as
// recently used. Strictly best-effort.
func (s *Service) touchAll(ctx context.Context, characterID string, hits []Result) {
	now := s.now()
	for _, h := range hits {
		h.Memory.Touch(now)
		if err := s.repo.UpdateForCharacter(ctx, characterID, h.Memory); err != nil {
			log.Printf("[SEARCH] Touch %s failed: %v", h.Memory.ID, err)
		}
	}
}

// lexicalScore weighs a whole-query summary hit highest, a content hit
// next, and adds the fraction of query terms matching the memory's
// keywords. Capped at 1.0 to stay comparable with cosine scores.
func lexicalScore(query string, terms []string, m *memory.Memory) float32 {
	q := strings.ToLower(strings.TrimSpace(query))
	var score float64

	if q != "" && strings.Contains(strings.ToLower(m.Summary), q) {
		score += summaryWeight
	}
	if q != "" && strings.Contains(strings.ToLower(m.Content), q) {
		score += contentWeight
	}
	if len(terms) > 0 {
		kws := make(map[string]bool, len(m.Keywords))
		for _, k := range m.Keywords {
			kws[strings.ToLower(k)] = true
		}
		matched := 0
		for _, term := range terms {
			if kws[term] {
				matched++
			}
		}
		score += keywordWeight * float64(matched) / float64(len(terms))
	}

	if score > 1 {
		score = 1
	}
	return float32(score)
}

// queryTerms lowercases and splits the query on whitespace.
func queryTerms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}
