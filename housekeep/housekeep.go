// Package housekeep is the retention scheduler: a batch pass over one
// character's memories that deletes low-value stale entries, optionally
// merges near-duplicates, and enforces a hard count cap.
//
// Every pass is conservative by construction. A memory that is manual,
// important, or recently surfaced is protected and untouchable under
// any policy; anything ambiguous is kept. There is no invalid state to
// reject, only more or less aggressive pruning.
package housekeep

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/evermind-ai/recall/dedupe"
	"github.com/evermind-ai/recall/index"
	"github.com/evermind-ai/recall/memory"
)

// hoursPerMonth approximates a month as 30.44 days for age arithmetic.
const hoursPerMonth = 30.44 * 24

// mergeProbeK is how many neighbors the merge pass asks for per memory.
const mergeProbeK = 5

// Policy parameterizes one housekeeping run. The zero value is not
// usable; start from DefaultPolicy.
type Policy struct {
	// MaxMemories is the hard per-character cap enforced by pass 3.
	MaxMemories int

	// MaxAgeMonths is the minimum age before pass 1 considers deletion.
	MaxAgeMonths int

	// MaxInactiveMonths is the minimum time since last access before
	// pass 1 considers an accessed memory stale.
	MaxInactiveMonths int

	// MinImportance is the bar below which pass 1 considers deletion.
	MinImportance float64

	// MergeSimilar enables pass 2.
	MergeSimilar bool

	// MergeThreshold is the similarity bar for pass 2. Deliberately
	// stricter than the creation-time duplicate threshold so related
	// but distinct facts are not merged away.
	MergeThreshold float32

	// DryRun computes the full plan without mutating anything.
	DryRun bool
}

// DefaultPolicy returns the standard retention policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemories:       1000,
		MaxAgeMonths:      6,
		MaxInactiveMonths: 6,
		MinImportance:     0.3,
		MergeSimilar:      false,
		MergeThreshold:    0.9,
	}
}

// Deletion is one planned or executed removal, with its reason for the
// audit trail.
type Deletion struct {
	MemoryID string
	Summary  string
	Reason   string
}

// Merge records a pass-2 consolidation: the loser is deleted, the
// winner absorbs its claim to the fact.
type Merge struct {
	LoserID  string
	WinnerID string
	Score    float32
}

// Result is the auditable outcome of one run.
type Result struct {
	CharacterID string
	Examined    int
	Deletions   []Deletion
	Merges      []Merge

	// Deleted is how many repository rows were actually removed; zero
	// on a dry run.
	Deleted int
	DryRun  bool
}

// Runner executes housekeeping, serialized per character. Concurrent
// runs on the same character would double-count deletions, so each
// character gets its own lock; different characters proceed in
// parallel.
type Runner struct {
	repo     memory.Repository
	idx      index.Index
	detector *dedupe.Detector
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a runner. The detector is only consulted when a policy
// enables merging; it may be nil otherwise.
func New(repo memory.Repository, idx index.Index, detector *dedupe.Detector) *Runner {
	return &Runner{
		repo:     repo,
		idx:      idx,
		detector: detector,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *Runner) characterLock(characterID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[characterID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[characterID] = l
	}
	return l
}

// Run executes the three passes and, unless the policy is a dry run,
// applies the plan. It returns an error only when the memory set cannot
// be read at all; per-item failures during merge probing leave that
// item unmerged.
func (r *Runner) Run(ctx context.Context, characterID string, policy Policy) (*Result, error) {
	lock := r.characterLock(characterID)
	lock.Lock()
	defer lock.Unlock()

	memories, err := r.repo.FindByCharacter(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("housekeep %s: load memories: %w", characterID, err)
	}

	res := &Result{CharacterID: characterID, Examined: len(memories), DryRun: policy.DryRun}
	now := r.now()
	marked := make(map[string]bool)

	r.passPolicy(memories, policy, now, marked, res)
	if policy.MergeSimilar {
		r.passMerge(ctx, characterID, memories, policy, now, marked, res)
	}
	r.passCap(memories, policy, now, marked, res)

	if policy.DryRun || len(res.Deletions) == 0 {
		log.Printf("[HOUSEKEEP] %s: examined %d, planned %d deletions (dry-run=%v)",
			characterID, res.Examined, len(res.Deletions), policy.DryRun)
		return res, nil
	}

	r.apply(ctx, characterID, res)
	log.Printf("[HOUSEKEEP] %s: examined %d, deleted %d (%d merges)",
		characterID, res.Examined, res.Deleted, len(res.Merges))
	return res, nil
}

// Preview runs the identical three passes without mutating anything.
func (r *Runner) Preview(ctx context.Context, characterID string, policy Policy) (*Result, error) {
	policy.DryRun = true
	return r.Run(ctx, characterID, policy)
}

// NeedsHousekeeping cheaply decides whether a run is worth invoking:
// true when the character's count reaches 80% of the cap, or when a
// dry-run preview finds anything to delete.
func (r *Runner) NeedsHousekeeping(ctx context.Context, characterID string, policy Policy) (bool, error) {
	count, err := r.repo.CountByCharacter(ctx, characterID)
	if err != nil {
		return false, fmt.Errorf("housekeep %s: count memories: %w", characterID, err)
	}
	if policy.MaxMemories > 0 && count*10 >= policy.MaxMemories*8 {
		return true, nil
	}

	preview, err := r.Preview(ctx, characterID, policy)
	if err != nil {
		return false, err
	}
	return len(preview.Deletions) > 0, nil
}

// passPolicy marks unprotected memories that are unimportant, old, and
// unused.
func (r *Runner) passPolicy(memories []*memory.Memory, policy Policy, now time.Time, marked map[string]bool, res *Result) {
	for _, m := range memories {
		if m.Protected(now) {
			continue
		}
		if m.Importance >= policy.MinImportance {
			continue
		}
		age := monthsSince(m.CreatedAt, now)
		if age < float64(policy.MaxAgeMonths) {
			continue
		}

		var reason string
		switch {
		case m.LastAccessedAt == nil:
			reason = fmt.Sprintf("importance %.2f below %.2f, %.0f months old, never accessed",
				m.Importance, policy.MinImportance, age)
		case monthsSince(*m.LastAccessedAt, now) >= float64(policy.MaxInactiveMonths):
			reason = fmt.Sprintf("importance %.2f below %.2f, %.0f months old, inactive %.0f months",
				m.Importance, policy.MinImportance, age, monthsSince(*m.LastAccessedAt, now))
		default:
			continue
		}

		marked[m.ID] = true
		res.Deletions = append(res.Deletions, Deletion{MemoryID: m.ID, Summary: m.Summary, Reason: reason})
	}
}

// passMerge consolidates near-duplicate survivors. The higher-importance
// memory of a pair wins (tie: newer); the loser is marked for deletion.
// A memory already marked, or already lost to a merge, is never probed
// or merged again.
func (r *Runner) passMerge(ctx context.Context, characterID string, memories []*memory.Memory, policy Policy, now time.Time, marked map[string]bool, res *Result) {
	if r.detector == nil {
		log.Printf("[HOUSEKEEP] %s: merge requested but no detector configured, skipping pass", characterID)
		return
	}

	byID := make(map[string]*memory.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	for _, m := range memories {
		if marked[m.ID] {
			continue
		}

		hits, err := r.detector.FindSimilar(ctx, characterID, m.EmbeddingText(), mergeProbeK, policy.MergeThreshold)
		if err != nil {
			log.Printf("[HOUSEKEEP] %s: similarity probe for %s failed, leaving unmerged: %v", characterID, m.ID, err)
			continue
		}

		for _, h := range hits {
			if h.MemoryID == m.ID || marked[h.MemoryID] {
				continue
			}
			other, ok := byID[h.MemoryID]
			if !ok {
				continue
			}

			winner, loser := pickWinner(m, other)
			if loser.Protected(now) {
				continue
			}

			marked[loser.ID] = true
			res.Merges = append(res.Merges, Merge{LoserID: loser.ID, WinnerID: winner.ID, Score: h.Score})
			res.Deletions = append(res.Deletions, Deletion{
				MemoryID: loser.ID,
				Summary:  loser.Summary,
				Reason:   fmt.Sprintf("merged into %s (similarity %.2f)", winner.ID, h.Score),
			})
			if loser.ID == m.ID {
				break // m lost; stop probing on its behalf
			}
		}
	}
}

// passCap evicts the lowest-scoring unprotected survivors until the
// count fits the cap.
func (r *Runner) passCap(memories []*memory.Memory, policy Policy, now time.Time, marked map[string]bool, res *Result) {
	if policy.MaxMemories <= 0 {
		return
	}

	surviving := 0
	var evictable []*memory.Memory
	for _, m := range memories {
		if marked[m.ID] {
			continue
		}
		surviving++
		if !m.Protected(now) {
			evictable = append(evictable, m)
		}
	}

	excess := surviving - policy.MaxMemories
	if excess <= 0 {
		return
	}

	sort.Slice(evictable, func(i, j int) bool {
		return retentionScore(evictable[i], now) < retentionScore(evictable[j], now)
	})
	if excess > len(evictable) {
		excess = len(evictable)
	}

	for _, m := range evictable[:excess] {
		marked[m.ID] = true
		res.Deletions = append(res.Deletions, Deletion{
			MemoryID: m.ID,
			Summary:  m.Summary,
			Reason:   fmt.Sprintf("over cap of %d (retention score %.2f)", policy.MaxMemories, retentionScore(m, now)),
		})
	}
}

// apply deletes the marked rows in one batch, then drops each from the
// vector index. Index removals are best-effort; a stale entry surfaces
// as an orphan that search skips and a rebuild clears.
func (r *Runner) apply(ctx context.Context, characterID string, res *Result) {
	ids := make([]string, len(res.Deletions))
	for i, d := range res.Deletions {
		ids[i] = d.MemoryID
	}

	deleted, err := r.repo.BulkDelete(ctx, characterID, ids)
	if err != nil {
		log.Printf("[HOUSEKEEP] %s: bulk delete failed: %v", characterID, err)
		return
	}
	res.Deleted = deleted

	for _, id := range ids {
		if err := r.idx.Remove(ctx, characterID, id); err != nil {
			log.Printf("[HOUSEKEEP] %s: index removal of %s failed: %v", characterID, id, err)
		}
	}
}

// pickWinner keeps the higher-importance memory of a merge pair,
// breaking ties toward the newer one.
func pickWinner(a, b *memory.Memory) (winner, loser *memory.Memory) {
	if a.Importance != b.Importance {
		if a.Importance > b.Importance {
			return a, b
		}
		return b, a
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return a, b
	}
	return b, a
}

// retentionScore weighs how much a memory deserves to survive the cap:
// importance first, then recency of creation and of access.
func retentionScore(m *memory.Memory, now time.Time) float64 {
	recency := 1 - monthsSince(m.CreatedAt, now)/12
	if recency < 0.1 {
		recency = 0.1
	}

	access := 0.5
	if m.LastAccessedAt != nil {
		days := now.Sub(*m.LastAccessedAt).Hours() / 24
		access = 1 - days/90
		if access < 0.1 {
			access = 0.1
		}
	}

	return m.Importance*0.5 + recency*0.25 + access*0.25
}

func monthsSince(t, now time.Time) float64 {
	return now.Sub(t).Hours() / hoursPerMonth
}
