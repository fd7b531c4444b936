// Package chromem implements index.Index on chromem-go, a pure Go
// embedded vector database.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/evermind-ai/recall/index"
	"github.com/evermind-ai/recall/memory"
	"github.com/evermind-ai/recall/provider"
)

// Store maps each character to its own chromem collection for namespace
// isolation. All vectors are provided by the caller; chromem's own
// embedding hooks are unused.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates an in-memory store. Contents are lost on process exit;
// use NewPersistent for a durable index.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// NewPersistent creates a store backed by a directory on disk. Writes
// are persisted as they happen; reopening the same path restores every
// character's collection.
func NewPersistent(path string) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent index: %w", err)
	}
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func collectionName(characterID string) string {
	return "character_" + characterID
}

func (s *Store) collection(characterID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[characterID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, ok := s.collections[characterID]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(collectionName(characterID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}
	s.collections[characterID] = col
	return col, nil
}

func (s *Store) Add(ctx context.Context, characterID, memoryID string, vec []float32, metadata map[string]string) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector for memory %s", memoryID)
	}
	col, err := s.collection(characterID)
	if err != nil {
		return err
	}

	content := memoryID
	if metadata != nil && metadata["summary"] != "" {
		content = metadata["summary"]
	}

	doc := chromem.Document{
		ID:        memoryID,
		Content:   content,
		Embedding: vec,
		Metadata:  metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, characterID, memoryID string, vec []float32) error {
	// Reject an unusable vector before touching the existing entry; a
	// failed update must leave the previous vector in place.
	if len(vec) == 0 {
		return fmt.Errorf("empty vector for memory %s", memoryID)
	}
	col, err := s.collection(characterID)
	if err != nil {
		return err
	}

	// Carry existing metadata across the replace when the entry exists.
	var metadata map[string]string
	old, getErr := col.GetByID(ctx, memoryID)
	if getErr == nil {
		metadata = old.Metadata
		if err := col.Delete(ctx, nil, nil, memoryID); err != nil {
			return fmt.Errorf("delete before update: %w", err)
		}
	}

	if err := s.Add(ctx, characterID, memoryID, vec, metadata); err != nil {
		if getErr == nil {
			if rerr := col.AddDocument(ctx, old); rerr != nil {
				log.Printf("[CHROMEM] Restore %s after failed update: %v", memoryID, rerr)
			}
		}
		return err
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, characterID, memoryID string) error {
	col, err := s.collection(characterID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, memoryID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *Store) Has(ctx context.Context, characterID, memoryID string) bool {
	col, err := s.collection(characterID)
	if err != nil {
		return false
	}
	_, err = col.GetByID(ctx, memoryID)
	return err == nil
}

func (s *Store) Search(ctx context.Context, characterID string, query []float32, k int) ([]index.Hit, error) {
	col, err := s.collection(characterID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults > collection size.
	if n := col.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	hits := make([]index.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, index.Hit{MemoryID: r.ID, Score: r.Similarity})
	}
	return hits, nil
}

func (s *Store) Count(ctx context.Context, characterID string) int {
	col, err := s.collection(characterID)
	if err != nil {
		return 0
	}
	return col.Count()
}

func (s *Store) Drop(ctx context.Context, characterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(collectionName(characterID)); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	delete(s.collections, characterID)
	return nil
}

// Rebuild discards a character's collection and reconstructs it from the
// repository. Records with a stored embedding are re-inserted as-is;
// records without one are re-embedded when an embedder is supplied, and
// skipped otherwise. This is the recovery path for index corruption.
func (s *Store) Rebuild(ctx context.Context, characterID string, repo memory.Repository, embedder provider.Embedder) error {
	memories, err := repo.FindByCharacter(ctx, characterID)
	if err != nil {
		return fmt.Errorf("load memories for rebuild: %w", err)
	}

	if err := s.Drop(ctx, characterID); err != nil {
		// A missing collection is fine on first build.
		log.Printf("[CHROMEM] Drop during rebuild for %s: %v", characterID, err)
	}

	restored, embedded, skipped := 0, 0, 0
	for _, m := range memories {
		vec := m.Embedding
		if len(vec) == 0 {
			if embedder == nil {
				skipped++
				continue
			}
			vec, err = embedder.Embed(ctx, m.EmbeddingText())
			if err != nil {
				log.Printf("[CHROMEM] Re-embed %s failed: %v", m.ID, err)
				skipped++
				continue
			}
			embedded++
		}
		if err := s.Add(ctx, characterID, m.ID, vec, Metadata(m)); err != nil {
			return fmt.Errorf("restore %s: %w", m.ID, err)
		}
		restored++
	}

	log.Printf("[CHROMEM] Rebuilt index for %s: %d restored (%d re-embedded, %d skipped)",
		characterID, restored, embedded, skipped)
	return nil
}

// Metadata returns the lightweight per-entry metadata stored alongside a
// memory's vector.
func Metadata(m *memory.Memory) map[string]string {
	return map[string]string{
		"summary": m.Summary,
		"source":  string(m.Source),
	}
}
