// Package index defines the per-character vector index contract used for
// approximate semantic retrieval.
//
// Entries are strictly derived from memory records: created, updated and
// removed in lockstep with the repository (best effort; a failed vector
// write leaves the previous entry in place). The whole index for a
// character can be discarded and rebuilt from the repository's stored
// embeddings, so nothing here is a source of truth.
package index

import "context"

// Hit is one search result: a memory ID and its cosine similarity to the
// query, in [-1, 1] (practically [0, 1] for normalized embeddings).
type Hit struct {
	MemoryID string
	Score    float32
}

// Index is a per-character collection of memory embeddings supporting
// top-k cosine search. Implementations must serialize mutating calls per
// character; searches may run concurrently with each other.
type Index interface {
	// Add inserts a vector for a memory. Metadata is stored verbatim and
	// returned with search hits by backends that support it.
	Add(ctx context.Context, characterID, memoryID string, vec []float32, metadata map[string]string) error

	// Update replaces a memory's vector, keeping prior metadata when the
	// backend can. Updating an absent ID behaves like Add.
	Update(ctx context.Context, characterID, memoryID string, vec []float32) error

	Remove(ctx context.Context, characterID, memoryID string) error
	Has(ctx context.Context, characterID, memoryID string) bool

	// Search returns up to k hits ranked by descending similarity.
	Search(ctx context.Context, characterID string, query []float32, k int) ([]Hit, error)

	// Count reports how many vectors the character's collection holds.
	Count(ctx context.Context, characterID string) int

	// Drop discards a character's whole collection. Used by rebuild.
	Drop(ctx context.Context, characterID string) error
}
