// Package memory defines the durable memory record, the transient
// extraction candidate, and the repository contract the retention engine
// is built around.
//
// A Memory is a single fact distilled from conversation, always scoped to
// one character. Memories are created by the extraction pipeline
// (package extract), retrieved by semantic search (package search), and
// pruned by the retention scheduler (package housekeep). The vector side
// of a memory lives in a per-character index (package index) whose
// lifecycle is strictly derived from the repository's.
//
// Collaborator contracts:
//   - Repository: durable CRUD store, characterID-scoped on every call
//   - provider.Classifier / provider.Embedder: the LLM boundary
//
// The engine owns no wire protocol; persistence formats belong to the
// backends (memory/repo/sqlite, index/chromem).
package memory
