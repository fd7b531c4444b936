package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repository lookups for an unknown memory ID.
var ErrNotFound = errors.New("memory not found")

// Repository is the durable store for Memory records. Every operation is
// scoped by characterID; memories never span characters.
//
// Implementations: memory/repo/sqlite (durable), memory/memorytest
// (in-memory, for tests).
type Repository interface {
	Create(ctx context.Context, m *Memory) error

	// FindByCharacter returns every memory owned by the character.
	FindByCharacter(ctx context.Context, characterID string) ([]*Memory, error)

	// FindForCharacter returns one memory, or ErrNotFound. The character
	// scope is part of the key: a valid ID owned by another character is
	// still ErrNotFound.
	FindForCharacter(ctx context.Context, characterID, id string) (*Memory, error)

	UpdateForCharacter(ctx context.Context, characterID string, m *Memory) error
	DeleteForCharacter(ctx context.Context, characterID, id string) error

	// BulkDelete removes the given IDs in one batch and reports how many
	// rows were actually deleted.
	BulkDelete(ctx context.Context, characterID string, ids []string) (int, error)

	CountByCharacter(ctx context.Context, characterID string) (int, error)

	// FindByKeywords returns memories sharing at least one keyword with
	// the given set, case-insensitively.
	FindByKeywords(ctx context.Context, characterID string, keywords []string) ([]*Memory, error)

	// SearchByContent returns memories whose content or summary contains
	// the query substring, case-insensitively.
	SearchByContent(ctx context.Context, characterID, query string) ([]*Memory, error)
}
