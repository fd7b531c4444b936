// Package memorytest provides an in-memory Repository for tests and
// local development.
package memorytest

import (
	"context"
	"strings"
	"sync"

	"github.com/evermind-ai/recall/memory"
)

// Repo is a map-backed memory.Repository. Safe for concurrent use.
type Repo struct {
	mu sync.RWMutex
	// characterID -> memoryID -> record
	byChar map[string]map[string]*memory.Memory

	// CreateErr, when set, is returned by Create. Lets tests simulate a
	// broken store.
	CreateErr error
}

// NewRepo returns an empty in-memory repository.
func NewRepo() *Repo {
	return &Repo{byChar: make(map[string]map[string]*memory.Memory)}
}

func (r *Repo) Create(ctx context.Context, m *memory.Memory) error {
	if r.CreateErr != nil {
		return r.CreateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	chars, ok := r.byChar[m.CharacterID]
	if !ok {
		chars = make(map[string]*memory.Memory)
		r.byChar[m.CharacterID] = chars
	}
	cp := *m
	chars[m.ID] = &cp
	return nil
}

func (r *Repo) FindByCharacter(ctx context.Context, characterID string) ([]*memory.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*memory.Memory
	for _, m := range r.byChar[characterID] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Repo) FindForCharacter(ctx context.Context, characterID, id string) (*memory.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byChar[characterID][id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *Repo) UpdateForCharacter(ctx context.Context, characterID string, m *memory.Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byChar[characterID][m.ID]; !ok {
		return memory.ErrNotFound
	}
	cp := *m
	r.byChar[characterID][m.ID] = &cp
	return nil
}

func (r *Repo) DeleteForCharacter(ctx context.Context, characterID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byChar[characterID][id]; !ok {
		return memory.ErrNotFound
	}
	delete(r.byChar[characterID], id)
	return nil
}

func (r *Repo) BulkDelete(ctx context.Context, characterID string, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := r.byChar[characterID][id]; ok {
			delete(r.byChar[characterID], id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *Repo) CountByCharacter(ctx context.Context, characterID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChar[characterID]), nil
}

func (r *Repo) FindByKeywords(ctx context.Context, characterID string, keywords []string) ([]*memory.Memory, error) {
	wanted := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		wanted[strings.ToLower(k)] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*memory.Memory
	for _, m := range r.byChar[characterID] {
		for _, k := range m.Keywords {
			if wanted[strings.ToLower(k)] {
				cp := *m
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (r *Repo) SearchByContent(ctx context.Context, characterID, query string) ([]*memory.Memory, error) {
	q := strings.ToLower(query)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*memory.Memory
	for _, m := range r.byChar[characterID] {
		if strings.Contains(strings.ToLower(m.Content), q) ||
			strings.Contains(strings.ToLower(m.Summary), q) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}
