package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/evermind-ai/recall/memory"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "memories.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func testMemory(characterID, id string) *memory.Memory {
	return &memory.Memory{
		ID:          id,
		CharacterID: characterID,
		Content:     "User grew up in Lisbon and misses the ocean",
		Summary:     "User is from Lisbon",
		Keywords:    []string{"Lisbon", "ocean"},
		Importance:  0.6,
		Source:      memory.SourceAuto,
		Embedding:   []float32{0.1, 0.2, 0.3},
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		Tags:        []string{"origin"},
	}
}

func TestCreateAndFind(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	want := testMemory("char-1", "m1")
	if err := r.Create(ctx, want); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.FindForCharacter(ctx, "char-1", "m1")
	if err != nil {
		t.Fatalf("FindForCharacter: %v", err)
	}
	if got.Summary != want.Summary || got.Content != want.Content {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Keywords) != 2 || got.Keywords[1] != "ocean" {
		t.Errorf("Keywords = %v", got.Keywords)
	}
	if len(got.Embedding) != 3 || got.Embedding[2] != 0.3 {
		t.Errorf("Embedding = %v", got.Embedding)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if got.LastAccessedAt != nil {
		t.Errorf("LastAccessedAt = %v, want nil", got.LastAccessedAt)
	}
}

func TestCharacterScoping(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	if err := r.Create(ctx, testMemory("char-1", "m1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A valid ID under the wrong character is not found.
	if _, err := r.FindForCharacter(ctx, "char-2", "m1"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("cross-character lookup: err = %v, want ErrNotFound", err)
	}
	if err := r.DeleteForCharacter(ctx, "char-2", "m1"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("cross-character delete: err = %v, want ErrNotFound", err)
	}

	n, err := r.CountByCharacter(ctx, "char-1")
	if err != nil || n != 1 {
		t.Errorf("CountByCharacter(char-1) = %d, %v", n, err)
	}
	n, _ = r.CountByCharacter(ctx, "char-2")
	if n != 0 {
		t.Errorf("CountByCharacter(char-2) = %d, want 0", n)
	}
}

func TestUpdateForCharacter(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	m := testMemory("char-1", "m1")
	if err := r.Create(ctx, m); err != nil {
		t.Fatalf("Create: %v", err)
	}

	m.Touch(time.Now())
	m.Importance = 0.9
	if err := r.UpdateForCharacter(ctx, "char-1", m); err != nil {
		t.Fatalf("UpdateForCharacter: %v", err)
	}

	got, err := r.FindForCharacter(ctx, "char-1", "m1")
	if err != nil {
		t.Fatalf("FindForCharacter: %v", err)
	}
	if got.Importance != 0.9 {
		t.Errorf("Importance = %v, want 0.9", got.Importance)
	}
	if got.LastAccessedAt == nil {
		t.Error("LastAccessedAt not persisted")
	}

	if err := r.UpdateForCharacter(ctx, "char-1", testMemory("char-1", "ghost")); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("update missing: err = %v, want ErrNotFound", err)
	}
}

func TestBulkDelete(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := r.Create(ctx, testMemory("char-1", id)); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	n, err := r.BulkDelete(ctx, "char-1", []string{"m1", "m3", "missing"})
	if err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}

	left, _ := r.CountByCharacter(ctx, "char-1")
	if left != 1 {
		t.Errorf("%d rows remain, want 1", left)
	}

	if n, err = r.BulkDelete(ctx, "char-1", nil); err != nil || n != 0 {
		t.Errorf("empty BulkDelete = %d, %v", n, err)
	}
}

func TestFindByKeywords(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	if err := r.Create(ctx, testMemory("char-1", "m1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	other := testMemory("char-1", "m2")
	other.Keywords = []string{"cats"}
	if err := r.Create(ctx, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.FindByKeywords(ctx, "char-1", []string{"LISBON", "tea"})
	if err != nil {
		t.Fatalf("FindByKeywords: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("FindByKeywords = %v", got)
	}

	// "cat" must not match "cats" via a substring.
	got, err = r.FindByKeywords(ctx, "char-1", []string{"cat"})
	if err != nil {
		t.Fatalf("FindByKeywords: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("partial keyword matched: %v", got)
	}
}

func TestSearchByContent(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	if err := r.Create(ctx, testMemory("char-1", "m1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.SearchByContent(ctx, "char-1", "misses the OCEAN")
	if err != nil {
		t.Fatalf("SearchByContent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}

	got, err = r.SearchByContent(ctx, "char-1", "mountains")
	if err != nil {
		t.Fatalf("SearchByContent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("unexpected match: %v", got)
	}
}
