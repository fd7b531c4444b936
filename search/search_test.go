package search_test

import (
	"context"
	"errors"
	"testing"

	"github.com/evermind-ai/recall/embedder/mock"
	"github.com/evermind-ai/recall/index/chromem"
	"github.com/evermind-ai/recall/memory"
	"github.com/evermind-ai/recall/memory/memorytest"
	"github.com/evermind-ai/recall/search"
)

const characterID = "char-1"

func newIndex(t *testing.T) *chromem.Store {
	t.Helper()
	idx, err := chromem.New()
	if err != nil {
		t.Fatalf("chromem: %v", err)
	}
	return idx
}

func seed(t *testing.T, repo *memorytest.Repo, idx *chromem.Store, emb *mock.Embedder, m *memory.Memory) {
	t.Helper()
	ctx := context.Background()

	if emb != nil {
		vec, err := emb.Embed(ctx, m.EmbeddingText())
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		m.Embedding = vec
		if err := idx.Add(ctx, m.CharacterID, m.ID, vec, nil); err != nil {
			t.Fatalf("index: %v", err)
		}
	}
	if err := repo.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func mem(id, content, summary string, keywords []string, importance float64) *memory.Memory {
	m := memory.NewManual(characterID, content, summary, keywords)
	m.Source = memory.SourceAuto
	m.Importance = importance
	if id != "" {
		m.ID = id
	}
	return m
}

func TestSearchSemantic(t *testing.T) {
	repo := memorytest.NewRepo()
	idx := newIndex(t)
	emb := mock.New()
	svc := search.New(repo, idx, emb)

	lisbon := mem("m1", "The user grew up in Lisbon and misses the ocean.", "User grew up in Lisbon", []string{"lisbon"}, 0.8)
	violin := mem("m2", "The user plays violin on weekends.", "User plays violin", []string{"violin"}, 0.5)
	seed(t, repo, idx, emb, lisbon)
	seed(t, repo, idx, emb, violin)

	// Querying with a memory's own embedding text must rank it first
	// with near-perfect similarity.
	res, err := svc.Search(context.Background(), characterID, lisbon.EmbeddingText(), search.Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !res.UsedEmbedding {
		t.Error("expected the embedding path")
	}
	if len(res.Hits) == 0 || res.Hits[0].Memory.ID != "m1" {
		t.Fatalf("top hit = %+v, want m1", res.Hits)
	}
	if res.Hits[0].Score < 0.99 {
		t.Errorf("top score = %v, want ~1", res.Hits[0].Score)
	}

	// The returned memory's access time was refreshed in the store.
	stored, err := repo.FindForCharacter(context.Background(), characterID, "m1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.LastAccessedAt == nil {
		t.Error("search did not refresh the access time")
	}
}

func TestSearchLexicalFallback(t *testing.T) {
	repo := memorytest.NewRepo()
	idx := newIndex(t)
	emb := mock.New()
	emb.Err = errors.New("provider down")
	svc := search.New(repo, idx, emb)

	// No embeddings get written while the provider is down.
	seed(t, repo, idx, nil, mem("m1", "The user grew up in Lisbon.", "User grew up in Lisbon", []string{"portugal"}, 0.5))
	seed(t, repo, idx, nil, mem("m2", "The user once visited a lisbon cafe.", "A cafe visit", []string{"lisbon", "cafe"}, 0.5))

	res, err := svc.Search(context.Background(), characterID, "lisbon", search.Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.UsedEmbedding {
		t.Error("expected the lexical fallback")
	}
	if len(res.Hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(res.Hits))
	}
	// m1 matches the query in summary and content (0.8); m2 matches in
	// content plus a keyword (0.5). Summary hits outrank keyword hits.
	if res.Hits[0].Memory.ID != "m1" || res.Hits[1].Memory.ID != "m2" {
		t.Errorf("order = %s, %s; want m1, m2", res.Hits[0].Memory.ID, res.Hits[1].Memory.ID)
	}
	if res.Hits[0].Score <= res.Hits[1].Score {
		t.Errorf("scores %v, %v not strictly ordered", res.Hits[0].Score, res.Hits[1].Score)
	}
}

func TestSearchFilters(t *testing.T) {
	repo := memorytest.NewRepo()
	idx := newIndex(t)
	emb := mock.New()
	svc := search.New(repo, idx, emb)

	big := mem("m1", "The user is training for a marathon in spring.", "User trains for a marathon", []string{"marathon"}, 0.9)
	small := mem("m2", "The user jogged once. Marathon training someday, maybe.", "User jogged once", []string{"marathon"}, 0.2)
	pinned := memory.NewManual(characterID, "The user bought marathon shoes.", "User bought running shoes", []string{"marathon", "shoes"})
	pinned.ID = "m3"
	seed(t, repo, idx, emb, big)
	seed(t, repo, idx, emb, small)
	seed(t, repo, idx, emb, pinned)

	res, err := svc.Search(context.Background(), characterID, "marathon training", search.Options{MinImportance: 0.5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range res.Hits {
		if h.Memory.Importance < 0.5 {
			t.Errorf("importance filter leaked %s (%v)", h.Memory.ID, h.Memory.Importance)
		}
	}

	res, err = svc.Search(context.Background(), characterID, "marathon", search.Options{Source: memory.SourceManual})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range res.Hits {
		if h.Memory.Source != memory.SourceManual {
			t.Errorf("source filter leaked %s (%s)", h.Memory.ID, h.Memory.Source)
		}
	}
}

func TestSearchSkipsOrphanedIndexEntries(t *testing.T) {
	repo := memorytest.NewRepo()
	idx := newIndex(t)
	emb := mock.New()
	svc := search.New(repo, idx, emb)

	kept := mem("m1", "The user keeps bees.", "User keeps bees", []string{"bees"}, 0.5)
	seed(t, repo, idx, emb, kept)

	// Index an entry with no backing row, as a crashed delete leaves.
	vec, _ := emb.Embed(context.Background(), "ghost entry")
	if err := idx.Add(context.Background(), characterID, "ghost", vec, nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	res, err := svc.Search(context.Background(), characterID, "ghost entry", search.Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range res.Hits {
		if h.Memory.ID == "ghost" {
			t.Error("orphaned index entry surfaced in results")
		}
	}
}

func TestSearchDefaultLimit(t *testing.T) {
	repo := memorytest.NewRepo()
	idx := newIndex(t)
	emb := mock.New()
	emb.Err = errors.New("provider down")
	svc := search.New(repo, idx, emb)

	for i := 0; i < 30; i++ {
		m := mem("", "The user collects stamps from many countries.", "User collects stamps", []string{"stamps"}, 0.5)
		seed(t, repo, idx, nil, m)
	}

	res, err := svc.Search(context.Background(), characterID, "stamps", search.Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) != search.DefaultLimit {
		t.Errorf("got %d hits, want the default limit %d", len(res.Hits), search.DefaultLimit)
	}
}
