package knowledge

import (
	"context"
	"database/sql"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ahoyle/recall/memory"
	"github.com/ahoyle/recall/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// countingEmbedder wraps word-hash embeddings with a call counter so tests
// can assert when the embedder is (not) consulted.
type countingEmbedder struct {
	dimensions int
	calls      int
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	words := strings.Fields(strings.ToLower(text))
	embedding := make([]float32, e.dimensions)
	if len(words) == 0 {
		return embedding, nil
	}
	for _, word := range words {
		h := fnv.New32a()
		if _, err := h.Write([]byte(word)); err != nil {
			return nil, err
		}
		hash := h.Sum32()
		for i := 0; i < 3; i++ {
			dim := int((hash + uint32(i)*2654435761) % uint32(e.dimensions)) // nolint:gosec // Test code
			embedding[dim] += float32(math.Sin(float64(hash+uint32(i))*0.1) + 1.0)
		}
	}
	var magnitude float32
	for _, val := range embedding {
		magnitude += val * val
	}
	magnitude = float32(math.Sqrt(float64(magnitude)))
	if magnitude > 0 {
		for i := range embedding {
			embedding[i] /= magnitude
		}
	}
	return embedding, nil
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := migrations.RunMigrations(db, "../migrations", zerolog.Nop()); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestIndexer(t *testing.T, opts ...IndexerOption) (*Indexer, *memory.Store, *countingEmbedder, uuid.UUID) {
	t.Helper()
	db := setupTestDB(t)
	store, err := memory.NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	embedder := &countingEmbedder{dimensions: 128}
	agentID := memory.DeterministicID("agent", "test")
	ix, err := NewIndexer(agentID, store, embedder, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	return ix, store, embedder, agentID
}

func TestIndexStoresDocumentAndFragments(t *testing.T) {
	ix, store, _, agentID := newTestIndexer(t, WithChunking(6, 2))
	ctx := context.Background()

	docID := memory.DeterministicID("doc", "1")
	err := ix.Index(ctx, Item{
		ID:      docID,
		Content: memory.Content{Text: "AAAA. BBBB. CCCC.", Source: "manual"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	roomID := memory.RoomID("knowledge", agentID)

	doc, err := store.GetMemoryByID(ctx, docID)
	if err != nil {
		t.Fatalf("GetMemoryByID: %v", err)
	}
	if doc == nil {
		t.Fatalf("document not stored")
	}
	if len(doc.Embedding) != 0 {
		t.Errorf("documents must be stored without embeddings")
	}
	if doc.Content.Text != "AAAA. BBBB. CCCC." {
		t.Errorf("document must keep original (unprocessed) text, got %q", doc.Content.Text)
	}

	frags, err := store.CountMemories(ctx, roomID, memory.TableFragments, false)
	if err != nil {
		t.Fatalf("CountMemories: %v", err)
	}
	if frags < 2 {
		t.Fatalf("expected at least 2 fragments, got %d", frags)
	}

	// Fragments carry the preprocessed text and point back at the parent.
	results, err := store.GetMemoriesByRoomIDs(ctx, memory.TableFragments, []uuid.UUID{roomID}, 100)
	if err != nil {
		t.Fatalf("GetMemoriesByRoomIDs: %v", err)
	}
	for _, f := range results {
		if f.Content.Source != docID.String() {
			t.Errorf("fragment %s does not reference parent: %q", f.ID, f.Content.Source)
		}
		if f.Content.Text != strings.ToLower(f.Content.Text) {
			t.Errorf("fragment text not preprocessed: %q", f.Content.Text)
		}
		if len(f.Embedding) == 0 {
			t.Errorf("fragment %s stored without embedding", f.ID)
		}
	}
}

func TestIndexReindexIsStorageNoop(t *testing.T) {
	ix, store, _, agentID := newTestIndexer(t, WithChunking(6, 2))
	ctx := context.Background()

	item := Item{
		ID:      memory.DeterministicID("doc", "1"),
		Content: memory.Content{Text: "AAAA. BBBB. CCCC.", Source: "manual"},
	}
	if err := ix.Index(ctx, item); err != nil {
		t.Fatalf("Index: %v", err)
	}

	roomID := memory.RoomID("knowledge", agentID)
	before, err := store.CountMemories(ctx, roomID, memory.TableFragments, false)
	if err != nil {
		t.Fatalf("CountMemories: %v", err)
	}

	if err := ix.Index(ctx, item); err != nil {
		t.Fatalf("re-Index: %v", err)
	}
	after, err := store.CountMemories(ctx, roomID, memory.TableFragments, false)
	if err != nil {
		t.Fatalf("CountMemories: %v", err)
	}
	if before != after {
		t.Fatalf("re-indexing grew fragment count: %d -> %d", before, after)
	}
}

func TestIndexEmptyDocumentIsSkipped(t *testing.T) {
	ix, store, embedder, agentID := newTestIndexer(t)
	ctx := context.Background()

	err := ix.Index(ctx, Item{
		ID:      memory.DeterministicID("doc", "empty"),
		Content: memory.Content{Text: "```\nonly code\n```"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if embedder.calls != 0 {
		t.Errorf("embedder consulted for empty document")
	}
	roomID := memory.RoomID("knowledge", agentID)
	count, err := store.CountMemories(ctx, roomID, memory.TableDocuments, false)
	if err != nil {
		t.Fatalf("CountMemories: %v", err)
	}
	if count != 0 {
		t.Errorf("empty document must not be stored, found %d", count)
	}
}

func TestRetrieveEmptyQuerySkipsEmbedder(t *testing.T) {
	ix, _, embedder, _ := newTestIndexer(t)
	ctx := context.Background()

	for _, query := range []string{"", "   ", "\t\n", "```code only```"} {
		items, err := ix.Retrieve(ctx, query)
		if err != nil {
			t.Fatalf("Retrieve(%q): %v", query, err)
		}
		if len(items) != 0 {
			t.Errorf("Retrieve(%q): expected no items, got %d", query, len(items))
		}
	}
	if embedder.calls != 0 {
		t.Errorf("embedder consulted %d times for empty queries", embedder.calls)
	}
}

func TestRetrieveFindsDocumentByFragment(t *testing.T) {
	ix, _, _, _ := newTestIndexer(t, WithChunking(6, 2))
	ctx := context.Background()

	docID := memory.DeterministicID("doc", "1")
	err := ix.Index(ctx, Item{
		ID:      docID,
		Content: memory.Content{Text: "AAAA. BBBB. CCCC.", Source: "manual"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	items, err := ix.Retrieve(ctx, "bbbb")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly the parent document, got %d items", len(items))
	}
	if items[0].ID != docID {
		t.Errorf("expected document %s, got %s", docID, items[0].ID)
	}
	if items[0].Content.Text != "AAAA. BBBB. CCCC." {
		t.Errorf("retrieval must return the original document text, got %q", items[0].Content.Text)
	}
}

func TestRetrieveDeduplicatesFragmentsByParent(t *testing.T) {
	ix, _, _, _ := newTestIndexer(t, WithChunking(12, 2), WithRetrieval(0.05, 10))
	ctx := context.Background()

	docID := memory.DeterministicID("doc", "repeat")
	err := ix.Index(ctx, Item{
		ID:      docID,
		Content: memory.Content{Text: "golang golang golang golang golang golang golang golang"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	items, err := ix.Retrieve(ctx, "golang")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one deduplicated document, got %d", len(items))
	}
}

func TestRetrieveUnrelatedQueryFindsNothing(t *testing.T) {
	ix, _, _, _ := newTestIndexer(t, WithRetrieval(0.5, 10))
	ctx := context.Background()

	err := ix.Index(ctx, Item{
		ID:      memory.DeterministicID("doc", "1"),
		Content: memory.Content{Text: "alpha beta gamma delta"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	items, err := ix.Retrieve(ctx, "zzz qqq xxx")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no matches for unrelated query, got %d", len(items))
	}
}
