package memory

import (
	"context"
	"database/sql"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ahoyle/recall/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// semanticEmbedder creates embeddings based on word content to simulate semantic
// similarity: texts with overlapping words get similar vectors. Deterministic,
// no external services, suitable for CI.
type semanticEmbedder struct {
	dimensions int
}

func newSemanticEmbedder(dimensions int) *semanticEmbedder {
	return &semanticEmbedder{dimensions: dimensions}
}

func (e *semanticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
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
		for i := 0; i < 3; i++ { // each word influences 3 dimensions
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

// setupTestDB creates an in-memory database and applies migrations.
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

func testMemory(agentID, roomID uuid.UUID, text string, embedding []float32) *Memory {
	return &Memory{
		ID:        DeterministicID("test", text),
		AgentID:   agentID,
		RoomID:    roomID,
		Content:   Content{Text: text, Source: "test"},
		Embedding: embedding,
	}
}

func TestCreateMemoryIdempotentUpsert(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx := context.Background()
	agentID := DeterministicID("agent", "a")
	roomID := DeterministicID("room", "r")

	m1 := testMemory(agentID, roomID, "hello world", nil)
	if err := store.CreateMemory(ctx, m1, TableMessages); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	// Same logical item again: same deterministic ID, no second row.
	m2 := testMemory(agentID, roomID, "hello world", nil)
	if err := store.CreateMemory(ctx, m2, TableMessages); err != nil {
		t.Fatalf("CreateMemory (second): %v", err)
	}

	count, err := store.CountMemories(ctx, roomID, TableMessages, false)
	if err != nil {
		t.Fatalf("CountMemories: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 memory after duplicate write, got %d", count)
	}
}

func TestCreateMemoryWithoutEmbeddingDefaultsUnique(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx := context.Background()
	agentID := DeterministicID("agent", "a")
	roomID := DeterministicID("room", "r")

	m := testMemory(agentID, roomID, "no embedding here", nil)
	if err := store.CreateMemory(ctx, m, TableMessages); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if !m.Unique {
		t.Fatalf("expected unique=true when embedding is absent")
	}

	got, err := store.GetMemoryByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMemoryByID: %v", err)
	}
	if got == nil || !got.Unique {
		t.Fatalf("expected stored memory with unique=true, got %+v", got)
	}
}

func TestCreateMemoryValidation(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	agentID := DeterministicID("agent", "a")
	roomID := DeterministicID("room", "r")

	t.Run("empty_table", func(t *testing.T) {
		m := testMemory(agentID, roomID, "x", nil)
		if err := store.CreateMemory(ctx, m, ""); err == nil {
			t.Fatalf("expected error for empty table")
		}
	})
	t.Run("missing_room", func(t *testing.T) {
		m := testMemory(agentID, roomID, "x", nil)
		m.RoomID = uuid.Nil
		if err := store.CreateMemory(ctx, m, TableMessages); err == nil {
			t.Fatalf("expected error for missing room id")
		}
	})
	t.Run("missing_id", func(t *testing.T) {
		m := testMemory(agentID, roomID, "x", nil)
		m.ID = uuid.Nil
		if err := store.CreateMemory(ctx, m, TableMessages); err == nil {
			t.Fatalf("expected error for missing memory id")
		}
	})
}

// TestDuplicateGateThresholdBoundary verifies the gate's >= semantics: a
// neighbor at exactly the threshold similarity flags the candidate, one just
// below it does not.
func TestDuplicateGateThresholdBoundary(t *testing.T) {
	ctx := context.Background()
	agentID := DeterministicID("agent", "a")
	roomID := DeterministicID("room", "r")

	embedder := newSemanticEmbedder(128)
	first, err := embedder.Embed(ctx, "the quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := embedder.Embed(ctx, "the quick brown fox jumps over the sleepy dog")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	similarity := CosineSimilarity(first, second)
	if similarity <= 0 || similarity >= 1 {
		t.Fatalf("test embeddings degenerate: similarity=%v", similarity)
	}

	t.Run("at_threshold_flags_duplicate", func(t *testing.T) {
		db := setupTestDB(t)
		// Threshold set to the exact similarity of the pair: inclusive
		// boundary must flag.
		store, err := NewStore(db, zerolog.Nop(), WithMatchThreshold(similarity))
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}

		m1 := testMemory(agentID, roomID, "first", first)
		if err := store.CreateMemory(ctx, m1, TableMessages); err != nil {
			t.Fatalf("CreateMemory m1: %v", err)
		}
		if !m1.Unique {
			t.Fatalf("first memory in empty partition must be unique")
		}

		m2 := testMemory(agentID, roomID, "second", second)
		if err := store.CreateMemory(ctx, m2, TableMessages); err != nil {
			t.Fatalf("CreateMemory m2: %v", err)
		}
		if m2.Unique {
			t.Fatalf("expected unique=false at inclusive threshold boundary")
		}

		// The near-duplicate is still stored: the gate is advisory.
		count, err := store.CountMemories(ctx, roomID, TableMessages, false)
		if err != nil {
			t.Fatalf("CountMemories: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected both memories stored, got %d", count)
		}
	})

	t.Run("below_threshold_stays_unique", func(t *testing.T) {
		db := setupTestDB(t)
		store, err := NewStore(db, zerolog.Nop(), WithMatchThreshold(similarity+1e-6))
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}

		m1 := testMemory(agentID, roomID, "first", first)
		if err := store.CreateMemory(ctx, m1, TableMessages); err != nil {
			t.Fatalf("CreateMemory m1: %v", err)
		}
		m2 := testMemory(agentID, roomID, "second", second)
		if err := store.CreateMemory(ctx, m2, TableMessages); err != nil {
			t.Fatalf("CreateMemory m2: %v", err)
		}
		if !m2.Unique {
			t.Fatalf("expected unique=true just below threshold")
		}
	})
}

// TestDuplicateGateScope verifies that near-duplicates in other rooms and
// tables do not count against a candidate.
func TestDuplicateGateScope(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	agentID := DeterministicID("agent", "a")
	roomA := DeterministicID("room", "a")
	roomB := DeterministicID("room", "b")

	embedder := newSemanticEmbedder(128)
	emb, err := embedder.Embed(ctx, "identical content")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	m1 := testMemory(agentID, roomA, "in room a", emb)
	if err := store.CreateMemory(ctx, m1, TableMessages); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	t.Run("other_room", func(t *testing.T) {
		m := testMemory(agentID, roomB, "same embedding other room", emb)
		if err := store.CreateMemory(ctx, m, TableMessages); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
		if !m.Unique {
			t.Fatalf("expected unique=true across room boundary")
		}
	})
	t.Run("other_table", func(t *testing.T) {
		m := testMemory(agentID, roomA, "same embedding other table", emb)
		if err := store.CreateMemory(ctx, m, TableFacts); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
		if !m.Unique {
			t.Fatalf("expected unique=true across table boundary")
		}
	})
	t.Run("same_partition", func(t *testing.T) {
		m := testMemory(agentID, roomA, "same embedding same partition", emb)
		if err := store.CreateMemory(ctx, m, TableMessages); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
		if m.Unique {
			t.Fatalf("expected unique=false for identical embedding in same partition")
		}
	})
}

func TestSearchByEmbeddingOrderingAndCount(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	agentID := DeterministicID("agent", "a")
	roomID := DeterministicID("room", "r")

	embedder := newSemanticEmbedder(128)
	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	texts := []string{
		"go is a great language for backend services",
		"python is popular for machine learning",
		"mountains have excellent hiking trails",
		"backend services scale well in go",
	}
	for _, text := range texts {
		emb, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		m := testMemory(agentID, roomID, text, emb)
		if err := store.CreateMemory(ctx, m, TableMessages); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}

	queryEmb, err := embedder.Embed(ctx, "go backend services")
	if err != nil {
		t.Fatalf("Embed query: %v", err)
	}
	results, err := store.SearchByEmbedding(ctx, &SearchQuery{
		Embedding: queryEmb,
		AgentID:   agentID,
		RoomIDs:   []uuid.UUID{roomID},
		Table:     TableMessages,
		Count:     2,
	})
	if err != nil {
		t.Fatalf("SearchByEmbedding: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected count-limited 2 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Fatalf("results not ordered by descending similarity")
		}
	}
	top := results[0].Memory.Content.Text
	if !strings.Contains(top, "go") {
		t.Errorf("expected a go-related top result, got %q", top)
	}
}

func TestGetMemoryByIDAbsent(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	got, err := store.GetMemoryByID(context.Background(), DeterministicID("nope"))
	if err != nil {
		t.Fatalf("GetMemoryByID: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent memory, got %+v", got)
	}
}

func TestRemoveAllMemories(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	agentID := DeterministicID("agent", "a")
	roomID := DeterministicID("room", "r")
	otherRoom := DeterministicID("room", "other")

	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for _, text := range []string{"one", "two", "three"} {
		if err := store.CreateMemory(ctx, testMemory(agentID, roomID, text, nil), TableMessages); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}
	if err := store.CreateMemory(ctx, testMemory(agentID, otherRoom, "keep", nil), TableMessages); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	if err := store.RemoveAllMemories(ctx, roomID, TableMessages); err != nil {
		t.Fatalf("RemoveAllMemories: %v", err)
	}

	count, err := store.CountMemories(ctx, roomID, TableMessages, false)
	if err != nil {
		t.Fatalf("CountMemories: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 memories in cleared room, got %d", count)
	}
	kept, err := store.CountMemories(ctx, otherRoom, TableMessages, false)
	if err != nil {
		t.Fatalf("CountMemories: %v", err)
	}
	if kept != 1 {
		t.Fatalf("expected other room untouched, got %d", kept)
	}
}

func TestGetMemoriesByRoomIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	agentID := DeterministicID("agent", "a")
	roomA := DeterministicID("room", "a")
	roomB := DeterministicID("room", "b")

	store, err := NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i, text := range []string{"oldest", "middle", "newest"} {
		m := testMemory(agentID, roomA, text, nil)
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateMemory(ctx, m, TableMessages); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}

	memories, err := store.GetMemoriesByRoomIDs(ctx, TableMessages, []uuid.UUID{roomA, roomB}, 10)
	if err != nil {
		t.Fatalf("GetMemoriesByRoomIDs: %v", err)
	}
	if len(memories) != 3 {
		t.Fatalf("expected 3 memories, got %d", len(memories))
	}
	if memories[0].Content.Text != "newest" {
		t.Fatalf("expected newest-first ordering, got %q first", memories[0].Content.Text)
	}
}
