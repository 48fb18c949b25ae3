// Package knowledge ingests long documents into the memory store and
// retrieves them by semantic similarity. Documents are stored whole but
// never vector-searched directly; retrieval goes through their embedded
// fragments, which point back at the parent via Content.Source.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/ahoyle/recall/memory"
)

// DefaultRetrieveThreshold is deliberately loose: fragment retrieval wants
// recall, the duplicate gate wants precision.
const DefaultRetrieveThreshold = 0.1

// DefaultRetrieveCount caps how many fragments one retrieval considers.
const DefaultRetrieveCount = 10

// Item is a retrievable knowledge document.
type Item struct {
	ID      uuid.UUID
	Content memory.Content
}

// Store is the slice of the memory store the indexer needs.
type Store interface {
	CreateMemory(ctx context.Context, m *memory.Memory, table memory.Table) error
	GetMemoryByID(ctx context.Context, id uuid.UUID) (*memory.Memory, error)
	SearchByEmbedding(ctx context.Context, q *memory.SearchQuery) ([]memory.SearchResult, error)
}

// Indexer chunks, embeds, and persists documents, and answers similarity
// queries over their fragments.
type Indexer struct {
	agentID   uuid.UUID
	store     Store
	embedder  memory.Embedder
	chunkSize int
	bleed     int
	threshold float64
	count     int
	logger    zerolog.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithChunking overrides the chunk size and bleed used by Index.
func WithChunking(size, bleed int) IndexerOption {
	return func(ix *Indexer) {
		ix.chunkSize = size
		ix.bleed = bleed
	}
}

// WithRetrieval overrides the similarity threshold and result cap used by
// Retrieve.
func WithRetrieval(threshold float64, count int) IndexerOption {
	return func(ix *Indexer) {
		ix.threshold = threshold
		ix.count = count
	}
}

// NewIndexer creates an Indexer for one agent. Knowledge memories live in a
// room derived from the agent itself: documents are agent-scoped, not
// conversation-scoped.
func NewIndexer(agentID uuid.UUID, store Store, embedder memory.Embedder, logger zerolog.Logger, opts ...IndexerOption) (*Indexer, error) {
	if agentID == uuid.Nil {
		return nil, errors.New("agent id is empty")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder is nil")
	}
	ix := &Indexer{
		agentID:   agentID,
		store:     store,
		embedder:  embedder,
		chunkSize: DefaultChunkSize,
		bleed:     DefaultBleed,
		threshold: DefaultRetrieveThreshold,
		count:     DefaultRetrieveCount,
		logger:    logger.With().Str("component", "knowledge_indexer").Logger(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// roomID scopes all knowledge memories for this agent.
func (ix *Indexer) roomID() uuid.UUID {
	return memory.RoomID("knowledge", ix.agentID)
}

// Index persists a document and its embedded fragments. The parent document
// is stored without an embedding (only fragments are vector-searched); each
// fragment's ID is derived from the parent ID and chunk text, so re-indexing
// the same document is a storage no-op, though embeddings are still
// recomputed.
func (ix *Indexer) Index(ctx context.Context, item Item) error {
	if item.ID == uuid.Nil {
		return errors.New("item id is empty")
	}

	processed := Preprocess(item.Content.Text)
	if processed == "" {
		ix.logger.Warn().
			Str("item_id", item.ID.String()).
			Msg("document empty after preprocessing, skipping")
		return nil
	}

	roomID := ix.roomID()
	doc := &memory.Memory{
		ID:      item.ID,
		AgentID: ix.agentID,
		UserID:  ix.agentID,
		RoomID:  roomID,
		Content: item.Content,
	}
	if err := ix.store.CreateMemory(ctx, doc, memory.TableDocuments); err != nil {
		return fmt.Errorf("store document: %w", err)
	}

	chunks := Chunk(processed, ix.chunkSize, ix.bleed)
	for i, chunk := range chunks {
		emb, err := ix.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embed fragment %d: %w", i, err)
		}
		frag := &memory.Memory{
			ID:      memory.FragmentID(item.ID, chunk),
			AgentID: ix.agentID,
			UserID:  ix.agentID,
			RoomID:  roomID,
			Content: memory.Content{
				Text:   chunk,
				Source: item.ID.String(),
			},
			Embedding: emb,
		}
		if err := ix.store.CreateMemory(ctx, frag, memory.TableFragments); err != nil {
			return fmt.Errorf("store fragment %d: %w", i, err)
		}
	}

	ix.logger.Info().
		Str("item_id", item.ID.String()).
		Int("fragments", len(chunks)).
		Msg("document indexed")
	return nil
}

// Retrieve finds documents whose fragments are similar to the query text.
// A query that preprocesses to nothing returns an empty result without ever
// calling the embedder. Fragments are deduplicated by parent document, and
// parents that no longer resolve are dropped silently.
func (ix *Indexer) Retrieve(ctx context.Context, queryText string) ([]Item, error) {
	processed := Preprocess(queryText)
	if processed == "" {
		return nil, nil
	}

	emb, err := ix.embedder.Embed(ctx, processed)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := ix.store.SearchByEmbedding(ctx, &memory.SearchQuery{
		Embedding:      emb,
		AgentID:        ix.agentID,
		RoomIDs:        []uuid.UUID{ix.roomID()},
		Table:          memory.TableFragments,
		MatchThreshold: ix.threshold,
		Count:          ix.count,
	})
	if err != nil {
		return nil, fmt.Errorf("search fragments: %w", err)
	}

	unique := lo.UniqBy(results, func(r memory.SearchResult) string {
		return r.Memory.Content.Source
	})

	items := make([]Item, 0, len(unique))
	for _, r := range unique {
		parentID, err := uuid.Parse(r.Memory.Content.Source)
		if err != nil {
			ix.logger.Warn().
				Str("fragment_id", r.Memory.ID.String()).
				Str("source", r.Memory.Content.Source).
				Msg("fragment has unparseable parent reference, dropping")
			continue
		}
		parent, err := ix.store.GetMemoryByID(ctx, parentID)
		if err != nil || parent == nil {
			ix.logger.Warn().
				Str("parent_id", parentID.String()).
				Msg("fragment parent did not resolve, dropping")
			continue
		}
		items = append(items, Item{ID: parent.ID, Content: parent.Content})
	}

	ix.logger.Debug().
		Int("fragments", len(results)).
		Int("documents", len(items)).
		Msg("knowledge retrieved")
	return items, nil
}
