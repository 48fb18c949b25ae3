// Package thread reconstructs linear conversation histories from platform
// reply chains. Walking a thread also persists every newly seen node as a
// message memory, so repeated walks over overlapping ancestries only write
// the unseen tail.
package thread

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ahoyle/recall/memory"
)

// Node is a platform-native post as surfaced by a Client.
type Node struct {
	ID             string
	ConversationID string
	Text           string
	AuthorID       string
	AuthorUsername string
	AuthorName     string
	InReplyTo      string
	Timestamp      time.Time
	URL            string
	Source         string
}

// Client is the minimal surface a platform integration exposes to the
// builder. Batch fetches are pagination-free; retry and backoff live inside
// the client, not here.
type Client interface {
	GetPost(ctx context.Context, nativeID string) (*Node, error)
	GetTimeline(ctx context.Context, limit int) ([]*Node, error)
	GetMentions(ctx context.Context, limit int) ([]*Node, error)
}

// MemoryStore is the slice of the memory store the builder needs.
type MemoryStore interface {
	CreateMemory(ctx context.Context, m *memory.Memory, table memory.Table) error
	GetMemoryByID(ctx context.Context, id uuid.UUID) (*memory.Memory, error)
}

// Builder walks reply-to links backward from a leaf node to the thread root.
type Builder struct {
	agentID   uuid.UUID
	client    Client
	store     MemoryStore
	registrar *Registrar
	embedder  memory.Embedder
	logger    zerolog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithEmbedder makes the builder embed each persisted node's text. Without
// one, nodes are stored embedding-free and skip the duplicate gate.
func WithEmbedder(e memory.Embedder) BuilderOption {
	return func(b *Builder) { b.embedder = e }
}

// NewBuilder creates a Builder for one agent.
func NewBuilder(agentID uuid.UUID, client Client, store MemoryStore, registrar *Registrar, logger zerolog.Logger, opts ...BuilderOption) (*Builder, error) {
	if agentID == uuid.Nil {
		return nil, errors.New("agent id is empty")
	}
	if client == nil {
		return nil, errors.New("client is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if registrar == nil {
		return nil, errors.New("registrar is nil")
	}
	b := &Builder{
		agentID:   agentID,
		client:    client,
		store:     store,
		registrar: registrar,
		logger:    logger.With().Str("component", "thread_builder").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// BuildThread resolves the ancestry of start and returns the thread ordered
// root-first. Each node not yet in the store is registered and persisted
// along the way.
//
// The walk is an explicit loop with a visited set, so reply cycles terminate
// and arbitrarily deep chains cannot grow the call stack. A parent that
// cannot be fetched ends the walk at the last resolved node: a partial
// thread is returned without error, since partial conversational context
// beats none.
func (b *Builder) BuildThread(ctx context.Context, start *Node) ([]*Node, error) {
	if start == nil {
		return nil, errors.New("start node is nil")
	}

	visited := make(map[string]struct{})
	var thread []*Node

	current := start
	for current != nil {
		if _, seen := visited[current.ID]; seen {
			b.logger.Debug().
				Str("native_id", current.ID).
				Msg("node already visited, stopping walk")
			break
		}
		visited[current.ID] = struct{}{}

		if err := b.ensurePersisted(ctx, current); err != nil {
			return nil, err
		}

		thread = append([]*Node{current}, thread...)

		if current.InReplyTo == "" {
			break
		}
		parent, err := b.client.GetPost(ctx, current.InReplyTo)
		if err != nil {
			b.logger.Warn().
				Str("native_id", current.ID).
				Str("parent_id", current.InReplyTo).
				Err(err).
				Msg("parent fetch failed, returning partial thread")
			break
		}
		if parent == nil {
			b.logger.Debug().
				Str("parent_id", current.InReplyTo).
				Msg("parent not found, treating current node as root")
			break
		}
		current = parent
	}

	b.logger.Info().
		Str("leaf_id", start.ID).
		Int("length", len(thread)).
		Msg("thread reconstructed")
	return thread, nil
}

// ensurePersisted writes the node as a message memory unless it is already
// stored under its deterministic ID.
func (b *Builder) ensurePersisted(ctx context.Context, node *Node) error {
	memID := memory.MemoryID(node.ID, b.agentID)
	existing, err := b.store.GetMemoryByID(ctx, memID)
	if err != nil {
		return err
	}
	if existing != nil {
		b.logger.Debug().
			Str("native_id", node.ID).
			Str("memory_id", memID.String()).
			Msg("node already persisted")
		return nil
	}

	roomID := memory.RoomID(conversationKey(node), b.agentID)
	if err := b.registrar.EnsureConnection(ctx, node, roomID, b.agentID); err != nil {
		return err
	}

	m := b.memoryFromNode(node, memID, roomID)
	if b.embedder != nil {
		emb, err := b.embedder.Embed(ctx, node.Text)
		if err != nil {
			b.logger.Error().
				Str("native_id", node.ID).
				Err(err).
				Msg("embedding failed, saving without embedding")
		} else {
			m.Embedding = emb
		}
	}

	return b.store.CreateMemory(ctx, m, memory.TableMessages)
}

func (b *Builder) memoryFromNode(node *Node, memID, roomID uuid.UUID) *memory.Memory {
	var inReplyTo *uuid.UUID
	if node.InReplyTo != "" {
		parentID := memory.MemoryID(node.InReplyTo, b.agentID)
		inReplyTo = &parentID
	}
	createdAt := node.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &memory.Memory{
		ID:      memID,
		AgentID: b.agentID,
		UserID:  memory.AccountID(node.AuthorID),
		RoomID:  roomID,
		Content: memory.Content{
			Text:      node.Text,
			Source:    node.Source,
			URL:       node.URL,
			InReplyTo: inReplyTo,
		},
		CreatedAt: createdAt,
	}
}

// conversationKey picks the platform identifier that names the whole thread.
func conversationKey(node *Node) string {
	if node.ConversationID != "" {
		return node.ConversationID
	}
	return node.ID
}
