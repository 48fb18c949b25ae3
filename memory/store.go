package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultMatchThreshold is the similarity at or above which the duplicate
	// gate flags a candidate as a near-duplicate.
	DefaultMatchThreshold = 0.95
	// DefaultUniqueSampleCount is how many nearest neighbors the gate inspects.
	DefaultUniqueSampleCount = 5
	// DefaultSearchCount caps similarity searches that do not specify a count.
	DefaultSearchCount = 10

	// candidateLimit bounds the linear scan behind a similarity search.
	candidateLimit = 500
)

// Store persists memories in SQLite and runs similarity search over their
// embeddings.
type Store struct {
	db             *sql.DB
	logger         zerolog.Logger
	matchThreshold float64
	sampleCount    int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMatchThreshold overrides the duplicate-gate similarity threshold.
func WithMatchThreshold(threshold float64) StoreOption {
	return func(s *Store) { s.matchThreshold = threshold }
}

// WithUniqueSampleCount overrides how many neighbors the duplicate gate samples.
func WithUniqueSampleCount(n int) StoreOption {
	return func(s *Store) { s.sampleCount = n }
}

// NewStore creates and returns a Store.
func NewStore(db *sql.DB, logger zerolog.Logger, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	logger = logger.With().Str("component", "memory_store").Logger()
	s := &Store{
		db:             db,
		logger:         logger,
		matchThreshold: DefaultMatchThreshold,
		sampleCount:    DefaultUniqueSampleCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	logger.Info().
		Float64("matchThreshold", s.matchThreshold).
		Int("sampleCount", s.sampleCount).
		Msg("memory store initialized")
	return s, nil
}

// CreateMemory writes a memory into the given table. The write is an upsert
// keyed by the memory's deterministic ID: re-creating an already stored
// memory is a no-op at the storage layer.
//
// When the memory carries an embedding, the duplicate gate runs first and its
// verdict is recorded in m.Unique. The gate is advisory: a near-duplicate is
// still stored, just flagged. A failed gate query aborts the write.
func (s *Store) CreateMemory(ctx context.Context, m *Memory, table Table) error {
	if m == nil {
		return errors.New("memory is nil")
	}
	if table == "" {
		return errors.New("table is empty")
	}
	if m.ID == uuid.Nil {
		return errors.New("memory id is empty")
	}
	if m.AgentID == uuid.Nil || m.RoomID == uuid.Nil {
		return fmt.Errorf("memory %s: agent and room ids are required", m.ID)
	}

	s.logger.Debug().
		Str("method", "CreateMemory").
		Str("id", m.ID.String()).
		Str("table", string(table)).
		Str("room_id", m.RoomID.String()).
		Bool("hasEmbedding", len(m.Embedding) > 0).
		Msg("called")

	m.Unique = true
	if len(m.Embedding) > 0 {
		unique, err := s.IsUnique(ctx, m.Embedding, UniqueScope{
			AgentID: m.AgentID,
			RoomID:  m.RoomID,
			Table:   table,
		}, s.matchThreshold, s.sampleCount)
		if err != nil {
			s.logger.Error().
				Str("method", "CreateMemory").
				Str("id", m.ID.String()).
				Err(err).
				Msg("duplicate gate failed, aborting write")
			return fmt.Errorf("duplicate gate: %w", err)
		}
		m.Unique = unique
		if !unique {
			s.logger.Info().
				Str("method", "CreateMemory").
				Str("id", m.ID.String()).
				Str("table", string(table)).
				Msg("near-duplicate detected, storing with unique=false")
		}
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	query := StatementBuilder().
		Insert("memories").
		Columns("id", "agent_id", "user_id", "room_id", "table_name",
			"content", "embedding", "created_at", "is_unique").
		Values(m.ID.String(), m.AgentID.String(), m.UserID.String(), m.RoomID.String(),
			string(table), contentJSON, EncodeEmbedding(m.Embedding), m.CreatedAt.Unix(), m.Unique)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	// Upsert-by-deterministic-id: the last writer of a given external item
	// wins by arriving first; later identical writes are ignored.
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR IGNORE INTO", 1)

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().
			Str("method", "CreateMemory").
			Str("id", m.ID.String()).
			Err(err).
			Msg("insert failed")
		return fmt.Errorf("insert memory: %w", err)
	}

	rows, _ := res.RowsAffected()
	s.logger.Info().
		Str("method", "CreateMemory").
		Str("id", m.ID.String()).
		Str("table", string(table)).
		Bool("unique", m.Unique).
		Bool("inserted", rows > 0).
		Msg("memory stored")
	return nil
}

// GetMemoryByID fetches a single memory. Returns (nil, nil) when absent.
func (s *Store) GetMemoryByID(ctx context.Context, id uuid.UUID) (*Memory, error) {
	if id == uuid.Nil {
		return nil, errors.New("id is empty")
	}

	query := StatementBuilder().
		Select(memoryColumns()...).
		From("memories").
		Where(sq.Eq{"id": id.String()})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	if !rows.Next() {
		return nil, rows.Err()
	}
	m, err := scanMemory(rows)
	if err != nil {
		return nil, err
	}
	return m, rows.Err()
}

// SearchByEmbedding returns memories ordered by descending cosine similarity
// to the query embedding, scoped by agent, rooms, and table.
func (s *Store) SearchByEmbedding(ctx context.Context, q *SearchQuery) ([]SearchResult, error) {
	if q == nil || len(q.Embedding) == 0 {
		return nil, errors.New("query embedding is required")
	}
	if q.Table == "" {
		return nil, errors.New("table is empty")
	}
	count := q.Count
	if count <= 0 {
		count = DefaultSearchCount
	}

	query := StatementBuilder().
		Select(memoryColumns()...).
		From("memories").
		Where(buildScopeWhere(q)).
		OrderBy("created_at DESC").
		Limit(uint64(candidateLimit))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().
			Str("method", "SearchByEmbedding").
			Err(err).
			Msg("candidate query failed")
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var results []SearchResult
	scanned := 0
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		scanned++
		if len(m.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(q.Embedding, m.Embedding)
		if q.MatchThreshold > 0 && score < q.MatchThreshold {
			continue
		}
		results = append(results, SearchResult{Memory: m, Similarity: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > count {
		results = results[:count]
	}

	s.logger.Debug().
		Str("method", "SearchByEmbedding").
		Str("table", string(q.Table)).
		Int("scanned", scanned).
		Int("returning", len(results)).
		Msg("similarity search completed")
	return results, nil
}

// GetMemoriesByRoomIDs returns memories for the given rooms, newest first.
func (s *Store) GetMemoriesByRoomIDs(ctx context.Context, table Table, roomIDs []uuid.UUID, limit int) ([]*Memory, error) {
	if table == "" {
		return nil, errors.New("table is empty")
	}
	if len(roomIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchCount
	}

	ids := make([]string, len(roomIDs))
	for i, id := range roomIDs {
		ids[i] = id.String()
	}

	query := StatementBuilder().
		Select(memoryColumns()...).
		From("memories").
		Where(sq.Eq{"table_name": string(table)}).
		Where(sq.Eq{"room_id": ids}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// RemoveAllMemories deletes every memory in a room/table partition. This is
// the only delete path; individual memories are never removed.
func (s *Store) RemoveAllMemories(ctx context.Context, roomID uuid.UUID, table Table) error {
	if roomID == uuid.Nil {
		return errors.New("room id is empty")
	}
	if table == "" {
		return errors.New("table is empty")
	}

	query := StatementBuilder().
		Delete("memories").
		Where(sq.Eq{"room_id": roomID.String()}).
		Where(sq.Eq{"table_name": string(table)})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info().
		Str("method", "RemoveAllMemories").
		Str("room_id", roomID.String()).
		Str("table", string(table)).
		Int64("removed", n).
		Msg("memories removed")
	return nil
}

// CountMemories counts memories in a room/table partition.
func (s *Store) CountMemories(ctx context.Context, roomID uuid.UUID, table Table, uniqueOnly bool) (int, error) {
	if roomID == uuid.Nil {
		return 0, errors.New("room id is empty")
	}
	if table == "" {
		return 0, errors.New("table is empty")
	}

	query := StatementBuilder().
		Select("COUNT(*)").
		From("memories").
		Where(sq.Eq{"room_id": roomID.String()}).
		Where(sq.Eq{"table_name": string(table)})
	if uniqueOnly {
		query = query.Where(sq.Eq{"is_unique": true})
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, queryStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return count, nil
}

// buildScopeWhere builds the WHERE clause for a similarity search scope.
func buildScopeWhere(q *SearchQuery) sq.Sqlizer {
	conditions := sq.And{sq.Eq{"table_name": string(q.Table)}}
	if q.AgentID != uuid.Nil {
		conditions = append(conditions, sq.Eq{"agent_id": q.AgentID.String()})
	}
	if len(q.RoomIDs) > 0 {
		ids := make([]string, len(q.RoomIDs))
		for i, id := range q.RoomIDs {
			ids[i] = id.String()
		}
		conditions = append(conditions, sq.Eq{"room_id": ids})
	}
	if q.UniqueOnly {
		conditions = append(conditions, sq.Eq{"is_unique": true})
	}
	return conditions
}

// scanMemory loads one memory from the standard column set.
func scanMemory(rows *sql.Rows) (*Memory, error) {
	var (
		idStr      string
		agentIDStr string
		userIDStr  string
		roomIDStr  string
		tableStr   string
		contentRaw []byte
		embBlob    []byte
		createdAt  int64
		isUnique   bool
	)
	if err := rows.Scan(&idStr, &agentIDStr, &userIDStr, &roomIDStr, &tableStr,
		&contentRaw, &embBlob, &createdAt, &isUnique); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse memory id: %w", err)
	}
	agentID, err := uuid.Parse(agentIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse agent id: %w", err)
	}
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse room id: %w", err)
	}
	// user_id may be the zero UUID for system-authored rows.
	userID, _ := uuid.Parse(userIDStr)

	var content Content
	if len(contentRaw) > 0 {
		if err := json.Unmarshal(contentRaw, &content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
	}

	vec, err := DecodeEmbedding(embBlob)
	if err != nil {
		return nil, err
	}

	return &Memory{
		ID:        id,
		AgentID:   agentID,
		UserID:    userID,
		RoomID:    roomID,
		Content:   content,
		Embedding: vec,
		CreatedAt: time.Unix(createdAt, 0),
		Unique:    isUnique,
	}, nil
}
