package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DatabaseAdapter stores cache rows in a SQLite table keyed (agent_id, key),
// so cohabiting agents never read each other's cache.
type DatabaseAdapter struct {
	db      *sql.DB
	agentID uuid.UUID
	logger  zerolog.Logger
}

// NewDatabaseAdapter binds the adapter to one agent's cache rows.
func NewDatabaseAdapter(db *sql.DB, agentID uuid.UUID, logger zerolog.Logger) (*DatabaseAdapter, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if agentID == uuid.Nil {
		return nil, errors.New("agent id is empty")
	}
	return &DatabaseAdapter{
		db:      db,
		agentID: agentID,
		logger:  logger.With().Str("component", "db_cache").Logger(),
	}, nil
}

func (a *DatabaseAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := sq.Select("value").
		From("cache").
		Where(sq.Eq{"agent_id": a.agentID.String()}).
		Where(sq.Eq{"key": key})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build query: %w", err)
	}

	var value []byte
	err = a.db.QueryRowContext(ctx, queryStr, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		a.logger.Error().Str("key", key).Err(err).Msg("cache read failed")
		return nil, false, fmt.Errorf("read cache row: %w", err)
	}
	return value, true, nil
}

func (a *DatabaseAdapter) Set(ctx context.Context, key string, value []byte) error {
	query := sq.Insert("cache").
		Columns("agent_id", "key", "value", "created_at").
		Values(a.agentID.String(), key, value, time.Now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	// SQLite requires "OR REPLACE" after "INSERT"; overwriting an existing
	// (agent_id, key) row is the expected set semantics.
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)

	if _, err := a.db.ExecContext(ctx, queryStr, args...); err != nil {
		a.logger.Error().Str("key", key).Err(err).Msg("cache write failed")
		return fmt.Errorf("write cache row: %w", err)
	}
	return nil
}

func (a *DatabaseAdapter) Delete(ctx context.Context, key string) error {
	query := sq.Delete("cache").
		Where(sq.Eq{"agent_id": a.agentID.String()}).
		Where(sq.Eq{"key": key})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := a.db.ExecContext(ctx, queryStr, args...); err != nil {
		a.logger.Error().Str("key", key).Err(err).Msg("cache delete failed")
		return fmt.Errorf("delete cache row: %w", err)
	}
	return nil
}
