package thread

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

	"github.com/ahoyle/recall/memory"
)

// Registrar makes sure the identities behind a node exist before its memory
// is written: the author's account, the room, and both participant rows
// (author and agent). All inserts are INSERT OR IGNORE, so registration is
// idempotent and safe to repeat on every walk.
type Registrar struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewRegistrar creates a Registrar over the shared database.
func NewRegistrar(db *sql.DB, logger zerolog.Logger) (*Registrar, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	return &Registrar{
		db:     db,
		logger: logger.With().Str("component", "registrar").Logger(),
	}, nil
}

// EnsureConnection registers the node's author, the room, and participant
// rows for both the author and the observing agent.
func (r *Registrar) EnsureConnection(ctx context.Context, node *Node, roomID, agentID uuid.UUID) error {
	if node == nil {
		return errors.New("node is nil")
	}
	accountID := memory.AccountID(node.AuthorID)

	if err := r.ensureAccount(ctx, accountID, node.AuthorUsername, node.AuthorName, node.Source); err != nil {
		return err
	}
	if err := r.ensureRoom(ctx, roomID, node.Source); err != nil {
		return err
	}
	if err := r.ensureParticipant(ctx, roomID, accountID); err != nil {
		return err
	}
	if err := r.ensureParticipant(ctx, roomID, agentID); err != nil {
		return err
	}

	r.logger.Debug().
		Str("account_id", accountID.String()).
		Str("room_id", roomID.String()).
		Msg("connection ensured")
	return nil
}

func (r *Registrar) ensureAccount(ctx context.Context, id uuid.UUID, username, name, source string) error {
	query := sq.Insert("accounts").
		Columns("id", "username", "name", "source", "created_at").
		Values(id.String(), username, name, source, time.Now().Unix())
	return r.execIgnored(ctx, query, "insert account")
}

func (r *Registrar) ensureRoom(ctx context.Context, id uuid.UUID, source string) error {
	query := sq.Insert("rooms").
		Columns("id", "source", "created_at").
		Values(id.String(), source, time.Now().Unix())
	return r.execIgnored(ctx, query, "insert room")
}

func (r *Registrar) ensureParticipant(ctx context.Context, roomID, accountID uuid.UUID) error {
	query := sq.Insert("participants").
		Columns("room_id", "account_id", "created_at").
		Values(roomID.String(), accountID.String(), time.Now().Unix())
	return r.execIgnored(ctx, query, "insert participant")
}

func (r *Registrar) execIgnored(ctx context.Context, query sq.InsertBuilder, what string) error {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	// SQLite requires "OR IGNORE" to come after "INSERT".
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
	if _, err := r.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
