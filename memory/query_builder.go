package memory

import (
	sq "github.com/Masterminds/squirrel"
)

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' as placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

// memoryColumns returns the standard column list for memories SELECT queries.
func memoryColumns() []string {
	return []string{
		"id", "agent_id", "user_id", "room_id", "table_name",
		"content", "embedding", "created_at", "is_unique",
	}
}
