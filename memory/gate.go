package memory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// UniqueScope restricts the duplicate gate to one (agent, room, table)
// partition. Near-duplicates in other rooms or tables do not count.
type UniqueScope struct {
	AgentID uuid.UUID
	RoomID  uuid.UUID
	Table   Table
}

// IsUnique decides whether a candidate embedding is meaningfully new within
// the given scope. It samples up to count nearest neighbors and returns true
// iff none of them reaches the threshold; the boundary is inclusive, so a
// neighbor at exactly the threshold flags the candidate as a duplicate.
//
// A failed neighbor query propagates: the caller is expected to abort the
// enclosing write rather than guess at uniqueness.
func (s *Store) IsUnique(ctx context.Context, embedding []float32, scope UniqueScope, threshold float64, count int) (bool, error) {
	if len(embedding) == 0 {
		// No embedding means nothing to compare against; callers skip the
		// gate in this case and default to unique.
		return true, nil
	}
	if scope.Table == "" {
		return false, errors.New("table is empty")
	}
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	if count <= 0 {
		count = DefaultUniqueSampleCount
	}

	results, err := s.SearchByEmbedding(ctx, &SearchQuery{
		Embedding: embedding,
		AgentID:   scope.AgentID,
		RoomIDs:   []uuid.UUID{scope.RoomID},
		Table:     scope.Table,
		Count:     count,
	})
	if err != nil {
		return false, err
	}

	for _, r := range results {
		if r.Similarity >= threshold {
			s.logger.Debug().
				Str("method", "IsUnique").
				Str("neighbor", r.Memory.ID.String()).
				Float64("similarity", r.Similarity).
				Float64("threshold", threshold).
				Msg("near-duplicate neighbor found")
			return false, nil
		}
	}
	return true, nil
}
