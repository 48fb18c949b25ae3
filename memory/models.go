package memory

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Table names the partition a memory lives in. Partitions are searched
// independently: message history never bleeds into knowledge fragments.
type Table string

const (
	TableMessages  Table = "messages"
	TableDocuments Table = "documents"
	TableFragments Table = "fragments"
	TableFacts     Table = "facts"
)

// Content is the payload of a memory. Platform-specific fields that do not
// map onto the shared shape ride along in Extra and are flattened into the
// stored JSON object.
type Content struct {
	Text      string         `json:"text"`
	Source    string         `json:"source,omitempty"`
	URL       string         `json:"url,omitempty"`
	InReplyTo *uuid.UUID     `json:"inReplyTo,omitempty"`
	Extra     map[string]any `json:"-"`
}

// reserved keys always come from the typed fields, never from Extra.
var contentReserved = map[string]bool{
	"text": true, "source": true, "url": true, "inReplyTo": true,
}

// MarshalJSON flattens Extra into the top-level object so platform clients
// can round-trip their own fields without a nested envelope.
func (c Content) MarshalJSON() ([]byte, error) {
	type alias Content
	base, err := json.Marshal(alias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if contentReserved[k] {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits unknown top-level keys back out into Extra.
func (c *Content) UnmarshalJSON(data []byte) error {
	type alias Content
	var base alias
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Content(base)
	for k, v := range raw {
		if contentReserved[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = val
	}
	return nil
}

// Memory is a single persisted content record: a message, a document, a
// document fragment, or a fact. IDs are deterministic hashes of the
// originating platform identifier, so re-ingesting the same external item
// collapses into the same row.
type Memory struct {
	ID        uuid.UUID `json:"id"`
	AgentID   uuid.UUID `json:"agent_id"`
	UserID    uuid.UUID `json:"user_id"`
	RoomID    uuid.UUID `json:"room_id"`
	Content   Content   `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// Unique records the duplicate-gate verdict at write time. It is advisory
	// and never recomputed after insert.
	Unique bool `json:"unique"`
}

// SearchQuery controls an embedding similarity search.
type SearchQuery struct {
	Embedding []float32
	AgentID   uuid.UUID
	RoomIDs   []uuid.UUID
	Table     Table
	// MatchThreshold drops results whose cosine similarity is below it.
	// Zero means no threshold.
	MatchThreshold float64
	// Count caps the number of results. Zero means the store default.
	Count int
	// UniqueOnly restricts results to memories that passed the duplicate gate.
	UniqueOnly bool
}

// SearchResult pairs a memory with its similarity to the query embedding.
type SearchResult struct {
	Memory     *Memory
	Similarity float64
}
