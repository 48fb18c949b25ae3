package memory

import (
	"strings"

	"github.com/google/uuid"
)

// idNamespace scopes every deterministic ID this module produces. Changing it
// would orphan previously ingested rows, so treat it as frozen.
var idNamespace = uuid.MustParse("a67add9c-31f7-4ee0-9297-52c56a094d6a")

// DeterministicID hashes the given parts into a stable UUID. The same parts
// always produce the same ID, which is what makes every write path in this
// module an idempotent upsert: duplicate and concurrent writes of the same
// external item collapse into one row instead of needing row locks.
func DeterministicID(parts ...string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\x1f")))
}

// MemoryID derives the memory row ID for a platform-native item observed by
// an agent. Two agents observing the same item keep separate rows.
func MemoryID(nativeID string, agentID uuid.UUID) uuid.UUID {
	return DeterministicID("memory", nativeID, agentID.String())
}

// RoomID derives the room ID for a platform-native conversation root.
func RoomID(nativeConversationID string, agentID uuid.UUID) uuid.UUID {
	return DeterministicID("room", nativeConversationID, agentID.String())
}

// FragmentID derives the ID of a document chunk from its parent document and
// the chunk text, so re-indexing the same document is a storage no-op.
func FragmentID(documentID uuid.UUID, chunkText string) uuid.UUID {
	return DeterministicID("fragment", documentID.String(), chunkText)
}

// AccountID derives the account row ID for a platform-native user.
func AccountID(nativeUserID string) uuid.UUID {
	return DeterministicID("account", nativeUserID)
}
