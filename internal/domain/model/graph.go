package model

// NodeType is the kind of a graph node produced by this system.
type NodeType string

// Node types.
const (
	NodeTypeGame      NodeType = "game"
	NodeTypeGameGroup NodeType = "game_group"
)

// Edge labels.
const (
	EdgeHasGame           = "HAS_GAME"
	EdgeMeasuredBy        = "MEASURED_BY"
	EdgeInCompetitionWith = "IN_COMPETITION_WITH"
	EdgeHasCompetitor     = "HAS_COMPETITOR"

	// Organisational hierarchy, maintained outside this system.
	EdgeHasSubGroup = "HAS_SUB_GROUP"
	EdgeHasMember   = "HAS_MEMBER"
)

const gameGroupSuffix = "_game-group"

// Node is a graph vertex. A node with an Owner is removed together with
// its owner.
type Node struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	Type    NodeType       `json:"type"`
	Owner   string         `json:"owner,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Edge is a directed graph relationship. ID is always EdgeID(FromID, ToID).
type Edge struct {
	ID           string         `json:"id"`
	FromID       string         `json:"fromId"`
	ToID         string         `json:"toId"`
	Label        string         `json:"label"`
	Payload      map[string]any `json:"payload,omitempty"`
	IsConfirmNew bool           `json:"isConfirmNew"`
}

// EdgeID derives the idempotency key of an edge.
func EdgeID(fromID, toID string) string {
	return fromID + "-" + toID
}

// NewEdge builds an edge with its deterministic id.
func NewEdge(fromID, toID, label string, payload map[string]any) Edge {
	return Edge{
		ID:           EdgeID(fromID, toID),
		FromID:       fromID,
		ToID:         toID,
		Label:        label,
		Payload:      payload,
		IsConfirmNew: true,
	}
}

// GameGroupNodeID is the id of the join node that carries participant edges.
func GameGroupNodeID(gameID string) string {
	return gameID + gameGroupSuffix
}
