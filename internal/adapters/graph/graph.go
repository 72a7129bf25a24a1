// Package graph is the relationship store holding games, groups and users
// as nodes and edges.
package graph

import (
	"context"

	"github.com/okian/arena/internal/domain/model"
)

// Outcome distinguishes a write that changed the graph from one that did not.
type Outcome int

const (
	// OutcomeEmpty means the call succeeded but nothing was written or removed.
	OutcomeEmpty Outcome = iota
	// OutcomeOK means at least one row was written or removed.
	OutcomeOK
)

func (o Outcome) String() string {
	if o == OutcomeOK {
		return "ok"
	}
	return "empty"
}

// Named queries understood by Query.
const (
	QueryOutgoing = "outgoing"
	QueryIncoming = "incoming"
	QueryNode     = "node"
)

// Result is the answer to a named query.
type Result struct {
	Outcome Outcome
	Nodes   []model.Node
	Edges   []model.Edge
}

// Querier runs named read queries.
type Querier interface {
	Query(ctx context.Context, nodeID, queryName string) (Result, error)
}

// Graph is the graph collaborator.
type Graph interface {
	Querier
	UpsertNodes(ctx context.Context, nodes []model.Node) (Outcome, error)
	UpsertEdges(ctx context.Context, edges []model.Edge) (Outcome, error)
	// DeleteNode removes the node, the nodes it owns, and every incident edge.
	DeleteNode(ctx context.Context, id string) (Outcome, error)
}
