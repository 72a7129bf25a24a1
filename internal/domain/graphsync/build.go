package graphsync

import (
	"fmt"

	"github.com/okian/arena/internal/domain/model"
)

// Node labels.
const (
	LabelGame      = "Game"
	LabelGameGroup = "GameGroup"
)

// Representation is the graph form of one game.
type Representation struct {
	Nodes []model.Node
	Edges []model.Edge
}

// Build returns the game node, its group node and every edge of g. The
// group node is owned by the game node so deleting the game removes both.
func Build(g model.Game) Representation {
	groupID := model.GameGroupNodeID(g.GameID)
	nodes := []model.Node{
		{
			ID:    g.GameID,
			Label: LabelGame,
			Type:  model.NodeTypeGame,
			Payload: map[string]any{
				"clientId": g.ClientID,
				"title":    g.Title,
				"kpiId":    g.KPIID,
				"isDuel":   g.IsDuel,
				"schedule": string(g.Schedule),
			},
		},
		{
			ID:      groupID,
			Label:   LabelGameGroup,
			Type:    model.NodeTypeGameGroup,
			Owner:   g.GameID,
			Payload: map[string]any{"gameId": g.GameID},
		},
	}

	edges := make([]model.Edge, 0, 2+2*len(g.Profiles))
	edges = append(edges, model.NewEdge(groupID, g.GameID, model.EdgeHasGame, nil))
	if g.KPIID != "" {
		edges = append(edges, model.NewEdge(g.GameID, g.KPIID, model.EdgeMeasuredBy, nil))
	}
	for _, p := range g.Profiles {
		if p.EntityID == "" {
			continue
		}
		edges = append(edges,
			model.NewEdge(p.EntityID, groupID, model.EdgeInCompetitionWith, nil),
			model.NewEdge(groupID, p.EntityID, model.EdgeHasCompetitor, nil),
		)
	}
	return Representation{Nodes: nodes, Edges: edges}
}

// Batches splits edges into insert batches of at most size edges each.
func Batches(gameID string, edges []model.Edge, size int) []model.EdgeBatch {
	if size <= 0 {
		size = defaultBatchSize
	}
	out := make([]model.EdgeBatch, 0, (len(edges)+size-1)/size)
	for start := 0; start < len(edges); start += size {
		end := min(start+size, len(edges))
		out = append(out, model.EdgeBatch{
			ID:     fmt.Sprintf("%s/%d", gameID, len(out)),
			GameID: gameID,
			Action: model.EdgeActionInsert,
			Edges:  edges[start:end:end],
		})
	}
	return out
}
