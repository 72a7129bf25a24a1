package graph

import (
	"context"
	"fmt"

	"github.com/okian/arena/internal/domain/model"
)

// Walk follows outgoing edges from rootID, one label per hop, and returns
// the distinct nodes reached after the last hop. A node is expanded at most
// once, so cycles terminate.
func Walk(ctx context.Context, q Querier, rootID string, labels ...string) ([]model.Node, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	visited := map[string]struct{}{rootID: {}}
	frontier := []string{rootID}
	var reached []model.Node

	for depth, label := range labels {
		last := depth == len(labels)-1
		next := make([]string, 0)
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res, err := q.Query(ctx, id, QueryOutgoing)
			if err != nil {
				return nil, fmt.Errorf("walk %s at depth %d: %w", id, depth, err)
			}
			nodes := make(map[string]model.Node, len(res.Nodes))
			for _, n := range res.Nodes {
				nodes[n.ID] = n
			}
			for _, e := range res.Edges {
				if e.Label != label {
					continue
				}
				if _, seen := visited[e.ToID]; seen {
					continue
				}
				visited[e.ToID] = struct{}{}
				next = append(next, e.ToID)
				if last {
					if n, ok := nodes[e.ToID]; ok {
						reached = append(reached, n)
					}
				}
			}
		}
		frontier = next
	}
	return reached, nil
}
