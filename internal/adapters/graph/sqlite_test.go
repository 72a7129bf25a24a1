package graph_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/okian/arena/internal/adapters/graph"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init("text"); err != nil {
		panic(err)
	}
}

func openStore(t *testing.T) *graph.Store {
	t.Helper()
	s, err := graph.Open(context.Background(), filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("open graph: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func gameNodes(gameID string) []model.Node {
	return []model.Node{
		{ID: gameID, Label: "Game", Type: model.NodeTypeGame},
		{ID: model.GameGroupNodeID(gameID), Label: "GameGroup", Type: model.NodeTypeGameGroup, Owner: gameID},
	}
}

func TestStoreUpserts(t *testing.T) {
	Convey("Given an empty graph store", t, func() {
		ctx := context.Background()
		s := openStore(t)

		Convey("When nodes are upserted twice", func() {
			out1, err1 := s.UpsertNodes(ctx, gameNodes("g1"))
			nodes := gameNodes("g1")
			nodes[0].Payload = map[string]any{"title": "renamed"}
			out2, err2 := s.UpsertNodes(ctx, nodes)

			Convey("Then both succeed and the latest payload wins", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(out1, ShouldEqual, graph.OutcomeOK)
				So(out2, ShouldEqual, graph.OutcomeOK)
				res, err := s.Query(ctx, "g1", graph.QueryNode)
				So(err, ShouldBeNil)
				So(res.Nodes[0].Payload["title"], ShouldEqual, "renamed")
			})
		})

		Convey("When nothing is submitted", func() {
			out, err := s.UpsertNodes(ctx, nil)

			Convey("Then the outcome is empty", func() {
				So(err, ShouldBeNil)
				So(out, ShouldEqual, graph.OutcomeEmpty)
			})
		})

		Convey("When the same confirm-new edge batch is applied twice", func() {
			_, _ = s.UpsertNodes(ctx, gameNodes("g1"))
			group := model.GameGroupNodeID("g1")
			batch := []model.Edge{
				model.NewEdge(group, "g1", model.EdgeHasGame, nil),
				model.NewEdge("u1", group, model.EdgeInCompetitionWith, nil),
				model.NewEdge(group, "u1", model.EdgeHasCompetitor, nil),
			}
			out1, err1 := s.UpsertEdges(ctx, batch)
			out2, err2 := s.UpsertEdges(ctx, batch)

			Convey("Then the second delivery writes nothing and the edge set is unchanged", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(out1, ShouldEqual, graph.OutcomeOK)
				So(out2, ShouldEqual, graph.OutcomeEmpty)
				res, err := s.Query(ctx, group, graph.QueryOutgoing)
				So(err, ShouldBeNil)
				So(res.Edges, ShouldHaveLength, 2)
				So(res.Edges[0].ID, ShouldEqual, group+"-g1")
			})
		})

		Convey("When an edge lacks an end", func() {
			_, err := s.UpsertEdges(ctx, []model.Edge{{ID: "x", FromID: "a"}})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, graph.ErrInvalidElement), ShouldBeTrue)
			})
		})

		Convey("When an unknown query is run", func() {
			_, err := s.Query(ctx, "g1", "shortest-path")

			Convey("Then ErrUnknownQuery is returned", func() {
				So(errors.Is(err, graph.ErrUnknownQuery), ShouldBeTrue)
			})
		})
	})
}

func TestStoreDeleteNode(t *testing.T) {
	Convey("Given a game with its group node and participant edges", t, func() {
		ctx := context.Background()
		s := openStore(t)
		group := model.GameGroupNodeID("g1")
		_, err := s.UpsertNodes(ctx, gameNodes("g1"))
		So(err, ShouldBeNil)
		_, err = s.UpsertEdges(ctx, []model.Edge{
			model.NewEdge(group, "g1", model.EdgeHasGame, nil),
			model.NewEdge("g1", "kpi-1", model.EdgeMeasuredBy, nil),
			model.NewEdge("u1", group, model.EdgeInCompetitionWith, nil),
			model.NewEdge(group, "u1", model.EdgeHasCompetitor, nil),
			model.NewEdge("u1", "other", model.EdgeInCompetitionWith, nil),
		})
		So(err, ShouldBeNil)

		Convey("When the game node is deleted", func() {
			out, err := s.DeleteNode(ctx, "g1")

			Convey("Then the owned group node and every incident edge are gone", func() {
				So(err, ShouldBeNil)
				So(out, ShouldEqual, graph.OutcomeOK)
				res, _ := s.Query(ctx, group, graph.QueryNode)
				So(res.Outcome, ShouldEqual, graph.OutcomeEmpty)
				res, _ = s.Query(ctx, "u1", graph.QueryOutgoing)
				So(res.Edges, ShouldHaveLength, 1)
				So(res.Edges[0].ToID, ShouldEqual, "other")
			})

			Convey("Then deleting again is an empty no-op", func() {
				out, err := s.DeleteNode(ctx, "g1")
				So(err, ShouldBeNil)
				So(out, ShouldEqual, graph.OutcomeEmpty)
			})

			Convey("Then a late edge batch for the deleted nodes writes nothing", func() {
				out, err := s.UpsertEdges(ctx, []model.Edge{
					model.NewEdge(group, "g1", model.EdgeHasGame, nil),
					model.NewEdge("u2", group, model.EdgeInCompetitionWith, nil),
					model.NewEdge(group, "u2", model.EdgeHasCompetitor, nil),
				})
				So(err, ShouldBeNil)
				So(out, ShouldEqual, graph.OutcomeEmpty)
				res, _ := s.Query(ctx, group, graph.QueryOutgoing)
				So(res.Edges, ShouldBeEmpty)
				res, _ = s.Query(ctx, "u2", graph.QueryOutgoing)
				So(res.Edges, ShouldBeEmpty)
			})

			Convey("Then upserting the node again accepts its edges", func() {
				_, err := s.UpsertNodes(ctx, gameNodes("g1"))
				So(err, ShouldBeNil)
				out, err := s.UpsertEdges(ctx, []model.Edge{model.NewEdge(group, "g1", model.EdgeHasGame, nil)})
				So(err, ShouldBeNil)
				So(out, ShouldEqual, graph.OutcomeOK)
			})
		})
	})
}

func TestStoreHierarchy(t *testing.T) {
	Convey("Given a team with active and inactive members", t, func() {
		ctx := context.Background()
		s, err := graph.Open(ctx, "")
		So(err, ShouldBeNil)
		defer s.Close()

		nodes := []model.Node{{ID: "team", Label: "Group", Type: "group", Payload: map[string]any{"active": true}}}
		var edges []model.Edge
		for i := range 5 {
			id := fmt.Sprintf("u%d", i)
			nodes = append(nodes, model.Node{ID: id, Label: "User", Type: "user", Payload: map[string]any{"active": i != 2}})
			edges = append(edges, model.NewEdge("team", id, model.EdgeHasMember, nil))
		}
		nodes = append(nodes, model.Node{ID: "sub", Label: "Group", Type: "group", Payload: map[string]any{"active": true}})
		edges = append(edges, model.NewEdge("team", "sub", model.EdgeHasSubGroup, nil))
		_, err = s.UpsertNodes(ctx, nodes)
		So(err, ShouldBeNil)
		_, err = s.UpsertEdges(ctx, edges)
		So(err, ShouldBeNil)

		Convey("When paging active users two at a time", func() {
			first, err1 := s.ActiveUsers(ctx, "team", 0, 2)
			second, err2 := s.ActiveUsers(ctx, "team", 2, 2)
			third, err3 := s.ActiveUsers(ctx, "team", 4, 2)

			Convey("Then inactive users are skipped and the last page is short", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(err3, ShouldBeNil)
				So(first, ShouldResemble, []string{"u0", "u1"})
				So(second, ShouldResemble, []string{"u3", "u4"})
				So(third, ShouldBeEmpty)
			})
		})

		Convey("When listing sub-groups", func() {
			subs, err := s.ActiveSubGroups(ctx, "team", 0, 100)

			Convey("Then only HAS_SUB_GROUP targets are returned", func() {
				So(err, ShouldBeNil)
				So(subs, ShouldResemble, []string{"sub"})
			})
		})
	})
}
