package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/arena/internal/adapters/graph"
	"github.com/okian/arena/internal/adapters/mq/queue"
	"github.com/okian/arena/internal/adapters/mq/worker"
	"github.com/okian/arena/internal/domain/dedupe"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init("text"); err != nil {
		panic(err)
	}
}

// edgeSet is an idempotent fake graph keyed by edge id.
type edgeSet struct {
	mu       sync.Mutex
	edges    map[string]model.Edge
	calls    int
	failures int
}

func newEdgeSet(failures int) *edgeSet {
	return &edgeSet{edges: map[string]model.Edge{}, failures: failures}
}

func (s *edgeSet) UpsertEdges(_ context.Context, edges []model.Edge) (graph.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return graph.OutcomeEmpty, errors.New("graph unavailable")
	}
	out := graph.OutcomeEmpty
	for _, e := range edges {
		if _, ok := s.edges[e.ID]; ok && e.IsConfirmNew {
			continue
		}
		s.edges[e.ID] = e
		out = graph.OutcomeOK
	}
	return out, nil
}

func (s *edgeSet) snapshot() (map[string]model.Edge, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]model.Edge, len(s.edges))
	for k, v := range s.edges {
		cp[k] = v
	}
	return cp, s.calls
}

func edgeBatch(id string, n int) model.EdgeBatch {
	b := model.EdgeBatch{ID: id, GameID: "g1", Action: model.EdgeActionInsert}
	for i := range n {
		b.Edges = append(b.Edges, model.NewEdge(fmt.Sprintf("u%d", i), "g1_game-group", model.EdgeInCompetitionWith, nil))
	}
	return b
}

func eventually(check func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestEdgePool(t *testing.T) {
	Convey("Given an edge pool over a delay queue", t, func() {
		ctx := context.Background()
		q := queue.NewDelayQueue(queue.WithCapacity(100))

		Convey("When the same batch is delivered twice", func() {
			g := newEdgeSet(0)
			pool := worker.NewPool(2, q, g)
			pool.Start(ctx)
			So(q.Enqueue(ctx, edgeBatch("b1", 25), 0), ShouldBeNil)
			So(q.Enqueue(ctx, edgeBatch("b1", 25), 0), ShouldBeNil)

			Convey("Then the final edge set equals a single delivery", func() {
				So(eventually(func() bool { _, calls := g.snapshot(); return calls == 2 }), ShouldBeTrue)
				edges, _ := g.snapshot()
				So(edges, ShouldHaveLength, 25)
				So(edges, ShouldContainKey, "u0-g1_game-group")
				So(pool.Shutdown(ctx), ShouldBeNil)
			})
		})

		Convey("When the graph fails twice before recovering", func() {
			g := newEdgeSet(2)
			pool := worker.NewPool(1, q, g, worker.WithRedeliveryDelay(5*time.Millisecond))
			pool.Start(ctx)
			So(q.Enqueue(ctx, edgeBatch("b1", 3), 0), ShouldBeNil)

			Convey("Then the batch is redelivered and eventually applied", func() {
				So(eventually(func() bool { e, _ := g.snapshot(); return len(e) == 3 }), ShouldBeTrue)
				_, calls := g.snapshot()
				So(calls, ShouldEqual, 3)
				So(pool.Shutdown(ctx), ShouldBeNil)
			})
		})

		Convey("When the graph keeps failing", func() {
			g := newEdgeSet(100)
			pool := worker.NewPool(1, q, g,
				worker.WithRedeliveryDelay(time.Millisecond),
				worker.WithMaxReceives(3),
			)
			pool.Start(ctx)
			So(q.Enqueue(ctx, edgeBatch("b1", 3), 0), ShouldBeNil)

			Convey("Then it is dropped after the receive bound", func() {
				So(eventually(func() bool { _, calls := g.snapshot(); return calls == 3 }), ShouldBeTrue)
				time.Sleep(30 * time.Millisecond)
				_, calls := g.snapshot()
				So(calls, ShouldEqual, 3)
				So(q.Len(ctx), ShouldEqual, 0)
				So(pool.Shutdown(ctx), ShouldBeNil)
			})
		})

		Convey("When the pool shuts down with batches still delayed", func() {
			g := newEdgeSet(0)
			pool := worker.NewPool(2, q, g)
			pool.Start(ctx)
			So(q.Enqueue(ctx, edgeBatch("b1", 4), time.Hour), ShouldBeNil)
			So(q.Enqueue(ctx, edgeBatch("b2", 4), time.Hour), ShouldBeNil)
			So(pool.Shutdown(ctx), ShouldBeNil)

			Convey("Then the delayed batches are applied before it returns", func() {
				edges, calls := g.snapshot()
				So(calls, ShouldEqual, 2)
				So(edges, ShouldHaveLength, 4)
				So(q.IsClosed(), ShouldBeTrue)
			})
		})

		Reset(func() { _ = q.Close() })
	})
}

type recordingHandler struct {
	mu    sync.Mutex
	seen  map[string][]string
	fails map[string]int
}

func (h *recordingHandler) Handle(_ context.Context, c model.Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fails[c.ID] > 0 {
		h.fails[c.ID]--
		return errors.New("transient")
	}
	h.seen[c.Key()] = append(h.seen[c.Key()], c.ID)
	return nil
}

func (h *recordingHandler) handled(key string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen[key]...)
}

type staticSource struct {
	chans []chan model.Change
}

func (s *staticSource) Partitions() []<-chan model.Change {
	out := make([]<-chan model.Change, len(s.chans))
	for i, ch := range s.chans {
		out[i] = ch
	}
	return out
}

func insert(id, gameID string) model.Change {
	g := model.Game{GameID: gameID, ClientID: "c1"}
	return model.Change{ID: id, Kind: model.ChangeInsert, New: &g}
}

func TestChangePool(t *testing.T) {
	Convey("Given a change pool with a deduper", t, func() {
		ctx := context.Background()
		src := &staticSource{chans: []chan model.Change{make(chan model.Change, 10)}}
		h := &recordingHandler{seen: map[string][]string{}, fails: map[string]int{"c2": 1}}
		pool := worker.NewChangePool(src, h, worker.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(16))))
		pool.Start(ctx)

		Convey("When changes arrive with a redelivered duplicate and a transient failure", func() {
			src.chans[0] <- insert("c1", "g1")
			src.chans[0] <- insert("c1", "g1")
			src.chans[0] <- insert("c2", "g1")
			src.chans[0] <- insert("c3", "g1")
			close(src.chans[0])
			So(pool.Wait(ctx), ShouldBeNil)

			Convey("Then each change is handled once and in order", func() {
				So(h.handled("g1"), ShouldResemble, []string{"c1", "c2", "c3"})
			})
		})
	})
}
