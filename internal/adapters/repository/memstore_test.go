package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/arena/internal/adapters/repository"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init("text"); err != nil {
		panic(err)
	}
}

type recordingSink struct {
	mu      sync.Mutex
	changes []model.Change
	fail    bool
}

func (r *recordingSink) Publish(_ context.Context, c model.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("stream closed")
	}
	r.changes = append(r.changes, c)
	return nil
}

func (r *recordingSink) kinds() []model.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ChangeKind, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Kind)
	}
	return out
}

func game(id, client string, created time.Time) model.Game {
	return model.Game{
		GameID:    id,
		ClientID:  client,
		Profiles:  []model.Participant{{EntityID: "u1"}, {EntityID: "u2"}},
		Schedule:  model.RecurrenceOnce,
		StartDate: created,
		EndDate:   created.Add(time.Hour),
		CreatedAt: created,
	}
}

func TestMemoryStoreWrites(t *testing.T) {
	Convey("Given a memory store with a change sink", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		s := repository.NewMemoryStore(repository.WithChangeSink(sink))
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		Convey("When a game is put twice", func() {
			g := game("g1", "c1", base)
			So(s.Put(ctx, g), ShouldBeNil)
			g.Title = "renamed"
			So(s.Put(ctx, g), ShouldBeNil)

			Convey("Then INSERT then MODIFY are emitted with the right images", func() {
				So(sink.kinds(), ShouldResemble, []model.ChangeKind{model.ChangeInsert, model.ChangeModify})
				So(sink.changes[0].Old, ShouldBeNil)
				So(sink.changes[1].Old.Title, ShouldEqual, "")
				So(sink.changes[1].New.Title, ShouldEqual, "renamed")
				So(sink.changes[0].ID, ShouldNotEqual, sink.changes[1].ID)
			})
		})

		Convey("When an invalid game is put", func() {
			err := s.Put(ctx, model.Game{GameID: "g1"})

			Convey("Then it is rejected and nothing is emitted", func() {
				So(errors.Is(err, model.ErrInvalidGame), ShouldBeTrue)
				So(sink.kinds(), ShouldBeEmpty)
			})
		})

		Convey("When a stored game is patched", func() {
			So(s.Put(ctx, game("g1", "c1", base)), ShouldBeNil)
			w := model.Participant{EntityID: "u1", Score: 3}
			got, err := s.Update(ctx, "g1", repository.Patch{
				IsComplete:    repository.Bool(true),
				WinnerProfile: &w,
			})

			Convey("Then only the patched fields change", func() {
				So(err, ShouldBeNil)
				So(got.IsComplete, ShouldBeTrue)
				So(got.WinnerProfile.EntityID, ShouldEqual, "u1")
				So(got.IsArchived, ShouldBeFalse)
				So(got.Profiles, ShouldHaveLength, 2)
				So(sink.kinds(), ShouldResemble, []model.ChangeKind{model.ChangeInsert, model.ChangeModify})
				So(sink.changes[1].Old.IsComplete, ShouldBeFalse)
			})
		})

		Convey("When an absent game is patched", func() {
			_, err := s.Update(ctx, "missing", repository.Patch{IsArchived: repository.Bool(true)})

			Convey("Then ErrNotFound is returned", func() {
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When a game is deleted twice", func() {
			So(s.Put(ctx, game("g1", "c1", base)), ShouldBeNil)
			So(s.Delete(ctx, "g1"), ShouldBeNil)
			So(s.Delete(ctx, "g1"), ShouldBeNil)

			Convey("Then a single REMOVE carrying the old image is emitted", func() {
				So(sink.kinds(), ShouldResemble, []model.ChangeKind{model.ChangeInsert, model.ChangeRemove})
				So(sink.changes[1].Old.GameID, ShouldEqual, "g1")
				_, err := s.Get(ctx, "g1")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the sink fails", func() {
			sink.fail = true
			err := s.Put(ctx, game("g1", "c1", base))

			Convey("Then the write still succeeds", func() {
				So(err, ShouldBeNil)
				_, err := s.Get(ctx, "g1")
				So(err, ShouldBeNil)
			})
		})

		Convey("When a returned game is mutated", func() {
			So(s.Put(ctx, game("g1", "c1", base)), ShouldBeNil)
			got, _ := s.Get(ctx, "g1")
			got.Profiles[0].Score = 99

			Convey("Then the stored copy is untouched", func() {
				again, _ := s.Get(ctx, "g1")
				So(again.Profiles[0].Score, ShouldEqual, 0)
			})
		})
	})
}

func TestMemoryStoreQuery(t *testing.T) {
	Convey("Given games of two clients", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := range 5 {
			g := game(fmt.Sprintf("g%d", i), "c1", base.Add(time.Duration(i)*time.Minute))
			g.IsDuel = i%2 == 0
			So(s.Put(ctx, g), ShouldBeNil)
		}
		So(s.Put(ctx, game("other", "c2", base)), ShouldBeNil)
		w := model.Participant{EntityID: "u1"}
		_, err := s.Update(ctx, "g4", repository.Patch{IsComplete: repository.Bool(true), WinnerProfile: &w})
		So(err, ShouldBeNil)
		_, err = s.Update(ctx, "g3", repository.Patch{IsComplete: repository.Bool(true)})
		So(err, ShouldBeNil)

		Convey("When paging with a limit of two", func() {
			first, err := s.Query(ctx, repository.Query{ClientID: "c1", Limit: 2})
			So(err, ShouldBeNil)
			second, err := s.Query(ctx, repository.Query{ClientID: "c1", Limit: 2, PageToken: first.NextPageToken})
			So(err, ShouldBeNil)
			third, err := s.Query(ctx, repository.Query{ClientID: "c1", Limit: 2, PageToken: second.NextPageToken})
			So(err, ShouldBeNil)

			Convey("Then games come newest first and the last page has no token", func() {
				So(first.Items[0].GameID, ShouldEqual, "g4")
				So(first.Items[1].GameID, ShouldEqual, "g3")
				So(second.Items[0].GameID, ShouldEqual, "g2")
				So(third.Items, ShouldHaveLength, 1)
				So(third.NextPageToken, ShouldEqual, "")
			})
		})

		Convey("When filtering by duel and status", func() {
			duels, err := s.Query(ctx, repository.Query{ClientID: "c1", Duel: repository.Bool(true)})
			So(err, ShouldBeNil)
			done, _ := s.Query(ctx, repository.Query{ClientID: "c1", Status: repository.StatusComplete})
			draws, _ := s.Query(ctx, repository.Query{ClientID: "c1", Status: repository.StatusDraw})
			active, _ := s.Query(ctx, repository.Query{ClientID: "c1", Status: repository.StatusActive})

			Convey("Then each filter applies", func() {
				So(duels.Items, ShouldHaveLength, 3)
				So(done.Items, ShouldHaveLength, 1)
				So(done.Items[0].GameID, ShouldEqual, "g4")
				So(draws.Items, ShouldHaveLength, 1)
				So(draws.Items[0].GameID, ShouldEqual, "g3")
				So(active.Items, ShouldHaveLength, 3)
			})
		})

		Convey("When the query is malformed", func() {
			_, errNoClient := s.Query(ctx, repository.Query{})
			_, errToken := s.Query(ctx, repository.Query{ClientID: "c1", PageToken: "abc"})

			Convey("Then sentinel errors are returned", func() {
				So(errors.Is(errNoClient, repository.ErrNoClient), ShouldBeTrue)
				So(errors.Is(errToken, repository.ErrInvalidQuery), ShouldBeTrue)
			})
		})

		Convey("When listing unarchived games across clients", func() {
			_, err := s.Update(ctx, "g0", repository.Patch{IsArchived: repository.Bool(true)})
			So(err, ShouldBeNil)
			first, err := s.Unarchived(ctx, "", 3)
			So(err, ShouldBeNil)
			second, err := s.Unarchived(ctx, first.NextPageToken, 3)
			So(err, ShouldBeNil)
			_, errToken := s.Unarchived(ctx, "abc", 3)

			Convey("Then archived games are skipped and ids come in order", func() {
				ids := []string{}
				for _, g := range append(first.Items, second.Items...) {
					ids = append(ids, g.GameID)
				}
				So(ids, ShouldResemble, []string{"g1", "g2", "g3", "g4", "other"})
				So(second.NextPageToken, ShouldEqual, "")
				So(errors.Is(errToken, repository.ErrInvalidQuery), ShouldBeTrue)
			})
		})

		Convey("When batch getting known and unknown ids", func() {
			got, err := s.BatchGet(ctx, []string{"g1", "nope", "other"})

			Convey("Then only existing games come back", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
			})
		})
	})
}

func TestMemoryStoreIdentities(t *testing.T) {
	Convey("Given registered identities", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore()
		So(s.PutIdentity(ctx, model.Identity{EntityID: "u1", FirstName: "Ada", GroupID: "team-a"}), ShouldBeNil)
		So(s.PutIdentity(ctx, model.Identity{EntityID: "u2", FirstName: "Lin", GroupID: "team-b"}), ShouldBeNil)

		Convey("When looking up a mix of ids", func() {
			got, err := s.GetByIDs(ctx, []string{"u2", "ghost", "u1"})

			Convey("Then known identities come back in request order", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].EntityID, ShouldEqual, "u2")
				So(got[1].FirstName, ShouldEqual, "Ada")
			})
		})
	})
}

func TestStatus(t *testing.T) {
	Convey("Given listing status strings", t, func() {
		for in, want := range map[string]repository.Status{
			"":         repository.StatusAll,
			"all":      repository.StatusAll,
			"active":   repository.StatusActive,
			"complete": repository.StatusComplete,
			"draw":     repository.StatusDraw,
		} {
			got, err := repository.ParseStatus(in)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, want)
		}
		_, err := repository.ParseStatus("won")
		So(errors.Is(err, repository.ErrInvalidQuery), ShouldBeTrue)
	})
}
