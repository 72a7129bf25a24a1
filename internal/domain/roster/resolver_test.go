package roster_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/roster"
	"github.com/okian/arena/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init("text"); err != nil {
		panic(err)
	}
}

type fakeHierarchy struct {
	mu        sync.Mutex
	subGroups map[string][]string
	users     map[string][]string
	failUsers map[string]int // group -> offset that fails
	calls     []string
}

func (f *fakeHierarchy) ActiveSubGroups(_ context.Context, groupID string, offset, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("sg:%s:%d", groupID, offset))
	return page(f.subGroups[groupID], offset, limit), nil
}

func (f *fakeHierarchy) ActiveUsers(_ context.Context, groupID string, offset, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("u:%s:%d", groupID, offset))
	if at, ok := f.failUsers[groupID]; ok && at == offset {
		return nil, errors.New("graph unavailable")
	}
	return page(f.users[groupID], offset, limit), nil
}

func page(all []string, offset, limit int) []string {
	if offset >= len(all) {
		return nil
	}
	return all[offset:min(offset+limit, len(all))]
}

type fakeDirectory struct {
	mu      sync.Mutex
	batches []int
	fail    bool
}

func (f *fakeDirectory) GetByIDs(_ context.Context, ids []string) ([]model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, len(ids))
	if f.fail {
		return nil, errors.New("directory down")
	}
	out := make([]model.Identity, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Identity{EntityID: id, FirstName: "F" + id, GroupID: "dept"})
	}
	return out, nil
}

func userIDs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	Convey("Given a team without sub-groups spanning several pages", t, func() {
		h := &fakeHierarchy{users: map[string][]string{"team": userIDs("u", 250)}}
		d := &fakeDirectory{}
		r := roster.NewResolver(h, d)

		got := r.Resolve(ctx, []string{"team"}, roster.ModeCreate)

		Convey("Then every page is fetched until the short page", func() {
			So(got.Partial, ShouldBeFalse)
			So(len(got.Participants), ShouldEqual, 250)
			So(h.calls, ShouldResemble, []string{"sg:team:0", "u:team:0", "u:team:100", "u:team:200"})
		})

		Convey("Then identities are looked up in batches of at most 100", func() {
			So(d.batches, ShouldResemble, []int{100, 100, 50})
			So(got.Participants[0].DepartmentID, ShouldEqual, "dept")
		})
	})

	Convey("Given an exactly full last page", t, func() {
		h := &fakeHierarchy{users: map[string][]string{"team": userIDs("u", 100)}}
		r := roster.NewResolver(h, &fakeDirectory{})

		got := r.Resolve(ctx, []string{"team"}, roster.ModeCreate)

		Convey("Then one extra empty page ends the loop", func() {
			So(len(got.Participants), ShouldEqual, 100)
			So(h.calls, ShouldResemble, []string{"sg:team:0", "u:team:0", "u:team:100"})
		})
	})

	Convey("Given overlapping teams and sub-groups", t, func() {
		h := &fakeHierarchy{
			subGroups: map[string][]string{"t1": {"s1", "s2"}},
			users: map[string][]string{
				"s1": {"a", "b"},
				"s2": {"b", "c"},
				"t2": {"c", "d", "a"},
			},
		}
		r := roster.NewResolver(h, &fakeDirectory{})

		got := r.Resolve(ctx, []string{"t1", "t2"}, roster.ModeSchedule)

		Convey("Then each entity appears once in first-seen order", func() {
			ids := make([]string, 0, len(got.Participants))
			for _, p := range got.Participants {
				ids = append(ids, p.EntityID)
			}
			So(ids, ShouldResemble, []string{"a", "b", "c", "d"})
		})
	})

	Convey("Given a team with more than ten sub-groups", t, func() {
		subs := userIDs("sg", 12)
		users := map[string][]string{}
		for _, sg := range subs {
			users[sg] = []string{"user-of-" + sg}
		}
		newResolver := func() *roster.Resolver {
			return roster.NewResolver(&fakeHierarchy{
				subGroups: map[string][]string{"team": subs},
				users:     users,
			}, &fakeDirectory{})
		}

		Convey("Then the create path expands only the first ten", func() {
			got := newResolver().Resolve(ctx, []string{"team"}, roster.ModeCreate)
			So(len(got.Participants), ShouldEqual, 10)
		})

		Convey("Then the schedule path expands all of them", func() {
			got := newResolver().Resolve(ctx, []string{"team"}, roster.ModeSchedule)
			So(len(got.Participants), ShouldEqual, 12)
		})
	})

	Convey("Given a page that fails mid-loop", t, func() {
		h := &fakeHierarchy{
			users:     map[string][]string{"team": userIDs("u", 150), "other": {"x"}},
			failUsers: map[string]int{"team": 100},
		}
		r := roster.NewResolver(h, &fakeDirectory{})

		got := r.Resolve(ctx, []string{"team", "other"}, roster.ModeCreate)

		Convey("Then what was accumulated is kept and the roster is partial", func() {
			So(got.Partial, ShouldBeTrue)
			So(got.Err, ShouldNotBeNil)
			So(len(got.Participants), ShouldEqual, 101)
		})
	})

	Convey("Given a failing directory", t, func() {
		h := &fakeHierarchy{users: map[string][]string{"team": {"a"}}}
		got := roster.NewResolver(h, &fakeDirectory{fail: true}).Resolve(ctx, []string{"team"}, roster.ModeCreate)

		So(got.Partial, ShouldBeTrue)
		So(got.Participants, ShouldBeEmpty)
	})

	Convey("Given an accumulation limit", t, func() {
		h := &fakeHierarchy{users: map[string][]string{"team": userIDs("u", 500)}}
		r := roster.NewResolver(h, &fakeDirectory{}, roster.WithMaxUsers(150))

		got := r.Resolve(ctx, []string{"team"}, roster.ModeSchedule)

		Convey("Then paging stops once the limit is reached", func() {
			So(len(got.Participants), ShouldEqual, 150)
			So(len(h.calls), ShouldEqual, 3)
		})
	})
}
