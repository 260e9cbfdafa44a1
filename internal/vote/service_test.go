package vote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/metadata"
	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	for _, migrate := range []func(*gorm.DB) error{mc.Migrate, Migrate, metadata.Migrate} {
		if err := migrate(db); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func createMC(t *testing.T, s *Service, name string) *mc.MC {
	t.Helper()
	m, err := mc.Create(context.Background(), s.db, name, s.EmptyAggregate())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func uniform(v int) Scores {
	return Scores{Rhyme: v, Vibes: v, Flow: v, Dialogue: v, Musicality: v}
}

// assertConsistent 从投票表重新计算聚合结果，并与MC行上的字段比较
func assertConsistent(s *Service, mcID uint) {
	var votes []Vote
	So(s.db.Where("mc_id = ?", mcID).Find(&votes).Error, ShouldBeNil)
	scores := make([]Scores, len(votes))
	for i, v := range votes {
		scores[i] = v.Scores()
	}
	want := Aggregate(scores, s.Prior())

	got, err := mc.FindByID(context.Background(), s.db, mcID)
	So(err, ShouldBeNil)
	So(got.VoteCount, ShouldEqual, want.VoteCount)
	So(got.RhymeRaw, ShouldAlmostEqual, want.RhymeRaw, epsilon)
	So(got.VibesScore, ShouldAlmostEqual, want.VibesScore, epsilon)
	So(got.FlowScore, ShouldAlmostEqual, want.FlowScore, epsilon)
	So(got.DialogueScore, ShouldAlmostEqual, want.DialogueScore, epsilon)
	So(got.MusicalityRaw, ShouldAlmostEqual, want.MusicalityRaw, epsilon)
	So(got.TotalRaw, ShouldAlmostEqual, want.TotalRaw, epsilon)
	So(got.TotalScore, ShouldAlmostEqual, want.TotalScore, epsilon)
}

func TestCastVote(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with one MC and no votes", t, func() {
		s := NewService(openTestDB(t))
		m := createMC(t, s, "MU-TON")

		Convey("A new MC ranks with the prior total", func() {
			page, err := s.ListRankings(ctx, RankingQuery{})
			So(err, ShouldBeNil)
			So(len(page.Items), ShouldEqual, 1)
			So(page.Items[0].TotalScore, ShouldEqual, 50.0)
			So(page.Items[0].VoteCount, ShouldEqual, 0)
		})

		Convey("The first and second votes shrink toward the prior", func() {
			updated, err := s.CastVote(ctx, m.ID, "voter-1", uniform(20))
			So(err, ShouldBeNil)
			So(updated.VoteCount, ShouldEqual, 1)
			So(updated.RhymeScore, ShouldAlmostEqual, 120.0/11.0, epsilon)
			So(updated.TotalScore, ShouldAlmostEqual, 600.0/11.0, epsilon)

			updated, err = s.CastVote(ctx, m.ID, "voter-2", uniform(10))
			So(err, ShouldBeNil)
			So(updated.VoteCount, ShouldEqual, 2)
			So(updated.RhymeRaw, ShouldEqual, 15)
			So(updated.RhymeScore, ShouldAlmostEqual, 145.0/12.0, epsilon)

			assertConsistent(s, m.ID)
		})

		Convey("A second vote by the same voter is rejected without writes", func() {
			first, err := s.CastVote(ctx, m.ID, "voter-1", uniform(20))
			So(err, ShouldBeNil)

			_, err = s.CastVote(ctx, m.ID, "voter-1", uniform(1))
			So(err, ShouldEqual, ErrAlreadyVoted)

			after, err := mc.FindByID(ctx, s.db, m.ID)
			So(err, ShouldBeNil)
			So(after.Aggregate, ShouldResemble, first.Aggregate)

			var n int64
			s.db.Model(&Vote{}).Where("mc_id = ?", m.ID).Count(&n)
			So(n, ShouldEqual, 1)
		})

		Convey("Business failures are classified", func() {
			_, err := s.CastVote(ctx, m.ID, "", uniform(10))
			So(err, ShouldEqual, ErrUnauthorized)

			_, err = s.CastVote(ctx, 999, "voter-1", uniform(10))
			So(err, ShouldEqual, ErrNotFound)

			for _, bad := range []Scores{
				{Rhyme: 0, Vibes: 10, Flow: 10, Dialogue: 10, Musicality: 10},
				{Rhyme: 10, Vibes: 21, Flow: 10, Dialogue: 10, Musicality: 10},
				{Rhyme: 10, Vibes: 10, Flow: 10, Dialogue: 10, Musicality: -3},
			} {
				_, err = s.CastVote(ctx, m.ID, "voter-1", bad)
				So(errors.Is(err, ErrInvalidInput), ShouldBeTrue)
			}

			var n int64
			s.db.Model(&Vote{}).Count(&n)
			So(n, ShouldEqual, 0)
		})

		Convey("Storage failures surface as StorageError", func() {
			So(s.db.Migrator().DropTable(&Vote{}), ShouldBeNil)

			_, err := s.CastVote(ctx, m.ID, "voter-1", uniform(10))
			So(errors.Is(err, ErrStorage), ShouldBeTrue)
			var se *StorageError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Op, ShouldNotBeEmpty)
		})

		Convey("MyVote returns the caller's own vote", func() {
			_, err := s.MyVote(ctx, m.ID, "voter-1")
			So(err, ShouldEqual, ErrNotFound)

			_, err = s.CastVote(ctx, m.ID, "voter-1", Scores{1, 2, 3, 4, 5})
			So(err, ShouldBeNil)
			v, err := s.MyVote(ctx, m.ID, "voter-1")
			So(err, ShouldBeNil)
			So(v.Scores(), ShouldResemble, Scores{1, 2, 3, 4, 5})

			_, err = s.MyVote(ctx, m.ID, "")
			So(err, ShouldEqual, ErrUnauthorized)
		})
	})
}

func TestConcurrentVotes(t *testing.T) {
	ctx := context.Background()

	Convey("Given concurrent submissions", t, func() {
		s := NewService(openTestDB(t))
		m := createMC(t, s, "CIMA")

		Convey("Exactly one vote per voter succeeds", func() {
			const attempts = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				rejected  int
				others    []error
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.CastVote(ctx, m.ID, "same-voter", uniform(1+i))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, ErrAlreadyVoted):
						rejected++
					default:
						others = append(others, err)
					}
				}(i)
			}
			wg.Wait()

			So(others, ShouldBeEmpty)
			So(succeeded, ShouldEqual, 1)
			So(rejected, ShouldEqual, attempts-1)

			var n int64
			s.db.Model(&Vote{}).Where("mc_id = ? AND voter_id = ?", m.ID, "same-voter").Count(&n)
			So(n, ShouldEqual, 1)
			assertConsistent(s, m.ID)
		})

		Convey("Distinct voters on one MC keep the aggregate consistent", func() {
			const voters = 12
			var wg sync.WaitGroup
			errs := make([]error, voters)
			for i := 0; i < voters; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = s.CastVote(ctx, m.ID, fmt.Sprintf("voter-%d", i), Scores{1 + i, 20 - i, 5, 1 + i%20, 7})
				}(i)
			}
			wg.Wait()

			for _, err := range errs {
				So(err, ShouldBeNil)
			}
			got, _ := mc.FindByID(ctx, s.db, m.ID)
			So(got.VoteCount, ShouldEqual, voters)
			assertConsistent(s, m.ID)
		})
	})
}

func TestListRankings(t *testing.T) {
	ctx := context.Background()

	Convey("Given several MCs with votes", t, func() {
		s := NewService(openTestDB(t))
		a := createMC(t, s, "A")
		b := createMC(t, s, "B")
		c := createMC(t, s, "C")
		d := createMC(t, s, "D")

		_, err := s.CastVote(ctx, b.ID, "u1", Scores{Rhyme: 20, Vibes: 1, Flow: 20, Dialogue: 20, Musicality: 20})
		So(err, ShouldBeNil)
		_, err = s.CastVote(ctx, c.ID, "u2", Scores{Rhyme: 1, Vibes: 20, Flow: 1, Dialogue: 1, Musicality: 1})
		So(err, ShouldBeNil)

		Convey("Default sort is total desc with id asc tie-break", func() {
			page, err := s.ListRankings(ctx, RankingQuery{})
			So(err, ShouldBeNil)
			So(page.SortKey, ShouldEqual, mc.SortTotal)
			So(page.Page, ShouldEqual, 1)
			So(page.PageSize, ShouldEqual, 20)
			So(page.TotalCount, ShouldEqual, 4)
			So(page.TotalPages, ShouldEqual, 1)

			ids := make([]uint, len(page.Items))
			for i, it := range page.Items {
				ids[i] = it.ID
				So(it.Rank, ShouldEqual, i+1)
			}
			// b 高于先验，a 与 d 持平于先验，c 低于先验
			So(ids, ShouldResemble, []uint{b.ID, a.ID, d.ID, c.ID})
		})

		Convey("Any category can be the sort key", func() {
			page, err := s.ListRankings(ctx, RankingQuery{SortKey: "vibes"})
			So(err, ShouldBeNil)
			So(page.Items[0].ID, ShouldEqual, c.ID)
			So(page.Items[len(page.Items)-1].ID, ShouldEqual, b.ID)
			for i := 1; i < len(page.Items); i++ {
				So(page.Items[i-1].VibesScore, ShouldBeGreaterThanOrEqualTo, page.Items[i].VibesScore)
			}
		})

		Convey("Paging slices the ordered list", func() {
			page, err := s.ListRankings(ctx, RankingQuery{Page: 2, PageSize: 3})
			So(err, ShouldBeNil)
			So(page.TotalPages, ShouldEqual, 2)
			So(len(page.Items), ShouldEqual, 1)
			So(page.Items[0].ID, ShouldEqual, c.ID)
			So(page.Items[0].Rank, ShouldEqual, 4)

			page, err = s.ListRankings(ctx, RankingQuery{Page: 9, PageSize: 3})
			So(err, ShouldBeNil)
			So(page.Items, ShouldBeEmpty)
			So(page.TotalCount, ShouldEqual, 4)

			page, err = s.ListRankings(ctx, RankingQuery{PageSize: 10000})
			So(err, ShouldBeNil)
			So(page.PageSize, ShouldEqual, 100)
		})

		Convey("Invalid queries are rejected", func() {
			_, err := s.ListRankings(ctx, RankingQuery{SortKey: "hype"})
			So(errors.Is(err, ErrInvalidInput), ShouldBeTrue)
			_, err = s.ListRankings(ctx, RankingQuery{Page: -1})
			So(errors.Is(err, ErrInvalidInput), ShouldBeTrue)
			_, err = s.ListRankings(ctx, RankingQuery{PageSize: -5})
			So(errors.Is(err, ErrInvalidInput), ShouldBeTrue)
		})

		Convey("A page number whose offset overflows is rejected", func() {
			page, err := s.ListRankings(ctx, RankingQuery{Page: 1 << 62, PageSize: 4})
			So(errors.Is(err, ErrInvalidInput), ShouldBeTrue)
			So(page, ShouldBeNil)

			_, err = s.ListRankings(ctx, RankingQuery{Page: math.MaxInt})
			So(errors.Is(err, ErrInvalidInput), ShouldBeTrue)

			// 仍可表示的远端页返回空页而不是第一页
			far := (math.MaxInt-4)/4 + 1
			page, err = s.ListRankings(ctx, RankingQuery{Page: far, PageSize: 4})
			So(err, ShouldBeNil)
			So(page.Items, ShouldBeEmpty)
			So(page.TotalCount, ShouldEqual, 4)
		})

		Convey("HasVoted reflects only the viewer's votes", func() {
			page, err := s.ListRankings(ctx, RankingQuery{ViewerID: "u1"})
			So(err, ShouldBeNil)
			for _, it := range page.Items {
				So(it.HasVoted, ShouldEqual, it.ID == b.ID)
			}

			anon, err := s.ListRankings(ctx, RankingQuery{})
			So(err, ShouldBeNil)
			for _, it := range anon.Items {
				So(it.HasVoted, ShouldBeFalse)
			}
		})

		Convey("Reads without intervening writes are identical", func() {
			q := RankingQuery{SortKey: "flow", Page: 1, PageSize: 2, ViewerID: "u2"}
			first, err := s.ListRankings(ctx, q)
			So(err, ShouldBeNil)
			second, err := s.ListRankings(ctx, q)
			So(err, ShouldBeNil)
			So(second, ShouldResemble, first)
		})
	})
}

func TestResetAndRebuild(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	Convey("Given MCs with votes", t, func() {
		s := NewService(openTestDB(t), WithClock(func() time.Time { return fixed }))
		a := createMC(t, s, "A")
		b := createMC(t, s, "B")
		for i, id := range []uint{a.ID, a.ID, b.ID} {
			_, err := s.CastVote(ctx, id, fmt.Sprintf("u%d", i), uniform(3+i))
			So(err, ShouldBeNil)
		}

		Convey("Reset clears votes and restores the prior", func() {
			result, err := s.Reset(ctx)
			So(err, ShouldBeNil)
			So(result.VotesDeleted, ShouldEqual, 3)
			So(result.MCsReset, ShouldEqual, 2)

			page, err := s.ListRankings(ctx, RankingQuery{})
			So(err, ShouldBeNil)
			for _, it := range page.Items {
				So(it.TotalScore, ShouldEqual, 50.0)
				So(it.VoteCount, ShouldEqual, 0)
				So(it.TotalRaw, ShouldEqual, 0)
			}

			// 重置后同一投票者可以再次投票
			_, err = s.CastVote(ctx, a.ID, "u0", uniform(20))
			So(err, ShouldBeNil)

			audit, err := s.Audit(ctx)
			So(err, ShouldBeNil)
			So(audit.ResetCount, ShouldEqual, 1)
			So(audit.LastResetAt.Equal(fixed), ShouldBeTrue)
		})

		Convey("Rebuild repairs drifted aggregates", func() {
			So(mc.SaveAggregate(s.db, a.ID, mc.Aggregate{TotalScore: 999}), ShouldBeNil)

			n, err := s.Rebuild(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
			assertConsistent(s, a.ID)
			assertConsistent(s, b.ID)

			audit, err := s.Audit(ctx)
			So(err, ShouldBeNil)
			So(audit.LastRebuildAt, ShouldNotBeNil)
		})

		Convey("Rebuild stops when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			n, err := s.Rebuild(cctx)
			So(err, ShouldNotBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}

func TestConfiguredPrior(t *testing.T) {
	Convey("A custom prior changes the empty aggregate", t, func() {
		s := NewService(openTestDB(t), WithPrior(Prior{Mean: 5, Weight: 2}))
		agg := s.EmptyAggregate()
		So(agg.TotalScore, ShouldEqual, 25)
		So(math.IsNaN(agg.RhymeScore), ShouldBeFalse)
	})
}
