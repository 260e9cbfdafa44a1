package vote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/config"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/database"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

// testRedisDB 与开发环境默认的 0 号库隔开
const testRedisDB = 15

type fakeHealth struct{ healthy atomic.Bool }

func (f *fakeHealth) IsRedisHealthy() bool { return f.healthy.Load() }

func newHealthy() *fakeHealth {
	h := &fakeHealth{}
	h.healthy.Store(true)
	return h
}

// openTestRedis 连接本地Redis，不可用时跳过测试
func openTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: testRedisDB})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() {
		clearTestKeys(client)
		client.Close()
	})
	return client
}

func clearTestKeys(client *redis.Client) {
	ctx := context.Background()
	database.DeleteKeysByPrefix(ctx, client, RankingPageKeyPrefix)
	database.DeleteKeysByPrefix(ctx, client, ipVoteKeyPrefix)
	client.Del(ctx, RankingGenerationKey)
}

func TestRankingCache(t *testing.T) {
	ctx := context.Background()
	rdb := openTestRedis(t)

	Convey("Given a Redis-backed ranking cache", t, func() {
		clearTestKeys(rdb)
		health := newHealthy()
		cache := NewRankingCache(rdb, health, time.Minute, nil, nil)

		var loads atomic.Int32
		loader := func(context.Context) (*cachedPage, error) {
			loads.Add(1)
			return &cachedPage{Items: []mc.MC{{ID: 1, Name: "A"}}, TotalCount: 1}, nil
		}

		Convey("A second read is served from Redis", func() {
			p, err := cache.Fetch(ctx, mc.SortTotal, 1, 20, loader)
			So(err, ShouldBeNil)
			So(p.TotalCount, ShouldEqual, 1)
			p, err = cache.Fetch(ctx, mc.SortTotal, 1, 20, loader)
			So(err, ShouldBeNil)
			So(p.Items[0].Name, ShouldEqual, "A")
			So(loads.Load(), ShouldEqual, 1)
		})

		Convey("Invalidate and Flush force a reload", func() {
			cache.Fetch(ctx, mc.SortTotal, 1, 20, loader)
			So(cache.Invalidate(ctx), ShouldBeNil)
			cache.Fetch(ctx, mc.SortTotal, 1, 20, loader)
			So(loads.Load(), ShouldEqual, 2)

			So(cache.Flush(ctx), ShouldBeNil)
			keys, err := rdb.Keys(ctx, RankingPageKeyPrefix+"*").Result()
			So(err, ShouldBeNil)
			So(keys, ShouldBeEmpty)
			cache.Fetch(ctx, mc.SortTotal, 1, 20, loader)
			So(loads.Load(), ShouldEqual, 3)
		})

		Convey("An unhealthy Redis is bypassed", func() {
			health.healthy.Store(false)
			cache.Fetch(ctx, mc.SortTotal, 1, 20, loader)
			cache.Fetch(ctx, mc.SortTotal, 1, 20, loader)
			So(loads.Load(), ShouldEqual, 2)
			So(cache.Invalidate(ctx), ShouldBeNil)
		})
	})

	Convey("Votes invalidate cached rankings", t, func() {
		clearTestKeys(rdb)
		s := NewService(openTestDB(t), WithCache(NewRankingCache(rdb, newHealthy(), time.Minute, nil, nil)))
		m := createMC(t, s, "A")

		before, err := s.ListRankings(ctx, RankingQuery{})
		So(err, ShouldBeNil)
		So(before.Items[0].VoteCount, ShouldEqual, 0)

		_, err = s.CastVote(ctx, m.ID, "u1", uniform(20))
		So(err, ShouldBeNil)

		after, err := s.ListRankings(ctx, RankingQuery{ViewerID: "u1"})
		So(err, ShouldBeNil)
		So(after.Items[0].VoteCount, ShouldEqual, 1)
		So(after.Items[0].HasVoted, ShouldBeTrue)
	})
}

func TestIPLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rdb := openTestRedis(t)

	Convey("Given a limiter allowing two votes per window", t, func() {
		clearTestKeys(rdb)
		health := newHealthy()
		limiter := NewIPLimiter(rdb, health, config.LimiterConfig{Enabled: true, VotesPerWindow: 2, Window: time.Hour}, nil, nil)

		status := http.StatusOK
		r := gin.New()
		r.POST("/vote", limiter.Middleware(), func(c *gin.Context) { c.Status(status) })
		post := func() int {
			req := httptest.NewRequest(http.MethodPost, "/vote", nil)
			req.RemoteAddr = "203.0.113.7:5555"
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			return w.Code
		}

		Convey("The third vote is limited", func() {
			So(post(), ShouldEqual, http.StatusOK)
			So(post(), ShouldEqual, http.StatusOK)
			So(post(), ShouldEqual, http.StatusTooManyRequests)
		})

		Convey("Failed votes do not count", func() {
			status = http.StatusConflict
			for i := 0; i < 5; i++ {
				So(post(), ShouldEqual, http.StatusConflict)
			}
			n, err := rdb.ZCard(context.Background(), ipVoteKeyPrefix+"203.0.113.7").Result()
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("An unhealthy Redis fails open", func() {
			health.healthy.Store(false)
			for i := 0; i < 4; i++ {
				So(post(), ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestNilIPLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	Convey("A disabled limiter is nil and passes everything", t, func() {
		So(NewIPLimiter(nil, nil, config.LimiterConfig{Enabled: true}, nil, nil), ShouldBeNil)
		var l *IPLimiter
		r := gin.New()
		r.POST("/vote", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/vote", nil))
		So(w.Code, ShouldEqual, http.StatusOK)
	})
}
