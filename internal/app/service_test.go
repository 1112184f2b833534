package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/rollboard/internal/app"
	"github.com/okian/rollboard/internal/config"
	"github.com/okian/rollboard/internal/domain/clock"
	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type recordingDispatcher struct {
	mu  sync.Mutex
	got []model.Closure
}

func (d *recordingDispatcher) Name() string { return "recording" }

func (d *recordingDispatcher) Dispatch(_ context.Context, c model.Closure) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, c)
	return nil
}

func (d *recordingDispatcher) closures() []model.Closure {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Closure(nil), d.got...)
}

type downDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (d *downDispatcher) Name() string { return "down" }

func (d *downDispatcher) Dispatch(context.Context, model.Closure) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return errors.New("prize service unavailable")
}

func (d *downDispatcher) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func boards(cs []model.Closure) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Scope.Board(c.Period))
	}
	sort.Strings(out)
	return out
}

func postRoll(mux *http.ServeMux, player, key string) map[string]any {
	req := httptest.NewRequest(http.MethodPost, "/roll", http.NoBody)
	req.Header.Set("X-Player-ID", player)
	req.Header.Set("X-Idempotency-Key", key)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	So(w.Code, ShouldEqual, http.StatusOK)
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func startAPI(ctx context.Context, svc *service.Service) *http.ServeMux {
	So(svc.Start(ctx), ShouldBeNil)
	srv, err := svc.API()
	So(err, ShouldBeNil)
	mux := http.NewServeMux()
	srv.Register(ctx, mux)
	return mux
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.New(context.Background())
	cfg.DatabasePath = filepath.Join(t.TempDir(), "rollboard.db")
	cfg.BoundaryCheckInterval = 10 * time.Millisecond
	cfg.DailyQuota = 5
	return cfg
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New()

		Convey("Then its accessors report it", func() {
			_, err := svc.Engine()
			So(err, ShouldEqual, service.ErrNotStarted)
			_, err = svc.API()
			So(err, ShouldEqual, service.ErrNotStarted)
			So(svc.GetStats()["started"], ShouldBeFalse)
			So(svc.Stop(context.Background()), ShouldBeNil)
		})
	})

	Convey("Given an invalid configuration", t, func() {
		cfg := config.New(context.Background())
		cfg.DailyQuota = 0
		svc := service.New(service.WithConfig(cfg))

		Convey("Then Start refuses it", func() {
			So(svc.Start(context.Background()), ShouldNotBeNil)
		})
	})
}

func TestService_BoundaryScheduler(t *testing.T) {
	Convey("Given a started service on a manual clock", t, func() {
		ctx := context.Background()
		clk := clock.NewManual(time.Date(2024, 3, 17, 23, 0, 0, 0, time.UTC), time.UTC)
		sink := &recordingDispatcher{}
		cfg := testConfig(t)

		svc := service.New(service.WithConfig(cfg), service.WithClock(clk), service.WithDispatchers(sink))
		So(svc.Start(ctx), ShouldBeNil)

		eng, err := svc.Engine()
		So(err, ShouldBeNil)
		for i := 0; i < 3; i++ {
			_, err := eng.Roll(ctx, "alice")
			So(err, ShouldBeNil)
		}

		Convey("When the clock passes Sunday midnight", func() {
			clk.Set(time.Date(2024, 3, 18, 0, 0, 1, 0, time.UTC))

			Convey("Then the scheduler closes the day and the week and dispatches both", func() {
				So(waitFor(func() bool { return len(sink.closures()) >= 2 }), ShouldBeTrue)
				byBoard := map[string]model.Closure{}
				for _, c := range sink.closures() {
					byBoard[c.Scope.Board(c.Period)] = c
				}
				So(byBoard, ShouldContainKey, "daily:2024-03-17")
				weekly, ok := byBoard["weekly:2024-W11"]
				So(ok, ShouldBeTrue)
				So(weekly.Standings, ShouldHaveLength, 1)
				So(weekly.Standings[0].Player, ShouldEqual, "alice")
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})

		Convey("When the service restarts on the same journal", func() {
			So(svc.Stop(ctx), ShouldBeNil)

			again := service.New(service.WithConfig(cfg), service.WithClock(clk))
			So(again.Start(ctx), ShouldBeNil)
			defer func() { _ = again.Stop(ctx) }()
			eng, err := again.Engine()
			So(err, ShouldBeNil)

			Convey("Then the quota and board survive", func() {
				a, err := eng.Allowance(ctx, "alice")
				So(err, ShouldBeNil)
				So(a.Used, ShouldEqual, 3)
				So(a.Remaining, ShouldEqual, 2)
				_, ranked, err := eng.RankOf(ctx, model.ScopeDaily, "", "alice")
				So(err, ShouldBeNil)
				So(ranked, ShouldBeTrue)
			})
		})
	})
}

func TestService_API(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Entitlements = []string{"alice:gold"}
		cfg.SkinTags = []string{"gold:golden-dice"}
		cfg.SkinPriority = []string{"gold"}
		clk := clock.NewManual(time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC), time.UTC)
		svc := service.New(service.WithConfig(cfg), service.WithClock(clk))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		srv, err := svc.API()
		So(err, ShouldBeNil)
		mux := http.NewServeMux()
		srv.Register(ctx, mux)

		Convey("When alice rolls over HTTP", func() {
			req := httptest.NewRequest(http.MethodPost, "/roll", http.NoBody)
			req.Header.Set("X-Player-ID", "alice")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then the roll is journaled and visible in history", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "golden-dice")

				hreq := httptest.NewRequest(http.MethodGet, "/history", http.NoBody)
				hreq.Header.Set("X-Player-ID", "alice")
				hw := httptest.NewRecorder()
				mux.ServeHTTP(hw, hreq)
				So(hw.Code, ShouldEqual, http.StatusOK)
				So(hw.Body.String(), ShouldContainSubstring, `"index":1`)
			})

			Convey("And the stats reflect it", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldBeTrue)
				So(stats["journal"], ShouldBeTrue)
			})
		})
	})
}

func TestService_IdempotencyAcrossRestart(t *testing.T) {
	Convey("Given a roll made under an idempotency key", t, func() {
		ctx := context.Background()
		cfg := testConfig(t)
		clk := clock.NewManual(time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC), time.UTC)

		first := service.New(service.WithConfig(cfg), service.WithClock(clk))
		mux := startAPI(ctx, first)
		original := postRoll(mux, "alice", "k1")
		So(original["replayed"], ShouldBeFalse)
		So(postRoll(mux, "alice", "k1")["replayed"], ShouldBeTrue)
		So(first.Stop(ctx), ShouldBeNil)

		Convey("When the client retries the key after a restart", func() {
			again := service.New(service.WithConfig(cfg), service.WithClock(clk))
			mux := startAPI(ctx, again)
			defer func() { _ = again.Stop(ctx) }()
			retried := postRoll(mux, "alice", "k1")

			Convey("Then the journaled roll is replayed and no quota is spent", func() {
				So(retried["replayed"], ShouldBeTrue)
				So(retried["roll_id"], ShouldEqual, original["roll_id"])
				So(retried["roll_index"], ShouldEqual, 1.0)
				So(retried["remaining"], ShouldEqual, original["remaining"])
				So(retried["dice"], ShouldResemble, original["dice"])

				eng, err := again.Engine()
				So(err, ShouldBeNil)
				a, err := eng.Allowance(ctx, "alice")
				So(err, ShouldBeNil)
				So(a.Used, ShouldEqual, 1)
			})

			Convey("Then another player's identical key rolls afresh", func() {
				other := postRoll(mux, "bob", "k1")
				So(other["replayed"], ShouldBeFalse)
				So(other["roll_id"], ShouldNotEqual, original["roll_id"])
			})
		})
	})
}

func TestService_RedeliversAfterRestart(t *testing.T) {
	Convey("Given closures whose dispatch failed before a shutdown", t, func() {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.DispatchRetries = 0
		clk := clock.NewManual(time.Date(2024, 3, 17, 23, 0, 0, 0, time.UTC), time.UTC)

		down := &downDispatcher{}
		first := service.New(service.WithConfig(cfg), service.WithClock(clk), service.WithDispatchers(down))
		So(first.Start(ctx), ShouldBeNil)
		eng, err := first.Engine()
		So(err, ShouldBeNil)
		_, err = eng.Roll(ctx, "alice")
		So(err, ShouldBeNil)

		clk.Set(time.Date(2024, 3, 18, 0, 0, 1, 0, time.UTC))
		So(waitFor(func() bool { return down.attempts() >= 2 }), ShouldBeTrue)
		So(first.Stop(ctx), ShouldBeNil)

		Convey("When the service restarts with a working dispatcher", func() {
			sink := &recordingDispatcher{}
			second := service.New(service.WithConfig(cfg), service.WithClock(clk), service.WithDispatchers(sink))
			So(second.Start(ctx), ShouldBeNil)
			So(second.Stop(ctx), ShouldBeNil)

			Convey("Then both closures are delivered once", func() {
				So(boards(sink.closures()), ShouldResemble, []string{"daily:2024-03-17", "weekly:2024-W11"})
				So(sink.closures()[0].Standings[0].Player, ShouldEqual, "alice")
			})

			Convey("Then a later restart has nothing left to deliver", func() {
				late := &recordingDispatcher{}
				third := service.New(service.WithConfig(cfg), service.WithClock(clk), service.WithDispatchers(late))
				So(third.Start(ctx), ShouldBeNil)
				So(third.Stop(ctx), ShouldBeNil)
				So(late.closures(), ShouldBeEmpty)
			})
		})
	})
}
