package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rollboard/internal/adapters/http/api"
	"github.com/okian/rollboard/internal/adapters/repository"
	"github.com/okian/rollboard/internal/domain/allowance"
	"github.com/okian/rollboard/internal/domain/clock"
	"github.com/okian/rollboard/internal/domain/dedupe"
	"github.com/okian/rollboard/internal/domain/dice"
	"github.com/okian/rollboard/internal/domain/engine"
	"github.com/okian/rollboard/internal/domain/entitlement"
	"github.com/okian/rollboard/internal/domain/model"
)

type harness struct {
	mux   *http.ServeMux
	eng   *engine.Engine
	clock *clock.Manual
}

func newHarness(t *testing.T, tracker *allowance.Tracker) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clk := clock.NewManual(time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC), time.UTC)
	store := repository.NewTreapStore(ctx)
	t.Cleanup(func() { _ = store.Close() })

	eng, err := engine.New(
		engine.WithClock(clk),
		engine.WithIndex(store),
		engine.WithTracker(tracker),
		engine.WithRoller(dice.NewRoller(dice.WithSeed(7))),
	)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	cache, err := dedupe.New()
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	oracle := entitlement.NewStatic(map[string][]string{"alice": {"gold"}})
	skins := entitlement.NewSelector(oracle, "classic", []string{"gold"}, map[string]entitlement.Skin{"gold": "golden-dice"})

	srv := api.NewServer(eng, api.WithReplayer(cache), api.WithSkins(skins), api.WithLimits(10, 50))
	mux := http.NewServeMux()
	srv.Register(ctx, mux)
	return &harness{mux: mux, eng: eng, clock: clk}
}

func (h *harness) do(method, target, player string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, http.NoBody)
	if player != "" {
		req.Header.Set(api.HeaderPlayerID, player)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func TestRollEndpoint(t *testing.T) {
	Convey("Given a server with a quota of three", t, func() {
		h := newHarness(t, allowance.New(allowance.WithQuota(3)))

		Convey("When a roll has no player header", func() {
			w := h.do(http.MethodPost, "/roll", "")
			Convey("Then it is unauthorized", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(decode(w)["code"], ShouldEqual, "unauthorized")
			})
		})

		Convey("When alice rolls", func() {
			w := h.do(http.MethodPost, "/roll", "alice")
			body := decode(w)

			Convey("Then the roll carries dice, allowance and skin", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(body["date"], ShouldEqual, "2024-03-11")
				So(body["roll_index"], ShouldEqual, 1.0)
				So(body["remaining"], ShouldEqual, 2.0)
				So(body["skin"], ShouldEqual, "golden-dice")
				So(body["total"], ShouldBeBetweenOrEqual, 2.0, 12.0)
				So(body["daily_sum"], ShouldEqual, body["total"])
			})
		})

		Convey("When bob exhausts the quota", func() {
			for i := 0; i < 3; i++ {
				So(h.do(http.MethodPost, "/roll", "bob").Code, ShouldEqual, http.StatusOK)
			}
			w := h.do(http.MethodPost, "/roll", "bob")

			Convey("Then the next roll is rejected as daily_limit_reached", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(decode(w)["code"], ShouldEqual, "daily_limit_reached")
			})
		})

		Convey("When a request is retried with the same idempotency key", func() {
			first := decode(h.do(http.MethodPost, "/roll", "carol", api.HeaderIdempotencyKey, "k-1"))
			second := decode(h.do(http.MethodPost, "/roll", "carol", api.HeaderIdempotencyKey, "k-1"))

			Convey("Then the same roll is replayed and only one is charged", func() {
				So(second["roll_id"], ShouldEqual, first["roll_id"])
				So(second["replayed"], ShouldBeTrue)
				a, err := h.eng.Allowance(context.Background(), "carol")
				So(err, ShouldBeNil)
				So(a.Used, ShouldEqual, 1)
			})
		})

		Convey("When the day was closed early by an operator", func() {
			_, err := h.eng.CloseDay(context.Background(), "2024-03-11")
			So(err, ShouldBeNil)
			w := h.do(http.MethodPost, "/roll", "dave")

			Convey("Then the roll conflicts", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decode(w)["code"], ShouldEqual, "day_closed")
			})

			Convey("Then the allowance reports no rolls left", func() {
				a := decode(h.do(http.MethodGet, "/allowance", "dave"))
				So(a["remaining"], ShouldEqual, 0.0)
				So(a["used"], ShouldEqual, 0.0)
			})
		})

		Convey("When the method is wrong", func() {
			w := h.do(http.MethodGet, "/roll", "alice")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestCooldown(t *testing.T) {
	Convey("Given a server with a ten second cooldown", t, func() {
		h := newHarness(t, allowance.New(allowance.WithCooldown(10*time.Second)))
		So(h.do(http.MethodPost, "/roll", "alice").Code, ShouldEqual, http.StatusOK)

		Convey("When alice rolls again four seconds later", func() {
			h.clock.Advance(4 * time.Second)
			w := h.do(http.MethodPost, "/roll", "alice")

			Convey("Then the response reports the wait", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				body := decode(w)
				So(body["code"], ShouldEqual, "cooldown_active")
				So(body["seconds_remaining"], ShouldEqual, 6.0)
				So(w.Header().Get("Retry-After"), ShouldEqual, "6")
			})
		})
	})
}

func TestAllowanceEndpoint(t *testing.T) {
	Convey("Given a player with two rolls today", t, func() {
		h := newHarness(t, allowance.New())
		h.do(http.MethodPost, "/roll", "alice")
		h.do(http.MethodPost, "/roll", "alice")

		Convey("When the allowance is requested", func() {
			body := decode(h.do(http.MethodGet, "/allowance", "alice"))

			Convey("Then 48 rolls remain until midnight", func() {
				So(body["quota"], ShouldEqual, 50.0)
				So(body["used"], ShouldEqual, 2.0)
				So(body["remaining"], ShouldEqual, 48.0)
				So(body["resets_at"], ShouldEqual, "2024-03-12T00:00:00Z")
			})
		})

		Convey("When no player is given", func() {
			So(h.do(http.MethodGet, "/allowance", "").Code, ShouldEqual, http.StatusUnauthorized)
		})
	})
}

func TestLeaderboardEndpoints(t *testing.T) {
	Convey("Given three players who rolled on Monday", t, func() {
		h := newHarness(t, allowance.New())
		for _, p := range []string{"alice", "bob", "carol"} {
			for i := 0; i < 5; i++ {
				So(h.do(http.MethodPost, "/roll", p).Code, ShouldEqual, http.StatusOK)
			}
		}

		Convey("When the daily board is read by bob", func() {
			w := h.do(http.MethodGet, "/leaderboard/daily?limit=2", "bob")
			var resp struct {
				Period       string        `json:"period"`
				TotalPlayers int           `json:"total_players"`
				Entries      []model.Entry `json:"entries"`
				YourRank     *int          `json:"your_rank"`
				YourScore    *int64        `json:"your_score"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)

			Convey("Then it is ordered and includes the viewer", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(resp.Period, ShouldEqual, "2024-03-11")
				So(resp.TotalPlayers, ShouldEqual, 3)
				So(resp.Entries, ShouldHaveLength, 2)
				So(resp.Entries[0].Rank, ShouldEqual, 1)
				So(resp.Entries[0].Score, ShouldBeGreaterThanOrEqualTo, resp.Entries[1].Score)
				So(resp.YourRank, ShouldNotBeNil)
				rec, _ := h.eng.DailyRecord("bob", "2024-03-11")
				So(*resp.YourScore, ShouldEqual, rec.DailySum)
			})
		})

		Convey("When the weekly board is read before any day closes", func() {
			body := decode(h.do(http.MethodGet, "/leaderboard/weekly", ""))
			Convey("Then it is empty", func() {
				So(body["period"], ShouldEqual, "2024-W11")
				So(body["entries"], ShouldBeEmpty)
			})
		})

		Convey("When Monday closes", func() {
			h.clock.Advance(16 * time.Hour)
			So(h.eng.Advance(context.Background()), ShouldBeNil)
			body := decode(h.do(http.MethodGet, "/leaderboard/weekly?week=2024-W11", ""))

			Convey("Then the weekly board holds every player", func() {
				So(body["total_players"], ShouldEqual, 3.0)
			})
		})

		Convey("When the limit is invalid", func() {
			So(h.do(http.MethodGet, "/leaderboard/daily?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			w := h.do(http.MethodGet, "/leaderboard/daily?limit=51", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, "limit_exceeded")
		})

		Convey("When the date is malformed", func() {
			So(h.do(http.MethodGet, "/leaderboard/daily?date=11-03-2024", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestRankEndpoint(t *testing.T) {
	Convey("Given one player on today's board", t, func() {
		h := newHarness(t, allowance.New())
		h.do(http.MethodPost, "/roll", "alice")

		Convey("When alice's rank is requested", func() {
			body := decode(h.do(http.MethodGet, "/rank/daily/alice", ""))
			So(body["ranked"], ShouldBeTrue)
			So(body["rank"], ShouldEqual, 1.0)
		})

		Convey("When an unknown player is requested", func() {
			w := h.do(http.MethodGet, "/rank/daily/zed?period=2024-03-11", "")
			body := decode(w)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["ranked"], ShouldBeFalse)
		})

		Convey("When the scope is unknown", func() {
			So(h.do(http.MethodGet, "/rank/monthly/alice", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestHistoryWithoutJournal(t *testing.T) {
	Convey("Given an engine without a history journal", t, func() {
		h := newHarness(t, allowance.New())
		w := h.do(http.MethodGet, "/history", "alice")
		So(w.Code, ShouldEqual, http.StatusNotFound)
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given a server", t, func() {
		h := newHarness(t, allowance.New())
		h.do(http.MethodPost, "/roll", "alice")

		Convey("Then /healthz serves Prometheus text", func() {
			w := h.do(http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "rollboard_")
		})

		Convey("Then /stats reports the current periods", func() {
			body := decode(h.do(http.MethodGet, "/stats", ""))
			So(body["today"], ShouldEqual, "2024-03-11")
			So(body["week"], ShouldEqual, "2024-W11")
			So(body["daily_players"], ShouldEqual, 1.0)
		})
	})
}

type failingDeps struct{ api.Dependencies }

func (failingDeps) Period(_ model.Scope, p string) (string, error) { return "2024-03-11", nil }

func (failingDeps) TopN(context.Context, model.Scope, string, int) ([]model.Entry, error) {
	return nil, errors.New("index unavailable")
}

func TestInternalErrors(t *testing.T) {
	Convey("Given an index that fails", t, func() {
		mux := http.NewServeMux()
		api.NewServer(failingDeps{}).Register(context.Background(), mux)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaderboard/daily", http.NoBody))

		Convey("Then the handler answers 500", func() {
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(strings.Contains(w.Body.String(), "internal_error"), ShouldBeTrue)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Wrapped API errors match their kind and cause", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)
		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		So(api.Wrap("api.op", nil), ShouldBeNil)
		So(api.NewKind("api.op", api.ErrConflict).Error(), ShouldEqual, "api.op: conflict")
	})
}
