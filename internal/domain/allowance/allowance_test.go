package allowance

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rollboard/internal/domain/model"
)

func TestTrackerQuota(t *testing.T) {
	Convey("Given a tracker with the default quota", t, func() {
		tr := New()
		now := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
		day := model.Date("2024-03-11")

		Convey("When a player rolls the full quota", func() {
			var last Grant
			for i := 0; i < DefaultQuota; i++ {
				g, err := tr.TryConsume("alice", day, now)
				So(err, ShouldBeNil)
				last = g
			}

			Convey("Then the last grant is the 50th with nothing remaining", func() {
				So(last.Index, ShouldEqual, 50)
				So(last.Remaining, ShouldEqual, 0)
				So(tr.Remaining("alice", day), ShouldEqual, 0)
			})

			Convey("Then the 51st attempt fails without consuming", func() {
				_, err := tr.TryConsume("alice", day, now)
				So(errors.Is(err, ErrQuotaExceeded), ShouldBeTrue)
				So(tr.Check("alice", day, now), ShouldEqual, ErrQuotaExceeded)
				So(tr.Consumed("alice", day), ShouldEqual, 50)
			})

			Convey("Then other players and the next date are unaffected", func() {
				So(tr.Remaining("bob", day), ShouldEqual, 50)
				g, err := tr.TryConsume("alice", "2024-03-12", now)
				So(err, ShouldBeNil)
				So(g.Index, ShouldEqual, 1)
			})
		})

		Convey("When a date is forgotten", func() {
			_, _ = tr.TryConsume("alice", day, now)
			tr.Forget(day)
			So(tr.Consumed("alice", day), ShouldEqual, 0)
			So(tr.Dates(), ShouldEqual, 0)
		})

		Convey("When state is restored above quota", func() {
			tr.Restore("alice", day, 70, now)
			So(tr.Consumed("alice", day), ShouldEqual, 50)
		})
	})
}

func TestTrackerCooldown(t *testing.T) {
	Convey("Given a tracker with a four second cooldown", t, func() {
		tr := New(WithQuota(3), WithCooldown(4*time.Second))
		now := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
		day := model.Date("2024-03-11")

		_, err := tr.TryConsume("alice", day, now)
		So(err, ShouldBeNil)

		Convey("When rolling again one second later", func() {
			_, err := tr.TryConsume("alice", day, now.Add(time.Second))

			Convey("Then the cooldown error carries the remaining wait", func() {
				So(errors.Is(err, ErrCooldownActive), ShouldBeTrue)
				var ce *CooldownError
				So(errors.As(err, &ce), ShouldBeTrue)
				So(ce.Remaining, ShouldEqual, 3*time.Second)
				So(tr.Consumed("alice", day), ShouldEqual, 1)
				So(tr.NextAllowed("alice", day).Equal(now.Add(4*time.Second)), ShouldBeTrue)
			})
		})

		Convey("When rolling again after the cooldown", func() {
			g, err := tr.TryConsume("alice", day, now.Add(4*time.Second))
			So(err, ShouldBeNil)
			So(g.Index, ShouldEqual, 2)
		})
	})
}

func TestTrackerConcurrentQuota(t *testing.T) {
	Convey("Given many goroutines rolling for one player", t, func() {
		tr := New()
		day := model.Date("2024-03-11")
		now := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

		var granted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := tr.TryConsume("alice", day, now); err == nil {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly the quota is granted", func() {
			So(granted.Load(), ShouldEqual, DefaultQuota)
			So(tr.Consumed("alice", day), ShouldEqual, DefaultQuota)
		})
	})
}
