package clock

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rollboard/internal/domain/model"
)

func TestManualClock(t *testing.T) {
	Convey("Given a manual clock one nanosecond before Monday", t, func() {
		start := time.Date(2024, 3, 10, 23, 59, 59, 999999999, time.UTC)
		c := NewManual(start, time.UTC)

		Convey("Then it reports Sunday and the ending week", func() {
			So(c.DayOf(c.Now()), ShouldEqual, model.Date("2024-03-10"))
			So(c.WeekOf(c.Now()), ShouldEqual, model.WeekID("2024-W10"))
		})

		Convey("When it advances to exactly midnight", func() {
			c.Advance(time.Nanosecond)

			Convey("Then midnight belongs to the new day and week", func() {
				So(c.DayOf(c.Now()), ShouldEqual, model.Date("2024-03-11"))
				So(c.WeekOf(c.Now()), ShouldEqual, model.WeekID("2024-W11"))
			})
		})

		Convey("Then EndOfDay is the next midnight", func() {
			So(c.EndOfDay("2024-03-10").Equal(start.Add(time.Nanosecond)), ShouldBeTrue)
		})
	})
}

func TestSystemClockTimezone(t *testing.T) {
	Convey("Given a system clock", t, func() {
		Convey("When the timezone is unknown", func() {
			_, err := NewSystem("Not/AZone")
			So(err, ShouldNotBeNil)
		})

		Convey("When the timezone is empty", func() {
			c, err := NewSystem("")
			So(err, ShouldBeNil)
			So(c.Location(), ShouldEqual, time.UTC)
		})

		Convey("When a non-UTC zone is used", func() {
			c, err := NewSystem("Asia/Tokyo")
			if err != nil {
				SkipSo(err, ShouldBeNil)
				return
			}
			// 2024-03-10 16:00 UTC is already Monday in Tokyo.
			instant := time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC)
			So(c.DayOf(instant), ShouldEqual, model.Date("2024-03-11"))
			So(c.WeekOf(instant), ShouldEqual, model.WeekID("2024-W11"))
		})
	})
}
