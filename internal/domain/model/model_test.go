package model

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDatesAndWeeks(t *testing.T) {
	Convey("Given calendar helpers", t, func() {
		Convey("When a Sunday and the following Monday are mapped to weeks", func() {
			sun := Date("2024-03-10")
			mon := Date("2024-03-11")

			Convey("Then they belong to consecutive ISO weeks", func() {
				So(sun.Week(), ShouldEqual, WeekID("2024-W10"))
				So(mon.Week(), ShouldEqual, WeekID("2024-W11"))
			})
		})

		Convey("When a year-straddling date is mapped", func() {
			So(Date("2024-12-30").Week(), ShouldEqual, WeekID("2025-W01"))
			So(Date("2021-01-03").Week(), ShouldEqual, WeekID("2020-W53"))
		})

		Convey("When a week lists its dates", func() {
			dates := WeekID("2024-W11").Dates()

			Convey("Then it runs Monday through Sunday", func() {
				So(len(dates), ShouldEqual, 7)
				So(dates[0], ShouldEqual, Date("2024-03-11"))
				So(dates[6], ShouldEqual, Date("2024-03-17"))
			})
		})

		Convey("When parsing input", func() {
			_, err := ParseDate("2024-02-30")
			So(err, ShouldNotBeNil)
			d, err := ParseDate("2024-02-29")
			So(err, ShouldBeNil)
			So(d.Time(time.UTC).Weekday(), ShouldEqual, time.Thursday)

			w, err := ParseWeek("2020-W53")
			So(err, ShouldBeNil)
			So(w, ShouldEqual, WeekID("2020-W53"))
			_, err = ParseWeek("2021-W53")
			So(err, ShouldNotBeNil)
			_, err = ParseWeek("2021-W5")
			So(err, ShouldNotBeNil)
		})

		Convey("Then scopes build board keys", func() {
			So(ScopeDaily.Board("2024-03-11"), ShouldEqual, "daily:2024-03-11")
			So(Scope("monthly").Valid(), ShouldBeFalse)
		})
	})
}
