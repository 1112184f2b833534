package weekly

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rollboard/internal/domain/model"
)

func TestFoldDailyClose(t *testing.T) {
	Convey("Given an aggregator and a Monday/Tuesday pair in one week", t, func() {
		a := New()
		week := model.WeekID("2024-W11")

		Convey("When Monday's 300 and Tuesday's 250 are folded", func() {
			_, err := a.FoldDailyClose("A", week, "2024-03-11", 300)
			So(err, ShouldBeNil)
			rec, err := a.FoldDailyClose("A", week, "2024-03-12", 250)
			So(err, ShouldBeNil)

			Convey("Then the weekly sum is 550 over two days", func() {
				So(rec.WeeklySum, ShouldEqual, 550)
				So(rec.DaysPlayed, ShouldEqual, 2)
			})

			Convey("Then folding Monday again is rejected", func() {
				_, err := a.FoldDailyClose("A", week, "2024-03-11", 300)
				So(errors.Is(err, ErrDuplicateFold), ShouldBeTrue)
				r, _ := a.Record("A", week)
				So(r.WeeklySum, ShouldEqual, 550)
			})
		})

		Convey("When a date is folded into the wrong week", func() {
			_, err := a.FoldDailyClose("A", week, "2024-03-10", 10)
			So(errors.Is(err, ErrWrongWeek), ShouldBeTrue)
		})
	})
}

func TestCloseWeek(t *testing.T) {
	Convey("Given a week with two players", t, func() {
		a := New()
		week := model.WeekID("2024-W11")
		_, _ = a.FoldDailyClose("B", week, "2024-03-11", 40)
		_, _ = a.FoldDailyClose("A", week, "2024-03-11", 30)
		So(a.OpenWeeks(), ShouldResemble, []model.WeekID{week})

		Convey("When the week is closed", func() {
			wc := a.CloseWeek(week)

			Convey("Then totals are frozen and sorted", func() {
				So(wc.Fresh, ShouldBeTrue)
				So(len(wc.Totals), ShouldEqual, 2)
				So(wc.Totals[0].Player, ShouldEqual, "A")
				So(wc.Totals[0].Closed, ShouldBeTrue)
				So(a.IsClosed(week), ShouldBeTrue)
				So(a.OpenWeeks(), ShouldBeEmpty)
			})

			Convey("Then a late fold fails with ErrWeekClosed", func() {
				_, err := a.FoldDailyClose("A", week, "2024-03-17", 5)
				So(errors.Is(err, ErrWeekClosed), ShouldBeTrue)
			})

			Convey("Then closing again is idempotent", func() {
				again := a.CloseWeek(week)
				So(again.Fresh, ShouldBeFalse)
				So(again.Totals, ShouldResemble, wc.Totals)
			})

			Convey("Then it can be pruned", func() {
				So(a.Prune("2024-W12"), ShouldResemble, []model.WeekID{week})
				So(a.Records(week), ShouldBeNil)
			})
		})
	})
}

func TestAggregatorRestore(t *testing.T) {
	Convey("Given a weekly record restored with its folded dates", t, func() {
		a := New()
		week := model.WeekID("2024-W11")
		a.Restore(model.WeeklyRecord{Player: "A", Week: week, WeeklySum: 300, DaysPlayed: 1}, []model.Date{"2024-03-11"})

		Convey("Then the restored date cannot be folded again", func() {
			_, err := a.FoldDailyClose("A", week, "2024-03-11", 300)
			So(errors.Is(err, ErrDuplicateFold), ShouldBeTrue)
			r, err := a.FoldDailyClose("A", week, "2024-03-12", 1)
			So(err, ShouldBeNil)
			So(r.WeeklySum, ShouldEqual, 301)
		})
	})
}
