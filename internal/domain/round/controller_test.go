package round_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/round"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewController(t *testing.T) {
	Convey("Given controller options", t, func() {
		Convey("When the replenish batch is not positive", func() {
			c, err := round.NewController(round.WithReplenishBatch(0))

			Convey("Then construction fails with an invalid argument", func() {
				So(c, ShouldBeNil)
				So(errors.Is(err, round.ErrInvalidArgument), ShouldBeTrue)
			})
		})

		Convey("When no options are given", func() {
			c, err := round.NewController()

			Convey("Then the controller waits to be started", func() {
				So(err, ShouldBeNil)
				So(c.Status(), ShouldEqual, round.Starting)
				So(c.IsFinished(), ShouldBeFalse)
				So(c.CurrentSlots(), ShouldResemble, [2]*model.Item{})
			})
		})
	})
}

func TestControllerCallbacks(t *testing.T) {
	Convey("Given a preloaded controller with callbacks", t, func() {
		var seen []model.Choice
		var final []model.Choice
		finishCalls := 0
		c, err := round.NewController(
			round.WithOnChoice(func(ch model.Choice) { seen = append(seen, ch) }),
			round.WithOnFinish(func(ch []model.Choice) {
				finishCalls++
				final = ch
			}),
		)
		So(err, ShouldBeNil)
		So(c.Start(round.ReplacePicked, items("i", 3)), ShouldBeNil)

		Convey("When the player picks until the round ends", func() {
			at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			So(c.Pick(round.First, at), ShouldBeNil)
			So(c.Pick(round.First, at), ShouldBeNil)

			Convey("Then every choice was reported in order", func() {
				So(seen, ShouldResemble, []model.Choice{
					{Picked: "i0", NotPicked: "i1", ObservedAt: at},
					{Picked: "i2", NotPicked: "i1", ObservedAt: at},
				})
			})

			Convey("And the finish callback fired once with the same list", func() {
				So(c.IsFinished(), ShouldBeTrue)
				So(finishCalls, ShouldEqual, 1)
				So(final, ShouldResemble, seen)
				So(c.Choices(), ShouldResemble, seen)
			})

			Convey("And later events are rejected without firing callbacks", func() {
				So(errors.Is(c.Pick(round.First, at), round.ErrInvalidState), ShouldBeTrue)
				So(errors.Is(c.Exhaust(), round.ErrInvalidState), ShouldBeTrue)
				So(finishCalls, ShouldEqual, 1)
			})
		})

		Convey("When the caller mutates the returned slots", func() {
			slots := c.CurrentSlots()
			slots[0].ID = "tampered"

			Convey("Then the controller state is unaffected", func() {
				So(c.CurrentSlots()[0].ID, ShouldEqual, "i0")
			})
		})
	})
}

func TestControllerOnDemand(t *testing.T) {
	Convey("Given a keep-picked controller backed by an endless supplier", t, func() {
		next := 0
		requests := 0
		var c *round.Controller
		var err error
		c, err = round.NewController(
			round.WithNeedItems(func(count int) {
				requests++
				batch := make([]model.Item, count)
				for i := range batch {
					batch[i] = model.Item{ID: fmt.Sprintf("s%d", next)}
					next++
				}
				So(c.Supply(batch), ShouldBeNil)
			}),
		)
		So(err, ShouldBeNil)
		So(c.Start(round.KeepPicked, items("i", 2)), ShouldBeNil)

		Convey("When the player picks N times", func() {
			const picks = 10
			for range picks {
				So(c.Pick(round.First, time.Time{}), ShouldBeNil)
			}

			Convey("Then exactly N items beyond the initial two were dequeued", func() {
				So(c.Dequeued(), ShouldEqual, 2+picks)
				So(requests, ShouldEqual, picks)
				So(c.Status(), ShouldEqual, round.Picking)
				So(c.Choices(), ShouldHaveLength, picks)
			})

			Convey("And the winner of the first slot kept its place", func() {
				So(c.CurrentSlots()[0].ID, ShouldEqual, "i0")
			})
		})
	})

	Convey("Given an on-demand controller answered asynchronously", t, func() {
		var asked []int
		finished := false
		c, err := round.NewController(
			round.WithReplenishBatch(4),
			round.WithNeedItems(func(count int) { asked = append(asked, count) }),
			round.WithOnFinish(func([]model.Choice) { finished = true }),
		)
		So(err, ShouldBeNil)
		So(c.Start(round.ReplaceAll, nil), ShouldBeNil)

		Convey("Then the first request asks for a full batch", func() {
			So(asked, ShouldResemble, []int{4})
			So(c.Awaiting(), ShouldBeTrue)
			So(c.Status(), ShouldEqual, round.Loading)
		})

		Convey("When the supplier answers and the pool later runs dry", func() {
			So(c.Supply(items("s", 4)), ShouldBeNil)
			So(c.Status(), ShouldEqual, round.Picking)
			So(c.BacklogLen(), ShouldEqual, 2)
			So(c.Pick(round.Second, time.Time{}), ShouldBeNil)
			So(c.Pick(round.Second, time.Time{}), ShouldBeNil)
			So(c.Exhaust(), ShouldBeNil)

			Convey("Then the round finishes with the recorded choices", func() {
				So(asked, ShouldResemble, []int{4, 4})
				So(finished, ShouldBeTrue)
				So(c.Choices(), ShouldHaveLength, 2)
				So(c.Snapshot().Exhausted, ShouldBeTrue)
			})
		})
	})
}
