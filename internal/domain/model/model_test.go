package model_test

import (
	"testing"

	model "github.com/okian/versus/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestItemHasAllTags(t *testing.T) {
	convey.Convey("Given an item with tags", t, func() {
		item := model.Item{ID: "a", Tags: []string{"red", "round"}}

		convey.Convey("Then an empty filter matches", func() {
			convey.So(item.HasAllTags(nil), convey.ShouldBeTrue)
		})

		convey.Convey("Then a subset of its tags matches", func() {
			convey.So(item.HasAllTags([]string{"round"}), convey.ShouldBeTrue)
			convey.So(item.HasAllTags([]string{"round", "red"}), convey.ShouldBeTrue)
		})

		convey.Convey("Then a missing tag does not match", func() {
			convey.So(item.HasAllTags([]string{"red", "square"}), convey.ShouldBeFalse)
		})
	})
}

func TestChoiceItemIDs(t *testing.T) {
	convey.Convey("Given an ordered list of choices", t, func() {
		choices := []model.Choice{
			{Picked: "A", NotPicked: "B"},
			{Picked: "B", NotPicked: "A"},
			{Picked: "C", NotPicked: "A"},
		}

		convey.Convey("When collecting ids", func() {
			ids := model.ChoiceItemIDs(choices)

			convey.Convey("Then each id appears once in first-seen order", func() {
				convey.So(ids, convey.ShouldResemble, []string{"A", "B", "C"})
			})
		})

		convey.Convey("When there are no choices", func() {
			convey.Convey("Then the result is empty", func() {
				convey.So(model.ChoiceItemIDs(nil), convey.ShouldBeEmpty)
			})
		})
	})
}
