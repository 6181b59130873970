package referral_tree

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"gitlab.com/paramountdax-exchange/referral_api/model"
)

func TestAncestryWalker(t *testing.T) {
	ctx := context.Background()

	Convey("Given a chain R -> A -> B -> C", t, func() {
		index := newEdgeIndex([]*model.ReferralEdge{
			rawEdge(1, userR, userA, userR, 1, 10),
			rawEdge(2, userR, userB, userA, 2, 5),
			rawEdge(3, userR, userC, userB, 3, 2.5),
		})
		walker := AncestryWalker{}

		Convey("every upline user is an ancestor", func() {
			for _, ancestor := range []uint64{userR, userA, userB} {
				ok, err := walker.IsDescendant(ctx, index, ancestor, userC)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			}
		})

		Convey("a user is never its own descendant", func() {
			ok, err := walker.IsDescendant(ctx, index, userB, userB)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("the relation does not hold downwards", func() {
			ok, err := walker.IsDescendant(ctx, index, userC, userA)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("a ceiling shorter than the chain stops the walk", func() {
			short := AncestryWalker{Ceiling: 1}
			ok, err := short.IsDescendant(ctx, index, userR, userC)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given stored edges forming a cycle", t, func() {
		index := newEdgeIndex([]*model.ReferralEdge{
			rawEdge(1, userR, userA, userB, 1, 10),
			rawEdge(2, userR, userB, userA, 2, 5),
		})

		Convey("the walk terminates and answers false", func() {
			ok, err := AncestryWalker{Ceiling: 50}.IsDescendant(ctx, index, userR, userA)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}
