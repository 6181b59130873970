package referral_tree

import (
	"context"
	"errors"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"gitlab.com/paramountdax-exchange/referral_api/model"
)

func TestCreateReferral(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty tree", t, func() {
		engine, store, sink := newTestEngine()

		Convey("referrals get levels and commissions from their position", func() {
			So(seedChain(ctx, engine), ShouldBeNil)

			So(edgeOf(store, userA).Level, ShouldEqual, 1)
			So(commissionOf(store, userA), ShouldEqual, "10")
			So(edgeOf(store, userB).Level, ShouldEqual, 2)
			So(commissionOf(store, userB), ShouldEqual, "5")
			So(edgeOf(store, userC).Level, ShouldEqual, 3)
			So(commissionOf(store, userC), ShouldEqual, "2.5")
			So(edgeOf(store, userC).RootUserID, ShouldEqual, userR)
			So(edgeOf(store, userC).CreatedAt.Equal(testNow), ShouldBeTrue)
			So(len(sink.Events()), ShouldEqual, 3)
			So(sink.Events()[0].Operation, ShouldEqual, model.ReferralOperationCreate)
			So(violations(engine), ShouldBeEmpty)
		})

		Convey("a fourth level is rejected", func() {
			So(seedChain(ctx, engine), ShouldBeNil)
			_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userD, ParentUserID: userC})
			So(errors.Is(err, model.ErrReferralDepthExceeded), ShouldBeTrue)
			So(edgeOf(store, userD), ShouldBeNil)
		})

		Convey("a full branch refuses a new referral at level 1 too", func() {
			So(seedChain(ctx, engine), ShouldBeNil)
			_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userD})
			So(errors.Is(err, model.ErrReferralDepthExceeded), ShouldBeTrue)
			So(edgeOf(store, userD), ShouldBeNil)
			So(len(sink.Events()), ShouldEqual, 3)
		})

		Convey("a positioned user in a full branch is reported as a duplicate first", func() {
			So(seedChain(ctx, engine), ShouldBeNil)
			_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userB})
			So(errors.Is(err, model.ErrReferralDuplicatePosition), ShouldBeTrue)
		})

		Convey("placing the same user twice is a duplicate position", func() {
			_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userA})
			So(err, ShouldBeNil)
			_, err = engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userA})
			So(errors.Is(err, model.ErrReferralDuplicatePosition), ShouldBeTrue)
			_, err = engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR2, ReferredUserID: userA})
			So(errors.Is(err, model.ErrReferralDuplicatePosition), ShouldBeTrue)
		})

		Convey("a user cannot refer itself", func() {
			_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userR})
			So(errors.Is(err, model.ErrReferralSelfReference), ShouldBeTrue)
		})

		Convey("unknown users are not found", func() {
			_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: 999})
			So(errors.Is(err, model.ErrReferralNotFound), ShouldBeTrue)
		})

		Convey("the parent must belong to the root branch", func() {
			_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR2, ReferredUserID: userX})
			So(err, ShouldBeNil)
			_, err = engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userA, ParentUserID: userX})
			So(errors.Is(err, model.ErrReferralNotFound), ShouldBeTrue)
		})

		Convey("a root bringing its own downline keeps the depth bound", func() {
			_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userE, ReferredUserID: userF})
			So(err, ShouldBeNil)

			_, err = engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userE})
			So(err, ShouldBeNil)
			So(edgeOf(store, userE).Level, ShouldEqual, 1)
			So(edgeOf(store, userF).Level, ShouldEqual, 2)
			So(edgeOf(store, userF).RootUserID, ShouldEqual, userR)
			So(commissionOf(store, userF), ShouldEqual, "5")
			So(violations(engine), ShouldBeEmpty)
		})
	})
}

func TestCanAddReferral(t *testing.T) {
	ctx := context.Background()

	Convey("Given the chain R -> A -> B -> C", t, func() {
		engine, store, _ := newTestEngine()
		So(seedChain(ctx, engine), ShouldBeNil)
		before := shape(store)

		Convey("a branch already three levels deep takes no new referral, even under the root", func() {
			ok, err := engine.CanAddReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userD})
			So(ok, ShouldBeFalse)
			So(errors.Is(err, model.ErrReferralDepthExceeded), ShouldBeTrue)

			ok, err = engine.CanAddReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userD, ParentUserID: userA})
			So(ok, ShouldBeFalse)
			So(errors.Is(err, model.ErrReferralDepthExceeded), ShouldBeTrue)
			So(shape(store), ShouldResemble, before)
		})

		Convey("a shallower branch still accepts a free user", func() {
			So(engine.Delete(ctx, userC), ShouldBeNil)
			ok, err := engine.CanAddReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userD})
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("positioned users and full depth are refused with the reason", func() {
			ok, err := engine.CanAddReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userA})
			So(ok, ShouldBeFalse)
			So(errors.Is(err, model.ErrReferralDuplicatePosition), ShouldBeTrue)

			ok, err = engine.CanAddReferral(ctx, model.CreateReferralRequest{RootUserID: userR, ReferredUserID: userD, ParentUserID: userC})
			So(ok, ShouldBeFalse)
			So(errors.Is(err, model.ErrReferralDepthExceeded), ShouldBeTrue)
		})
	})
}

func TestMoveDownline(t *testing.T) {
	ctx := context.Background()

	Convey("Given the chain R -> A -> B -> C", t, func() {
		engine, store, sink := newTestEngine()
		So(seedChain(ctx, engine), ShouldBeNil)

		Convey("moving B under R lifts B and its child", func() {
			So(engine.MoveDownline(ctx, userB, userR), ShouldBeNil)

			So(edgeOf(store, userB).ParentUserID, ShouldEqual, userR)
			So(edgeOf(store, userB).Level, ShouldEqual, 1)
			So(commissionOf(store, userB), ShouldEqual, "10")
			So(edgeOf(store, userC).ParentUserID, ShouldEqual, userB)
			So(edgeOf(store, userC).Level, ShouldEqual, 2)
			So(commissionOf(store, userC), ShouldEqual, "5")
			So(violations(engine), ShouldBeEmpty)

			events := sink.Events()
			last := events[len(events)-1]
			So(last.Operation, ShouldEqual, model.ReferralOperationMove)
			So(last.AffectedUserID, ShouldEqual, userB)
			So(last.OldParent, ShouldEqual, userA)
			So(last.NewParent, ShouldEqual, userR)
			So(last.Timestamp.Equal(testNow), ShouldBeTrue)
		})

		Convey("moving under an own descendant is a cycle and changes nothing", func() {
			before := shape(store)
			err := engine.MoveDownline(ctx, userA, userC)
			So(errors.Is(err, model.ErrReferralCyclicReference), ShouldBeTrue)
			So(shape(store), ShouldResemble, before)
		})

		Convey("moving a user under itself is a self reference", func() {
			err := engine.MoveDownline(ctx, userA, userA)
			So(errors.Is(err, model.ErrReferralSelfReference), ShouldBeTrue)
		})

		Convey("moving a user without a position is not found", func() {
			err := engine.MoveDownline(ctx, userD, userR)
			So(errors.Is(err, model.ErrReferralNotFound), ShouldBeTrue)
		})

		Convey("a move pushing the downline below level 3 is rejected as a whole", func() {
			_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR2, ReferredUserID: userX})
			So(err, ShouldBeNil)
			before := shape(store)

			err = engine.MoveDownline(ctx, userA, userX)
			So(errors.Is(err, model.ErrReferralDepthExceeded), ShouldBeTrue)
			So(shape(store), ShouldResemble, before)
		})

		Convey("a move to another root re-roots the whole downline", func() {
			So(engine.MoveDownline(ctx, userB, userR2), ShouldBeNil)

			So(edgeOf(store, userB).RootUserID, ShouldEqual, userR2)
			So(edgeOf(store, userB).Level, ShouldEqual, 1)
			So(edgeOf(store, userC).RootUserID, ShouldEqual, userR2)
			So(edgeOf(store, userC).Level, ShouldEqual, 2)
			So(edgeOf(store, userA).RootUserID, ShouldEqual, userR)
			So(violations(engine), ShouldBeEmpty)

			events := sink.Events()
			So(events[len(events)-1].RootUserIDs, ShouldResemble, []uint64{userR, userR2})
		})

		Convey("a failed commit rolls the whole move back", func() {
			before := shape(store)
			store.FailWithConflict(4)

			err := engine.MoveDownline(ctx, userB, userR)
			So(errors.Is(err, model.ErrReferralConcurrencyConflict), ShouldBeTrue)
			So(shape(store), ShouldResemble, before)
			So(len(sink.Events()), ShouldEqual, 3)
		})

		Convey("lost races are retried", func() {
			store.FailWithConflict(2)
			So(engine.MoveDownline(ctx, userB, userR), ShouldBeNil)
			So(edgeOf(store, userB).Level, ShouldEqual, 1)
		})
	})
}

func TestAutoPromoteDownlines(t *testing.T) {
	ctx := context.Background()

	Convey("Given the chain R -> A -> B -> C", t, func() {
		engine, store, sink := newTestEngine()
		So(seedChain(ctx, engine), ShouldBeNil)

		Convey("removing A lifts B into its place", func() {
			So(engine.AutoPromoteDownlines(ctx, userA), ShouldBeNil)

			So(edgeOf(store, userA), ShouldBeNil)
			So(edgeOf(store, userB).ParentUserID, ShouldEqual, userR)
			So(edgeOf(store, userB).Level, ShouldEqual, 1)
			So(commissionOf(store, userB), ShouldEqual, "10")
			So(edgeOf(store, userC).Level, ShouldEqual, 2)
			So(commissionOf(store, userC), ShouldEqual, "5")
			So(violations(engine), ShouldBeEmpty)

			tombstones, err := store.FindByReferredUserUnscoped(ctx, userA)
			So(err, ShouldBeNil)
			So(len(tombstones), ShouldEqual, 1)
			So(tombstones[0].State, ShouldEqual, model.ReferralEdgeStateDeleted)
			So(tombstones[0].DeletedAt.Equal(testNow), ShouldBeTrue)
		})

		Convey("the removed user can be promoted again without effect", func() {
			So(engine.AutoPromoteDownlines(ctx, userA), ShouldBeNil)
			after := shape(store)
			events := len(sink.Events())

			So(engine.AutoPromoteDownlines(ctx, userA), ShouldBeNil)
			So(shape(store), ShouldResemble, after)
			So(len(sink.Events()), ShouldEqual, events)
		})

		Convey("a leaf only gets its edge deleted", func() {
			So(engine.AutoPromoteDownlines(ctx, userC), ShouldBeNil)
			So(edgeOf(store, userC), ShouldBeNil)
			So(edgeOf(store, userB).Level, ShouldEqual, 2)
		})

		Convey("removing the root makes its children roots", func() {
			So(engine.AutoPromoteDownlines(ctx, userR), ShouldBeNil)

			So(edgeOf(store, userA), ShouldBeNil)
			So(edgeOf(store, userB).RootUserID, ShouldEqual, userA)
			So(edgeOf(store, userB).ParentUserID, ShouldEqual, userA)
			So(edgeOf(store, userB).Level, ShouldEqual, 1)
			So(edgeOf(store, userC).RootUserID, ShouldEqual, userA)
			So(edgeOf(store, userC).Level, ShouldEqual, 2)
			So(violations(engine), ShouldBeEmpty)
		})

		Convey("a user outside any tree is a no-op", func() {
			before := shape(store)
			So(engine.AutoPromoteDownlines(ctx, userD), ShouldBeNil)
			So(shape(store), ShouldResemble, before)
		})
	})
}

func TestAssignOrphanUser(t *testing.T) {
	ctx := context.Background()

	Convey("Given the chain R -> A -> B -> C", t, func() {
		engine, store, _ := newTestEngine()
		So(seedChain(ctx, engine), ShouldBeNil)

		Convey("an orphan under a level 1 user lands on level 2", func() {
			So(engine.MoveDownline(ctx, userB, userR), ShouldBeNil)
			So(engine.AssignOrphanUser(ctx, userE, userB), ShouldBeNil)

			So(edgeOf(store, userE).ParentUserID, ShouldEqual, userB)
			So(edgeOf(store, userE).Level, ShouldEqual, 2)
			So(edgeOf(store, userE).RootUserID, ShouldEqual, userR)
			So(commissionOf(store, userE), ShouldEqual, "5")
			So(edgeOf(store, userE).State, ShouldEqual, model.ReferralEdgeStateActive)
			So(violations(engine), ShouldBeEmpty)
		})

		Convey("a positioned user is not an orphan", func() {
			err := engine.AssignOrphanUser(ctx, userC, userR)
			So(errors.Is(err, model.ErrReferralAlreadyPositioned), ShouldBeTrue)
		})

		Convey("a level 3 parent has no room", func() {
			err := engine.AssignOrphanUser(ctx, userE, userC)
			So(errors.Is(err, model.ErrReferralDepthExceeded), ShouldBeTrue)
		})

		Convey("an unknown parent is not found", func() {
			err := engine.AssignOrphanUser(ctx, userE, 999)
			So(errors.Is(err, model.ErrReferralNotFound), ShouldBeTrue)
		})

		Convey("a root cannot be assigned into its own downline", func() {
			err := engine.AssignOrphanUser(ctx, userR, userB)
			So(errors.Is(err, model.ErrReferralCyclicReference), ShouldBeTrue)
		})
	})
}

func TestEdgeState(t *testing.T) {
	ctx := context.Background()

	Convey("Given the chain R -> A -> B -> C", t, func() {
		engine, store, sink := newTestEngine()
		So(seedChain(ctx, engine), ShouldBeNil)

		Convey("deactivation keeps the structure", func() {
			So(engine.Deactivate(ctx, userB), ShouldBeNil)
			So(edgeOf(store, userB).State, ShouldEqual, model.ReferralEdgeStateInactive)
			So(edgeOf(store, userB).Level, ShouldEqual, 2)
			So(edgeOf(store, userC).ParentUserID, ShouldEqual, userB)
			So(violations(engine), ShouldBeEmpty)

			So(engine.Activate(ctx, userB), ShouldBeNil)
			So(edgeOf(store, userB).State, ShouldEqual, model.ReferralEdgeStateActive)
		})

		Convey("only active and inactive can be set directly", func() {
			err := engine.SetState(ctx, userB, model.ReferralEdgeStateDeleted)
			So(errors.Is(err, model.ErrReferralInvalidState), ShouldBeTrue)
			err = engine.SetState(ctx, userB, model.ReferralEdgeState("suspended"))
			So(errors.Is(err, model.ErrReferralInvalidState), ShouldBeTrue)
			So(edgeOf(store, userB).State, ShouldEqual, model.ReferralEdgeStateActive)

			So(engine.SetState(ctx, userB, model.ReferralEdgeStateInactive), ShouldBeNil)
			events := sink.Events()
			So(events[len(events)-1].Operation, ShouldEqual, model.ReferralOperationDeactivate)
		})

		Convey("an unchanged state emits nothing", func() {
			So(engine.Activate(ctx, userB), ShouldBeNil)
			So(len(sink.Events()), ShouldEqual, 3)
		})

		Convey("delete removes the edge for good", func() {
			So(engine.Delete(ctx, userC), ShouldBeNil)
			So(edgeOf(store, userC), ShouldBeNil)
			tombstones, _ := store.FindByReferredUserUnscoped(ctx, userC)
			So(tombstones, ShouldBeEmpty)

			err := engine.Delete(ctx, userC)
			So(errors.Is(err, model.ErrReferralNotFound), ShouldBeTrue)
		})
	})
}

func TestConcurrentMutations(t *testing.T) {
	ctx := context.Background()

	Convey("Given many requests placing the same user at once", t, func() {
		engine, store, _ := newTestEngine()
		_, err := engine.CreateReferral(ctx, model.CreateReferralRequest{RootUserID: userR2, ReferredUserID: userX})
		So(err, ShouldBeNil)

		parents := []uint64{userR, userR2, userX}
		var (
			wg        sync.WaitGroup
			lock      sync.Mutex
			succeeded int
			failures  []error
		)
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func(parent uint64) {
				defer wg.Done()
				err := engine.AssignOrphanUser(ctx, userD, parent)
				lock.Lock()
				defer lock.Unlock()
				if err == nil {
					succeeded++
					return
				}
				failures = append(failures, err)
			}(parents[i%len(parents)])
		}
		wg.Wait()

		Convey("exactly one of them wins", func() {
			So(succeeded, ShouldEqual, 1)
			for _, err := range failures {
				So(errors.Is(err, model.ErrReferralAlreadyPositioned), ShouldBeTrue)
			}
			count, _ := store.CountPositions(ctx, userD)
			So(count, ShouldEqual, 1)
			So(violations(engine), ShouldBeEmpty)
		})
	})
}
