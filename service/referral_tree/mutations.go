package referral_tree

import (
	"context"

	"github.com/pkg/errors"

	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/queries"
)

// MoveDownline re-parents userToMove under newParentUserID and carries its whole downline along.
// The move is rejected as a whole when any moved user would end up below the deepest level.
func (e *Engine) MoveDownline(ctx context.Context, userToMove, newParentUserID uint64) error {
	if userToMove == 0 || newParentUserID == 0 {
		return invalidArgument("user to move and new parent are required")
	}
	if userToMove == newParentUserID {
		return errors.Wrapf(model.ErrReferralSelfReference, "user %d cannot be its own parent", userToMove)
	}

	return e.mutate(ctx, model.ReferralOperationMove, func(ctx context.Context, tx queries.ReferralEdgeTx) (*model.ReferralAuditEvent, error) {
		moved, err := e.positioned(ctx, tx, userToMove)
		if err != nil {
			return nil, err
		}
		parent, err := e.locate(ctx, tx, newParentUserID)
		if err != nil {
			return nil, err
		}
		if err := tx.LockBranches(ctx, moved.rootUserID, parent.rootUserID); err != nil {
			return nil, err
		}
		if moved, err = e.relocate(ctx, tx, moved); err != nil {
			return nil, err
		}
		if moved.edge == nil {
			return nil, notFound("no position for user %d", userToMove)
		}
		if parent, err = e.relocate(ctx, tx, parent); err != nil {
			return nil, err
		}

		count, err := tx.CountPositions(ctx, userToMove)
		if err != nil {
			return nil, err
		}
		if count > 1 {
			return nil, errors.Wrapf(model.ErrReferralDuplicatePosition, "user %d holds %d positions", userToMove, count)
		}
		cyclic, err := e.walker.IsDescendant(ctx, tx, userToMove, newParentUserID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, errors.Wrapf(model.ErrReferralCyclicReference, "user %d is in the downline of user %d", newParentUserID, userToMove)
		}
		newLevel := parent.level + 1
		if newLevel > e.maxLevel() {
			return nil, errors.Wrapf(model.ErrReferralDepthExceeded, "user %d is already at level %d", newParentUserID, parent.level)
		}

		branch, err := tx.Branch(ctx, moved.rootUserID)
		if err != nil {
			return nil, err
		}
		downline, err := indexByParent(branch).subtree(userToMove, e.maxLevel()-newLevel)
		if err != nil {
			return nil, err
		}

		edge := moved.edge
		oldParent, oldRoot := edge.ParentUserID, edge.RootUserID
		if err := e.place(ctx, tx, edge, parent.rootUserID, newParentUserID, newLevel); err != nil {
			return nil, err
		}
		if err := e.cascade(ctx, tx, downline, parent.rootUserID, newLevel); err != nil {
			return nil, err
		}
		return &model.ReferralAuditEvent{
			AffectedUserID: userToMove,
			OldParent:      oldParent,
			NewParent:      newParentUserID,
			RootUserIDs:    uniqueIDs(oldRoot, parent.rootUserID),
		}, nil
	})
}

// AutoPromoteDownlines removes a user from the tree and lifts its direct children into its place.
// Children of a removed root become roots of their own branches.
func (e *Engine) AutoPromoteDownlines(ctx context.Context, removedUserID uint64) error {
	if removedUserID == 0 {
		return invalidArgument("removed user is required")
	}

	return e.mutate(ctx, model.ReferralOperationPromote, func(ctx context.Context, tx queries.ReferralEdgeTx) (*model.ReferralAuditEvent, error) {
		edge, ok, err := tx.FindByReferredUser(ctx, removedUserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return e.promoteRootDownlines(ctx, tx, removedUserID)
		}
		if err := tx.LockBranches(ctx, edge.RootUserID); err != nil {
			return nil, err
		}
		lockedRoot := edge.RootUserID
		if edge, ok, err = tx.FindByReferredUser(ctx, removedUserID); err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if edge.RootUserID != lockedRoot {
			return nil, errors.Wrapf(model.ErrReferralConcurrencyConflict, "user %d changed branch", removedUserID)
		}

		branch, err := tx.Branch(ctx, edge.RootUserID)
		if err != nil {
			return nil, err
		}
		index := indexByParent(branch)
		for _, child := range index[removedUserID] {
			downline, err := index.subtree(child.ReferredUserID, e.maxLevel()-edge.Level)
			if err != nil {
				return nil, err
			}
			if err := e.place(ctx, tx, child, edge.RootUserID, edge.ParentUserID, edge.Level); err != nil {
				return nil, err
			}
			if err := e.cascade(ctx, tx, downline, edge.RootUserID, edge.Level); err != nil {
				return nil, err
			}
		}

		edge.MarkDeleted(ActorFrom(ctx), e.now())
		edge.UpdatedAt = e.now()
		if err := tx.Update(ctx, edge); err != nil {
			return nil, err
		}
		return &model.ReferralAuditEvent{
			AffectedUserID: removedUserID,
			OldParent:      edge.ParentUserID,
			NewParent:      edge.ParentUserID,
			RootUserIDs:    []uint64{edge.RootUserID},
		}, nil
	})
}

// promoteRootDownlines turns every direct child of a removed root into a root
func (e *Engine) promoteRootDownlines(ctx context.Context, tx queries.ReferralEdgeTx, rootUserID uint64) (*model.ReferralAuditEvent, error) {
	if err := tx.LockBranches(ctx, rootUserID); err != nil {
		return nil, err
	}
	branch, err := tx.Branch(ctx, rootUserID)
	if err != nil {
		return nil, err
	}
	index := indexByParent(branch)
	children := index[rootUserID]
	if len(children) == 0 {
		return nil, nil
	}

	roots := []uint64{rootUserID}
	for _, child := range children {
		roots = append(roots, child.ReferredUserID)
	}
	if err := tx.LockBranches(ctx, roots[1:]...); err != nil {
		return nil, err
	}

	for _, child := range children {
		downline, err := index.subtree(child.ReferredUserID, e.maxLevel())
		if err != nil {
			return nil, err
		}
		child.MarkDeleted(ActorFrom(ctx), e.now())
		child.UpdatedAt = e.now()
		if err := tx.Update(ctx, child); err != nil {
			return nil, err
		}
		if err := e.cascade(ctx, tx, downline, child.ReferredUserID, 0); err != nil {
			return nil, err
		}
	}
	return &model.ReferralAuditEvent{
		AffectedUserID: rootUserID,
		RootUserIDs:    roots,
	}, nil
}

// AssignOrphanUser positions a user without a tree position under targetParentUserID
func (e *Engine) AssignOrphanUser(ctx context.Context, orphanUserID, targetParentUserID uint64) error {
	if orphanUserID == 0 || targetParentUserID == 0 {
		return invalidArgument("orphan and target parent are required")
	}
	if orphanUserID == targetParentUserID {
		return errors.Wrapf(model.ErrReferralSelfReference, "user %d cannot be its own parent", orphanUserID)
	}
	if err := e.mustExist(ctx, orphanUserID); err != nil {
		return err
	}

	return e.mutate(ctx, model.ReferralOperationAssign, func(ctx context.Context, tx queries.ReferralEdgeTx) (*model.ReferralAuditEvent, error) {
		parent, err := e.locate(ctx, tx, targetParentUserID)
		if err != nil {
			return nil, err
		}
		if err := tx.LockBranches(ctx, parent.rootUserID, orphanUserID); err != nil {
			return nil, err
		}
		if parent, err = e.relocate(ctx, tx, parent); err != nil {
			return nil, err
		}
		if _, err := e.attach(ctx, tx, orphanUserID, parent, model.ErrReferralAlreadyPositioned); err != nil {
			return nil, err
		}
		return &model.ReferralAuditEvent{
			AffectedUserID: orphanUserID,
			NewParent:      targetParentUserID,
			RootUserIDs:    uniqueIDs(parent.rootUserID, orphanUserID),
		}, nil
	})
}

// CreateReferral attaches the referred user to the root branch, directly under the root unless
// the request names another parent inside the branch.
func (e *Engine) CreateReferral(ctx context.Context, req model.CreateReferralRequest) (*model.ReferralEdge, error) {
	if err := e.validateReferral(ctx, req); err != nil {
		return nil, err
	}

	var created *model.ReferralEdge
	err := e.mutate(ctx, model.ReferralOperationCreate, func(ctx context.Context, tx queries.ReferralEdgeTx) (*model.ReferralAuditEvent, error) {
		if err := tx.LockBranches(ctx, req.RootUserID, req.ReferredUserID); err != nil {
			return nil, err
		}
		parent, err := e.referralParent(ctx, tx, req)
		if err != nil {
			return nil, err
		}
		if err := e.checkReferral(ctx, tx, req); err != nil {
			return nil, err
		}
		edge, err := e.attach(ctx, tx, req.ReferredUserID, parent, model.ErrReferralDuplicatePosition)
		if err != nil {
			return nil, err
		}
		created = edge
		return &model.ReferralAuditEvent{
			AffectedUserID: req.ReferredUserID,
			NewParent:      parent.userID,
			RootUserIDs:    uniqueIDs(req.RootUserID, req.ReferredUserID),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CanAddReferral runs the checks of CreateReferral without writing.
// A rejected request returns false together with the reason.
func (e *Engine) CanAddReferral(ctx context.Context, req model.CreateReferralRequest) (bool, error) {
	if err := e.validateReferral(ctx, req); err != nil {
		return false, err
	}
	parent, err := e.referralParent(ctx, e.store, req)
	if err != nil {
		return false, err
	}
	if err := e.checkReferral(ctx, e.store, req); err != nil {
		return false, err
	}
	if _, _, err := e.checkAttach(ctx, e.store, req.ReferredUserID, parent, model.ErrReferralDuplicatePosition); err != nil {
		return false, err
	}
	return true, nil
}

// Activate marks the edge of the user as active
func (e *Engine) Activate(ctx context.Context, userID uint64) error {
	return e.SetState(ctx, userID, model.ReferralEdgeStateActive)
}

// Deactivate marks the edge of the user as inactive. The tree shape does not change.
func (e *Engine) Deactivate(ctx context.Context, userID uint64) error {
	return e.SetState(ctx, userID, model.ReferralEdgeStateInactive)
}

// SetState switches the edge of the user between active and inactive.
// Deleted cannot be set here, removals go through AutoPromoteDownlines or Delete.
func (e *Engine) SetState(ctx context.Context, userID uint64, state model.ReferralEdgeState) error {
	if !state.IsValid() {
		return errors.Wrapf(model.ErrReferralInvalidState, "unknown state %q", state)
	}
	if !state.Positioned() {
		return errors.Wrapf(model.ErrReferralInvalidState, "state %q cannot be set directly", state)
	}
	op := model.ReferralOperationActivate
	if state == model.ReferralEdgeStateInactive {
		op = model.ReferralOperationDeactivate
	}
	return e.setState(ctx, op, userID, state)
}

func (e *Engine) setState(ctx context.Context, op model.ReferralOperation, userID uint64, state model.ReferralEdgeState) error {
	if userID == 0 {
		return invalidArgument("user is required")
	}
	return e.mutate(ctx, op, func(ctx context.Context, tx queries.ReferralEdgeTx) (*model.ReferralAuditEvent, error) {
		edge, ok, err := tx.FindByReferredUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFound("no position for user %d", userID)
		}
		if edge.State == state {
			return nil, nil
		}
		edge.State = state
		edge.UpdatedAt = e.now()
		if err := tx.Update(ctx, edge); err != nil {
			return nil, err
		}
		return &model.ReferralAuditEvent{
			AffectedUserID: userID,
			OldParent:      edge.ParentUserID,
			NewParent:      edge.ParentUserID,
			RootUserIDs:    []uint64{edge.RootUserID},
		}, nil
	})
}

// Delete removes the edge of the user for good. Children keep pointing at the user;
// call AutoPromoteDownlines first to keep the downline attached.
func (e *Engine) Delete(ctx context.Context, userID uint64) error {
	if userID == 0 {
		return invalidArgument("user is required")
	}
	return e.mutate(ctx, model.ReferralOperationDelete, func(ctx context.Context, tx queries.ReferralEdgeTx) (*model.ReferralAuditEvent, error) {
		edge, ok, err := tx.FindByReferredUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFound("no position for user %d", userID)
		}
		if err := tx.HardDelete(ctx, edge.ID); err != nil {
			return nil, err
		}
		return &model.ReferralAuditEvent{
			AffectedUserID: userID,
			OldParent:      edge.ParentUserID,
			RootUserIDs:    []uint64{edge.RootUserID},
		}, nil
	})
}

// positioned resolves a user that must hold a tree position
func (e *Engine) positioned(ctx context.Context, reader ParentLookup, userID uint64) (position, error) {
	edge, ok, err := reader.FindByReferredUser(ctx, userID)
	if err != nil {
		return position{}, err
	}
	if !ok {
		return position{}, notFound("no position for user %d", userID)
	}
	return position{userID: userID, rootUserID: edge.RootUserID, level: edge.Level, edge: edge}, nil
}

func (e *Engine) mustExist(ctx context.Context, userIDs ...uint64) error {
	for _, userID := range uniqueIDs(userIDs...) {
		exists, err := e.users.Exists(ctx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return notFound("user %d", userID)
		}
	}
	return nil
}

func (e *Engine) validateReferral(ctx context.Context, req model.CreateReferralRequest) error {
	if req.RootUserID == 0 || req.ReferredUserID == 0 {
		return invalidArgument("root and referred user are required")
	}
	if req.ReferredUserID == req.RootUserID || req.ReferredUserID == req.Parent() {
		return errors.Wrapf(model.ErrReferralSelfReference, "user %d cannot refer itself", req.ReferredUserID)
	}
	return e.mustExist(ctx, req.RootUserID, req.ReferredUserID, req.Parent())
}

// referralParent resolves the attachment point of a request and checks it belongs to the root branch
func (e *Engine) referralParent(ctx context.Context, reader ParentLookup, req model.CreateReferralRequest) (position, error) {
	parent, err := e.locate(ctx, reader, req.Parent())
	if err != nil {
		return position{}, err
	}
	if parent.rootUserID != req.RootUserID {
		return position{}, notFound("user %d is not in the branch of root %d", parent.userID, req.RootUserID)
	}
	return parent, nil
}

// checkReferral refuses users that already hold a position and branches that already reach the deepest level
func (e *Engine) checkReferral(ctx context.Context, reader queries.ReferralEdgeReader, req model.CreateReferralRequest) error {
	count, err := reader.CountPositions(ctx, req.ReferredUserID)
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.Wrapf(model.ErrReferralDuplicatePosition, "user %d already has a position", req.ReferredUserID)
	}
	branch, err := reader.Branch(ctx, req.RootUserID)
	if err != nil {
		return err
	}
	if depth := branchDepth(branch); depth >= e.maxLevel() {
		return errors.Wrapf(model.ErrReferralDepthExceeded, "branch of root %d is already %d levels deep", req.RootUserID, depth)
	}
	return nil
}

// checkAttach validates positioning userID under parent. A user heading its own downline takes the
// downline along, so the downline must fit below the new level too.
func (e *Engine) checkAttach(ctx context.Context, reader queries.ReferralEdgeReader, userID uint64, parent position, positionedErr error) (int, []descendant, error) {
	count, err := reader.CountPositions(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	if count > 0 {
		return 0, nil, errors.Wrapf(positionedErr, "user %d already has a position", userID)
	}
	cyclic, err := e.walker.IsDescendant(ctx, reader, userID, parent.userID)
	if err != nil {
		return 0, nil, err
	}
	if cyclic {
		return 0, nil, errors.Wrapf(model.ErrReferralCyclicReference, "user %d is in the downline of user %d", parent.userID, userID)
	}
	level := parent.level + 1
	if level > e.maxLevel() {
		return 0, nil, errors.Wrapf(model.ErrReferralDepthExceeded, "user %d is already at level %d", parent.userID, parent.level)
	}
	own, err := reader.Branch(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	downline, err := indexByParent(own).subtree(userID, e.maxLevel()-level)
	if err != nil {
		return 0, nil, err
	}
	return level, downline, nil
}

// attach inserts the edge of userID under parent and cascades the user's own downline into the branch
func (e *Engine) attach(ctx context.Context, tx queries.ReferralEdgeTx, userID uint64, parent position, positionedErr error) (*model.ReferralEdge, error) {
	level, downline, err := e.checkAttach(ctx, tx, userID, parent, positionedErr)
	if err != nil {
		return nil, err
	}
	commission, err := e.commission.Percent(level)
	if err != nil {
		return nil, err
	}
	edge := model.NewReferralEdge(parent.rootUserID, userID, parent.userID, level, commission)
	now := e.now()
	edge.CreatedAt = now
	edge.UpdatedAt = now
	if err := tx.Insert(ctx, edge); err != nil {
		return nil, err
	}
	if err := e.cascade(ctx, tx, downline, parent.rootUserID, level); err != nil {
		return nil, err
	}
	return edge, nil
}
