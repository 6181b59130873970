package referral_tree

import (
	"context"

	"github.com/ericlagergren/decimal/sql/postgres"
	"github.com/pkg/errors"

	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/queries"
)

func notFound(format string, args ...interface{}) error {
	return errors.Wrapf(model.ErrReferralNotFound, format, args...)
}

func invalidArgument(msg string) error {
	return errors.Wrap(model.ErrReferralInvalidArgument, msg)
}

// branchIndex groups the positioned edges of a branch by parent user
type branchIndex map[uint64][]*model.ReferralEdge

func indexByParent(edges []*model.ReferralEdge) branchIndex {
	index := make(branchIndex, len(edges))
	for _, edge := range edges {
		if edge.Positioned() {
			index[edge.ParentUserID] = append(index[edge.ParentUserID], edge)
		}
	}
	return index
}

// branchDepth is the deepest level held by a positioned edge of the branch, 0 for a bare root
func branchDepth(edges []*model.ReferralEdge) int {
	depth := 0
	for _, edge := range edges {
		if edge.Positioned() && edge.Level > depth {
			depth = edge.Level
		}
	}
	return depth
}

// descendant is an edge below some user and its distance from that user
type descendant struct {
	edge  *model.ReferralEdge
	depth int
}

// subtree lists the downline of userID breadth first. Every returned depth is at most limit;
// a deeper downline fails with ErrReferralDepthExceeded before anything is written.
func (idx branchIndex) subtree(userID uint64, limit int) ([]descendant, error) {
	out := make([]descendant, 0)
	visited := map[uint64]struct{}{userID: {}}
	frontier := []uint64{userID}
	for depth := 1; len(frontier) > 0; depth++ {
		next := make([]uint64, 0)
		for _, parent := range frontier {
			for _, child := range idx[parent] {
				if _, seen := visited[child.ReferredUserID]; seen {
					integrityWarning("cascade", child.ReferredUserID, "user reached twice while walking a downline")
					continue
				}
				if depth > limit {
					return nil, errors.Wrapf(model.ErrReferralDepthExceeded,
						"downline of user %d would go below level %d", userID, model.ReferralMaxLevel)
				}
				visited[child.ReferredUserID] = struct{}{}
				out = append(out, descendant{edge: child, depth: depth})
				next = append(next, child.ReferredUserID)
			}
		}
		frontier = next
	}
	return out, nil
}

// place rewrites the position of an edge and derives its commission from the new level
func (e *Engine) place(ctx context.Context, tx queries.ReferralEdgeTx, edge *model.ReferralEdge, rootUserID, parentUserID uint64, level int) error {
	commission, err := e.commission.Percent(level)
	if err != nil {
		return err
	}
	edge.RootUserID = rootUserID
	edge.ParentUserID = parentUserID
	edge.Level = level
	edge.CommissionPercent = &postgres.Decimal{V: commission}
	edge.UpdatedAt = e.now()
	return tx.Update(ctx, edge)
}

// cascade moves a downline along with its head, which now sits at headLevel under rootUserID.
// Parents inside the downline do not change; relative depths are kept.
func (e *Engine) cascade(ctx context.Context, tx queries.ReferralEdgeTx, downline []descendant, rootUserID uint64, headLevel int) error {
	for _, d := range downline {
		if err := e.place(ctx, tx, d.edge, rootUserID, d.edge.ParentUserID, headLevel+d.depth); err != nil {
			return err
		}
	}
	return nil
}

// relocate resolves a user again once its branch is locked. A root that changed in between means
// another transaction won the race.
func (e *Engine) relocate(ctx context.Context, tx queries.ReferralEdgeTx, locked position) (position, error) {
	current, err := e.locate(ctx, tx, locked.userID)
	if err != nil {
		return position{}, err
	}
	if current.rootUserID != locked.rootUserID {
		return position{}, errors.Wrapf(model.ErrReferralConcurrencyConflict, "user %d changed branch", locked.userID)
	}
	return current, nil
}

func uniqueIDs(ids ...uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
