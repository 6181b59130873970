package referral_tree

import (
	"context"

	"github.com/rs/zerolog/log"

	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/monitor"
)

// DefaultAncestryCeiling bounds upward walks independently of the logical level
const DefaultAncestryCeiling = 10

// ParentLookup resolves the positioned edge of a user
type ParentLookup interface {
	FindByReferredUser(ctx context.Context, userID uint64) (*model.ReferralEdge, bool, error)
}

// AncestryWalker follows ParentUserID links upward
type AncestryWalker struct {
	// Ceiling is the maximum number of parent hops before the walk is abandoned
	Ceiling int
}

func (w AncestryWalker) ceiling() int {
	if w.Ceiling <= 0 {
		return DefaultAncestryCeiling
	}
	return w.Ceiling
}

// IsDescendant reports whether descendant sits below ancestor. A user is never its own descendant.
// Stored cycles and over-deep chains are logged as integrity warnings and answered with false.
func (w AncestryWalker) IsDescendant(ctx context.Context, lookup ParentLookup, ancestor, descendant uint64) (bool, error) {
	if ancestor == 0 || descendant == 0 || ancestor == descendant {
		return false, nil
	}
	visited := map[uint64]struct{}{descendant: {}}
	current := descendant
	for hops := 0; hops < w.ceiling(); hops++ {
		edge, ok, err := lookup.FindByReferredUser(ctx, current)
		if err != nil {
			return false, err
		}
		if !ok || edge.ParentUserID == 0 {
			return false, nil
		}
		parent := edge.ParentUserID
		if parent == ancestor {
			return true, nil
		}
		if _, seen := visited[parent]; seen {
			integrityWarning("ancestry_walker", descendant, "cycle detected while walking upline")
			return false, nil
		}
		visited[parent] = struct{}{}
		current = parent
	}
	integrityWarning("ancestry_walker", descendant, "upline walk reached the traversal ceiling")
	return false, nil
}

func integrityWarning(source string, userID uint64, msg string) {
	monitor.ReferralIntegrityWarnings.WithLabelValues(source).Inc()
	log.Warn().
		Str("section", "referral_tree").
		Str("source", source).
		Uint64("user_id", userID).
		Msg(msg)
}

// edgeIndex is a ParentLookup over an already loaded edge set
type edgeIndex map[uint64]*model.ReferralEdge

func newEdgeIndex(edges []*model.ReferralEdge) edgeIndex {
	index := make(edgeIndex, len(edges))
	for _, edge := range edges {
		if edge.Positioned() {
			index[edge.ReferredUserID] = edge
		}
	}
	return index
}

func (idx edgeIndex) FindByReferredUser(_ context.Context, userID uint64) (*model.ReferralEdge, bool, error) {
	edge, ok := idx[userID]
	return edge, ok, nil
}
