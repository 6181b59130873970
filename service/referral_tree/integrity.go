package referral_tree

import (
	"context"
	"fmt"
	"sort"

	"gitlab.com/paramountdax-exchange/referral_api/conv"
	"gitlab.com/paramountdax-exchange/referral_api/model"
)

// Names of the tree invariants reported by Verify
const (
	InvariantUniqueness            = "uniqueness"
	InvariantAcyclicity            = "acyclicity"
	InvariantLevelConsistency      = "level_consistency"
	InvariantDepthBound            = "depth_bound"
	InvariantCommissionConsistency = "commission_consistency"
	InvariantRootCoherence         = "root_coherence"
)

// Invariants lists every invariant Verify checks
var Invariants = []string{
	InvariantUniqueness,
	InvariantAcyclicity,
	InvariantLevelConsistency,
	InvariantDepthBound,
	InvariantCommissionConsistency,
	InvariantRootCoherence,
}

// Verify checks every positioned edge against the tree invariants and reports what is broken.
// Nothing is repaired.
func (e *Engine) Verify(ctx context.Context) ([]model.ReferralIntegrityViolation, error) {
	edges, err := e.store.Positioned(ctx)
	if err != nil {
		return nil, err
	}

	violations := make([]model.ReferralIntegrityViolation, 0)
	report := func(edge *model.ReferralEdge, invariant, format string, args ...interface{}) {
		violations = append(violations, model.ReferralIntegrityViolation{
			EdgeID:         edge.ID,
			ReferredUserID: edge.ReferredUserID,
			Invariant:      invariant,
			Details:        fmt.Sprintf(format, args...),
		})
	}

	byUser := make(map[uint64]*model.ReferralEdge, len(edges))
	for _, edge := range edges {
		if first, ok := byUser[edge.ReferredUserID]; ok {
			report(edge, InvariantUniqueness, "user already positioned by edge %d", first.ID)
			continue
		}
		byUser[edge.ReferredUserID] = edge
	}

	for _, edge := range edges {
		if edge.Level < 1 || edge.Level > e.maxLevel() {
			report(edge, InvariantDepthBound, "level %d outside [1, %d]", edge.Level, e.maxLevel())
		}

		if edge.ParentUserID == 0 {
			report(edge, InvariantRootCoherence, "edge has no parent")
		} else if parent, ok := byUser[edge.ParentUserID]; ok {
			if edge.Level != parent.Level+1 {
				report(edge, InvariantLevelConsistency, "level %d under parent at level %d", edge.Level, parent.Level)
			}
			if edge.RootUserID != parent.RootUserID {
				report(edge, InvariantRootCoherence, "root %d differs from parent root %d", edge.RootUserID, parent.RootUserID)
			}
		} else {
			if edge.Level != 1 {
				report(edge, InvariantLevelConsistency, "level %d directly under root %d", edge.Level, edge.ParentUserID)
			}
			if edge.RootUserID != edge.ParentUserID {
				report(edge, InvariantRootCoherence, "root %d differs from root parent %d", edge.RootUserID, edge.ParentUserID)
			}
		}

		if expected, err := e.commission.Percent(edge.Level); err == nil {
			if c := edge.Commission(); c == nil || c.Cmp(expected) != 0 {
				report(edge, InvariantCommissionConsistency, "commission %s, expected %s for level %d",
					conv.FmtDecimal(edge.Commission()), conv.FmtDecimal(expected), edge.Level)
			}
		}

		if onCycle(byUser, edge) {
			report(edge, InvariantAcyclicity, "parent chain returns to user %d", edge.ReferredUserID)
		}
	}

	sort.SliceStable(violations, func(i, j int) bool { return violations[i].EdgeID < violations[j].EdgeID })
	for _, v := range violations {
		integrityWarning("verify", v.ReferredUserID, v.Invariant+": "+v.Details)
	}
	return violations, nil
}

// onCycle follows parents from edge and reports whether the chain comes back to its user
func onCycle(byUser map[uint64]*model.ReferralEdge, edge *model.ReferralEdge) bool {
	visited := map[uint64]struct{}{}
	current := edge.ParentUserID
	for current != 0 {
		if current == edge.ReferredUserID {
			return true
		}
		if _, seen := visited[current]; seen {
			// a cycle further up, reported for its own members
			return false
		}
		visited[current] = struct{}{}
		parent, ok := byUser[current]
		if !ok {
			return false
		}
		current = parent.ParentUserID
	}
	return false
}
