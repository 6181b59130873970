package referral_tree

import (
	"context"
	"sort"

	"github.com/ericlagergren/decimal"

	"gitlab.com/paramountdax-exchange/referral_api/conv"
	"gitlab.com/paramountdax-exchange/referral_api/model"
)

// GetTreeByRoot returns every positioned edge of the branch, shallow levels first
func (e *Engine) GetTreeByRoot(ctx context.Context, rootUserID uint64) ([]*model.ReferralEdge, error) {
	if rootUserID == 0 {
		return nil, invalidArgument("root user is required")
	}
	return e.store.Branch(ctx, rootUserID)
}

// GetTreeStructure builds the nested tree of a root down to maxLevel.
// Child and descendant counts always cover the whole branch.
func (e *Engine) GetTreeStructure(ctx context.Context, rootUserID uint64, maxLevel int) (*model.ReferralTreeNode, error) {
	if rootUserID == 0 {
		return nil, invalidArgument("root user is required")
	}
	if maxLevel <= 0 || maxLevel > e.maxLevel() {
		maxLevel = e.maxLevel()
	}
	branch, err := e.store.Branch(ctx, rootUserID)
	if err != nil {
		return nil, err
	}
	if len(branch) == 0 {
		if err := e.mustExist(ctx, rootUserID); err != nil {
			return nil, err
		}
	}

	index := indexByParent(branch)
	root := &model.ReferralTreeNode{UserID: rootUserID, Children: []*model.ReferralTreeNode{}}

	// nodes in the order they were reached; walking it backwards visits children before parents
	order := []*model.ReferralTreeNode{root}
	visited := map[uint64]struct{}{rootUserID: {}}
	for i := 0; i < len(order); i++ {
		node := order[i]
		for _, child := range index[node.UserID] {
			if _, seen := visited[child.ReferredUserID]; seen {
				integrityWarning("tree_structure", child.ReferredUserID, "user reached twice while building a tree")
				continue
			}
			visited[child.ReferredUserID] = struct{}{}
			order = append(order, &model.ReferralTreeNode{
				UserID:            child.ReferredUserID,
				ParentUserID:      child.ParentUserID,
				Level:             child.Level,
				CommissionPercent: conv.FmtDecimal(child.Commission()),
				State:             child.State,
				Children:          []*model.ReferralTreeNode{},
			})
			node.DirectChildren++
		}
	}

	nodes := make(map[uint64]*model.ReferralTreeNode, len(order))
	for _, node := range order {
		nodes[node.UserID] = node
	}
	for i := len(order) - 1; i > 0; i-- {
		node := order[i]
		parent := nodes[node.ParentUserID]
		parent.TotalDescendants += node.TotalDescendants + 1
		if node.Level <= maxLevel {
			parent.Children = append(parent.Children, node)
		}
	}
	for _, node := range order {
		sort.Slice(node.Children, func(i, j int) bool { return node.Children[i].UserID < node.Children[j].UserID })
	}
	return root, nil
}

// GetAncestors returns the upline of a user starting at its root (level 0).
// Roots and users without a position have no ancestors.
func (e *Engine) GetAncestors(ctx context.Context, userID uint64) ([]model.ReferralAncestor, error) {
	if userID == 0 {
		return nil, invalidArgument("user is required")
	}
	edge, ok, err := e.store.FindByReferredUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := e.mustExist(ctx, userID); err != nil {
			return nil, err
		}
		return []model.ReferralAncestor{}, nil
	}
	branch, err := e.store.Branch(ctx, edge.RootUserID)
	if err != nil {
		return nil, err
	}
	byUser := newEdgeIndex(branch)

	ancestors := make([]model.ReferralAncestor, 0, edge.Level)
	visited := map[uint64]struct{}{userID: {}}
	current := edge.ParentUserID
	for hops := 0; hops < e.walker.ceiling(); hops++ {
		if _, seen := visited[current]; seen {
			integrityWarning("ancestors", userID, "cycle detected while listing ancestors")
			break
		}
		visited[current] = struct{}{}
		parent, ok := byUser[current]
		if !ok {
			ancestors = append(ancestors, model.ReferralAncestor{UserID: current, Level: 0})
			break
		}
		ancestors = append(ancestors, model.ReferralAncestor{
			UserID:            current,
			Level:             parent.Level,
			CommissionPercent: conv.FmtDecimal(parent.Commission()),
		})
		current = parent.ParentUserID
	}

	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}
	return ancestors, nil
}

// GetDirectDownlines lists the edges directly below the user
func (e *Engine) GetDirectDownlines(ctx context.Context, userID uint64) ([]*model.ReferralEdge, error) {
	if userID == 0 {
		return nil, invalidArgument("user is required")
	}
	return e.store.ChildrenOf(ctx, userID)
}

// GetStatistics counts the nodes of a branch per level
func (e *Engine) GetStatistics(ctx context.Context, rootUserID uint64) (*model.ReferralStatistics, error) {
	if rootUserID == 0 {
		return nil, invalidArgument("root user is required")
	}
	branch, err := e.store.Branch(ctx, rootUserID)
	if err != nil {
		return nil, err
	}
	if len(branch) == 0 {
		if err := e.mustExist(ctx, rootUserID); err != nil {
			return nil, err
		}
	}

	levels := make([]model.ReferralLevelStatistics, e.maxLevel())
	sums := make([]*decimal.Big, e.maxLevel())
	for i := range levels {
		levels[i].Level = i + 1
		percent, err := e.commission.Percent(i + 1)
		if err != nil {
			return nil, err
		}
		levels[i].CommissionPercent = conv.FmtDecimal(percent)
		sums[i] = conv.NewDecimalWithPrecision()
	}

	stats := &model.ReferralStatistics{RootUserID: rootUserID}
	for _, edge := range branch {
		if edge.Level < 1 || edge.Level > len(levels) {
			integrityWarning("statistics", edge.ReferredUserID, "edge level out of range")
			continue
		}
		l := &levels[edge.Level-1]
		l.Count++
		stats.TotalNodes++
		if edge.State == model.ReferralEdgeStateActive {
			l.Active++
			stats.ActiveNodes++
		}
		if edge.Level > stats.MaxDepth {
			stats.MaxDepth = edge.Level
		}
		if c := edge.Commission(); c != nil {
			sums[edge.Level-1].Add(sums[edge.Level-1], c)
		}
	}

	stats.Level1Count = levels[0].Count
	if len(levels) > 1 {
		stats.Level2Count = levels[1].Count
	}
	if len(levels) > 2 {
		stats.Level3Count = levels[2].Count
	}
	stats.CommissionPercentSum = conv.FmtDecimal(conv.Sum(sums...))
	stats.Levels = levels
	return stats, nil
}

// ReferralExists reports whether the user holds a tree position
func (e *Engine) ReferralExists(ctx context.Context, userID uint64) (bool, error) {
	count, err := e.store.CountPositions(ctx, userID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// IsDescendant reports whether descendant is in the downline of ancestor
func (e *Engine) IsDescendant(ctx context.Context, ancestor, descendant uint64) (bool, error) {
	return e.walker.IsDescendant(ctx, e.store, ancestor, descendant)
}
