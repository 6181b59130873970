package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"gitlab.com/paramountdax-exchange/referral_api/cache/user_referrals"
	"gitlab.com/paramountdax-exchange/referral_api/featureflags"
	"gitlab.com/paramountdax-exchange/referral_api/model"
)

const statisticsConcurrency = 4

func mutationsEnabled() error {
	if !featureflags.IsEnabled(featureflags.ReferralTreeMutations) {
		return model.ErrReferralMutationsDisabled
	}
	return nil
}

// CreateReferral godoc
func (service *Service) CreateReferral(ctx context.Context, req model.CreateReferralRequest) (*model.ReferralEdge, error) {
	if err := mutationsEnabled(); err != nil {
		return nil, err
	}
	return service.Tree.CreateReferral(ctx, req)
}

// MoveDownline godoc
func (service *Service) MoveDownline(ctx context.Context, userToMove, newParentUserID uint64) error {
	if err := mutationsEnabled(); err != nil {
		return err
	}
	return service.Tree.MoveDownline(ctx, userToMove, newParentUserID)
}

// AutoPromoteDownlines godoc
func (service *Service) AutoPromoteDownlines(ctx context.Context, removedUserID uint64) error {
	if err := mutationsEnabled(); err != nil {
		return err
	}
	return service.Tree.AutoPromoteDownlines(ctx, removedUserID)
}

// AssignOrphanUser godoc
func (service *Service) AssignOrphanUser(ctx context.Context, orphanUserID, targetParentUserID uint64) error {
	if err := mutationsEnabled(); err != nil {
		return err
	}
	return service.Tree.AssignOrphanUser(ctx, orphanUserID, targetParentUserID)
}

// DeleteReferral godoc
func (service *Service) DeleteReferral(ctx context.Context, userID uint64) error {
	if err := mutationsEnabled(); err != nil {
		return err
	}
	return service.Tree.Delete(ctx, userID)
}

// GetTreeStructure serves the tree from the snapshot cache when possible
func (service *Service) GetTreeStructure(ctx context.Context, rootUserID uint64, maxLevel int) (*model.ReferralTreeNode, error) {
	if maxLevel <= 0 || maxLevel > model.ReferralMaxLevel {
		maxLevel = model.ReferralMaxLevel
	}
	if service.snapshots == nil {
		return service.Tree.GetTreeStructure(ctx, rootUserID, maxLevel)
	}
	generation, cacheable := service.snapshots.Generation(rootUserID)
	if cacheable {
		if tree, ok := service.snapshots.Get(rootUserID, maxLevel); ok {
			return tree, nil
		}
	}
	tree, err := service.Tree.GetTreeStructure(ctx, rootUserID, maxLevel)
	if err != nil {
		return nil, err
	}
	if cacheable {
		service.snapshots.Set(rootUserID, maxLevel, generation, tree)
	}
	return tree, nil
}

// GetStatisticsBatch loads the statistics of several roots in parallel. The result keeps the order of rootUserIDs.
func (service *Service) GetStatisticsBatch(ctx context.Context, rootUserIDs []uint64) ([]*model.ReferralStatistics, error) {
	stats := make([]*model.ReferralStatistics, len(rootUserIDs))
	wg, gctx := errgroup.WithContext(ctx)
	wg.SetLimit(statisticsConcurrency)
	for i, root := range rootUserIDs {
		i, root := i, root
		wg.Go(func() error {
			s, err := service.Tree.GetStatistics(gctx, root)
			if err != nil {
				return err
			}
			stats[i] = s
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetUpline returns the cached L1..L3 upline of the user
func (service *Service) GetUpline(userID uint64) *model.ReferralTree {
	return user_referrals.GetUserReferrals(userID)
}

// GetDownline returns the cached downline of the user grouped by relative level
func (service *Service) GetDownline(userID uint64) *model.ReferralTree {
	return user_referrals.GetUserReferred(userID)
}

// VerifyIntegrity godoc
func (service *Service) VerifyIntegrity(ctx context.Context) ([]model.ReferralIntegrityViolation, error) {
	return service.Tree.Verify(ctx)
}
