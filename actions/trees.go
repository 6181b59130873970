package actions

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gitlab.com/paramountdax-exchange/referral_api/model"
)

const maxStatisticsRoots = 50

// GetTreeByRoot godoc
// swagger:route GET /trees/{root_user_id} trees get_tree_by_root
// Get tree edges
//
// Returns every positioned edge of the root branch ordered by level
func (actions *Actions) GetTreeByRoot(c *gin.Context) {
	rootUserID, ok := getParamAsUint64(c, "root_user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid root user id")
		return
	}
	edges, err := actions.service.Tree.GetTreeByRoot(c.Request.Context(), rootUserID)
	if err != nil {
		abortWithReferralError(c, err, "Unable to get tree")
		return
	}
	c.JSON(OK, model.ReferralEdgeViews(edges))
}

// GetTreeStructure godoc
// swagger:route GET /trees/{root_user_id}/structure trees get_tree_structure
// Get tree structure
//
// Returns the nested tree of the root down to max_level (default: every level)
//
//	Responses:
//	  200: ReferralTreeNode
//	  404: RequestErrorResp
func (actions *Actions) GetTreeStructure(c *gin.Context) {
	rootUserID, ok := getParamAsUint64(c, "root_user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid root user id")
		return
	}
	maxLevel := getQueryAsInt(c, "max_level", model.ReferralMaxLevel)
	tree, err := actions.service.GetTreeStructure(c.Request.Context(), rootUserID, maxLevel)
	if err != nil {
		abortWithReferralError(c, err, "Unable to get tree structure")
		return
	}
	c.JSON(OK, tree)
}

func (actions *Actions) GetStatistics(c *gin.Context) {
	rootUserID, ok := getParamAsUint64(c, "root_user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid root user id")
		return
	}
	stats, err := actions.service.Tree.GetStatistics(c.Request.Context(), rootUserID)
	if err != nil {
		abortWithReferralError(c, err, "Unable to get statistics")
		return
	}
	c.JSON(OK, stats)
}

// GetStatisticsBatch godoc
// swagger:route GET /statistics trees get_statistics_batch
// Get statistics of several roots
//
// roots is a comma separated list of root user ids
func (actions *Actions) GetStatisticsBatch(c *gin.Context) {
	raw := strings.Split(c.Query("roots"), ",")
	roots := make([]uint64, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		id, err := strconv.ParseUint(r, 10, 64)
		if err != nil || id == 0 {
			abortWithError(c, BadRequest, "Invalid root user id "+r)
			return
		}
		roots = append(roots, id)
	}
	if len(roots) == 0 || len(roots) > maxStatisticsRoots {
		abortWithError(c, BadRequest, "Between 1 and "+strconv.Itoa(maxStatisticsRoots)+" roots are required")
		return
	}
	stats, err := actions.service.GetStatisticsBatch(c.Request.Context(), roots)
	if err != nil {
		abortWithReferralError(c, err, "Unable to get statistics")
		return
	}
	c.JSON(OK, stats)
}

// VerifyIntegrity godoc
// swagger:route GET /debug/referrals/integrity debug verify_integrity
// Verify referral tree
//
// Lists every stored edge that breaks a tree invariant. Nothing is repaired.
func (actions *Actions) VerifyIntegrity(c *gin.Context) {
	violations, err := actions.service.VerifyIntegrity(c.Request.Context())
	if err != nil {
		abortWithReferralError(c, err, "Unable to verify referral tree")
		return
	}
	c.JSON(OK, gin.H{"consistent": len(violations) == 0, "violations": violations})
}
