package actions

import (
	"github.com/gin-gonic/gin"

	"gitlab.com/paramountdax-exchange/referral_api/model"
)

// CreateReferral godoc
// swagger:route POST /referrals referrals create_referral
// Create referral
//
// Attach a user to a root branch, under the root or under a given parent of that branch
//
//	Consumes:
//	- application/json
//
//	Responses:
//	  201: ReferralEdgeView
//	  404: RequestErrorResp
//	  409: RequestErrorResp
//	  422: RequestErrorResp
func (actions *Actions) CreateReferral(c *gin.Context) {
	req := model.CreateReferralRequest{}
	if err := c.ShouldBind(&req); err != nil {
		abortWithError(c, BadRequest, err.Error())
		return
	}
	edge, err := actions.service.CreateReferral(c.Request.Context(), req)
	if err != nil {
		abortWithReferralError(c, err, "Unable to create referral")
		return
	}
	c.JSON(Created, edge.View())
}

// CanAddReferral godoc
// swagger:route POST /referral_checks referrals can_add_referral
// Check referral
//
// Runs every validation of create referral without writing anything
//
//	Responses:
//	  200: ReferralCheckResp
func (actions *Actions) CanAddReferral(c *gin.Context) {
	req := model.CreateReferralRequest{}
	if err := c.ShouldBind(&req); err != nil {
		abortWithError(c, BadRequest, err.Error())
		return
	}
	ok, err := actions.service.Tree.CanAddReferral(c.Request.Context(), req)
	resp := gin.H{"allowed": ok}
	if err != nil {
		if !model.IsReferralClientError(err) {
			abortWithReferralError(c, err, "Unable to check referral")
			return
		}
		_, resp["reason"] = referralErrorStatus(err)
	}
	c.JSON(OK, resp)
}

// MoveDownline godoc
// swagger:route PUT /referrals/{user_id}/parent referrals move_downline
// Move downline
//
// Moves the user together with its whole downline under a new parent
//
//	Responses:
//	  200: StringResp
//	  404: RequestErrorResp
//	  409: RequestErrorResp
//	  422: RequestErrorResp
func (actions *Actions) MoveDownline(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	req := model.MoveDownlineRequest{}
	if err := c.ShouldBind(&req); err != nil {
		abortWithError(c, BadRequest, err.Error())
		return
	}
	if err := actions.service.MoveDownline(c.Request.Context(), userID, req.NewParentUserID); err != nil {
		abortWithReferralError(c, err, "Unable to move downline")
		return
	}
	c.JSON(OK, "ok")
}

// AutoPromoteDownlines godoc
// swagger:route POST /referrals/{user_id}/promote referrals auto_promote_downlines
// Promote downlines
//
// Removes the user from the tree and attaches its direct children to its former parent
func (actions *Actions) AutoPromoteDownlines(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	if err := actions.service.AutoPromoteDownlines(c.Request.Context(), userID); err != nil {
		abortWithReferralError(c, err, "Unable to promote downlines")
		return
	}
	c.JSON(OK, "ok")
}

// AssignOrphanUser godoc
// swagger:route POST /referrals/{user_id}/assign referrals assign_orphan_user
// Assign orphan
//
// Attaches a user without a tree position under the target parent
func (actions *Actions) AssignOrphanUser(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	req := model.AssignOrphanRequest{}
	if err := c.ShouldBind(&req); err != nil {
		abortWithError(c, BadRequest, err.Error())
		return
	}
	if err := actions.service.AssignOrphanUser(c.Request.Context(), userID, req.TargetParentUserID); err != nil {
		abortWithReferralError(c, err, "Unable to assign orphan user")
		return
	}
	c.JSON(OK, "ok")
}

func (actions *Actions) ActivateReferral(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	if err := actions.service.Tree.Activate(c.Request.Context(), userID); err != nil {
		abortWithReferralError(c, err, "Unable to activate referral")
		return
	}
	c.JSON(OK, "ok")
}

func (actions *Actions) DeactivateReferral(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	if err := actions.service.Tree.Deactivate(c.Request.Context(), userID); err != nil {
		abortWithReferralError(c, err, "Unable to deactivate referral")
		return
	}
	c.JSON(OK, "ok")
}

// SetReferralState godoc
// swagger:route PUT /referrals/{user_id}/state referrals set_referral_state
// Set referral state
//
// Switches the edge of the user between active and inactive
//
//	Responses:
//	  200: StringResp
//	  404: RequestErrorResp
//	  422: RequestErrorResp
func (actions *Actions) SetReferralState(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	req := model.SetReferralStateRequest{}
	if err := c.ShouldBind(&req); err != nil {
		abortWithError(c, BadRequest, err.Error())
		return
	}
	if err := actions.service.Tree.SetState(c.Request.Context(), userID, req.State); err != nil {
		abortWithReferralError(c, err, "Unable to set referral state")
		return
	}
	c.JSON(OK, "ok")
}

// DeleteReferral godoc
// swagger:route DELETE /referrals/{user_id} referrals delete_referral
// Delete referral
//
// Hard deletes the edge of the user. Children keep their edges.
func (actions *Actions) DeleteReferral(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	if err := actions.service.DeleteReferral(c.Request.Context(), userID); err != nil {
		abortWithReferralError(c, err, "Unable to delete referral")
		return
	}
	c.JSON(OK, "ok")
}

// GetAncestors godoc
// swagger:route GET /referrals/{user_id}/ancestors referrals get_ancestors
// Get ancestors
//
// Returns the upline of the user starting with the root
//
//	Responses:
//	  200: ReferralAncestors
//	  404: RequestErrorResp
func (actions *Actions) GetAncestors(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	data, err := actions.service.Tree.GetAncestors(c.Request.Context(), userID)
	if err != nil {
		abortWithReferralError(c, err, "Unable to get ancestors")
		return
	}
	c.JSON(OK, data)
}

func (actions *Actions) GetDirectDownlines(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	data, err := actions.service.Tree.GetDirectDownlines(c.Request.Context(), userID)
	if err != nil {
		abortWithReferralError(c, err, "Unable to get downlines")
		return
	}
	c.JSON(OK, model.ReferralEdgeViews(data))
}

// GetReferralLevels godoc
// swagger:route GET /referrals/{user_id}/levels referrals get_referral_levels
// Get referral levels
//
// Returns the cached upline (L1 is the parent) and downline of the user grouped by level
func (actions *Actions) GetReferralLevels(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	c.JSON(OK, gin.H{
		"upline":   actions.service.GetUpline(userID),
		"downline": actions.service.GetDownline(userID),
	})
}

func (actions *Actions) ReferralExists(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	exists, err := actions.service.Tree.ReferralExists(c.Request.Context(), userID)
	if err != nil {
		abortWithReferralError(c, err, "Unable to check referral")
		return
	}
	c.JSON(OK, gin.H{"exists": exists})
}

// IsDescendant godoc
// swagger:route GET /referrals/{user_id}/descendants/{descendant_id} referrals is_descendant
// Is descendant
//
// Reports whether descendant_id is anywhere in the downline of user_id
func (actions *Actions) IsDescendant(c *gin.Context) {
	userID, ok := getParamAsUint64(c, "user_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid user id")
		return
	}
	descendantID, ok := getParamAsUint64(c, "descendant_id")
	if !ok {
		abortWithError(c, BadRequest, "Invalid descendant id")
		return
	}
	isDescendant, err := actions.service.Tree.IsDescendant(c.Request.Context(), userID, descendantID)
	if err != nil {
		abortWithReferralError(c, err, "Unable to check descendant")
		return
	}
	c.JSON(OK, gin.H{"is_descendant": isDescendant})
}
