package model

import "time"

// ReferralTreeNode is one user inside a built referral tree. The root node has level 0.
type ReferralTreeNode struct {
	UserID            uint64              `json:"user_id"`
	ParentUserID      uint64              `json:"parent_user_id,omitempty"`
	Level             int                 `json:"level"`
	CommissionPercent string              `json:"commission_percent,omitempty"`
	State             ReferralEdgeState   `json:"state,omitempty"`
	DirectChildren    int                 `json:"direct_children"`
	TotalDescendants  int                 `json:"total_descendants"`
	Children          []*ReferralTreeNode `json:"children"`
}

// ReferralAncestor is one step of an upline chain
type ReferralAncestor struct {
	UserID            uint64 `json:"user_id"`
	Level             int    `json:"level"`
	CommissionPercent string `json:"commission_percent,omitempty"`
}

// ReferralLevelStatistics counts nodes for one level of a branch
type ReferralLevelStatistics struct {
	Level             int    `json:"level"`
	Count             int64  `json:"count"`
	Active            int64  `json:"active"`
	CommissionPercent string `json:"commission_percent"`
}

// ReferralStatistics summarises a root branch.
// CommissionPercentSum adds percentages of nodes on different levels; it is a
// reporting figure and not an amount of money.
type ReferralStatistics struct {
	RootUserID           uint64                    `json:"root_user_id"`
	Level1Count          int64                     `json:"level_1_count"`
	Level2Count          int64                     `json:"level_2_count"`
	Level3Count          int64                     `json:"level_3_count"`
	TotalNodes           int64                     `json:"total_nodes"`
	ActiveNodes          int64                     `json:"active_nodes"`
	MaxDepth             int                       `json:"max_depth"`
	CommissionPercentSum string                    `json:"commission_percent_sum"`
	Levels               []ReferralLevelStatistics `json:"levels"`
}

// CreateReferralRequest attaches a new user to a root branch. When ParentUserID is
// empty the user is attached directly under the root.
type CreateReferralRequest struct {
	RootUserID     uint64 `json:"root_user_id" form:"root_user_id" binding:"required"`
	ReferredUserID uint64 `json:"referred_user_id" form:"referred_user_id" binding:"required"`
	ParentUserID   uint64 `json:"parent_user_id" form:"parent_user_id"`
}

// Parent returns the attachment point of the request
func (r CreateReferralRequest) Parent() uint64 {
	if r.ParentUserID == 0 {
		return r.RootUserID
	}
	return r.ParentUserID
}

// MoveDownlineRequest godoc
type MoveDownlineRequest struct {
	NewParentUserID uint64 `json:"new_parent_user_id" form:"new_parent_user_id" binding:"required"`
}

// SetReferralStateRequest godoc
type SetReferralStateRequest struct {
	State ReferralEdgeState `json:"state" form:"state" binding:"required"`
}

// AssignOrphanRequest godoc
type AssignOrphanRequest struct {
	TargetParentUserID uint64 `json:"target_parent_user_id" form:"target_parent_user_id" binding:"required"`
}

// ReferralOperation names a structural or state mutation
type ReferralOperation string

const (
	ReferralOperationCreate     ReferralOperation = "create_referral"
	ReferralOperationMove       ReferralOperation = "move_downline"
	ReferralOperationPromote    ReferralOperation = "auto_promote_downlines"
	ReferralOperationAssign     ReferralOperation = "assign_orphan_user"
	ReferralOperationActivate   ReferralOperation = "activate"
	ReferralOperationDeactivate ReferralOperation = "deactivate"
	ReferralOperationDelete     ReferralOperation = "delete"
)

func (o ReferralOperation) String() string {
	return string(o)
}

// ReferralAuditEvent is emitted for every committed mutation
type ReferralAuditEvent struct {
	Operation      ReferralOperation `json:"operation"`
	Actor          uint64            `json:"actor"`
	AffectedUserID uint64            `json:"affected_user_id"`
	OldParent      uint64            `json:"old_parent"`
	NewParent      uint64            `json:"new_parent"`
	RootUserIDs    []uint64          `json:"root_user_ids"`
	Timestamp      time.Time         `json:"timestamp"`
}

// ReferralIntegrityViolation describes a stored edge that breaks a tree invariant
type ReferralIntegrityViolation struct {
	EdgeID         uint64 `json:"edge_id"`
	ReferredUserID uint64 `json:"referred_user_id"`
	Invariant      string `json:"invariant"`
	Details        string `json:"details"`
}

// ReferralTree lists users per relative level, nearest level first
type ReferralTree struct {
	L1 []uint64 `json:"l1"`
	L2 []uint64 `json:"l2"`
	L3 []uint64 `json:"l3"`
}
