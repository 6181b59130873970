package model

import (
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/ericlagergren/decimal/sql/postgres"

	"gitlab.com/paramountdax-exchange/referral_api/conv"
)

// ReferralMaxLevel is the deepest level an edge may occupy under its root
const ReferralMaxLevel = 3

// ReferralEdgeState is the lifecycle of a referral edge
type ReferralEdgeState string

const (
	// ReferralEdgeStateActive when the edge is positioned and counted as active
	ReferralEdgeStateActive ReferralEdgeState = "active"
	// ReferralEdgeStateInactive when the edge is positioned but switched off by an admin
	ReferralEdgeStateInactive ReferralEdgeState = "inactive"
	// ReferralEdgeStateDeleted when the edge is a tombstone kept for audit
	ReferralEdgeStateDeleted ReferralEdgeState = "deleted"
)

func (s ReferralEdgeState) String() string {
	return string(s)
}

// Positioned reports whether an edge in this state takes part in the tree shape.
func (s ReferralEdgeState) Positioned() bool {
	switch s {
	case ReferralEdgeStateActive, ReferralEdgeStateInactive:
		return true
	case ReferralEdgeStateDeleted:
		return false
	}
	return false
}

// IsValid checks the state against the known list
func (s ReferralEdgeState) IsValid() bool {
	switch s {
	case ReferralEdgeStateActive, ReferralEdgeStateInactive, ReferralEdgeStateDeleted:
		return true
	}
	return false
}

// ReferralEdge positions one referred user inside the downline of a root user.
// Root users have no edge of their own.
type ReferralEdge struct {
	ID                uint64            `sql:"type:bigint" gorm:"primary_key;column:id" json:"id"`
	RootUserID        uint64            `gorm:"column:root_user_id" json:"root_user_id"`
	ReferredUserID    uint64            `gorm:"column:referred_user_id" json:"referred_user_id"`
	ParentUserID      uint64            `gorm:"column:parent_user_id" json:"parent_user_id"`
	Level             int               `gorm:"column:level" json:"level"`
	CommissionPercent *postgres.Decimal `gorm:"column:commission_percent" sql:"type:decimal(36,18)" json:"-"`
	State             ReferralEdgeState `sql:"not null;type:referral_edge_state_t" gorm:"column:state" json:"state"`
	DeletedAt         *time.Time        `gorm:"column:deleted_at" json:"deleted_at,omitempty"`
	DeletedBy         *uint64           `gorm:"column:deleted_by" json:"deleted_by,omitempty"`
	CreatedAt         time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

// TableName used by gorm
func (ReferralEdge) TableName() string {
	return "referral_edges"
}

// NewReferralEdge creates a new active edge
func NewReferralEdge(rootUserID, referredUserID, parentUserID uint64, level int, commission *decimal.Big) *ReferralEdge {
	return &ReferralEdge{
		RootUserID:        rootUserID,
		ReferredUserID:    referredUserID,
		ParentUserID:      parentUserID,
		Level:             level,
		CommissionPercent: &postgres.Decimal{V: commission},
		State:             ReferralEdgeStateActive,
	}
}

// Positioned reports whether the edge is part of the tree
func (e *ReferralEdge) Positioned() bool {
	return e != nil && e.State.Positioned()
}

// Commission returns the commission percent or nil when it is not set
func (e *ReferralEdge) Commission() *decimal.Big {
	if e.CommissionPercent == nil {
		return nil
	}
	return e.CommissionPercent.V
}

// Clone returns a deep copy of the edge
func (e *ReferralEdge) Clone() *ReferralEdge {
	c := *e
	if e.CommissionPercent != nil && e.CommissionPercent.V != nil {
		c.CommissionPercent = &postgres.Decimal{V: new(decimal.Big).Copy(e.CommissionPercent.V)}
	}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		c.DeletedAt = &t
	}
	if e.DeletedBy != nil {
		by := *e.DeletedBy
		c.DeletedBy = &by
	}
	return &c
}

// MarkDeleted turns the edge into a tombstone
func (e *ReferralEdge) MarkDeleted(actor uint64, at time.Time) {
	e.State = ReferralEdgeStateDeleted
	e.DeletedAt = &at
	if actor != 0 {
		e.DeletedBy = &actor
	}
}

// ReferralEdgeView is the JSON shape of an edge
type ReferralEdgeView struct {
	ID                uint64            `json:"id"`
	RootUserID        uint64            `json:"root_user_id"`
	ReferredUserID    uint64            `json:"referred_user_id"`
	ParentUserID      uint64            `json:"parent_user_id"`
	Level             int               `json:"level"`
	CommissionPercent string            `json:"commission_percent"`
	State             ReferralEdgeState `json:"state"`
	CreatedAt         time.Time         `json:"created_at"`
}

// View maps the edge to its JSON shape
func (e *ReferralEdge) View() ReferralEdgeView {
	return ReferralEdgeView{
		ID:                e.ID,
		RootUserID:        e.RootUserID,
		ReferredUserID:    e.ReferredUserID,
		ParentUserID:      e.ParentUserID,
		Level:             e.Level,
		CommissionPercent: conv.FmtDecimal(e.Commission()),
		State:             e.State,
		CreatedAt:         e.CreatedAt,
	}
}

// ReferralEdgeViews maps a list of edges
func ReferralEdgeViews(edges []*ReferralEdge) []ReferralEdgeView {
	views := make([]ReferralEdgeView, 0, len(edges))
	for _, e := range edges {
		views = append(views, e.View())
	}
	return views
}
