package queries

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgconn"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/paramountdax-exchange/referral_api/model"
)

// ReferralEdgeReader lists the read operations over positioned edges.
// Deleted edges are never returned.
type ReferralEdgeReader interface {
	FindByReferredUser(ctx context.Context, userID uint64) (*model.ReferralEdge, bool, error)
	ChildrenOf(ctx context.Context, userID uint64) ([]*model.ReferralEdge, error)
	CountPositions(ctx context.Context, userID uint64) (int64, error)
	Branch(ctx context.Context, rootUserID uint64) ([]*model.ReferralEdge, error)
	Positioned(ctx context.Context) ([]*model.ReferralEdge, error)
}

// ReferralEdgeTx is the view of the edge table inside a transaction
type ReferralEdgeTx interface {
	ReferralEdgeReader
	// LockBranches serializes mutations on the given roots until the transaction ends
	LockBranches(ctx context.Context, rootUserIDs ...uint64) error
	Insert(ctx context.Context, edge *model.ReferralEdge) error
	Update(ctx context.Context, edge *model.ReferralEdge) error
	HardDelete(ctx context.Context, edgeID uint64) error
}

// ReferralEdgeStore is the persisted table of referral edges
type ReferralEdgeStore interface {
	ReferralEdgeReader
	// FindByReferredUserUnscoped includes deleted edges, newest first
	FindByReferredUserUnscoped(ctx context.Context, userID uint64) ([]*model.ReferralEdge, error)
	// Transaction runs fn atomically; any error rolls every write back
	Transaction(ctx context.Context, fn func(ctx context.Context, tx ReferralEdgeTx) error) error
}

// UserDirectory answers whether a user identity exists
type UserDirectory interface {
	Exists(ctx context.Context, userID uint64) (bool, error)
}

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// ReferralEdges is the postgres backed ReferralEdgeStore
type ReferralEdges struct {
	repo      *Repo
	txTimeout time.Duration
}

// NewReferralEdges godoc
func NewReferralEdges(repo *Repo, txTimeout time.Duration) *ReferralEdges {
	return &ReferralEdges{repo: repo, txTimeout: txTimeout}
}

func (s *ReferralEdges) reader() referralEdgesConn {
	return referralEdgesConn{db: s.repo.ConnReader}
}

func (s *ReferralEdges) FindByReferredUser(ctx context.Context, userID uint64) (*model.ReferralEdge, bool, error) {
	return s.reader().FindByReferredUser(ctx, userID)
}

func (s *ReferralEdges) ChildrenOf(ctx context.Context, userID uint64) ([]*model.ReferralEdge, error) {
	return s.reader().ChildrenOf(ctx, userID)
}

func (s *ReferralEdges) CountPositions(ctx context.Context, userID uint64) (int64, error) {
	return s.reader().CountPositions(ctx, userID)
}

func (s *ReferralEdges) Branch(ctx context.Context, rootUserID uint64) ([]*model.ReferralEdge, error) {
	return s.reader().Branch(ctx, rootUserID)
}

func (s *ReferralEdges) Positioned(ctx context.Context) ([]*model.ReferralEdge, error) {
	return s.reader().Positioned(ctx)
}

func (s *ReferralEdges) FindByReferredUserUnscoped(ctx context.Context, userID uint64) ([]*model.ReferralEdge, error) {
	edges := make([]*model.ReferralEdge, 0)
	db := s.repo.ConnReader.WithContext(ctx).
		Where("referred_user_id = ?", userID).
		Order("id DESC").
		Find(&edges)
	if db.Error != nil {
		return nil, pkgerrors.Wrap(db.Error, "find referral edges")
	}
	return edges, nil
}

// Transaction runs fn in a serializable transaction bounded by the configured timeout
func (s *ReferralEdges) Transaction(ctx context.Context, fn func(ctx context.Context, tx ReferralEdgeTx) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	err := s.repo.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, referralEdgesConn{db: tx})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	return classifyError(err)
}

// UserExists checks the users table for a user that was not removed
func (repo *Repo) UserExists(ctx context.Context, userID uint64) (bool, error) {
	var count int64
	db := repo.ConnReader.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND status NOT IN ?", userID, []model.UserStatus{model.UserStatusDeleted, model.UserStatusRemoved}).
		Count(&count)
	if db.Error != nil {
		return false, pkgerrors.Wrap(db.Error, "check user")
	}
	return count > 0, nil
}

// Users adapts the repo to the UserDirectory interface
type Users struct {
	repo *Repo
}

// NewUsers godoc
func NewUsers(repo *Repo) *Users {
	return &Users{repo: repo}
}

func (u *Users) Exists(ctx context.Context, userID uint64) (bool, error) {
	return u.repo.UserExists(ctx, userID)
}

type referralEdgesConn struct {
	db *gorm.DB
}

func (c referralEdgesConn) positioned(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx).Where("state <> ?", model.ReferralEdgeStateDeleted)
}

func (c referralEdgesConn) FindByReferredUser(ctx context.Context, userID uint64) (*model.ReferralEdge, bool, error) {
	edges := make([]*model.ReferralEdge, 0, 1)
	db := c.positioned(ctx).
		Where("referred_user_id = ?", userID).
		Order("id ASC").
		Limit(1).
		Find(&edges)
	if db.Error != nil {
		return nil, false, pkgerrors.Wrap(db.Error, "find referral edge")
	}
	if len(edges) == 0 {
		return nil, false, nil
	}
	return edges[0], true, nil
}

func (c referralEdgesConn) ChildrenOf(ctx context.Context, userID uint64) ([]*model.ReferralEdge, error) {
	edges := make([]*model.ReferralEdge, 0)
	db := c.positioned(ctx).
		Where("parent_user_id = ?", userID).
		Order("id ASC").
		Find(&edges)
	if db.Error != nil {
		return nil, pkgerrors.Wrap(db.Error, "list referral children")
	}
	return edges, nil
}

func (c referralEdgesConn) CountPositions(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	db := c.positioned(ctx).
		Model(&model.ReferralEdge{}).
		Where("referred_user_id = ?", userID).
		Count(&count)
	if db.Error != nil {
		return 0, pkgerrors.Wrap(db.Error, "count referral positions")
	}
	return count, nil
}

func (c referralEdgesConn) Branch(ctx context.Context, rootUserID uint64) ([]*model.ReferralEdge, error) {
	edges := make([]*model.ReferralEdge, 0)
	db := c.positioned(ctx).
		Where("root_user_id = ?", rootUserID).
		Order("level ASC, id ASC").
		Find(&edges)
	if db.Error != nil {
		return nil, pkgerrors.Wrap(db.Error, "load referral branch")
	}
	return edges, nil
}

func (c referralEdgesConn) Positioned(ctx context.Context) ([]*model.ReferralEdge, error) {
	edges := make([]*model.ReferralEdge, 0)
	db := c.positioned(ctx).Order("id ASC").Find(&edges)
	if db.Error != nil {
		return nil, pkgerrors.Wrap(db.Error, "load referral edges")
	}
	return edges, nil
}

func (c referralEdgesConn) LockBranches(ctx context.Context, rootUserIDs ...uint64) error {
	roots := uniqueSorted(rootUserIDs)
	if len(roots) == 0 {
		return nil
	}
	// advisory locks cover inserts into a branch that has no rows yet
	for _, root := range roots {
		if err := c.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", int64(root)).Error; err != nil {
			return pkgerrors.Wrap(err, "lock referral branch")
		}
	}
	locked := make([]*model.ReferralEdge, 0)
	db := c.positioned(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("root_user_id IN ?", roots).
		Find(&locked)
	if db.Error != nil {
		return pkgerrors.Wrap(db.Error, "lock referral edges")
	}
	return nil
}

func (c referralEdgesConn) Insert(ctx context.Context, edge *model.ReferralEdge) error {
	if edge.Level < 1 || edge.Level > model.ReferralMaxLevel {
		return pkgerrors.Wrapf(model.ErrReferralDepthExceeded, "level %d", edge.Level)
	}
	count, err := c.CountPositions(ctx, edge.ReferredUserID)
	if err != nil {
		return err
	}
	if count > 0 {
		return pkgerrors.Wrapf(model.ErrReferralDuplicatePosition, "user %d", edge.ReferredUserID)
	}
	if err := c.db.WithContext(ctx).Create(edge).Error; err != nil {
		return classifyError(pkgerrors.Wrap(err, "insert referral edge"))
	}
	return nil
}

func (c referralEdgesConn) Update(ctx context.Context, edge *model.ReferralEdge) error {
	if edge.State.Positioned() && (edge.Level < 1 || edge.Level > model.ReferralMaxLevel) {
		return pkgerrors.Wrapf(model.ErrReferralDepthExceeded, "level %d", edge.Level)
	}
	db := c.db.WithContext(ctx).
		Model(edge).
		Select("root_user_id", "parent_user_id", "level", "commission_percent", "state", "deleted_at", "deleted_by", "updated_at").
		Updates(edge)
	if db.Error != nil {
		return classifyError(pkgerrors.Wrap(db.Error, "update referral edge"))
	}
	if db.RowsAffected == 0 {
		return pkgerrors.Wrapf(model.ErrReferralNotFound, "edge %d", edge.ID)
	}
	return nil
}

func (c referralEdgesConn) HardDelete(ctx context.Context, edgeID uint64) error {
	db := c.db.WithContext(ctx).Delete(&model.ReferralEdge{}, edgeID)
	if db.Error != nil {
		return pkgerrors.Wrap(db.Error, "delete referral edge")
	}
	if db.RowsAffected == 0 {
		return pkgerrors.Wrapf(model.ErrReferralNotFound, "edge %d", edgeID)
	}
	return nil
}

// classifyError maps postgres failures onto the referral error taxonomy
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		switch pgerr.Code {
		case pgUniqueViolation:
			return pkgerrors.Wrap(model.ErrReferralDuplicatePosition, pgerr.Message)
		case pgSerializationFailure, pgDeadlockDetected:
			return pkgerrors.Wrap(model.ErrReferralConcurrencyConflict, pgerr.Message)
		}
	}
	return err
}

func uniqueSorted(ids []uint64) []uint64 {
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
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
