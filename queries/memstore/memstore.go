// Package memstore keeps referral edges in memory with the same transactional
// contract as the postgres store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/queries"
)

// Store is an in-memory ReferralEdgeStore and UserDirectory
type Store struct {
	// txLock serializes transactions the way branch locks do in postgres
	txLock sync.Mutex

	lock      sync.RWMutex
	edges     map[uint64]*model.ReferralEdge
	nextID    uint64
	users     map[uint64]struct{}
	conflicts int
}

// New creates an empty store
func New() *Store {
	return &Store{
		edges:  make(map[uint64]*model.ReferralEdge),
		nextID: 1,
		users:  make(map[uint64]struct{}),
	}
}

// AddUsers registers user identities
func (s *Store) AddUsers(ids ...uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, id := range ids {
		s.users[id] = struct{}{}
	}
}

// Seed stores edges as they are, skipping every check. Used to load fixtures and corrupted data.
func (s *Store) Seed(edges ...*model.ReferralEdge) {
	s.lock.Lock()
	defer s.lock.Unlock()
	// published maps are never written in place
	seeded := make(map[uint64]*model.ReferralEdge, len(s.edges)+len(edges))
	for id, edge := range s.edges {
		seeded[id] = edge
	}
	for _, edge := range edges {
		c := edge.Clone()
		if c.ID == 0 {
			c.ID = s.nextID
		}
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
		seeded[c.ID] = c
	}
	s.edges = seeded
}

// FailWithConflict makes the next n transactions roll back with a concurrency conflict
func (s *Store) FailWithConflict(n int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.conflicts = n
}

// All returns every edge including deleted ones, ordered by id
func (s *Store) All() []*model.ReferralEdge {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return filter(s.edges, func(*model.ReferralEdge) bool { return true })
}

func (s *Store) Exists(_ context.Context, userID uint64) (bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}

func (s *Store) snapshot() *view {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return &view{edges: s.edges, nextID: s.nextID}
}

func (s *Store) FindByReferredUser(ctx context.Context, userID uint64) (*model.ReferralEdge, bool, error) {
	return s.snapshot().FindByReferredUser(ctx, userID)
}

func (s *Store) ChildrenOf(ctx context.Context, userID uint64) ([]*model.ReferralEdge, error) {
	return s.snapshot().ChildrenOf(ctx, userID)
}

func (s *Store) CountPositions(ctx context.Context, userID uint64) (int64, error) {
	return s.snapshot().CountPositions(ctx, userID)
}

func (s *Store) Branch(ctx context.Context, rootUserID uint64) ([]*model.ReferralEdge, error) {
	return s.snapshot().Branch(ctx, rootUserID)
}

func (s *Store) Positioned(ctx context.Context) ([]*model.ReferralEdge, error) {
	return s.snapshot().Positioned(ctx)
}

func (s *Store) FindByReferredUserUnscoped(_ context.Context, userID uint64) ([]*model.ReferralEdge, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	edges := filter(s.edges, func(e *model.ReferralEdge) bool { return e.ReferredUserID == userID })
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID > edges[j].ID })
	return edges, nil
}

// Transaction runs fn over a private copy of the table and publishes the copy only when fn succeeds
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx queries.ReferralEdgeTx) error) error {
	s.txLock.Lock()
	defer s.txLock.Unlock()

	s.lock.RLock()
	tx := &view{edges: make(map[uint64]*model.ReferralEdge, len(s.edges)), nextID: s.nextID}
	for id, edge := range s.edges {
		tx.edges[id] = edge.Clone()
	}
	s.lock.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return errors.Wrap(model.ErrReferralConcurrencyConflict, "could not serialize access")
	}
	s.edges = tx.edges
	s.nextID = tx.nextID
	return nil
}

// view answers reads over one version of the table. Transactions write to their own copy.
type view struct {
	edges  map[uint64]*model.ReferralEdge
	nextID uint64
}

func (v *view) FindByReferredUser(_ context.Context, userID uint64) (*model.ReferralEdge, bool, error) {
	edges := filter(v.edges, func(e *model.ReferralEdge) bool {
		return e.Positioned() && e.ReferredUserID == userID
	})
	if len(edges) == 0 {
		return nil, false, nil
	}
	return edges[0], true, nil
}

func (v *view) ChildrenOf(_ context.Context, userID uint64) ([]*model.ReferralEdge, error) {
	return filter(v.edges, func(e *model.ReferralEdge) bool {
		return e.Positioned() && e.ParentUserID == userID
	}), nil
}

func (v *view) CountPositions(_ context.Context, userID uint64) (int64, error) {
	var count int64
	for _, edge := range v.edges {
		if edge.Positioned() && edge.ReferredUserID == userID {
			count++
		}
	}
	return count, nil
}

func (v *view) Branch(_ context.Context, rootUserID uint64) ([]*model.ReferralEdge, error) {
	edges := filter(v.edges, func(e *model.ReferralEdge) bool {
		return e.Positioned() && e.RootUserID == rootUserID
	})
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Level < edges[j].Level })
	return edges, nil
}

func (v *view) Positioned(_ context.Context) ([]*model.ReferralEdge, error) {
	return filter(v.edges, func(e *model.ReferralEdge) bool { return e.Positioned() }), nil
}

// LockBranches is a no-op: transactions are already serialized by the store
func (v *view) LockBranches(ctx context.Context, _ ...uint64) error {
	return ctx.Err()
}

func (v *view) Insert(ctx context.Context, edge *model.ReferralEdge) error {
	if edge.Level < 1 || edge.Level > model.ReferralMaxLevel {
		return errors.Wrapf(model.ErrReferralDepthExceeded, "level %d", edge.Level)
	}
	count, err := v.CountPositions(ctx, edge.ReferredUserID)
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.Wrapf(model.ErrReferralDuplicatePosition, "user %d", edge.ReferredUserID)
	}
	now := time.Now()
	edge.ID = v.nextID
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = now
	}
	if edge.UpdatedAt.IsZero() {
		edge.UpdatedAt = edge.CreatedAt
	}
	v.nextID++
	v.edges[edge.ID] = edge.Clone()
	return nil
}

func (v *view) Update(_ context.Context, edge *model.ReferralEdge) error {
	if edge.State.Positioned() && (edge.Level < 1 || edge.Level > model.ReferralMaxLevel) {
		return errors.Wrapf(model.ErrReferralDepthExceeded, "level %d", edge.Level)
	}
	stored, ok := v.edges[edge.ID]
	if !ok {
		return errors.Wrapf(model.ErrReferralNotFound, "edge %d", edge.ID)
	}
	if edge.Positioned() && !stored.Positioned() {
		for _, other := range v.edges {
			if other.ID != edge.ID && other.Positioned() && other.ReferredUserID == edge.ReferredUserID {
				return errors.Wrapf(model.ErrReferralDuplicatePosition, "user %d", edge.ReferredUserID)
			}
		}
	}
	updated := edge.Clone()
	updated.CreatedAt = stored.CreatedAt
	v.edges[edge.ID] = updated
	return nil
}

func (v *view) HardDelete(_ context.Context, edgeID uint64) error {
	if _, ok := v.edges[edgeID]; !ok {
		return errors.Wrapf(model.ErrReferralNotFound, "edge %d", edgeID)
	}
	delete(v.edges, edgeID)
	return nil
}

func filter(edges map[uint64]*model.ReferralEdge, keep func(*model.ReferralEdge) bool) []*model.ReferralEdge {
	out := make([]*model.ReferralEdge, 0)
	for _, edge := range edges {
		if keep(edge) {
			out = append(out, edge.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
