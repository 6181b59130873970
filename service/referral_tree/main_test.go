package referral_tree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ericlagergren/decimal/sql/postgres"

	"gitlab.com/paramountdax-exchange/referral_api/conv"
	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/queries/memstore"
)

const (
	userR  = uint64(1)
	userA  = uint64(2)
	userB  = uint64(3)
	userC  = uint64(4)
	userD  = uint64(5)
	userE  = uint64(6)
	userF  = uint64(7)
	userR2 = uint64(10)
	userX  = uint64(11)
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	lock   sync.Mutex
	events []model.ReferralAuditEvent
}

func (s *recordingSink) Publish(_ context.Context, event model.ReferralAuditEvent) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []model.ReferralAuditEvent {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]model.ReferralAuditEvent{}, s.events...)
}

func newTestEngine() (*Engine, *memstore.Store, *recordingSink) {
	store := memstore.New()
	store.AddUsers(userR, userA, userB, userC, userD, userE, userF, userR2, userX)
	sink := &recordingSink{}
	engine := Init(store, store, Options{
		ConflictRetries: 3,
		Audit:           sink,
		Clock:           func() time.Time { return testNow },
	})
	return engine, store, sink
}

// seedChain creates R -> A -> B -> C through the engine
func seedChain(ctx context.Context, engine *Engine) error {
	for _, req := range []model.CreateReferralRequest{
		{RootUserID: userR, ReferredUserID: userA},
		{RootUserID: userR, ReferredUserID: userB, ParentUserID: userA},
		{RootUserID: userR, ReferredUserID: userC, ParentUserID: userB},
	} {
		if _, err := engine.CreateReferral(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func edgeOf(store *memstore.Store, userID uint64) *model.ReferralEdge {
	edge, ok, _ := store.FindByReferredUser(context.Background(), userID)
	if !ok {
		return nil
	}
	return edge
}

func commissionOf(store *memstore.Store, userID uint64) string {
	edge := edgeOf(store, userID)
	if edge == nil {
		return ""
	}
	return conv.FmtDecimal(edge.Commission())
}

func violations(engine *Engine) []model.ReferralIntegrityViolation {
	v, err := engine.Verify(context.Background())
	if err != nil {
		panic(err)
	}
	return v
}

func rawEdge(id, root, referred, parent uint64, level int, commission float64) *model.ReferralEdge {
	c := conv.NewDecimalWithPrecision().SetFloat64(commission)
	return &model.ReferralEdge{
		ID:                id,
		RootUserID:        root,
		ReferredUserID:    referred,
		ParentUserID:      parent,
		Level:             level,
		CommissionPercent: &postgres.Decimal{V: c},
		State:             model.ReferralEdgeStateActive,
	}
}

// shape renders every stored edge, deleted ones included, for before/after comparisons
func shape(store *memstore.Store) []string {
	out := make([]string, 0)
	for _, e := range store.All() {
		out = append(out, fmt.Sprintf("%d:%d:%d:%d:%d:%s:%s", e.ID, e.RootUserID, e.ReferredUserID,
			e.ParentUserID, e.Level, conv.FmtDecimal(e.Commission()), e.State))
	}
	return out
}
