package referral_tree

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/monitor"
	"gitlab.com/paramountdax-exchange/referral_api/queries"
)

// MutationListener is called after a mutation was committed
type MutationListener func(ctx context.Context, event model.ReferralAuditEvent)

// Options of the engine. Zero values fall back to defaults.
type Options struct {
	Commission      CommissionPolicy
	AncestryCeiling int
	ConflictRetries int
	Audit           AuditSink
	Clock           func() time.Time
}

// Engine applies mutations and answers queries over the referral tree
type Engine struct {
	store      queries.ReferralEdgeStore
	users      queries.UserDirectory
	commission CommissionPolicy
	walker     AncestryWalker
	retries    int
	audit      AuditSink
	now        func() time.Time
	listeners  []MutationListener
}

// Init creates the engine over the given store and user directory
func Init(store queries.ReferralEdgeStore, users queries.UserDirectory, opts Options) *Engine {
	e := &Engine{
		store:      store,
		users:      users,
		commission: opts.Commission,
		walker:     AncestryWalker{Ceiling: opts.AncestryCeiling},
		retries:    opts.ConflictRetries,
		audit:      opts.Audit,
		now:        opts.Clock,
	}
	if e.commission == nil {
		e.commission = DefaultCommission()
	}
	if e.retries < 0 {
		e.retries = 0
	}
	if e.audit == nil {
		e.audit = LogAuditSink{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// OnMutation registers a listener for committed mutations. Not safe to call concurrently with mutations.
func (e *Engine) OnMutation(listener MutationListener) {
	e.listeners = append(e.listeners, listener)
}

// maxLevel is the deepest level both the tree and the commission policy support
func (e *Engine) maxLevel() int {
	if m := e.commission.MaxLevel(); m < model.ReferralMaxLevel {
		return m
	}
	return model.ReferralMaxLevel
}

type actorKey struct{}

// WithActor stores the id of the user performing a mutation in the context
func WithActor(ctx context.Context, actor uint64) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by WithActor or 0
func ActorFrom(ctx context.Context) uint64 {
	actor, _ := ctx.Value(actorKey{}).(uint64)
	return actor
}

// mutation is the body of one structural or state change. It returns the audit event to emit,
// or nil when nothing changed.
type mutation func(ctx context.Context, tx queries.ReferralEdgeTx) (*model.ReferralAuditEvent, error)

// mutate runs fn in a transaction, retries lost races and emits the audit event after commit
func (e *Engine) mutate(ctx context.Context, op model.ReferralOperation, fn mutation) error {
	started := time.Now()
	var (
		event *model.ReferralAuditEvent
		err   error
	)
	for attempt := 0; ; attempt++ {
		event = nil
		err = e.store.Transaction(ctx, func(ctx context.Context, tx queries.ReferralEdgeTx) error {
			var ferr error
			event, ferr = fn(ctx, tx)
			return ferr
		})
		if err == nil || !errors.Is(err, model.ErrReferralConcurrencyConflict) || attempt >= e.retries {
			break
		}
		monitor.ReferralConflictRetries.WithLabelValues(op.String()).Inc()
		log.Warn().Err(err).
			Str("section", "referral_tree").
			Str("action", op.String()).
			Int("attempt", attempt+1).
			Msg("Retrying referral tree mutation")
	}
	monitor.ObserveMutation(op.String(), started, err)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}

	event.Operation = op
	event.Actor = ActorFrom(ctx)
	event.Timestamp = e.now()
	if aerr := e.audit.Publish(ctx, *event); aerr != nil {
		log.Error().Err(aerr).
			Str("section", "referral_tree").
			Str("action", op.String()).
			Uint64("user_id", event.AffectedUserID).
			Msg("Unable to publish referral audit event")
	}
	for _, listener := range e.listeners {
		listener(ctx, *event)
	}
	return nil
}

// position is where a user sits in the forest. Roots have level 0 and no edge.
type position struct {
	userID     uint64
	rootUserID uint64
	level      int
	edge       *model.ReferralEdge
}

// locate resolves a user that must exist either as a positioned user or as a known root
func (e *Engine) locate(ctx context.Context, reader ParentLookup, userID uint64) (position, error) {
	edge, ok, err := reader.FindByReferredUser(ctx, userID)
	if err != nil {
		return position{}, err
	}
	if ok {
		return position{userID: userID, rootUserID: edge.RootUserID, level: edge.Level, edge: edge}, nil
	}
	exists, err := e.users.Exists(ctx, userID)
	if err != nil {
		return position{}, err
	}
	if !exists {
		return position{}, notFound("user %d", userID)
	}
	return position{userID: userID, rootUserID: userID, level: 0}, nil
}
