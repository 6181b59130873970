package referral_tree

import (
	"context"

	"github.com/rs/zerolog/log"

	"gitlab.com/paramountdax-exchange/referral_api/model"
)

// AuditSink receives an event for every committed mutation
type AuditSink interface {
	Publish(ctx context.Context, event model.ReferralAuditEvent) error
}

// LogAuditSink writes audit events to the application log
type LogAuditSink struct{}

func (LogAuditSink) Publish(_ context.Context, event model.ReferralAuditEvent) error {
	log.Info().
		Str("section", "referral_tree").
		Str("action", event.Operation.String()).
		Uint64("actor", event.Actor).
		Uint64("user_id", event.AffectedUserID).
		Uint64("old_parent", event.OldParent).
		Uint64("new_parent", event.NewParent).
		Time("timestamp", event.Timestamp).
		Msg("Referral tree changed")
	return nil
}

// AuditSinks publishes to every sink and returns the first error
type AuditSinks []AuditSink

func (sinks AuditSinks) Publish(ctx context.Context, event model.ReferralAuditEvent) error {
	var first error
	for _, sink := range sinks {
		if err := sink.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
