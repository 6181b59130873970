package crons

import (
	"context"

	"github.com/rs/zerolog/log"

	"gitlab.com/paramountdax-exchange/referral_api/monitor"
	"gitlab.com/paramountdax-exchange/referral_api/service"
	"gitlab.com/paramountdax-exchange/referral_api/service/referral_tree"
)

// CronReferralIntegrityCheck verifies the stored tree and exports the violations per invariant
func CronReferralIntegrityCheck(svc *service.Service) {
	violations, err := svc.VerifyIntegrity(context.Background())
	if err != nil {
		log.Error().Err(err).Str("section", "crons").Str("cron", "referral_integrity_check").Msg("Unable to verify referral tree")
		return
	}

	counts := make(map[string]int, len(referral_tree.Invariants))
	for _, v := range violations {
		counts[v.Invariant]++
	}
	for _, invariant := range referral_tree.Invariants {
		monitor.ReferralIntegrityViolations.WithLabelValues(invariant).Set(float64(counts[invariant]))
	}

	if len(violations) > 0 {
		log.Warn().Str("section", "crons").Str("cron", "referral_integrity_check").Int("violations", len(violations)).Msg("Referral tree integrity check failed")
		return
	}
	log.Info().Str("section", "crons").Str("cron", "referral_integrity_check").Msg("Referral tree is consistent")
}
