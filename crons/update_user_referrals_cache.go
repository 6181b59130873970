package crons

import (
	"context"

	"github.com/rs/zerolog/log"

	"gitlab.com/paramountdax-exchange/referral_api/service"
)

// CronUpdateUserReferralsCache reloads the upline cache from the database
func CronUpdateUserReferralsCache(svc *service.Service) {
	if err := svc.RefreshUplineCache(context.Background()); err != nil {
		log.Error().Err(err).Str("section", "crons").Str("cron", "update_user_referrals_cache").Msg("Unable to update user referrals cache")
	}
}
