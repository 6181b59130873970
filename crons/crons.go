package crons

import (
	"github.com/robfig/cron"
	"github.com/rs/zerolog/log"

	"gitlab.com/paramountdax-exchange/referral_api/config"
	"gitlab.com/paramountdax-exchange/referral_api/service"
)

var cronService *cron.Cron

// Start Initiate the crons based on the given configuration file
func Start(crons config.Crons, svc *service.Service) {
	cronService = cron.New()
	for id, schedule := range crons {
		callback := GetCronByID(id, svc)
		if err := cronService.AddFunc(schedule, callback); err != nil {
			log.Error().Err(err).Str("section", "crons").Str("cron", id).Str("schedule", schedule).Msg("Unable to schedule cron")
			continue
		}
		// warm the caches once at startup
		if id == "update_user_referrals_cache" {
			callback()
		}
	}
	cronService.Start()
}

// GetCronByID get a function to execute based on the id
func GetCronByID(id string, svc *service.Service) func() {
	switch id {
	case "referral_integrity_check":
		return func() {
			CronReferralIntegrityCheck(svc)
		}
	case "update_user_referrals_cache":
		return func() {
			CronUpdateUserReferralsCache(svc)
		}
	}
	log.Warn().Str("section", "crons").Str("cron", id).Msg("Unknown cron id")
	return func() {}
}

// Close godoc
func Close() {
	if cronService != nil {
		cronService.Stop()
	}
}
