package crons

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"gitlab.com/paramountdax-exchange/referral_api/cache/user_referrals"
	"gitlab.com/paramountdax-exchange/referral_api/config"
	"gitlab.com/paramountdax-exchange/referral_api/conv"
	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/monitor"
	"gitlab.com/paramountdax-exchange/referral_api/queries/memstore"
	"gitlab.com/paramountdax-exchange/referral_api/service"
	"gitlab.com/paramountdax-exchange/referral_api/service/referral_tree"
)

func edge(id, root, referred, parent uint64, level int, commission float64) *model.ReferralEdge {
	e := model.NewReferralEdge(root, referred, parent, level, conv.NewDecimalWithPrecision().SetFloat64(commission))
	e.ID = id
	return e
}

func newCronService(edges ...*model.ReferralEdge) *service.Service {
	store := memstore.New()
	store.AddUsers(500, 501, 502, 503)
	store.Seed(edges...)
	cfg := config.Config{ReferralConfig: config.ReferralsConfig{L1: 10, L2: 5, L3: 2.5}}
	return service.New(cfg, store, store, nil, referral_tree.LogAuditSink{})
}

func TestCrons(t *testing.T) {
	Convey("Given stored referral edges", t, func() {
		Convey("the cache cron loads uplines from the store", func() {
			svc := newCronService(edge(1, 500, 501, 500, 1, 10), edge(2, 500, 502, 501, 2, 5))
			GetCronByID("update_user_referrals_cache", svc)()

			upline := user_referrals.GetUserReferrals(502)
			So(upline.L1, ShouldResemble, []uint64{501})
			So(upline.L2, ShouldResemble, []uint64{500})
		})

		Convey("the integrity cron exports violations per invariant", func() {
			svc := newCronService(edge(1, 500, 501, 500, 1, 10), edge(2, 500, 502, 501, 2, 7))
			GetCronByID("referral_integrity_check", svc)()

			So(testutil.ToFloat64(monitor.ReferralIntegrityViolations.WithLabelValues(referral_tree.InvariantCommissionConsistency)), ShouldEqual, 1)
			So(testutil.ToFloat64(monitor.ReferralIntegrityViolations.WithLabelValues(referral_tree.InvariantAcyclicity)), ShouldEqual, 0)

			svc = newCronService(edge(1, 500, 501, 500, 1, 10))
			CronReferralIntegrityCheck(svc)
			So(testutil.ToFloat64(monitor.ReferralIntegrityViolations.WithLabelValues(referral_tree.InvariantCommissionConsistency)), ShouldEqual, 0)
		})

		Convey("unknown ids run nothing", func() {
			So(func() { GetCronByID("update_coins_cache", nil)() }, ShouldNotPanic)
		})
	})
}
