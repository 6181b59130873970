package server

import (
	"fmt"
	"net/http"
	"net/http/pprof"

	limit "github.com/bu/gin-access-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"gitlab.com/paramountdax-exchange/referral_api/actions"
	"gitlab.com/paramountdax-exchange/referral_api/config"
	"gitlab.com/paramountdax-exchange/referral_api/logger"
)

// NewRouter registers every route of the referral api
func NewRouter(cfg config.Config, a *actions.Actions) *gin.Engine {
	r := gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "X-Requested-With", "Content-Length", "Content-Type", "Accept", actions.ActorHeader}
	corsConfig.AllowMethods = []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"}

	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())
	r.Use(logger.SetLogger(logger.Config{SkipPath: []string{"/ping"}}))

	r.GET("/ping", actions.Ping)

	referrals := r.Group("/referrals")
	{
		referrals.GET("/:user_id/ancestors", a.GetAncestors)
		referrals.GET("/:user_id/downlines", a.GetDirectDownlines)
		referrals.GET("/:user_id/levels", a.GetReferralLevels)
		referrals.GET("/:user_id/exists", a.ReferralExists)
		referrals.GET("/:user_id/descendants/:descendant_id", a.IsDescendant)

		// every mutation is attributed to the caller
		referrals.POST("", a.Actor(), a.CreateReferral)
		referrals.PUT("/:user_id/parent", a.Actor(), a.MoveDownline)
		referrals.POST("/:user_id/promote", a.Actor(), a.AutoPromoteDownlines)
		referrals.POST("/:user_id/assign", a.Actor(), a.AssignOrphanUser)
		referrals.POST("/:user_id/activate", a.Actor(), a.ActivateReferral)
		referrals.POST("/:user_id/deactivate", a.Actor(), a.DeactivateReferral)
		referrals.PUT("/:user_id/state", a.Actor(), a.SetReferralState)
		referrals.DELETE("/:user_id", a.Actor(), a.DeleteReferral)
	}

	r.POST("/referral_checks", a.Actor(), a.CanAddReferral)
	r.GET("/statistics", a.GetStatisticsBatch)

	trees := r.Group("/trees")
	{
		trees.GET("/:root_user_id", a.GetTreeByRoot)
		trees.GET("/:root_user_id/structure", a.GetTreeStructure)
		trees.GET("/:root_user_id/statistics", a.GetStatistics)
	}

	debug := r.Group("/debug")
	{
		limit.TrustedHeaderField = "X-Forwarded-For"
		debug.Use(limit.CIDR(cfg.Server.Debug.AllowedIPs))

		debug.GET("/referrals/integrity", a.VerifyIntegrity)
		debug.GET("/pprof/:name", func(context *gin.Context) {
			pprof.Handler(context.Param("name")).ServeHTTP(context.Writer, context.Request)
		})
	}
	return r
}

func (srv *server) ListenToRequests() {
	log.Info().Str("worker", "http_listen_to_requests").Str("action", "start").Msg("HTTP Listen to requests - started")
	defer log.Info().Str("worker", "http_listen_to_requests").Str("action", "stop").Msg("HTTP Listen to requests - stopped")

	srv.HTTP.SetKeepAlivesEnabled(srv.config.Server.API.KeepAlive)

	port := srv.config.Server.API.Port
	if err := srv.HTTP.ListenAndServe(); err != nil {
		if err != http.ErrServerClosed {
			log.Error().Err(err).Str("section", "server").Str("action", "ListenToRequests").Msgf("Unable to listen %d port", port)
		}
	}
}

func newHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.API.Port),
		Handler: handler,
	}
}
