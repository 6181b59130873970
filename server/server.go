package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"gitlab.com/paramountdax-exchange/referral_api/actions"
	"gitlab.com/paramountdax-exchange/referral_api/config"
	"gitlab.com/paramountdax-exchange/referral_api/crons"
	"gitlab.com/paramountdax-exchange/referral_api/featureflags"
	"gitlab.com/paramountdax-exchange/referral_api/monitor"
	"gitlab.com/paramountdax-exchange/referral_api/service"
)

// Server interface
type Server interface {
	Listen()
}

type server struct {
	config  config.Config
	actions *actions.Actions
	service *service.Service
	HTTP    *http.Server
}

// NewServer constructor
func NewServer(cfg config.Config) Server {
	dataServices := service.NewService(cfg)
	if err := dataServices.RefreshUplineCache(context.Background()); err != nil {
		log.Error().Err(err).Str("section", "server").Msg("Unable to load user referrals cache")
	}

	userActions := actions.NewActions(cfg, dataServices)
	return &server{
		config:  cfg,
		service: dataServices,
		actions: userActions,
		HTTP:    newHTTPServer(cfg, NewRouter(cfg, userActions)),
	}
}

// Listen for requests until a termination signal is received
func (srv *server) Listen() {
	crons.Start(srv.config.Crons, srv.service)

	go srv.ListenToRequests()
	go monitor.LoopProfilingServer(srv.config.Server.Monitoring)

	srv.stopOnSignal()
}

func (srv *server) stopOnSignal() {
	// listen for termination signals
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc

	log.Info().Str("section", "server").Str("app_event", "terminate").Str("signal", sig.String()).Msg("Shutting down services")
	srv.closeApp(5 * time.Second)
}

func (srv *server) closeApp(timeout time.Duration) {
	// define a timeout in which the graceful shutdown procedure should happen before forcing the shutdown
	timeoutFunc := time.AfterFunc(timeout, func() {
		log.Printf("timeout %d ms has been elapsed, force exit", timeout.Milliseconds())
		os.Exit(0)
	})
	defer timeoutFunc.Stop()

	monitor.ShutdownServer()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.HTTP.Shutdown(ctx); err != nil {
		log.Error().Err(err).Str("section", "server").Str("action", "terminate").Msg("Unable to shutdown HTTP server")
	}

	crons.Close()
	srv.service.Close()
	featureflags.Close()

	log.Info().Str("section", "server").Str("app_event", "terminate").Str("state", "complete").Msg("All workers terminated")
}
