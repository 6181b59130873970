package featureflags

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Unleash/unleash-client-go/v3"
	"github.com/rs/zerolog/log"
)

// ReferralTreeMutations gates every structural change of the referral tree
const ReferralTreeMutations = "api.referral_tree.mutations"

// Config for the unleash client
type Config struct {
	URL             string        `mapstructure:"url"`
	AppName         string        `mapstructure:"app_name"`
	Token           string        `mapstructure:"token"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

var initialized int32

// Initialize connects to unleash. An empty url keeps every flag at its fallback value.
func Initialize(cfg Config) error {
	if cfg.URL == "" {
		log.Warn().Str("lib", "unleash").Msg("Feature flags disabled, using fallback values")
		return nil
	}
	options := []unleash.ConfigOption{
		unleash.WithAppName(cfg.AppName),
		unleash.WithUrl(cfg.URL),
		unleash.WithListener(&listener{}),
	}
	if cfg.Token != "" {
		options = append(options, unleash.WithCustomHeaders(http.Header{"Authorization": {cfg.Token}}))
	}
	if cfg.RefreshInterval > 0 {
		options = append(options, unleash.WithRefreshInterval(cfg.RefreshInterval))
	}
	if err := unleash.Initialize(options...); err != nil {
		return err
	}
	atomic.StoreInt32(&initialized, 1)
	return nil
}

// IsEnabled checks a flag; flags default to enabled when unleash is not reachable
func IsEnabled(feature string) bool {
	if atomic.LoadInt32(&initialized) == 0 {
		return true
	}
	return unleash.IsEnabled(feature, unleash.WithFallback(true))
}

// Close the unleash client
func Close() {
	if atomic.CompareAndSwapInt32(&initialized, 1, 0) {
		if err := unleash.Close(); err != nil {
			log.Error().Err(err).Str("lib", "unleash").Msg("Unable to close feature flags client")
		}
	}
}

type listener struct{}

func (l *listener) OnError(err error) {
	log.Error().Err(err).Str("lib", "unleash").Msg("Feature flags error")
}

func (l *listener) OnWarning(err error) {
	log.Warn().Err(err).Str("lib", "unleash").Msg("Feature flags warning")
}

func (l *listener) OnReady() {
	log.Info().Str("lib", "unleash").Msg("Feature flags ready")
}
