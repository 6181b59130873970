package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Config for the metrics listener
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Profiling bool   `mapstructure:"profiling"`
}

var (
	// ReferralMutations counts structural and state changes of the referral tree
	ReferralMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_tree_mutations_total",
		Help: "Referral tree mutations separated by operation and result.",
	}, []string{"operation", "result"})

	// ReferralMutationDuration measures a mutation including retries
	ReferralMutationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "referral_tree_mutation_duration_seconds",
		Help:    "Duration of referral tree mutations.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation"})

	// ReferralIntegrityWarnings counts corrupted data found while reading the tree
	ReferralIntegrityWarnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_tree_integrity_warnings_total",
		Help: "Integrity problems detected in stored referral edges.",
	}, []string{"source"})

	// ReferralConflictRetries counts transactions retried after a serialization failure
	ReferralConflictRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_tree_conflict_retries_total",
		Help: "Referral tree transactions retried after losing a race.",
	}, []string{"operation"})

	// ReferralIntegrityViolations is the number of violations found by the last integrity check
	ReferralIntegrityViolations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "referral_tree_integrity_violations",
		Help: "Violations found by the last referral tree integrity check, per invariant.",
	}, []string{"invariant"})

	// ReferralTreeCache counts lookups in the tree snapshot cache
	ReferralTreeCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_tree_cache_lookups_total",
		Help: "Tree snapshot cache lookups separated by hit or miss.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(ReferralMutations)
	prometheus.MustRegister(ReferralMutationDuration)
	prometheus.MustRegister(ReferralIntegrityWarnings)
	prometheus.MustRegister(ReferralConflictRetries)
	prometheus.MustRegister(ReferralTreeCache)
	prometheus.MustRegister(ReferralIntegrityViolations)
}

var (
	server     *http.Server
	serverLock sync.Mutex
)

// LoopProfilingServer exposes /metrics and optionally pprof until ShutdownServer is called
func LoopProfilingServer(cfg Config) {
	if !cfg.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if cfg.Profiling {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	serverLock.Lock()
	server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := server
	serverLock.Unlock()

	log.Info().Str("worker", "monitoring").Str("addr", srv.Addr).Msg("Metrics listener - started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Str("worker", "monitoring").Msg("Metrics listener stopped unexpectedly")
	}
}

// ShutdownServer stops the metrics listener
func ShutdownServer() {
	serverLock.Lock()
	defer serverLock.Unlock()
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Str("worker", "monitoring").Msg("Unable to shutdown metrics listener")
	}
	server = nil
}

// ObserveMutation records the outcome of a referral tree mutation
func ObserveMutation(operation string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ReferralMutations.WithLabelValues(operation, result).Inc()
	ReferralMutationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
