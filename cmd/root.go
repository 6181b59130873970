package cmd

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitlab.com/paramountdax-exchange/referral_api/config"
	"gitlab.com/paramountdax-exchange/referral_api/featureflags"
)

// LogLevel Flag
var LogLevel = "info"

// LogFormat Flag
var LogFormat = "json"
var cfgFile string
var rootCmd = &cobra.Command{
	Use:   "referral_api",
	Short: "Referral tree service",
	Long: `Keeps the three level referral tree of the exchange users: who referred whom, on which level
	and with which commission percent. Serves the tree over HTTP and publishes every change to kafka.`,
	SilenceUsage: true,
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	initLoggingEnv()
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.config.yaml, then $HOME and /etc/referral_api/)")
	rootCmd.PersistentFlags().StringVarP(&LogLevel, "log-level", "", LogLevel, "logging level to show (options: debug|info|warn|error|fatal|panic, default: info)")
	rootCmd.PersistentFlags().StringVarP(&LogFormat, "log-format", "", LogFormat, "log format to generate (Options: json|pretty, default: json)")
}

func initConfig() {
	config.OpenConfig(cfgFile)
	customizeLogger()
	cfg := config.LoadConfig(viper.GetViper())
	if err := cfg.ReferralConfig.Validate(); err != nil {
		log.Fatal().Err(err).Str("section", "config").Msg("Invalid referral configuration")
	}
	log.Info().
		Float64("L1", cfg.ReferralConfig.L1).
		Float64("L2", cfg.ReferralConfig.L2).
		Float64("L3", cfg.ReferralConfig.L3).
		Msg("Referral commission tiers loaded")

	// without unleash every flag answers with its fallback, mutations stay enabled
	if err := featureflags.Initialize(cfg.Unleash); err != nil {
		log.Error().Err(err).Str("lib", "unleash").Msg("Unable to init feature flags, using fallback values")
	}
}

func initLoggingEnv() {
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		LogLevel = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		LogFormat = logFormat
	}
}

// Execute the commands
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Unable to execute command")
	}
}

func customizeLogger() {
	if LogFormat == "pretty" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Str("service", "referral_api").Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(LogLevel))
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("log_level", LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	gin.SetMode(gin.ReleaseMode)
	if level == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	}
}
