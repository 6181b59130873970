package config

import (
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"gitlab.com/paramountdax-exchange/referral_api/conv"
	"gitlab.com/paramountdax-exchange/referral_api/featureflags"
	"gitlab.com/paramountdax-exchange/referral_api/model"
	"gitlab.com/paramountdax-exchange/referral_api/monitor"
	"gitlab.com/paramountdax-exchange/referral_api/net/kafka"
	"gitlab.com/paramountdax-exchange/referral_api/net/redis"
)

// Config structure
type Config struct {
	Server          ServerConfig
	Kafka           kafka.Config          `mapstructure:"kafka"`
	DatabaseCluster DatabaseClusterConfig `mapstructure:"database_cluster"`
	Redis           redis.Config          `mapstructure:"redis"`
	Crons           Crons                 `mapstructure:"crons"`
	Unleash         featureflags.Config   `mapstructure:"unleash"`
	ReferralConfig  ReferralsConfig       `mapstructure:"referral_config"`
}

// ReferralsConfig holds the commission tiers and the tree engine guards
type ReferralsConfig struct {
	L1              float64       `mapstructure:"L1"`
	L2              float64       `mapstructure:"L2"`
	L3              float64       `mapstructure:"L3"`
	AncestryCeiling int           `mapstructure:"ancestry_ceiling"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
	ConflictRetries int           `mapstructure:"conflict_retries"`
	AuditTopic      string        `mapstructure:"audit_topic"`
}

// Tiers returns the commission percent of each level, level 1 first
func (cfg ReferralsConfig) Tiers() []*decimal.Big {
	return []*decimal.Big{
		conv.NewDecimalWithPrecision().SetFloat64(cfg.L1),
		conv.NewDecimalWithPrecision().SetFloat64(cfg.L2),
		conv.NewDecimalWithPrecision().SetFloat64(cfg.L3),
	}
}

// Validate rejects commission tiers outside (0, 100] and guards that would stop the engine from working
func (cfg ReferralsConfig) Validate() error {
	for i, percent := range []float64{cfg.L1, cfg.L2, cfg.L3} {
		if percent <= 0 || percent > 100 {
			return errors.Errorf("referral_config.L%d must be in (0, 100], got %v", i+1, percent)
		}
	}
	if cfg.AncestryCeiling < model.ReferralMaxLevel {
		return errors.Errorf("referral_config.ancestry_ceiling must be at least %d, got %d", model.ReferralMaxLevel, cfg.AncestryCeiling)
	}
	if cfg.TxTimeout <= 0 {
		return errors.New("referral_config.tx_timeout must be positive")
	}
	if cfg.ConflictRetries < 0 {
		return errors.Errorf("referral_config.conflict_retries must not be negative, got %d", cfg.ConflictRetries)
	}
	return nil
}

// Crons - mapping of ids to execution frequency
type Crons map[string]string

// ServerConfig structure
type ServerConfig struct {
	Monitoring monitor.Config `mapstructure:"monitoring"`
	API        APIConfig      `mapstructure:"api"`
	Debug      DebugConfig    `mapstructure:"debug"`
}

// DebugConfig restricts the debug and maintenance routes
type DebugConfig struct {
	// AllowedIPs is a comma separated list of CIDRs
	AllowedIPs string `mapstructure:"allowed_ips"`
}

// APIConfig structure
type APIConfig struct {
	Port      int
	KeepAlive bool `mapstructure:"keep_alive"`
	Domain    string
}

// DatabaseClusterConfig structure
type DatabaseClusterConfig struct {
	Writer DatabaseConfig `mapstructure:"writer"`
	Reader DatabaseConfig `mapstructure:"reader"`
}

// DatabaseConfig structure
type DatabaseConfig struct {
	Type            string // postgres
	Host            string
	Username        string
	Password        string
	Name            string
	SSLmode         string `mapstructure:"sslmode"`
	ApplicationName string `mapstructure:"application_name"`
	Port            int
	MaxOpenConns    int `mapstructure:"max_open_conns"`
	MaxIdleConns    int `mapstructure:"max_idle_conns"`
}

// LoadConfig Load server configuration from the yaml file
func LoadConfig(viperConf *viper.Viper) Config {
	var config Config

	err := viperConf.Unmarshal(&config)
	if err != nil {
		log.Fatal().Err(err).Msg("Unable to decode config into struct")
	}
	return config
}

// OpenConfig godoc
func OpenConfig(file string) {
	if file != "" {
		// Use config file from the flag.
		viper.SetConfigFile(file)
	}

	viper.SetConfigType("yaml")
	viper.SetConfigName(".config")
	viper.AddConfigPath(".")                  // First try to load the config from the current directory
	viper.AddConfigPath("$HOME")              // Then try to load it from the HOME directory
	viper.AddConfigPath("/etc/referral_api/") // As a last resort try to load it from /etc/
	viper.SetEnvPrefix("CFG")
	viper.AutomaticEnv()
	SetDefaultVariables(viper.GetViper())

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		log.Fatal().Err(err).Msg("Unable to read configuration file")
	}
}

// SetDefaultVariables registers the values used when the config file omits them
func SetDefaultVariables(v *viper.Viper) {
	v.SetDefault("server.api.port", 8080)
	v.SetDefault("server.monitoring.enabled", false)
	v.SetDefault("server.monitoring.port", 9090)
	v.SetDefault("server.debug.allowed_ips", "127.0.0.1/32,10.0.0.0/8")
	v.SetDefault("database_cluster.writer.sslmode", "disable")
	v.SetDefault("database_cluster.writer.application_name", "referral_api")
	v.SetDefault("referral_config.L1", 10)
	v.SetDefault("referral_config.L2", 5)
	v.SetDefault("referral_config.L3", 2.5)
	v.SetDefault("referral_config.ancestry_ceiling", 10)
	v.SetDefault("referral_config.tx_timeout", 5*time.Second)
	v.SetDefault("referral_config.conflict_retries", 3)
	v.SetDefault("referral_config.audit_topic", "referral_tree_audit")
	v.SetDefault("redis.tree_ttl", 5*time.Minute)
	v.SetDefault("kafka.writer.async", true)
	v.SetDefault("kafka.writer.batch_timeout", 50)
	v.SetDefault("kafka.writer.max_attempts", 3)
	v.SetDefault("crons", map[string]string{
		"referral_integrity_check":    "@every 1h",
		"update_user_referrals_cache": "@every 10m",
	})
	v.SetDefault("unleash.app_name", "referral_api")
}
