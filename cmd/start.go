package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitlab.com/paramountdax-exchange/referral_api/cmd/commands"
	"gitlab.com/paramountdax-exchange/referral_api/config"
	"gitlab.com/paramountdax-exchange/referral_api/server"
)

var skipMigrations bool

func init() {
	startCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "start without applying database migrations")
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the referral api",
	Long:  `Apply the database migrations, load the referral caches and serve the referral tree over HTTP`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Debug().Msg("Loading server configuration")
		if viper.ConfigFileUsed() != "" {
			log.Debug().Str("section", "init").Str("path", viper.ConfigFileUsed()).Msg("Configuration file loaded")
		}
		cfg := config.LoadConfig(viper.GetViper())
		if !skipMigrations {
			log.Debug().Msg("Running migrations")
			commands.Migrate(cfg)
		}

		log.Debug().Str("section", "init").Msg("Starting new server instance")
		srv := server.NewServer(cfg)
		log.Info().Str("section", "init").Msg("Listening for incoming requests")
		srv.Listen()
	},
}
