package cmd

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitlab.com/paramountdax-exchange/referral_api/config"
	"gitlab.com/paramountdax-exchange/referral_api/service"
)

func init() {
	rootCmd.AddCommand(integrityCmd)
}

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Verify the stored referral tree",
	Long:  `Check every stored edge against the tree invariants, print the violations as JSON and exit with status 1 when any is found. Nothing is repaired.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadConfig(viper.GetViper())
		srv := service.NewService(cfg)
		defer srv.Close()

		violations, err := srv.VerifyIntegrity(context.Background())
		if err != nil {
			log.Fatal().Err(err).Str("section", "integrity").Msg("Unable to verify referral tree")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(violations); err != nil {
			log.Fatal().Err(err).Str("section", "integrity").Msg("Unable to print violations")
		}
		if len(violations) > 0 {
			srv.Close()
			os.Exit(1)
		}
	},
}
