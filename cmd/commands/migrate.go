package commands

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog/log"

	cfg "gitlab.com/paramountdax-exchange/referral_api/config"

	// postgres driver and file source for migrate
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationsSource holds the schema of the referral edges
const MigrationsSource = "file://./db/migrations"

// Migrate the writer database schema to the latest version
func Migrate(config cfg.Config) {
	if err := migrateUp(MigrationsSource, databaseURI(config.DatabaseCluster.Writer)); err != nil {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			log.Fatal().Err(err).Str("section", "migrate").Int("version", dirty.Version).Msg("Unable to execute migration")
		}
		log.Fatal().Err(err).Str("section", "migrate").Msg("Unable to execute migrations")
		return
	}
	log.Info().Str("section", "migrate").Msg("Migrations executed successfully")
}

func migrateUp(source, uri string) error {
	m, err := migrate.New(source, uri)
	if err != nil {
		return fmt.Errorf("connect [WRITER]: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func databaseURI(dbConf cfg.DatabaseConfig) string {
	sslmode := dbConf.SSLmode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbConf.Username, dbConf.Password),
		Host:     fmt.Sprintf("%s:%d", dbConf.Host, dbConf.Port),
		Path:     dbConf.Name,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String()
}
