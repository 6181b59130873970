package queries

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gitlab.com/paramountdax-exchange/referral_api/config"
)

// Repo structure
type Repo struct {
	Conn       *gorm.DB
	ConnReader *gorm.DB
}

var (
	openRepos     []*Repo
	openReposLock sync.Mutex
)

// NewRepo connects to the writer and reader databases
func NewRepo(writer, reader config.DatabaseConfig) *Repo {
	conn := connect("WRITER", writer)
	connReader := conn
	if reader.Host != "" {
		connReader = connect("READER", reader)
	}
	repo := &Repo{Conn: conn, ConnReader: connReader}

	openReposLock.Lock()
	openRepos = append(openRepos, repo)
	openReposLock.Unlock()
	return repo
}

func connect(name string, dbConf config.DatabaseConfig) *gorm.DB {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s",
		dbConf.Host, dbConf.Port, dbConf.Username, dbConf.Password, dbConf.Name, dbConf.SSLmode, dbConf.ApplicationName,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Str("section", "queries").Str("conn", name).Msg("Unable to connect to database")
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Str("section", "queries").Str("conn", name).Msg("Unable to access database pool")
		return nil
	}
	if dbConf.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConf.MaxOpenConns)
	}
	if dbConf.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConf.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	log.Info().Str("section", "queries").Str("conn", name).Str("host", dbConf.Host).Msg("Connected to database")
	return db
}

// Close all open database connections
func Close() {
	openReposLock.Lock()
	defer openReposLock.Unlock()
	for _, repo := range openRepos {
		closeConn(repo.Conn)
		if repo.ConnReader != repo.Conn {
			closeConn(repo.ConnReader)
		}
	}
	openRepos = nil
}

func closeConn(db *gorm.DB) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error().Err(err).Str("section", "queries").Msg("Unable to close database connection")
	}
}
