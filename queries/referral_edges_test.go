package queries

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgconn"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gitlab.com/paramountdax-exchange/referral_api/conv"
	"gitlab.com/paramountdax-exchange/referral_api/model"
)

func setupDB() (*gorm.DB, sqlmock.Sqlmock) {
	logger := log.With().Str("test", "queries").Str("method", "setupDB").Logger()
	db, mock, err := sqlmock.New()
	if err != nil {
		logger.Fatal().Msgf("can't create sqlmock: %s", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "postgres-mock",
		DriverName:           "postgres",
		Conn:                 db,
		PreferSimpleProtocol: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		logger.Fatal().Msgf("can't open gorm connection: %s", err)
	}
	return gormDB, mock
}

func setupRepo() (*Repo, sqlmock.Sqlmock) {
	db, mock := setupDB()
	return &Repo{Conn: db, ConnReader: db}, mock
}

var edgeColumns = []string{"id", "root_user_id", "referred_user_id", "parent_user_id", "level", "commission_percent", "state", "created_at", "updated_at"}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestReferralEdgesReads(t *testing.T) {
	Convey("Given a referral edge store over a mocked database", t, func() {
		repo, mock := setupRepo()
		store := NewReferralEdges(repo, time.Second)
		ctx := context.Background()
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		Convey("the positioned edge of a user is loaded", func() {
			mock.ExpectQuery(q(`SELECT * FROM "referral_edges" WHERE state <> $1 AND referred_user_id = $2`)).
				WithArgs(sqlmock.AnyArg(), 3).
				WillReturnRows(sqlmock.NewRows(edgeColumns).AddRow(9, 1, 3, 2, 2, "5", "active", now, now))

			edge, ok, err := store.FindByReferredUser(ctx, 3)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(edge.ID, ShouldEqual, uint64(9))
			So(edge.ParentUserID, ShouldEqual, uint64(2))
			So(edge.Level, ShouldEqual, 2)
			So(conv.FmtDecimal(edge.Commission()), ShouldEqual, "5")
			So(edge.State, ShouldEqual, model.ReferralEdgeStateActive)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("a user without an edge is not positioned", func() {
			mock.ExpectQuery(q(`SELECT * FROM "referral_edges" WHERE state <> $1 AND referred_user_id = $2`)).
				WillReturnRows(sqlmock.NewRows(edgeColumns))

			edge, ok, err := store.FindByReferredUser(ctx, 4)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(edge, ShouldBeNil)
		})

		Convey("a branch is read in level order", func() {
			mock.ExpectQuery(q(`SELECT * FROM "referral_edges" WHERE state <> $1 AND root_user_id = $2 ORDER BY level ASC, id ASC`)).
				WithArgs(sqlmock.AnyArg(), 1).
				WillReturnRows(sqlmock.NewRows(edgeColumns).
					AddRow(1, 1, 2, 1, 1, "10", "active", now, now).
					AddRow(2, 1, 3, 2, 2, "5", "inactive", now, now))

			edges, err := store.Branch(ctx, 1)
			So(err, ShouldBeNil)
			So(edges, ShouldHaveLength, 2)
			So(edges[1].State, ShouldEqual, model.ReferralEdgeStateInactive)
		})

		Convey("database failures are wrapped", func() {
			mock.ExpectQuery(q(`SELECT * FROM "referral_edges"`)).WillReturnError(errors.New("connection reset"))

			_, err := store.ChildrenOf(ctx, 1)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "list referral children")
		})

		Convey("removed users do not exist", func() {
			mock.ExpectQuery(q(`SELECT count(*) FROM "users" WHERE id = $1 AND status NOT IN ($2,$3)`)).
				WithArgs(5, sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

			exists, err := NewUsers(repo).Exists(ctx, 5)
			So(err, ShouldBeNil)
			So(exists, ShouldBeFalse)
		})
	})
}

func TestReferralEdgesTransaction(t *testing.T) {
	Convey("Given a transaction on a mocked database", t, func() {
		repo, mock := setupRepo()
		store := NewReferralEdges(repo, time.Second)
		ctx := context.Background()
		edge := model.NewReferralEdge(1, 3, 2, 2, conv.NewDecimalWithPrecision().SetFloat64(5))

		Convey("inserting a positioned user is rejected before writing", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(q(`SELECT count(*) FROM "referral_edges"`)).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
			mock.ExpectRollback()

			err := store.Transaction(ctx, func(ctx context.Context, tx ReferralEdgeTx) error {
				return tx.Insert(ctx, edge)
			})
			So(errors.Is(err, model.ErrReferralDuplicatePosition), ShouldBeTrue)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("a unique index violation is a duplicate position", func() {
			mock.ExpectBegin()
			mock.ExpectQuery(q(`SELECT count(*) FROM "referral_edges"`)).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
			mock.ExpectQuery(q(`INSERT INTO "referral_edges"`)).
				WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, Message: "duplicate key value"})
			mock.ExpectRollback()

			err := store.Transaction(ctx, func(ctx context.Context, tx ReferralEdgeTx) error {
				return tx.Insert(ctx, edge)
			})
			So(errors.Is(err, model.ErrReferralDuplicatePosition), ShouldBeTrue)
		})

		Convey("levels outside the tree are never written", func() {
			mock.ExpectBegin()
			mock.ExpectRollback()

			deep := model.NewReferralEdge(1, 3, 2, 4, conv.NewDecimalWithPrecision())
			err := store.Transaction(ctx, func(ctx context.Context, tx ReferralEdgeTx) error {
				return tx.Insert(ctx, deep)
			})
			So(errors.Is(err, model.ErrReferralDepthExceeded), ShouldBeTrue)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("updating a missing edge is not found", func() {
			edge.ID = 42
			mock.ExpectBegin()
			mock.ExpectExec(q(`UPDATE "referral_edges" SET`)).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectRollback()

			err := store.Transaction(ctx, func(ctx context.Context, tx ReferralEdgeTx) error {
				return tx.Update(ctx, edge)
			})
			So(errors.Is(err, model.ErrReferralNotFound), ShouldBeTrue)
		})

		Convey("branches are locked with advisory and row locks", func() {
			mock.ExpectBegin()
			mock.ExpectExec(q(`SELECT pg_advisory_xact_lock($1)`)).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(q(`SELECT pg_advisory_xact_lock($1)`)).WithArgs(7).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(q(`FOR UPDATE`)).WillReturnRows(sqlmock.NewRows(edgeColumns))
			mock.ExpectCommit()

			err := store.Transaction(ctx, func(ctx context.Context, tx ReferralEdgeTx) error {
				return tx.LockBranches(ctx, 7, 1, 7)
			})
			So(err, ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})
}

func TestClassifyError(t *testing.T) {
	Convey("Postgres errors map onto referral errors", t, func() {
		So(classifyError(nil), ShouldBeNil)
		So(errors.Is(classifyError(&pgconn.PgError{Code: pgSerializationFailure}), model.ErrReferralConcurrencyConflict), ShouldBeTrue)
		So(errors.Is(classifyError(pkgerrors.Wrap(&pgconn.PgError{Code: pgDeadlockDetected}, "commit")), model.ErrReferralConcurrencyConflict), ShouldBeTrue)
		So(errors.Is(classifyError(&pgconn.PgError{Code: pgUniqueViolation}), model.ErrReferralDuplicatePosition), ShouldBeTrue)

		other := errors.New("connection refused")
		So(classifyError(other), ShouldEqual, other)
	})
}
