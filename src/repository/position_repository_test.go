package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signalengine/src/model"
)

func newPostgresMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return gdb, mock
}

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Position{}, &model.OHLCVCandle{}, &model.Exception{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestMarkClosedIsConditional(t *testing.T) {
	db, mock := newPostgresMock(t)
	repo := NewPositionRepositoryWithDB(db)
	closedAt := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "positions" SET "close_ts"=$1,"exit_price"=$2,"note"=$3,"pnl"=$4,"status"=$5 WHERE id = $6 AND status = $7`)).
		WithArgs(closedAt, 110.0, "MANUAL", 20.0, model.PositionStatusClosed, uint(7), model.PositionStatusOpen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.MarkClosed(context.Background(), 7, closedAt, 110, 20, "MANUAL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "positions" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err = repo.MarkClosed(context.Background(), 7, closedAt, 110, 20, "MANUAL")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionListQuery(t *testing.T) {
	db, mock := newPostgresMock(t)
	repo := NewPositionRepositoryWithDB(db)

	rows := sqlmock.NewRows([]string{"id", "symbol", "side", "entry", "sl", "tp", "qty", "status", "open_ts"}).
		AddRow(2, "ETH/USDT", "SHORT", 3000.0, 3100.0, 2800.0, 1.0, "OPEN", time.Now()).
		AddRow(1, "BTC/USDT", "LONG", 100.0, 90.0, 120.0, 2.0, "OPEN", time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "positions" WHERE status = $1 ORDER BY id DESC LIMIT $2`)).
		WithArgs(model.PositionStatusOpen, DefaultPositionLimit).
		WillReturnRows(rows)

	out, err := repo.List(context.Background(), PositionFilter{Status: model.PositionStatusOpen})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, uint(2), out[0].ID)
	assert.Equal(t, 3000.0, out[0].EntryPrice)
	assert.Nil(t, out[0].ExitPrice)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultPositionLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultPositionLimit, NormalizeLimit(-3))
	assert.Equal(t, 25, NormalizeLimit(25))
	assert.Equal(t, MaxPositionLimit, NormalizeLimit(MaxPositionLimit+1))
}

func TestPositionRepositorySQLite(t *testing.T) {
	ctx := context.Background()
	repo := NewPositionRepositoryWithDB(newSQLiteDB(t))

	opened := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	a := &model.Position{Symbol: "BTC/USDT", Side: model.PositionSideLong, EntryPrice: 100, StopPrice: 90, TargetPrice: 120, Quantity: 2, Status: model.PositionStatusOpen, OpenedAt: opened}
	b := &model.Position{Symbol: "ETH/USDT", Side: model.PositionSideShort, EntryPrice: 100, StopPrice: 110, TargetPrice: 80, Quantity: 1, Status: model.PositionStatusOpen, OpenedAt: opened}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))
	assert.NotZero(t, a.ID)
	assert.Greater(t, b.ID, a.ID)

	missing, err := repo.FindByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := repo.MarkClosed(ctx, a.ID, opened.Add(time.Hour), 110, 20, "TP")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.MarkClosed(ctx, a.ID, opened.Add(2*time.Hour), 50, -100, "again")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.PositionStatusClosed, got.Status)
	require.NotNil(t, got.Pnl)
	assert.Equal(t, 20.0, *got.Pnl)
	assert.Equal(t, "TP", got.Note)

	open, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)

	all, err := repo.List(ctx, PositionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "newest first")

	realized, err := repo.RealizedPnL(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20.0, realized)

	count, err := repo.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
