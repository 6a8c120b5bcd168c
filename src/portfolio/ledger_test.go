package portfolio

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signalengine/src/model"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Position{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	log, _ := logrustest.NewNullLogger()
	l := NewLedger(db, logrus.NewEntry(log))
	fixed := time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	return l
}

func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	p, err := l.Open(ctx, OpenRequest{Symbol: "BTC/USDT", Side: "long", Entry: 100, Stop: 90, Target: 120, Quantity: 2, Note: NoteTopPick})
	require.NoError(t, err)
	assert.Equal(t, model.PositionSideLong, p.Side)
	assert.Equal(t, model.PositionStatusOpen, p.Status)
	assert.Nil(t, p.ClosedAt)
	assert.Nil(t, p.ExitPrice)
	assert.Nil(t, p.Pnl)

	open, err := l.List(ctx, "open", 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, p.ID, open[0].ID)
	assert.Equal(t, model.PositionStatusOpen, open[0].Status)
	assert.Nil(t, open[0].ClosedAt)
	assert.Nil(t, open[0].ExitPrice)
	assert.Nil(t, open[0].Pnl)

	pnl, err := l.Close(ctx, p.ID, 110, "")
	require.NoError(t, err)
	assert.Equal(t, 20.0, pnl)

	closed, err := l.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	require.NotNil(t, closed.Pnl)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, 110.0, *closed.ExitPrice)
	assert.Equal(t, 20.0, *closed.Pnl)
	assert.Equal(t, NoteClose, closed.Note)

	open, err = l.List(ctx, model.PositionStatusOpen, 0)
	require.NoError(t, err)
	assert.Empty(t, open)

	closedList, err := l.List(ctx, "CLOSED", 0)
	require.NoError(t, err)
	require.Len(t, closedList, 1)
	assert.Equal(t, p.ID, closedList[0].ID)
	require.NotNil(t, closedList[0].Pnl)
	assert.Equal(t, 20.0, *closedList[0].Pnl)

	all, err := l.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLedgerExactPnL(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	cases := []struct {
		side string
		exit float64
		want float64
	}{
		{model.PositionSideLong, 110, 20.0},
		{model.PositionSideShort, 90, 20.0},
		{model.PositionSideShort, 110, -20.0},
	}
	for _, tc := range cases {
		p, err := l.Open(ctx, OpenRequest{Symbol: "ETH/USDT", Side: tc.side, Entry: 100, Stop: 95, Target: 105, Quantity: 2})
		require.NoError(t, err)
		pnl, err := l.Close(ctx, p.ID, tc.exit, NoteManual)
		require.NoError(t, err)
		assert.Equal(t, tc.want, pnl, "%s closed at %v", tc.side, tc.exit)
	}

	realized, err := l.RealizedTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20.0, realized)
}

func TestLedgerDoubleCloseAndMissing(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	p, err := l.Open(ctx, OpenRequest{Symbol: "SOL/USDT", Side: "SELL", Entry: 50, Stop: 55, Target: 40, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, model.PositionSideShort, p.Side)

	_, err = l.Close(ctx, p.ID, 45, NoteManual)
	require.NoError(t, err)

	_, err = l.Close(ctx, p.ID, 44, NoteManual)
	require.ErrorIs(t, err, ErrPositionClosed)
	require.ErrorIs(t, err, ErrInvalidState)

	closed, err := l.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 45.0, *closed.ExitPrice, "second close must not overwrite")

	_, err = l.Close(ctx, 4242, 10, "")
	require.ErrorIs(t, err, ErrPositionNotFound)
	assert.NotErrorIs(t, err, ErrInvalidState)

	_, err = l.Get(ctx, 4242)
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestLedgerConcurrentCloseSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	p, err := l.Open(ctx, OpenRequest{Symbol: "BTC/USDT", Side: "LONG", Entry: 100, Stop: 90, Target: 130, Quantity: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, rejected := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(exit float64) {
			defer wg.Done()
			_, err := l.Close(ctx, p.ID, exit, NoteManual)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, ErrPositionClosed) {
				rejected++
			}
		}(100 + float64(i))
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, rejected)
}

func TestLedgerRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	bad := []OpenRequest{
		{Symbol: "", Side: "LONG", Entry: 1, Stop: 0.5, Target: 2, Quantity: 1},
		{Symbol: "X", Side: "flat", Entry: 1, Stop: 0.5, Target: 2, Quantity: 1},
		{Symbol: "X", Side: "LONG", Entry: math.NaN(), Stop: 0.5, Target: 2, Quantity: 1},
		{Symbol: "X", Side: "LONG", Entry: 1, Stop: 0.5, Target: 2, Quantity: 0},
		{Symbol: "X", Side: "LONG", Entry: 1, Stop: 0.5, Target: math.Inf(1), Quantity: 1},
	}
	for _, req := range bad {
		_, err := l.Open(ctx, req)
		require.ErrorIs(t, err, ErrInvalidInput, "%+v", req)
	}

	p, err := l.Open(ctx, OpenRequest{Symbol: "X", Side: "LONG", Entry: 1, Stop: 0.5, Target: 2, Quantity: 1})
	require.NoError(t, err)
	_, err = l.Close(ctx, p.ID, 0, "")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = l.Close(ctx, p.ID, math.NaN(), "")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = l.List(ctx, "PENDING", 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestLedgerSnapshotAndAutoClose(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	long, err := l.Open(ctx, OpenRequest{Symbol: "BTC/USDT", Side: "LONG", Entry: 100, Stop: 90, Target: 120, Quantity: 2})
	require.NoError(t, err)
	short, err := l.Open(ctx, OpenRequest{Symbol: "ETH/USDT", Side: "SHORT", Entry: 50, Stop: 55, Target: 40, Quantity: 4})
	require.NoError(t, err)
	_, err = l.Open(ctx, OpenRequest{Symbol: "SOL/USDT", Side: "LONG", Entry: 10, Stop: 9, Target: 12, Quantity: 10})
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx, 1000, map[string]float64{"BTC/USDT": 105, "ETH/USDT": 48})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.OpenPositions)
	assert.Equal(t, 18.0, snap.Unrealized) // 10 + 8 + 0
	assert.Equal(t, 1018.0, snap.Equity)
	assert.Equal(t, 210.0+192.0+100.0, snap.GrossExposure)
	assert.Equal(t, []string{"SOL/USDT"}, snap.Unpriced)

	closed, err := l.AutoClose(ctx, map[string]float64{"BTC/USDT": 121, "ETH/USDT": 56, "SOL/USDT": 11})
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, long.ID, closed[0].ID)
	assert.Equal(t, "TP", closed[0].Reason)
	assert.Equal(t, 42.0, closed[0].PnL)
	assert.Equal(t, short.ID, closed[1].ID)
	assert.Equal(t, "SL", closed[1].Reason)
	assert.Equal(t, -24.0, closed[1].PnL)

	p, err := l.Get(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, NoteAutoTPSL, p.Note)

	open, err := l.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	assert.Equal(t, 0.0, UnrealizedPnL(*p, 500))
}

func TestLedgerSnapshotCountsConcurrentCloseOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	p, err := l.Open(ctx, OpenRequest{Symbol: "BTC/USDT", Side: "LONG", Entry: 100, Stop: 90, Target: 200, Quantity: 2})
	require.NoError(t, err)

	// close the position right after the realized-PnL read
	var (
		once   sync.Once
		closed = make(chan error, 1)
	)
	require.NoError(t, l.db.Callback().Row().After("gorm:row").Register("test:close_between_reads", func(*gorm.DB) {
		once.Do(func() {
			go func() {
				_, err := l.Close(context.Background(), p.ID, 150, "")
				closed <- err
			}()
			select {
			case err := <-closed:
				closed <- err
			case <-time.After(100 * time.Millisecond):
			}
		})
	}))
	t.Cleanup(func() { _ = l.db.Callback().Row().Remove("test:close_between_reads") })

	snap, err := l.Snapshot(ctx, 1000, map[string]float64{"BTC/USDT": 150})
	require.NoError(t, err)
	assert.Equal(t, 1100.0, snap.Equity)
	assert.Equal(t, 100.0, snap.Realized+snap.Unrealized)

	require.NoError(t, <-closed)
	after, err := l.Snapshot(ctx, 1000, map[string]float64{"BTC/USDT": 150})
	require.NoError(t, err)
	assert.Equal(t, 0, after.OpenPositions)
	assert.Equal(t, 100.0, after.Realized)
	assert.Equal(t, 1100.0, after.Equity)
}
