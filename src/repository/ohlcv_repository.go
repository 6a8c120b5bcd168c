package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalengine/src/model"
)

var ErrInvalidInterval = errors.New("invalid interval: must be a positive multiple of the source interval")

type OHLCVRepository struct {
	db *gorm.DB
}

func NewOHLCVRepositoryWithDB(db *gorm.DB) *OHLCVRepository {
	logger.WithField("component", "OHLCVRepository").
		Debug("Creating new OHLCVRepository with custom DB instance")

	return &OHLCVRepository{db: db}
}

// Upsert inserts candles, overwriting the prices of existing
// (exchange, symbol, timeframe, datetime) rows.
func (s *OHLCVRepository) Upsert(ctx context.Context, candles []model.OHLCVCandle) error {
	if len(candles) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "exchange"}, {Name: "symbol"}, {Name: "timeframe"}, {Name: "datetime"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).
		CreateInBatches(candles, 500).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "OHLCVRepository",
			"op":    "Upsert",
			"count": len(candles),
		}).WithError(err).Error("Failed to upsert candles")
	}
	return err
}

// Recent returns up to limit candles ending at the latest stored one, in
// ascending chronological order.
func (s *OHLCVRepository) Recent(
	ctx context.Context,
	exchange, symbol, timeframe string,
	limit int,
) ([]model.OHLCVCandle, error) {
	if limit <= 0 {
		limit = 200
	}

	var rows []model.OHLCVCandle
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND timeframe = ?", exchange, symbol, timeframe).
		Order("datetime DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// reverse to ascending chronological order
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func bucketStart(t time.Time, interval time.Duration) time.Time {
	// Align to wall-clock boundaries: 12:07 with 5m => 12:05
	secs := t.Unix()
	step := int64(interval.Seconds())
	return time.Unix((secs/step)*step, 0).UTC()
}

// AggregateCandles resamples ascending candles into interval buckets keyed by
// the bucket open time. The interval must be a whole number of seconds.
func AggregateCandles(candles []model.OHLCVCandle, interval time.Duration, timeframe string) ([]model.OHLCVCandle, error) {
	if interval < time.Second || interval%time.Second != 0 {
		return nil, ErrInvalidInterval
	}
	if len(candles) == 0 {
		return []model.OHLCVCandle{}, nil
	}

	out := make([]model.OHLCVCandle, 0, len(candles))

	var cur model.OHLCVCandle
	var curBucket time.Time
	hasCur := false

	for _, c := range candles {
		b := bucketStart(c.Datetime, interval)

		if !hasCur || !b.Equal(curBucket) {
			if hasCur {
				out = append(out, cur)
			}
			curBucket = b
			hasCur = true
			cur = model.OHLCVCandle{
				Exchange:  c.Exchange,
				Symbol:    c.Symbol,
				Timeframe: timeframe,
				Datetime:  curBucket,
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
				Close:     c.Close,
				Volume:    c.Volume,
			}
			continue
		}

		if c.High.GreaterThan(cur.High) {
			cur.High = c.High
		}
		if c.Low.LessThan(cur.Low) {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume = cur.Volume.Add(c.Volume)
	}

	if hasCur {
		out = append(out, cur)
	}
	return out, nil
}
