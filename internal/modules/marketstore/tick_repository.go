// Package marketstore persists market data prints and serves the
// aggregations built on them: OHLCV candles, latest prices, daily
// volume statistics and the columnar historical export.
package marketstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/hoangvu/vnquant/internal/database"
	"github.com/hoangvu/vnquant/internal/domain"
)

// ErrNoData is returned when a query matches no ticks.
var ErrNoData = errors.New("no tick data")

// TickRepository stores trade prints in the market database.
type TickRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewTickRepository creates the repository.
func NewTickRepository(db *database.DB, log zerolog.Logger) *TickRepository {
	return &TickRepository{
		db:  db,
		log: log.With().Str("component", "tick_repository").Logger(),
	}
}

// InsertBatch writes a drained buffer in one transaction and returns
// the number of rows written. An empty batch is a no-op.
func (r *TickRepository) InsertBatch(ctx context.Context, ticks []domain.Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}

	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO ticks (symbol, price, volume, exchange, ts) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range ticks {
			if _, err := stmt.ExecContext(ctx,
				t.Symbol.String(), t.Price.String(), t.Volume, string(t.Exchange),
				t.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert tick batch: %w", err)
	}
	return len(ticks), nil
}

// LatestPrice returns the most recent print for a symbol.
func (r *TickRepository) LatestPrice(ctx context.Context, symbol domain.Symbol) (decimal.Decimal, time.Time, error) {
	var (
		price string
		ts    string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT price, ts FROM ticks WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT 1`,
		symbol.String()).Scan(&price, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, time.Time{}, ErrNoData
	}
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("failed to query latest price for %s: %w", symbol, err)
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("corrupt price %q for %s: %w", price, symbol, err)
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("corrupt timestamp %q for %s: %w", ts, symbol, err)
	}
	return p, at, nil
}

// LatestExchange returns the venue of the most recent print for a
// symbol.
func (r *TickRepository) LatestExchange(ctx context.Context, symbol domain.Symbol) (domain.Exchange, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT exchange FROM ticks WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT 1`,
		symbol.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoData
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest exchange for %s: %w", symbol, err)
	}
	return domain.ParseExchange(raw)
}

// Candles aggregates ticks into OHLCV bars of the given interval.
// Buckets are aligned to the Unix epoch; empty buckets are absent
// from the result.
func (r *TickRepository) Candles(ctx context.Context, symbol domain.Symbol, interval time.Duration, from, to time.Time) ([]domain.Candle, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	secs := int64(interval / time.Second)

	// Bars carry open/close picked by timestamp order inside the
	// bucket; min/max window functions give high/low.
	rows, err := r.db.QueryContext(ctx, `
		WITH bucketed AS (
			SELECT
				(CAST(strftime('%s', ts) AS INTEGER) / ?) * ? AS bucket,
				CAST(price AS REAL) AS px,
				price AS px_text,
				volume,
				ts,
				id
			FROM ticks
			WHERE symbol = ? AND ts >= ? AND ts < ?
		)
		SELECT
			bucket,
			(SELECT b2.px_text FROM bucketed b2 WHERE b2.bucket = b.bucket ORDER BY b2.ts, b2.id LIMIT 1)       AS open,
			(SELECT b2.px_text FROM bucketed b2 WHERE b2.bucket = b.bucket ORDER BY b2.px DESC, b2.id LIMIT 1)  AS high,
			(SELECT b2.px_text FROM bucketed b2 WHERE b2.bucket = b.bucket ORDER BY b2.px ASC, b2.id LIMIT 1)   AS low,
			(SELECT b2.px_text FROM bucketed b2 WHERE b2.bucket = b.bucket ORDER BY b2.ts DESC, b2.id DESC LIMIT 1) AS close,
			SUM(volume) AS volume
		FROM bucketed b
		GROUP BY bucket
		ORDER BY bucket`,
		secs, secs, symbol.String(),
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate candles for %s: %w", symbol, err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var (
			bucket             int64
			op, hi, lo, cl     string
			volume             int64
		)
		if err := rows.Scan(&bucket, &op, &hi, &lo, &cl, &volume); err != nil {
			return nil, err
		}

		c := domain.Candle{Symbol: symbol, BucketTS: time.Unix(bucket, 0).UTC(), Volume: volume}
		if c.Open, err = decimal.NewFromString(op); err != nil {
			return nil, fmt.Errorf("corrupt open price %q: %w", op, err)
		}
		if c.High, err = decimal.NewFromString(hi); err != nil {
			return nil, fmt.Errorf("corrupt high price %q: %w", hi, err)
		}
		if c.Low, err = decimal.NewFromString(lo); err != nil {
			return nil, fmt.Errorf("corrupt low price %q: %w", lo, err)
		}
		if c.Close, err = decimal.NewFromString(cl); err != nil {
			return nil, fmt.Errorf("corrupt close price %q: %w", cl, err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// VolumeStats summarizes recent daily volume for a symbol.
type VolumeStats struct {
	Symbol      domain.Symbol
	Days        int
	Mean        float64
	StdDev      float64
	LatestDay   int64
	SpikeFactor float64 // latest day / mean, 0 when mean is 0
	IsSpike     bool    // latest exceeds mean + 2 sigma
}

// DailyVolumeStats computes volume statistics over the last n days of
// prints. The spike flag compares the latest complete day against the
// mean and spread of the preceding days.
func (r *TickRepository) DailyVolumeStats(ctx context.Context, symbol domain.Symbol, days int) (VolumeStats, error) {
	if days <= 0 {
		days = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT date(ts) AS day, SUM(volume) AS vol
		FROM ticks
		WHERE symbol = ?
		GROUP BY day
		ORDER BY day DESC
		LIMIT ?`, symbol.String(), days)
	if err != nil {
		return VolumeStats{}, fmt.Errorf("failed to query daily volumes for %s: %w", symbol, err)
	}
	defer rows.Close()

	var volumes []float64
	for rows.Next() {
		var (
			day string
			vol int64
		)
		if err := rows.Scan(&day, &vol); err != nil {
			return VolumeStats{}, err
		}
		volumes = append(volumes, float64(vol))
	}
	if err := rows.Err(); err != nil {
		return VolumeStats{}, err
	}
	if len(volumes) == 0 {
		return VolumeStats{}, ErrNoData
	}

	stats := VolumeStats{Symbol: symbol, Days: len(volumes), LatestDay: int64(volumes[0])}
	if len(volumes) < 2 {
		return stats, nil
	}

	history := volumes[1:]
	stats.Mean = stat.Mean(history, nil)
	stats.StdDev = stat.StdDev(history, nil)
	if stats.Mean > 0 {
		stats.SpikeFactor = float64(stats.LatestDay) / stats.Mean
	}
	stats.IsSpike = float64(stats.LatestDay) > stats.Mean+2*stats.StdDev
	return stats, nil
}

// SlippageReport matches each filled order against the nearest tick
// at or before its creation time and reports the absolute difference
// between that market price and the average fill.
type SlippageEntry struct {
	OrderID     string
	Symbol      domain.Symbol
	MarketPrice decimal.Decimal
	FillPrice   decimal.Decimal
	Slippage    decimal.Decimal
}

// Slippage computes the entry for one filled order.
func (r *TickRepository) Slippage(ctx context.Context, o domain.Order) (SlippageEntry, error) {
	if o.AvgFillPrice.IsZero() {
		return SlippageEntry{}, fmt.Errorf("order %s has no fills", o.OrderID)
	}

	var price string
	err := r.db.QueryRowContext(ctx,
		`SELECT price FROM ticks WHERE symbol = ? AND ts <= ? ORDER BY ts DESC, id DESC LIMIT 1`,
		o.Symbol.String(), o.CreatedAt.UTC().Format(time.RFC3339Nano)).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return SlippageEntry{}, ErrNoData
	}
	if err != nil {
		return SlippageEntry{}, fmt.Errorf("failed to query reference tick for %s: %w", o.OrderID, err)
	}

	market, err := decimal.NewFromString(price)
	if err != nil {
		return SlippageEntry{}, fmt.Errorf("corrupt price %q: %w", price, err)
	}

	return SlippageEntry{
		OrderID:     o.OrderID,
		Symbol:      o.Symbol,
		MarketPrice: market,
		FillPrice:   o.AvgFillPrice,
		Slippage:    o.AvgFillPrice.Sub(market).Abs(),
	}, nil
}

// TicksBetween streams all prints in [from, to) oldest first, used by
// the parquet exporter.
func (r *TickRepository) TicksBetween(ctx context.Context, from, to time.Time) ([]domain.Tick, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT symbol, price, volume, exchange, ts FROM ticks
		 WHERE ts >= ? AND ts < ? ORDER BY ts, id`,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to query tick range: %w", err)
	}
	defer rows.Close()

	var ticks []domain.Tick
	for rows.Next() {
		var (
			symbol, price, exch, ts string
			volume                  int64
		)
		if err := rows.Scan(&symbol, &price, &volume, &exch, &ts); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("corrupt price %q: %w", price, err)
		}
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp %q: %w", ts, err)
		}
		ticks = append(ticks, domain.Tick{
			Symbol:    domain.Symbol(symbol),
			Price:     p,
			Volume:    volume,
			Exchange:  domain.Exchange(exch),
			Timestamp: at,
		})
	}
	return ticks, rows.Err()
}
