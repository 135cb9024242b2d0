package marketstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/domain"
)

// exportRowGroupSize keeps row groups around the size query engines
// prune efficiently.
const exportRowGroupSize = 100_000

// tickRow is the parquet schema of one print. Prices stay decimal
// strings so the export round-trips exactly; readers cast on their
// side.
type tickRow struct {
	Symbol   string `parquet:"symbol,dict"`
	Price    string `parquet:"price"`
	Volume   int64  `parquet:"volume"`
	Exchange string `parquet:"exchange,dict"`
	TsMicros int64  `parquet:"ts_micros"`
}

// Exporter writes daily tick history as zstd parquet files under a
// Hive-style partition layout:
//
//	<root>/year=2026/month=02/day=09/ticks.parquet
//
// Partition pruning by path is the reader's concern.
type Exporter struct {
	ticks *TickRepository
	root  string
	log   zerolog.Logger
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(ticks *TickRepository, root string, log zerolog.Logger) *Exporter {
	return &Exporter{
		ticks: ticks,
		root:  root,
		log:   log.With().Str("component", "parquet_exporter").Logger(),
	}
}

// PartitionDir returns the directory for one calendar day.
func (e *Exporter) PartitionDir(day time.Time) string {
	return filepath.Join(e.root,
		fmt.Sprintf("year=%04d", day.Year()),
		fmt.Sprintf("month=%02d", int(day.Month())),
		fmt.Sprintf("day=%02d", day.Day()))
}

// ExportDay writes every print of one UTC calendar day into its
// partition, replacing any previous export of that day. Returns the
// number of rows written; a day with no prints writes nothing.
func (e *Exporter) ExportDay(ctx context.Context, day time.Time) (int, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	ticks, err := e.ticks.TicksBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", from.Format("2006-01-02"), err)
	}
	if len(ticks) == 0 {
		e.log.Debug().Str("day", from.Format("2006-01-02")).Msg("No ticks to export")
		return 0, nil
	}

	dir := e.PartitionDir(from)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("export %s: create partition: %w", from.Format("2006-01-02"), err)
	}

	// Write to a temp file first so readers never see a torn export.
	target := filepath.Join(dir, "ticks.parquet")
	tmp := target + ".tmp"

	if err := e.writeFile(tmp, ticks); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("export %s: finalize: %w", from.Format("2006-01-02"), err)
	}

	e.log.Info().
		Str("day", from.Format("2006-01-02")).
		Int("rows", len(ticks)).
		Str("file", target).
		Msg("Exported tick partition")
	return len(ticks), nil
}

func (e *Exporter) writeFile(path string, ticks []domain.Tick) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}

	writer := parquet.NewGenericWriter[tickRow](f,
		parquet.Compression(&parquet.Zstd),
		parquet.MaxRowsPerRowGroup(exportRowGroupSize),
	)

	rows := make([]tickRow, 0, len(ticks))
	for _, t := range ticks {
		rows = append(rows, tickRow{
			Symbol:   t.Symbol.String(),
			Price:    t.Price.String(),
			Volume:   t.Volume,
			Exchange: string(t.Exchange),
			TsMicros: t.Timestamp.UTC().UnixMicro(),
		})
	}

	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		_ = f.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}

// ReadPartition loads one day's export back as ticks, used by tests
// and backfills.
func ReadPartition(path string) ([]domain.Tick, error) {
	rows, err := parquet.ReadFile[tickRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet file %s: %w", path, err)
	}

	ticks := make([]domain.Tick, 0, len(rows))
	for _, r := range rows {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("corrupt price %q in %s: %w", r.Price, path, err)
		}
		ticks = append(ticks, domain.Tick{
			Symbol:    domain.Symbol(r.Symbol),
			Price:     price,
			Volume:    r.Volume,
			Exchange:  domain.Exchange(r.Exchange),
			Timestamp: time.UnixMicro(r.TsMicros).UTC(),
		})
	}
	return ticks, nil
}
