package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hoangvu/vnquant/internal/database"
	"github.com/hoangvu/vnquant/internal/domain"
)

// ErrRunNotFound is returned when a run id has no stored snapshot.
var ErrRunNotFound = errors.New("run snapshot not found")

// RunSnapshot is the persisted summary of one pipeline run. Prices
// are decimal strings so the snapshot round-trips exactly.
type RunSnapshot struct {
	RunID         string                     `msgpack:"run_id" json:"run_id"`
	Phase         string                     `msgpack:"phase" json:"phase"`
	StartedAt     time.Time                  `msgpack:"started_at" json:"started_at"`
	FinishedAt    time.Time                  `msgpack:"finished_at" json:"finished_at"`
	NAV           string                     `msgpack:"nav" json:"nav"`
	Watchlist     []string                   `msgpack:"watchlist" json:"watchlist"`
	TopCandidates []string                   `msgpack:"top_candidates" json:"top_candidates"`
	Scores        map[string]float64         `msgpack:"scores" json:"scores"`
	Warnings      map[string]snapshotWarning `msgpack:"warnings" json:"warnings"`
	Trades        []snapshotTrade            `msgpack:"trades" json:"trades"`
	Plans         []snapshotPlan             `msgpack:"plans" json:"plans"`
	Errors        []snapshotError            `msgpack:"errors" json:"errors"`
}

type snapshotWarning struct {
	Score int    `msgpack:"score" json:"score"`
	Level string `msgpack:"level" json:"level"`
}

type snapshotTrade struct {
	Symbol   string `msgpack:"symbol" json:"symbol"`
	Action   string `msgpack:"action" json:"action"`
	Approved bool   `msgpack:"approved" json:"approved"`
	Reason   string `msgpack:"reason" json:"reason"`
	Quantity int64  `msgpack:"quantity" json:"quantity"`
	Price    string `msgpack:"price" json:"price"`
}

type snapshotPlan struct {
	Symbol   string `msgpack:"symbol" json:"symbol"`
	Action   string `msgpack:"action" json:"action"`
	Quantity int64  `msgpack:"quantity" json:"quantity"`
	Price    string `msgpack:"price" json:"price"`
	OrderID  string `msgpack:"order_id" json:"order_id"`
	Placed   bool   `msgpack:"placed" json:"placed"`
	Note     string `msgpack:"note" json:"note"`
}

type snapshotError struct {
	Agent   string `msgpack:"agent" json:"agent"`
	Message string `msgpack:"message" json:"message"`
}

// newRunSnapshot flattens the final run state into its storable form.
func newRunSnapshot(state AgentState, finishedAt time.Time) RunSnapshot {
	snap := RunSnapshot{
		RunID:         state.RunID,
		Phase:         string(state.Phase),
		StartedAt:     state.StartedAt.UTC(),
		FinishedAt:    finishedAt.UTC(),
		NAV:           state.Portfolio.NAV.String(),
		Watchlist:     symbolStrings(state.Watchlist),
		TopCandidates: symbolStrings(state.TopCandidates),
		Scores:        make(map[string]float64, len(state.TechnicalScores)),
		Warnings:      make(map[string]snapshotWarning, len(state.EarlyWarnings)),
	}
	for symbol, score := range state.TechnicalScores {
		snap.Scores[symbol.String()] = score.Score
	}
	for symbol, w := range state.EarlyWarnings {
		snap.Warnings[symbol.String()] = snapshotWarning{Score: w.Score, Level: string(w.Level)}
	}
	for _, a := range state.RiskAssessments {
		snap.Trades = append(snap.Trades, snapshotTrade{
			Symbol:   a.Symbol.String(),
			Action:   string(a.Action),
			Approved: a.Approved,
			Reason:   a.Reason,
			Quantity: a.Quantity,
			Price:    a.LatestPrice.String(),
		})
	}
	for _, p := range state.ExecutionPlans {
		snap.Plans = append(snap.Plans, snapshotPlan{
			Symbol:   p.Symbol.String(),
			Action:   string(p.Action),
			Quantity: p.Quantity,
			Price:    p.Price.String(),
			OrderID:  p.OrderID,
			Placed:   p.Placed,
			Note:     p.Note,
		})
	}
	for _, e := range state.Errors {
		snap.Errors = append(snap.Errors, snapshotError{Agent: e.Agent, Message: e.Message})
	}
	return snap
}

func symbolStrings(symbols []domain.Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = s.String()
	}
	return out
}

// SnapshotRepository persists run snapshots into agent_runs.
type SnapshotRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates the repository.
func NewSnapshotRepository(db *database.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("component", "snapshot_repository").Logger(),
	}
}

// Save upserts one run snapshot.
func (r *SnapshotRepository) Save(ctx context.Context, snap RunSnapshot) error {
	blob, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode run snapshot %s: %w", snap.RunID, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO agent_runs (run_id, started_at, finished_at, phase, snapshot)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			phase = excluded.phase,
			snapshot = excluded.snapshot`,
		snap.RunID,
		snap.StartedAt.Format(time.RFC3339Nano),
		snap.FinishedAt.Format(time.RFC3339Nano),
		snap.Phase,
		blob)
	if err != nil {
		return fmt.Errorf("failed to save run snapshot %s: %w", snap.RunID, err)
	}
	return nil
}

// Get loads one run snapshot by id.
func (r *SnapshotRepository) Get(ctx context.Context, runID string) (RunSnapshot, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM agent_runs WHERE run_id = ?`, runID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSnapshot{}, ErrRunNotFound
	}
	if err != nil {
		return RunSnapshot{}, fmt.Errorf("failed to load run snapshot %s: %w", runID, err)
	}

	var snap RunSnapshot
	if err := msgpack.Unmarshal(blob, &snap); err != nil {
		return RunSnapshot{}, fmt.Errorf("corrupt run snapshot %s: %w", runID, err)
	}
	return snap, nil
}

// Recent returns the newest n run snapshots, newest first.
func (r *SnapshotRepository) Recent(ctx context.Context, n int) ([]RunSnapshot, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT snapshot FROM agent_runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list run snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []RunSnapshot
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan run snapshot: %w", err)
		}
		var snap RunSnapshot
		if err := msgpack.Unmarshal(blob, &snap); err != nil {
			r.log.Warn().Err(err).Msg("Skipping corrupt run snapshot")
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
