// Package agents is the decision pipeline: a statically wired DAG of
// screener, technical, fundamental, risk and executor nodes run by a
// supervisor over a shared scratchpad state. Routing is plain code
// over that state; nodes return partial updates and never touch
// fields owned by downstream nodes.
package agents

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/domain"
)

// Phase is the pipeline run phase.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseScreening    Phase = "SCREENING"
	PhaseAnalyzing    Phase = "ANALYZING"
	PhaseRiskChecking Phase = "RISK_CHECKING"
	PhaseExecuting    Phase = "EXECUTING"
	PhaseCompleted    Phase = "COMPLETED"
	PhaseError        Phase = "ERROR"
)

// Action is a recommended trade direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
	ActionSkip Action = "SKIP"
)

// TechnicalScore is one symbol's aggregated indicator verdict.
type TechnicalScore struct {
	Symbol  domain.Symbol      `json:"symbol"`
	Score   float64            `json:"score"` // composite in [-10, +10]
	Action  Action             `json:"action"`
	Signals map[string]float64 `json:"signals"` // per-indicator contributions
}

// EarlyWarningLevel buckets the 0-100 distress score.
type EarlyWarningLevel string

const (
	WarningLow      EarlyWarningLevel = "low"
	WarningMedium   EarlyWarningLevel = "medium"
	WarningHigh     EarlyWarningLevel = "high"
	WarningCritical EarlyWarningLevel = "critical"
)

// EarlyWarningResult is the financial distress assessment of one
// symbol. Critical is a hard veto downstream.
type EarlyWarningResult struct {
	Symbol  domain.Symbol     `json:"symbol"`
	Score   int               `json:"score"` // 0 (healthy) to 100
	Level   EarlyWarningLevel `json:"level"`
	Reasons []string          `json:"reasons"`
}

// DuPontBreakdown is the five-factor ROE decomposition.
type DuPontBreakdown struct {
	Symbol         domain.Symbol `json:"symbol"`
	TaxBurden      float64       `json:"tax_burden"`
	InterestBurden float64       `json:"interest_burden"`
	NetMargin      float64       `json:"operating_margin"`
	AssetTurnover  float64       `json:"asset_turnover"`
	Leverage       float64       `json:"leverage"`
	ROE            float64       `json:"roe"` // product of the five factors
}

// RiskAssessment is the risk agent's verdict for one candidate.
type RiskAssessment struct {
	Symbol      domain.Symbol   `json:"symbol"`
	Exchange    domain.Exchange `json:"exchange"`
	Action      Action          `json:"action"`
	Approved    bool            `json:"approved"`
	Reason      string          `json:"reason,omitempty"`
	Quantity    int64           `json:"quantity"`
	LatestPrice decimal.Decimal `json:"latest_price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
}

// ExecutionPlan is one order the executor built from an approved
// assessment, together with the placement outcome.
type ExecutionPlan struct {
	Symbol         domain.Symbol   `json:"symbol"`
	Exchange       domain.Exchange `json:"exchange"`
	Action         Action          `json:"action"`
	Quantity       int64           `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	IdempotencyKey string          `json:"idempotency_key"`
	OrderID        string          `json:"order_id,omitempty"`
	Placed         bool            `json:"placed"`
	Note           string          `json:"note,omitempty"`
}

// AgentError is a structured error record from one node.
type AgentError struct {
	Agent   string    `json:"agent"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RunConfig is the per-run configuration injected by the entry node.
type RunConfig struct {
	MaxCandidates  int     `json:"max_candidates"`
	ScoreThreshold float64 `json:"score_threshold"`
	StopLossPct    float64 `json:"stop_loss_pct"`
	TakeProfitPct  float64 `json:"take_profit_pct"`
	DryRun         bool    `json:"dry_run"`

	// Watchlist pins the screener to an operator-chosen symbol set
	// instead of the fundamentals universe. Pinned symbols skip the
	// fundamental floor; the operator vouched for them.
	Watchlist []domain.Symbol `json:"watchlist,omitempty"`
}

// Defaults fills unset fields.
func (c RunConfig) Defaults() RunConfig {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 10
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = 5
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = 0.05
	}
	if c.TakeProfitPct <= 0 {
		c.TakeProfitPct = 0.15
	}
	return c
}

// AgentState is the shared scratchpad of one pipeline run. Ownership
// is strictly upstream-to-downstream: each field is written by exactly
// one node and read only by later nodes.
type AgentState struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	Config    RunConfig `json:"config"`

	Portfolio domain.PortfolioState `json:"portfolio"`

	Watchlist       []domain.Symbol                          `json:"watchlist"`
	TechnicalScores map[domain.Symbol]TechnicalScore         `json:"technical_scores"`
	TopCandidates   []domain.Symbol                          `json:"top_candidates"`
	AIInsights      map[domain.Symbol]string                 `json:"ai_insights"`
	EarlyWarnings   map[domain.Symbol]EarlyWarningResult     `json:"early_warning_results"`
	DuPont          map[domain.Symbol]DuPontBreakdown        `json:"dupont"`
	RiskAssessments map[domain.Symbol]RiskAssessment         `json:"risk_assessments"`
	ApprovedTrades  []RiskAssessment                         `json:"approved_trades"`
	ExecutionPlans  []ExecutionPlan                          `json:"execution_plans"`
	Errors          []AgentError                             `json:"errors,omitempty"`
}

// StateUpdate is the partial update a node returns. Zero-valued
// fields are skipped during merge; maps and slices replace only their
// own field, never another node's.
type StateUpdate struct {
	Phase           Phase
	Portfolio       *domain.PortfolioState
	Watchlist       []domain.Symbol
	TechnicalScores map[domain.Symbol]TechnicalScore
	TopCandidates   []domain.Symbol
	AIInsights      map[domain.Symbol]string
	EarlyWarnings   map[domain.Symbol]EarlyWarningResult
	DuPont          map[domain.Symbol]DuPontBreakdown
	RiskAssessments map[domain.Symbol]RiskAssessment
	ApprovedTrades  []RiskAssessment
	ExecutionPlans  []ExecutionPlan
}

// apply merges an update into the state. Applied atomically between
// nodes by the supervisor; nodes never see a half-merged state.
func (s *AgentState) apply(u StateUpdate) {
	if u.Phase != "" {
		s.Phase = u.Phase
	}
	if u.Portfolio != nil {
		s.Portfolio = *u.Portfolio
	}
	if u.Watchlist != nil {
		s.Watchlist = u.Watchlist
	}
	if u.TechnicalScores != nil {
		s.TechnicalScores = u.TechnicalScores
	}
	if u.TopCandidates != nil {
		s.TopCandidates = u.TopCandidates
	}
	if u.AIInsights != nil {
		s.AIInsights = u.AIInsights
	}
	if u.EarlyWarnings != nil {
		s.EarlyWarnings = u.EarlyWarnings
	}
	if u.DuPont != nil {
		s.DuPont = u.DuPont
	}
	if u.RiskAssessments != nil {
		s.RiskAssessments = u.RiskAssessments
	}
	if u.ApprovedTrades != nil {
		s.ApprovedTrades = u.ApprovedTrades
	}
	if u.ExecutionPlans != nil {
		s.ExecutionPlans = u.ExecutionPlans
	}
}
