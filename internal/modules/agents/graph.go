package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/events"
	"github.com/hoangvu/vnquant/internal/modules/trading"
)

// Node is one agent in the pipeline DAG.
type Node interface {
	Name() string
	Run(ctx context.Context, state *AgentState) (StateUpdate, error)
}

// Graph node names. The wiring is static; only the edges are
// conditional.
const (
	nodeInjectContext = "inject_context"
	nodeScreener      = "screener"
	nodeTechnical     = "technical"
	nodeFundamental   = "fundamental"
	nodeRisk          = "risk"
	nodeExecutor      = "executor"
	nodeFinalize      = "finalize"
)

// Supervisor wires the agents into the DAG and drives one run:
// execute the current node, merge its partial update atomically, then
// route. A node error aborts the run with phase ERROR but never
// crashes the process; the snapshot records what happened either way.
type Supervisor struct {
	portfolio   trading.PortfolioProvider
	screener    Node
	technical   Node
	fundamental Node // nil disables the fundamental stage
	risk        Node
	executor    Node
	snapshots   *SnapshotRepository
	bus         *events.Bus
	log         zerolog.Logger
}

// NewSupervisor assembles the pipeline. fundamental, snapshots and
// bus may be nil.
func NewSupervisor(
	portfolio trading.PortfolioProvider,
	screener, technical, fundamental, risk, executor Node,
	snapshots *SnapshotRepository,
	bus *events.Bus,
	log zerolog.Logger,
) *Supervisor {
	return &Supervisor{
		portfolio:   portfolio,
		screener:    screener,
		technical:   technical,
		fundamental: fundamental,
		risk:        risk,
		executor:    executor,
		snapshots:   snapshots,
		bus:         bus,
		log:         log.With().Str("component", "supervisor").Logger(),
	}
}

// Execute runs the pipeline once. The returned state is the final
// scratchpad; the error is the first node failure, if any.
func (s *Supervisor) Execute(ctx context.Context, cfg RunConfig) (AgentState, error) {
	state := AgentState{
		RunID:     uuid.NewString(),
		Phase:     PhaseIdle,
		StartedAt: time.Now().UTC(),
		Config:    cfg.Defaults(),
	}

	s.log.Info().
		Str("run_id", state.RunID).
		Bool("dry_run", state.Config.DryRun).
		Msg("Pipeline run started")

	var runErr error
	current := nodeInjectContext
	for current != "" {
		update, err := s.runNode(ctx, current, &state)
		if err != nil {
			state.Phase = PhaseError
			state.Errors = append(state.Errors, AgentError{
				Agent:   current,
				Message: err.Error(),
				At:      time.Now().UTC(),
			})
			runErr = fmt.Errorf("agent %s: %w", current, err)
			s.log.Error().Err(err).
				Str("run_id", state.RunID).
				Str("agent", current).
				Msg("Agent failed, aborting run")
			break
		}
		state.apply(update)
		current = s.route(current, &state)
	}

	s.finish(ctx, &state)
	return state, runErr
}

// runNode executes one node, converting a panic into an agent error.
func (s *Supervisor) runNode(ctx context.Context, name string, state *AgentState) (update StateUpdate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch name {
	case nodeInjectContext:
		return s.injectContext(ctx, state)
	case nodeFinalize:
		return StateUpdate{Phase: PhaseCompleted}, nil
	default:
		return s.node(name).Run(ctx, state)
	}
}

func (s *Supervisor) node(name string) Node {
	switch name {
	case nodeScreener:
		return s.screener
	case nodeTechnical:
		return s.technical
	case nodeFundamental:
		return s.fundamental
	case nodeRisk:
		return s.risk
	case nodeExecutor:
		return s.executor
	}
	panic(fmt.Sprintf("unknown pipeline node %q", name))
}

// injectContext is the entry node: it fetches the portfolio snapshot
// every downstream node reads.
func (s *Supervisor) injectContext(ctx context.Context, state *AgentState) (StateUpdate, error) {
	pf, err := s.portfolio.Current(ctx)
	if err != nil {
		return StateUpdate{}, fmt.Errorf("portfolio context: %w", err)
	}
	return StateUpdate{Phase: PhaseIdle, Portfolio: &pf}, nil
}

// route picks the next node from the merged state. Every path ends at
// finalize.
func (s *Supervisor) route(from string, state *AgentState) string {
	switch from {
	case nodeInjectContext:
		return nodeScreener
	case nodeScreener:
		if len(state.Watchlist) > 0 {
			return nodeTechnical
		}
		return nodeFinalize
	case nodeTechnical:
		if len(state.TopCandidates) == 0 {
			return nodeFinalize
		}
		if s.fundamental != nil {
			return nodeFundamental
		}
		return nodeRisk
	case nodeFundamental:
		return nodeRisk
	case nodeRisk:
		if len(state.ApprovedTrades) > 0 {
			return nodeExecutor
		}
		return nodeFinalize
	case nodeExecutor:
		return nodeFinalize
	default:
		return ""
	}
}

// finish snapshots the run and announces completion. Both are
// best-effort: the run's outcome is already decided.
func (s *Supervisor) finish(ctx context.Context, state *AgentState) {
	finishedAt := time.Now().UTC()

	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, newRunSnapshot(*state, finishedAt)); err != nil {
			s.log.Error().Err(err).Str("run_id", state.RunID).Msg("Failed to persist run snapshot")
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicRunCompleted, newRunSnapshot(*state, finishedAt))
	}

	s.log.Info().
		Str("run_id", state.RunID).
		Str("phase", string(state.Phase)).
		Int("watchlist", len(state.Watchlist)).
		Int("top_candidates", len(state.TopCandidates)).
		Int("approved", len(state.ApprovedTrades)).
		Int("plans", len(state.ExecutionPlans)).
		Dur("took", finishedAt.Sub(state.StartedAt)).
		Msg("Pipeline run finished")
}
