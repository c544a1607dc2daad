// Package engine provides end-to-end run orchestration.
// It coordinates: discovery → resolution → aggregation → liquidity → report
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lenderscan/internal/discovery"
	"lenderscan/internal/domain"
	"lenderscan/internal/idhash"
	"lenderscan/internal/ledger"
	"lenderscan/internal/liquidity"
	"lenderscan/internal/observability"
	"lenderscan/internal/report"
	"lenderscan/internal/resolve"
	"lenderscan/internal/storage"
)

// DefaultTimeout bounds a full run when Options.Timeout is zero.
const DefaultTimeout = 150 * time.Second

// ErrRunTimeout is returned when the run deadline expires. Partial
// results are never surfaced past it.
var ErrRunTimeout = errors.New("run deadline exceeded")

// Engine coordinates one full reconstruction run.
type Engine struct {
	discoverer *discovery.Discoverer
	resolver   *resolve.Resolver
	liquidity  *liquidity.Resolver
	reporter   *report.Reporter
	runs       storage.RunStore

	workers int
	timeout time.Duration
	verbose bool
	logger  *log.Logger
	now     func() time.Time
}

// Options for creating an Engine.
type Options struct {
	// Required pipeline stages
	Discoverer *discovery.Discoverer
	Resolver   *resolve.Resolver
	Liquidity  *liquidity.Resolver
	Reporter   *report.Reporter

	// Runs archives each emitted result when non-nil. Archive failures
	// are logged, never fatal: the run already produced its result.
	Runs storage.RunStore

	// Workers bounds parallel resolution. Zero uses the resolver default.
	Workers int
	// Timeout bounds the whole run. Zero uses DefaultTimeout.
	Timeout time.Duration

	Verbose bool
	Logger  *log.Logger
}

// New creates a new Engine.
func New(opts Options) *Engine {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		discoverer: opts.Discoverer,
		resolver:   opts.Resolver,
		liquidity:  opts.Liquidity,
		reporter:   opts.Reporter,
		runs:       opts.Runs,
		workers:    opts.Workers,
		timeout:    timeout,
		verbose:    opts.Verbose,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock for deterministic run IDs and timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RunResult contains the emitted report plus run accounting.
type RunResult struct {
	RunID      string
	Result     domain.ResultSet
	Candidates int
	Deltas     int
	Duration   time.Duration
}

// Run executes the full pipeline for one token under a single deadline.
// Phases:
//  1. Discover candidate transactions over the lookback range
//  2. Resolve signed deltas in parallel
//  3. Replay deltas chronologically into the ledger
//  4. Read total pool liquidity
//  5. Rank and build the report
func (e *Engine) Run(ctx context.Context, token common.Address, lookback time.Duration) (*RunResult, error) {
	started := e.now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result := &RunResult{RunID: idhash.ComputeRunID(token, lookback, started)}

	// Phase 1: Discovery
	e.log("Phase 1: Discovering candidate transactions...")
	phaseStart := time.Now()
	candidates, err := e.discoverer.Discover(ctx, lookback)
	if err != nil {
		return nil, e.phaseErr(ctx, "phase 1 (discovery)", err)
	}
	result.Candidates = len(candidates)
	observability.RecordPhase("discover", time.Since(phaseStart).Seconds())
	e.log("  Found %d candidates", len(candidates))

	// Phase 2: Resolution
	e.log("Phase 2: Resolving signed deltas...")
	phaseStart = time.Now()
	deltas, err := e.resolver.ResolveAll(ctx, candidates, e.workers)
	if err != nil {
		return nil, e.phaseErr(ctx, "phase 2 (resolution)", err)
	}
	result.Deltas = len(deltas)
	observability.RecordPhase("resolve", time.Since(phaseStart).Seconds())
	e.log("  Resolved %d deltas (%d dropped)", len(deltas), len(candidates)-len(deltas))

	// Phase 3: Aggregation
	e.log("Phase 3: Replaying ledger...")
	led := ledger.Aggregate(deltas)
	e.log("  %d wallets with outstanding debt", led.Len())

	// Phase 4: Liquidity
	e.log("Phase 4: Reading pool liquidity...")
	if err := ctx.Err(); err != nil {
		return nil, e.phaseErr(ctx, "phase 4 (liquidity)", err)
	}
	liq := e.liquidity.TotalLiquidity(ctx)
	observability.RecordLiquiditySource(string(liq.Source))
	e.log("  Liquidity %s (source=%s)", liq.Amount, liq.Source)

	// Phase 5: Report
	e.log("Phase 5: Building report...")
	result.Result = e.reporter.Build(led, liq, token)
	result.Duration = time.Since(started)
	observability.DefaultMetrics.LendersReported.Set(float64(len(result.Result.Lenders)))
	observability.RecordRun("ok", result.Duration.Seconds())
	observability.DefaultMetrics.LastSuccessfulRun.SetToCurrentTime()
	e.log("Run completed: %d candidates, %d deltas, %d lenders in %s",
		result.Candidates, result.Deltas, len(result.Result.Lenders), result.Duration)

	e.archive(result, started)

	return result, nil
}

// phaseErr maps deadline expiry onto ErrRunTimeout and wraps everything
// else with the phase name.
func (e *Engine) phaseErr(ctx context.Context, phase string, err error) error {
	observability.DefaultMetrics.RunsTotal.WithLabelValues("error").Inc()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", phase, ErrRunTimeout)
	}
	return fmt.Errorf("%s failed: %w", phase, err)
}

// archive stores the run record when a store is configured.
func (e *Engine) archive(result *RunResult, started time.Time) {
	if e.runs == nil {
		return
	}
	rec := &domain.RunRecord{
		RunID:     result.RunID,
		Result:    result.Result,
		Duration:  result.Duration,
		CreatedAt: started.UnixMilli(),
	}
	// Archive writes get their own short deadline so a slow database
	// cannot hold a finished run hostage.
	actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.runs.Insert(actx, rec); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		e.logger.Printf("[engine] archive run %s: %v", result.RunID, err)
	}
}

func (e *Engine) log(format string, args ...interface{}) {
	if e.verbose {
		e.logger.Printf("[engine] "+format, args...)
	}
}
