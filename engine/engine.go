// Package engine coordinates simulation runs across dataset records.
//
// The engine builds a run plan from a loaded dataset, executes runs
// concurrently up to a configured limit, and persists each run's
// transcript, verdict, and timing to the state store. Individual run
// failures are captured in the stored RunResult rather than aborting
// the batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sparringlabs/sparring/agent"
	"github.com/sparringlabs/sparring/dataset"
	"github.com/sparringlabs/sparring/judge"
	"github.com/sparringlabs/sparring/logger"
	"github.com/sparringlabs/sparring/metrics"
	pkgerrors "github.com/sparringlabs/sparring/pkg/errors"
	"github.com/sparringlabs/sparring/sim"
	"github.com/sparringlabs/sparring/statestore"
)

const (
	// DefaultConcurrency bounds simultaneous runs when the caller does not
	// specify a limit.
	DefaultConcurrency = 4

	tracerName = "github.com/sparringlabs/sparring/engine"
)

// Options configures an Engine.
type Options struct {
	// Subject is the agent under evaluation. Required.
	Subject agent.Agent

	// Counterpart drives the other side of each conversation. Required.
	Counterpart agent.Agent

	// Judge, when set, grades each completed transcript.
	Judge judge.Judge

	// Store receives one RunResult per dataset record. Required.
	Store statestore.Store

	// OpeningKey names the dataset field holding the seeded opening
	// message. Empty means records carry no opening.
	OpeningKey string

	// MaxTurns caps conversation length per run. Zero applies the
	// simulation default.
	MaxTurns int

	// Concurrency bounds simultaneous runs. Zero applies DefaultConcurrency.
	Concurrency int
}

// Engine executes simulation runs over dataset records.
type Engine struct {
	opts   Options
	tracer trace.Tracer
}

// New validates opts and returns a ready Engine.
func New(opts Options) (*Engine, error) {
	if opts.Subject == nil {
		return nil, pkgerrors.New("engine", "new", errors.New("subject agent is required"))
	}
	if opts.Counterpart == nil {
		return nil, pkgerrors.New("engine", "new", errors.New("counterpart agent is required"))
	}
	if opts.Store == nil {
		return nil, pkgerrors.New("engine", "new", errors.New("state store is required"))
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Engine{
		opts:   opts,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// ExecuteRuns runs one simulation per dataset record, up to the configured
// concurrency limit. Run IDs are returned in record order. Individual run
// errors are captured in the stored RunResult, not returned here; the error
// return covers persistence failures only.
func (e *Engine) ExecuteRuns(ctx context.Context, records []dataset.Record) ([]string, error) {
	runIDs := make([]string, len(records))
	saveErrs := make([]error, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			runID, err := e.executeRun(gctx, i, record)
			runIDs[i] = runID
			saveErrs[i] = err
			return nil
		})
	}

	// Workers never return errors; Wait only propagates context cancellation.
	if err := g.Wait(); err != nil {
		return runIDs, err
	}

	var failed []error
	for _, err := range saveErrs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return runIDs, fmt.Errorf("some runs failed to save: %v", failed)
	}

	return runIDs, nil
}

// executeRun drives one conversation for a single dataset record, grades the
// transcript when a judge is configured, and persists the result. The run ID
// is always returned; errors from the simulation itself land in the stored
// RunResult's Error field.
func (e *Engine) executeRun(ctx context.Context, index int, record dataset.Record) (string, error) {
	startTime := time.Now()
	runID := uuid.NewString()

	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.dataset_index", index),
		))
	defer span.End()

	logger.Info("Starting run", "runID", runID, "datasetIndex", index)

	result := &statestore.RunResult{
		RunID:        runID,
		DatasetIndex: index,
		StartTime:    startTime,
	}

	state, runErr := e.runConversation(ctx, record)
	if state != nil {
		result.Messages = state.Messages
		result.Turns = len(state.Messages)
	}
	if runErr == nil && state == nil {
		runErr = errors.New("run produced no conversation state")
	}
	if runErr != nil {
		result.Error = runErr.Error()
		span.RecordError(runErr)
		logger.Error("Run failed", "runID", runID, "error", runErr)
	} else if e.opts.Judge != nil && state != nil {
		verdict, judgeErr := e.evaluate(ctx, record, state)
		if judgeErr != nil {
			result.Error = judgeErr.Error()
			span.RecordError(judgeErr)
			logger.Error("Judging failed", "runID", runID, "error", judgeErr)
		} else {
			result.Verdict = verdict
			metrics.RecordVerdict(verdict.Pass)
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	status := "success"
	if result.Error != "" {
		status = "error"
	}
	metrics.RecordRun(status, result.Duration)

	if err := e.opts.Store.Save(ctx, result); err != nil {
		return runID, pkgerrors.New("engine", "save_result",
			fmt.Errorf("failed to save run %s: %w", runID, err))
	}

	logger.Info("Run finished", "runID", runID, "turns", result.Turns, "status", status)
	return runID, nil
}

// runConversation executes the turn loop for one record and returns the last
// observed conversation state. The returned state is non-nil whenever at
// least one snapshot was produced, even if the run later failed.
func (e *Engine) runConversation(ctx context.Context, record dataset.Record) (*sim.ConversationState, error) {
	spec := sim.RunSpec{
		Record:      record,
		OpeningKey:  e.opts.OpeningKey,
		MaxTurns:    e.opts.MaxTurns,
		Subject:     e.opts.Subject,
		Counterpart: e.opts.Counterpart,
	}

	snapshots, err := sim.Run(ctx, spec)
	if err != nil {
		return nil, err
	}

	var state *sim.ConversationState
	// A seeded opening is not produced by an agent invocation, so it is
	// excluded from the turn count.
	prevTurns := 0
	if spec.OpeningKey != "" {
		prevTurns = 1
	}
	done := false
	for snap := range snapshots {
		if snap.Err != nil {
			return state, snap.Err
		}
		if snap.State != nil {
			for _, msg := range snap.State.Messages[prevTurns:] {
				metrics.RecordTurn(msg.Role)
			}
			prevTurns = len(snap.State.Messages)
			state = snap.State
		}
		done = snap.Done
	}
	if !done {
		// Stream closed without a terminal snapshot: the run was cancelled.
		return state, ctx.Err()
	}
	return state, nil
}

// evaluate grades a finished transcript against the record's instructions.
func (e *Engine) evaluate(ctx context.Context, record dataset.Record, state *sim.ConversationState) (*judge.Verdict, error) {
	instructions, _ := record["instructions"].(string)

	ctx, span := e.tracer.Start(ctx, "engine.judge")
	defer span.End()

	verdict, err := e.opts.Judge.Evaluate(ctx, instructions, state.Messages)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("verdict.pass", verdict.Pass))
	return verdict, nil
}
