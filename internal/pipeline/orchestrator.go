// Package pipeline runs the collect, preprocess, train and alert stages in
// order and records the outcome of each run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/i474232898/climate-risk-alerts/internal/metrics"
)

// Stage names one pipeline step.
type Stage string

const (
	StageCollect    Stage = "collect"
	StagePreprocess Stage = "preprocess"
	StageTrainAll   Stage = "train_all"
	StageAlertAll   Stage = "alert_all"
)

// State is the orchestrator's position within a run.
type State string

const (
	StateIdle            State = "idle"
	StateCollecting      State = "collecting"
	StatePreprocessing   State = "preprocessing"
	StateTraining        State = "training"
	StateSkippedTraining State = "skipped_training"
	StateAlerting        State = "alerting"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// ErrBusy is returned by Trigger while another run holds the orchestrator.
var ErrBusy = errors.New("pipeline already running")

// Stages performs the work of each step. A non-nil error fails the step.
type Stages interface {
	Collect(ctx context.Context) error
	Preprocess(ctx context.Context) error
	TrainAll(ctx context.Context) error
	AlertAll(ctx context.Context) error
}

// TrainingCheck decides whether train_all runs in a full pipeline.
type TrainingCheck interface {
	NeedsTraining(ctx context.Context) (bool, error)
}

// Result is the terminal outcome of one run: success when Failed is empty,
// otherwise the failing stage and its error.
type Result struct {
	RunID    uuid.UUID
	Failed   Stage
	Err      error
	Trained  bool
	States   []State
	Started  time.Time
	Finished time.Time
}

// OK reports whether every stage of the run succeeded.
func (r Result) OK() bool { return r.Failed == "" }

func (r Result) String() string {
	if r.OK() {
		return "success"
	}
	return fmt.Sprintf("failed(%s): %v", r.Failed, r.Err)
}

// Orchestrator drives Stages. Runs and single stages are serialised: at most
// one executes at a time, and nothing is retried or rolled back.
type Orchestrator struct {
	stages  Stages
	check   TrainingCheck
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	state *atomic.String

	lastMu sync.RWMutex
	last   *Result
}

// New creates an Orchestrator. m may be nil.
func New(stages Stages, check TrainingCheck, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		stages:  stages,
		check:   check,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		state:   atomic.NewString(string(StateIdle)),
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// LastResult returns the most recent full-run result, if any.
func (o *Orchestrator) LastResult() (Result, bool) {
	o.lastMu.RLock()
	defer o.lastMu.RUnlock()
	if o.last == nil {
		return Result{}, false
	}
	return *o.last, true
}

// RunPipeline executes collect, preprocess, train_all (when the training
// check asks for it) and alert_all. The first failing stage ends the run.
func (o *Orchestrator) RunPipeline(ctx context.Context) Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx, uuid.New())
}

// Trigger starts a full run in the background and returns its ID, or
// ErrBusy when a run or stage is in progress.
func (o *Orchestrator) Trigger(ctx context.Context) (uuid.UUID, error) {
	if !o.mu.TryLock() {
		return uuid.Nil, ErrBusy
	}
	id := uuid.New()
	go func() {
		defer o.mu.Unlock()
		o.run(ctx, id)
	}()
	return id, nil
}

// Wait blocks until no run or stage is in progress.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	o.mu.Unlock()
}

// RunStage executes a single stage outside a full run, as the scheduler does
// for its collect, preprocess and alert jobs.
func (o *Orchestrator) RunStage(ctx context.Context, stage Stage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	fn, state, err := o.stageFunc(stage)
	if err != nil {
		return err
	}

	o.state.Store(string(state))
	defer o.state.Store(string(StateIdle))

	start := o.now()
	if err := fn(ctx); err != nil {
		slog.Error("pipeline: stage failed", "stage", stage, "err", err)
		return fmt.Errorf("%s: %w", stage, err)
	}
	slog.Info("pipeline: stage completed", "stage", stage, "took", o.now().Sub(start))
	return nil
}

func (o *Orchestrator) stageFunc(stage Stage) (func(context.Context) error, State, error) {
	switch stage {
	case StageCollect:
		return o.stages.Collect, StateCollecting, nil
	case StagePreprocess:
		return o.stages.Preprocess, StatePreprocessing, nil
	case StageTrainAll:
		return o.stages.TrainAll, StateTraining, nil
	case StageAlertAll:
		return o.stages.AlertAll, StateAlerting, nil
	default:
		return nil, "", fmt.Errorf("unknown stage %q", stage)
	}
}

func (o *Orchestrator) run(ctx context.Context, id uuid.UUID) Result {
	res := Result{RunID: id, Started: o.now()}
	log := slog.With("run", id.String())
	log.Info("pipeline: run started")

	enter := func(s State) {
		o.state.Store(string(s))
		res.States = append(res.States, s)
	}
	step := func(s State, stage Stage, fn func(context.Context) error) bool {
		enter(s)
		err := ctx.Err()
		if err == nil {
			err = fn(ctx)
		}
		if err != nil {
			res.Failed, res.Err = stage, err
			enter(StateFailed)
			log.Error("pipeline: run failed", "stage", stage, "err", err)
			return false
		}
		log.Info("pipeline: stage completed", "stage", stage)
		return true
	}

	ok := step(StateCollecting, StageCollect, o.stages.Collect) &&
		step(StatePreprocessing, StagePreprocess, o.stages.Preprocess) &&
		o.train(ctx, log, &res, enter, step) &&
		step(StateAlerting, StageAlertAll, o.stages.AlertAll)
	if ok {
		enter(StateDone)
		log.Info("pipeline: run completed", "trained", res.Trained)
	}

	res.Finished = o.now()
	o.state.Store(string(StateIdle))

	o.lastMu.Lock()
	o.last = &res
	o.lastMu.Unlock()

	if o.metrics != nil {
		o.metrics.RunFinished(string(res.Failed), res.Finished)
	}
	return res
}

func (o *Orchestrator) train(ctx context.Context, log *slog.Logger, res *Result,
	enter func(State), step func(State, Stage, func(context.Context) error) bool) bool {
	need := true
	if o.check != nil {
		var err error
		need, err = o.check.NeedsTraining(ctx)
		if err != nil {
			log.Warn("pipeline: training check failed; training anyway", "err", err)
			need = true
		}
	}
	if !need {
		enter(StateSkippedTraining)
		log.Info("pipeline: models present; skipping training")
		return true
	}
	if !step(StateTraining, StageTrainAll, o.stages.TrainAll) {
		return false
	}
	res.Trained = true
	return true
}
