package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/climate-risk-alerts/internal/config"
	"github.com/i474232898/climate-risk-alerts/internal/pipeline"
)

// Runner executes pipeline work on behalf of scheduled jobs.
type Runner interface {
	RunPipeline(ctx context.Context) pipeline.Result
	RunStage(ctx context.Context, stage pipeline.Stage) error
}

// JobInfo describes one scheduled job.
type JobInfo struct {
	Job     string    `json:"job"`
	NextRun time.Time `json:"next_run"`
}

// Scheduler triggers pipeline jobs from interval, daily and cron bindings.
// Jobs never overlap: a tick that fires while another job runs waits for it.
// A job that has started always runs to completion.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	bindings  []config.Binding

	mu      sync.Mutex
	stopped bool
	running sync.WaitGroup
}

// New creates a new Scheduler.
func New(bindings []config.Binding, runner Runner) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SetMaxConcurrentJobs(1, gocron.WaitMode)
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		bindings:  bindings,
	}
}

// Start registers every binding and starts the underlying scheduler. Jobs
// receive ctx's values but not its cancellation; outbound calls are bounded
// by their own timeouts instead.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.bindings) == 0 {
		slog.Info("scheduler: no bindings configured; nothing to schedule")
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	for _, b := range s.bindings {
		if err := s.register(ctx, b); err != nil {
			s.scheduler.Clear()
			return err
		}
	}

	s.scheduler.StartAsync()
	for _, j := range s.Jobs() {
		slog.Info("scheduler: job scheduled", "job", j.Job, "next_run", j.NextRun)
	}
	return nil
}

func (s *Scheduler) register(ctx context.Context, b config.Binding) error {
	job, err := s.jobFunc(ctx, b.Job)
	if err != nil {
		return err
	}
	fn := s.track(job)

	switch {
	case b.Every > 0:
		_, err = s.scheduler.Every(b.Every).WaitForSchedule().Tag(b.Job).Do(fn)
	case b.At != "":
		_, err = s.scheduler.Every(1).Day().At(b.At).Tag(b.Job).Do(fn)
	case b.Cron != "":
		_, err = s.scheduler.Cron(b.Cron).Tag(b.Job).Do(fn)
	default:
		err = fmt.Errorf("no trigger")
	}
	if err != nil {
		return fmt.Errorf("schedule %s: %w", b.Job, err)
	}
	return nil
}

func (s *Scheduler) jobFunc(ctx context.Context, job string) (func(), error) {
	var stage pipeline.Stage
	switch job {
	case config.JobCollect:
		stage = pipeline.StageCollect
	case config.JobPreprocess:
		stage = pipeline.StagePreprocess
	case config.JobAlerts:
		stage = pipeline.StageAlertAll
	case config.JobPipeline:
		return func() {
			slog.Info("scheduler: running full pipeline")
			res := s.runner.RunPipeline(ctx)
			slog.Info("scheduler: full pipeline finished", "run", res.RunID.String(), "result", res.String())
		}, nil
	default:
		return nil, fmt.Errorf("unknown job %q", job)
	}

	return func() {
		slog.Info("scheduler: running job", "job", job)
		if err := s.runner.RunStage(ctx, stage); err != nil {
			slog.Error("scheduler: job failed", "job", job, "err", err)
			return
		}
		slog.Info("scheduler: completed job", "job", job)
	}, nil
}

// track wraps fn so Stop can wait for it. Ticks delivered after Stop are
// dropped.
func (s *Scheduler) track(fn func()) func() {
	return func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.running.Add(1)
		s.mu.Unlock()
		defer s.running.Done()
		fn()
	}
}

// Jobs lists the registered jobs with their next run time.
func (s *Scheduler) Jobs() []JobInfo {
	var out []JobInfo
	for _, j := range s.scheduler.Jobs() {
		info := JobInfo{NextRun: j.NextRun()}
		if tags := j.Tags(); len(tags) > 0 {
			info.Job = tags[0]
		}
		out = append(out, info)
	}
	return out
}

// Stop prevents further jobs from starting and blocks until the running job,
// if any, has finished. Stop may be called more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
	s.running.Wait()
}
