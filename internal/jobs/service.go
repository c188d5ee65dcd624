// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs executes submitted jobs: admission, the pipeline run, job
// records and delivery of progress to an observer.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	xglog "github.com/ManuGH/stemrelay/internal/log"
	"github.com/ManuGH/stemrelay/internal/history"
	"github.com/ManuGH/stemrelay/internal/metrics"
	"github.com/ManuGH/stemrelay/internal/pipeline"
	"github.com/ManuGH/stemrelay/internal/relay"
)

// ErrShuttingDown is returned by Start after Shutdown.
var ErrShuttingDown = errors.New("job service shutting down")

// Job is one accepted submission.
type Job struct {
	Slug       string
	Title      string
	SourceName string
	InputPath  string
}

// Service runs jobs. Jobs are detached from the submitting request: an
// observer that goes away never stops the job. Shutdown stops all jobs.
type Service struct {
	orch   *pipeline.Orchestrator
	store  history.Store
	sem    *semaphore.Weighted
	logger zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewService returns a service. maxConcurrent <= 0 admits every job at once.
func NewService(orch *pipeline.Orchestrator, store history.Store, maxConcurrent int) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		orch:    orch,
		store:   store,
		logger:  xglog.WithComponent("jobs"),
		baseCtx: ctx,
		cancel:  cancel,
	}
	if maxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return s
}

// Store returns the job record store.
func (s *Service) Store() history.Store { return s.store }

// Start runs job in the background without an observer.
func (s *Service) Start(ctx context.Context, job Job) error {
	if !s.enter() {
		return ErrShuttingDown
	}
	s.put(ctx, job, history.StatusQueued, nil)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, job, Discard)
	}()
	return nil
}

// Execute runs job to completion and reports progress to obs. It returns
// when the job has finished, even if obs failed early.
func (s *Service) Execute(ctx context.Context, job Job, obs Observer) pipeline.Outcome {
	if !s.enter() {
		o := s.canceled(job, ErrShuttingDown)
		_ = obs.Failed(o)
		return o
	}
	defer s.wg.Done()
	return s.execute(ctx, job, obs)
}

func (s *Service) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// jobContext keeps request values (request id) but not its cancellation;
// it ends only on Shutdown.
func (s *Service) jobContext(ctx context.Context, slug string) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(xglog.ContextWithJobID(context.WithoutCancel(ctx), slug))
	stop := context.AfterFunc(s.baseCtx, cancel)
	return jobCtx, func() {
		stop()
		cancel()
	}
}

func (s *Service) execute(ctx context.Context, job Job, obs Observer) pipeline.Outcome {
	ctx, cancel := s.jobContext(ctx, job.Slug)
	defer cancel()

	logger := xglog.WithContext(ctx, s.logger)
	n := &notifier{obs: obs, logger: logger}

	logger.Info().
		Str(xglog.FieldEvent, "job.accepted").
		Str("source", job.SourceName).
		Msg("job accepted")

	if err := s.admit(ctx, job, n); err != nil {
		o := s.canceled(job, err)
		s.finish(ctx, job, o, n)
		return o
	}
	defer s.release()

	s.put(ctx, job, history.StatusRunning, nil)
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	var outcome pipeline.Outcome
	for ev := range s.orch.Run(ctx, job.Slug, job.InputPath) {
		switch ev.Kind {
		case pipeline.EventStageStarted:
			n.status(StatusText(ev.Stage), relay.StateRunning)
		case pipeline.EventLine:
			n.line(ev.Line)
		case pipeline.EventOutcome:
			outcome = *ev.Outcome
		}
	}

	s.finish(ctx, job, outcome, n)
	return outcome
}

// admit blocks until a worker slot is free. Waiting observers get a status unit.
func (s *Service) admit(ctx context.Context, job Job, n *notifier) error {
	if s.sem == nil || s.sem.TryAcquire(1) {
		return nil
	}
	s.put(ctx, job, history.StatusQueued, nil)
	n.status(QueuedText, relay.StateQueued)

	begin := time.Now()
	err := s.sem.Acquire(ctx, 1)
	metrics.AdmissionWait.Observe(time.Since(begin).Seconds())
	return err
}

func (s *Service) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func (s *Service) canceled(job Job, err error) pipeline.Outcome {
	return pipeline.Outcome{
		Slug:     job.Slug,
		Status:   pipeline.StatusFailed,
		Reason:   pipeline.ReasonCanceled,
		Stage:    pipeline.StageSeparate,
		Command:  s.orch.Plan().Separate(job.InputPath, job.Slug),
		ExitCode: -1,
		Err:      err,
	}
}

// finish persists the terminal record before the observer is told, so a
// redirect always lands on a known job.
func (s *Service) finish(ctx context.Context, job Job, o pipeline.Outcome, n *notifier) {
	if o.Completed() {
		s.put(ctx, job, history.StatusCompleted, nil)
		metrics.RecordJob(string(o.Status), "", "")
		n.completed(job.Slug)
		return
	}
	s.put(ctx, job, history.StatusFailed, &o)
	metrics.RecordJob(string(o.Status), string(o.Stage), string(o.Reason))
	n.failed(o)
}

func (s *Service) put(ctx context.Context, job Job, status history.Status, o *pipeline.Outcome) {
	r := history.Record{
		Slug:       job.Slug,
		Title:      job.Title,
		SourceName: job.SourceName,
		Status:     status,
		UpdatedAt:  time.Now(),
	}
	if o != nil {
		r.FailedStage = string(o.Stage)
		r.FailedCommand = o.Command.String()
		r.ExitCode = o.ExitCode
		r.Reason = string(o.Reason)
	}
	// Record keeping must not outlive a stuck store.
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.Put(putCtx, r); err != nil {
		logger := xglog.WithContext(ctx, s.logger)
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "job.record_failed").
			Str(xglog.FieldStatus, string(status)).
			Msg("failed to persist job record")
	}
}

// Shutdown cancels running jobs and waits for them to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notifier forwards to the observer until its first error.
type notifier struct {
	obs    Observer
	logger zerolog.Logger
	gone   bool
}

func (n *notifier) deliver(fn func() error) {
	if n.gone {
		return
	}
	if err := fn(); err != nil {
		n.gone = true
		metrics.ObserverDisconnectsTotal.Inc()
		n.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "relay.observer_disconnected").
			Msg("observer disconnected, job continues")
	}
}

func (n *notifier) status(text string, st relay.State) {
	n.deliver(func() error { return n.obs.Status(text, st) })
}

func (n *notifier) line(text string) {
	n.deliver(func() error { return n.obs.Line(text) })
}

func (n *notifier) completed(slug string) {
	n.deliver(func() error { return n.obs.Completed(slug) })
}

func (n *notifier) failed(o pipeline.Outcome) {
	n.deliver(func() error { return n.obs.Failed(o) })
}
