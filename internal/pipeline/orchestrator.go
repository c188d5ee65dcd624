// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline runs the two-stage separate → remix pipeline for one job
// and reports its progress as a stream of events.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xglog "github.com/ManuGH/stemrelay/internal/log"
	"github.com/ManuGH/stemrelay/internal/metrics"
	"github.com/ManuGH/stemrelay/internal/stage"
	"github.com/ManuGH/stemrelay/internal/telemetry"
)

// DefaultEventBuffer bounds the events queued ahead of a slow consumer.
const DefaultEventBuffer = 64

// Orchestrator sequences the stages of a job. Stages never overlap and the
// remix stage only runs after a successful separation.
type Orchestrator struct {
	runner       stage.Runner
	plan         Plan
	stageTimeout time.Duration
	eventBuffer  int
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStageTimeout bounds each stage; zero disables the deadline.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator builds an orchestrator for plan using runner.
func NewOrchestrator(runner stage.Runner, plan Plan, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:      runner,
		plan:        plan,
		eventBuffer: DefaultEventBuffer,
		logger:      xglog.WithComponent("pipeline"),
		tracer:      telemetry.Tracer("stemrelay/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Plan returns the command plan.
func (o *Orchestrator) Plan() Plan { return o.plan }

// Run starts the pipeline for slug on input. The returned channel must be
// drained until it is closed; the last event is always the Outcome.
// Cancelling ctx terminates the running stage.
func (o *Orchestrator) Run(ctx context.Context, slug, input string) <-chan Event {
	out := make(chan Event, o.eventBuffer)
	go func() {
		defer close(out)
		outcome := o.run(ctx, slug, input, out)
		out <- Event{Kind: EventOutcome, Stage: outcome.Stage, Outcome: &outcome}
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, slug, input string, out chan<- Event) Outcome {
	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(telemetry.JobAttributes(slug, "")...))
	defer span.End()

	logger := xglog.WithContext(ctx, o.logger)
	begin := time.Now()

	stages := []struct {
		name StageName
		cmd  stage.Command
	}{
		{StageSeparate, o.plan.Separate(input, slug)},
		{StageRemix, o.plan.Remix(slug)},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return o.finish(span, logger, failure(slug, s.name, s.cmd, ReasonCanceled, -1, err), begin)
		}
		if failed := o.runStage(ctx, slug, s.name, s.cmd, out); failed != nil {
			return o.finish(span, logger, *failed, begin)
		}
	}

	return o.finish(span, logger, Outcome{Slug: slug, Status: StatusCompleted}, begin)
}

// runStage runs one stage to completion and returns a failed outcome, or nil on success.
func (o *Orchestrator) runStage(ctx context.Context, slug string, name StageName, cmd stage.Command, out chan<- Event) *Outcome {
	ctx, span := o.tracer.Start(ctx, "pipeline.stage."+string(name),
		trace.WithAttributes(telemetry.StageAttributes(string(name), cmd.String())...))
	defer span.End()

	logger := xglog.WithContext(ctx, o.logger).With().Str(xglog.FieldStage, string(name)).Logger()

	stageCtx := ctx
	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}

	out <- Event{Kind: EventStageStarted, Stage: name, Command: cmd}
	logger.Info().
		Str(xglog.FieldEvent, "stage.started").
		Str(xglog.FieldCommand, cmd.String()).
		Msg("stage started")

	begin := time.Now()
	proc, err := o.runner.Start(stageCtx, cmd)
	if err != nil {
		metrics.ObserveStage(string(name), "launch_failure", time.Since(begin))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ReasonLaunchFailure))
		f := failure(slug, name, cmd, ReasonLaunchFailure, -1, err)
		return &f
	}

	lineCounter := metrics.StageLinesTotal.WithLabelValues(string(name))
	lines := 0
	for line := range proc.Lines() {
		lines++
		lineCounter.Inc()
		out <- Event{Kind: EventLine, Stage: name, Line: line}
	}
	res := proc.Wait()

	span.SetAttributes(telemetry.StageResultAttributes(res.ExitCode, lines, res.TimedOut)...)
	logger.Info().
		Str(xglog.FieldEvent, "stage.exit").
		Int(xglog.FieldExitCode, res.ExitCode).
		Int("lines", lines).
		Dur(xglog.FieldDuration, res.Duration).
		Msg("stage finished")

	if res.Success() {
		metrics.ObserveStage(string(name), "success", res.Duration)
		return nil
	}

	var reason Reason
	switch {
	case res.TimedOut:
		reason = ReasonDeadline
	case res.Canceled:
		reason = ReasonCanceled
	case res.ExitCode == 0 && res.Err != nil:
		reason = ReasonOutputError
	default:
		reason = ReasonNonZeroExit
	}
	metrics.ObserveStage(string(name), "failure", res.Duration)
	span.SetStatus(codes.Error, string(reason))
	f := failure(slug, name, cmd, reason, res.ExitCode, res.Err)
	if res.TimedOut && f.Err == nil {
		f.Err = context.DeadlineExceeded
	}
	return &f
}

func failure(slug string, name StageName, cmd stage.Command, reason Reason, code int, err error) Outcome {
	return Outcome{
		Slug:     slug,
		Status:   StatusFailed,
		Reason:   reason,
		Stage:    name,
		Command:  cmd,
		ExitCode: code,
		Err:      err,
	}
}

func (o *Orchestrator) finish(span trace.Span, logger zerolog.Logger, out Outcome, begin time.Time) Outcome {
	out.Duration = time.Since(begin)
	span.SetAttributes(telemetry.JobAttributes(out.Slug, string(out.Status))...)

	if out.Completed() {
		logger.Info().
			Str(xglog.FieldEvent, "pipeline.completed").
			Dur(xglog.FieldDuration, out.Duration).
			Msg("pipeline completed")
		return out
	}

	span.SetStatus(codes.Error, string(out.Reason))
	ev := logger.Warn()
	if out.Err != nil && !errors.Is(out.Err, context.Canceled) {
		ev = ev.Err(out.Err)
	}
	ev.Str(xglog.FieldEvent, "pipeline.failed").
		Str(xglog.FieldStage, string(out.Stage)).
		Str(xglog.FieldReason, string(out.Reason)).
		Str(xglog.FieldCommand, out.Command.String()).
		Int(xglog.FieldExitCode, out.ExitCode).
		Msg("pipeline failed")
	return out
}
