// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/stemrelay/internal/stage"
)

type step struct {
	lines     []string
	exit      int
	launchErr error
	readErr   error
}

// fakeRunner plays back scripted steps keyed by the script argument.
type fakeRunner struct {
	mu    sync.Mutex
	steps map[string]step
	calls []stage.Command
}

type fakeProc struct {
	lines chan string
	res   stage.Result
}

func (p *fakeProc) Lines() <-chan string { return p.lines }
func (p *fakeProc) Wait() stage.Result {
	for range p.lines {
	}
	return p.res
}
func (p *fakeProc) PID() int { return 1 }

func (r *fakeRunner) Start(_ context.Context, cmd stage.Command) (stage.Process, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	s := r.steps[cmd.Args[0]]
	if s.launchErr != nil {
		return nil, &stage.LaunchError{Command: cmd, Err: s.launchErr}
	}
	ch := make(chan string, len(s.lines))
	for _, l := range s.lines {
		ch <- l
	}
	close(ch)
	return &fakeProc{lines: ch, res: stage.Result{Command: cmd, ExitCode: s.exit, Err: s.readErr}}, nil
}

func (r *fakeRunner) Calls() []stage.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stage.Command(nil), r.calls...)
}

var testPlan = Plan{
	Shell:          "bash",
	ProjectRoot:    "/srv/demucs",
	SeparateScript: "scripts/demucs_one.sh",
	RemixScript:    "scripts/mix_instrumental_from_stems.sh",
}

func drain(t *testing.T, ch <-chan Event) ([]string, Outcome) {
	t.Helper()
	var trace []string
	var outcome *Outcome
	for ev := range ch {
		require.Nil(t, outcome, "no event may follow the outcome")
		switch ev.Kind {
		case EventStageStarted:
			trace = append(trace, "start "+string(ev.Stage))
		case EventLine:
			trace = append(trace, string(ev.Stage)+": "+ev.Line)
		case EventOutcome:
			outcome = ev.Outcome
		}
	}
	require.NotNil(t, outcome)
	return trace, *outcome
}

func newTestOrchestrator(r stage.Runner, opts ...Option) *Orchestrator {
	return NewOrchestrator(r, testPlan, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func TestRunCompleted(t *testing.T) {
	r := &fakeRunner{steps: map[string]step{
		testPlan.SeparateScript: {lines: []string{"a", "b"}},
		testPlan.RemixScript:    {lines: []string{"c"}},
	}}

	trace, outcome := drain(t, newTestOrchestrator(r).Run(context.Background(), "song-abc123", "/in/song.wav"))

	want := []string{"start separate", "separate: a", "separate: b", "start remix", "remix: c"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("event trace mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, outcome.Completed())
	assert.Equal(t, "song-abc123", outcome.Slug)
	assert.Empty(t, outcome.Message())

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"bash", "scripts/demucs_one.sh", "/in/song.wav", "song-abc123"}, calls[0].Argv())
	assert.Equal(t, []string{"bash", "scripts/mix_instrumental_from_stems.sh", "song-abc123"}, calls[1].Argv())
	assert.Equal(t, "/srv/demucs", calls[0].Dir)
	assert.Equal(t, "/srv/demucs", calls[1].Dir)
}

func TestRunSeparateFailureSkipsRemix(t *testing.T) {
	r := &fakeRunner{steps: map[string]step{
		testPlan.SeparateScript: {lines: []string{"boom"}, exit: 1},
		testPlan.RemixScript:    {lines: []string{"never"}},
	}}

	trace, outcome := drain(t, newTestOrchestrator(r).Run(context.Background(), "x-000000", "/in/x.wav"))

	assert.Equal(t, []string{"start separate", "separate: boom"}, trace)
	require.Len(t, r.Calls(), 1, "remix must not run after a failed separation")
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, ReasonNonZeroExit, outcome.Reason)
	assert.Equal(t, StageSeparate, outcome.Stage)
	assert.Equal(t, 1, outcome.ExitCode)
	assert.Equal(t, testPlan.Separate("/in/x.wav", "x-000000"), outcome.Command)
	assert.Equal(t, "command failed: bash scripts/demucs_one.sh /in/x.wav x-000000 (exit code 1)", outcome.Message())
}

func TestRunRemixFailureNamesRemixCommand(t *testing.T) {
	r := &fakeRunner{steps: map[string]step{
		testPlan.SeparateScript: {lines: []string{"ok"}},
		testPlan.RemixScript:    {exit: 2},
	}}

	_, outcome := drain(t, newTestOrchestrator(r).Run(context.Background(), "x-000000", "/in/x.wav"))

	require.Len(t, r.Calls(), 2)
	assert.Equal(t, StageRemix, outcome.Stage)
	assert.Equal(t, ReasonNonZeroExit, outcome.Reason)
	assert.Equal(t, 2, outcome.ExitCode)
	assert.Equal(t, testPlan.Remix("x-000000"), outcome.Command)
}

func TestRunOutputErrorWithCleanExit(t *testing.T) {
	readErr := errors.New("read |0: input/output error")
	r := &fakeRunner{steps: map[string]step{
		testPlan.SeparateScript: {lines: []string{"partial"}, readErr: readErr},
		testPlan.RemixScript:    {lines: []string{"never"}},
	}}

	trace, outcome := drain(t, newTestOrchestrator(r).Run(context.Background(), "x-000000", "/in/x.wav"))

	assert.Equal(t, []string{"start separate", "separate: partial"}, trace)
	require.Len(t, r.Calls(), 1)
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, ReasonOutputError, outcome.Reason)
	assert.Equal(t, StageSeparate, outcome.Stage)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.ErrorIs(t, outcome.Err, readErr)
	assert.Equal(t,
		"command failed: bash scripts/demucs_one.sh /in/x.wav x-000000 (stage output could not be read: read |0: input/output error)",
		outcome.Message())
	assert.NotContains(t, outcome.Message(), "exit code")
}

func TestRunLaunchFailure(t *testing.T) {
	r := &fakeRunner{steps: map[string]step{
		testPlan.SeparateScript: {launchErr: os.ErrNotExist},
	}}

	trace, outcome := drain(t, newTestOrchestrator(r).Run(context.Background(), "x-000000", "/in/x.wav"))

	assert.Equal(t, []string{"start separate"}, trace)
	assert.Equal(t, ReasonLaunchFailure, outcome.Reason)
	assert.Equal(t, StageSeparate, outcome.Stage)
	assert.Equal(t, -1, outcome.ExitCode)
	assert.True(t, errors.Is(outcome.Err, stage.ErrLaunchFailure))
	assert.Contains(t, outcome.Message(), "launch failure")
	assert.Len(t, r.Calls(), 1)
}

func TestRunCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRunner{steps: map[string]step{}}

	trace, outcome := drain(t, newTestOrchestrator(r).Run(ctx, "x-000000", "/in/x.wav"))

	assert.Empty(t, trace)
	assert.Empty(t, r.Calls())
	assert.Equal(t, ReasonCanceled, outcome.Reason)
	assert.Equal(t, StageSeparate, outcome.Stage)
}

func TestRunSmallEventBuffer(t *testing.T) {
	lines := make([]string, 200)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	r := &fakeRunner{steps: map[string]step{
		testPlan.SeparateScript: {lines: lines},
		testPlan.RemixScript:    {},
	}}

	trace, outcome := drain(t, newTestOrchestrator(r, WithEventBuffer(1)).Run(context.Background(), "x-000000", "/in/x.wav"))
	assert.True(t, outcome.Completed())
	require.Len(t, trace, 202)
	assert.Equal(t, "separate: line 199", trace[200])
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.Dir(name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
}

func TestRunWithExecRunner(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	root := t.TempDir()
	writeScript(t, root, "sep.sh", "echo \"separating $1 as $2\"\necho progress >&2\nmkdir -p out/$2\n")
	writeScript(t, root, "mix.sh", "test -d out/$1 || exit 7\necho mixed\n")

	plan := Plan{Shell: "/bin/sh", ProjectRoot: root, SeparateScript: "sep.sh", RemixScript: "mix.sh"}
	require.NoError(t, plan.Check())

	runner := stage.NewExecRunner()
	runner.Logger = zerolog.Nop()
	o := NewOrchestrator(runner, plan, WithLogger(zerolog.Nop()))

	trace, outcome := drain(t, o.Run(context.Background(), "s-abcdef", "in.wav"))
	assert.Equal(t, []string{
		"start separate",
		"separate: separating in.wav as s-abcdef",
		"separate: progress",
		"start remix",
		"remix: mixed",
	}, trace)
	assert.True(t, outcome.Completed())
}

func TestRunStageDeadline(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "sep.sh", "echo working\nsleep 30\n")
	writeScript(t, root, "mix.sh", "echo unreachable\n")

	runner := stage.NewExecRunner()
	runner.Logger = zerolog.Nop()
	runner.KillGrace = 200 * time.Millisecond
	plan := Plan{Shell: "/bin/sh", ProjectRoot: root, SeparateScript: "sep.sh", RemixScript: "mix.sh"}
	o := NewOrchestrator(runner, plan, WithLogger(zerolog.Nop()), WithStageTimeout(200*time.Millisecond))

	trace, outcome := drain(t, o.Run(context.Background(), "s-abcdef", "in.wav"))
	assert.Equal(t, []string{"start separate", "separate: working"}, trace)
	assert.Equal(t, ReasonDeadline, outcome.Reason)
	assert.Equal(t, StageSeparate, outcome.Stage)
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
}

func TestPlanCheck(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "scripts/sep.sh", "true\n")

	plan := Plan{Shell: "bash", ProjectRoot: root, SeparateScript: "scripts/sep.sh", RemixScript: "scripts/mix.sh"}
	err := plan.Check()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScriptMissing)
	assert.Contains(t, err.Error(), "mix.sh")
	assert.NotContains(t, err.Error(), "sep.sh")

	writeScript(t, root, "scripts/mix.sh", "true\n")
	assert.NoError(t, plan.Check())
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "line", EventLine.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
