// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package stage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRunner() *ExecRunner {
	r := NewExecRunner()
	r.Logger = zerolog.Nop()
	r.KillGrace = 500 * time.Millisecond
	return r
}

func sh(script string) Command {
	return Command{Name: "/bin/sh", Args: []string{"-c", script}}
}

func collect(t *testing.T, p Process) ([]string, Result) {
	t.Helper()
	var lines []string
	for l := range p.Lines() {
		lines = append(lines, l)
	}
	return lines, p.Wait()
}

func TestRunnerMergedOutputInOrder(t *testing.T) {
	p, err := newTestRunner().Start(context.Background(), sh("echo a; echo b >&2; echo c"))
	require.NoError(t, err)

	lines, res := collect(t, p)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
	assert.True(t, res.Success())
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunnerNonZeroExit(t *testing.T) {
	p, err := newTestRunner().Start(context.Background(), sh("echo failing; exit 3"))
	require.NoError(t, err)

	lines, res := collect(t, p)
	assert.Equal(t, []string{"failing"}, lines)
	assert.False(t, res.Success())
	assert.Equal(t, 3, res.ExitCode)
	assert.NoError(t, res.Err, "a non-zero exit is a result, not an error")
	assert.Equal(t, "/bin/sh", res.Command.Name)
}

func TestRunnerLaunchFailure(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"missing binary", Command{Name: "/nonexistent/stemrelay-tool"}},
		{"missing dir", Command{Name: "/bin/sh", Args: []string{"-c", "true"}, Dir: "/nonexistent/dir"}},
		{"empty name", Command{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newTestRunner().Start(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, errors.Is(err, ErrLaunchFailure))

			var le *LaunchError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.cmd.Name, le.Command.Name)
		})
	}
}

func TestRunnerCarriageReturnProgress(t *testing.T) {
	p, err := newTestRunner().Start(context.Background(), sh(`printf '10%%\r50%%\r100%%\r\ndone\n'`))
	require.NoError(t, err)

	lines, res := collect(t, p)
	assert.Equal(t, []string{"10%", "50%", "100%", "done"}, lines)
	assert.True(t, res.Success())
}

func TestRunnerTrailingPartialLine(t *testing.T) {
	p, err := newTestRunner().Start(context.Background(), sh(`printf 'first\nlast'`))
	require.NoError(t, err)

	lines, _ := collect(t, p)
	assert.Equal(t, []string{"first", "last"}, lines)
}

func TestRunnerInvalidUTF8(t *testing.T) {
	p, err := newTestRunner().Start(context.Background(), sh(`printf '\377ok\n'`))
	require.NoError(t, err)

	lines, _ := collect(t, p)
	require.Len(t, lines, 1)
	assert.Equal(t, "\uFFFDok", lines[0])
}

func TestRunnerWorkingDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	cmd := sh(`pwd; echo "$STEMRELAY_TEST"`)
	cmd.Dir = dir
	cmd.Env = []string{"STEMRELAY_TEST=value"}

	p, err := newTestRunner().Start(context.Background(), cmd)
	require.NoError(t, err)
	lines, _ := collect(t, p)
	require.Len(t, lines, 2)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(lines[0])
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "value", lines[1])
}

func TestRunnerWaitDrainsUnreadLines(t *testing.T) {
	r := newTestRunner()
	r.LineBuffer = 1
	p, err := r.Start(context.Background(), sh(`i=0; while [ $i -lt 500 ]; do echo $i; i=$((i+1)); done`))
	require.NoError(t, err)

	res := p.Wait()
	assert.True(t, res.Success())
}

func TestRunnerDeadlineTerminatesGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	begin := time.Now()
	p, err := newTestRunner().Start(ctx, sh("echo started; sleep 30 & sleep 30"))
	require.NoError(t, err)

	lines, res := collect(t, p)
	assert.Equal(t, []string{"started"}, lines)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Canceled)
	assert.False(t, res.Success())
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(begin), 10*time.Second)
}

func TestRunnerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := newTestRunner().Start(ctx, sh("echo ready; sleep 30"))
	require.NoError(t, err)

	assert.Equal(t, "ready", <-p.Lines())
	cancel()

	_, res := collect(t, p)
	assert.True(t, res.Canceled)
	assert.False(t, res.Success())
}

func TestRunnerLongLineTruncated(t *testing.T) {
	r := newTestRunner()
	r.MaxLineBytes = 8
	p, err := r.Start(context.Background(), sh(`printf '0123456789abc\nnext\n'`))
	require.NoError(t, err)

	lines, res := collect(t, p)
	assert.Equal(t, []string{"01234567", "next"}, lines)
	assert.True(t, res.Success())
}

func TestSplitterStreamingLongLine(t *testing.T) {
	in := "0123456789abc\nnext\rlast"
	sc := newLineScanner(iotest.OneByteReader(strings.NewReader(in)), 8)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"01234567", "next", "last"}, got)
}

func TestSplitterCRLFAcrossReads(t *testing.T) {
	sc := newLineScanner(iotest.OneByteReader(strings.NewReader("a\r\nb\r\rc\n")), 64)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	assert.Equal(t, []string{"a", "b", "", "c"}, got)
}

func TestReadLinesClosesOnError(t *testing.T) {
	out := make(chan string, 4)
	r := iotest.TimeoutReader(bufio.NewReader(strings.NewReader("one\ntwo\n")))
	err := readLines(r, out, 64)

	var got []string
	for l := range out {
		got = append(got, l)
	}
	// TimeoutReader fails the second read; the first line still arrives.
	assert.ErrorIs(t, err, iotest.ErrTimeout)
	assert.NotEmpty(t, got)
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "bash", Args: []string{"scripts/demucs_one.sh", "/data/My Song.wav", "my-song-abc123"}}
	assert.Equal(t, `bash scripts/demucs_one.sh "/data/My Song.wav" my-song-abc123`, c.String())
	assert.Equal(t, []string{"bash", "scripts/demucs_one.sh", "/data/My Song.wav", "my-song-abc123"}, c.Argv())
}

func TestResultSuccess(t *testing.T) {
	assert.True(t, Result{}.Success())
	assert.False(t, Result{ExitCode: 1}.Success())
	assert.False(t, Result{TimedOut: true}.Success())
	assert.False(t, Result{Err: os.ErrClosed}.Success())
}
