package build

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/event"
	"github.com/itops/hub/internal/queue"
)

type fakeExec struct {
	calls   [][]string
	failOn  string // command name that should fail, "" for none
	failErr error
}

func (f *fakeExec) run(ctx context.Context, timeout time.Duration, logger *slog.Logger, name string, args []string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.failOn == name {
		err := f.failErr
		if err == nil {
			err = fmt.Errorf("%s exited with status 1", name)
		}
		return "stderr output", err
	}
	return "", nil
}

func newTestRunner(t *testing.T, b *bus.Bus, q *queue.Queue, fe *fakeExec) *Runner {
	t.Helper()
	r := NewRunner(q, b, triggerConfig(), quietLogger())
	r.run = fe.run
	r.tmpDir = t.TempDir()
	return r
}

func enqueueTry(t *testing.T, q *queue.Queue) {
	t.Helper()
	payload, err := json.Marshal(queue.TryRequest{
		Who:         "Hub (for alice)",
		Repo:        "acme/repo",
		PR:          7,
		BaseSHA:     "base-sha",
		HeadSHA:     "head-sha",
		Description: "Auto build for PR 7",
		Patch:       "diff --git a/x b/x\n",
	})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), queue.EnqueueRequest{
		Kind: queue.KindTry, Repo: "acme/repo", Payload: payload, SubmittedBy: "github:alice",
	})
	require.NoError(t, err)
}

func TestRunnerTryBuildSuccess(t *testing.T) {
	b := bus.New(quietLogger())
	q := newTestQueue(t)
	fe := &fakeExec{}
	r := newTestRunner(t, b, q, fe)
	builds := capture[*event.Build](b)

	enqueueTry(t, q)
	require.NoError(t, r.processNextJob(context.Background()))

	// First the diff is copied, then the try build is submitted.
	require.Len(t, fe.calls, 2)
	assert.Equal(t, "scp", fe.calls[0][0])
	assert.Equal(t, "ssh", fe.calls[1][0])

	sshArgs := strings.Join(fe.calls[1], " ")
	assert.Contains(t, sshArgs, "hub@build.example.com buildbot try")
	assert.Contains(t, sshArgs, "--jobdir=/srv/jobdirs/acme/repo")
	assert.Contains(t, sshArgs, "--who='Hub (for alice)'")
	assert.Contains(t, sshArgs, "--baserev=base-sha")
	assert.Contains(t, sshArgs, "--property=head_rev=head-sha")
	assert.Contains(t, sshArgs, "--property=pr_number=7")
	assert.Contains(t, sshArgs, "--patchlevel=1")

	require.Len(t, *builds, 1)
	got := (*builds)[0]
	assert.Equal(t, event.BuildSuccess, got.State)
	assert.Equal(t, "Sent build requests to Buildbot", got.Description)
	assert.Equal(t, "https://github.com/acme/repo/pull/7", got.PRURL)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestRunnerTryBuildFailurePublishesFailure(t *testing.T) {
	b := bus.New(quietLogger())
	q := newTestQueue(t)
	fe := &fakeExec{failOn: "ssh"}
	r := newTestRunner(t, b, q, fe)
	builds := capture[*event.Build](b)

	enqueueTry(t, q)
	require.NoError(t, r.processNextJob(context.Background()))

	require.Len(t, *builds, 1)
	assert.Equal(t, event.BuildFailure, (*builds)[0].State)
	assert.Equal(t, "Sending build request failed", (*builds)[0].Description)
}

func TestRunnerChangeJob(t *testing.T) {
	b := bus.New(quietLogger())
	q := newTestQueue(t)
	fe := &fakeExec{}
	r := newTestRunner(t, b, q, fe)
	builds := capture[*event.Build](b)

	payload, err := json.Marshal(queue.ChangeRequest{
		Author:      "Alice",
		Repo:        "acme/repo",
		Branch:      "master",
		Revision:    "c1",
		Description: "fix the thing\nlonger body",
		URL:         "https://github.com/acme/repo/commit/c1",
	})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), queue.EnqueueRequest{
		Kind: queue.KindChange, Repo: "acme/repo", Payload: payload, SubmittedBy: "github:push",
	})
	require.NoError(t, err)

	require.NoError(t, r.processNextJob(context.Background()))

	require.Len(t, fe.calls, 1)
	args := strings.Join(fe.calls[0], " ")
	assert.Contains(t, args, "ssh hub@build.example.com ./git-changes/send-buildbot-change")
	assert.Contains(t, args, "--vc=git")
	assert.Contains(t, args, "--revision='c1'")
	assert.Contains(t, args, "--branch='master'")
	// Comments only carry the first line of the message.
	assert.Contains(t, args, "--comments='fix the thing'")

	assert.Empty(t, *builds, "change jobs publish no build outcome")
}

func TestRunnerEmptyQueue(t *testing.T) {
	b := bus.New(quietLogger())
	q := newTestQueue(t)
	fe := &fakeExec{}
	r := newTestRunner(t, b, q, fe)

	require.NoError(t, r.processNextJob(context.Background()))
	assert.Empty(t, fe.calls)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'a; rm -rf /'", shellQuote("a; rm -rf /"))
}
