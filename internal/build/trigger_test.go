package build

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/config"
	"github.com/itops/hub/internal/event"
	"github.com/itops/hub/internal/github"
	"github.com/itops/hub/internal/queue"
	"github.com/itops/hub/internal/storage"
)

type fakeAPI struct {
	pr       *github.PullRequest
	prErr    error
	patch    string
	patchErr error
}

func (f *fakeAPI) PullRequest(ctx context.Context, repo string, number int) (*github.PullRequest, error) {
	return f.pr, f.prErr
}

func (f *fakeAPI) PullRequestPatch(ctx context.Context, repo string, number int) (string, error) {
	return f.patch, f.patchErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return queue.New(db)
}

func triggerConfig() config.BuildbotConfig {
	return config.BuildbotConfig{
		SSHDest:       "hub@build.example.com",
		JobDir:        "/srv/jobdirs",
		BuildbotBin:   "buildbot",
		PrimaryBranch: "master",
		RepoOwner:     "acme",
	}
}

// capture registers a collector on the bus and returns the slice it fills.
func capture[T event.Event](b *bus.Bus) *[]T {
	var out []T
	bus.Subscribe(b, func(ctx context.Context, ev T) error {
		out = append(out, ev)
		return nil
	})
	return &out
}

func prEvent(action string, trusted bool) *event.GitHubPullRequest {
	return &event.GitHubPullRequest{
		Repo:          "acme/repo",
		Number:        7,
		Title:         "Add feature",
		Author:        "alice",
		Action:        action,
		HeadSHA:       "head-sha",
		BaseSHA:       "base-sha",
		TrustedAuthor: trusted,
	}
}

func mergeable(v bool) *bool { return &v }

func TestTriggerEnqueuesTryBuild(t *testing.T) {
	b := bus.New(quietLogger())
	q := newTestQueue(t)
	api := &fakeAPI{
		pr:    &github.PullRequest{Number: 7, BaseSHA: "base-sha", HeadSHA: "head-sha", Mergeable: mergeable(true)},
		patch: "diff --git a/x b/x\n",
	}
	NewTrigger(b, q, api, triggerConfig(), quietLogger())
	fails := capture[*event.Build](b)

	b.Publish(context.Background(), "github", prEvent("opened", true))

	assert.Empty(t, *fails)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, queue.KindTry, job.Kind)

	var req queue.TryRequest
	require.NoError(t, json.Unmarshal(job.Payload, &req))
	assert.Equal(t, "Hub (for alice)", req.Who)
	assert.Equal(t, 7, req.PR)
	assert.Equal(t, "base-sha", req.BaseSHA)
	assert.Equal(t, "head-sha", req.HeadSHA)
	assert.Equal(t, "Auto build for PR 7", req.Description)
	assert.Contains(t, req.Patch, "diff --git")
}

func TestTriggerRefusals(t *testing.T) {
	tests := []struct {
		name     string
		ev       *event.GitHubPullRequest
		pr       *github.PullRequest
		wantDesc string
	}{
		{
			"untrusted author",
			prEvent("opened", false),
			&github.PullRequest{HeadSHA: "head-sha", Mergeable: mergeable(true)},
			"PR not built (non-trusted user)",
		},
		{
			"not mergeable",
			prEvent("synchronize", true),
			&github.PullRequest{HeadSHA: "head-sha", Mergeable: mergeable(false)},
			"PR not built (not mergeable)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New(quietLogger())
			q := newTestQueue(t)
			NewTrigger(b, q, &fakeAPI{pr: tt.pr, patch: "x"}, triggerConfig(), quietLogger())
			builds := capture[*event.Build](b)

			b.Publish(context.Background(), "github", tt.ev)

			require.Len(t, *builds, 1)
			got := (*builds)[0]
			assert.Equal(t, event.BuildFailure, got.State)
			assert.Equal(t, tt.wantDesc, got.Description)
			assert.Equal(t, "builder", got.Source)

			job, err := q.Dequeue(context.Background())
			require.NoError(t, err)
			assert.Nil(t, job, "refused builds must not reach the queue")
		})
	}
}

func TestTriggerIgnoresOtherPRActions(t *testing.T) {
	b := bus.New(quietLogger())
	q := newTestQueue(t)
	NewTrigger(b, q, &fakeAPI{prErr: fmt.Errorf("must not be called")}, triggerConfig(), quietLogger())

	b.Publish(context.Background(), "github", prEvent("closed", true))

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestTriggerSendsChangePerCommit(t *testing.T) {
	b := bus.New(quietLogger())
	q := newTestQueue(t)
	NewTrigger(b, q, &fakeAPI{}, triggerConfig(), quietLogger())

	b.Publish(context.Background(), "github", &event.GitHubPush{
		Repo:    "acme/repo",
		RefName: "master",
		Commits: []event.PushCommit{
			{ID: "c1", Message: "first\nbody", URL: "https://github.com/acme/repo/commit/c1", Author: "Alice"},
			{ID: "c2", Message: "second", URL: "https://github.com/acme/repo/commit/c2", Author: "Bob"},
		},
	})

	for _, wantRev := range []string{"c1", "c2"} {
		job, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, queue.KindChange, job.Kind)

		var req queue.ChangeRequest
		require.NoError(t, json.Unmarshal(job.Payload, &req))
		assert.Equal(t, wantRev, req.Revision)
		assert.Equal(t, "master", req.Branch)
	}
}

func TestTriggerChatRebuild(t *testing.T) {
	tests := []struct {
		name      string
		msg       *event.ChatMessage
		wantBuild bool
	}{
		{"trusted rebuild", &event.ChatMessage{From: "alice", Text: "please rebuild repo:pr 7", Trusted: true}, true},
		{"bare pr number", &event.ChatMessage{From: "alice", Text: "rebuild repo:7", Trusted: true}, true},
		{"untrusted ignored", &event.ChatMessage{From: "mallory", Text: "rebuild repo:pr 7", Trusted: false}, false},
		{"no command", &event.ChatMessage{From: "alice", Text: "good morning", Trusted: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New(quietLogger())
			q := newTestQueue(t)
			api := &fakeAPI{
				pr:    &github.PullRequest{BaseSHA: "b", HeadSHA: "h", Mergeable: mergeable(true)},
				patch: "diff",
			}
			NewTrigger(b, q, api, triggerConfig(), quietLogger())

			b.Publish(context.Background(), "http", tt.msg)

			job, err := q.Dequeue(context.Background())
			require.NoError(t, err)
			if !tt.wantBuild {
				assert.Nil(t, job)
				return
			}
			require.NotNil(t, job)
			assert.Equal(t, "acme/repo", job.Repo, "bare repo names get the owner prefix")
		})
	}
}
