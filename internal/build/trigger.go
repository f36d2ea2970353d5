// Package build turns pull requests, pushes and chat commands into buildbot
// work: the Trigger decides what to build and enqueues jobs, the Runner
// drains the queue over ssh.
package build

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/config"
	"github.com/itops/hub/internal/event"
	"github.com/itops/hub/internal/github"
	"github.com/itops/hub/internal/queue"
)

// rebuildPattern matches trusted chat commands like "rebuild repo:pr 12".
var rebuildPattern = regexp.MustCompile(`(?i)\brebuild ([a-zA-Z-]+):(?:pr ?)?(\d+)\b`)

// PullRequestAPI is the GitHub surface the trigger needs.
type PullRequestAPI interface {
	PullRequest(ctx context.Context, repo string, number int) (*github.PullRequest, error)
	PullRequestPatch(ctx context.Context, repo string, number int) (string, error)
}

// Trigger subscribes to domain events and enqueues build jobs.
type Trigger struct {
	bus    *bus.Bus
	queue  *queue.Queue
	api    PullRequestAPI
	cfg    config.BuildbotConfig
	logger *slog.Logger
}

func NewTrigger(b *bus.Bus, q *queue.Queue, api PullRequestAPI, cfg config.BuildbotConfig, logger *slog.Logger) *Trigger {
	t := &Trigger{bus: b, queue: q, api: api, cfg: cfg, logger: logger}
	bus.Subscribe(b, t.onPullRequest)
	bus.Subscribe(b, t.onPush)
	bus.Subscribe(b, t.onChatMessage)
	return t
}

// onPullRequest builds a PR when it is opened or gains commits.
func (t *Trigger) onPullRequest(ctx context.Context, ev *event.GitHubPullRequest) error {
	if ev.Action != "opened" && ev.Action != "synchronize" {
		return nil
	}
	t.bus.Publish(ctx, "internal", &event.Internal{
		Message: fmt.Sprintf("Rebuilding %s PR %d (via push)", ev.Repo, ev.Number),
	})
	return t.buildPullRequest(ctx, ev.Author, ev.TrustedAuthor, ev.Repo, ev.Number)
}

// onPush forwards every pushed commit to the buildbot change source.
func (t *Trigger) onPush(ctx context.Context, ev *event.GitHubPush) error {
	for _, commit := range ev.Commits {
		t.bus.Publish(ctx, "internal", &event.Internal{
			Message: fmt.Sprintf("Sending change %s to Buildbot", commit.ID),
		})

		payload, err := json.Marshal(queue.ChangeRequest{
			Author:      commit.Author,
			Repo:        ev.Repo,
			Branch:      ev.RefName,
			Revision:    commit.ID,
			Description: commit.Message,
			URL:         commit.URL,
		})
		if err != nil {
			return fmt.Errorf("marshal change request: %w", err)
		}

		if _, err := t.queue.Enqueue(ctx, queue.EnqueueRequest{
			Kind:        queue.KindChange,
			Repo:        ev.Repo,
			Payload:     payload,
			SubmittedBy: "github:push",
		}); err != nil {
			return fmt.Errorf("enqueue change for %s: %w", commit.ID, err)
		}
	}
	return nil
}

// onChatMessage handles the trusted "rebuild repo:pr N" command. Bare repo
// names get the configured owner prefix.
func (t *Trigger) onChatMessage(ctx context.Context, ev *event.ChatMessage) error {
	if !ev.Trusted {
		return nil
	}
	matches := rebuildPattern.FindStringSubmatch(ev.Text)
	if matches == nil {
		return nil
	}

	repo := matches[1]
	prNumber, err := strconv.Atoi(matches[2])
	if err != nil || prNumber == 0 {
		return nil
	}
	if !strings.Contains(repo, "/") && t.cfg.RepoOwner != "" {
		repo = t.cfg.RepoOwner + "/" + repo
	}

	t.bus.Publish(ctx, "internal", &event.Internal{
		Message: fmt.Sprintf("Rebuilding %s PR %d (via chat)", repo, prNumber),
	})
	// The chat command is reserved for trusted senders, so the trust gate
	// above is the only one.
	return t.buildPullRequest(ctx, ev.From, true, repo, prNumber)
}

// buildPullRequest fetches PR details and enqueues a try build. Refused
// builds surface as failure build events rather than errors.
func (t *Trigger) buildPullRequest(ctx context.Context, who string, trusted bool, repo string, prNumber int) error {
	pr, err := t.api.PullRequest(ctx, repo, prNumber)
	if err != nil {
		return fmt.Errorf("fetch PR %s#%d: %w", repo, prNumber, err)
	}

	if !trusted {
		t.bus.Publish(ctx, "builder", event.NewBuild("", "hub", repo, pr.HeadSHA, prNumber,
			event.BuildFailure, "PR not built (non-trusted user)"))
		return nil
	}
	if pr.Mergeable != nil && !*pr.Mergeable {
		t.bus.Publish(ctx, "builder", event.NewBuild("", "hub", repo, pr.HeadSHA, prNumber,
			event.BuildFailure, "PR not built (not mergeable)"))
		return nil
	}

	patch, err := t.api.PullRequestPatch(ctx, repo, prNumber)
	if err != nil {
		return fmt.Errorf("fetch patch for %s#%d: %w", repo, prNumber, err)
	}

	payload, err := json.Marshal(queue.TryRequest{
		Who:         fmt.Sprintf("Hub (for %s)", who),
		Repo:        repo,
		PR:          prNumber,
		BaseSHA:     pr.BaseSHA,
		HeadSHA:     pr.HeadSHA,
		Description: fmt.Sprintf("Auto build for PR %d", prNumber),
		Patch:       patch,
	})
	if err != nil {
		return fmt.Errorf("marshal try request: %w", err)
	}

	if _, err := t.queue.Enqueue(ctx, queue.EnqueueRequest{
		Kind:        queue.KindTry,
		Repo:        repo,
		Payload:     payload,
		SubmittedBy: "github:" + who,
	}); err != nil {
		return fmt.Errorf("enqueue try build for %s#%d: %w", repo, prNumber, err)
	}

	t.logger.Info("try build queued", "repo", repo, "pr", prNumber, "who", who)
	return nil
}
