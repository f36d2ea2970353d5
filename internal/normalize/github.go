// Package normalize converts raw hook events from each external source into
// the closed set of domain events. Normalizers are pure translations: no
// network calls, trust lookups resolved against the pre-populated trust set.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/event"
	"github.com/itops/hub/internal/trust"
)

// GitHub translates GitHub webhook deliveries. One raw event yields exactly
// one domain event (occasionally none); an unrecognized event name yields an
// Internal diagnostic, never an error.
type GitHub struct {
	bus    *bus.Bus
	trust  *trust.Set
	logger *slog.Logger
}

func NewGitHub(b *bus.Bus, trustSet *trust.Set, logger *slog.Logger) *GitHub {
	g := &GitHub{bus: b, trust: trustSet, logger: logger}
	bus.Subscribe(b, g.handle)
	return g
}

const githubSource = "github"

func (g *GitHub) handle(ctx context.Context, raw *event.GitHubRawHook) error {
	switch raw.Event {
	case "push":
		return g.push(ctx, raw.Payload)
	case "pull_request":
		return g.pullRequest(ctx, raw.Payload)
	case "pull_request_review":
		return g.review(ctx, raw.Payload)
	case "pull_request_review_comment":
		return g.reviewComment(ctx, raw.Payload)
	case "commit_comment":
		return g.commitComment(ctx, raw.Payload)
	case "issues":
		return g.issue(ctx, raw.Payload)
	case "issue_comment":
		return g.issueComment(ctx, raw.Payload)
	case "membership":
		return g.membership(ctx, raw.Payload)
	case "ping":
		var p struct {
			Zen string `json:"zen"`
		}
		_ = json.Unmarshal(raw.Payload, &p)
		g.bus.Publish(ctx, githubSource, &event.Internal{Message: "GitHub ping: " + p.Zen})
		return nil
	default:
		message := "Received unexpected GitHub event: " + raw.Event
		g.logger.Warn(message, "delivery", raw.Delivery)
		g.bus.Publish(ctx, githubSource, &event.Internal{Message: message})
		return nil
	}
}

func (g *GitHub) push(ctx context.Context, payload json.RawMessage) error {
	var p struct {
		Ref        string `json:"ref"`
		Created    bool   `json:"created"`
		Deleted    bool   `json:"deleted"`
		Forced     bool   `json:"forced"`
		Compare    string `json:"compare"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		Pusher struct {
			Name string `json:"name"`
		} `json:"pusher"`
		Commits []struct {
			ID      string `json:"id"`
			Message string `json:"message"`
			URL     string `json:"url"`
			Author  struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parse push payload: %w", err)
	}

	refType, refName := splitRef(p.Ref)
	commits := make([]event.PushCommit, 0, len(p.Commits))
	for _, c := range p.Commits {
		commits = append(commits, event.PushCommit{
			ID:      c.ID,
			Message: c.Message,
			URL:     c.URL,
			Author:  c.Author.Name,
		})
	}

	g.bus.Publish(ctx, githubSource, &event.GitHubPush{
		Repo:       p.Repository.FullName,
		Ref:        p.Ref,
		RefType:    refType,
		RefName:    refName,
		Created:    p.Created,
		Deleted:    p.Deleted,
		Forced:     p.Forced,
		Pusher:     p.Pusher.Name,
		CompareURL: p.Compare,
		Commits:    commits,
	})
	return nil
}

// splitRef decomposes "refs/heads/main" into ("heads", "main"). Branch names
// may contain slashes, so only the first two segments are stripped.
func splitRef(ref string) (refType, refName string) {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) != 3 || parts[0] != "refs" {
		return "", ref
	}
	return parts[1], parts[2]
}

func (g *GitHub) pullRequest(ctx context.Context, payload json.RawMessage) error {
	var p struct {
		Action      string `json:"action"`
		Number      int    `json:"number"`
		PullRequest struct {
			Title string `json:"title"`
			User  struct {
				Login string `json:"login"`
			} `json:"user"`
			HTMLURL string `json:"html_url"`
			Base    struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			} `json:"base"`
			Head struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			} `json:"head"`
		} `json:"pull_request"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parse pull_request payload: %w", err)
	}

	g.bus.Publish(ctx, githubSource, &event.GitHubPullRequest{
		Repo:          p.Repository.FullName,
		Number:        p.Number,
		Title:         p.PullRequest.Title,
		Author:        p.PullRequest.User.Login,
		URL:           p.PullRequest.HTMLURL,
		Action:        p.Action,
		BaseRef:       p.PullRequest.Base.Ref,
		HeadRef:       p.PullRequest.Head.Ref,
		BaseSHA:       p.PullRequest.Base.SHA,
		HeadSHA:       p.PullRequest.Head.SHA,
		TrustedAuthor: g.trust.Contains(p.PullRequest.User.Login),
	})
	return nil
}

func (g *GitHub) review(ctx context.Context, payload json.RawMessage) error {
	var p struct {
		Action string `json:"action"`
		Review struct {
			User struct {
				Login string `json:"login"`
			} `json:"user"`
			State   string `json:"state"`
			HTMLURL string `json:"html_url"`
		} `json:"review"`
		PullRequest struct {
			Number int    `json:"number"`
			Title  string `json:"title"`
			User   struct {
				Login string `json:"login"`
			} `json:"user"`
		} `json:"pull_request"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parse pull_request_review payload: %w", err)
	}

	g.bus.Publish(ctx, githubSource, &event.GitHubReview{
		Repo:     p.Repository.FullName,
		Number:   p.PullRequest.Number,
		Title:    p.PullRequest.Title,
		Author:   p.PullRequest.User.Login,
		Reviewer: p.Review.User.Login,
		State:    p.Review.State,
		URL:      p.Review.HTMLURL,
		Action:   p.Action,
	})
	return nil
}

func (g *GitHub) reviewComment(ctx context.Context, payload json.RawMessage) error {
	var p struct {
		Action  string `json:"action"`
		Comment struct {
			User struct {
				Login string `json:"login"`
			} `json:"user"`
			Body                string `json:"body"`
			HTMLURL             string `json:"html_url"`
			PullRequestReviewID int64  `json:"pull_request_review_id"`
			CreatedAt           string `json:"created_at"`
			UpdatedAt           string `json:"updated_at"`
		} `json:"comment"`
		PullRequest struct {
			Number int `json:"number"`
		} `json:"pull_request"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parse pull_request_review_comment payload: %w", err)
	}

	// A comment that is part of a batched review submission arrives as
	// "created" with a review id and identical created/updated timestamps.
	// The timestamp equality is a heuristic for "just created, never
	// edited"; it is a good approximation, not a guaranteed invariant.
	partOfReview := p.Action == "created" &&
		p.Comment.PullRequestReviewID != 0 &&
		p.Comment.CreatedAt == p.Comment.UpdatedAt

	g.bus.Publish(ctx, githubSource, &event.GitHubReviewComment{
		Repo:         p.Repository.FullName,
		Number:       p.PullRequest.Number,
		Author:       p.Comment.User.Login,
		Body:         p.Comment.Body,
		URL:          p.Comment.HTMLURL,
		Action:       p.Action,
		PartOfReview: partOfReview,
	})
	return nil
}

func (g *GitHub) commitComment(ctx context.Context, payload json.RawMessage) error {
	var p struct {
		Comment struct {
			User struct {
				Login string `json:"login"`
			} `json:"user"`
			Body     string `json:"body"`
			HTMLURL  string `json:"html_url"`
			CommitID string `json:"commit_id"`
		} `json:"comment"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parse commit_comment payload: %w", err)
	}

	g.bus.Publish(ctx, githubSource, &event.GitHubCommitComment{
		Repo:   p.Repository.FullName,
		Commit: p.Comment.CommitID,
		Author: p.Comment.User.Login,
		Body:   p.Comment.Body,
		URL:    p.Comment.HTMLURL,
	})
	return nil
}

func (g *GitHub) issue(ctx context.Context, payload json.RawMessage) error {
	var p struct {
		Action string `json:"action"`
		Issue  struct {
			Number int    `json:"number"`
			Title  string `json:"title"`
			User   struct {
				Login string `json:"login"`
			} `json:"user"`
			HTMLURL string `json:"html_url"`
		} `json:"issue"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parse issues payload: %w", err)
	}

	g.bus.Publish(ctx, githubSource, &event.GitHubIssue{
		Repo:   p.Repository.FullName,
		Number: p.Issue.Number,
		Title:  p.Issue.Title,
		Author: p.Issue.User.Login,
		URL:    p.Issue.HTMLURL,
		Action: p.Action,
	})
	return nil
}

func (g *GitHub) issueComment(ctx context.Context, payload json.RawMessage) error {
	var p struct {
		Action string `json:"action"`
		Issue  struct {
			Number int    `json:"number"`
			Title  string `json:"title"`
		} `json:"issue"`
		Comment struct {
			User struct {
				Login string `json:"login"`
			} `json:"user"`
			Body    string `json:"body"`
			HTMLURL string `json:"html_url"`
		} `json:"comment"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parse issue_comment payload: %w", err)
	}

	g.bus.Publish(ctx, githubSource, &event.GitHubIssueComment{
		Repo:   p.Repository.FullName,
		Number: p.Issue.Number,
		Title:  p.Issue.Title,
		Author: p.Comment.User.Login,
		Body:   p.Comment.Body,
		URL:    p.Comment.HTMLURL,
		Action: p.Action,
	})
	return nil
}

func (g *GitHub) membership(ctx context.Context, payload json.RawMessage) error {
	var p struct {
		Action string `json:"action"`
		Scope  string `json:"scope"`
		Member struct {
			Login string `json:"login"`
		} `json:"member"`
		Team struct {
			Name string `json:"name"`
		} `json:"team"`
		Organization struct {
			Login string `json:"login"`
		} `json:"organization"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parse membership payload: %w", err)
	}

	g.bus.Publish(ctx, githubSource, &event.GitHubMembership{
		Action: p.Action,
		Member: p.Member.Login,
		Team:   p.Team.Name,
		Org:    p.Organization.Login,
		Scope:  p.Scope,
	})
	return nil
}
