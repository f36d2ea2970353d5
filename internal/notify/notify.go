// Package notify posts short summaries of domain events to the team chat
// through an incoming webhook. Posting is best-effort: failures are logged
// and never ripple back to publishers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/event"
)

const postTimeout = 10 * time.Second

// Notifier subscribes to the notification-worthy event kinds and relays
// them to the chat webhook.
type Notifier struct {
	bus        *bus.Bus
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(b *bus.Bus, webhookURL string, logger *slog.Logger) *Notifier {
	n := &Notifier{
		bus:        b,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: postTimeout},
		logger:     logger,
	}

	bus.Subscribe(b, relay[*event.Build](n))
	bus.Subscribe(b, relay[*event.ReleaseBuild](n))
	bus.Subscribe(b, relay[*event.TicketOpen](n))
	bus.Subscribe(b, relay[*event.TicketReply](n))
	bus.Subscribe(b, relay[*event.TicketFlag](n))
	bus.Subscribe(b, relay[*event.TicketStatusChange](n))
	bus.Subscribe(b, relay[*event.GitHubPullRequest](n))
	bus.Subscribe(b, relay[*event.GitHubReview](n))
	bus.Subscribe(b, relay[*event.GitHubReviewComment](n))
	bus.Subscribe(b, relay[*event.GitHubIssue](n))
	bus.Subscribe(b, relay[*event.AgentError](n))

	return n
}

// relay builds the handler for one event type: format, then post off the
// publisher's goroutine.
func relay[T event.Event](n *Notifier) func(ctx context.Context, ev T) error {
	return func(ctx context.Context, ev T) error {
		text, ok := Format(ev)
		if !ok {
			return nil
		}
		n.bus.Go(ev.Kind(), func() error {
			return n.post(text)
		})
		return nil
	}
}

func (n *Notifier) post(text string) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}

	resp, err := n.httpClient.Post(n.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post to chat webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Format renders the one-line chat summary for ev. The second return is
// false for events that should stay quiet.
func Format(ev event.Event) (string, bool) {
	switch e := ev.(type) {
	case *event.Build:
		switch e.State {
		case event.BuildSuccess:
			return fmt.Sprintf(":white_check_mark: %s for %s PR #%d: %s", e.Description, e.Repo, e.PR, e.PRURL), true
		case event.BuildFailure:
			return fmt.Sprintf(":x: %s for %s PR #%d: %s", e.Description, e.Repo, e.PR, e.PRURL), true
		default:
			// Build starts are visible on the status page; chat only hears
			// about outcomes.
			return "", false
		}

	case *event.ReleaseBuild:
		switch e.State {
		case event.BuildSuccess:
			return fmt.Sprintf(":white_check_mark: Release build of %s (%s) succeeded: %s", e.Repo, shortRev(e.Revision), e.URL), true
		case event.BuildFailure:
			return fmt.Sprintf(":rotating_light: Release build of %s (%s) FAILED: %s", e.Repo, shortRev(e.Revision), e.URL), true
		default:
			return "", false
		}

	case *event.TicketOpen:
		return fmt.Sprintf(":ticket: New ticket #%s from %s: %s %s", e.Ticket.ID, e.Ticket.ClientName, e.Ticket.Title, e.Ticket.Link), true

	case *event.TicketReply:
		switch e.Type {
		case event.TicketClientReply:
			return fmt.Sprintf(":speech_balloon: Client reply on ticket #%s: %s %s", e.Ticket.ID, e.Ticket.Title, e.Ticket.Link), true
		case event.TicketStaffReply:
			return fmt.Sprintf(":speech_balloon: %s replied on ticket #%s: %s %s", e.Who, e.Ticket.ID, e.Ticket.Title, e.Ticket.Link), true
		default:
			return fmt.Sprintf(":memo: %s added a note on ticket #%s: %s %s", e.Who, e.Ticket.ID, e.Ticket.Title, e.Ticket.Link), true
		}

	case *event.TicketFlag:
		return fmt.Sprintf(":triangular_flag_on_post: Ticket #%s flagged to %s by %s: %s %s",
			e.Ticket.ID, e.FlaggedTo, e.Who, e.Ticket.Title, e.Ticket.Link), true

	case *event.TicketStatusChange:
		return fmt.Sprintf(":ticket: Ticket #%s is now %s: %s %s", e.Ticket.ID, e.NewStatus, e.Ticket.Title, e.Ticket.Link), true

	case *event.GitHubPullRequest:
		if e.Action != "opened" {
			return "", false
		}
		return fmt.Sprintf(":git: %s opened PR #%d on %s: %s %s", e.Author, e.Number, e.Repo, e.Title, e.URL), true

	case *event.GitHubReview:
		if e.Action != "submitted" {
			return "", false
		}
		return fmt.Sprintf(":eyes: %s %s PR #%d on %s: %s", e.Reviewer, reviewVerb(e.State), e.Number, e.Repo, e.URL), true

	case *event.GitHubReviewComment:
		// Comments batched into a review are covered by the review summary.
		if e.PartOfReview || e.Action != "created" {
			return "", false
		}
		return fmt.Sprintf(":speech_balloon: %s commented on PR #%d (%s): %s", e.Author, e.Number, e.Repo, e.URL), true

	case *event.GitHubIssue:
		if e.Action != "opened" {
			return "", false
		}
		return fmt.Sprintf(":beetle: %s opened issue #%d on %s: %s %s", e.Author, e.Number, e.Repo, e.Title, e.URL), true

	case *event.AgentError:
		return fmt.Sprintf(":rotating_light: Agent error from %s: %s (%s)", e.Addr, e.Message, e.Error), true

	default:
		return "", false
	}
}

func reviewVerb(state string) string {
	switch state {
	case "approved":
		return "approved"
	case "changes_requested":
		return "requested changes on"
	default:
		return "reviewed"
	}
}

func shortRev(rev string) string {
	if len(rev) > 10 {
		return rev[:10]
	}
	return rev
}
