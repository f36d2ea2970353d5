package trust

import (
	"context"
	"log/slog"
	"time"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/event"
)

//go:generate mockgen -destination=mocks/mock_directory.go -package=mocks github.com/itops/hub/internal/trust DirectoryClient

// DirectoryClient fetches the authoritative member list of a team.
type DirectoryClient interface {
	TeamMembers(ctx context.Context, org, team string) ([]string, error)
}

const syncTimeout = 30 * time.Second

// Syncer keeps a Set in step with a directory team: a full re-fetch on a
// fixed interval plus incremental patches from membership events. A failed
// sync keeps the previous contents in effect.
type Syncer struct {
	set      *Set
	client   DirectoryClient
	org      string
	team     string
	interval time.Duration
	logger   *slog.Logger
}

func NewSyncer(set *Set, client DirectoryClient, org, team string, interval time.Duration, logger *slog.Logger) *Syncer {
	return &Syncer{
		set:      set,
		client:   client,
		org:      org,
		team:     team,
		interval: interval,
		logger:   logger,
	}
}

// Bind subscribes the syncer to membership events so the set stays current
// between sync intervals.
func (s *Syncer) Bind(b *bus.Bus) {
	bus.Subscribe(b, s.onMembership)
}

// onMembership applies an incremental patch. Events for teams other than the
// synchronized one are ignored.
func (s *Syncer) onMembership(ctx context.Context, ev *event.GitHubMembership) error {
	if ev.Team != s.team {
		return nil
	}
	switch ev.Action {
	case "added":
		s.set.Add(ev.Member)
		s.logger.Info("trusted member added", "member", ev.Member, "team", ev.Team)
	case "removed":
		s.set.Remove(ev.Member)
		s.logger.Info("trusted member removed", "member", ev.Member, "team", ev.Team)
	}
	return nil
}

// Run performs an immediate sync and then re-syncs on the configured
// interval. The timer is re-armed only after an attempt finishes, so syncs
// never overlap. Blocks until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info("trust sync started", "org", s.org, "team", s.team, "interval", s.interval)
	for {
		s.SyncOnce(ctx)

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// SyncOnce fetches the member list and replaces the set's contents. Fetch
// failures are logged; the previous contents remain in effect.
func (s *Syncer) SyncOnce(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	members, err := s.client.TeamMembers(fctx, s.org, s.team)
	if err != nil {
		s.logger.Warn("trust sync failed, keeping previous members", "error", err)
		return
	}

	s.set.ReplaceAll(members)
	s.logger.Info("trust set synced", "members", len(members))
}
