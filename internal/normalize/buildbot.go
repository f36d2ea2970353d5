package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/event"
)

// buildbotResults maps Buildbot's integer result code for a completed build
// to a state and description. The table order is the wire contract.
var buildbotResults = []struct {
	State       event.BuildState
	Description string
}{
	{event.BuildSuccess, "Build successful"},                 // 0
	{event.BuildSuccess, "Build successful (with warnings)"}, // 1
	{event.BuildFailure, "Build failed"},                     // 2
}

// Buildbot translates Buildbot status pushes into build events. Builds on
// the primary branch with no PR number are release builds; everything else
// is a pull-request build.
type Buildbot struct {
	bus           *bus.Bus
	primaryBranch string
	logger        *slog.Logger
}

func NewBuildbot(b *bus.Bus, primaryBranch string, logger *slog.Logger) *Buildbot {
	n := &Buildbot{bus: b, primaryBranch: primaryBranch, logger: logger}
	bus.Subscribe(b, n.handle)
	return n
}

const buildbotSource = "buildbot"

func (n *Buildbot) handle(ctx context.Context, raw *event.BuildbotRawHook) error {
	var p struct {
		URL      string `json:"url"`
		Complete bool   `json:"complete"`
		Results  int    `json:"results"`
		Builder  struct {
			Name string `json:"name"`
		} `json:"builder"`
		// Buildbot properties are [value, source] pairs.
		Properties map[string][]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return fmt.Errorf("parse buildbot payload: %w", err)
	}

	repo := propString(p.Properties, "repository")
	if repo == "" {
		// Not one of ours; Buildbot reports on everything it builds.
		return nil
	}

	state := event.BuildPending
	description := "Build started"
	if p.Complete {
		if p.Results >= 0 && p.Results < len(buildbotResults) {
			state = buildbotResults[p.Results].State
			description = buildbotResults[p.Results].Description
		} else {
			state = event.BuildPending
			description = "Unknown"
		}
	}

	prNumber := propInt(p.Properties, "pr_number")
	branch := propString(p.Properties, "branch")

	if prNumber == 0 && branch == n.primaryBranch {
		n.bus.Publish(ctx, buildbotSource, &event.ReleaseBuild{
			URL:      p.URL,
			Builder:  p.Builder.Name,
			Repo:     repo,
			Revision: propString(p.Properties, "revision"),
			State:    state,
		})
		return nil
	}

	n.bus.Publish(ctx, buildbotSource, event.NewBuild(
		p.URL,
		p.Builder.Name,
		repo,
		propString(p.Properties, "head_rev"),
		prNumber,
		state,
		description,
	))
	return nil
}

// propString extracts the value half of a Buildbot property pair.
func propString(props map[string][]json.RawMessage, name string) string {
	pair, ok := props[name]
	if !ok || len(pair) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(pair[0], &s); err == nil {
		return s
	}
	return ""
}

// propInt reads a numeric property that Buildbot may send as either a number
// or a decimal string.
func propInt(props map[string][]json.RawMessage, name string) int {
	pair, ok := props[name]
	if !ok || len(pair) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(pair[0], &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(pair[0], &s); err == nil {
		if parsed, err := strconv.Atoi(s); err == nil {
			return parsed
		}
	}
	return 0
}
