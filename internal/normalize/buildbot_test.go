package normalize

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/event"
)

func publishBuildbot(b *bus.Bus, payload string) {
	b.Publish(context.Background(), "http", &event.BuildbotRawHook{
		Payload: json.RawMessage(payload),
	})
}

func TestBuildbotResultMapping(t *testing.T) {
	payload := func(complete bool, results int) string {
		p := map[string]any{
			"url":      "https://build.example.com/builds/7",
			"complete": complete,
			"results":  results,
			"builder":  map[string]any{"name": "linux-amd64"},
			"properties": map[string]any{
				"repository": []any{"acme/repo", "source"},
				"branch":     []any{"feature", "source"},
				"pr_number":  []any{"12", "source"},
				"head_rev":   []any{"head-sha", "source"},
			},
		}
		data, _ := json.Marshal(p)
		return string(data)
	}

	tests := []struct {
		name     string
		complete bool
		results  int
		want     event.BuildState
		wantDesc string
	}{
		{"success", true, 0, event.BuildSuccess, "Build successful"},
		{"success with warnings", true, 1, event.BuildSuccess, "Build successful (with warnings)"},
		{"failure", true, 2, event.BuildFailure, "Build failed"},
		{"unknown result code", true, 9, event.BuildPending, "Unknown"},
		{"in progress", false, 0, event.BuildPending, "Build started"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBus()
			NewBuildbot(b, "master", testLogger())
			builds := collect[*event.Build](b)

			publishBuildbot(b, payload(tt.complete, tt.results))

			require.Len(t, *builds, 1)
			got := (*builds)[0]
			assert.Equal(t, tt.want, got.State)
			assert.Equal(t, tt.wantDesc, got.Description)
			assert.Equal(t, 12, got.PR)
			assert.Equal(t, "head-sha", got.Revision)
			assert.Equal(t, "https://github.com/acme/repo/pull/12", got.PRURL)
		})
	}
}

func TestBuildbotReleaseBuildClassification(t *testing.T) {
	b := newTestBus()
	NewBuildbot(b, "master", testLogger())
	builds := collect[*event.Build](b)
	releases := collect[*event.ReleaseBuild](b)

	// No PR number, primary branch: release build with no PR field.
	publishBuildbot(b, `{
		"url": "https://build.example.com/builds/8",
		"complete": true,
		"results": 0,
		"builder": {"name": "linux-amd64"},
		"properties": {
			"repository": ["acme/repo", "s"],
			"branch": ["master", "s"],
			"revision": ["rev-sha", "s"]
		}
	}`)

	assert.Empty(t, *builds)
	require.Len(t, *releases, 1)
	r := (*releases)[0]
	assert.Equal(t, "acme/repo", r.Repo)
	assert.Equal(t, "rev-sha", r.Revision)
	assert.Equal(t, event.BuildSuccess, r.State)

	// No PR number but a non-primary branch is still a PR-style build.
	publishBuildbot(b, `{
		"url": "https://build.example.com/builds/9",
		"complete": true,
		"results": 0,
		"builder": {"name": "linux-amd64"},
		"properties": {
			"repository": ["acme/repo", "s"],
			"branch": ["topic", "s"],
			"head_rev": ["h", "s"]
		}
	}`)

	assert.Len(t, *builds, 1)
	assert.Len(t, *releases, 1)
}

func TestBuildbotIgnoresForeignBuilds(t *testing.T) {
	b := newTestBus()
	NewBuildbot(b, "master", testLogger())
	builds := collect[*event.Build](b)
	releases := collect[*event.ReleaseBuild](b)

	publishBuildbot(b, `{"complete": true, "results": 0, "builder": {"name": "x"}, "properties": {}}`)

	assert.Empty(t, *builds)
	assert.Empty(t, *releases)
}
