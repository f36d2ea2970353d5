// Package github is a small REST client covering exactly what the hub needs
// from the GitHub API: team membership for the trust set and pull-request
// details for the build trigger.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const perPage = 100

// HTTPClient is the subset of http.Client the client depends on.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the GitHub REST API with a personal access token.
type Client struct {
	baseURL    string
	webURL     string
	token      string
	httpClient HTTPClient
}

// PullRequest carries the fields the build trigger reads. Mergeable is nil
// while GitHub is still computing mergeability.
type PullRequest struct {
	Number    int
	Title     string
	BaseSHA   string
	HeadSHA   string
	Mergeable *bool
}

func NewClient(baseURL, token string, httpClient HTTPClient) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		webURL:     "https://github.com",
		token:      token,
		httpClient: httpClient,
	}
}

// TeamMembers returns the login of every member of org's team, following
// pagination.
func (c *Client) TeamMembers(ctx context.Context, org, team string) ([]string, error) {
	var logins []string
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/orgs/%s/teams/%s/members?per_page=%d&page=%d",
			c.baseURL, org, team, perPage, page)

		var members []struct {
			Login string `json:"login"`
		}
		if err := c.getJSON(ctx, url, &members); err != nil {
			return nil, fmt.Errorf("failed to list team members: %w", err)
		}

		for _, m := range members {
			logins = append(logins, m.Login)
		}
		if len(members) < perPage {
			return logins, nil
		}
	}
}

// PullRequest fetches one pull request of repo ("owner/name").
func (c *Client) PullRequest(ctx context.Context, repo string, number int) (*PullRequest, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, repo, number)

	var resp struct {
		Number    int    `json:"number"`
		Title     string `json:"title"`
		Mergeable *bool  `json:"mergeable"`
		Base      struct {
			SHA string `json:"sha"`
		} `json:"base"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
	}
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}

	return &PullRequest{
		Number:    resp.Number,
		Title:     resp.Title,
		BaseSHA:   resp.Base.SHA,
		HeadSHA:   resp.Head.SHA,
		Mergeable: resp.Mergeable,
	}, nil
}

// PullRequestPatch downloads the unified diff of a pull request. The patch
// endpoint lives on the web host, not the API host, and needs no auth for
// public repositories.
func (c *Client) PullRequestPatch(ctx context.Context, repo string, number int) (string, error) {
	url := fmt.Sprintf("%s/%s/pull/%d.patch", c.webURL, repo, number)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("patch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("patch request returned status %d", resp.StatusCode)
	}

	patch, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read patch: %w", err)
	}
	return string(patch), nil
}

// getJSON performs an authenticated GET against the REST API.
func (c *Client) getJSON(ctx context.Context, url string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
