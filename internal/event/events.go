// Package event defines the closed set of events that travel on the bus:
// raw hook events as received from external sources, and the normalized
// domain events derived from them.
package event

import (
	"encoding/json"
	"strconv"
	"time"
)

// Meta carries the fields shared by every event: when it was created and
// which component published it. The bus stamps both exactly once at publish
// time; nothing mutates an event afterwards.
type Meta struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
}

func (m *Meta) meta() *Meta { return m }

// Event is the interface satisfied by every variant. The meta method is
// unexported, so only types in this package (all of which embed Meta) can
// implement it — the set of variants is closed at compile time.
type Event interface {
	// Kind is a stable name for the variant, used as the history key and as
	// the SSE event type. It never changes once a subscriber depends on it.
	Kind() string
	meta() *Meta
}

// Stamp records the publication source and time. Only the bus calls this.
func Stamp(ev Event, source string, at time.Time) {
	m := ev.meta()
	m.Source = source
	m.At = at
}

// When returns the publication time stamped on ev.
func When(ev Event) time.Time {
	return ev.meta().At
}

// Internal is free-text operational narration, also produced when a
// normalizer meets a well-formed payload with an unknown discriminator.
type Internal struct {
	Meta
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (*Internal) Kind() string { return "internal" }

// --- Raw hook events (published by the HTTP boundary, consumed by normalizers) ---

// GitHubRawHook wraps a verified GitHub webhook delivery before normalization.
type GitHubRawHook struct {
	Meta
	Event    string          `json:"event"`
	Delivery string          `json:"delivery"`
	Payload  json.RawMessage `json:"payload"`
}

func (*GitHubRawHook) Kind() string { return "github.raw" }

// BuildbotRawHook wraps a Buildbot status push before normalization.
type BuildbotRawHook struct {
	Meta
	Payload json.RawMessage `json:"payload"`
}

func (*BuildbotRawHook) Kind() string { return "buildbot.raw" }

// AgentRawHook wraps a monitoring-agent report before normalization.
type AgentRawHook struct {
	Meta
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Addr  string          `json:"addr"`
}

func (*AgentRawHook) Kind() string { return "agent.raw" }

// --- GitHub domain events ---

// PushCommit is one commit carried by a push event.
type PushCommit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	URL     string `json:"url"`
	Author  string `json:"author"`
}

type GitHubPush struct {
	Meta
	Repo       string       `json:"repo"`
	Ref        string       `json:"ref"`
	RefType    string       `json:"ref_type"` // "heads" or "tags"
	RefName    string       `json:"ref_name"`
	Created    bool         `json:"created"`
	Deleted    bool         `json:"deleted"`
	Forced     bool         `json:"forced"`
	Pusher     string       `json:"pusher"`
	CompareURL string       `json:"compare_url"`
	Commits    []PushCommit `json:"commits"`
}

func (*GitHubPush) Kind() string { return "github.push" }

type GitHubPullRequest struct {
	Meta
	Repo          string `json:"repo"`
	Number        int    `json:"number"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	URL           string `json:"url"`
	Action        string `json:"action"`
	BaseRef       string `json:"base_ref"`
	HeadRef       string `json:"head_ref"`
	BaseSHA       string `json:"base_sha"`
	HeadSHA       string `json:"head_sha"`
	TrustedAuthor bool   `json:"trusted_author"`
}

func (*GitHubPullRequest) Kind() string { return "github.pull_request" }

type GitHubReview struct {
	Meta
	Repo     string `json:"repo"`
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Reviewer string `json:"reviewer"`
	State    string `json:"state"`
	URL      string `json:"url"`
	Action   string `json:"action"`
}

func (*GitHubReview) Kind() string { return "github.review" }

type GitHubReviewComment struct {
	Meta
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Author string `json:"author"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	Action string `json:"action"`
	// PartOfReview is true when the comment arrived as part of a batched
	// review submission rather than standalone. Subscribers use it to
	// suppress duplicate notifications.
	PartOfReview bool `json:"part_of_review"`
}

func (*GitHubReviewComment) Kind() string { return "github.review_comment" }

type GitHubCommitComment struct {
	Meta
	Repo   string `json:"repo"`
	Commit string `json:"commit"`
	Author string `json:"author"`
	Body   string `json:"body"`
	URL    string `json:"url"`
}

func (*GitHubCommitComment) Kind() string { return "github.commit_comment" }

type GitHubIssue struct {
	Meta
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Author string `json:"author"`
	URL    string `json:"url"`
	Action string `json:"action"`
}

func (*GitHubIssue) Kind() string { return "github.issue" }

type GitHubIssueComment struct {
	Meta
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	Action string `json:"action"`
}

func (*GitHubIssueComment) Kind() string { return "github.issue_comment" }

// GitHubMembership reports a member added to or removed from a team.
type GitHubMembership struct {
	Meta
	Action string `json:"action"` // "added" or "removed"
	Member string `json:"member"`
	Team   string `json:"team"`
	Org    string `json:"org"`
	Scope  string `json:"scope"`
}

func (*GitHubMembership) Kind() string { return "github.membership" }

// --- Build events ---

// BuildState is the three-state outcome enumeration subscribers code against.
type BuildState string

const (
	BuildPending BuildState = "pending"
	BuildSuccess BuildState = "success"
	BuildFailure BuildState = "failure"
)

// Build reports the state of a pull-request build.
type Build struct {
	Meta
	URL         string     `json:"url"`
	Builder     string     `json:"builder"`
	Repo        string     `json:"repo"`
	Revision    string     `json:"revision"`
	PR          int        `json:"pr"`
	State       BuildState `json:"state"`
	Description string     `json:"description"`
	PRURL       string     `json:"pr_url"`
}

func (*Build) Kind() string { return "build" }

// NewBuild derives the PR permalink from repo and number.
func NewBuild(url, builder, repo, revision string, pr int, state BuildState, description string) *Build {
	return &Build{
		URL: url, Builder: builder, Repo: repo, Revision: revision,
		PR: pr, State: state, Description: description,
		PRURL: "https://github.com/" + repo + "/pull/" + strconv.Itoa(pr),
	}
}

// ReleaseBuild reports the state of a build on the primary branch; it has no
// associated pull request.
type ReleaseBuild struct {
	Meta
	URL      string     `json:"url"`
	Builder  string     `json:"builder"`
	Repo     string     `json:"repo"`
	Revision string     `json:"revision"`
	State    BuildState `json:"state"`
}

func (*ReleaseBuild) Kind() string { return "build.release" }

// --- Ticketing events ---

// Ticket identifies a support ticket across ticket events.
type Ticket struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	Message    string `json:"message"`
	Link       string `json:"link"`
}

type TicketOpen struct {
	Meta
	Ticket Ticket `json:"ticket"`
	Who    string `json:"who"`
}

func (*TicketOpen) Kind() string { return "ticket.open" }

type TicketFlag struct {
	Meta
	Ticket    Ticket `json:"ticket"`
	Who       string `json:"who"`
	FlaggedTo string `json:"flagged_to"`
}

func (*TicketFlag) Kind() string { return "ticket.flag" }

type TicketStatusChange struct {
	Meta
	Ticket    Ticket `json:"ticket"`
	Who       string `json:"who"`
	NewStatus string `json:"new_status"`
}

func (*TicketStatusChange) Kind() string { return "ticket.status" }

// TicketReplyKind is the actor-role tag on a ticket reply or note.
type TicketReplyKind string

const (
	TicketClientReply TicketReplyKind = "client-reply"
	TicketStaffReply  TicketReplyKind = "staff-reply"
	TicketNote        TicketReplyKind = "note"
)

type TicketReply struct {
	Meta
	Type    TicketReplyKind `json:"type"`
	Ticket  Ticket          `json:"ticket"`
	Who     string          `json:"who"`
	Message string          `json:"message"`
	Status  string          `json:"status"`
}

func (*TicketReply) Kind() string { return "ticket.reply" }

// --- Monitoring-agent events ---

type AgentLog struct {
	Meta
	Message string `json:"message"`
	Addr    string `json:"addr"`
}

func (*AgentLog) Kind() string { return "agent.log" }

type AgentError struct {
	Meta
	Message string `json:"message"`
	Error   string `json:"error"`
	Addr    string `json:"addr"`
}

func (*AgentError) Kind() string { return "agent.error" }

// --- Chat events ---

// ChatMessage is an inbound chat-platform message.
type ChatMessage struct {
	Meta
	From    string `json:"from"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
	Direct  bool   `json:"direct"`
	Trusted bool   `json:"trusted"`
}

func (*ChatMessage) Kind() string { return "chat.message" }
