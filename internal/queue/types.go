package queue

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Kind selects which buildbot operation a job performs.
type Kind string

const (
	// KindTry submits a pull-request diff as a try build.
	KindTry Kind = "try"
	// KindChange reports a pushed commit to the change source.
	KindChange Kind = "change"
)

// Job is one queued buildbot request. Payload holds the kind-specific
// request (TryRequest or ChangeRequest) as JSON.
type Job struct {
	ID          string
	Kind        Kind
	Repo        string
	Payload     json.RawMessage
	Status      Status
	SubmittedBy string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
}

type EnqueueRequest struct {
	Kind        Kind
	Repo        string
	Payload     json.RawMessage
	SubmittedBy string
}

// TryRequest is the payload of a KindTry job.
type TryRequest struct {
	Who         string `json:"who"`
	Repo        string `json:"repo"`
	PR          int    `json:"pr"`
	BaseSHA     string `json:"base_sha"`
	HeadSHA     string `json:"head_sha"`
	Description string `json:"description"`
	Patch       string `json:"patch"`
}

// ChangeRequest is the payload of a KindChange job.
type ChangeRequest struct {
	Author      string `json:"author"`
	Repo        string `json:"repo"`
	Branch      string `json:"branch"`
	Revision    string `json:"revision"`
	Description string `json:"description"`
	URL         string `json:"url"`
}
