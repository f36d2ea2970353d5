package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses human-friendly values ("15m", "1h") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full hub configuration, loaded from a single YAML file.
type Config struct {
	Listen       string `yaml:"listen"`
	LogLevel     string `yaml:"log_level"`
	PublicStatus bool   `yaml:"public_status"`
	APIKey       string `yaml:"api_key"`

	GitHub   GitHubConfig   `yaml:"github"`
	Buildbot BuildbotConfig `yaml:"buildbot"`
	Agent    AgentConfig    `yaml:"agent"`
	WHMCS    WHMCSConfig    `yaml:"whmcs"`
	Chat     ChatConfig     `yaml:"chat"`
	Queue    QueueConfig    `yaml:"queue"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// GitHubConfig covers the webhook entry point, the REST API, and trust sync.
type GitHubConfig struct {
	HookSecret   string   `yaml:"hook_secret"`
	APIToken     string   `yaml:"api_token"`
	APIBaseURL   string   `yaml:"api_base_url"`
	Org          string   `yaml:"org"`
	TrustedTeam  string   `yaml:"trusted_team"`
	SyncInterval Duration `yaml:"sync_interval"`
}

// BuildbotConfig covers the status-push endpoint and the ssh build trigger.
type BuildbotConfig struct {
	HookToken     string `yaml:"hook_token"`
	SSHDest       string `yaml:"ssh_dest"`
	JobDir        string `yaml:"job_dir"`
	BuildbotBin   string `yaml:"buildbot_bin"`
	PrimaryBranch string `yaml:"primary_branch"`
	// RepoOwner prefixes bare repo names in chat rebuild commands.
	RepoOwner string `yaml:"repo_owner"`
}

type AgentConfig struct {
	HookToken string `yaml:"hook_token"`
}

type WHMCSConfig struct {
	Token    string `yaml:"token"`
	AdminURL string `yaml:"admin_url"`
}

type ChatConfig struct {
	HookToken  string   `yaml:"hook_token"`
	WebhookURL string   `yaml:"webhook_url"`
	Channels   []string `yaml:"channels"`
}

type QueueConfig struct {
	DBPath string `yaml:"db_path"`
}

type LimitsConfig struct {
	RatePerMinute int `yaml:"rate_per_minute"`
}

// ChecksumManifest is the sidecar .checksums file protecting the config from
// unauthorized edits.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}
