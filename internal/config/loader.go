package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. ${ENV_VAR} references in
// the file are expanded before parsing so secrets can stay out of the file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with the value from the environment. Unset
// variables expand to the empty string; validation catches required fields.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.GitHub.APIBaseURL == "" {
		cfg.GitHub.APIBaseURL = "https://api.github.com"
	}
	if cfg.GitHub.SyncInterval == 0 {
		cfg.GitHub.SyncInterval = Duration(15 * time.Minute)
	}
	if cfg.Buildbot.PrimaryBranch == "" {
		cfg.Buildbot.PrimaryBranch = "master"
	}
	if cfg.Buildbot.BuildbotBin == "" {
		cfg.Buildbot.BuildbotBin = "buildbot"
	}
	if cfg.Queue.DBPath == "" {
		cfg.Queue.DBPath = "hub.db"
	}
	if cfg.Limits.RatePerMinute == 0 {
		cfg.Limits.RatePerMinute = 60
	}
}

func validate(cfg *Config) error {
	if cfg.GitHub.HookSecret == "" {
		return fmt.Errorf("github.hook_secret is required")
	}
	if cfg.Buildbot.HookToken == "" {
		return fmt.Errorf("buildbot.hook_token is required")
	}
	if cfg.Agent.HookToken == "" {
		return fmt.Errorf("agent.hook_token is required")
	}
	if cfg.WHMCS.Token == "" {
		return fmt.Errorf("whmcs.token is required")
	}
	if cfg.GitHub.TrustedTeam != "" && cfg.GitHub.Org == "" {
		return fmt.Errorf("github.org is required when github.trusted_team is set")
	}
	if cfg.GitHub.SyncInterval.Std() < time.Minute {
		return fmt.Errorf("github.sync_interval must be at least 1m")
	}
	if cfg.Limits.RatePerMinute < 0 {
		return fmt.Errorf("limits.rate_per_minute must not be negative")
	}
	return nil
}
