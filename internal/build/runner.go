package build

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/config"
	"github.com/itops/hub/internal/event"
	"github.com/itops/hub/internal/queue"
)

const (
	// maxStderrBytes caps the stderr captured from ssh/scp runs.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the wait after SIGTERM before SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// jobTimeout bounds one ssh or scp invocation.
	jobTimeout = 5 * time.Minute

	pollInterval = 1 * time.Second
)

// commandFunc runs one external command and returns its captured stderr.
// Swapped out in tests.
type commandFunc func(ctx context.Context, timeout time.Duration, logger *slog.Logger, name string, args []string) (string, error)

// Runner drains the build queue serially, one ssh invocation at a time, and
// publishes the outcome of try builds.
type Runner struct {
	queue  *queue.Queue
	bus    *bus.Bus
	cfg    config.BuildbotConfig
	logger *slog.Logger
	run    commandFunc
	tmpDir string
}

func NewRunner(q *queue.Queue, b *bus.Bus, cfg config.BuildbotConfig, logger *slog.Logger) *Runner {
	return &Runner{
		queue:  q,
		bus:    b,
		cfg:    cfg,
		logger: logger,
		run:    runCommand,
		tmpDir: os.TempDir(),
	}
}

// Start runs the drain loop until ctx is cancelled (blocking). Jobs left
// running by a previous process are re-queued first.
func (r *Runner) Start(ctx context.Context) error {
	if n, err := r.queue.RecoverStale(ctx); err != nil {
		r.logger.Warn("stale job recovery failed", "error", err)
	} else if n > 0 {
		r.logger.Info("re-queued stale build jobs", "count", n)
	}

	r.logger.Info("build runner started")
	defer r.logger.Info("build runner stopped")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.processNextJob(ctx); err != nil {
				r.logger.Error("failed to process build job", "error", err)
			}
		}
	}
}

func (r *Runner) processNextJob(ctx context.Context) error {
	job, err := r.queue.Dequeue(ctx)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if job == nil {
		return nil
	}
	r.executeJob(ctx, job)
	return nil
}

func (r *Runner) executeJob(ctx context.Context, job *queue.Job) {
	logger := r.logger.With("job_id", job.ID, "kind", job.Kind, "repo", job.Repo)
	logger.Info("executing build job")

	var stderr string
	var err error
	switch job.Kind {
	case queue.KindChange:
		stderr, err = r.runChange(ctx, logger, job)
	case queue.KindTry:
		stderr, err = r.runTry(ctx, logger, job)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	status := queue.StatusSucceeded
	var lastError *string
	if err != nil {
		status = queue.StatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = queue.StatusTimedOut
		}
		msg := err.Error()
		lastError = &msg
		logger.Error("build job failed", "status", status, "error", err)
	} else {
		logger.Info("build job completed")
	}

	if cerr := r.queue.Complete(ctx, job.ID, status, lastError, &stderr); cerr != nil {
		logger.Error("failed to complete job", "error", cerr)
	}
}

// runChange reports one pushed commit to the buildbot change source.
func (r *Runner) runChange(ctx context.Context, logger *slog.Logger, job *queue.Job) (string, error) {
	var req queue.ChangeRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return "", fmt.Errorf("unmarshal change request: %w", err)
	}

	comment := req.Description
	if i := strings.Index(comment, "\n"); i >= 0 {
		comment = comment[:i]
	}

	args := []string{
		r.cfg.SSHDest, "./git-changes/send-buildbot-change", "--vc=git",
		"--who=" + shellQuote(req.Author),
		"--revision=" + shellQuote(req.Revision),
		"--property=description:" + shellQuote(req.Description),
		"--revlink=" + shellQuote(req.URL),
		"--comments=" + shellQuote(comment),
		"--branch=" + shellQuote(req.Branch),
		"--repository=" + shellQuote(req.Repo),
	}
	return r.run(ctx, jobTimeout, logger, "ssh", args)
}

// runTry ships the PR diff to the buildbot host and submits a try build.
// The outcome is published as a build event either way.
func (r *Runner) runTry(ctx context.Context, logger *slog.Logger, job *queue.Job) (string, error) {
	var req queue.TryRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return "", fmt.Errorf("unmarshal try request: %w", err)
	}

	stderr, err := r.submitTry(ctx, logger, &req)
	if err != nil {
		r.bus.Publish(ctx, "builder", event.NewBuild("", "hub", req.Repo, req.HeadSHA, req.PR,
			event.BuildFailure, "Sending build request failed"))
		return stderr, err
	}

	r.bus.Publish(ctx, "builder", event.NewBuild("", "hub", req.Repo, req.HeadSHA, req.PR,
		event.BuildSuccess, "Sent build requests to Buildbot"))
	return stderr, nil
}

func (r *Runner) submitTry(ctx context.Context, logger *slog.Logger, req *queue.TryRequest) (string, error) {
	// The diff travels as a file: written locally, copied across, referenced
	// by the same path on the remote side.
	diffPath := filepath.Join(r.tmpDir, uuid.NewString())
	if err := os.WriteFile(diffPath, []byte(req.Patch), 0o600); err != nil {
		return "", fmt.Errorf("write diff: %w", err)
	}
	defer os.Remove(diffPath)

	stderr, err := r.run(ctx, jobTimeout, logger, "scp",
		[]string{diffPath, r.cfg.SSHDest + ":" + diffPath})
	if err != nil {
		return stderr, fmt.Errorf("copy diff: %w", err)
	}

	args := []string{
		r.cfg.SSHDest, r.cfg.BuildbotBin, "try",
		fmt.Sprintf("--jobdir=%s/%s", r.cfg.JobDir, req.Repo),
		"--who=" + shellQuote(req.Who),
		"--comment=" + shellQuote(req.Description),
		"--diff=" + diffPath,
		"--repository=" + req.Repo,
		"--baserev=" + req.BaseSHA,
		"--property=head_rev=" + req.HeadSHA,
		fmt.Sprintf("--property=pr_number=%d", req.PR),
		"--property=who=" + shellQuote(req.Who),
		// The try client runs on the buildbot host itself; connecting back
		// over ssh to localhost avoids installing buildbot here.
		"--connect=ssh",
		"--host=localhost",
		"--buildbotbin=" + r.cfg.BuildbotBin,
		"--patchlevel=1",
	}
	if stderr, err := r.run(ctx, jobTimeout, logger, "ssh", args); err != nil {
		return stderr, fmt.Errorf("submit try build: %w", err)
	}
	return stderr, nil
}

// runCommand executes one external command with SIGTERM/SIGKILL timeout
// enforcement and returns captured stderr.
func runCommand(ctx context.Context, timeout time.Duration, logger *slog.Logger, name string, args []string) (string, error) {
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Termination is managed below, so no CommandContext.
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("running command", "name", name, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", name, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return truncateStderr(stderr.String()), ctx.Err()

	case <-timeoutTimer.C:
		logger.Warn("command timed out, sending SIGTERM", "name", name)
		if cmd.Process != nil {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				logger.Error("failed to send SIGTERM", "error", err)
			}
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("command exited after SIGTERM", "name", name)
		case <-grace.C:
			logger.Warn("command did not exit after SIGTERM, sending SIGKILL", "name", name)
			if cmd.Process != nil {
				if err := cmd.Process.Kill(); err != nil {
					logger.Error("failed to send SIGKILL", "error", err)
				}
			}
			<-waitErr
		}
		return truncateStderr(stderr.String()), context.DeadlineExceeded

	case err := <-waitErr:
		out := truncateStderr(stderr.String())
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return out, fmt.Errorf("%s exited with status %d", name, exitErr.ExitCode())
			}
			return out, fmt.Errorf("wait for %s: %w", name, err)
		}
		return out, nil
	}
}

// shellQuote wraps a value in single quotes for the remote shell on the
// other side of ssh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
