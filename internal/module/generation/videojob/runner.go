package videojob

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stylemint/server/internal/module/generation/provider"
	"go.uber.org/zap"
)

// TimeoutMessage is recorded on jobs that exhaust the polling budget.
const TimeoutMessage = "provider timeout: polling budget exceeded"

// Runner drives one submitted video job to a terminal state by polling
// the provider on a fixed interval under a wall-clock budget.
//
// State machine: submitted -> polling -> {succeeded | failed}. Terminal
// states never transition again. Exceeding the budget forces failed with
// TimeoutMessage; a timed-out job is never billed because onSuccess only
// runs on a provider-reported success.
type Runner struct {
	repo     Repository
	provider provider.Client
	interval time.Duration
	budget   time.Duration
	logger   *zap.Logger
}

// NewRunner creates a new video job runner.
func NewRunner(repo Repository, client provider.Client, interval, budget time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		repo:     repo,
		provider: client,
		interval: interval,
		budget:   budget,
		logger:   logger,
	}
}

// Run polls the job until it reaches a terminal state or the budget
// expires. onSuccess runs before the job is marked succeeded; its error
// does not fail the job, only the billing outcome is logged.
//
// Run blocks for the job's duration; callers run it on a goroutine.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID, providerJobID string, onSuccess func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			r.fail(jobID, TimeoutMessage)
			r.logger.Warn("video job timed out",
				zap.String("job_id", jobID.String()),
				zap.Int("attempts", attempt),
			)
			return
		case <-ticker.C:
		}

		attempt++
		if err := r.repo.SetPolling(ctx, jobID, attempt); err != nil {
			r.logger.Error("failed to record poll attempt",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
		}

		status, err := r.provider.GetVideoJob(ctx, providerJobID)
		if err != nil {
			if ctx.Err() != nil {
				r.fail(jobID, TimeoutMessage)
				return
			}
			// Transient poll failure: the budget bounds retries.
			r.logger.Warn("video job poll failed",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
			continue
		}

		switch status.State {
		case "succeeded":
			r.succeed(jobID, status.VideoURL, onSuccess)
			return
		case "failed":
			message := status.Error
			if message == "" {
				message = "provider reported failure"
			}
			r.fail(jobID, message)
			return
		}
	}
}

func (r *Runner) succeed(jobID uuid.UUID, videoURL string, onSuccess func(context.Context) error) {
	// Persistence and billing happen off the budget context: a success
	// observed at the deadline still completes.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if onSuccess != nil {
		if err := onSuccess(ctx); err != nil {
			// The artifact exists and is delivered; the missed charge is
			// an accepted billing loss, surfaced for reconciliation.
			r.logger.Error("video job succeeded but charge failed",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
		}
	}

	if err := r.repo.SetSucceeded(ctx, jobID, videoURL); err != nil {
		r.logger.Error("failed to mark video job succeeded",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}

func (r *Runner) fail(jobID uuid.UUID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.repo.SetFailed(ctx, jobID, message); err != nil {
		r.logger.Error("failed to mark video job failed",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}
