package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/wardenhq/warden/internal/jobs"
	"github.com/wardenhq/warden/internal/security"
)

// SecuritySweepJob prunes expired tokens, stale login attempts and old
// security events.
type SecuritySweepJob struct {
	Security *security.Service
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewSecuritySweepJob wires dependencies for the sweep handler.
func NewSecuritySweepJob(securitySvc *security.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *SecuritySweepJob {
	return &SecuritySweepJob{Security: securitySvc, Logger: logger, Metrics: metrics}
}

// Handle processes security sweep tasks.
func (j *SecuritySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Security == nil {
		return errors.New("security sweep: handler not configured")
	}
	var payload SecuritySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskSecuritySweep)
	var resultErr error
	defer func() {
		_ = tracker.End(resultErr)
	}()

	logger := j.logger()
	result, err := j.Security.Sweep(ctx)
	if err != nil {
		resultErr = err
		logger.Error("security sweep", slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed security sweep",
		slog.Int64("expired_tokens", result.ExpiredTokens),
		slog.Int64("pruned_attempts", result.PrunedAttempts),
		slog.Int64("pruned_events", result.PrunedEvents))
	return resultErr
}

func (j *SecuritySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSecuritySweep))
	}
	return slog.Default().With(slog.String("job", TaskSecuritySweep))
}
