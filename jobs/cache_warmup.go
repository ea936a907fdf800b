package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/authz"
	jobmetrics "github.com/wardenhq/warden/internal/jobs"
)

const defaultWarmupChunk = 500

// CacheWarmupJob pre-resolves permission maps so the first request
// after a deploy or cache flush does not pay the resolution cost.
type CacheWarmupJob struct {
	Cache   *authz.Cache
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(cache *authz.Cache, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{
		Cache:   cache,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes cache warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ChunkSize <= 0 {
		payload.ChunkSize = defaultWarmupChunk
	}

	tracker := j.Metrics.Track(TaskCacheWarmup)
	var resultErr error
	defer func() {
		_ = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := j.now()
	logger.Info("starting cache warmup", slog.Int("chunk_size", payload.ChunkSize))

	warmed := map[authz.PrincipalKind]int{}
	var after principalCursor
	for {
		chunk, err := j.fetchPrincipals(ctx, after, payload.ChunkSize)
		if err != nil {
			resultErr = err
			logger.Error("load warmup principals", slog.Any("error", err))
			return resultErr
		}
		if len(chunk) == 0 {
			break
		}
		for _, principal := range chunk {
			if err := j.warm(ctx, principal); err != nil {
				resultErr = err
				logger.Error("warm principal",
					slog.String("kind", string(principal.Kind)),
					slog.Int64("id", principal.ID),
					slog.Any("error", err))
				return resultErr
			}
			warmed[principal.Kind]++
		}
		last := chunk[len(chunk)-1]
		after = principalCursor{kind: string(last.Kind), id: last.ID}
	}

	j.Metrics.AddWarmed(string(authz.KindUser), warmed[authz.KindUser])
	j.Metrics.AddWarmed(string(authz.KindGroup), warmed[authz.KindGroup])
	logger.Info("completed cache warmup",
		slog.Int("users", warmed[authz.KindUser]),
		slog.Int("groups", warmed[authz.KindGroup]),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *CacheWarmupJob) warm(ctx context.Context, principal authz.PrincipalRef) error {
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := j.Cache.Get(warmCtx, principal)
	return err
}

type principalCursor struct {
	kind string
	id   int64
}

// fetchPrincipals pages through every principal that can hold an
// effective permission map: direct grantees plus group members, ordered
// so the cursor is stable.
func (j *CacheWarmupJob) fetchPrincipals(ctx context.Context, after principalCursor, limit int) ([]authz.PrincipalRef, error) {
	if j.Pool == nil {
		return nil, errors.New("cache warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
SELECT principal_type, principal_id FROM (
    SELECT DISTINCT principal_type, principal_id
    FROM permissions
    WHERE deleted_at IS NULL
    UNION
    SELECT DISTINCT 'user' AS principal_type, user_id AS principal_id
    FROM group_memberships
) principals
WHERE (principal_type, principal_id) > ($1, $2)
ORDER BY principal_type, principal_id
LIMIT $3`, after.kind, after.id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	principals := make([]authz.PrincipalRef, 0, limit)
	for rows.Next() {
		var principal authz.PrincipalRef
		if err := rows.Scan(&principal.Kind, &principal.ID); err != nil {
			return nil, err
		}
		principals = append(principals, principal)
	}
	return principals, rows.Err()
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarmup))
}

func (j *CacheWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
