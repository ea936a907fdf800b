// Package jobs defines the background task surface: the asynq worker,
// scheduler registrations and the task handlers themselves.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheWarmup pre-resolves permission maps for all principals.
	TaskCacheWarmup = "authz:cache_warmup"
	// TaskSecuritySweep prunes expired tokens, stale login attempts and
	// old security events.
	TaskSecuritySweep = "security:sweep"
)

// CacheWarmupPayload tunes a warmup run.
type CacheWarmupPayload struct {
	// ChunkSize bounds how many principals are loaded per query.
	ChunkSize int `json:"chunk_size"`
}

// NewCacheWarmupTask constructs a cache warmup task.
func NewCacheWarmupTask(chunkSize int) (*asynq.Task, error) {
	data, err := json.Marshal(CacheWarmupPayload{ChunkSize: chunkSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data), nil
}

// SecuritySweepPayload is currently empty; retention comes from config.
type SecuritySweepPayload struct{}

// NewSecuritySweepTask constructs a security sweep task.
func NewSecuritySweepTask() (*asynq.Task, error) {
	data, err := json.Marshal(SecuritySweepPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSecuritySweep, data), nil
}
