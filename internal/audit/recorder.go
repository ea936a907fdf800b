// Package audit records permission-change notifications for the audit
// trail.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/authz"
)

// Recorder writes permission changes into audit_logs. It is a
// fire-and-forget sink: failures are logged and swallowed so the
// authorization operation that triggered the change never aborts.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecorder constructs the recorder.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{pool: pool, logger: logger}
}

var _ authz.ChangeRecorder = (*Recorder)(nil)

// RecordChange persists one change entry.
func (r *Recorder) RecordChange(ctx context.Context, principal authz.PrincipalRef, resourceIdentifier, action string, capabilities []string) {
	if r == nil || r.pool == nil {
		return
	}
	meta, err := json.Marshal(map[string]any{
		"capabilities": capabilities,
	})
	if err != nil {
		r.logger.Error("audit: marshal change meta", slog.Any("error", err))
		return
	}
	// Detach from the request context so a caller timeout cannot lose
	// the entry, but still bound the write.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err = r.pool.Exec(writeCtx, `
INSERT INTO audit_logs (principal_type, principal_id, resource_identifier, action, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, NOW())`,
		principal.Kind, principal.ID, resourceIdentifier, strings.ToLower(action), meta)
	if err != nil {
		r.logger.Error("audit: record change",
			slog.String("action", action),
			slog.String("resource", resourceIdentifier),
			slog.Any("error", err))
	}
}

// Entry is one persisted change record.
type Entry struct {
	ID                 int64
	Principal          authz.PrincipalRef
	ResourceIdentifier string
	Action             string
	Capabilities       []string
	OccurredAt         time.Time
}

// RecentChanges returns the newest entries for a principal, newest
// first, capped at limit.
func (r *Recorder) RecentChanges(ctx context.Context, principal authz.PrincipalRef, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, principal_type, principal_id, resource_identifier, action, meta, occurred_at
FROM audit_logs
WHERE principal_type = $1 AND principal_id = $2
ORDER BY occurred_at DESC, id DESC
LIMIT $3`, principal.Kind, principal.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry Entry
			meta  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Principal.Kind, &entry.Principal.ID,
			&entry.ResourceIdentifier, &entry.Action, &meta, &entry.OccurredAt); err != nil {
			return nil, err
		}
		var decoded struct {
			Capabilities []string `json:"capabilities"`
		}
		if err := json.Unmarshal(meta, &decoded); err == nil {
			entry.Capabilities = decoded.Capabilities
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
