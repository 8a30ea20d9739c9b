package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authcore-dev/authcore"
)

// AuditSink persists audit events into the audit_events table. Inserts
// are best-effort: the dispatcher already decouples them from request
// latency, and a failed insert must never take the auth path down.
type AuditSink struct {
	pool *pgxpool.Pool
}

func NewAuditSink(pool *pgxpool.Pool) *AuditSink {
	return &AuditSink{pool: pool}
}

var _ authcore.AuditSink = (*AuditSink)(nil)

func (s *AuditSink) Emit(ctx context.Context, event authcore.AuditEvent) {
	_, _ = s.pool.Exec(ctx, `
		INSERT INTO audit_events (
			event_id, occurred_at, event_type, user_id, session_id,
			ip, user_agent, success, error_code, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.NewString(), event.Timestamp, event.EventType,
		event.UserID, event.SessionID, event.IP, event.UserAgent,
		event.Success, event.Error, event.Metadata)
}
