package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authcore-dev/authcore"
)

// SessionStore is the pgx-backed [authcore.SessionStore]. Revocation is
// a tombstone, not a delete, so session history stays queryable.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

var _ authcore.SessionStore = (*SessionStore)(nil)

// Create inserts the session. With revokeExisting the user's other live
// sessions are tombstoned in the same transaction and their ids
// returned, so either all of it happens or none of it does.
func (s *SessionStore) Create(ctx context.Context, record authcore.SessionRecord, revokeExisting bool) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var revoked []string
	if revokeExisting {
		rows, err := tx.Query(ctx, `
			UPDATE sessions SET revoked_at = now()
			WHERE user_id = $1 AND revoked_at IS NULL
			RETURNING session_id`, record.UserID)
		if err != nil {
			return nil, fmt.Errorf("revoke existing: %w", err)
		}
		revoked, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("collect revoked: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, refresh_token, ip, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.SessionID, record.UserID, record.RefreshToken,
		record.IP, record.UserAgent, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return revoked, nil
}

const sessionColumns = `session_id, user_id, refresh_token, ip, user_agent, created_at, expires_at`

func (s *SessionStore) GetByID(ctx context.Context, sessionID string) (authcore.SessionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE session_id = $1 AND revoked_at IS NULL AND expires_at > now()`,
		sessionID)
	return scanSession(row)
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]authcore.SessionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > now()
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []authcore.SessionRecord
	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SessionStore) Revoke(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = now()
		WHERE session_id = $1 AND revoked_at IS NULL`, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE sessions SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL
		RETURNING session_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("revoke all: %w", err)
	}
	revoked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect revoked: %w", err)
	}
	return revoked, nil
}

// PruneExpired deletes sessions past their expiry, returning how many
// rows went away. Meant for a periodic housekeeping job.
func (s *SessionStore) PruneExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (authcore.SessionRecord, error) {
	var record authcore.SessionRecord
	err := row.Scan(
		&record.SessionID, &record.UserID, &record.RefreshToken,
		&record.IP, &record.UserAgent, &record.CreatedAt, &record.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authcore.SessionRecord{}, authcore.ErrSessionNotFound
		}
		return authcore.SessionRecord{}, fmt.Errorf("scan session: %w", err)
	}
	return record, nil
}
