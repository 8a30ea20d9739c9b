package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL the stores expect. Apply it with Migrate or through
// the deployment's own migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id             UUID PRIMARY KEY,
    username            TEXT NOT NULL UNIQUE,
    status              SMALLINT NOT NULL DEFAULT 0,
    password_hash       TEXT NOT NULL,
    password_created_at TIMESTAMPTZ NOT NULL,
    password_expires_at TIMESTAMPTZ,
    failed_attempts     INTEGER NOT NULL DEFAULT 0,
    totp_secret         TEXT NOT NULL DEFAULT '',
    totp_enabled        BOOLEAN NOT NULL DEFAULT FALSE,
    channel_handle      TEXT NOT NULL DEFAULT '',
    channel_enabled     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    modified_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS roles (
    role_name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS role_permissions (
    role_name  TEXT NOT NULL REFERENCES roles (role_name) ON DELETE CASCADE,
    permission TEXT NOT NULL,
    PRIMARY KEY (role_name, permission)
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_id   UUID NOT NULL REFERENCES users (user_id) ON DELETE CASCADE,
    role_name TEXT NOT NULL REFERENCES roles (role_name) ON DELETE CASCADE,
    PRIMARY KEY (user_id, role_name)
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id    TEXT PRIMARY KEY,
    user_id       UUID NOT NULL REFERENCES users (user_id) ON DELETE CASCADE,
    refresh_token TEXT NOT NULL,
    ip            TEXT NOT NULL DEFAULT '',
    user_agent    TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    expires_at    TIMESTAMPTZ NOT NULL,
    revoked_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sessions_user_live_idx
    ON sessions (user_id) WHERE revoked_at IS NULL;

CREATE TABLE IF NOT EXISTS account_policies (
    user_id         UUID PRIMARY KEY REFERENCES users (user_id) ON DELETE CASCADE,
    attempt_limit   INTEGER NOT NULL DEFAULT 0,
    password_expiry BOOLEAN NOT NULL DEFAULT FALSE,
    mfa_required    BOOLEAN NOT NULL DEFAULT FALSE,
    single_session  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS audit_events (
    event_id   UUID PRIMARY KEY,
    occurred_at TIMESTAMPTZ NOT NULL,
    event_type TEXT NOT NULL,
    user_id    TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    ip         TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    success    BOOLEAN NOT NULL,
    error_code TEXT NOT NULL DEFAULT '',
    metadata   JSONB
);
CREATE INDEX IF NOT EXISTS audit_events_user_idx ON audit_events (user_id, occurred_at);
`

// Migrate applies Schema to the pool's database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
