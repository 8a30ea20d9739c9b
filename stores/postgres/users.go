package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authcore-dev/authcore"
	"github.com/authcore-dev/authcore/password"
	"github.com/authcore-dev/authcore/permission"
)

// UserStore is the pgx-backed [authcore.UserStore].
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

var _ authcore.UserStore = (*UserStore)(nil)

const userColumns = `user_id, username, status, password_hash, password_created_at,
	COALESCE(password_expires_at, 'epoch'::timestamptz), failed_attempts,
	totp_secret, totp_enabled, channel_handle, channel_enabled,
	created_at, modified_at`

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (authcore.UserRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return s.scanUserWithRoles(ctx, row)
}

func (s *UserStore) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
	return s.scanUserWithRoles(ctx, row)
}

// CreateUser inserts a new active account. An empty UserID gets a fresh
// UUID; the filled record is returned.
func (s *UserStore) CreateUser(ctx context.Context, user authcore.UserRecord) (authcore.UserRecord, error) {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (
			user_id, username, status, password_hash, password_created_at,
			password_expires_at, totp_secret, totp_enabled,
			channel_handle, channel_enabled
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, 'epoch'::timestamptz), $7, $8, $9, $10)`,
		user.UserID, user.Username, int16(user.Status), user.PasswordHash,
		user.PasswordCreatedAt, user.PasswordExpiresAt,
		user.TOTPSecret, user.TOTPEnabled,
		user.ChannelHandle, user.ChannelEnabled,
	)
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("insert user: %w", err)
	}
	for _, role := range user.Roles {
		if err := s.AssignRole(ctx, user.UserID, role.Name); err != nil {
			return authcore.UserRecord{}, err
		}
	}
	return user, nil
}

// IncrementFailedAttempts bumps the counter in a single statement so
// concurrent failures never lose an increment.
func (s *UserStore) IncrementFailedAttempts(ctx context.Context, userID string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE users
		SET failed_attempts = failed_attempts + 1, modified_at = now()
		WHERE user_id = $1
		RETURNING failed_attempts`, userID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, authcore.ErrUserNotFound
		}
		return 0, fmt.Errorf("increment failed attempts: %w", err)
	}
	return attempts, nil
}

func (s *UserStore) ResetFailedAttempts(ctx context.Context, userID string) error {
	return s.update(ctx, userID, `
		UPDATE users SET failed_attempts = 0, modified_at = now()
		WHERE user_id = $1`)
}

func (s *UserStore) UpdatePassword(ctx context.Context, userID string, cred password.Credential) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, password_created_at = $3,
		    password_expires_at = NULLIF($4, 'epoch'::timestamptz),
		    modified_at = now()
		WHERE user_id = $1`,
		userID, cred.Hash, cred.CreatedAt, cred.ExpiresAt)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) EnableFactor(ctx context.Context, userID string, factor authcore.Factor, secret string) error {
	var query string
	switch factor {
	case authcore.FactorTOTP:
		query = `
			UPDATE users SET totp_secret = $2, totp_enabled = TRUE, modified_at = now()
			WHERE user_id = $1`
	case authcore.FactorChannel:
		query = `
			UPDATE users SET channel_handle = $2, channel_enabled = TRUE, modified_at = now()
			WHERE user_id = $1`
	default:
		return errors.New("unknown factor")
	}

	tag, err := s.pool.Exec(ctx, query, userID, secret)
	if err != nil {
		return fmt.Errorf("enable factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) DisableFactors(ctx context.Context, userID string) error {
	return s.update(ctx, userID, `
		UPDATE users
		SET totp_secret = '', totp_enabled = FALSE,
		    channel_handle = '', channel_enabled = FALSE,
		    modified_at = now()
		WHERE user_id = $1`)
}

// SetStatus flips the account lifecycle state.
func (s *UserStore) SetStatus(ctx context.Context, userID string, status authcore.AccountStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET status = $2, modified_at = now() WHERE user_id = $1`,
		userID, int16(status))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

// CreateRole upserts a role and replaces its permission grants.
func (s *UserStore) CreateRole(ctx context.Context, name string, permissions []string) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO roles (role_name) VALUES ($1) ON CONFLICT DO NOTHING`, name); err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM role_permissions WHERE role_name = $1`, name); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	for _, perm := range permissions {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO role_permissions (role_name, permission) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, name, perm); err != nil {
			return fmt.Errorf("grant role permission: %w", err)
		}
	}
	return nil
}

// AssignRole grants a role to the account. Assigning an already-held
// role is a no-op.
func (s *UserStore) AssignRole(ctx context.Context, userID, roleName string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_name) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, roleName)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RevokeRole removes a role from the account.
func (s *UserStore) RevokeRole(ctx context.Context, userID, roleName string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM user_roles WHERE user_id = $1 AND role_name = $2`, userID, roleName)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

func (s *UserStore) update(ctx context.Context, userID, query string) error {
	tag, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) scanUserWithRoles(ctx context.Context, row pgx.Row) (authcore.UserRecord, error) {
	user, err := scanUser(row)
	if err != nil {
		return authcore.UserRecord{}, err
	}
	user.Roles, err = s.loadRoles(ctx, user.UserID)
	if err != nil {
		return authcore.UserRecord{}, err
	}
	return user, nil
}

// loadRoles collects the account's roles with their permission grants.
func (s *UserStore) loadRoles(ctx context.Context, userID string) ([]permission.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ur.role_name,
		       COALESCE(array_agg(rp.permission ORDER BY rp.permission)
		                FILTER (WHERE rp.permission IS NOT NULL), '{}')
		FROM user_roles ur
		LEFT JOIN role_permissions rp ON rp.role_name = ur.role_name
		WHERE ur.user_id = $1
		GROUP BY ur.role_name
		ORDER BY ur.role_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	defer rows.Close()

	var roles []permission.Role
	for rows.Next() {
		var role permission.Role
		if err := rows.Scan(&role.Name, &role.Permissions); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return roles, nil
}

func scanUser(row pgx.Row) (authcore.UserRecord, error) {
	var (
		user   authcore.UserRecord
		status int16
		expiry time.Time
	)
	err := row.Scan(
		&user.UserID, &user.Username, &status,
		&user.PasswordHash, &user.PasswordCreatedAt, &expiry, &user.FailedAttempts,
		&user.TOTPSecret, &user.TOTPEnabled,
		&user.ChannelHandle, &user.ChannelEnabled,
		&user.CreatedAt, &user.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, fmt.Errorf("scan user: %w", err)
	}
	user.Status = authcore.AccountStatus(status)
	// 'epoch' stands in for NULL so the engine sees a zero-ish stamp.
	if expiry.Unix() != 0 {
		user.PasswordExpiresAt = expiry
	}
	return user, nil
}
