package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authcore-dev/authcore/policy"
)

// SettingsStore serves per-account policies from the account_policies
// table. Accounts without a row get the zero policy. Wrap it in
// [policy.NewCached] so logins do not hit the table every time.
type SettingsStore struct {
	pool *pgxpool.Pool
}

func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

var _ policy.SettingsStore = (*SettingsStore)(nil)

func (s *SettingsStore) Settings(ctx context.Context, userID string) (policy.Policy, error) {
	var pol policy.Policy
	err := s.pool.QueryRow(ctx, `
		SELECT attempt_limit, password_expiry, mfa_required, single_session
		FROM account_policies WHERE user_id = $1`, userID).
		Scan(&pol.AttemptLimit, &pol.PasswordExpiry, &pol.MFARequired, &pol.SingleSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return policy.Policy{}, nil
		}
		return policy.Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return pol, nil
}

// SetSettings upserts the account's policy row.
func (s *SettingsStore) SetSettings(ctx context.Context, userID string, pol policy.Policy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_policies (user_id, attempt_limit, password_expiry, mfa_required, single_session)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			attempt_limit = EXCLUDED.attempt_limit,
			password_expiry = EXCLUDED.password_expiry,
			mfa_required = EXCLUDED.mfa_required,
			single_session = EXCLUDED.single_session`,
		userID, pol.AttemptLimit, pol.PasswordExpiry, pol.MFARequired, pol.SingleSession)
	if err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	return nil
}
