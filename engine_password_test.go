package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/authcore-dev/authcore/policy"
)

func TestCreatePassword(t *testing.T) {
	f := testEngine(t, policy.Policy{})

	cred, err := f.engine.CreatePassword(context.Background(), "hunter2hunter2")
	if err != nil {
		t.Fatalf("CreatePassword error: %v", err)
	}
	if !strings.HasPrefix(cred.Hash, "$argon2id$") {
		t.Fatalf("unexpected hash format: %q", cred.Hash)
	}
	if cred.ExpiresAt.IsZero() {
		t.Fatal("expected a validity stamp")
	}
}

func TestPasswordChangeAppliedImmediately(t *testing.T) {
	f := testEngine(t, policy.Policy{})
	f.addUser(t, "u1", "alice", "old password")
	login := f.login(t, "alice", "old password")

	result, err := f.engine.RequestPasswordChange(context.Background(), login.AccessToken, "old password", "new password")
	if err != nil {
		t.Fatalf("RequestPasswordChange error: %v", err)
	}
	if !result.Applied {
		t.Fatal("expected the change to apply immediately without a factor")
	}

	// Every session is revoked on apply.
	if _, err := f.engine.VerifyAccess(context.Background(), login.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	if _, err := f.engine.Login(context.Background(), "alice", "old password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	f.login(t, "alice", "new password")
}

func TestPasswordChangeWrongCurrent(t *testing.T) {
	f := testEngine(t, policy.Policy{})
	f.addUser(t, "u1", "alice", "pw")
	login := f.login(t, "alice", "pw")

	_, err := f.engine.RequestPasswordChange(context.Background(), login.AccessToken, "wrong", "new password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestPasswordChangeRejectsReuse(t *testing.T) {
	f := testEngine(t, policy.Policy{})
	f.addUser(t, "u1", "alice", "pw")
	login := f.login(t, "alice", "pw")

	_, err := f.engine.RequestPasswordChange(context.Background(), login.AccessToken, "pw", "pw")
	if !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
}

func TestPasswordChangeStagedBehindMFA(t *testing.T) {
	f := testEngine(t, policy.Policy{})
	f.addUser(t, "u1", "alice", "old password")
	secret := f.enrollTOTP(t, "u1")

	login, err := f.engine.Login(context.Background(), "alice", "old password")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	confirmed, err := f.engine.ConfirmLogin(context.Background(),
		login.ChallengeToken, login.ReferenceToken, f.totpCode(t, secret))
	if err != nil {
		t.Fatalf("ConfirmLogin error: %v", err)
	}

	staged, err := f.engine.RequestPasswordChange(context.Background(),
		confirmed.AccessToken, "old password", "new password")
	if err != nil {
		t.Fatalf("RequestPasswordChange error: %v", err)
	}
	if staged.Applied {
		t.Fatal("expected the change to be staged behind the factor")
	}
	if staged.ChallengeToken == "" || staged.ReferenceToken == "" {
		t.Fatalf("incomplete staged result: %+v", staged)
	}

	// The password is untouched until the challenge is confirmed.
	if _, err := f.engine.Login(context.Background(), "alice", "new password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("staged password must not be live yet, got %v", err)
	}
	f.users.mutate("u1", func(u *UserRecord) { u.FailedAttempts = 0 })

	err = f.engine.ConfirmPasswordChange(context.Background(),
		staged.ChallengeToken, staged.ReferenceToken, f.totpCode(t, secret))
	if err != nil {
		t.Fatalf("ConfirmPasswordChange error: %v", err)
	}

	if _, err := f.engine.VerifyAccess(context.Background(), confirmed.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected sessions revoked after apply, got %v", err)
	}

	result, err := f.engine.Login(context.Background(), "alice", "new password")
	if err != nil {
		t.Fatalf("Login with new password error: %v", err)
	}
	if result.Kind != ResultMFAConfirmRequired {
		t.Fatalf("expected MFA confirm step, got kind %d", result.Kind)
	}
}

func TestConfirmPasswordChangeIsSingleUse(t *testing.T) {
	f := testEngine(t, policy.Policy{})
	f.addUser(t, "u1", "alice", "old password")
	secret := f.enrollTOTP(t, "u1")

	login, err := f.engine.Login(context.Background(), "alice", "old password")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	confirmed, err := f.engine.ConfirmLogin(context.Background(),
		login.ChallengeToken, login.ReferenceToken, f.totpCode(t, secret))
	if err != nil {
		t.Fatalf("ConfirmLogin error: %v", err)
	}

	staged, err := f.engine.RequestPasswordChange(context.Background(),
		confirmed.AccessToken, "old password", "new password")
	if err != nil {
		t.Fatalf("RequestPasswordChange error: %v", err)
	}

	code := f.totpCode(t, secret)
	if err := f.engine.ConfirmPasswordChange(context.Background(), staged.ChallengeToken, staged.ReferenceToken, code); err != nil {
		t.Fatalf("first ConfirmPasswordChange error: %v", err)
	}
	err = f.engine.ConfirmPasswordChange(context.Background(), staged.ChallengeToken, staged.ReferenceToken, code)
	if !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid on replay, got %v", err)
	}
}

func TestPasswordChangeRequiresValidToken(t *testing.T) {
	f := testEngine(t, policy.Policy{})

	_, err := f.engine.RequestPasswordChange(context.Background(), "garbage", "old", "new")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
