// Package policy supplies the account policies the engine consults at
// login and refresh time: attempt limiting, password expiry, MFA
// enforcement, and the single-session rule.
//
// [Static] serves one fixed policy; [Cached] reads through a settings
// store with a TTL so policy flips take effect without hitting the
// store on every login.
package policy

import (
	"context"
	"sync"
	"time"
)

// Policy is the set of flags and limits applied to an account.
type Policy struct {
	// AttemptLimit is the number of consecutive failed password attempts
	// tolerated before logins are refused. Zero disables limiting.
	AttemptLimit int

	// PasswordExpiry makes credentials past their expiry stamp unusable.
	PasswordExpiry bool

	// MFARequired forces factor enrollment: logins by users without a
	// factor return a setup challenge instead of tokens.
	MFARequired bool

	// SingleSession revokes all existing sessions when a new one is
	// created.
	SingleSession bool
}

// Provider yields the policy in force for a user.
type Provider interface {
	Policy(ctx context.Context, userID string) (Policy, error)
}

// SettingsStore is the persistent source Cached reads through.
type SettingsStore interface {
	Settings(ctx context.Context, userID string) (Policy, error)
}

// Static serves the same policy for every user.
type Static struct {
	Value Policy
}

func (s Static) Policy(context.Context, string) (Policy, error) {
	return s.Value, nil
}

type cacheEntry struct {
	policy    Policy
	expiresAt time.Time
}

// Cached is a Provider that caches per-user settings for a TTL.
type Cached struct {
	store SettingsStore
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCached(store SettingsStore, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cached) Policy(ctx context.Context, userID string) (Policy, error) {
	now := time.Now()

	c.mu.Lock()
	entry, ok := c.entries[userID]
	c.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.policy, nil
	}

	policy, err := c.store.Settings(ctx, userID)
	if err != nil {
		// Serve a stale entry over failing the login path.
		if ok {
			return entry.policy, nil
		}
		return Policy{}, err
	}

	c.mu.Lock()
	c.entries[userID] = cacheEntry{policy: policy, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return policy, nil
}

// Invalidate drops the cached entry for userID so the next read goes to
// the store.
func (c *Cached) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}
