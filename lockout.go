package auth

import (
	"math"
	"time"
)

// LockoutState is the lock status of an account
type LockoutState string

const (
	LockoutOpen   LockoutState = "open"
	LockoutLocked LockoutState = "locked"
)

// LockoutTracker applies the failed attempt policy to accounts.
// It only mutates the given record; persistence is up to the caller.
type LockoutTracker struct {
	threshold int
	window    time.Duration
	now       func() time.Time
}

// LockoutOption configures a LockoutTracker
type LockoutOption func(*LockoutTracker)

// WithLockoutClock overrides the time source
func WithLockoutClock(now func() time.Time) LockoutOption {
	return func(t *LockoutTracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewLockoutTracker creates a tracker that locks an account for window once
// threshold consecutive failures are reached.
func NewLockoutTracker(threshold int, window time.Duration, opts ...LockoutOption) *LockoutTracker {
	if threshold < 1 {
		threshold = DefaultMaxLoginAttempts
	}
	if window <= 0 {
		window = DefaultLockTimeMinutes * time.Minute
	}

	t := &LockoutTracker{
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Threshold returns the number of failures that triggers a lock
func (t *LockoutTracker) Threshold() int {
	return t.threshold
}

// Window returns the lock duration
func (t *LockoutTracker) Window() time.Duration {
	return t.window
}

// LockDeadline is the locked_until value for a lock starting now
func (t *LockoutTracker) LockDeadline() time.Time {
	return t.now().Add(t.window)
}

// FailedLoginUpdate is the transition of one failed signin: the counter goes
// up by one and, once it reaches Threshold, the account is locked until
// LockUntil. An expired lock with the counter already past the threshold is
// locked again by the next failure.
type FailedLoginUpdate struct {
	Threshold int
	LockUntil time.Time
}

// Apply runs the transition on an in-memory record
func (u FailedLoginUpdate) Apply(user *User) {
	if user == nil {
		return
	}
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= u.Threshold {
		until := u.LockUntil
		user.LockedUntil = &until
	}
}

// FailureUpdate returns the transition for a failure happening now.
// Stores apply it atomically, see Users.RecordFailedLogin.
func (t *LockoutTracker) FailureUpdate() FailedLoginUpdate {
	return FailedLoginUpdate{
		Threshold: t.threshold,
		LockUntil: t.LockDeadline(),
	}
}

// RecordFailure applies FailureUpdate to user and returns the new state
func (t *LockoutTracker) RecordFailure(user *User) LockoutState {
	if user == nil {
		return LockoutOpen
	}
	t.FailureUpdate().Apply(user)
	return t.State(user)
}

// RecordSuccess clears the counter and any lock
func (t *LockoutTracker) RecordSuccess(user *User) {
	if user == nil {
		return
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
}

// IsLocked reports whether the lock deadline is still in the future
func (t *LockoutTracker) IsLocked(user *User) bool {
	if user == nil || user.LockedUntil == nil {
		return false
	}
	return t.now().Before(*user.LockedUntil)
}

// State returns the current lock state
func (t *LockoutTracker) State(user *User) LockoutState {
	if t.IsLocked(user) {
		return LockoutLocked
	}
	return LockoutOpen
}

// RemainingMinutes is the lock time left, rounded up to whole minutes
func (t *LockoutTracker) RemainingMinutes(user *User) int {
	if !t.IsLocked(user) {
		return 0
	}
	remaining := user.LockedUntil.Sub(t.now())
	return int(math.Ceil(remaining.Minutes()))
}
