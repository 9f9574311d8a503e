package auth_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-shelf-auth"
)

const testPassword = "Str0ng!Pass"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testAuthConfig() auth.AuthConfig {
	return auth.AuthConfig{
		AccessSecret:     "access-secret",
		RefreshSecret:    "refresh-secret",
		AccessTTL:        auth.Duration(15 * time.Minute),
		RefreshTTL:       auth.Duration(7 * 24 * time.Hour),
		Issuer:           "shelf-auth",
		MaxLoginAttempts: 5,
		LockTime:         15,
		BcryptRounds:     bcrypt.MinCost,
	}
}

type harness struct {
	auther *auth.Auther
	users  *memUsers
	sink   *recordingSink
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	users := newMemUsers()
	sink := &recordingSink{}
	clock := newFakeClock()

	auther, err := auth.NewAuthenticator(users, testAuthConfig())
	require.NoError(t, err)

	auther.
		WithPasswordHasher(auth.NewPasswordHasher(bcrypt.MinCost)).
		WithRefreshTokenStore(auth.NewRefreshTokenStore(users, auth.NewPasswordHasher(bcrypt.MinCost))).
		WithActivitySink(sink).
		WithClock(clock.Now)

	return &harness{auther: auther, users: users, sink: sink, clock: clock}
}

func (h *harness) signup(t *testing.T, email string) *auth.AuthResult {
	t.Helper()
	res, err := h.auther.Signup(context.Background(), auth.SignupInput{
		Email:     email,
		Password:  testPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	return res
}

func (h *harness) signin(email, password string) (*auth.AuthResult, error) {
	return h.auther.Signin(context.Background(), auth.SigninInput{
		Email:    email,
		Password: password,
	}, auth.Origin{IPAddress: "10.0.0.1", UserAgent: "test-agent"})
}

func TestNewAuthenticatorRequiresSecrets(t *testing.T) {
	cfg := testAuthConfig()
	cfg.RefreshSecret = ""

	auther, err := auth.NewAuthenticator(newMemUsers(), cfg)
	assert.Nil(t, auther)
	assert.ErrorIs(t, err, auth.ErrMissingSigningKey)
	assert.Equal(t, auth.KindFatal, auth.KindOf(err))
}

func TestSignup(t *testing.T) {
	t.Run("creates an active user and issues tokens", func(t *testing.T) {
		h := newHarness(t)
		ctx := auth.WithOrigin(context.Background(), auth.Origin{IPAddress: "127.0.0.1", UserAgent: "curl"})

		res, err := h.auther.Signup(ctx, auth.SignupInput{
			Email:     "  Reader@Example.com ",
			Password:  testPassword,
			FirstName: " Ada ",
			LastName:  "Lovelace",
		})
		require.NoError(t, err)

		assert.Equal(t, "reader@example.com", res.User.Email)
		assert.Equal(t, auth.RoleUser, res.User.Role)
		assert.True(t, res.User.IsActive)
		assert.Equal(t, "Ada", res.User.FirstName)
		assert.NotEmpty(t, res.AccessToken)
		assert.NotEmpty(t, res.RefreshToken)

		stored := h.users.snapshot(res.User.ID)
		require.NotNil(t, stored)
		assert.NotEqual(t, testPassword, stored.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(testPassword)))
		require.NotNil(t, stored.RefreshTokenHash)
		assert.NotEqual(t, res.RefreshToken, *stored.RefreshTokenHash)

		claims, err := h.auther.TokenService().ValidateAccess(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, res.User.ID.String(), claims.UserID())
		assert.Equal(t, "reader@example.com", claims.Email())
		assert.Equal(t, "USER", claims.Role())

		require.Len(t, h.sink.events, 1)
		event := h.sink.events[0]
		assert.Equal(t, auth.ActivityEventSignup, event.EventType)
		assert.Equal(t, auth.AuditEntityUser, event.EntityType)
		assert.Equal(t, res.User.ID.String(), event.EntityID)
		assert.Equal(t, "127.0.0.1", event.Origin.IPAddress)
		assert.Equal(t, "curl", event.Origin.UserAgent)
	})

	t.Run("rejects an email already in use regardless of case", func(t *testing.T) {
		h := newHarness(t)
		h.signup(t, "reader@example.com")

		res, err := h.auther.Signup(context.Background(), auth.SignupInput{
			Email:     "READER@example.com",
			Password:  testPassword,
			FirstName: "Other",
			LastName:  "Person",
		})
		assert.Nil(t, res)
		assert.ErrorIs(t, err, auth.ErrEmailInUse)
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))
		assert.Len(t, h.sink.events, 1)
	})

	t.Run("repository failures are internal", func(t *testing.T) {
		h := newHarness(t)
		h.users.failErr = fmt.Errorf("connection refused")

		_, err := h.auther.Signup(context.Background(), auth.SignupInput{
			Email:    "reader@example.com",
			Password: testPassword,
		})
		require.Error(t, err)
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
		assert.True(t, auth.HasTextCode(err, auth.TextCodeRepositoryFailure))
	})
}

func TestSignin(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		h := newHarness(t)
		signup := h.signup(t, "reader@example.com")

		h.users.mutate(signup.User.ID, func(u *auth.User) {
			u.FailedLoginAttempts = 3
		})

		res, err := h.signin("Reader@Example.com", testPassword)
		require.NoError(t, err)
		assert.Equal(t, signup.User.ID, res.User.ID)
		require.NotNil(t, res.User.LastLoginAt)
		assert.True(t, res.User.LastLoginAt.Equal(h.clock.Now()))

		stored := h.users.snapshot(signup.User.ID)
		assert.Equal(t, 0, stored.FailedLoginAttempts)
		assert.Nil(t, stored.LockedUntil)

		assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventSignup, auth.ActivityEventSignin}, h.sink.types())
		assert.Equal(t, "10.0.0.1", h.sink.events[1].Origin.IPAddress)
	})

	t.Run("unknown email and wrong password look the same", func(t *testing.T) {
		h := newHarness(t)
		h.signup(t, "reader@example.com")

		_, unknownErr := h.signin("nobody@example.com", testPassword)
		_, wrongErr := h.signin("reader@example.com", "Wr0ng!Pass")

		assert.ErrorIs(t, unknownErr, auth.ErrInvalidCredentials)
		assert.ErrorIs(t, wrongErr, auth.ErrInvalidCredentials)
		assert.Equal(t, richMessage(t, unknownErr), richMessage(t, wrongErr))
		assert.Equal(t, auth.KindUnauthorized, auth.KindOf(wrongErr))
	})

	t.Run("deactivated account", func(t *testing.T) {
		h := newHarness(t)
		signup := h.signup(t, "reader@example.com")
		h.users.mutate(signup.User.ID, func(u *auth.User) {
			u.IsActive = false
		})

		_, err := h.signin("reader@example.com", testPassword)
		assert.ErrorIs(t, err, auth.ErrAccountDeactivated)
		assert.Equal(t, auth.KindForbidden, auth.KindOf(err))
	})
}

func TestSigninLockout(t *testing.T) {
	h := newHarness(t)
	signup := h.signup(t, "reader@example.com")

	for i := 1; i < 5; i++ {
		_, err := h.signin("reader@example.com", "Wr0ng!Pass")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "attempt %d", i)
	}
	assert.Equal(t, 4, h.users.snapshot(signup.User.ID).FailedLoginAttempts)

	_, err := h.signin("reader@example.com", "Wr0ng!Pass")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeAccountLocked))
	assert.Equal(t, auth.KindForbidden, auth.KindOf(err))
	assert.Contains(t, richMessage(t, err), "Please try again in 15 minutes.")

	stored := h.users.snapshot(signup.User.ID)
	require.NotNil(t, stored.LockedUntil)
	assert.True(t, stored.LockedUntil.Equal(h.clock.Now().Add(15*time.Minute)))

	// the correct password is refused while locked
	h.clock.Advance(7*time.Minute + 30*time.Second)
	_, err = h.signin("reader@example.com", testPassword)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeAccountLocked))
	assert.Contains(t, richMessage(t, err), "Please try again in 8 minutes.")

	h.clock.Advance(7*time.Minute + 31*time.Second)
	res, err := h.signin("reader@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, signup.User.ID, res.User.ID)

	stored = h.users.snapshot(signup.User.ID)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestSigninLockedBeforeDeactivated(t *testing.T) {
	h := newHarness(t)
	signup := h.signup(t, "reader@example.com")

	until := h.clock.Now().Add(10 * time.Minute)
	h.users.mutate(signup.User.ID, func(u *auth.User) {
		u.IsActive = false
		u.LockedUntil = &until
	})

	_, err := h.signin("reader@example.com", testPassword)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeAccountLocked))
}

func TestRefreshTokens(t *testing.T) {
	t.Run("rotates the pair and retires the old refresh token", func(t *testing.T) {
		h := newHarness(t)
		signup := h.signup(t, "reader@example.com")

		pair, err := h.auther.RefreshTokens(context.Background(), signup.User.ID, signup.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, signup.RefreshToken, pair.RefreshToken)
		assert.NotEqual(t, signup.AccessToken, pair.AccessToken)

		_, err = h.auther.RefreshTokens(context.Background(), signup.User.ID, signup.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrAccessDenied)
		assert.Equal(t, auth.KindForbidden, auth.KindOf(err))

		_, err = h.auther.RefreshTokens(context.Background(), signup.User.ID, pair.RefreshToken)
		assert.NoError(t, err)

		assert.Contains(t, h.sink.types(), auth.ActivityEventTokenRefresh)
	})

	t.Run("a newer signin invalidates the previous refresh token", func(t *testing.T) {
		h := newHarness(t)
		signup := h.signup(t, "reader@example.com")

		_, err := h.signin("reader@example.com", testPassword)
		require.NoError(t, err)

		_, err = h.auther.RefreshTokens(context.Background(), signup.User.ID, signup.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrAccessDenied)
	})

	t.Run("unknown account", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.auther.RefreshTokens(context.Background(), uuid.New(), "whatever")
		assert.ErrorIs(t, err, auth.ErrAccessDenied)
	})
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	signup := h.signup(t, "reader@example.com")

	res, err := h.auther.Logout(context.Background(), signup.User.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.MessageLoggedOut, res.Message)
	assert.Nil(t, h.users.snapshot(signup.User.ID).RefreshTokenHash)

	_, err = h.auther.RefreshTokens(context.Background(), signup.User.ID, signup.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrAccessDenied)

	res, err = h.auther.Logout(context.Background(), signup.User.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.MessageLoggedOut, res.Message)

	// access tokens stay valid until they expire
	_, err = h.auther.TokenService().ValidateAccess(signup.AccessToken)
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	const next = "N3w!Passw0rd"

	t.Run("wrong current password", func(t *testing.T) {
		h := newHarness(t)
		signup := h.signup(t, "reader@example.com")

		_, err := h.auther.ChangePassword(context.Background(), signup.User.ID, "Wr0ng!Pass", next)
		assert.ErrorIs(t, err, auth.ErrCurrentPasswordIncorrect)
		assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))
	})

	t.Run("same password", func(t *testing.T) {
		h := newHarness(t)
		signup := h.signup(t, "reader@example.com")

		_, err := h.auther.ChangePassword(context.Background(), signup.User.ID, testPassword, testPassword)
		assert.ErrorIs(t, err, auth.ErrPasswordUnchanged)
		assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))
	})

	t.Run("unknown account", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.auther.ChangePassword(context.Background(), uuid.New(), testPassword, next)
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})

	t.Run("replaces the password and revokes the session", func(t *testing.T) {
		h := newHarness(t)
		signup := h.signup(t, "reader@example.com")

		res, err := h.auther.ChangePassword(context.Background(), signup.User.ID, testPassword, next)
		require.NoError(t, err)
		assert.Equal(t, auth.MessagePasswordChanged, res.Message)

		_, err = h.auther.RefreshTokens(context.Background(), signup.User.ID, signup.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrAccessDenied)

		_, err = h.signin("reader@example.com", testPassword)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

		_, err = h.signin("reader@example.com", next)
		assert.NoError(t, err)

		assert.Contains(t, h.sink.types(), auth.ActivityEventPasswordChange)
	})
}

func TestGetProfileAndValidateAccount(t *testing.T) {
	h := newHarness(t)
	signup := h.signup(t, "reader@example.com")

	profile, err := h.auther.GetProfile(context.Background(), signup.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", profile.Email)

	_, err = h.auther.GetProfile(context.Background(), uuid.New())
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	user, err := h.auther.ValidateAccount(context.Background(), signup.User.ID)
	require.NoError(t, err)
	assert.Equal(t, signup.User.ID, user.ID)

	tests := []struct {
		name   string
		mutate func(*auth.User)
	}{
		{
			name:   "inactive",
			mutate: func(u *auth.User) { u.IsActive = false },
		},
		{
			name: "soft deleted",
			mutate: func(u *auth.User) {
				now := time.Now()
				u.DeletedAt = &now
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			signup := h.signup(t, "reader@example.com")
			h.users.mutate(signup.User.ID, tt.mutate)

			_, err := h.auther.ValidateAccount(context.Background(), signup.User.ID)
			assert.ErrorIs(t, err, auth.ErrUserInactive)
			assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))
		})
	}

	_, err = h.auther.ValidateAccount(context.Background(), uuid.New())
	assert.ErrorIs(t, err, auth.ErrUserInactive)
}

func TestActivitySinkFailureIsLogged(t *testing.T) {
	users := newMemUsers()
	sink := new(MockActivitySink)
	sink.On("Record", mock.Anything, mock.Anything).Return(fmt.Errorf("audit store down"))

	logger := new(MockLogger)
	logger.On("Warn", "activity sink record error", mock.Anything).Once()

	auther, err := auth.NewAuthenticator(users, testAuthConfig())
	require.NoError(t, err)
	auther.
		WithLogger(logger).
		WithRefreshTokenStore(auth.NewRefreshTokenStore(users, auth.NewPasswordHasher(bcrypt.MinCost))).
		WithActivitySink(sink)

	res, err := auther.Signup(context.Background(), auth.SignupInput{
		Email:    "reader@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)

	sink.AssertExpectations(t)
	logger.AssertExpectations(t)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	signup := h.signup(t, "reader@example.com")

	claims, err := h.auther.TokenService().ValidateAccess(signup.AccessToken)
	require.NoError(t, err)

	status := h.auther.Status(claims)
	assert.True(t, status.IsAuthenticated)
	assert.Equal(t, signup.User.ID.String(), status.User.UserID)
	assert.Equal(t, "reader@example.com", status.User.Email)
	assert.Equal(t, "USER", status.User.Role)

	assert.False(t, h.auther.Status(nil).IsAuthenticated)
}

func richMessage(t *testing.T, err error) string {
	t.Helper()
	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr), "expected a rich error, got %v", err)
	return richErr.Message
}
