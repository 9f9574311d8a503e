package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// SignupInput is the payload of a new registration
type SignupInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// SigninInput holds the presented credentials
type SigninInput struct {
	Email    string
	Password string
}

// AuthResult is returned by Signup and Signin
type AuthResult struct {
	User         *UserView `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
}

// MessageResult is returned by operations with no payload
type MessageResult struct {
	Message string `json:"message"`
}

// AuthStatus describes the caller of an authenticated request
type AuthStatus struct {
	IsAuthenticated bool            `json:"isAuthenticated"`
	User            *AuthStatusUser `json:"user,omitempty"`
}

type AuthStatusUser struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

const (
	MessageLoggedOut       = "Successfully logged out"
	MessagePasswordChanged = "Password changed successfully. Please login again."
)

// Auther runs the signup, signin, refresh, logout and password change protocols
type Auther struct {
	users        Users
	hasher       *PasswordHasher
	lockout      *LockoutTracker
	tokens       TokenService
	refresh      *RefreshTokenStore
	activitySink ActivitySink
	logger       Logger
	provider     LoggerProvider
	now          func() time.Time

	threshold int
	window    time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthenticator returns a new Authenticator. It fails when the signing
// secrets are missing.
func NewAuthenticator(users Users, cfg AuthConfig) (*Auther, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, logger := ResolveLogger("auth.authenticator", nil, nil)

	tokens, err := NewTokenService(cfg.TokenConfig(), logger)
	if err != nil {
		return nil, err
	}

	return &Auther{
		users:        users,
		hasher:       NewPasswordHasher(cfg.BcryptRounds),
		lockout:      NewLockoutTracker(cfg.MaxLoginAttempts, cfg.LockWindow()),
		tokens:       tokens,
		refresh:      NewRefreshTokenStore(users, NewPasswordHasher(TokenFingerprintCost)),
		activitySink: noopActivitySink{},
		logger:       logger,
		provider:     provider,
		now:          time.Now,
		threshold:    cfg.MaxLoginAttempts,
		window:       cfg.LockWindow(),
	}, nil
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.provider, s.logger = ResolveLogger("auth.authenticator", s.provider, logger)
	if ts, ok := s.tokens.(*TokenServiceImpl); ok {
		ts.logger = s.logger
	}
	return s
}

// WithLoggerProvider overrides the logger provider used by the authenticator.
func (s *Auther) WithLoggerProvider(provider LoggerProvider) *Auther {
	s.provider, s.logger = ResolveLogger("auth.authenticator", provider, nil)
	if ts, ok := s.tokens.(*TokenServiceImpl); ok {
		_, ts.logger = ResolveLogger("auth.tokens", s.provider, nil)
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenService replaces the token issuer
func (s *Auther) WithTokenService(tokens TokenService) *Auther {
	if tokens != nil {
		s.tokens = tokens
	}
	return s
}

// WithPasswordHasher replaces the password hasher
func (s *Auther) WithPasswordHasher(hasher *PasswordHasher) *Auther {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

// WithRefreshTokenStore replaces the refresh fingerprint store
func (s *Auther) WithRefreshTokenStore(store *RefreshTokenStore) *Auther {
	if store != nil {
		s.refresh = store
	}
	return s
}

// WithClock overrides the time source for lockout and token timestamps
func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now == nil {
		return s
	}
	s.now = now
	s.lockout = NewLockoutTracker(s.threshold, s.window, WithLockoutClock(now))
	if ts, ok := s.tokens.(*TokenServiceImpl); ok {
		ts.WithClock(now)
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokens
}

// Lockout returns the lockout policy in use
func (s *Auther) Lockout() *LockoutTracker {
	return s.lockout
}

// Signup registers a new account and signs it in
func (s *Auther) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailInUse
	} else if !repository.IsRecordNotFound(err) {
		s.logger.Error("Signup lookup error", "error", err)
		return nil, repositoryError(err, "failed to look up account during signup")
	}

	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, &User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         RoleUser,
		IsActive:     true,
	})
	if err != nil {
		if HasTextCode(err, TextCodeEmailInUse) {
			return nil, err
		}
		s.logger.Error("Signup create error", "error", err)
		return nil, repositoryError(err, "failed to create account")
	}

	pair, err := s.tokens.IssuePair(ctx, NewIdentityFromUser(user))
	if err != nil {
		return nil, err
	}

	if err := s.refresh.Persist(ctx, user.ID, pair.RefreshToken); err != nil {
		s.logger.Error("Signup persist refresh token error", "error", err)
		return nil, repositoryError(err, "failed to persist refresh token")
	}

	s.emitAuthEvent(ctx, ActivityEventSignup, user.ID, OriginFromContext(ctx), map[string]any{
		"email": user.Email,
	})

	return &AuthResult{
		User:         user.Sanitize(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Signin verifies credentials, applies the lockout policy and issues a token pair
func (s *Auther) Signin(ctx context.Context, in SigninInput, origin Origin) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// spend the same hashing time as a real comparison
			s.hasher.Verify(in.Password, s.dummyPasswordHash())
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("Signin lookup error", "error", err)
		return nil, repositoryError(err, "failed to look up account during signin")
	}

	if s.lockout.IsLocked(user) {
		return nil, NewAccountLockedError(s.lockout.RemainingMinutes(user))
	}

	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return nil, s.recordFailedSignin(ctx, user)
	}

	pair, err := s.tokens.IssuePair(ctx, NewIdentityFromUser(user))
	if err != nil {
		return nil, err
	}

	fingerprint, err := s.refresh.Fingerprint(pair.RefreshToken)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to fingerprint refresh token")
	}

	loggedInAt := s.now()
	if err := s.users.RecordSuccessfulLogin(ctx, user.ID, fingerprint, loggedInAt); err != nil {
		s.logger.Error("Signin track successful login error", "error", err)
		return nil, repositoryError(err, "failed to track successful login")
	}

	s.lockout.RecordSuccess(user)
	user.LastLoginAt = &loggedInAt
	user.RefreshTokenHash = &fingerprint

	s.emitAuthEvent(ctx, ActivityEventSignin, user.ID, origin, nil)

	return &AuthResult{
		User:         user.Sanitize(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

func (s *Auther) recordFailedSignin(ctx context.Context, user *User) error {
	updated, err := s.users.RecordFailedLogin(ctx, user.ID, s.lockout.FailureUpdate())
	if err != nil {
		s.logger.Error("Signin track attempted login error", "error", err)
		return repositoryError(err, "failed to track login attempt")
	}

	if s.lockout.State(updated) == LockoutLocked {
		s.logger.Warn("account locked after failed signin attempts",
			"user_id", user.ID.String(),
			"attempts", updated.FailedLoginAttempts,
		)
		return NewAccountLockedError(s.lockout.RemainingMinutes(updated))
	}

	return ErrInvalidCredentials
}

// RefreshTokens rotates the refresh token of accountID. The presented token
// must match the stored fingerprint and can only be used once.
func (s *Auther) RefreshTokens(ctx context.Context, accountID uuid.UUID, presented string) (*TokenPair, error) {
	user, err := s.users.GetByID(ctx, accountID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccessDenied
		}
		s.logger.Error("RefreshTokens lookup error", "error", err)
		return nil, repositoryError(err, "failed to look up account during refresh")
	}

	if !s.refresh.Matches(user.RefreshTokenHash, presented) {
		return nil, ErrAccessDenied
	}

	pair, err := s.tokens.IssuePair(ctx, NewIdentityFromUser(user))
	if err != nil {
		return nil, err
	}

	if err := s.refresh.Rotate(ctx, user.ID, user.RefreshTokenHash, pair.RefreshToken); err != nil {
		if errors.Is(err, ErrAccessDenied) {
			return nil, ErrAccessDenied
		}
		s.logger.Error("RefreshTokens rotate error", "error", err)
		return nil, repositoryError(err, "failed to persist refresh token")
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefresh, user.ID, OriginFromContext(ctx), nil)

	return pair, nil
}

// Logout revokes the refresh token of accountID. Calling it twice is fine.
func (s *Auther) Logout(ctx context.Context, accountID uuid.UUID) (*MessageResult, error) {
	if err := s.refresh.Revoke(ctx, accountID); err != nil {
		s.logger.Error("Logout revoke error", "error", err)
		return nil, repositoryError(err, "failed to revoke refresh token")
	}

	s.emitAuthEvent(ctx, ActivityEventLogout, accountID, OriginFromContext(ctx), nil)

	return &MessageResult{Message: MessageLoggedOut}, nil
}

// ChangePassword replaces the password and revokes the refresh token
func (s *Auther) ChangePassword(ctx context.Context, accountID uuid.UUID, current, next string) (*MessageResult, error) {
	user, err := s.users.GetByID(ctx, accountID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("ChangePassword lookup error", "error", err)
		return nil, repositoryError(err, "failed to look up account during password change")
	}

	if !s.hasher.Verify(current, user.PasswordHash) {
		return nil, ErrCurrentPasswordIncorrect
	}

	if s.hasher.Verify(next, user.PasswordHash) {
		return nil, ErrPasswordUnchanged
	}

	hash, err := s.hasher.HashPassword(next)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("ChangePassword update error", "error", err)
		return nil, repositoryError(err, "failed to update password")
	}

	s.emitAuthEvent(ctx, ActivityEventPasswordChange, user.ID, OriginFromContext(ctx), nil)

	return &MessageResult{Message: MessagePasswordChanged}, nil
}

// GetProfile returns the sanitized account
func (s *Auther) GetProfile(ctx context.Context, accountID uuid.UUID) (*UserView, error) {
	user, err := s.users.GetByID(ctx, accountID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, repositoryError(err, "failed to load profile")
	}
	return user.Sanitize(), nil
}

// ValidateAccount is the trust gate for protected requests: the account
// must exist, be active and not soft deleted.
func (s *Auther) ValidateAccount(ctx context.Context, accountID uuid.UUID) (*User, error) {
	user, err := s.users.GetByID(ctx, accountID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserInactive
		}
		return nil, repositoryError(err, "failed to validate account")
	}

	if !user.IsActive || user.IsDeleted() {
		return nil, ErrUserInactive
	}

	return user, nil
}

// Status reports who the access token belongs to
func (s *Auther) Status(claims AuthClaims) *AuthStatus {
	if claims == nil {
		return &AuthStatus{IsAuthenticated: false}
	}
	return &AuthStatus{
		IsAuthenticated: true,
		User: &AuthStatusUser{
			UserID: claims.UserID(),
			Email:  claims.Email(),
			Role:   claims.Role(),
		},
	}
}

func (s *Auther) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.HashPassword(uuid.NewString())
		if err != nil {
			s.logger.Error("failed to build dummy password hash", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, userID uuid.UUID, origin Origin, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType:  eventType,
		EntityType: AuditEntityUser,
		EntityID:   userID.String(),
		UserID:     userID.String(),
		Origin:     origin,
		Metadata:   metadata,
		OccurredAt: s.now(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error", "event", eventType, "error", err)
	}
}
