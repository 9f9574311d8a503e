package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	auth "github.com/goliatone/go-shelf-auth"
)

// memUsers is an in-memory auth.Users used by the orchestrator tests
type memUsers struct {
	mu      sync.Mutex
	records map[uuid.UUID]*auth.User
	failErr error
}

var _ auth.Users = (*memUsers)(nil)

func newMemUsers() *memUsers {
	return &memUsers{records: map[uuid.UUID]*auth.User{}}
}

func (m *memUsers) notFound() error {
	return repository.NewRecordNotFound()
}

func (m *memUsers) live(id uuid.UUID) (*auth.User, bool) {
	u, ok := m.records[id]
	if !ok || u.DeletedAt != nil {
		return nil, false
	}
	return u, true
}

func clone(u *auth.User) *auth.User {
	c := *u
	return &c
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return nil, m.failErr
	}

	email = auth.NormalizeEmail(email)
	for _, u := range m.records {
		if u.Email == email && u.DeletedAt == nil {
			return clone(u), nil
		}
	}
	return nil, m.notFound()
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.live(id)
	if !ok {
		return nil, m.notFound()
	}
	return clone(u), nil
}

func (m *memUsers) Create(_ context.Context, user *auth.User) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user.Email = auth.NormalizeEmail(user.Email)
	for _, u := range m.records {
		if u.Email == user.Email && u.DeletedAt == nil {
			return nil, auth.ErrEmailInUse
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = auth.RoleUser
	}
	now := time.Now()
	user.CreatedAt = &now
	user.UpdatedAt = &now

	m.records[user.ID] = clone(user)
	return clone(user), nil
}

func (m *memUsers) Update(_ context.Context, user *auth.User, _ ...string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(user.ID); !ok {
		return nil, m.notFound()
	}
	m.records[user.ID] = clone(user)
	return clone(user), nil
}

func (m *memUsers) RecordFailedLogin(_ context.Context, id uuid.UUID, update auth.FailedLoginUpdate) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.live(id)
	if !ok {
		return nil, m.notFound()
	}
	update.Apply(u)
	return clone(u), nil
}

func (m *memUsers) RecordSuccessfulLogin(_ context.Context, id uuid.UUID, refreshHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.live(id)
	if !ok {
		return nil
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &at
	u.RefreshTokenHash = &refreshHash
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.live(id)
	if !ok {
		return m.notFound()
	}
	u.PasswordHash = passwordHash
	u.RefreshTokenHash = nil
	return nil
}

func (m *memUsers) GetRefreshTokenHash(_ context.Context, id uuid.UUID) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.live(id)
	if !ok {
		return nil, m.notFound()
	}
	return u.RefreshTokenHash, nil
}

func (m *memUsers) SetRefreshTokenHash(_ context.Context, id uuid.UUID, hash *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.live(id)
	if !ok {
		return nil
	}
	u.RefreshTokenHash = hash
	return nil
}

func (m *memUsers) RotateRefreshTokenHash(_ context.Context, id uuid.UUID, current, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.live(id)
	if !ok || u.RefreshTokenHash == nil || *u.RefreshTokenHash != current {
		return false, nil
	}
	u.RefreshTokenHash = &next
	return true, nil
}

// mutate edits a stored record in place
func (m *memUsers) mutate(id uuid.UUID, fn func(*auth.User)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.records[id]; ok {
		fn(u)
	}
}

func (m *memUsers) snapshot(id uuid.UUID) *auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.records[id]; ok {
		return clone(u)
	}
	return nil
}

// MockActivitySink implements auth.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// recordingSink keeps every event it receives
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// MockLogger implements auth.Logger
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) { m.Called(format, args) }
func (m *MockLogger) Info(format string, args ...any)  { m.Called(format, args) }
func (m *MockLogger) Warn(format string, args ...any)  { m.Called(format, args) }
func (m *MockLogger) Error(format string, args ...any) { m.Called(format, args) }
