package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates the audited actions
type ActivityEventType string

const (
	ActivityEventSignup         ActivityEventType = "SIGNUP"
	ActivityEventSignin         ActivityEventType = "SIGNIN"
	ActivityEventLogout         ActivityEventType = "LOGOUT"
	ActivityEventPasswordChange ActivityEventType = "PASSWORD_CHANGE"
	ActivityEventTokenRefresh   ActivityEventType = "TOKEN_REFRESH"
)

// AuditEntityUser is the entity type recorded for account events
const AuditEntityUser = "User"

// Origin describes where a request came from
type Origin struct {
	IPAddress string
	UserAgent string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	EntityType string
	EntityID   string
	UserID     string
	Origin     Origin
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
