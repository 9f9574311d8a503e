package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging surface used across the package. It is satisfied
// by go-logger's glog loggers.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// LoggerProvider hands out named loggers
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function to the LoggerProvider interface.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return defLogger{}
	}
	if lgr := f(name); lgr != nil {
		return lgr
	}
	return defLogger{}
}

// ResolveLogger picks the logger for a component: an explicit logger wins,
// then the provider, then the default stdout logger.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if logger != nil {
		return provider, logger
	}
	if provider != nil {
		if lgr := provider.GetLogger(name); lgr != nil {
			return provider, lgr
		}
	}
	return provider, defLogger{}
}

// Users is the account store consumed by the orchestrator.
type Users interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, user *User, columns ...string) (*User, error)
	RecordFailedLogin(ctx context.Context, id uuid.UUID, update FailedLoginUpdate) (*User, error)
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, refreshHash string, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	RefreshTokenRepository
}

// RefreshTokenRepository persists the single refresh token fingerprint of an account.
type RefreshTokenRepository interface {
	GetRefreshTokenHash(ctx context.Context, id uuid.UUID) (*string, error)
	SetRefreshTokenHash(ctx context.Context, id uuid.UUID, hash *string) error
	// RotateRefreshTokenHash swaps current for next only while current is
	// still stored, and reports whether the swap happened.
	RotateRefreshTokenHash(ctx context.Context, id uuid.UUID, current, next string) (bool, error)
}

// PasswordAuthenticator hashes and compares passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Identity holds the attributes of an authenticated account
type Identity interface {
	ID() string
	Email() string
	Role() string
}

// defLogger prints to stdout. Messages carry key/value pairs the way glog
// takes them; a format with verbs is rendered with Sprintf instead.
type defLogger struct {
	out io.Writer
}

func (d defLogger) Error(format string, args ...any) {
	d.print("[ERR]", format, args...)
}

func (d defLogger) Warn(format string, args ...any) {
	d.print("[WRN]", format, args...)
}

func (d defLogger) Info(format string, args ...any) {
	d.print("[INF]", format, args...)
}

func (d defLogger) Debug(format string, args ...any) {
	d.print("[DBG]", format, args...)
}

func (d defLogger) print(level, format string, args ...any) {
	out := d.out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintln(out, level+" AUTH "+formatLogLine(format, args...))
}

func formatLogLine(format string, args ...any) string {
	format = strings.TrimRight(format, "\n")
	if len(args) == 0 {
		return format
	}
	if strings.Contains(format, "%") {
		return fmt.Sprintf(format, args...)
	}

	var b strings.Builder
	b.WriteString(format)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	return b.String()
}
