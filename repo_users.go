package auth

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// RecordFailedLoginSQL applies a FailedLoginUpdate in one statement, so
// concurrent failures never lose an increment.
var RecordFailedLoginSQL = `UPDATE "users" AS "usr"
SET
	"failed_login_attempts" = "usr"."failed_login_attempts" + 1,
	"locked_until" = CASE
		WHEN "usr"."failed_login_attempts" + 1 >= ? THEN ?
		ELSE "usr"."locked_until"
	END,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// RecordSuccessfulLoginSQL resets lockout state and stores the new refresh fingerprint
var RecordSuccessfulLoginSQL = `UPDATE "users" AS "usr"
SET
	"failed_login_attempts" = 0,
	"locked_until" = NULL,
	"last_login_at" = ?,
	"refresh_token_hash" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
);`

// UpdatePasswordSQL stores a new digest and revokes the refresh token
var UpdatePasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"refresh_token_hash" = NULL,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

type users struct {
	repository.Repository[*User]
	db  bun.IDB
	now func() time.Time
}

var _ Users = (*users)(nil)

// UsersOption configures the users repository
type UsersOption func(*users)

// WithUsersClock overrides the time source used for updated_at
func WithUsersClock(now func() time.Time) UsersOption {
	return func(u *users) {
		if now != nil {
			u.now = now
		}
	}
}

// NewUsersRepository returns the bun backed Users store
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	r := &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// GetByEmail finds a live account by normalized email
func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"email": NormalizeEmail(email),
				})
		}
		return nil, err
	}

	return record, nil
}

// GetByID finds a live account
func (a *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.Repository.GetByID(ctx, id.String())
}

// Create inserts a new account. A unique violation on email is reported as ErrEmailInUse.
func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	prepareUserDefaults(record)

	user, err := a.Repository.CreateTx(ctx, a.db, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	return user, nil
}

// Update writes only the named columns of user. With no columns all
// non-key columns are written.
func (a *users) Update(ctx context.Context, user *User, columns ...string) (*User, error) {
	now := a.now()
	user.UpdatedAt = &now

	q := a.db.NewUpdate().Model(user).WherePK()
	if len(columns) > 0 {
		cols := make([]string, 0, len(columns)+1)
		cols = append(cols, columns...)
		q = q.Column(append(cols, "updated_at")...)
	} else {
		q = q.ExcludeColumn("id", "created_at")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": user.ID.String(),
			})
	}

	return user, nil
}

// RecordFailedLogin applies update atomically and returns the updated row
func (a *users) RecordFailedLogin(ctx context.Context, id uuid.UUID, update FailedLoginUpdate) (*User, error) {
	res, err := a.Repository.RawTx(ctx, a.db, RecordFailedLoginSQL, update.Threshold, update.LockUntil, a.now(), id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

// RecordSuccessfulLogin clears lockout state, stamps last login and stores the refresh fingerprint
func (a *users) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, refreshHash string, at time.Time) error {
	// NOTE: the ORM skips zero values, so the reset goes through raw SQL
	_, err := a.db.NewRaw(RecordSuccessfulLoginSQL, at, refreshHash, a.now(), id.String()).Exec(ctx)
	return err
}

// UpdatePassword stores a new password digest and clears the refresh fingerprint
func (a *users) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, a.db, UpdatePasswordSQL, passwordHash, a.now(), id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

// GetRefreshTokenHash loads the stored fingerprint of a live account
func (a *users) GetRefreshTokenHash(ctx context.Context, id uuid.UUID) (*string, error) {
	var hash *string
	err := a.db.NewSelect().
		Model((*User)(nil)).
		Column("refresh_token_hash").
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx, &hash)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}

	return hash, nil
}

// SetRefreshTokenHash overwrites the fingerprint. A nil hash revokes it.
// Missing accounts are ignored.
func (a *users) SetRefreshTokenHash(ctx context.Context, id uuid.UUID, hash *string) error {
	_, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("refresh_token_hash = ?", hash).
		Set("updated_at = ?", a.now()).
		Where("?TableAlias.id = ?", id.String()).
		Exec(ctx)
	return err
}

// RotateRefreshTokenHash replaces current with next in one conditional
// UPDATE. Of two rotations presenting the same current hash only one wins.
func (a *users) RotateRefreshTokenHash(ctx context.Context, id uuid.UUID, current, next string) (bool, error) {
	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("refresh_token_hash = ?", next).
		Set("updated_at = ?", a.now()).
		Where("?TableAlias.id = ?", id.String()).
		Where("?TableAlias.refresh_token_hash = ?", current).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	record.Email = NormalizeEmail(record.Email)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}

func isUniqueViolation(err error) bool {
	if repository.IsDuplicatedKey(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
