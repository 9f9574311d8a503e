package auth

import (
	"context"
	"embed"
	"io/fs"
	"path"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// DialectMigrationsFS returns the migrations for dialect, "sqlite" or "postgres"
func DialectMigrationsFS(dialect string) (fs.FS, error) {
	dir := path.Join("data/sql/migrations", dialect)
	if _, err := fs.Stat(migrationsFS, dir); err != nil {
		return nil, errors.New("unsupported migrations dialect", errors.CategoryBadInput).
			WithTextCode(TextCodeInvalidConfig).
			WithMetadata(map[string]any{"dialect": dialect})
	}
	return fs.Sub(migrationsFS, dir)
}

// Migrate applies pending migrations for dialect and returns the names of
// the migrations that ran.
func Migrate(ctx context.Context, db *bun.DB, dialect string) ([]string, error) {
	fsys, err := DialectMigrationsFS(dialect)
	if err != nil {
		return nil, err
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(fsys); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to discover migrations")
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to init migrations table")
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to run migrations")
	}

	applied := []string{}
	if group != nil {
		for _, m := range group.Migrations {
			applied = append(applied, m.Name)
		}
	}

	return applied, nil
}
