package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-shelf-auth"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config auth.Config
	db     *bun.DB
	repo   auth.RepositoryManager
	auther *auth.Auther
	srv    router.Server[*fiber.App]
	logger *glog.BaseLogger
}

func (a *App) GetLogger(name string) auth.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("shelf-auth"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := auth.LoadConfig(os.Getenv("SHELF_AUTH_CONFIG"))
	if err != nil {
		lgr.GetLogger("config").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.Env == "local" {
		fmt.Println("============")
		fmt.Println(print.MaybePrettyJSON(maskedConfig(cfg)))
		fmt.Println("============")
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		app.GetLogger("persistence").Error("persistence setup failed", "error", err)
		os.Exit(1)
	}
	defer app.db.Close()

	if err := WithAuth(ctx, app); err != nil {
		app.GetLogger("auth").Error("auth setup failed", "error", err)
		os.Exit(1)
	}

	WithHTTPServer(app)

	go func() {
		if err := app.srv.Serve(cfg.HTTP.Address); err != nil {
			app.GetLogger("http").Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		app.GetLogger("http").Error("shutdown failed", "error", err)
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	var db *bun.DB

	switch app.config.DB.Driver {
	case "postgres":
		sqldb, err := sql.Open("pgx", app.config.DB.DSN)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, app.config.DB.DSN)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if app.config.DB.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	applied, err := auth.Migrate(ctx, db, dialectName(app.config.DB.Driver))
	if err != nil {
		return err
	}
	app.GetLogger("persistence").Info("migrations applied", "count", len(applied))

	repo := auth.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	app.db = db
	app.repo = repo

	return nil
}

func WithAuth(_ context.Context, app *App) error {
	auther, err := auth.NewAuthenticator(app.repo.Users(), app.config.Auth)
	if err != nil {
		return err
	}

	app.auther = auther.
		WithLoggerProvider(auth.LoggerProviderFunc(app.GetLogger)).
		WithActivitySink(app.repo.AuditLogs())

	return nil
}

func WithHTTPServer(app *App) {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.config.Env == "local",
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.logger.GetLogger("router"))

	controller := auth.NewAuthController(app.auther, auth.AuthControllerConfig{
		Debug: app.config.Env == "local",
	}).
		WithLogger(app.GetLogger("auth:ctrl")).
		WithAuditLogs(app.repo.AuditLogs())

	controller.RegisterRoutes(srv.Router())

	app.srv = srv
}

func dialectName(driver string) string {
	if driver == "postgres" {
		return "postgres"
	}
	return "sqlite"
}

func maskedConfig(cfg auth.Config) auth.Config {
	if cfg.Auth.AccessSecret != "" {
		cfg.Auth.AccessSecret = "****"
	}
	if cfg.Auth.RefreshSecret != "" {
		cfg.Auth.RefreshSecret = "****"
	}
	return cfg
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
