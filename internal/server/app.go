// Package server initializes and runs the auth service: it opens the
// database, runs migrations, assembles the token codec, session store, and
// HTTP API, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"github.com/avolkov/authcore/internal/logging"
	"github.com/avolkov/authcore/internal/server/audit"
	"github.com/avolkov/authcore/internal/server/auth"
	"github.com/avolkov/authcore/internal/server/config"
	"github.com/avolkov/authcore/internal/server/httpapi"
	"github.com/avolkov/authcore/internal/server/password"
	"github.com/avolkov/authcore/internal/server/repositories/repomanager"
	"github.com/avolkov/authcore/internal/server/services"
	"github.com/avolkov/authcore/internal/server/sessions"
)

const (
	shutdownTimeout = 10 * time.Second
	purgeInterval   = time.Hour
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	auth     *services.AuthService
	sessions *sessions.Service
	api      *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := openDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	hasher, err := password.NewHasher()
	if err != nil {
		return nil, fmt.Errorf("hasher init error: %w", err)
	}

	keyring := auth.NewKeyring(cfg.KeyID, []byte(cfg.SecretKey))
	for kid, secret := range cfg.PreviousKeys {
		keyring.AddVerificationKey(kid, []byte(secret))
	}
	codec := auth.NewCodec(keyring)

	sessionStore := sessions.NewService(db, manager, cfg.RefreshTokenValidityDuration, logger)
	authService := services.NewAuthService(db, manager, hasher, codec, sessionStore,
		audit.NewLogRecorder(logger), cfg.AccessTokenValidityDuration, logger)

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		auth:     authService,
		sessions: sessionStore,
		api:      httpapi.NewServer(authService, logger),
	}, nil
}

// openDB opens the pool and pings it with a fibonacci backoff, so the server
// survives a database that comes up a few seconds later than it does.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runPurgeLoop deletes long-expired refresh records on a ticker until ctx
// is cancelled.
func (app *App) runPurgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.sessions.PurgeExpired(ctx, app.config.RevokedRetentionPeriod)
			if err != nil {
				app.logger.Error(ctx, "purge of expired refresh records failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "purged expired refresh records", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting auth server", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	go app.runPurgeLoop(ctx)

	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: app.api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	return app.db.Close()
}
