// Package server wires the application together: it opens and migrates the
// database, builds the services and runs the HTTP API next to the gRPC health
// endpoint until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/filex"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/media"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"

	gs "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
	hs "github.com/dmitrijs2005/authkeeper/internal/server/http"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	health  hs.Pinger
	handler http.Handler
}

// NewApp connects to and migrates the database, or with memory storage
// keeps users in process and opens nothing.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {

	if c.Storage == config.StorageMemory {
		logger.Warn(ctx, "using in-memory storage, users are lost on restart")
		return newApp(ctx, c, logger, nil, repomanager.NewInMemoryRepositoryManager())
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db connect error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	app, err := newApp(ctx, c, logger, db, rm)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

// newApp builds the services and the HTTP handler on top of an open database.
// db is nil with memory storage.
func newApp(ctx context.Context, c *config.Config, logger logging.Logger, db *sql.DB, rm repomanager.RepositoryManager) (*App, error) {

	uploadDir, err := filex.EnsureDir(c.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("upload dir error: %w", err)
	}

	hasher, err := cryptox.NewBcryptHasher(c.BcryptCost)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenManager(c.AccessTokenSecret, c.RefreshTokenSecret,
		c.AccessTokenValidityDuration, c.RefreshTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	uploader, err := media.NewS3Uploader(ctx, c, logger)
	if err != nil {
		return nil, fmt.Errorf("media init error: %w", err)
	}

	us := services.NewUserService(db, rm, hasher, tokens, uploader, logger)

	cookies := hs.CookieConfig{
		Domain:     c.CookieDomain,
		AccessTTL:  c.AccessTokenValidityDuration,
		RefreshTTL: c.RefreshTokenValidityDuration,
	}
	users := hs.NewUserHandler(us, cookies, uploadDir, c.MaxUploadSize, logger.With("module", "http"))
	authn := hs.NewAuthenticator(tokens, us, logger.With("module", "auth"))
	var health hs.Pinger
	if db != nil {
		health = db
	}
	handler := hs.NewRouter(hs.RouterConfig{CORSOrigin: c.CORSOrigin, Health: health}, users, authn, logger.With("module", "http"))

	return &App{config: c, logger: logger, db: db, health: health, handler: handler}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := hs.NewServer(app.config.EndpointAddrHTTP, app.handler, app.logger.With("module", "http_server"))

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewHealthServer(app.config.EndpointAddrGRPC, app.health, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

// Run serves until ctx is cancelled, a signal arrives or either server fails.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn(ctx, "closing database", "error", err)
		}
	}
	app.logger.Info(ctx, "App stopped")
}
