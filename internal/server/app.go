// Package server wires the gate together: storage backends, the log store,
// the passkey service and the HTTP listener with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/passkeygate/internal/logging"
	"github.com/dmitrijs2005/passkeygate/internal/server/audit"
	"github.com/dmitrijs2005/passkeygate/internal/server/auth"
	"github.com/dmitrijs2005/passkeygate/internal/server/ceremony"
	"github.com/dmitrijs2005/passkeygate/internal/server/config"
	"github.com/dmitrijs2005/passkeygate/internal/server/httpapi"
	"github.com/dmitrijs2005/passkeygate/internal/server/logstore"
	"github.com/dmitrijs2005/passkeygate/internal/server/objectstore"
	"github.com/dmitrijs2005/passkeygate/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/passkeygate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/passkeygate/internal/server/session"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	handler http.Handler
	closers []func() error
}

// NewObjectStore builds the blob service selected by the configuration.
func NewObjectStore(ctx context.Context, c *config.Config) (objectstore.Store, error) {
	switch c.ObjectStore {
	case config.ObjectStoreS3:
		return objectstore.NewS3Store(ctx, objectstore.S3Config{
			User:         c.S3RootUser,
			Password:     c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})
	case config.ObjectStoreMemory:
		return objectstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown object store %q", c.ObjectStore)
	}
}

// OpenSQL opens the mutable store and brings its schema up to date.
func OpenSQL(ctx context.Context, c *config.Config) (credentials.Repository, func() error, error) {
	m, err := repomanager.New(c.DatabaseDialect)
	if err != nil {
		return nil, nil, err
	}

	db, err := m.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}

	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}

	return m.Credentials(db), db.Close, nil
}

// DatasetSource returns where the enrolled dataset lives: a local file when
// one is configured, otherwise a key of the object store.
func DatasetSource(c *config.Config, objects objectstore.Store) credentials.DatasetSource {
	if c.EnrolledDatasetFile != "" {
		return credentials.FileSource{Path: c.EnrolledDatasetFile}
	}
	return credentials.ObjectSource{Store: objects, Key: c.EnrolledDatasetKey}
}

func newRepository(ctx context.Context, c *config.Config, objects objectstore.Store, logger logging.Logger) (credentials.Repository, func() error, error) {
	if c.Interactive() {
		return OpenSQL(ctx, c)
	}

	repo, err := credentials.NewEnrolledRepository(
		DatasetSource(c, objects),
		credentials.WritePolicy(c.EnrolledWritePolicy),
		logger,
	)
	if err != nil {
		return nil, nil, err
	}
	return repo, nil, nil
}

func newLogger(c *config.Config) logging.Logger {
	format := "json"
	if c.Interactive() {
		format = "text"
	}
	return logging.New(os.Stdout, format, c.LogLevel)
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return newApp(ctx, c, newLogger(c))
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	objects, err := NewObjectStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("object store init error: %w", err)
	}

	repo, closeRepo, err := newRepository(ctx, c, objects, logger)
	if err != nil {
		return nil, fmt.Errorf("credential store init error: %w", err)
	}

	codec, err := session.NewCodec(c.SessionSecret, c.SessionTTL, !c.Interactive())
	if err != nil {
		if closeRepo != nil {
			_ = closeRepo()
		}
		return nil, fmt.Errorf("session init error: %w", err)
	}

	logs := logstore.New(objects, logger)
	svc := auth.NewService(repo, ceremony.NewWebAuthnCeremony(), logger, c.RegistrationAllowed())

	h := httpapi.NewHandler(httpapi.Deps{
		Auth:         svc,
		Sessions:     codec,
		Logs:         logs,
		Audit:        audit.New(logs, logger, c.Interactive(), c.AuditWriteTimeout),
		Logger:       logger,
		Interactive:  c.Interactive(),
		RPName:       c.RPName,
		ChallengeTTL: c.ChallengeTTL,
		LogAPIKey:    c.LogAPIKey,
	})

	app := &App{config: c, logger: logger, handler: h.Router()}
	if closeRepo != nil {
		app.closers = append(app.closers, closeRepo)
	}
	return app, nil
}

// Handler returns the root HTTP handler.
func (app *App) Handler() http.Handler {
	return app.handler
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
	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			app.logger.Error(sctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.HTTPAddr, "mode", app.config.Mode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until the parent context is canceled or a termination signal
// arrives, then drains in-flight requests and closes the stores.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	for _, c := range app.closers {
		if err := c(); err != nil {
			app.logger.Error(context.Background(), "close", "error", err)
		}
	}
	app.logger.Info(context.Background(), "stopped")
}
