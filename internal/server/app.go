// Package server initializes and runs the image signing server: it
// wires configuration, storage, the signing key pair, services and the
// HTTP endpoint, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/imagesigner/internal/logging"
	"github.com/dmitrijs2005/imagesigner/internal/server/blobstore"
	"github.com/dmitrijs2005/imagesigner/internal/server/config"
	"github.com/dmitrijs2005/imagesigner/internal/server/digest"
	"github.com/dmitrijs2005/imagesigner/internal/server/httpapi"
	"github.com/dmitrijs2005/imagesigner/internal/server/notify"
	"github.com/dmitrijs2005/imagesigner/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/imagesigner/internal/server/services"
	"github.com/dmitrijs2005/imagesigner/internal/sigkey"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *httpapi.Server
}

func NewApp(cfg *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	keys, err := sigkey.LoadKeyPair(cfg.PrivateKeyPath, cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}

	nonces, err := digest.NewNonceStore(cfg.NonceTTL)
	if err != nil {
		return nil, fmt.Errorf("nonce store init error: %w", err)
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.SMTPAddr != "" {
		notifier = notify.NewSMTPNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.NotifyMaxAttempts, logger)
	}

	blobs := blobstore.New(cfg)

	userService := services.NewUserService(db, m, cfg)
	imageService := services.NewImageService(db, m,
		sigkey.NewRSASigner(keys), sigkey.NewRSAVerifier(keys.Public()),
		blobs, notifier, logger)

	validator := digest.NewValidator(cfg.DigestRealm, nonces, userService)

	srv, err := httpapi.NewServer(cfg, logger, userService, imageService, validator, nonces)
	if err != nil {
		return nil, fmt.Errorf("http server init error: %w", err)
	}

	return &App{config: cfg, logger: logger, db: db, server: srv}, nil
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

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
