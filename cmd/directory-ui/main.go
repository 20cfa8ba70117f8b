package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tailscale-portfolio/directory-ui/internal/config"
	"github.com/tailscale-portfolio/directory-ui/internal/directory"
	"github.com/tailscale-portfolio/directory-ui/internal/logging"
	"github.com/tailscale-portfolio/directory-ui/internal/session"
	"github.com/tailscale-portfolio/directory-ui/internal/viewstate"
	"github.com/tailscale-portfolio/directory-ui/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "directory-ui configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "directory-ui logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("directory-ui stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	store, err := session.NewStore(cfg.SessionSecret, cfg.SecureCookies)
	if err != nil {
		return err
	}

	var authenticator *session.Authenticator
	if cfg.OIDCEnabled() {
		discoverCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
		authenticator, err = session.NewAuthenticator(discoverCtx, session.OIDCConfig{
			Domain:       cfg.Auth0Domain,
			ClientID:     cfg.Auth0ClientID,
			ClientSecret: cfg.Auth0ClientSecret,
			RedirectURI:  cfg.Auth0RedirectURI,
		})
		cancel()
		if err != nil {
			return err
		}
	} else {
		logger.Warn("OIDC not configured, signing visitors in as dev identity", zap.String("email", cfg.DevIdentityEmail))
	}

	views := viewstate.NewRegistry(ctx, fetcher, logger, viewstate.WithFetchTimeout(cfg.FetchTimeout))
	defer views.Close()
	go views.Run(ctx, time.Minute, cfg.ViewIdleTimeout)

	app, err := web.NewApp(web.Options{
		Sessions:         store,
		Authenticator:    authenticator,
		DevIdentityEmail: cfg.DevIdentityEmail,
		Views:            views,
		Logger:           logger,
		HTTPTimeout:      cfg.HTTPTimeout,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      app.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("directory-ui listening",
			zap.String("addr", srv.Addr),
			zap.String("backend", cfg.BackendURL),
			zap.String("fixture", cfg.UsersFixturePath),
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("clean shutdown failed", zap.Error(err))
	}
	logger.Info("directory-ui shutdown complete")
	return nil
}

// newFetcher prefers the fixture when both sources are configured.
func newFetcher(cfg config.Config) (directory.Fetcher, error) {
	if cfg.UsersFixturePath != "" {
		return directory.LoadStaticSource(cfg.UsersFixturePath)
	}
	return directory.NewClient(cfg.BackendURL, &http.Client{Timeout: cfg.HTTPTimeout})
}
