package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lawn-analyzer/backend/internal/api"
	"github.com/lawn-analyzer/backend/internal/session"
	"github.com/lawn-analyzer/backend/internal/storage"
	"github.com/lawn-analyzer/backend/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server (default)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.client.Close()
	cfg, log := a.cfg, a.log

	// Ensure the scratch directory exists
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := newStore(cfg.Storage.Backend, cfg.Storage.ScratchDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	sessionMgr := session.NewManager(store, a.model, session.Config{
		AnalysisPrompt: cfg.Analysis.Prompt,
		SelfTestPrompt: cfg.Analysis.SelfTestPrompt,
		AttachPhoto:    cfg.Analysis.AttachPhoto,
		SelfTestOnOpen: cfg.Analysis.SelfTestOnOpen,
		MaxSessions:    cfg.Session.MaxSessions,
	}, log)

	// Start background session cleanup
	go func() {
		interval := time.Duration(cfg.Session.CleanupIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sessionMgr.CleanupIdleSessions(time.Duration(cfg.Session.IdleTimeoutMinutes) * time.Minute)
			case <-ctx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		Log:            log,
		RequestLogging: cfg.Logging.RequestLogging,
		BodyLimit:      cfg.Server.BodyLimit,
		AllowOrigins:   cfg.Server.AllowOrigins,
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		SessionMgr: sessionMgr,
		Version:    Version,
		Provider:   a.client.Provider(),
		Model:      a.model.Name(),
		Log:        log,
	}), cfg.Server.RateLimit)

	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			log.Warn().Err(err).Msg("failed to register page routes")
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	log.Info().
		Str("version", Version).
		Str("buildTime", BuildTime).
		Str("config", configPath).
		Str("listen", "http://"+cfg.GetServerAddr()).
		Str("storage", cfg.Storage.Backend).
		Msg("Lawn Analyzer server started")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	if err := sessionMgr.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("background self-tests did not finish")
	}
	return nil
}

func newStore(backend, scratchDir string) (storage.Store, error) {
	if backend == "disk" {
		return storage.NewLocalStore(scratchDir)
	}
	return storage.NewMemoryStore(), nil
}
