package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/huynh-missingcorner/media-studio-app/internal/api"
	"github.com/huynh-missingcorner/media-studio-app/internal/auth"
	"github.com/huynh-missingcorner/media-studio-app/internal/events"
	"github.com/huynh-missingcorner/media-studio-app/internal/reference"
	"github.com/huynh-missingcorner/media-studio-app/internal/session"
	"github.com/huynh-missingcorner/media-studio-app/internal/store"
	"github.com/huynh-missingcorner/media-studio-app/internal/telemetry"
)

var serveOpts struct {
	addr string
	mock bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the studio HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", "", "Listen address (overrides GENSTUDIO_ADDR)")
	serveCmd.Flags().BoolVar(&serveOpts.mock, "mock", false, "Use the in-process mock generation API")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveOpts.addr != "" {
		cfg.Addr = serveOpts.addr
	}
	if serveOpts.mock {
		cfg.Mock = true
	}
	logger := telemetry.NewLogger(cfg.LogLevel)

	st := store.NewMemoryStore(store.Deps{
		API:    newAPI(cfg),
		Hub:    events.NewHub(),
		Logger: logger,
		Session: session.Config{
			PollInterval:    cfg.PollInterval,
			MaxPollAttempts: cfg.MaxPollAttempts,
		},
		Upload: reference.Options{
			Concurrency: cfg.UploadConcurrency,
			CacheTTL:    cfg.UploadCacheTTL,
		},
		HistoryPageSize: cfg.HistoryPageSize,
	})
	defer st.Close()

	authSvc := auth.NewService(cfg.JWTSecret)
	if cfg.Mock && authSvc.Verifies() {
		if token, err := authSvc.IssueAccess("dev-user", "dev@genstudio.local", 12*time.Hour); err == nil {
			logger.Info("dev_token_issued", "token", token)
		}
	}

	srv := api.NewServer(authSvc, st, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server_start",
		"addr", cfg.Addr,
		"mock_api", cfg.Mock,
		"verify_tokens", authSvc.Verifies(),
		"poll_interval", cfg.PollInterval.String(),
		"poll_attempts", cfg.MaxPollAttempts,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("server exited with error", "error", err)
		return err
	case <-cmd.Context().Done():
	}

	logger.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
