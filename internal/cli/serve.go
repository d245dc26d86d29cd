package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mauzec/task-manager/internal/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until SIGINT or SIGTERM.
SIGHUP reloads the tasks from the backend, e.g. after "taskd import".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	zapLogger, err := newLogger([]string{"stdout"}, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()
	logger := zapLogger.Named("server")
	logger.Info("running server",
		zap.Int("pid", os.Getpid()),
		zap.String("storage_mode", cfg.ResolveStorageMode()),
	)

	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	defer signal.Stop(reloadCh)

	comp, err := newAppComponent(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer comp.close(logger)
	logger.Info("storage ready", backendFields(comp.backend)...)

	srv, err := api.NewServer(&api.ServerOptions{
		TaskService:    comp.svc,
		Logger:         zapLogger.Named("api"),
		Addr:           cfg.ServerAddr,
		Prefix:         cfg.APIPrefix,
		AllowOrigins:   cfg.AllowOrigins(),
		HandlerTimeout: cfg.HandlerTimeout,
	})
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.ServerAddr), zap.String("prefix", cfg.APIPrefix))
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			break loop
		case <-reloadCh:
			logger.Info("reload requested")
			reloadCtx, canc := context.WithTimeout(context.Background(), cfg.HandlerTimeout)
			if err := comp.svc.Reload(reloadCtx); err != nil {
				logger.Error("reload failed, keeping current tasks", zap.Error(err))
			}
			canc()
		case err := <-errCh:
			logger.Error("server failed", zap.Error(err))
			runErr = err
			break loop
		}
	}

	offCtx, offCanc := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer offCanc()
	if err := srv.Shutdown(offCtx); err != nil {
		logger.Error("cant shutdown server", zap.Error(err))
	}
	logger.Info("shutdown done")
	return runErr
}
