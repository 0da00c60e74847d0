package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/forensics-gateway/internal/config"
	"github.com/example/forensics-gateway/internal/handlers"
	"github.com/example/forensics-gateway/internal/inference"
	"github.com/example/forensics-gateway/internal/logging"
	"github.com/example/forensics-gateway/internal/usecase"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if !cfg.HasKey() {
		logger.Warn("no API credential configured; /detect will answer 500 until one is set")
	}

	client := inference.NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.APIStyle, logger)
	uc := usecase.NewDetectionUseCase(client, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, uc, handlers.Options{HasKey: cfg.HasKey(), Debug: cfg.Debug})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	logger.Info("forensics gateway listening",
		zap.String("addr", server.Addr),
		zap.String("model", cfg.Model),
		zap.String("api_style", cfg.APIStyle),
		zap.Bool("has_key", cfg.HasKey()),
		zap.Bool("debug", cfg.Debug))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
