// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/drip-service/internal/app"
	"github.com/unclebandit/drip-service/internal/config"
	"github.com/unclebandit/drip-service/internal/controller"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
	"github.com/unclebandit/drip-service/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Without a broker the API process also consumes its own run requests.
	if _, inProcess := a.Queue.(*queue.InMemoryQueue); inProcess {
		if err := queue.StartRunSubscriber(a.Queue, func(j queue.RunJob) error {
			return a.Worker.Handle(ctx, j)
		}); err != nil {
			logger.Error("subscribe to drip runs failed", "error", err)
			os.Exit(1)
		}
	}

	go a.Scheduler.Start(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	dripController := &controller.DripController{
		DripService: a.Service,
	}
	dripController.Routes(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("server running", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
	}
}
