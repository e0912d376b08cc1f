package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/drip-service/internal/app"
	"github.com/unclebandit/drip-service/internal/config"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
	"github.com/unclebandit/drip-service/internal/queue"
)

// JobHandler handles one run request.
type JobHandler interface {
	Handle(ctx context.Context, job queue.RunJob) error
}

// consume routes drip_runs messages from q to h until ctx is done.
func consume(ctx context.Context, q queue.Queue, h JobHandler) error {
	return queue.StartRunSubscriber(q, func(j queue.RunJob) error {
		if err := ctx.Err(); err != nil {
			// leave the message for the next worker
			return err
		}
		return h.Handle(ctx, j)
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := consume(ctx, a.Queue, a.Worker); err != nil {
		logger.Error("subscribe to drip runs failed", "error", err)
		os.Exit(1)
	}

	logger.Info("worker running, waiting for messages", "topic", queue.TopicDripRuns)
	<-ctx.Done()
	logger.Info("worker stopping")
}
