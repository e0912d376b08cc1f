// Package app wires configuration into the services the commands run.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/drip-service/internal/config"
	"github.com/unclebandit/drip-service/internal/db"
	"github.com/unclebandit/drip-service/internal/pkg/distlock"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
	"github.com/unclebandit/drip-service/internal/queue"
	"github.com/unclebandit/drip-service/internal/render"
	"github.com/unclebandit/drip-service/internal/repository"
	"github.com/unclebandit/drip-service/internal/sender"
	"github.com/unclebandit/drip-service/internal/service"
	"github.com/unclebandit/drip-service/internal/store/pgstore"
)

type App struct {
	Config    *config.Config
	DB        *sql.DB
	Redis     *redis.Client
	Queue     queue.Queue
	Service   *service.DripService
	Scheduler *service.Scheduler
	Worker    *service.Worker

	closers []func() error
}

// New connects to every backing service named in cfg. The returned App owns
// the connections; call Close when done.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := db.Init(ctx, cfg.DSN()); err != nil {
		return nil, err
	}
	a.DB = db.DB
	a.closers = append(a.closers, a.DB.Close)

	src, err := pgstore.New(a.DB, pgstore.DefaultRegistry())
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	} else {
		logger.Warn("REDIS_ADDR not set, drip locks use postgres advisory locks")
	}

	q, closeQueue, err := NewQueue(cfg)
	if err != nil {
		return nil, err
	}
	a.Queue = q
	if closeQueue != nil {
		a.closers = append(a.closers, closeQueue)
	}

	direct, err := NewDirectSender(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Service = &service.DripService{
		Drips:     &repository.DripRepository{DB: a.DB},
		Rules:     &repository.RuleRepository{DB: a.DB},
		Sent:      &repository.SentDripRepository{DB: a.DB},
		Users:     &repository.UserRepository{DB: a.DB},
		Source:    src,
		Renderer:  render.New(),
		Direct:    direct,
		Marketing: NewMarketingClient(cfg),
		Queue:     q,
		Options: service.Options{
			UseMarketing:      cfg.UseCreateSend,
			FromEmail:         cfg.FromEmail,
			ConfirmationEmail: cfg.CreateSend.ConfirmationEmail,
			Settings:          cfg.Settings(),
		},
		Log: logger.Default(),
	}
	a.Scheduler = service.NewScheduler(a.Service, distlock.NewFactory(a.Redis, a.DB, cfg.LockTTL), cfg.TickInterval)
	a.Worker = service.NewWorker(a.Scheduler, nil)
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewQueue returns the AMQP queue when AMQP_URL is set and an in-process
// queue otherwise. The close func is nil for the in-process queue.
func NewQueue(cfg *config.Config) (queue.Queue, func() error, error) {
	if cfg.AMQPURL == "" {
		return queue.NewInMemoryQueue(), nil, nil
	}
	q, err := queue.DialAMQP(cfg.AMQPURL)
	if err != nil {
		return nil, nil, err
	}
	return q, q.Close, nil
}

// NewDirectSender builds the SES sender unless SES is disabled, in which
// case mail is only logged.
func NewDirectSender(ctx context.Context, cfg *config.Config) (sender.DirectSender, error) {
	if cfg.SES.Disabled {
		logger.Warn("AWS_SES_DISABLED set, direct emails are logged only")
		return &sender.LogSender{Log: logger.Default()}, nil
	}
	return sender.NewSESSender(ctx, sender.SESConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Endpoint:        cfg.SES.Endpoint,
	})
}

// NewMarketingClient returns nil unless the marketing path is enabled.
func NewMarketingClient(cfg *config.Config) sender.MarketingClient {
	if !cfg.UseCreateSend {
		return nil
	}
	return sender.NewCreateSendClient(cfg.CreateSend.BaseURL, cfg.CreateSend.APIKey, cfg.CreateSend.ClientID, cfg.CreateSend.ListID, nil)
}
