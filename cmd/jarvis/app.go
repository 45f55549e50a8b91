package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/activation"
	"github.com/suPer8Hu/omi-jarvis/internal/agent"
	"github.com/suPer8Hu/omi-jarvis/internal/ai"
	"github.com/suPer8Hu/omi-jarvis/internal/config"
	"github.com/suPer8Hu/omi-jarvis/internal/db"
	"github.com/suPer8Hu/omi-jarvis/internal/logging"
	"github.com/suPer8Hu/omi-jarvis/internal/processor"
	"github.com/suPer8Hu/omi-jarvis/internal/retention"
	"github.com/suPer8Hu/omi-jarvis/internal/retry"
	"github.com/suPer8Hu/omi-jarvis/internal/scheduler"
	"github.com/suPer8Hu/omi-jarvis/internal/session"
	"github.com/suPer8Hu/omi-jarvis/internal/sms"
	"github.com/suPer8Hu/omi-jarvis/internal/store/rabbitmq"
	"github.com/suPer8Hu/omi-jarvis/internal/store/redisstore"
	"github.com/suPer8Hu/omi-jarvis/internal/transcript"
	"gorm.io/gorm"
)

// leaseTTL bounds how long a crashed consumer can block the others.
const leaseTTL = 5 * time.Minute

func models() []any {
	return append(transcript.Models(), &session.Mapping{}, &agent.Item{})
}

// app holds the long-lived dependencies shared by the commands.
type app struct {
	cfg *config.Config

	db          *gorm.DB
	segments    *transcript.Repo
	sessionRepo *session.Repo
	sessions    *session.Map
	redis       *redisstore.Store

	closers []func() error
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	return cfg, nil
}

// bootstrap connects the database (retrying while it comes up), migrates
// and opens Redis when configured.
func bootstrap(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	connectBackoff := retry.Backoff{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: true}
	err := retry.Do(ctx, connectBackoff, 5, "db connect", func() error {
		gdb, err := db.Connect(cfg.DB.Driver, cfg.DB.DSN)
		if err != nil {
			return err
		}
		a.db = gdb
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	if err := db.Migrate(a.db, models()...); err != nil {
		a.close()
		return nil, err
	}

	a.segments = transcript.NewRepo(a.db)
	a.sessionRepo = session.NewRepo(a.db)

	opts := session.Options{IdleTimeout: cfg.Session.IdleTimeout, CacheTTL: cfg.Session.CacheTTL}
	if cfg.Redis.Addr != "" {
		rds, err := redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, running without session cache")
		} else {
			a.redis = rds
			a.closers = append(a.closers, rds.Close)
			opts.Cache = rds
			log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
		}
	}
	a.sessions = session.NewMap(a.sessionRepo, opts)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

func (a *app) sender() sms.Sender {
	c := a.cfg.SMS
	if c.DryRun {
		log.Warn().Msg("sms dry run enabled, replies are only logged")
		return sms.DryRun{DefaultNumber: c.DefaultNumber}
	}
	if c.DefaultNumber == "" {
		log.Warn().Msg("no default phone number configured, sms relay will fail")
	}
	return sms.NewTextbeltClient(c.BaseURL, c.APIKey, c.DefaultNumber, c.RatePerMinute)
}

func (a *app) backoff() retry.Backoff {
	r := a.cfg.Retry
	return retry.Backoff{BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay, Multiplier: r.Multiplier, Jitter: r.Jitter}
}

func (a *app) requeuer() (processor.Requeuer, error) {
	p := a.cfg.Processor
	if p.FailurePolicy != string(processor.PolicyRequeue) {
		return nil, nil
	}
	switch p.RequeueBackend {
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(a.cfg.Rabbit.URL, a.cfg.Rabbit.Queue, a.segments, a.backoff(), p.MaxAttempts)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		log.Info().Str("queue", a.cfg.Rabbit.Queue).Msg("requeue via rabbitmq")
		return pub, nil
	default:
		return processor.NewDBRequeuer(a.segments, a.backoff(), p.MaxAttempts), nil
	}
}

func (a *app) processor(ctx context.Context) (*processor.Processor, error) {
	model, err := ai.DefaultRegistry().Get(ctx, a.cfg.AI.Provider, ai.Options{
		Model:   a.cfg.AI.Model,
		BaseURL: a.cfg.AI.BaseURL,
		APIKey:  a.cfg.AI.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("ai model: %w", err)
	}

	detector := activation.NewDetector(a.cfg.Activation.Phrases)
	log.Info().Strs("phrases", detector.Phrases()).Str("provider", a.cfg.AI.Provider).Msg("jarvis configured")

	sender := a.sender()
	jarvis := agent.New(model, agent.NewHistory(a.db), sender, agent.Config{
		Instructions:  a.cfg.AI.Instructions,
		ContextWindow: a.cfg.AI.ContextWindow,
		MaxSteps:      a.cfg.AI.MaxSteps,
	})

	rq, err := a.requeuer()
	if err != nil {
		return nil, err
	}

	return processor.New(
		a.segments,
		detector,
		a.sessions,
		jarvis,
		sender,
		processor.Options{
			FailurePolicy: processor.FailurePolicy(a.cfg.Processor.FailurePolicy),
			Requeuer:      rq,
		},
	), nil
}

// startBackground launches the processing poller and the retention
// sweeper. The returned func stops both and waits for the poller.
func (a *app) startBackground(ctx context.Context) (func(), error) {
	proc, err := a.processor(ctx)
	if err != nil {
		return nil, err
	}

	var locker scheduler.Locker
	if a.cfg.Processor.Lease {
		if a.redis == nil {
			return nil, fmt.Errorf("processor.lease requires redis")
		}
		locker = a.redis.NewLease("processor", leaseTTL)
	}

	poller := scheduler.NewPoller("processor", a.cfg.Processor.PollInterval, func(ctx context.Context) error {
		_, err := proc.RunCycle(ctx)
		return err
	}, locker)
	poller.Start(ctx)

	sweeper, err := retention.NewSweeper(a.cfg.Retention.Cron, a.cfg.Retention.MaxAge, a.segments, a.sessions)
	if err != nil {
		poller.Stop()
		return nil, err
	}
	sctx, cancelSweeper := context.WithCancel(ctx)
	go sweeper.Run(sctx)

	return func() {
		cancelSweeper()
		poller.Stop()
	}, nil
}
