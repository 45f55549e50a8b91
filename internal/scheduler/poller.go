// Package scheduler drives a job on a fixed interval, one run at a time.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/metrics"
)

type Job func(ctx context.Context) error

// Locker guards a run across processes. ok=false means someone else holds
// it and the run is skipped.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

type Poller struct {
	name     string
	interval time.Duration
	job      Job
	locker   Locker

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(name string, interval time.Duration, job Job, locker Locker) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{name: name, interval: interval, job: job, locker: locker}
}

// Run executes the job now and then interval after each run finishes,
// until ctx is cancelled. A run in progress is never interrupted: it gets
// a context that ignores the cancellation.
func (p *Poller) Run(ctx context.Context) {
	log.Info().Str("poller", p.name).Dur("interval", p.interval).Msg("poller started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("poller", p.name).Msg("poller stopped")
			return
		case <-timer.C:
		}

		p.once(context.WithoutCancel(ctx))
		timer.Reset(p.interval)
	}
}

// Start runs the poller in the background. Calling Start twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		p.Run(ctx)
	}(p.done)
}

// Stop prevents further runs and waits for the current one to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) once(ctx context.Context) {
	if p.locker != nil {
		release, ok, err := p.locker.TryLock(ctx)
		if err != nil {
			log.Error().Err(err).Str("poller", p.name).Msg("lease check failed, skipping run")
			return
		}
		if !ok {
			metrics.SchedulerSkips.Inc()
			log.Debug().Str("poller", p.name).Msg("lease held elsewhere, skipping run")
			return
		}
		defer release()
	}

	if err := p.safeRun(ctx); err != nil {
		log.Error().Err(err).Str("poller", p.name).Msg("run failed")
	}
}

func (p *Poller) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error().Str("poller", p.name).Bytes("stack", debug.Stack()).Msg("run panicked")
		}
	}()
	return p.job(ctx)
}
