// Package retention deletes old processed segments and idle session
// mappings on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/metrics"
)

type SegmentPurger interface {
	PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error)
}

type SessionPurger interface {
	PurgeIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

type Report struct {
	Segments int64
	Sessions int64
}

type Sweeper struct {
	cron     string
	maxAge   time.Duration
	segments SegmentPurger
	sessions SessionPurger
}

// NewSweeper validates cronExpr. maxAge <= 0 disables the sweeper.
func NewSweeper(cronExpr string, maxAge time.Duration, segments SegmentPurger, sessions SessionPurger) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cronExpr)
	}
	return &Sweeper{cron: cronExpr, maxAge: maxAge, segments: segments, sessions: sessions}, nil
}

func (s *Sweeper) Enabled() bool { return s.maxAge > 0 }

// RunOnce deletes everything older than the max age relative to now.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	if !s.Enabled() {
		return rep, nil
	}
	cutoff := now.Add(-s.maxAge)

	n, err := s.segments.PurgeProcessed(ctx, cutoff)
	if err != nil {
		return rep, err
	}
	rep.Segments = n
	metrics.RetentionDeleted.WithLabelValues("transcript_segments").Add(float64(n))

	n, err = s.sessions.PurgeIdle(ctx, cutoff)
	if err != nil {
		return rep, err
	}
	rep.Sessions = n
	metrics.RetentionDeleted.WithLabelValues("sessions").Add(float64(n))

	log.Info().
		Time("cutoff", cutoff).
		Int64("segments", rep.Segments).
		Int64("sessions", rep.Sessions).
		Msg("retention run finished")
	return rep, nil
}

// Run sleeps until each cron tick and sweeps, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.Enabled() {
		log.Info().Msg("retention disabled")
		return
	}
	log.Info().Str("cron", s.cron).Dur("max_age", s.maxAge).Msg("retention enabled")

	for {
		next, err := gronx.NextTickAfter(s.cron, time.Now(), false)
		if err != nil {
			log.Error().Err(err).Str("cron", s.cron).Msg("retention next tick failed")
			next = time.Now().Add(30 * time.Second)
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("retention stopped")
			return
		case <-time.After(time.Until(next)):
		}

		if _, err := s.RunOnce(ctx, time.Now()); err != nil {
			log.Error().Err(err).Msg("retention run failed")
		}
	}
}
