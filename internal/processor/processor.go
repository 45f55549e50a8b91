// Package processor drains unprocessed transcript segments in batches,
// gates them on an activation phrase and relays activated turns to the
// agent and on to SMS.
//
// A batch is claimed (processed=true) in one bulk update before any slow
// work starts. Segments arriving during the agent call are left for the
// next cycle.
package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/agent"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"github.com/suPer8Hu/omi-jarvis/internal/metrics"
	"github.com/suPer8Hu/omi-jarvis/internal/session"
	"github.com/suPer8Hu/omi-jarvis/internal/sms"
	"github.com/suPer8Hu/omi-jarvis/internal/transcript"
)

type SegmentStore interface {
	ListUnprocessed(ctx context.Context, now time.Time) ([]transcript.Segment, error)
	Claim(ctx context.Context, ids []uint64, token string, now time.Time) ([]uint64, error)
	Link(ctx context.Context, ids []uint64, messageID uint64) error
	SaveMessage(ctx context.Context, m *transcript.Message) error
}

type Sessions interface {
	Resolve(ctx context.Context, sessionID string) *session.Handle
	Persist(ctx context.Context, h *session.Handle) error
}

type Agent interface {
	Converse(ctx context.Context, text string, h *session.Handle) (agent.Reply, error)
}

type Detector interface {
	Detect(text string) (bool, string)
}

// Requeuer hands a failed batch back for a later cycle.
type Requeuer interface {
	// Requeue schedules ids for another attempt. attempts is how many times
	// the batch was already released. It returns false when the batch is
	// exhausted and was dropped.
	Requeue(ctx context.Context, ids []uint64, attempts int) (bool, error)
	// Redeliver makes batches whose delay elapsed visible again.
	Redeliver(ctx context.Context, now time.Time) error
}

type FailurePolicy string

const (
	PolicyDrop    FailurePolicy = "drop"
	PolicyRequeue FailurePolicy = "requeue"
)

type Outcome string

const (
	OutcomeIdle        Outcome = "idle"
	OutcomeContended   Outcome = "contended"
	OutcomeEmpty       Outcome = "empty"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeDispatched  Outcome = "dispatched"
	OutcomeAgentFailed Outcome = "agent_failed"
	OutcomeRequeued    Outcome = "requeued"
	OutcomeStoreFailed Outcome = "store_failed"
)

// Result describes one cycle.
type Result struct {
	CycleID        string
	Outcome        Outcome
	Fetched        int
	Claimed        int
	SessionID      string
	Phrase         string
	ConversationID string
	UserMessageID  uint64
	SMSFailed      bool
}

type Options struct {
	FailurePolicy FailurePolicy
	// Requeuer is required for PolicyRequeue.
	Requeuer Requeuer
}

type Processor struct {
	store    SegmentStore
	detector Detector
	sessions Sessions
	agent    Agent
	sender   sms.Sender

	policy   FailurePolicy
	requeuer Requeuer

	// serialises cycles within the process
	mu  sync.Mutex
	now func() time.Time
}

func New(store SegmentStore, detector Detector, sessions Sessions, ag Agent, sender sms.Sender, opts Options) *Processor {
	policy := opts.FailurePolicy
	if policy == "" {
		policy = PolicyDrop
	}
	return &Processor{
		store:    store,
		detector: detector,
		sessions: sessions,
		agent:    ag,
		sender:   sender,
		policy:   policy,
		requeuer: opts.Requeuer,
		now:      time.Now,
	}
}

// RunCycle drains and handles one batch. The returned error reports store
// and agent failures of this cycle; the processor stays usable either way.
func (p *Processor) RunCycle(ctx context.Context) (res Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.now()
	res.CycleID = common.MustULID()
	logger := log.With().Str("cycle_id", res.CycleID).Logger()
	defer func() {
		metrics.CycleOutcomes.WithLabelValues(string(res.Outcome)).Inc()
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	if p.requeuer != nil {
		if err := p.requeuer.Redeliver(ctx, start); err != nil {
			logger.Warn().Err(err).Msg("redeliver retries failed")
		}
	}

	segs, err := p.store.ListUnprocessed(ctx, start)
	if err != nil {
		res.Outcome = OutcomeStoreFailed
		logger.Error().Err(err).Msg("fetch unprocessed segments failed")
		return res, err
	}
	res.Fetched = len(segs)
	if len(segs) == 0 {
		res.Outcome = OutcomeIdle
		logger.Debug().Msg("no unprocessed segments")
		return res, nil
	}

	ids := transcript.IDs(segs)
	claimed, err := p.store.Claim(ctx, ids, res.CycleID, start)
	if err != nil {
		res.Outcome = OutcomeStoreFailed
		logger.Error().Err(err).Int("segments", len(ids)).Msg("claim segments failed")
		return res, err
	}
	res.Claimed = len(claimed)
	metrics.SegmentsClaimed.Add(float64(len(claimed)))
	if len(claimed) < len(ids) {
		metrics.ClaimContention.Inc()
		logger.Warn().
			Int("fetched", len(ids)).
			Int("claimed", len(claimed)).
			Msg("claim contended, another consumer took part of the batch")
		segs = keep(segs, claimed)
	}
	if len(segs) == 0 {
		res.Outcome = OutcomeContended
		return res, nil
	}
	logger.Info().Int("segments", len(segs)).Msg("claimed batch")

	turn := transcript.FormatTurn(segs)
	if strings.TrimSpace(turn) == "" {
		res.Outcome = OutcomeEmpty
		logger.Info().Msg("batch has no text, dropping")
		return res, nil
	}

	activated, phrase := p.detector.Detect(turn)
	if !activated {
		res.Outcome = OutcomeSkipped
		logger.Debug().Msg("no activation phrase")
		return res, nil
	}
	res.Phrase = phrase

	sid := segs[0].SessionID
	if sid == "" {
		sid = transcript.UnknownSession
	}
	h := p.sessions.Resolve(ctx, sid)
	res.SessionID = h.SessionID()
	logger = logger.With().Str("session_id", h.SessionID()).Logger()
	logger.Info().Str("phrase", phrase).Bool("resumed", h.Resumed()).Msg("activation detected")

	reply, err := p.agent.Converse(ctx, turn, h)
	if err != nil {
		res.Outcome = p.agentFailed(ctx, logger, segs, claimed, err)
		return res, err
	}
	res.ConversationID = h.ConversationID()

	if err := p.sessions.Persist(ctx, h); err != nil {
		logger.Error().Err(err).Msg("persist session mapping failed")
	}

	userMsg := &transcript.Message{Type: transcript.MessageUser, Text: turn, SessionID: h.SessionID()}
	if err := p.store.SaveMessage(ctx, userMsg); err != nil {
		res.Outcome = OutcomeStoreFailed
		logger.Error().Err(err).Msg("save user message failed after agent call")
		return res, err
	}
	res.UserMessageID = userMsg.ID

	res.SMSFailed = !p.relay(ctx, logger, reply.Text)

	aiMsg := &transcript.Message{Type: transcript.MessageAI, Text: reply.Text, SessionID: h.SessionID()}
	if len(reply.Tools) > 0 {
		tools := strings.Join(reply.Tools, ",")
		aiMsg.ToolExecutions = &tools
	}
	if err := p.store.SaveMessage(ctx, aiMsg); err != nil {
		logger.Error().Err(err).Msg("save ai message failed")
	}

	if err := p.store.Link(ctx, claimed, userMsg.ID); err != nil {
		res.Outcome = OutcomeStoreFailed
		logger.Error().Err(err).Uint64("message_id", userMsg.ID).Msg("link segments failed")
		return res, err
	}

	res.Outcome = OutcomeDispatched
	logger.Info().
		Uint64("message_id", userMsg.ID).
		Str("conversation_id", res.ConversationID).
		Strs("tools", reply.Tools).
		Msg("batch dispatched")
	return res, nil
}

// relay sends the reply by SMS. Failures are logged only.
func (p *Processor) relay(ctx context.Context, logger zerolog.Logger, text string) bool {
	if strings.TrimSpace(text) == "" {
		logger.Warn().Msg("agent reply is empty, nothing to text")
		metrics.SMSSent.WithLabelValues("skipped").Inc()
		return true
	}
	res, err := p.sender.Send(ctx, text, "")
	if err != nil {
		metrics.SMSSent.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).
			Str("provider_error", res.Error).
			Int("quota_remaining", res.QuotaRemaining).
			Msg("sms relay failed")
		return false
	}
	metrics.SMSSent.WithLabelValues("sent").Inc()
	return true
}

func (p *Processor) agentFailed(ctx context.Context, logger zerolog.Logger, segs []transcript.Segment, claimed []uint64, cause error) Outcome {
	if p.policy != PolicyRequeue || p.requeuer == nil {
		logger.Error().Err(cause).Int("segments", len(claimed)).Msg("agent call failed, batch dropped")
		return OutcomeAgentFailed
	}

	attempts := 0
	for _, s := range segs {
		if s.Attempts > attempts {
			attempts = s.Attempts
		}
	}
	ok, err := p.requeuer.Requeue(ctx, claimed, attempts)
	switch {
	case err != nil:
		logger.Error().Err(fmt.Errorf("%w (requeue: %v)", cause, err)).Msg("agent call failed and requeue failed, batch dropped")
		return OutcomeAgentFailed
	case !ok:
		logger.Error().Err(cause).Int("attempts", attempts+1).Msg("agent call failed, retries exhausted, batch dropped")
		return OutcomeAgentFailed
	}
	logger.Warn().Err(cause).Int("attempts", attempts+1).Msg("agent call failed, batch requeued")
	return OutcomeRequeued
}

func keep(segs []transcript.Segment, ids []uint64) []transcript.Segment {
	want := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := segs[:0:0]
	for _, s := range segs {
		if _, ok := want[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}
