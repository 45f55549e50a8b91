package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/transcript"
)

// DefaultCacheTTL bounds cached mappings when no TTL is configured.
const DefaultCacheTTL = time.Hour

// Cache is an optional read-through layer in front of the sessions table.
// The table stays the source of truth: entries always expire and are
// dropped whenever the row is reset or purged.
type Cache interface {
	GetConversation(ctx context.Context, sessionID string) (string, bool, error)
	SetConversation(ctx context.Context, sessionID, conversationID string, ttl time.Duration) error
	DeleteConversation(ctx context.Context, sessionID string) error
}

type Options struct {
	Cache Cache
	// CacheTTL <= 0 means DefaultCacheTTL. It is capped at IdleTimeout.
	CacheTTL time.Duration
	// IdleTimeout > 0 starts a fresh conversation for sessions unused for
	// longer than this.
	IdleTimeout time.Duration
}

// Map resolves inbound session ids to conversation handles.
type Map struct {
	repo        *Repo
	cache       Cache
	cacheTTL    time.Duration
	idleTimeout time.Duration

	now         func() time.Time
	placeholder func() string
}

func NewMap(repo *Repo, opts Options) *Map {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if opts.IdleTimeout > 0 && opts.IdleTimeout < ttl {
		ttl = opts.IdleTimeout
	}
	return &Map{
		repo:        repo,
		cache:       opts.Cache,
		cacheTTL:    ttl,
		idleTimeout: opts.IdleTimeout,
		now:         time.Now,
		placeholder: newPlaceholderID,
	}
}

func newPlaceholderID() string {
	return "unknown_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Resolve returns the handle for sessionID: resumed when a live mapping
// exists, otherwise a new unbound one. It never fails; store trouble is
// logged and yields a new handle. Blank ids and the "unknown" sentinel are
// replaced with a generated placeholder so unrelated batches never share a
// conversation.
func (m *Map) Resolve(ctx context.Context, sessionID string) *Handle {
	sid := strings.TrimSpace(sessionID)
	if sid == "" || sid == transcript.UnknownSession {
		sid = m.placeholder()
		log.Warn().Str("session_id", sid).Msg("empty session id, using generated id")
	}

	if m.cache != nil {
		conv, ok, err := m.cache.GetConversation(ctx, sid)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sid).Msg("session cache read failed")
		} else if ok && conv != "" {
			log.Info().Str("session_id", sid).Str("conversation_id", conv).Msg("resuming conversation (cache)")
			return NewHandle(sid, conv)
		}
	}

	now := m.now()
	mapping, err := m.repo.Get(ctx, sid)
	if err != nil {
		log.Error().Err(err).Str("session_id", sid).Msg("session lookup failed, starting new conversation")
		return NewHandle(sid, "")
	}

	if mapping != nil && mapping.ConversationID != nil && *mapping.ConversationID != "" {
		if m.idleTimeout <= 0 || now.Sub(mapping.LastUsedAt) <= m.idleTimeout {
			log.Info().Str("session_id", sid).Str("conversation_id", *mapping.ConversationID).Msg("resuming conversation")
			return NewHandle(sid, *mapping.ConversationID)
		}

		log.Info().
			Str("session_id", sid).
			Str("conversation_id", *mapping.ConversationID).
			Dur("idle", now.Sub(mapping.LastUsedAt)).
			Msg("conversation idle too long, starting new one")
		// the expired conversation must not come back if this batch never
		// reaches Persist
		if err := m.repo.Reset(ctx, sid, now); err != nil {
			log.Error().Err(err).Str("session_id", sid).Msg("session reset failed")
		}
		m.forget(ctx, sid)
		return NewHandle(sid, "")
	}

	if err := m.repo.Touch(ctx, sid, now); err != nil {
		log.Error().Err(err).Str("session_id", sid).Msg("session row create failed")
	}
	log.Info().Str("session_id", sid).Msg("creating new conversation")
	return NewHandle(sid, "")
}

// Persist stores the conversation id the agent assigned to h. An unbound
// handle is skipped with a warning.
func (m *Map) Persist(ctx context.Context, h *Handle) error {
	conv := h.ConversationID()
	if conv == "" {
		log.Warn().Str("session_id", h.SessionID()).Msg("could not extract conversation id from handle")
		return nil
	}
	if err := m.repo.Upsert(ctx, h.SessionID(), conv, m.now()); err != nil {
		return err
	}
	if m.cache != nil {
		if err := m.cache.SetConversation(ctx, h.SessionID(), conv, m.cacheTTL); err != nil {
			log.Warn().Err(err).Str("session_id", h.SessionID()).Msg("session cache write failed")
		}
	}
	log.Info().Str("session_id", h.SessionID()).Str("conversation_id", conv).Msg("saved session mapping")
	return nil
}

// Lookup returns the stored mapping for sessionID, nil when absent.
func (m *Map) Lookup(ctx context.Context, sessionID string) (*Mapping, error) {
	return m.repo.Get(ctx, sessionID)
}

// PurgeIdle deletes mappings not used since cutoff and drops their cache
// entries.
func (m *Map) PurgeIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []string
	if m.cache != nil {
		var err error
		if ids, err = m.repo.IdleSessionIDs(ctx, cutoff); err != nil {
			return 0, err
		}
	}
	n, err := m.repo.PurgeIdle(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, sid := range ids {
		m.forget(ctx, sid)
	}
	return n, nil
}

func (m *Map) forget(ctx context.Context, sid string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.DeleteConversation(ctx, sid); err != nil {
		log.Warn().Err(err).Str("session_id", sid).Msg("session cache delete failed")
	}
}
