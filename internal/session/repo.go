package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Get returns the mapping for sessionID, or nil when there is none.
func (r *Repo) Get(ctx context.Context, sessionID string) (*Mapping, error) {
	var m Mapping
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get session mapping: %w", common.ErrStore, err)
	}
	return &m, nil
}

// Touch creates the row with no conversation yet, or refreshes last_used_at
// of an existing row.
func (r *Repo) Touch(ctx context.Context, sessionID string, now time.Time) error {
	m := Mapping{SessionID: sessionID, LastUsedAt: now}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]any{"last_used_at": now}),
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("%w: touch session mapping: %w", common.ErrStore, err)
	}
	return nil
}

// Upsert stores conversationID for sessionID and refreshes last_used_at.
func (r *Repo) Upsert(ctx context.Context, sessionID, conversationID string, now time.Time) error {
	m := Mapping{SessionID: sessionID, ConversationID: &conversationID, LastUsedAt: now}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"conversation_id": conversationID,
				"last_used_at":    now,
			}),
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("%w: upsert session mapping: %w", common.ErrStore, err)
	}
	return nil
}

// Reset drops the conversation of sessionID, leaving an unbound row used
// at now.
func (r *Repo) Reset(ctx context.Context, sessionID string, now time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&Mapping{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"conversation_id": gorm.Expr("NULL"),
			"last_used_at":    now,
		}).Error
	if err != nil {
		return fmt.Errorf("%w: reset session mapping: %w", common.ErrStore, err)
	}
	return nil
}

func (r *Repo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Mapping{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: count session mappings: %w", common.ErrStore, err)
	}
	return n, nil
}

// IdleSessionIDs lists the sessions not used since cutoff.
func (r *Repo) IdleSessionIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&Mapping{}).
		Where("last_used_at < ?", cutoff).
		Pluck("session_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list idle sessions: %w", common.ErrStore, err)
	}
	return ids, nil
}

// PurgeIdle deletes mappings not used since cutoff.
func (r *Repo) PurgeIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("last_used_at < ?", cutoff).
		Delete(&Mapping{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: purge session mappings: %w", common.ErrStore, res.Error)
	}
	return res.RowsAffected, nil
}
