package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"gorm.io/gorm"
)

type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Item is one turn of a conversation the agent owns.
type Item struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:varchar(64);not null;index:idx_agent_items_conv_id,priority:1" json:"conversation_id"`
	Role           Role      `gorm:"type:varchar(16);not null" json:"role"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Item) TableName() string { return "agent_items" }

type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

// Recent returns up to limit most recent items of conversationID, oldest
// first.
func (h *History) Recent(ctx context.Context, conversationID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 20
	}
	var items []Item
	err := h.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("%w: load agent history: %w", common.ErrStore, err)
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// Append stores a completed exchange atomically.
func (h *History) Append(ctx context.Context, conversationID, human, ai string) error {
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&Item{ConversationID: conversationID, Role: RoleHuman, Text: human}).Error; err != nil {
			return err
		}
		return tx.Create(&Item{ConversationID: conversationID, Role: RoleAI, Text: ai}).Error
	})
	if err != nil {
		return fmt.Errorf("%w: append agent history: %w", common.ErrStore, err)
	}
	return nil
}
