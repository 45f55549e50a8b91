package session

import "time"

// Mapping links an inbound device session to an external conversation.
type Mapping struct {
	SessionID      string    `gorm:"primaryKey;type:varchar(128)" json:"session_id"`
	ConversationID *string   `gorm:"type:varchar(128)" json:"conversation_id"`
	LastUsedAt     time.Time `gorm:"index;not null" json:"last_used_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Mapping) TableName() string { return "sessions" }
