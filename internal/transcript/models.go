package transcript

import "time"

// UnknownSession is stored when a webhook carries no session id.
const UnknownSession = "unknown"

// Segment is one recognized utterance delivered by the recording device.
type Segment struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	// External id assigned by the device. NULL never collides with NULL.
	SegmentID *string `gorm:"type:varchar(128);uniqueIndex:uniq_transcript_segment_id" json:"segment_id"`

	Text      string  `gorm:"type:text;not null" json:"text"`
	Speaker   string  `gorm:"type:varchar(64);not null" json:"speaker"`
	SpeakerID int     `gorm:"not null" json:"speaker_id"`
	IsUser    bool    `gorm:"not null" json:"is_user"`
	StartTime float64 `json:"start"`
	EndTime   float64 `json:"end"`
	SessionID string  `gorm:"type:varchar(128);index;not null" json:"session_id"`

	Processed   bool       `gorm:"index;not null" json:"processed"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ClaimToken  *string    `gorm:"type:varchar(32);index" json:"-"`
	AvailableAt *time.Time `gorm:"index" json:"available_at,omitempty"`
	Attempts    int        `gorm:"not null" json:"attempts"`

	// Filled once the batch reached the agent and the user turn was stored.
	MessageID *uint64 `gorm:"index" json:"message_id,omitempty"`

	ReceivedAt time.Time `gorm:"autoCreateTime;index" json:"received_at"`
}

func (Segment) TableName() string { return "transcript_segments" }

type MessageType string

const (
	MessageUser MessageType = "user"
	MessageAI   MessageType = "ai"
)

// Message is one conversational turn. Rows are never updated.
type Message struct {
	ID        uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      MessageType `gorm:"type:varchar(8);index;not null" json:"message_type"`
	Text      string      `gorm:"type:text;not null" json:"message_text"`
	SessionID string      `gorm:"type:varchar(128);index" json:"session_id"`

	// Comma-joined names of tools the agent ran for this turn, best effort.
	ToolExecutions *string `gorm:"type:text" json:"tool_executions,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"timestamp"`
}

func (Message) TableName() string { return "messages" }

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Segment{}, &Message{}}
}
