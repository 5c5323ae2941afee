package chat

import "time"

type SessionKind string

const (
	KindPersona SessionKind = "persona"
	KindCoach   SessionKind = "coach"
)

type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

type Session struct {
	ID                uint64      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID         string      `gorm:"type:varchar(26);uniqueIndex;not null" json:"sessionId"`
	Kind              SessionKind `gorm:"type:varchar(16);index;not null" json:"kind"`
	PartnerID         string      `gorm:"type:varchar(64);index;not null" json:"partnerId"`
	UserID            string      `gorm:"type:varchar(64);index" json:"userId,omitempty"`
	SystemInstruction string      `gorm:"type:text" json:"-"`
	Provider          string      `gorm:"type:varchar(32);not null" json:"provider"`
	Model             string      `gorm:"type:varchar(64)" json:"model"`
	EndedAt           *time.Time  `json:"endedAt,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

func (Session) TableName() string { return "chat_sessions" }

func (s *Session) IsCoaching() bool { return s.Kind == KindCoach }

type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_session_id;index:uniq_chat_msg_idempo,unique,priority:1" json:"sessionId"`
	Sender         Sender    `gorm:"type:varchar(16);index;not null" json:"sender"`
	Content        string    `gorm:"type:text;not null" json:"text"`
	IdempotencyKey *string   `gorm:"type:varchar(128);index:uniq_chat_msg_idempo,unique,priority:2" json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (Message) TableName() string { return "chat_messages" }

// Analysis stores the scripted report produced when a session ends.
type Analysis struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	SessionID    string    `gorm:"type:varchar(26);uniqueIndex;not null"`
	OverallScore int       `gorm:"not null"`
	Report       string    `gorm:"type:text;not null"` // JSON-encoded analysis.Report
	CreatedAt    time.Time
}

func (Analysis) TableName() string { return "chat_analyses" }

// Models lists every table this package owns, for AutoMigrate.
func Models() []any {
	return []any{&Session{}, &Message{}, &Job{}, &Analysis{}}
}
