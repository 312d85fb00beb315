package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message roles as persisted in the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Conversation struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Title     *string   `gorm:"size:500"`
	Messages  []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// ToolCall is one invocation the model requested within an assistant message.
// Order within ToolCalls is the pairing key to later tool-role rows.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResultMeta annotates a tool-role row with the name of the tool that
// produced it. The result text itself lives in Message.Content.
type ToolResultMeta struct {
	Name string `json:"name"`
}

// Message is a single row of a conversation's ordered log. Messages are
// immutable once written, except the in-progress assistant row of a live turn.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ConversationID uuid.UUID `gorm:"type:uuid;index;not null"`
	Seq            int       `gorm:"index:idx_messages_conversation_seq,priority:2;not null"`
	Role           string    `gorm:"size:50;not null"`
	Content        string    `gorm:"type:text"`
	ToolCallsJSON  []byte    `gorm:"column:tool_calls;type:jsonb"`
	ToolResultJSON []byte    `gorm:"column:tool_results;type:jsonb"`
	ModelUsed      string    `gorm:"size:100"`
	CreatedAt      time.Time
}

func (m *Message) ToolCalls() []ToolCall {
	if len(m.ToolCallsJSON) == 0 {
		return nil
	}
	var calls []ToolCall
	if err := json.Unmarshal(m.ToolCallsJSON, &calls); err != nil {
		return nil
	}
	return calls
}

func (m *Message) SetToolCalls(calls []ToolCall) error {
	if len(calls) == 0 {
		m.ToolCallsJSON = nil
		return nil
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return err
	}
	m.ToolCallsJSON = raw
	return nil
}

func (m *Message) ToolResultMeta() *ToolResultMeta {
	if len(m.ToolResultJSON) == 0 {
		return nil
	}
	var meta ToolResultMeta
	if err := json.Unmarshal(m.ToolResultJSON, &meta); err != nil {
		return nil
	}
	return &meta
}

func (m *Message) SetToolResultMeta(meta ToolResultMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	m.ToolResultJSON = raw
	return nil
}
