package services

import (
	"errors"
	"strings"
	"time"

	"villaops_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationServiceDB defines the interface for conversation persistence.
// Message rows are appended in the same order the turn runner emits events,
// so a mid-turn reload never observes a result before its call.
type ConversationServiceDB interface {
	CreateConversation(userID uuid.UUID, firstMessage string) (*models.Conversation, error)
	GetConversation(conversationID, userID uuid.UUID) (*models.Conversation, error)
	GetConversationWithMessages(conversationID, userID uuid.UUID) (*models.Conversation, error)
	ListConversations(userID uuid.UUID, limit, offset int) ([]models.Conversation, error)
	CountMessages(conversationID uuid.UUID) (int64, error)
	DeleteConversation(conversationID, userID uuid.UUID) error
	AppendUserMessage(conversationID uuid.UUID, content string) (*models.Message, error)
	AppendAssistantMessage(conversationID uuid.UUID, content string, calls []models.ToolCall, modelUsed string) (*models.Message, error)
	AppendToolMessage(conversationID uuid.UUID, toolName, result string) (*models.Message, error)
}

type DefaultConversationService struct {
	db *gorm.DB
}

func NewConversationServiceDB(db *gorm.DB) ConversationServiceDB {
	return &DefaultConversationService{db: db}
}

func (s *DefaultConversationService) CreateConversation(userID uuid.UUID, firstMessage string) (*models.Conversation, error) {
	title := GenerateTitle(firstMessage)
	conv := &models.Conversation{
		UserID: userID,
		Title:  &title,
	}
	if err := s.db.Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *DefaultConversationService) GetConversation(conversationID, userID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	result := s.db.Where("id = ? AND user_id = ?", conversationID, userID).First(&conv)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, result.Error
	}
	return &conv, nil
}

func (s *DefaultConversationService) GetConversationWithMessages(conversationID, userID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	result := s.db.
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq asc")
		}).
		Where("id = ? AND user_id = ?", conversationID, userID).
		First(&conv)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, result.Error
	}
	return &conv, nil
}

func (s *DefaultConversationService) ListConversations(userID uuid.UUID, limit, offset int) ([]models.Conversation, error) {
	var convs []models.Conversation
	result := s.db.
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Limit(limit).
		Offset(offset).
		Find(&convs)
	if result.Error != nil {
		return nil, result.Error
	}
	return convs, nil
}

func (s *DefaultConversationService) CountMessages(conversationID uuid.UUID) (int64, error) {
	var count int64
	result := s.db.Model(&models.Message{}).Where("conversation_id = ?", conversationID).Count(&count)
	return count, result.Error
}

// DeleteConversation hides the conversation from listings and purges its
// message rows. The conversation row itself is soft-deleted so the id stays
// reserved while referenced by history.
func (s *DefaultConversationService) DeleteConversation(conversationID, userID uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.Where("id = ? AND user_id = ?", conversationID, userID).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		if err := tx.Unscoped().Where("conversation_id = ?", conv.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&conv).Error
	})
}

func (s *DefaultConversationService) AppendUserMessage(conversationID uuid.UUID, content string) (*models.Message, error) {
	return s.appendMessage(&models.Message{
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        content,
	})
}

func (s *DefaultConversationService) AppendAssistantMessage(conversationID uuid.UUID, content string, calls []models.ToolCall, modelUsed string) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        content,
		ModelUsed:      modelUsed,
	}
	if err := msg.SetToolCalls(calls); err != nil {
		return nil, err
	}
	return s.appendMessage(msg)
}

func (s *DefaultConversationService) AppendToolMessage(conversationID uuid.UUID, toolName, result string) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conversationID,
		Role:           models.RoleTool,
		Content:        result,
	}
	if err := msg.SetToolResultMeta(models.ToolResultMeta{Name: toolName}); err != nil {
		return nil, err
	}
	return s.appendMessage(msg)
}

// appendMessage assigns the next seq for the conversation and bumps the
// conversation's updated_at inside one transaction.
func (s *DefaultConversationService) appendMessage(msg *models.Message) (*models.Message, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		row := tx.Model(&models.Message{}).
			Where("conversation_id = ?", msg.ConversationID).
			Select("COALESCE(MAX(seq), 0)").
			Row()
		if err := row.Scan(&maxSeq); err != nil {
			return err
		}
		msg.Seq = maxSeq + 1
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			UpdateColumn("updated_at", time.Now()).Error
	})
	if err != nil {
		log.Error().Err(err).
			Str("conversationID", msg.ConversationID.String()).
			Str("role", msg.Role).
			Msg("Failed to append message")
		return nil, err
	}
	return msg, nil
}

// GenerateTitle derives a conversation title from the first user message,
// truncated to ~50 chars at a word boundary.
func GenerateTitle(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= 50 {
		return content
	}
	truncated := content[:50]
	if idx := strings.LastIndex(truncated, " "); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + "..."
}
