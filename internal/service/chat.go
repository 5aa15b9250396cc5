package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/models"
	"github.com/parleychat/parley/internal/token"
)

// ConversationStore is the slice of the store the chat path needs.
type ConversationStore interface {
	Create(ctx context.Context, conversationID, organizationID, seedContent string) (*models.Conversation, error)
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg models.Message) (*models.Conversation, error)
}

// TokenCodec issues and verifies session tokens.
type TokenCodec interface {
	Issue() (tokenString string, conversationID string, err error)
	Verify(tokenString string) (*token.SessionClaims, error)
}

// Replier generates the assistant reply for a transcript.
type Replier interface {
	GenerateReply(ctx context.Context, messages []models.Message) (string, error)
}

// ChatRequest is one inbound chat exchange.
type ChatRequest struct {
	Message string
	Token   string
	Domain  string
}

// ChatResponse is the outcome of one chat exchange.
type ChatResponse struct {
	Reply             string `json:"reply"`
	Token             string `json:"token"`
	ConversationID    string `json:"conversationId"`
	MessageCount      int    `json:"messageCount"`
	IsNewConversation bool   `json:"isNewConversation"`
}

// ChatService drives a chat exchange: session token handling, conversation
// state, and the completion provider call.
type ChatService struct {
	store  ConversationStore
	tokens TokenCodec
	model  Replier
	orgs   *OrgDirectory
	stats  *metrics.Collector
	logger *slog.Logger
}

// NewChatService creates a chat service. The metrics collector may be nil.
func NewChatService(store ConversationStore, tokens TokenCodec, model Replier, orgs *OrgDirectory, stats *metrics.Collector, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		store:  store,
		tokens: tokens,
		model:  model,
		orgs:   orgs,
		stats:  stats,
		logger: logger,
	}
}

// ProcessChat handles one exchange. Without a token it mints a new session
// and seeds a conversation with the organization's system prompt; with one
// it resumes the referenced conversation. Token and conversation errors
// surface as-is so the transport layer can map them; the caller's remedy in
// both cases is to start a new session.
func (s *ChatService) ProcessChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("message must not be empty")
	}

	org, err := s.orgs.ResolveDomain(req.Domain)
	if err != nil {
		return nil, err
	}

	conversationID, sessionToken, isNew, err := s.resolveSession(ctx, req.Token, org)
	if err != nil {
		return nil, err
	}

	conv, err := s.appendTimed(ctx, conversationID, models.Message{
		Role:      models.RoleUser,
		Content:   message,
		Timestamp: models.NowMs(),
	})
	if err != nil {
		return nil, err
	}

	reply, err := s.generateReply(ctx, conv.Messages)
	if err != nil {
		return nil, err
	}

	conv, err = s.appendTimed(ctx, conversationID, models.Message{
		Role:      models.RoleAssistant,
		Content:   reply,
		Timestamp: models.NowMs(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("chat exchange completed",
		"conversation_id", conversationID,
		"organization_id", org.ID,
		"message_count", len(conv.Messages),
		"new_conversation", isNew)

	return &ChatResponse{
		Reply:             reply,
		Token:             sessionToken,
		ConversationID:    conversationID,
		MessageCount:      len(conv.Messages),
		IsNewConversation: isNew,
	}, nil
}

// resolveSession verifies an existing token or mints a new session. A new
// session also creates the conversation, seeded with the organization's
// system prompt.
func (s *ChatService) resolveSession(ctx context.Context, tokenString string, org *Organization) (conversationID, sessionToken string, isNew bool, err error) {
	if tokenString != "" {
		claims, err := s.tokens.Verify(tokenString)
		if err != nil {
			return "", "", false, err
		}
		// The token being valid does not imply the conversation still
		// exists; natural expiry surfaces here as not-found.
		if _, err := s.store.Get(ctx, claims.ConversationID); err != nil {
			return "", "", false, err
		}
		s.logger.Debug("continuing conversation", "conversation_id", claims.ConversationID)
		return claims.ConversationID, tokenString, false, nil
	}

	sessionToken, conversationID, err = s.tokens.Issue()
	if err != nil {
		return "", "", false, fmt.Errorf("issue session token: %w", err)
	}

	if _, err := s.store.Create(ctx, conversationID, org.ID, org.SystemPrompt); err != nil {
		return "", "", false, err
	}

	s.logger.Debug("starting conversation", "conversation_id", conversationID, "organization_id", org.ID)
	return conversationID, sessionToken, true, nil
}

func (s *ChatService) appendTimed(ctx context.Context, conversationID string, msg models.Message) (*models.Conversation, error) {
	start := time.Now()
	conv, err := s.store.AppendMessage(ctx, conversationID, msg)
	if s.stats != nil {
		s.stats.RecordTiming(metrics.OpStoreWrite, time.Since(start))
	}
	return conv, err
}

func (s *ChatService) generateReply(ctx context.Context, messages []models.Message) (string, error) {
	start := time.Now()
	reply, err := s.model.GenerateReply(ctx, messages)
	if s.stats != nil {
		s.stats.RecordTiming(metrics.OpLLMGenerate, time.Since(start))
	}
	if err != nil {
		return "", fmt.Errorf("completion provider: %w", err)
	}
	return reply, nil
}
