// Package store holds live conversation documents in Redis under
// sliding-expiry keys.
//
// Every write rewrites the full document and resets the key's TTL to the
// configured window, so any activity restarts the countdown. The store
// provides no compare-and-swap by default: two concurrent appends to the
// same conversation race read-modify-write and the later write wins. See
// AppendMessageCAS for the opt-in transactional variant.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parleychat/parley/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "conversation:"
	markerSuffix   = ":archived"
	markerSentinel = "1"

	// casRetries bounds optimistic-locking attempts in AppendMessageCAS.
	casRetries = 5
)

// ConversationKey returns the Redis key for a conversation document.
func ConversationKey(conversationID string) string {
	return keyPrefix + conversationID
}

// MarkerKey returns the Redis key for a conversation's archive marker.
func MarkerKey(conversationID string) string {
	return ConversationKey(conversationID) + markerSuffix
}

// IsMarkerKey reports whether key names an archive marker rather than a
// conversation document.
func IsMarkerKey(key string) bool {
	return strings.HasSuffix(key, markerSuffix)
}

// Config holds conversation store settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Window is the sliding expiry applied on every write.
	Window time.Duration
}

// Store is a Redis-backed conversation store.
type Store struct {
	client *redis.Client
	window time.Duration
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %s", ErrStoreUnavailable, cfg.Addr, err)
	}

	return &Store{
		client: client,
		window: cfg.Window,
		logger: logger,
	}, nil
}

// NewWithClient wraps an existing Redis client (used by tests).
func NewWithClient(client *redis.Client, window time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, window: window, logger: logger}
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks store reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return nil
}

// Window returns the configured sliding-expiry window.
func (s *Store) Window() time.Duration {
	return s.window
}

// Create writes a new conversation document with the full window TTL, then
// appends the seed message as a system message through the regular append
// path so it gets the same ordering and TTL side effects as any other write.
// Fails with ErrConversationExists if a live conversation holds the id.
func (s *Store) Create(ctx context.Context, conversationID, organizationID, seedContent string) (*models.Conversation, error) {
	now := models.NowMs()
	conv := &models.Conversation{
		ConversationID: conversationID,
		OrganizationID: organizationID,
		Messages:       []models.Message{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}

	ok, err := s.client.SetNX(ctx, ConversationKey(conversationID), data, s.window).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %s", ErrStoreUnavailable, conversationID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationExists, conversationID)
	}

	conv, err = s.AppendMessage(ctx, conversationID, models.Message{
		Role:      models.RoleSystem,
		Content:   seedContent,
		Timestamp: models.NowMs(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation created", "conversation_id", conversationID, "organization_id", organizationID)
	return conv, nil
}

// Get fetches a conversation document. Returns ErrConversationNotFound when
// the key is absent and ErrBadRecord when the stored document fails to decode.
func (s *Store) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	data, err := s.client.Get(ctx, ConversationKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %s", ErrStoreUnavailable, conversationID, err)
	}

	return decodeConversation(conversationID, data)
}

// AppendMessage appends a message, bumps UpdatedAt, rewrites the document
// and resets the TTL to the full window. Last write wins under concurrent
// appends to the same conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg models.Message) (*models.Conversation, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = models.NowMs()

	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}

	s.logger.Debug("message appended",
		"conversation_id", conversationID,
		"role", msg.Role,
		"message_count", len(conv.Messages))
	return conv, nil
}

// AppendMessageCAS is the opt-in optimistic-locking variant of AppendMessage.
// It watches the conversation key and retries the read-modify-write when a
// concurrent writer changes the document, so no append is silently lost.
func (s *Store) AppendMessageCAS(ctx context.Context, conversationID string, msg models.Message) (*models.Conversation, error) {
	key := ConversationKey(conversationID)
	var result *models.Conversation

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		if err != nil {
			return fmt.Errorf("%w: get %s: %s", ErrStoreUnavailable, conversationID, err)
		}

		conv, err := decodeConversation(conversationID, data)
		if err != nil {
			return err
		}

		conv.Messages = append(conv.Messages, msg)
		conv.UpdatedAt = models.NowMs()

		encoded, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("encode conversation %s: %w", conversationID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.window)
			return nil
		})
		if err != nil {
			return err
		}

		result = conv
		return nil
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: append %s: too many concurrent writers", ErrStoreUnavailable, conversationID)
}

// Delete removes a conversation document and its archive marker. Idempotent:
// deleting an absent conversation is not an error.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	err := s.client.Del(ctx, ConversationKey(conversationID), MarkerKey(conversationID)).Err()
	if err != nil {
		return fmt.Errorf("%w: delete %s: %s", ErrStoreUnavailable, conversationID, err)
	}
	s.logger.Info("conversation deleted", "conversation_id", conversationID)
	return nil
}

// ScanConversations returns the ids of all live conversation documents.
// Archive marker keys are filtered out by suffix.
func (s *Store) ScanConversations(ctx context.Context) ([]string, error) {
	var ids []string

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if IsMarkerKey(key) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %s", ErrStoreUnavailable, err)
	}

	return ids, nil
}

// RemainingTTL reports the time left before the conversation key expires.
// Returns ErrConversationNotFound when the key is already gone. A negative
// duration means the key carries no expiry; conversations always do by
// construction, so callers treat that as a defensive no-op.
func (s *Store) RemainingTTL(ctx context.Context, conversationID string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, ConversationKey(conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %s", ErrStoreUnavailable, conversationID, err)
	}
	// go-redis reports missing keys as -2 and no-expiry keys as -1.
	if ttl == -2 {
		return 0, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	return ttl, nil
}

// IsArchived reports whether an archive marker exists for the conversation.
func (s *Store) IsArchived(ctx context.Context, conversationID string) (bool, error) {
	err := s.client.Get(ctx, MarkerKey(conversationID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: marker %s: %s", ErrStoreUnavailable, conversationID, err)
	}
	return true, nil
}

// MarkArchived sets the archive marker with the given TTL. The caller passes
// the conversation key's actual remaining TTL so marker and document expire
// together and markers never accumulate.
func (s *Store) MarkArchived(ctx context.Context, conversationID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("marker ttl must be positive, got %s", ttl)
	}
	err := s.client.Set(ctx, MarkerKey(conversationID), markerSentinel, ttl).Err()
	if err != nil {
		return fmt.Errorf("%w: mark %s: %s", ErrStoreUnavailable, conversationID, err)
	}
	return nil
}

// Counts returns the number of live conversation documents and archive
// markers currently in the store, for health reporting.
func (s *Store) Counts(ctx context.Context) (live, markers int, err error) {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if IsMarkerKey(iter.Val()) {
			markers++
		} else {
			live++
		}
	}
	if err := iter.Err(); err != nil {
		return 0, 0, fmt.Errorf("%w: scan: %s", ErrStoreUnavailable, err)
	}
	return live, markers, nil
}

func (s *Store) save(ctx context.Context, conv *models.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ConversationID, err)
	}

	err = s.client.Set(ctx, ConversationKey(conv.ConversationID), data, s.window).Err()
	if err != nil {
		return fmt.Errorf("%w: save %s: %s", ErrStoreUnavailable, conv.ConversationID, err)
	}
	return nil
}

func decodeConversation(conversationID string, data []byte) (*models.Conversation, error) {
	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrBadRecord, conversationID, err)
	}
	return &conv, nil
}
