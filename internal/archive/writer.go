// Package archive persists finished conversations into MongoDB.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleychat/parley/internal/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName is the durable collection holding conversation records.
const CollectionName = "conversation_history"

// Writer is an idempotent archive sink. Each conversation id is written at
// most once; repeat calls are no-ops. A unique index on conversationId backs
// the guarantee against concurrent writers.
type Writer struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

// Connect establishes a MongoDB connection and verifies it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	return client, nil
}

// NewWriter creates an archive writer over the given database.
func NewWriter(client *mongo.Client, database string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		coll:   client.Database(database).Collection(CollectionName),
		logger: logger,
	}
}

// EnsureIndexes creates the unique conversationId index. Called once at
// startup; safe to repeat.
func (w *Writer) EnsureIndexes(ctx context.Context) error {
	_, err := w.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversationId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create conversationId index: %w", err)
	}
	return nil
}

// Archive writes the durable record for a conversation. If a record for the
// id already exists the call returns nil without writing; a duplicate-key
// failure from a concurrent writer is treated the same way. Any other
// failure propagates so the scheduler can count it and retry on a later
// sweep.
func (w *Writer) Archive(ctx context.Context, conv *models.Conversation) error {
	err := w.coll.FindOne(ctx, bson.M{"conversationId": conv.ConversationID}).Err()
	if err == nil {
		w.logger.Debug("conversation already archived", "conversation_id", conv.ConversationID)
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("check existing archive %s: %w", conv.ConversationID, err)
	}

	record := BuildRecord(conv, time.Now())

	if _, err := w.coll.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			w.logger.Debug("archive race lost, record already written", "conversation_id", conv.ConversationID)
			return nil
		}
		return fmt.Errorf("insert archive %s: %w", conv.ConversationID, err)
	}

	w.logger.Info("conversation archived",
		"conversation_id", conv.ConversationID,
		"organization_id", conv.OrganizationID,
		"total_messages", record.TotalMessages,
		"duration_ms", record.DurationMs)
	return nil
}

// FindRecord fetches a durable record by conversation id. Returns nil when
// no record exists.
func (w *Writer) FindRecord(ctx context.Context, conversationID string) (*models.ConversationRecord, error) {
	var record models.ConversationRecord
	err := w.coll.FindOne(ctx, bson.M{"conversationId": conversationID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find archive %s: %w", conversationID, err)
	}
	return &record, nil
}

// CountRecords returns the number of records stored for a conversation id.
// Exists for tests asserting the write-once guarantee.
func (w *Writer) CountRecords(ctx context.Context, conversationID string) (int64, error) {
	n, err := w.coll.CountDocuments(ctx, bson.M{"conversationId": conversationID})
	if err != nil {
		return 0, fmt.Errorf("count archives %s: %w", conversationID, err)
	}
	return n, nil
}

// BuildRecord derives the durable record from a conversation: per-role
// message counts, first and last user message, and the wall-clock duration
// taken from the conversation's own timestamps.
func BuildRecord(conv *models.Conversation, archivedAt time.Time) *models.ConversationRecord {
	record := &models.ConversationRecord{
		ConversationID: conv.ConversationID,
		OrganizationID: conv.OrganizationID,
		Messages:       conv.Messages,
		StartedAt:      time.UnixMilli(conv.CreatedAt),
		EndedAt:        time.UnixMilli(conv.UpdatedAt),
		TotalMessages:  len(conv.Messages),
		DurationMs:     conv.UpdatedAt - conv.CreatedAt,
		ArchivedAt:     archivedAt,
	}

	for _, msg := range conv.Messages {
		switch msg.Role {
		case models.RoleUser:
			record.UserMessages++
			if record.UserMessages == 1 {
				record.FirstUserMessage = msg.Content
			}
			record.LastUserMessage = msg.Content
		case models.RoleAssistant:
			record.AssistantMessages++
		case models.RoleSystem:
			record.SystemMessages++
		}
	}

	return record
}
