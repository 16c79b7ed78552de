// MongoDB-backed SavedMessages. Records are keyed by the full
// (user, conversation, message, kind) tuple so upserts are idempotent.
package directory

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

// SavedCollection holds the per-user starred/mentioned records.
const SavedCollection = "saved_messages"

// MongoSaved is the production SavedMessages implementation.
type MongoSaved struct {
	coll *mongo.Collection
}

// NewMongoSaved wraps the saved-messages collection.
func NewMongoSaved(db *mongo.Database) *MongoSaved {
	return &MongoSaved{coll: db.Collection(SavedCollection)}
}

// EnsureIndexes creates the record indexes. Call once at startup.
func (s *MongoSaved) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "conversation_id", Value: 1},
				{Key: "message_id", Value: 1},
				{Key: "kind", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create saved-message indexes: %w", err)
	}
	return nil
}

// Save implements SavedMessages.
func (s *MongoSaved) Save(ctx context.Context, rec *domain.SavedMessage) error {
	if err := validateSaved(rec); err != nil {
		return err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.coll.UpdateOne(ctx,
		bson.M{
			"user_id":         rec.UserID,
			"conversation_id": rec.ConversationID,
			"message_id":      rec.MessageID,
			"kind":            rec.Kind,
		},
		bson.M{"$setOnInsert": bson.M{
			"user_id":         rec.UserID,
			"conversation_id": rec.ConversationID,
			"message_id":      rec.MessageID,
			"kind":            rec.Kind,
			"created_at":      createdAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save message record: %w", err)
	}
	return nil
}

// Delete implements SavedMessages.
func (s *MongoSaved) Delete(ctx context.Context, userID, conversationID, messageID string, kind domain.SavedKind) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{
		"user_id":         userID,
		"conversation_id": conversationID,
		"message_id":      messageID,
		"kind":            kind,
	})
	if err != nil {
		return fmt.Errorf("delete message record: %w", err)
	}
	return nil
}

// List implements SavedMessages.
func (s *MongoSaved) List(ctx context.Context, userID string, kind domain.SavedKind) ([]domain.SavedMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "message_id", Value: -1}})
	cur, err := s.coll.Find(ctx, bson.M{"user_id": userID, "kind": kind}, opts)
	if err != nil {
		return nil, fmt.Errorf("list message records: %w", err)
	}
	var recs []domain.SavedMessage
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode message records: %w", err)
	}
	return recs, nil
}
