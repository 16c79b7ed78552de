// MongoDB-backed archive store.
//
// One document per archived message in the archived_messages collection,
// keyed "_id" = "<conversationID>_<messageID>" so the uniqueness constraint
// that backs idempotent batch retries is enforced by the database, not by
// application bookkeeping.
package archivestore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

// CollectionName is the archive collection within the chat database.
const CollectionName = "archived_messages"

// archiveDoc is the persisted shape: the message plus the composite key.
type archiveDoc struct {
	ID             string `bson:"_id"`
	domain.Message `bson:",inline"`
}

func docID(conversationID, messageID string) string {
	return conversationID + "_" + messageID
}

// MongoStore is the production archive store implementation.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore wraps the archive collection.
func NewMongoStore(col *mongo.Collection) *MongoStore {
	return &MongoStore{col: col}
}

// EnsureIndexes creates the pagination index. Call once at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "created_at", Value: -1},
			{Key: "message_id", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("create archive index: %w", err)
	}
	return nil
}

// Archive implements Store.
func (s *MongoStore) Archive(ctx context.Context, conversationID string, batch []domain.Message) error {
	if len(batch) == 0 {
		return nil
	}

	ids := make([]string, len(batch))
	for i := range batch {
		ids[i] = docID(conversationID, batch[i].ID)
	}

	// Fetch what is already there so a retried batch degrades to a no-op
	// and a content mismatch is caught before any write.
	cur, err := s.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("probe archived batch: %w", err)
	}
	existing := make(map[string]domain.Message)
	for cur.Next(ctx) {
		var doc archiveDoc
		if err := cur.Decode(&doc); err != nil {
			_ = cur.Close(ctx)
			return fmt.Errorf("decode archived message: %w", err)
		}
		existing[doc.ID] = doc.Message
	}
	if err := cur.Close(ctx); err != nil {
		return fmt.Errorf("probe archived batch: %w", err)
	}

	var docs []interface{}
	for i := range batch {
		m := batch[i]
		m.ConversationID = conversationID
		id := docID(conversationID, m.ID)
		if prev, ok := existing[id]; ok {
			if !prev.Equivalent(&m) {
				return fmt.Errorf("%w: conversation %s message %s", ErrIntegrity, conversationID, m.ID)
			}
			continue
		}
		docs = append(docs, archiveDoc{ID: id, Message: m})
	}
	if len(docs) == 0 {
		return nil
	}

	// ordered=false: a concurrent retry racing us on some ids must not
	// abort the rest of the batch; duplicate-key failures are re-checked
	// for content equivalence below.
	_, err = s.col.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("archive batch: %w", err)
	}
	for i := range batch {
		var doc archiveDoc
		ferr := s.col.FindOne(ctx, bson.M{"_id": docID(conversationID, batch[i].ID)}).Decode(&doc)
		if ferr != nil {
			return fmt.Errorf("verify archived message %s: %w", batch[i].ID, ferr)
		}
		if !doc.Message.Equivalent(&batch[i]) {
			return fmt.Errorf("%w: conversation %s message %s", ErrIntegrity, conversationID, batch[i].ID)
		}
	}
	return nil
}

// Page implements Store.
func (s *MongoStore) Page(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	filter := bson.M{
		"conversation_id": conversationID,
		"created_at":      bson.M{"$lt": before},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "message_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("page archive: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]domain.Message, 0, limit)
	for cur.Next(ctx) {
		var doc archiveDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode archived message: %w", err)
		}
		out = append(out, doc.Message)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("page archive: %w", err)
	}
	return out, nil
}

// Count implements Store.
func (s *MongoStore) Count(ctx context.Context, conversationID string) (int64, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return n, nil
}
