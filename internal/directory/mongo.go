// MongoDB-backed directory. Conversations and per-user status rows live in
// separate collections so status writes (the hot path on every send and
// read) never contend with conversation documents.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

// Collection names within the chat database.
const (
	ConversationsCollection = "conversations"
	StatusCollection        = "user_conversation_status"
)

// MongoDirectory is the production Directory implementation.
type MongoDirectory struct {
	convs  *mongo.Collection
	status *mongo.Collection
}

// NewMongoDirectory wraps the directory collections.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{
		convs:  db.Collection(ConversationsCollection),
		status: db.Collection(StatusCollection),
	}
}

// EnsureIndexes creates the lookup indexes. Call once at startup.
func (d *MongoDirectory) EnsureIndexes(ctx context.Context) error {
	_, err := d.convs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "members_key", Value: 1}}},
		{Keys: bson.D{{Key: "member_ids", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}
	_, err = d.status.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create status index: %w", err)
	}
	return nil
}

// Create implements Directory.
func (d *MongoDirectory) Create(ctx context.Context, conv *domain.Conversation) error {
	if err := canonicalizeMembers(conv); err != nil {
		return err
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt
	if _, err := d.convs.InsertOne(ctx, conv); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Get implements Directory.
func (d *MongoDirectory) Get(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := d.convs.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &conv, nil
}

// FindByParticipants implements Directory.
func (d *MongoDirectory) FindByParticipants(ctx context.Context, memberIDs []string) (*domain.Conversation, error) {
	key := domain.ParticipantsKey(memberIDs)
	if key == "" {
		return nil, ErrNotFound
	}
	var conv domain.Conversation
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})
	err := d.convs.FindOne(ctx, bson.M{"members_key": key}, opts).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation by participants: %w", err)
	}
	return &conv, nil
}

// ListForUser implements Directory.
func (d *MongoDirectory) ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	cur, err := d.convs.Find(ctx, bson.M{"member_ids": userID})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var convs []domain.Conversation
	if err := cur.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	statuses, err := d.statusesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := convs[:0]
	for _, conv := range convs {
		if st, ok := statuses[conv.ID]; ok && st.IsHidden {
			continue
		}
		out = append(out, conv)
	}
	sortByActivity(out, statuses)
	return out, nil
}

func (d *MongoDirectory) statusesForUser(ctx context.Context, userID string) (map[string]domain.UserConversationStatus, error) {
	cur, err := d.status.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("load user statuses: %w", err)
	}
	var rows []domain.UserConversationStatus
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode user statuses: %w", err)
	}
	statuses := make(map[string]domain.UserConversationStatus, len(rows))
	for _, st := range rows {
		statuses[st.ConversationID] = st
	}
	return statuses, nil
}

// UpdateLastMessage implements Directory. The timestamp guard makes the
// write last-write-wins: the filter only matches when the stored preview is
// absent or not newer, so a stale update matches nothing and is dropped.
func (d *MongoDirectory) UpdateLastMessage(ctx context.Context, conversationID string, preview domain.MessagePreview) (bool, error) {
	filter := bson.M{
		"_id": conversationID,
		"$or": []bson.M{
			{"last_message": bson.M{"$exists": false}},
			{"last_message.timestamp": bson.M{"$lte": preview.Timestamp}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"last_message": preview,
			"updated_at":   time.Now().UTC(),
		},
	}
	res, err := d.convs.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("update last message: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// BumpActivity implements Directory.
func (d *MongoDirectory) BumpActivity(ctx context.Context, conversationID string, memberIDs []string, senderID string, at time.Time) error {
	if len(memberIDs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(memberIDs))
	for _, member := range memberIDs {
		update := bson.M{
			"$set":         bson.M{"last_message_timestamp": at},
			"$setOnInsert": bson.M{"user_id": member, "conversation_id": conversationID},
		}
		if member != senderID {
			update["$inc"] = bson.M{"unread_count": 1}
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"user_id": member, "conversation_id": conversationID}).
			SetUpdate(update).
			SetUpsert(true))
	}
	_, err := d.status.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("bump conversation activity: %w", err)
	}
	_, err = d.convs.UpdateOne(ctx, bson.M{"_id": conversationID},
		bson.M{"$inc": bson.M{"metadata.total_messages": 1}})
	if err != nil {
		return fmt.Errorf("increment message counter: %w", err)
	}
	return nil
}

// Status implements Directory.
func (d *MongoDirectory) Status(ctx context.Context, userID, conversationID string) (*domain.UserConversationStatus, error) {
	var st domain.UserConversationStatus
	err := d.status.FindOne(ctx, bson.M{"user_id": userID, "conversation_id": conversationID}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &domain.UserConversationStatus{UserID: userID, ConversationID: conversationID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user status: %w", err)
	}
	return &st, nil
}

// SetLastRead implements Directory.
func (d *MongoDirectory) SetLastRead(ctx context.Context, userID, conversationID, messageID string, at time.Time) error {
	return d.upsertStatus(ctx, userID, conversationID, bson.M{
		"last_read_message_id": messageID,
		"last_read_timestamp":  at,
		"unread_count":         int64(0),
	})
}

// SetUnread implements Directory.
func (d *MongoDirectory) SetUnread(ctx context.Context, userID, conversationID string, n int64) error {
	return d.upsertStatus(ctx, userID, conversationID, bson.M{"unread_count": n})
}

// SetHidden implements Directory.
func (d *MongoDirectory) SetHidden(ctx context.Context, userID, conversationID string, hidden bool) error {
	return d.upsertStatus(ctx, userID, conversationID, bson.M{"is_hidden": hidden})
}

// SetPinned implements Directory.
func (d *MongoDirectory) SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	return d.upsertStatus(ctx, userID, conversationID, bson.M{"is_pinned": pinned})
}

// SetMuted implements Directory.
func (d *MongoDirectory) SetMuted(ctx context.Context, userID, conversationID string, muted bool) error {
	return d.upsertStatus(ctx, userID, conversationID, bson.M{"is_muted": muted})
}

func (d *MongoDirectory) upsertStatus(ctx context.Context, userID, conversationID string, set bson.M) error {
	_, err := d.status.UpdateOne(ctx,
		bson.M{"user_id": userID, "conversation_id": conversationID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"user_id": userID, "conversation_id": conversationID},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return nil
}

// sortByActivity orders conversations most recently active first, using the
// user's status activity timestamp and falling back to the conversation's
// own update time for rows with no status yet. Conversation id breaks ties
// so pagination over the list is stable.
func sortByActivity(convs []domain.Conversation, statuses map[string]domain.UserConversationStatus) {
	activity := func(c *domain.Conversation) time.Time {
		if st, ok := statuses[c.ID]; ok && !st.LastMessageTimestamp.IsZero() {
			return st.LastMessageTimestamp
		}
		if c.LastMessage != nil {
			return c.LastMessage.Timestamp
		}
		return c.UpdatedAt
	}
	sort.SliceStable(convs, func(i, j int) bool {
		ti, tj := activity(&convs[i]), activity(&convs[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return convs[i].ID < convs[j].ID
	})
}
