// Redis-backed live store.
//
// Key layout (prefix configurable, default "swift"):
//
//	<p>:live:<conv>:msgs            hash  message id → message JSON
//	<p>:live:<conv>:rcpt            hash  "<msg>|<user>" → "<rank>|<state>|<rfc3339>"
//	<p>:live:<conv>:read            hash  "<msg>|<user>" → rfc3339 (HSETNX: first read wins)
//	<p>:live:<conv>:typing:<user>   string with EX TypingTTL
//	<p>:live:<conv>:events          pub/sub channel, one token per mutation
//
// The message body written at append time is immutable apart from soft
// tombstones; receipt state lives in its own hashes and is overlaid onto
// the body when the window is read. Appends are therefore independent
// HSETNX inserts and receipt updates touch only their own field, so the
// conversation document has no read-modify-write contention on the hot
// path. The delivery merge runs as a server-side script to keep the
// monotonic compare-and-set atomic under concurrent writers.
package livestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/KRushton218/swift-send-backend/internal/domain"
)

// deliveryMergeScript performs the rank-guarded receipt write. It only
// replaces the stored receipt when the incoming rank is strictly higher,
// which makes delivered/read updates commutative under races.
var deliveryMergeScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local rank = tonumber(string.match(cur, '^(%d+)'))
  if rank and rank >= tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2] .. '|' .. ARGV[3] .. '|' .. ARGV[4])
return 1
`)

// RedisStore is the production live store implementation.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing Redis client. The prefix namespaces all
// keys so several deployments can share one Redis.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "swift"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) msgsKey(conv string) string { return s.prefix + ":live:" + conv + ":msgs" }
func (s *RedisStore) rcptKey(conv string) string { return s.prefix + ":live:" + conv + ":rcpt" }
func (s *RedisStore) readKey(conv string) string { return s.prefix + ":live:" + conv + ":read" }
func (s *RedisStore) eventsKey(conv string) string {
	return s.prefix + ":live:" + conv + ":events"
}
func (s *RedisStore) typingKey(conv, user string) string {
	return s.prefix + ":live:" + conv + ":typing:" + user
}

// field builds the composite receipt hash field for (message, user).
func field(messageID, userID string) string { return messageID + "|" + userID }

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	if !conv.HasMember(msg.SenderID) {
		return ErrNotAMember
	}

	now := time.Now().UTC()
	msg.ConversationID = conv.ID
	msg.CreatedAt = now
	seedReceipts(conv, msg, now)

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	inserted, err := s.rdb.HSetNX(ctx, s.msgsKey(conv.ID), msg.ID, raw).Result()
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if !inserted {
		// Retried send: the first append is canonical. Load it back so the
		// caller observes the committed timestamp and receipts.
		committed, err := s.Get(ctx, conv.ID, msg.ID)
		if err != nil {
			return err
		}
		*msg = *committed
		return nil
	}

	s.notify(ctx, conv.ID, "append")
	return nil
}

// Window implements Store.
func (s *RedisStore) Window(ctx context.Context, conversationID string) ([]domain.Message, error) {
	pipe := s.rdb.Pipeline()
	msgsCmd := pipe.HGetAll(ctx, s.msgsKey(conversationID))
	rcptCmd := pipe.HGetAll(ctx, s.rcptKey(conversationID))
	readCmd := pipe.HGetAll(ctx, s.readKey(conversationID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load live window: %w", err)
	}

	rawMsgs := msgsCmd.Val()
	out := make([]domain.Message, 0, len(rawMsgs))
	for id, raw := range rawMsgs {
		var m domain.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode live message %s: %w", id, err)
		}
		out = append(out, m)
	}

	byID := make(map[string]*domain.Message, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	for f, v := range rcptCmd.Val() {
		msgID, userID, ok := splitField(f)
		if !ok {
			continue
		}
		m := byID[msgID]
		if m == nil {
			continue
		}
		rcpt, err := decodeReceipt(v)
		if err != nil {
			return nil, fmt.Errorf("decode receipt %s: %w", f, err)
		}
		m.DeliveryStatus[userID] = m.DeliveryStatus[userID].Merge(rcpt)
	}
	for f, v := range readCmd.Val() {
		msgID, userID, ok := splitField(f)
		if !ok {
			continue
		}
		m := byID[msgID]
		if m == nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode read timestamp %s: %w", f, err)
		}
		if m.ReadBy == nil {
			m.ReadBy = make(map[string]time.Time, 1)
		}
		m.ReadBy[userID] = ts
	}

	domain.SortMessages(out)
	return out, nil
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context, conversationID string) (int64, error) {
	n, err := s.rdb.HLen(ctx, s.msgsKey(conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count live window: %w", err)
	}
	return n, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, conversationID, messageID string) (*domain.Message, error) {
	raw, err := s.rdb.HGet(ctx, s.msgsKey(conversationID), messageID).Result()
	if err == redis.Nil {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get live message: %w", err)
	}
	var m domain.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode live message: %w", err)
	}
	// Overlay receipt state recorded after the append.
	for userID := range m.DeliveryStatus {
		v, err := s.rdb.HGet(ctx, s.rcptKey(conversationID), field(messageID, userID)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get receipt: %w", err)
		}
		rcpt, err := decodeReceipt(v)
		if err != nil {
			return nil, err
		}
		m.DeliveryStatus[userID] = m.DeliveryStatus[userID].Merge(rcpt)

		r, err := s.rdb.HGet(ctx, s.readKey(conversationID), field(messageID, userID)).Result()
		if err == nil {
			if ts, perr := time.Parse(time.RFC3339Nano, r); perr == nil {
				if m.ReadBy == nil {
					m.ReadBy = make(map[string]time.Time, 1)
				}
				m.ReadBy[userID] = ts
			}
		}
	}
	return &m, nil
}

// MarkDelivered implements Store.
func (s *RedisStore) MarkDelivered(ctx context.Context, conversationID, messageID, userID string, at time.Time) error {
	return s.mergeReceipt(ctx, conversationID, messageID, userID, domain.DeliveryDelivered, at)
}

// MarkRead implements Store. Read implies delivered, so the receipt is
// merged straight to read; the read timestamp itself is first-write-wins.
func (s *RedisStore) MarkRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) error {
	if err := s.mergeReceipt(ctx, conversationID, messageID, userID, domain.DeliveryRead, at); err != nil {
		return err
	}
	if err := s.rdb.HSetNX(ctx, s.readKey(conversationID), field(messageID, userID),
		at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("record read timestamp: %w", err)
	}
	s.notify(ctx, conversationID, "read")
	return nil
}

func (s *RedisStore) mergeReceipt(ctx context.Context, conversationID, messageID, userID string, state domain.DeliveryState, at time.Time) error {
	exists, err := s.rdb.HExists(ctx, s.msgsKey(conversationID), messageID).Result()
	if err != nil {
		return fmt.Errorf("check live message: %w", err)
	}
	if !exists {
		return ErrMessageNotFound
	}

	changed, err := deliveryMergeScript.Run(ctx, s.rdb,
		[]string{s.rcptKey(conversationID)},
		field(messageID, userID),
		strconv.Itoa(state.Rank()),
		string(state),
		at.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("merge receipt: %w", err)
	}
	if changed == 1 {
		s.notify(ctx, conversationID, "receipt")
	}
	return nil
}

// DeleteForUser implements Store.
func (s *RedisStore) DeleteForUser(ctx context.Context, conversationID, messageID, userID string) error {
	return s.mutateMessage(ctx, conversationID, messageID, "tombstone", func(m *domain.Message) bool {
		if m.DeletedForUser(userID) {
			return false
		}
		m.DeletedFor = append(m.DeletedFor, userID)
		return true
	})
}

// SetDeleted implements Store.
func (s *RedisStore) SetDeleted(ctx context.Context, conversationID, messageID string) error {
	return s.mutateMessage(ctx, conversationID, messageID, "delete", func(m *domain.Message) bool {
		if m.IsDeleted {
			return false
		}
		m.IsDeleted = true
		return true
	})
}

// SetEmbeddingID implements Store. A missing message is not an error: it
// may have moved to the archive between embedding and write-back.
func (s *RedisStore) SetEmbeddingID(ctx context.Context, conversationID, messageID, embeddingID string) error {
	err := s.mutateMessage(ctx, conversationID, messageID, "", func(m *domain.Message) bool {
		if m.EmbeddingID == embeddingID {
			return false
		}
		m.EmbeddingID = embeddingID
		return true
	})
	if err == ErrMessageNotFound {
		return nil
	}
	return err
}

// mutateMessage applies an idempotent mutation to a stored message body.
// Mutations here are tombstones and bookkeeping flags; the hot append and
// receipt paths never go through this read-modify-write.
func (s *RedisStore) mutateMessage(ctx context.Context, conversationID, messageID, event string, apply func(*domain.Message) bool) error {
	raw, err := s.rdb.HGet(ctx, s.msgsKey(conversationID), messageID).Result()
	if err == redis.Nil {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("load live message: %w", err)
	}
	var m domain.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("decode live message: %w", err)
	}
	if !apply(&m) {
		return nil
	}
	buf, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode live message: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.msgsKey(conversationID), messageID, buf).Err(); err != nil {
		return fmt.Errorf("store live message: %w", err)
	}
	if event != "" {
		s.notify(ctx, conversationID, event)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := s.rdb.HDel(ctx, s.msgsKey(conversationID), messageIDs...).Err(); err != nil {
		return fmt.Errorf("remove live messages: %w", err)
	}

	removed := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		removed[id] = struct{}{}
	}
	for _, key := range []string{s.rcptKey(conversationID), s.readKey(conversationID)} {
		fields, err := s.rdb.HKeys(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("list receipt fields: %w", err)
		}
		var stale []string
		for _, f := range fields {
			if msgID, _, ok := splitField(f); ok {
				if _, gone := removed[msgID]; gone {
					stale = append(stale, f)
				}
			}
		}
		if len(stale) > 0 {
			if err := s.rdb.HDel(ctx, key, stale...).Err(); err != nil {
				return fmt.Errorf("remove receipt fields: %w", err)
			}
		}
	}

	s.notify(ctx, conversationID, "remove")
	return nil
}

// SetTyping implements Store. The TTL is enforced by Redis itself, so the
// indicator clears even when the client crashes without an explicit stop.
func (s *RedisStore) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	key := s.typingKey(conversationID, userID)
	if typing {
		if err := s.rdb.Set(ctx, key, "1", TypingTTL).Err(); err != nil {
			return fmt.Errorf("set typing: %w", err)
		}
	} else {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("clear typing: %w", err)
		}
	}
	s.notify(ctx, conversationID, "typing")
	return nil
}

// Typing implements Store.
func (s *RedisStore) Typing(ctx context.Context, conversationID string) ([]string, error) {
	pattern := s.typingKey(conversationID, "*")
	strip := s.typingKey(conversationID, "")

	var users []string
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan typing keys: %w", err)
		}
		for _, k := range keys {
			users = append(users, strings.TrimPrefix(k, strip))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return users, nil
}

// Observe implements Store using Redis pub/sub fan-out, so a multi-process
// deployment shares one observer plane.
func (s *RedisStore) Observe(ctx context.Context, conversationID string) (*Subscription, error) {
	ps := s.rdb.Subscribe(ctx, s.eventsKey(conversationID))
	// Force the subscription to be established before the initial snapshot
	// so no mutation between the two is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan []domain.Message, 1)
	done := make(chan struct{})
	sub := &Subscription{C: out}
	var cancelOnce sync.Once
	sub.cancel = func() {
		cancelOnce.Do(func() {
			_ = ps.Close()
			close(done)
		})
	}

	push := func() {
		snap, err := s.Window(ctx, conversationID)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("livestore: snapshot for observer failed")
			return
		}
		// Latest-wins: replace a stale undelivered snapshot.
		for {
			select {
			case out <- snap:
				return
			default:
				select {
				case <-out:
				default:
				}
			}
		}
	}

	go func() {
		defer close(out)
		push()
		ch := ps.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				push()
			}
		}
	}()

	return sub, nil
}

// notify publishes a mutation token. Observers reload the window; the
// token itself carries no payload.
func (s *RedisStore) notify(ctx context.Context, conversationID, event string) {
	if err := s.rdb.Publish(ctx, s.eventsKey(conversationID), event).Err(); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("livestore: publish failed")
	}
}

// splitField splits a composite "<msg>|<user>" receipt field.
func splitField(f string) (messageID, userID string, ok bool) {
	i := strings.IndexByte(f, '|')
	if i <= 0 || i == len(f)-1 {
		return "", "", false
	}
	return f[:i], f[i+1:], true
}

// decodeReceipt parses the "<rank>|<state>|<rfc3339>" receipt encoding.
func decodeReceipt(v string) (domain.DeliveryReceipt, error) {
	parts := strings.SplitN(v, "|", 3)
	if len(parts) != 3 {
		return domain.DeliveryReceipt{}, fmt.Errorf("malformed receipt value %q", v)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[2])
	if err != nil {
		return domain.DeliveryReceipt{}, fmt.Errorf("malformed receipt timestamp %q", parts[2])
	}
	return domain.DeliveryReceipt{State: domain.DeliveryState(parts[1]), Timestamp: ts}, nil
}
