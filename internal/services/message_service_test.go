package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/archiver"
	"github.com/KRushton218/swift-send-backend/internal/archivestore"
	"github.com/KRushton218/swift-send-backend/internal/directory"
	"github.com/KRushton218/swift-send-backend/internal/domain"
	"github.com/KRushton218/swift-send-backend/internal/events"
	"github.com/KRushton218/swift-send-backend/internal/livestore"
)

type messageFixture struct {
	svc   *MessageService
	live  *livestore.MemoryStore
	arch  *archivestore.MemoryStore
	dir   *directory.MemoryDirectory
	pub   *events.MemoryPublisher
	que   *recordingQueue
	saved *directory.MemorySaved
}

func newMessageFixture(t *testing.T, members ...string) *messageFixture {
	t.Helper()
	f := &messageFixture{
		live:  livestore.NewMemoryStore(),
		arch:  archivestore.NewMemoryStore(),
		dir:   directory.NewMemoryDirectory(),
		pub:   events.NewMemoryPublisher(),
		que:   &recordingQueue{},
		saved: directory.NewMemorySaved(),
	}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	f.live.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	typ := domain.ConversationDirect
	if len(members) > 2 {
		typ = domain.ConversationGroup
	}
	conv := &domain.Conversation{
		ID:        "c1",
		Type:      typ,
		CreatedBy: members[0],
		MemberIDs: members,
	}
	if err := f.dir.Create(context.Background(), conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	f.svc = &MessageService{
		Live:      f.live,
		Archive:   f.arch,
		Directory: f.dir,
		Archiver:  &archiver.Coordinator{Live: f.live, Archive: f.arch, Threshold: 50},
		Events:    f.pub,
		Embeds:    f.que,
		Saved:     f.saved,
	}
	return f
}

func TestSend_PreservesClientMessageID(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob")

	msg, err := f.svc.Send(ctx, "alice", "c1", SendInput{
		MessageID:  "client-generated-id",
		Text:       "hello",
		SenderName: "Alice",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != "client-generated-id" {
		t.Fatalf("message id = %s, want the client id", msg.ID)
	}
	if msg.CreatedAt.IsZero() {
		t.Fatal("server timestamp not assigned")
	}

	stored, err := f.live.Get(ctx, "c1", "client-generated-id")
	if err != nil {
		t.Fatalf("committed message missing: %v", err)
	}
	if stored.DeliveryStatus["alice"].State != domain.DeliverySent {
		t.Fatalf("sender receipt = %+v", stored.DeliveryStatus["alice"])
	}
	if stored.DeliveryStatus["bob"].State != domain.DeliveryPending {
		t.Fatalf("recipient receipt = %+v", stored.DeliveryStatus["bob"])
	}
}

func TestSend_RetryWithSameIDReturnsCommittedCopy(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob")

	first, err := f.svc.Send(ctx, "alice", "c1", SendInput{MessageID: "m1", Text: "hello"})
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := f.svc.Send(ctx, "alice", "c1", SendInput{MessageID: "m1", Text: "hello"})
	if err != nil {
		t.Fatalf("retried send: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("retry re-stamped the message: %v vs %v", second.CreatedAt, first.CreatedAt)
	}
	if n, _ := f.live.Count(ctx, "c1"); n != 1 {
		t.Fatalf("live count = %d, want 1", n)
	}
}

func TestSend_Validation(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob")
	f.svc.MaxTextRunes = 10

	tests := []struct {
		name    string
		user    string
		conv    string
		in      SendInput
		wantErr error
	}{
		{"empty text", "alice", "c1", SendInput{Text: "   "}, ErrEmptyMessage},
		{"too long", "alice", "c1", SendInput{Text: "this is far too long"}, ErrTooLong},
		{"bad type", "alice", "c1", SendInput{Text: "hi", Type: "carrier-pigeon"}, ErrInvalidMessageType},
		{"not a member", "mallory", "c1", SendInput{Text: "hi"}, ErrNotAMember},
		{"unknown conversation", "alice", "nope", SendInput{Text: "hi"}, ErrConversationNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Send(ctx, tc.user, tc.conv, tc.in); !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestSend_FanOut(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob", "carol")

	if _, err := f.svc.Send(ctx, "alice", "c1", SendInput{MessageID: "m1", Text: "hello", SenderName: "Alice"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv, _ := f.dir.Get(ctx, "c1")
	if conv.LastMessage == nil || conv.LastMessage.Text != "hello" {
		t.Fatalf("preview = %+v", conv.LastMessage)
	}
	for _, user := range []string{"bob", "carol"} {
		st, _ := f.dir.Status(ctx, user, "c1")
		if st.UnreadCount != 1 {
			t.Fatalf("%s unread = %d, want 1", user, st.UnreadCount)
		}
	}
	sent, _ := f.dir.Status(ctx, "alice", "c1")
	if sent.UnreadCount != 0 {
		t.Fatalf("sender unread = %d, want 0", sent.UnreadCount)
	}

	evs := f.pub.Events()
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	if evs[0].ConversationID != "c1" || evs[0].SenderID != "alice" || !evs[0].IsGroupChat {
		t.Fatalf("event = %+v", evs[0])
	}
	if ids := f.que.enqueued(); len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("embed queue = %v", ids)
	}
}

func TestSend_ArchivesOverflowAndHistoryCoversEverything(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob")

	for i := 0; i < 60; i++ {
		in := SendInput{MessageID: fmt.Sprintf("m%02d", i), Text: fmt.Sprintf("message %d", i)}
		if _, err := f.svc.Send(ctx, "alice", "c1", in); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	liveCount, _ := f.live.Count(ctx, "c1")
	archCount, _ := f.arch.Count(ctx, "c1")
	if liveCount != 50 || archCount != 10 {
		t.Fatalf("live/archive = %d/%d, want 50/10", liveCount, archCount)
	}

	// First page: the live window.
	hot, err := f.svc.History(ctx, "alice", "c1", time.Time{})
	if err != nil {
		t.Fatalf("History(live): %v", err)
	}
	if len(hot) != 50 || hot[0].ID != "m10" || hot[49].ID != "m59" {
		t.Fatalf("live page = %d msgs, first %s, last %s", len(hot), hot[0].ID, hot[len(hot)-1].ID)
	}

	// Older pages: the archive, cursored by the oldest live timestamp.
	cold, err := f.svc.History(ctx, "alice", "c1", hot[0].CreatedAt)
	if err != nil {
		t.Fatalf("History(archive): %v", err)
	}
	seen := make(map[string]bool, 60)
	for _, m := range append(cold, hot...) {
		seen[m.ID] = true
	}
	// No message lost or duplicated across the boundary.
	if len(seen) != 60 || len(cold)+len(hot) != 60 {
		t.Fatalf("merged history covers %d unique of %d total, want 60 of 60", len(seen), len(cold)+len(hot))
	}
}

func TestMarkRead_UpdatesReceiptAndReadMarker(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob")

	msg, err := f.svc.Send(ctx, "alice", "c1", SendInput{MessageID: "m1", Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := f.svc.MarkRead(ctx, "bob", "c1", msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	stored, _ := f.live.Get(ctx, "c1", msg.ID)
	if stored.DeliveryStatus["bob"].State != domain.DeliveryRead {
		t.Fatalf("receipt = %+v", stored.DeliveryStatus["bob"])
	}
	st, _ := f.dir.Status(ctx, "bob", "c1")
	if st.UnreadCount != 0 || st.LastReadMessageID != "m1" {
		t.Fatalf("status = %+v", st)
	}

	// A receipt for an archived (no longer live) message is benign.
	if err := f.svc.MarkDelivered(ctx, "bob", "c1", "long-gone"); err != nil {
		t.Fatalf("MarkDelivered on archived message: %v", err)
	}
}

func TestDeleteForUser_HidesFromThatUserOnly(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob")

	msg, err := f.svc.Send(ctx, "alice", "c1", SendInput{MessageID: "m1", Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := f.svc.DeleteForUser(ctx, "bob", "c1", msg.ID); err != nil {
		t.Fatalf("DeleteForUser: %v", err)
	}

	bobView, _ := f.svc.History(ctx, "bob", "c1", time.Time{})
	if len(bobView) != 0 {
		t.Fatalf("bob still sees %d messages", len(bobView))
	}
	aliceView, _ := f.svc.History(ctx, "alice", "c1", time.Time{})
	if len(aliceView) != 1 {
		t.Fatalf("alice sees %d messages, want 1", len(aliceView))
	}

	if err := f.svc.DeleteForUser(ctx, "bob", "c1", "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("got %v, want ErrMessageNotFound", err)
	}
}

func TestSend_MentionsRecordedForMembersOnly(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob", "carol")

	// Mallory is not a member; alice mentioning herself is a no-op.
	_, err := f.svc.Send(ctx, "alice", "c1", SendInput{
		MessageID: "m1",
		Text:      "@bob @mallory can you review?",
		Mentions:  []string{"bob", "mallory", "alice"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	recs, err := f.saved.List(ctx, "bob", domain.SavedKindMentioned)
	if err != nil {
		t.Fatalf("list mentions: %v", err)
	}
	if len(recs) != 1 || recs[0].MessageID != "m1" || recs[0].ConversationID != "c1" {
		t.Fatalf("bob's mentions = %+v, want one for m1", recs)
	}
	for _, user := range []string{"alice", "mallory", "carol"} {
		if recs, _ := f.saved.List(ctx, user, domain.SavedKindMentioned); len(recs) != 0 {
			t.Fatalf("%s has unexpected mention records: %+v", user, recs)
		}
	}
}

func TestStar_LifecycleAndMembership(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob")

	msg, err := f.svc.Send(ctx, "alice", "c1", SendInput{MessageID: "m1", Text: "keep this"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := f.svc.Star(ctx, "bob", "c1", msg.ID); err != nil {
		t.Fatalf("Star: %v", err)
	}
	// Starring twice stays a single record.
	if err := f.svc.Star(ctx, "bob", "c1", msg.ID); err != nil {
		t.Fatalf("repeat Star: %v", err)
	}
	stars, err := f.svc.ListSaved(ctx, "bob", domain.SavedKindStarred)
	if err != nil {
		t.Fatalf("ListSaved: %v", err)
	}
	if len(stars) != 1 || stars[0].MessageID != "m1" {
		t.Fatalf("stars = %+v, want one for m1", stars)
	}

	if err := f.svc.Star(ctx, "mallory", "c1", msg.ID); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("non-member star: got %v, want ErrNotAMember", err)
	}
	if _, err := f.svc.ListSaved(ctx, "bob", "bookmarked"); !errors.Is(err, ErrInvalidSavedKind) {
		t.Fatalf("bad kind: got %v, want ErrInvalidSavedKind", err)
	}

	if err := f.svc.Unstar(ctx, "bob", "c1", msg.ID); err != nil {
		t.Fatalf("Unstar: %v", err)
	}
	if stars, _ := f.svc.ListSaved(ctx, "bob", domain.SavedKindStarred); len(stars) != 0 {
		t.Fatalf("stars after unstar = %+v", stars)
	}
}

func TestTyping_ExcludesAsker(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture(t, "alice", "bob")

	if err := f.svc.SetTyping(ctx, "alice", "c1", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	users, err := f.svc.Typing(ctx, "alice", "c1")
	if err != nil {
		t.Fatalf("Typing: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("asker sees own indicator: %v", users)
	}
	users, _ = f.svc.Typing(ctx, "bob", "c1")
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("bob sees %v, want [alice]", users)
	}
}
