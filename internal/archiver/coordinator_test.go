package archiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KRushton218/swift-send-backend/internal/archivestore"
	"github.com/KRushton218/swift-send-backend/internal/domain"
	"github.com/KRushton218/swift-send-backend/internal/livestore"
)

func testConversation() *domain.Conversation {
	return &domain.Conversation{
		ID:        "c1",
		Type:      domain.ConversationDirect,
		MemberIDs: []string{"alice", "bob"},
	}
}

// seedLive appends n messages with strictly increasing timestamps so the
// canonical order matches the append order.
func seedLive(t *testing.T, live *livestore.MemoryStore, conv *domain.Conversation, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	i := 0
	live.Now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	}
	for k := 0; k < n; k++ {
		msg := &domain.Message{
			ID:       fmt.Sprintf("m%02d", k),
			SenderID: "alice",
			Text:     fmt.Sprintf("message %d", k),
			Type:     domain.MessageTypeText,
		}
		if err := live.Append(context.Background(), conv, msg); err != nil {
			t.Fatalf("seed append %d: %v", k, err)
		}
	}
}

func TestMaybeArchive_MovesOldestOverflow(t *testing.T) {
	ctx := context.Background()
	live := livestore.NewMemoryStore()
	arch := archivestore.NewMemoryStore()
	conv := testConversation()
	seedLive(t, live, conv, 60)

	c := &Coordinator{Live: live, Archive: arch, Threshold: 50}
	moved, err := c.MaybeArchive(ctx, conv.ID)
	if err != nil {
		t.Fatalf("MaybeArchive: %v", err)
	}
	if moved != 10 {
		t.Fatalf("moved = %d, want 10", moved)
	}

	window, _ := live.Window(ctx, conv.ID)
	if len(window) != 50 {
		t.Fatalf("live window = %d, want 50", len(window))
	}
	if window[0].ID != "m10" {
		t.Fatalf("oldest live message = %s, want m10", window[0].ID)
	}
	if n, _ := arch.Count(ctx, conv.ID); n != 10 {
		t.Fatalf("archived = %d, want 10", n)
	}
	// The archive holds exactly the oldest prefix.
	page, _ := arch.Page(ctx, conv.ID, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), 20)
	if len(page) != 10 || page[0].ID != "m09" || page[9].ID != "m00" {
		t.Fatalf("archived page = %+v", page)
	}

	// A second run finds nothing over the threshold.
	moved, err = c.MaybeArchive(ctx, conv.ID)
	if err != nil || moved != 0 {
		t.Fatalf("second run moved = %d, err = %v; want 0, nil", moved, err)
	}
}

func TestMaybeArchive_UnderThresholdIsNoOp(t *testing.T) {
	ctx := context.Background()
	live := livestore.NewMemoryStore()
	arch := archivestore.NewMemoryStore()
	conv := testConversation()
	seedLive(t, live, conv, 50)

	c := &Coordinator{Live: live, Archive: arch, Threshold: 50}
	moved, err := c.MaybeArchive(ctx, conv.ID)
	if err != nil || moved != 0 {
		t.Fatalf("moved = %d, err = %v; want 0, nil", moved, err)
	}
	if n, _ := arch.Count(ctx, conv.ID); n != 0 {
		t.Fatalf("archive not empty: %d", n)
	}
	if c.State(conv.ID) != StateStable {
		t.Fatalf("state = %s, want stable", c.State(conv.ID))
	}
}

func TestMaybeArchive_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	live := livestore.NewMemoryStore()
	arch := archivestore.NewMemoryStore()
	conv := testConversation()
	seedLive(t, live, conv, 55)

	arch.FailNextArchive = 2
	c := &Coordinator{
		Live:           live,
		Archive:        arch,
		Threshold:      50,
		InitialBackoff: time.Millisecond,
	}
	moved, err := c.MaybeArchive(ctx, conv.ID)
	if err != nil {
		t.Fatalf("MaybeArchive with transient failures: %v", err)
	}
	if moved != 5 {
		t.Fatalf("moved = %d, want 5", moved)
	}
	if n, _ := arch.Count(ctx, conv.ID); n != 5 {
		t.Fatalf("archived = %d, want 5", n)
	}
}

func TestMaybeArchive_IntegrityViolationAborts(t *testing.T) {
	ctx := context.Background()
	live := livestore.NewMemoryStore()
	arch := archivestore.NewMemoryStore()
	conv := testConversation()
	seedLive(t, live, conv, 51)

	// Poison the archive: m00 already exists with different content.
	err := arch.Archive(ctx, conv.ID, []domain.Message{{
		ID:             "m00",
		ConversationID: conv.ID,
		SenderID:       "mallory",
		Text:           "not the same message",
		Type:           domain.MessageTypeText,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("poison: %v", err)
	}

	c := &Coordinator{Live: live, Archive: arch, Threshold: 50, InitialBackoff: time.Millisecond}
	_, err = c.MaybeArchive(ctx, conv.ID)
	if !errors.Is(err, archivestore.ErrIntegrity) {
		t.Fatalf("got %v, want ErrIntegrity", err)
	}
	// Nothing was trimmed from the live window.
	if n, _ := live.Count(ctx, conv.ID); n != 51 {
		t.Fatalf("live count = %d, want 51", n)
	}
}

// failingRemove exercises the crash window between the archive write and the
// live-window trim: the first trim fails, and a later run reconciles.
type failingRemove struct {
	livestore.Store
	fail bool
}

func (f *failingRemove) Remove(ctx context.Context, conversationID string, ids []string) error {
	if f.fail {
		f.fail = false
		return errors.New("live store unavailable")
	}
	return f.Store.Remove(ctx, conversationID, ids)
}

func TestMaybeArchive_TrimFailureReconcilesOnNextRun(t *testing.T) {
	ctx := context.Background()
	live := livestore.NewMemoryStore()
	arch := archivestore.NewMemoryStore()
	conv := testConversation()
	seedLive(t, live, conv, 55)

	wrapped := &failingRemove{Store: live, fail: true}
	c := &Coordinator{Live: wrapped, Archive: arch, Threshold: 50, InitialBackoff: time.Millisecond}

	if _, err := c.MaybeArchive(ctx, conv.ID); err == nil {
		t.Fatal("expected trim failure")
	}
	// Messages are archived but still live: duplicated, not lost.
	if n, _ := arch.Count(ctx, conv.ID); n != 5 {
		t.Fatalf("archived after failed trim = %d, want 5", n)
	}
	if n, _ := live.Count(ctx, conv.ID); n != 55 {
		t.Fatalf("live after failed trim = %d, want 55", n)
	}

	// The next run re-archives the same batch (idempotent no-op in the
	// archive) and completes the trim.
	moved, err := c.MaybeArchive(ctx, conv.ID)
	if err != nil {
		t.Fatalf("reconciling run: %v", err)
	}
	if moved != 5 {
		t.Fatalf("reconciling run moved = %d, want 5", moved)
	}
	if n, _ := arch.Count(ctx, conv.ID); n != 5 {
		t.Fatalf("archived after reconcile = %d, want 5", n)
	}
	if n, _ := live.Count(ctx, conv.ID); n != 50 {
		t.Fatalf("live after reconcile = %d, want 50", n)
	}
}

func TestMaybeArchive_ConcurrentTriggersCoalesce(t *testing.T) {
	ctx := context.Background()
	live := livestore.NewMemoryStore()
	arch := archivestore.NewMemoryStore()
	conv := testConversation()
	seedLive(t, live, conv, 60)

	c := &Coordinator{Live: live, Archive: arch, Threshold: 50}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			moved, err := c.MaybeArchive(ctx, conv.ID)
			if err != nil {
				t.Errorf("concurrent MaybeArchive: %v", err)
			}
			mu.Lock()
			total += moved
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 10 {
		t.Fatalf("total moved across runs = %d, want 10", total)
	}
	if n, _ := live.Count(ctx, conv.ID); n != 50 {
		t.Fatalf("live = %d, want 50", n)
	}
	if n, _ := arch.Count(ctx, conv.ID); n != 10 {
		t.Fatalf("archive = %d, want 10", n)
	}
}
