package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/KRushton218/swift-send-backend/internal/archiver"
	"github.com/KRushton218/swift-send-backend/internal/archivestore"
	"github.com/KRushton218/swift-send-backend/internal/directory"
	"github.com/KRushton218/swift-send-backend/internal/events"
	"github.com/KRushton218/swift-send-backend/internal/livestore"
	"github.com/KRushton218/swift-send-backend/internal/repo"
	"github.com/KRushton218/swift-send-backend/internal/services"
)

//
// Stub services for insight/translation endpoints
//

type stubInsightSvc struct {
	res *services.Insight
	err error
}

func (s stubInsightSvc) Answer(context.Context, string, string, string) (*services.Insight, error) {
	return s.res, s.err
}

type stubTransSvc struct {
	res *services.TranslationResult
	err error
}

func (s stubTransSvc) Translate(context.Context, string, string, string) (*services.TranslationResult, error) {
	return s.res, s.err
}

//
// Fixture: real memory-backed services behind a minimal gin engine
//

type fixture struct {
	r    *gin.Engine
	h    *Handlers
	db   *gorm.DB
	live *livestore.MemoryStore
	dir  *directory.MemoryDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	live := livestore.NewMemoryStore()
	arch := archivestore.NewMemoryStore()
	dir := directory.NewMemoryDirectory()

	convSvc := &services.ConversationService{Directory: dir, Live: live, Archive: arch}
	msgSvc := &services.MessageService{
		Live:      live,
		Archive:   arch,
		Directory: dir,
		Archiver:  &archiver.Coordinator{Live: live, Archive: arch},
		Events:    events.NewMemoryPublisher(),
		Saved:     directory.NewMemorySaved(),
	}

	h := New(convSvc, msgSvc, stubInsightSvc{}, stubTransSvc{}, db, 0)

	r := gin.New()
	r.POST("/conversations", h.CreateConversation)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/:id", h.GetConversation)
	r.GET("/conversations/:id/status", h.GetConversationStatus)
	r.DELETE("/conversations/:id", h.HideConversation)
	r.POST("/conversations/:id/unhide", h.UnhideConversation)
	r.PUT("/conversations/:id/pin", h.SetPinned)
	r.PUT("/conversations/:id/mute", h.SetMuted)
	r.POST("/conversations/:id/unread/recompute", h.RecomputeUnread)
	r.POST("/conversations/:id/messages", h.PostMessage)
	r.GET("/conversations/:id/messages", h.History)
	r.POST("/conversations/:id/messages/:mid/delivered", h.MarkDelivered)
	r.POST("/conversations/:id/messages/:mid/read", h.MarkRead)
	r.DELETE("/conversations/:id/messages/:mid", h.DeleteMessageForUser)
	r.PUT("/conversations/:id/messages/:mid/star", h.StarMessage)
	r.DELETE("/conversations/:id/messages/:mid/star", h.UnstarMessage)
	r.GET("/saved-messages", h.ListSavedMessages)
	r.PUT("/conversations/:id/typing", h.SetTyping)
	r.GET("/conversations/:id/typing", h.Typing)
	r.POST("/conversations/:id/insights", h.AskInsight)
	r.POST("/messages/:id/translation", h.Translate)

	return &fixture{r: r, h: h, db: db, live: live, dir: dir}
}

// do drives the fixture engine with a JSON body.
func (f *fixture) do(t *testing.T, method, path, user string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

// mustCreate creates a conversation and returns its id.
func (f *fixture) mustCreate(t *testing.T, creator string, members ...string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/conversations", creator, map[string]any{
		"member_ids": members,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create conversation = %d body=%s", w.Code, w.Body.String())
	}
	var conv struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil || conv.ID == "" {
		t.Fatalf("bad create body: %s", w.Body.String())
	}
	return conv.ID
}
