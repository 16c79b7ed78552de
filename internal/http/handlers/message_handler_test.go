package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestPostMessage_SanitizesAndPreservesClientID(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", "bob")

	w := f.do(t, http.MethodPost, "/conversations/"+id+"/messages", "alice", map[string]any{
		"message_id": "m-client-1",
		"text":       "line one\r\n\r\n\r\n\r\nline two\r\n",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("send = %d body=%s", w.Code, w.Body.String())
	}
	var resp PostMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == nil {
		t.Fatalf("bad body: %s", w.Body.String())
	}
	if resp.Message.ID != "m-client-1" {
		t.Fatalf("client id not preserved: %q", resp.Message.ID)
	}
	if resp.Message.Text != "line one\n\nline two" {
		t.Fatalf("text not sanitized: %q", resp.Message.Text)
	}
}

func TestPostMessage_Validation(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", "bob")

	cases := []struct {
		name string
		path string
		user string
		body map[string]any
		want int
	}{
		{"empty text", "/conversations/" + id + "/messages", "alice", map[string]any{"text": "   "}, http.StatusBadRequest},
		{"missing text", "/conversations/" + id + "/messages", "alice", map[string]any{}, http.StatusBadRequest},
		{"too long", "/conversations/" + id + "/messages", "alice", map[string]any{"text": strings.Repeat("x", 5000)}, http.StatusBadRequest},
		{"bad type", "/conversations/" + id + "/messages", "alice", map[string]any{"text": "hi", "type": "hologram"}, http.StatusBadRequest},
		{"non-member", "/conversations/" + id + "/messages", "mallory", map[string]any{"text": "hi"}, http.StatusForbidden},
		{"unknown conversation", "/conversations/zzz/messages", "alice", map[string]any{"text": "hi"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := f.do(t, http.MethodPost, tc.path, tc.user, tc.body, nil); w.Code != tc.want {
				t.Fatalf("got %d want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestHistory_CursorValidation(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", "bob")

	if w := f.do(t, http.MethodGet, "/conversations/"+id+"/messages?before=yesterday", "alice", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor = %d", w.Code)
	}

	// Valid RFC3339 cursor against the archive: empty page, no error.
	cursor := time.Now().UTC().Format(time.RFC3339)
	w := f.do(t, http.MethodGet, "/conversations/"+id+"/messages?before="+cursor, "alice", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("archival page = %d body=%s", w.Code, w.Body.String())
	}
	var resp HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Messages) != 0 {
		t.Fatalf("expected empty page: %s", w.Body.String())
	}
}

func TestHistory_LimitKeepsNewest(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", "bob")

	for _, mid := range []string{"m1", "m2", "m3"} {
		w := f.do(t, http.MethodPost, "/conversations/"+id+"/messages", "alice", map[string]any{"message_id": mid, "text": "msg " + mid}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("send %s = %d", mid, w.Code)
		}
	}

	w := f.do(t, http.MethodGet, "/conversations/"+id+"/messages?limit=2", "alice", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d body=%s", w.Code, w.Body.String())
	}
	var resp HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %s", w.Body.String())
	}
	if len(resp.Messages) != 2 || resp.Messages[0].ID != "m2" || resp.Messages[1].ID != "m3" {
		t.Fatalf("limit should keep the newest two, got %+v", resp.Messages)
	}

	// Junk limit values are ignored.
	if w := f.do(t, http.MethodGet, "/conversations/"+id+"/messages?limit=abc", "alice", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("junk limit = %d", w.Code)
	}
}

func TestReceipts_DeliveredAndRead(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", "bob")

	w := f.do(t, http.MethodPost, "/conversations/"+id+"/messages", "alice", map[string]any{"message_id": "m1", "text": "hi"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("send = %d", w.Code)
	}

	if w := f.do(t, http.MethodPost, "/conversations/"+id+"/messages/m1/delivered", "bob", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delivered = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/conversations/"+id+"/messages/m1/read", "bob", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("read = %d", w.Code)
	}
	// Receipt for a message no longer live is acknowledged quietly.
	if w := f.do(t, http.MethodPost, "/conversations/"+id+"/messages/long-gone/delivered", "bob", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("archived delivered = %d", w.Code)
	}
	// Non-member receipts are rejected.
	if w := f.do(t, http.MethodPost, "/conversations/"+id+"/messages/m1/read", "mallory", nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-member read = %d", w.Code)
	}
}

func TestDeleteMessageForUser_PerUserView(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", "bob")

	w := f.do(t, http.MethodPost, "/conversations/"+id+"/messages", "alice", map[string]any{"message_id": "m1", "text": "hi"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("send = %d", w.Code)
	}

	if w := f.do(t, http.MethodDelete, "/conversations/"+id+"/messages/m1", "bob", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/conversations/"+id+"/messages/nope", "bob", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("delete missing = %d", w.Code)
	}

	histIDs := func(user string) []string {
		w := f.do(t, http.MethodGet, "/conversations/"+id+"/messages", user, nil, nil)
		var resp HistoryResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("history body: %s", w.Body.String())
		}
		ids := make([]string, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			ids = append(ids, m.ID)
		}
		return ids
	}
	if ids := histIDs("bob"); len(ids) != 0 {
		t.Fatalf("bob still sees %v", ids)
	}
	if ids := histIDs("alice"); len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("alice lost the message: %v", ids)
	}
}

func TestTyping_RoundTripExcludesAsker(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", "bob")

	if w := f.do(t, http.MethodPut, "/conversations/"+id+"/typing", "alice", SetTypingRequest{Typing: true}, nil); w.Code != http.StatusNoContent {
		t.Fatalf("set typing = %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/conversations/"+id+"/typing", "bob", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("typing = %d", w.Code)
	}
	var resp TypingResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.UserIDs) != 1 || resp.UserIDs[0] != "alice" {
		t.Fatalf("unexpected typing: %s", w.Body.String())
	}

	// The typist does not see their own flag.
	w = f.do(t, http.MethodGet, "/conversations/"+id+"/typing", "alice", nil, nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.UserIDs) != 0 {
		t.Fatalf("asker included: %s", w.Body.String())
	}
}

func TestStarAndSavedRecords(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", "bob", "carol")

	w := f.do(t, http.MethodPost, "/conversations/"+id+"/messages", "alice", map[string]any{
		"message_id": "m1",
		"text":       "@bob dinner is on, bring carol",
		"mentions":   []string{"bob", "mallory"},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("send = %d body=%s", w.Code, w.Body.String())
	}

	// The mention fan-out recorded bob but not the non-member.
	w = f.do(t, http.MethodGet, "/saved-messages?kind=mentioned", "bob", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("saved = %d body=%s", w.Code, w.Body.String())
	}
	var saved SavedMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &saved); err != nil {
		t.Fatalf("bad body: %s", w.Body.String())
	}
	if len(saved.Records) != 1 || saved.Records[0].MessageID != "m1" {
		t.Fatalf("bob's mentions = %+v", saved.Records)
	}
	w = f.do(t, http.MethodGet, "/saved-messages?kind=mentioned", "mallory", nil, nil)
	_ = json.Unmarshal(w.Body.Bytes(), &saved)
	if len(saved.Records) != 0 {
		t.Fatalf("non-member got mention records: %+v", saved.Records)
	}

	// Star, list (kind defaults to starred), unstar.
	if w := f.do(t, http.MethodPut, "/conversations/"+id+"/messages/m1/star", "carol", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("star = %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/saved-messages", "carol", nil, nil)
	_ = json.Unmarshal(w.Body.Bytes(), &saved)
	if len(saved.Records) != 1 || saved.Records[0].Kind != "starred" {
		t.Fatalf("carol's stars = %+v", saved.Records)
	}
	if w := f.do(t, http.MethodDelete, "/conversations/"+id+"/messages/m1/star", "carol", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("unstar = %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/saved-messages", "carol", nil, nil)
	_ = json.Unmarshal(w.Body.Bytes(), &saved)
	if len(saved.Records) != 0 {
		t.Fatalf("stars after unstar = %+v", saved.Records)
	}

	// Guard rails: membership on star, kind validation on list.
	if w := f.do(t, http.MethodPut, "/conversations/"+id+"/messages/m1/star", "mallory", nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-member star = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/saved-messages?kind=bookmarked", "carol", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad kind = %d", w.Code)
	}
}
