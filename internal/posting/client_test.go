package posting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPostComment_TopLevel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization header = %q, want Bearer test-token", got)
		}

		var body commentThreadRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if body.Snippet.VideoID != "vid123" {
			t.Errorf("request videoId = %q, want vid123", body.Snippet.VideoID)
		}
		if body.Snippet.TopLevelComment == nil || body.Snippet.TopLevelComment.Snippet.TextOriginal != "great video" {
			t.Errorf("request top-level comment text = %+v, want %q", body.Snippet.TopLevelComment, "great video")
		}

		json.NewEncoder(w).Encode(commentThreadResponse{ID: "new-comment-id"})
	}))
	defer srv.Close()

	id, err := postCommentTo(context.Background(), http.DefaultClient, srv.URL, "test-token", "vid123", "", "great video")
	if err != nil {
		t.Fatalf("PostComment() error = %v", err)
	}
	if id != "new-comment-id" {
		t.Errorf("PostComment() id = %q, want new-comment-id", id)
	}
}

func TestPostComment_Reply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body commentThreadRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if body.Snippet.ParentID != "parent-1" {
			t.Errorf("request parentId = %q, want parent-1", body.Snippet.ParentID)
		}
		if body.Snippet.TextOriginal != "reply text" {
			t.Errorf("request textOriginal = %q, want %q", body.Snippet.TextOriginal, "reply text")
		}
		json.NewEncoder(w).Encode(commentThreadResponse{ID: "reply-id"})
	}))
	defer srv.Close()

	id, err := postCommentTo(context.Background(), http.DefaultClient, srv.URL, "test-token", "vid123", "parent-1", "reply text")
	if err != nil {
		t.Fatalf("PostComment() error = %v", err)
	}
	if id != "reply-id" {
		t.Errorf("PostComment() id = %q, want reply-id", id)
	}
}

func TestPostComment_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "quota exceeded"},
		})
	}))
	defer srv.Close()

	_, err := postCommentTo(context.Background(), http.DefaultClient, srv.URL, "test-token", "vid123", "", "x")
	if err == nil {
		t.Fatal("PostComment() error = nil, want an error for a non-2xx upstream response")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("PostComment() error = %v, want it to surface the upstream message", err)
	}
}
