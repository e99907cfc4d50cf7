package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolvePostID(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"post_id":"3141592653"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(Config{
		BaseURL:     server.URL,
		HTTPClient:  server.Client(),
		TokenSource: func() string { return "tok-1" },
	})

	id, err := client.ResolvePostID(context.Background(), "https://example.com/p/AbC123/?hl=en")
	if err != nil {
		t.Fatalf("ResolvePostID() error = %v", err)
	}
	if id != "3141592653" {
		t.Fatalf("ResolvePostID() = %q, want 3141592653", id)
	}
	if gotPath != "/api/v1/media/shortcode/AbC123" {
		t.Fatalf("request path = %q, want shortcode path", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("authorization = %q, want Bearer tok-1", gotAuth)
	}
}

func TestResolvePostIDRejectsNonPostURL(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient(Config{BaseURL: "http://unused"})
	if _, err := client.ResolvePostID(context.Background(), "https://example.com/profile/someone"); err == nil {
		t.Fatal("ResolvePostID() accepted a non-post URL")
	}
}

func TestFetchCommentsTruncatesToLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		comments := make([]map[string]any, 0, 5)
		for i := 0; i < 5; i++ {
			comments = append(comments, map[string]any{
				"id":         fmt.Sprintf("c%d", i),
				"user":       map[string]string{"id": fmt.Sprintf("u%d", i), "username": fmt.Sprintf("user%d", i)},
				"text":       "hello",
				"created_at": "2025-06-11T12:00:00Z",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"comments": comments, "total": 87}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL, HTTPClient: server.Client()})
	comments, total, err := client.FetchComments(context.Background(), "314", 3)
	if err != nil {
		t.Fatalf("FetchComments() error = %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("FetchComments() returned %d comments, want 3", len(comments))
	}
	if total != 87 {
		t.Fatalf("FetchComments() total = %d, want 87", total)
	}
	if comments[0].ID != "c0" || comments[0].Username != "user0" {
		t.Fatalf("first comment = %+v, want c0/user0", comments[0])
	}
}

func TestSendDirectMessageBody(t *testing.T) {
	t.Parallel()

	var captured map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL, HTTPClient: server.Client()})
	if err := client.SendDirectMessage(context.Background(), "u1", "check this out"); err != nil {
		t.Fatalf("SendDirectMessage() error = %v", err)
	}
	if captured["recipient_id"] != "u1" || captured["text"] != "check this out" {
		t.Fatalf("request body = %v, want recipient u1 with text", captured)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		message string
		want    Kind
	}{
		{name: "status 429", status: 429, message: "slow down", want: KindRateLimited},
		{name: "rate limit text", status: 400, message: "rate limit exceeded", want: KindRateLimited},
		{name: "too many requests text", status: 400, message: "too many requests", want: KindRateLimited},
		{name: "status 401", status: 401, message: "", want: KindSessionExpired},
		{name: "login required text", status: 400, message: "login_required", want: KindSessionExpired},
		{name: "status 404", status: 404, message: "", want: KindNotFound},
		{name: "gone text", status: 400, message: "media no longer available", want: KindNotFound},
		{name: "spam text", status: 400, message: "flagged as spam", want: KindRestricted},
		{name: "blocked text", status: 400, message: "action blocked", want: KindRestricted},
		{name: "status 403", status: 403, message: "", want: KindRestricted},
		{name: "server error", status: 500, message: "oops", want: KindUnclassified},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				if err := json.NewEncoder(w).Encode(map[string]string{"message": tc.message}); err != nil {
					t.Errorf("encode response: %v", err)
				}
			}))
			defer server.Close()

			client := NewHTTPClient(Config{BaseURL: server.URL, HTTPClient: server.Client()})
			err := client.PostReply(context.Background(), "314", "c1", "hi")
			if err == nil {
				t.Fatal("PostReply() succeeded, want classified error")
			}
			if got := KindOf(err); got != tc.want {
				t.Fatalf("KindOf() = %v, want %v", got, tc.want)
			}
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("error %v is not a *platform.Error", err)
			}
		})
	}
}

func TestKindOfUnwrapped(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("outer: %w", &Error{Kind: KindRestricted, Op: "send direct message", Err: errors.New("blocked")})
	if got := KindOf(wrapped); got != KindRestricted {
		t.Fatalf("KindOf(wrapped) = %v, want restricted", got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnclassified {
		t.Fatalf("KindOf(plain) = %v, want unclassified", got)
	}
}
