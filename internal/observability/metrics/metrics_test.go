package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	return string(body)
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{path: "", want: "/"},
		{path: "/", want: "/"},
		{path: "/api/channels/8a6e0804-2bd0-4672-b79d-d97027f9071a", want: "/api/channels/:id"},
		{path: "/api/channels/abc/chat/", want: "/api/channels/abc/chat"},
		{path: "api/users/user123/following", want: "/api/users/:id/following"},
		{path: "/api/channels/live_x", want: "/api/channels/:id"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.path); got != tc.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestObserveRequestExported(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("post", "/api/channels/123/chat", http.StatusCreated, 20*time.Millisecond)

	body := scrape(t, recorder)
	expected := `streamline_http_requests_total{method="POST",path="/api/channels/:id/chat",status="201"} 1`
	if !strings.Contains(body, expected) {
		t.Fatalf("expected %q in output:\n%s", expected, body)
	}
	if !strings.Contains(body, `streamline_http_request_duration_seconds_count{method="POST",path="/api/channels/:id/chat"} 1`) {
		t.Fatalf("expected duration histogram in output:\n%s", body)
	}
}

func TestStreamGaugeConcurrent(t *testing.T) {
	recorder := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.StreamStarted()
		}()
	}
	wg.Wait()
	for i := 0; i < 5; i++ {
		recorder.StreamStopped()
	}

	body := scrape(t, recorder)
	for _, want := range []string{
		"streamline_active_streams 15",
		`streamline_stream_events_total{event="start"} 20`,
		`streamline_stream_events_total{event="stop"} 5`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}

func TestFanoutCounters(t *testing.T) {
	recorder := New()
	recorder.ObservePublish("chat_message", nil)
	recorder.ObservePublish("chat_message", errors.New("redis down"))
	recorder.ObserveDrop("streamline:chat_message:chan-1")
	recorder.ObserveDrop("streamline:chat_message")
	recorder.ObserveModeration("timeout", "applied")
	recorder.ObserveRateLimited("chat")

	body := scrape(t, recorder)
	for _, want := range []string{
		`streamline_pubsub_published_total{kind="chat_message"} 1`,
		`streamline_pubsub_publish_failures_total{kind="chat_message"} 1`,
		`streamline_pubsub_dropped_total{kind="chat_message"} 2`,
		`streamline_moderation_actions_total{action="timeout",outcome="applied"} 1`,
		`streamline_rate_limited_total{scope="chat"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var recorder *Recorder
	recorder.ObserveRequest("GET", "/", 200, time.Millisecond)
	recorder.StreamStarted()
	recorder.ObserveChatEvent("message")
	recorder.ObserveDrop("streamline:moderation")
}

func TestSetDefault(t *testing.T) {
	original := Default()
	t.Cleanup(func() { SetDefault(original) })

	replacement := New()
	SetDefault(replacement)
	if Default() != replacement {
		t.Fatal("expected SetDefault to replace the default recorder")
	}
	SetDefault(nil)
	if Default() != replacement {
		t.Fatal("SetDefault(nil) must keep the current recorder")
	}
}
