package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAssistantAskCachesAnswer(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "Rest well."}}},
		})
	}))
	defer srv.Close()

	a := &OpenAICompatAssistant{BaseURL: srv.URL, Model: "m", APIKey: "k", CacheTTL: time.Minute}
	for i := 0; i < 2; i++ {
		got, err := a.Ask(context.Background(), "tip please", nil)
		if err != nil {
			t.Fatalf("ask: %v", err)
		}
		if got != "Rest well." {
			t.Fatalf("unexpected answer %q", got)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
}

func TestAssistantAskRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := &OpenAICompatAssistant{BaseURL: srv.URL, Model: "m"}
	_, err := a.Ask(context.Background(), "tip", nil)
	var rl RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected retry after %s", rl.RetryAfter)
	}
}

func TestAssistantAskRequiresConfig(t *testing.T) {
	if _, err := (&OpenAICompatAssistant{}).Ask(context.Background(), "x", nil); err == nil {
		t.Fatalf("expected configuration error")
	}
}
