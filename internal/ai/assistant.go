package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Assistant interface {
	Ask(ctx context.Context, prompt string, history []ChatMessage) (string, error)
}

// OpenAICompatAssistant talks to any /chat/completions endpoint. Answers are
// cached per prompt for CacheTTL since tips for the same department and
// symptoms repeat all day.
type OpenAICompatAssistant struct {
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
	CacheTTL  time.Duration
	Client    *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value string
	exp   time.Time
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (r RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", r.RetryAfter)
	}
	return "rate limited"
}

func (a *OpenAICompatAssistant) Ask(ctx context.Context, prompt string, history []ChatMessage) (string, error) {
	if strings.TrimSpace(a.BaseURL) == "" {
		return "", fmt.Errorf("ASSISTANT_BASE_URL is not set")
	}
	if strings.TrimSpace(a.Model) == "" {
		return "", fmt.Errorf("ASSISTANT_MODEL is not set")
	}
	if v, ok := a.cacheGet(prompt); ok {
		return v, nil
	}

	payload := struct {
		Model     string        `json:"model"`
		MaxTokens int           `json:"max_tokens,omitempty"`
		Messages  []ChatMessage `json:"messages"`
	}{
		Model:     a.Model,
		MaxTokens: a.MaxTokens,
		Messages:  append(append([]ChatMessage{}, history...), ChatMessage{Role: "user", Content: prompt}),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(a.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(a.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", fmt.Errorf("assistant request timed out")
		}
		return "", fmt.Errorf("assistant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if resp.StatusCode == http.StatusTooManyRequests {
			return "", RateLimitError{RetryAfter: extractRetryAfter(resp.Header, errBody)}
		}
		return "", fmt.Errorf("assistant http error: %s", resp.Status)
	}

	var res struct {
		Choices []struct {
			Message ChatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("empty assistant response")
	}
	answer := res.Choices[0].Message.Content
	a.cacheSet(prompt, answer)
	return answer, nil
}

func (a *OpenAICompatAssistant) cacheGet(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.exp) {
		delete(a.cache, key)
		return "", false
	}
	return e.value, true
}

func (a *OpenAICompatAssistant) cacheSet(key, value string) {
	if a.CacheTTL <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache == nil {
		a.cache = map[string]cacheEntry{}
	}
	a.cache[key] = cacheEntry{value: value, exp: time.Now().Add(a.CacheTTL)}
}

// extractRetryAfter prefers the Retry-After header and falls back to a
// google.rpc.RetryInfo detail in the error body.
func extractRetryAfter(h http.Header, errBody map[string]any) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	errObj, ok := errBody["error"].(map[string]any)
	if !ok {
		return 0
	}
	details, ok := errObj["details"].([]any)
	if !ok {
		return 0
	}
	for _, d := range details {
		m, ok := d.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := m["@type"].(string); ok && strings.Contains(t, "RetryInfo") {
			if s, ok := m["retryDelay"].(string); ok {
				if dur, err := time.ParseDuration(s); err == nil {
					return dur
				}
			}
		}
	}
	return 0
}
