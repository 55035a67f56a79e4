package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carequeue/backend/internal/utils"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

type Message struct {
	To   string
	Body string
}

// Dispatcher hands one message to a delivery provider and returns the
// provider's message id.
type Dispatcher interface {
	Dispatch(ctx context.Context, m Message) (string, error)
}

// TwilioDispatcher sends SMS through the Twilio Messages API.
type TwilioDispatcher struct {
	AccountSID         string
	AuthToken          string
	From               string
	BaseURL            string
	DefaultCountryCode string
	RetryAttempts      int
	Client             *http.Client
	// Backoff returns the pause before retry attempt n (n >= 1).
	Backoff func(n int) time.Duration
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// permanentError marks a rejection that retrying cannot fix.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func (d *TwilioDispatcher) Dispatch(ctx context.Context, m Message) (string, error) {
	if !utils.ValidPhone(m.To) {
		return "", fmt.Errorf("invalid phone number %q", m.To)
	}
	to := utils.NormalizePhone(m.To, d.DefaultCountryCode)

	attempts := d.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.backoff(attempt)):
			}
		}
		sid, err := d.send(ctx, to, m.Body)
		if err == nil {
			return sid, nil
		}
		lastErr = err
		if _, ok := err.(permanentError); ok {
			break
		}
	}
	return "", fmt.Errorf("twilio send failed after %d attempts: %w", attempts, lastErr)
}

func (d *TwilioDispatcher) send(ctx context.Context, to, body string) (string, error) {
	base := d.BaseURL
	if base == "" {
		base = defaultTwilioBaseURL
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(base, "/"), url.PathEscape(d.AccountSID))
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", d.From)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", permanentError{err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(d.AccountSID, d.AuthToken)

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tr twilioResponse
	_ = json.NewDecoder(resp.Body).Decode(&tr)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return tr.SID, nil
	}
	err = fmt.Errorf("twilio returned status %d: %s", resp.StatusCode, tr.Message)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return "", permanentError{err}
	}
	return "", err
}

func (d *TwilioDispatcher) backoff(n int) time.Duration {
	if d.Backoff != nil {
		return d.Backoff(n)
	}
	return time.Duration(n*n) * time.Second
}
