package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"solana-forensics/internal/core/domain"

	"github.com/rs/zerolog"
)

// webhookRetryIntervals are the waits between delivery attempts. The
// dispatcher's per-channel timeout bounds the total.
var webhookRetryIntervals = []time.Duration{
	250 * time.Millisecond,
	time.Second,
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookNotifier POSTs the alert envelope to a fixed URL. When a secret is
// set the body is signed with HMAC-SHA256 over "<timestamp>.<body>".
type WebhookNotifier struct {
	url        string
	secret     string
	httpClient HTTPClient
	log        zerolog.Logger
	now        func() time.Time
}

func NewWebhookNotifier(url, secret string, httpClient HTTPClient, log zerolog.Logger) *WebhookNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		httpClient: httpClient,
		log:        log.With().Str("channel", ChannelWebhook).Logger(),
		now:        time.Now,
	}
}

func (n *WebhookNotifier) Name() string { return ChannelWebhook }

// Notify delivers the alert, retrying transport errors and non-2xx replies
// until the attempts run out or ctx expires.
func (n *WebhookNotifier) Notify(ctx context.Context, a *domain.Alert) error {
	now := n.now()
	body, err := encodeAlert(a, now)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(now.Unix(), 10)

	var lastErr error
	for attempt := 0; attempt <= len(webhookRetryIntervals); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook: %w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(webhookRetryIntervals[attempt-1]):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Alert-ID", a.ID)
		if n.secret != "" {
			req.Header.Set("X-Timestamp", ts)
			req.Header.Set("X-Signature", Sign(n.secret, ts, body))
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.log.Warn().Err(err).Str("alert_id", a.ID).Int("attempt", attempt+1).Msg("webhook: delivery failed")
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.log.Debug().Str("alert_id", a.ID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("webhook: delivered")
			return nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		n.log.Warn().Str("alert_id", a.ID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("webhook: non-2xx response")
	}
	return fmt.Errorf("webhook: all attempts failed: %w", lastErr)
}

// Sign computes the lowercase hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
func VerifySignature(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
