package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Webhook event names.
const (
	EventBucketCreated = "bucket.created"
	EventObjectPut     = "object.put"
	EventObjectDeleted = "object.deleted"
)

// WebhookEvent is the payload POSTed to webhook URLs.
type WebhookEvent struct {
	Event     string `json:"event"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key,omitempty"`
	Hash      string `json:"hash,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WebhookNotifier sends HTTP POST notifications to configured webhook URLs.
// A nil notifier is valid and sends nothing.
type WebhookNotifier struct {
	urls       []string
	client     *http.Client
	log        zerolog.Logger
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// NewWebhookNotifier returns nil if no URLs are configured.
func NewWebhookNotifier(urls []string, log zerolog.Logger) *WebhookNotifier {
	var trimmed []string
	for _, u := range urls {
		if u != "" {
			trimmed = append(trimmed, u)
		}
	}
	if len(trimmed) == 0 {
		return nil
	}
	return &WebhookNotifier{
		urls:       trimmed,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
		retryDelay: time.Second,
	}
}

// Notify delivers event asynchronously.
func (wn *WebhookNotifier) Notify(event, bucket, key, hash string) {
	if wn == nil {
		return
	}

	ev := &WebhookEvent{
		Event:     event,
		Bucket:    bucket,
		Key:       key,
		Hash:      hash,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	wn.wg.Add(1)
	go func() {
		defer wn.wg.Done()
		wn.send(ev)
	}()
}

// Close waits for in-flight deliveries.
func (wn *WebhookNotifier) Close() {
	if wn == nil {
		return
	}
	wn.wg.Wait()
	wn.client.CloseIdleConnections()
}

func (wn *WebhookNotifier) send(event *WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.log.Error().Err(err).Msg("webhook: marshal event")
		return
	}

	for _, url := range wn.urls {
		if err := wn.post(url, data); err != nil {
			wn.log.Warn().Str("url", url).Err(err).Msg("webhook: delivery failed")
		} else {
			wn.log.Debug().Str("url", url).Str("event", event.Event).Msg("webhook: delivered")
		}
	}
}

// post sends a single webhook POST with up to 2 retries on 5xx and
// network errors.
func (wn *WebhookNotifier) post(url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * wn.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "kvblob/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}
