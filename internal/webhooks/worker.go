// Package webhooks forwards route plan events to an HTTP endpoint, signing
// each body with HMAC-SHA256 when a secret is configured.
package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"routeplanner/internal/events"
	"routeplanner/internal/metrics"
)

type Config struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	// Backoff is the first retry delay; it doubles per attempt up to an hour.
	Backoff time.Duration
}

type Worker struct {
	URL         string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	Backoff     time.Duration
	Logger      *slog.Logger
	now         func() time.Time
}

func NewWorker(cfg Config, logger *slog.Logger) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		URL:         cfg.URL,
		Secret:      cfg.Secret,
		HTTP:        &http.Client{Timeout: cfg.Timeout},
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		Logger:      logger,
		now:         time.Now,
	}
}

// Run subscribes to bus and delivers events in order until ctx is done or
// the subscription closes.
func (w *Worker) Run(ctx context.Context, bus events.Bus) error {
	ch, cancel, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe plan events: %w", err)
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := w.Deliver(ctx, evt); err != nil {
				w.Logger.Warn("webhook delivery failed", "type", evt.Type, "plan_id", evt.PlanID, "error", err)
			}
		}
	}
}

// Deliver POSTs one event, retrying failed attempts with backoff.
func (w *Worker) Deliver(ctx context.Context, evt events.Event) error {
	body, err := encode(evt, w.clock())
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < max(1, w.MaxAttempts); attempt++ {
		if attempt > 0 {
			t := time.NewTimer(nextBackoff(w.Backoff, attempt-1))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if lastErr = w.post(ctx, evt.Type, body); lastErr == nil {
			return nil
		}
	}
	metrics.WebhookDeliveries.WithLabelValues(evt.Type, "failed").Inc()
	return fmt.Errorf("after %d attempts: %w", max(1, w.MaxAttempts), lastErr)
}

func (w *Worker) post(ctx context.Context, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", eventType)
	if w.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(w.Secret, body))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := float64(time.Since(start).Milliseconds())
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
		_ = resp.Body.Close()
	}
	metrics.WebhookLatency.WithLabelValues(eventType, status).Observe(latency)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues(eventType, "error").Inc()
		return err
	}
	metrics.WebhookDeliveries.WithLabelValues(eventType, status).Inc()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (w *Worker) clock() time.Time {
	if w.now == nil {
		return time.Now()
	}
	return w.now()
}

func nextBackoff(base time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	d := base * time.Duration(1<<attempts)
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
