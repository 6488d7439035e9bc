package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/activity"
)

// Event tags carried in the X-Event header.
const (
	EventCreated = "activity.created"
	EventUpdated = "activity.updated"
	EventManual  = "activity.manual"
	EventPing    = "webhook.ping"
)

// maxErrorBody bounds how much of an upstream error body is kept in the
// returned error message.
const maxErrorBody = 200

// ErrTimeout marks a delivery that was cut off by the dispatch deadline.
var ErrTimeout = errors.New("webhook request timed out")

// UpstreamError is a non-2xx response from the webhook endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook endpoint returned %d: %s", e.StatusCode, e.Body)
}

// MetricsRecorder is an optional sink for delivery metrics.
type MetricsRecorder interface {
	IncWebhookDelivery(event, outcome string)
	ObserveWebhookDuration(seconds float64)
}

// Dispatcher posts activity payloads to a configured endpoint. Every call is
// a single attempt with a hard deadline; there is no queue and no retry.
type Dispatcher struct {
	client  *http.Client
	timeout time.Duration
	metrics MetricsRecorder
}

// NewDispatcher creates a dispatcher whose deliveries are cut off after
// timeout.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// SetMetrics sets the optional metrics recorder.
func (d *Dispatcher) SetMetrics(m MetricsRecorder) {
	d.metrics = m
}

// BuildPayload assembles the outgoing body for an activity snapshot. Only
// fields enabled in the configuration are included; id, due_date, created_at
// and updated_at are always present.
func BuildPayload(a *activity.Activity, f Fields) map[string]any {
	payload := make(map[string]any)
	if f.Origin {
		payload["origin"] = a.Origin
	}
	if f.Activity {
		payload["activity"] = a.Name
	}
	if f.Date {
		payload["date"] = a.Date
	}
	if f.Duration {
		payload["duration"] = a.Duration
	}
	if f.Status {
		payload["status"] = a.Status
	}
	if f.Priority {
		payload["priority"] = a.Priority
	}
	if f.Responsible {
		payload["responsible"] = map[string]any{
			"id":   a.ResponsibleID,
			"name": a.ResponsibleName,
		}
	}
	if f.Observation {
		payload["observation"] = a.Observation
	}
	payload["id"] = a.ID
	payload["due_date"] = a.DueDate
	payload["created_at"] = a.CreatedAt
	payload["updated_at"] = a.UpdatedAt
	return payload
}

// Deliver POSTs the payload to url with the event tag. It returns ErrTimeout
// when the deadline fires, an *UpstreamError for non-2xx responses, and nil
// on success.
func (d *Dispatcher) Deliver(ctx context.Context, url, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Source", "opsdesk")
	req.Header.Set("X-Event", event)
	req.Header.Set("X-Delivery", uuid.NewString())

	start := time.Now()
	resp, err := d.client.Do(req)
	if d.metrics != nil {
		d.metrics.ObserveWebhookDuration(time.Since(start).Seconds())
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
			err = fmt.Errorf("%w after %s", ErrTimeout, d.timeout)
		}
		if d.metrics != nil {
			d.metrics.IncWebhookDelivery(event, outcome)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if d.metrics != nil {
			d.metrics.IncWebhookDelivery(event, "upstream_error")
		}
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(truncated)}
	}

	if d.metrics != nil {
		d.metrics.IncWebhookDelivery(event, "ok")
	}
	return nil
}

// ConfigSource resolves the auto-send configuration at dispatch time.
type ConfigSource interface {
	GetAutoSend(ctx context.Context) (*Config, error)
}

// AutoSender implements the engine's change-notification hook. Each event is
// delivered from a detached goroutine so the originating request never waits
// on, or fails because of, the webhook endpoint. Failures are logged and
// swallowed.
type AutoSender struct {
	config     ConfigSource
	dispatcher *Dispatcher

	wg sync.WaitGroup
}

// NewAutoSender creates the auto-send hook.
func NewAutoSender(config ConfigSource, dispatcher *Dispatcher) *AutoSender {
	return &AutoSender{config: config, dispatcher: dispatcher}
}

// ActivityCreated fires an activity.created delivery if auto-send is on.
func (s *AutoSender) ActivityCreated(a *activity.Activity) {
	s.send(a, EventCreated)
}

// ActivityUpdated fires an activity.updated delivery if auto-send is on.
func (s *AutoSender) ActivityUpdated(a *activity.Activity) {
	s.send(a, EventUpdated)
}

func (s *AutoSender) send(a *activity.Activity, event string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Detached from the request context on purpose: the response does
		// not wait for the delivery, and the delivery must not be canceled
		// by the response completing. Deliver applies its own deadline.
		ctx := context.Background()

		cfg, err := s.config.GetAutoSend(ctx)
		if err != nil {
			slog.Error("webhook auto-send: loading config", "error", err)
			return
		}
		if cfg == nil {
			return
		}

		payload := BuildPayload(a, cfg.Fields)
		if err := s.dispatcher.Deliver(ctx, cfg.URL, event, payload); err != nil {
			slog.Error("webhook auto-send failed", "event", event, "activity_id", a.ID, "error", err)
		}
	}()
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown and in
// tests.
func (s *AutoSender) Wait() {
	s.wg.Wait()
}
