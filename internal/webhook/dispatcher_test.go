package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opsdesk/opsdesk/internal/activity"
)

func sampleActivity() *activity.Activity {
	respID := int64(7)
	respName := "Dana"
	obs := "follow up with vendor"
	return &activity.Activity{
		ID:              42,
		Origin:          "support",
		Name:            "Review ticket backlog",
		Date:            "2026-08-20",
		Duration:        "01:30",
		Status:          activity.StatusPending,
		Priority:        activity.PriorityHigh,
		ResponsibleID:   &respID,
		ResponsibleName: &respName,
		Observation:     &obs,
		CreatedAt:       time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestBuildPayloadFiltersFields(t *testing.T) {
	a := sampleActivity()
	fields := Fields{Origin: true, Status: true, Responsible: true}

	payload := BuildPayload(a, fields)

	if payload["origin"] != "support" {
		t.Errorf("origin = %v, want support", payload["origin"])
	}
	if payload["status"] != activity.StatusPending {
		t.Errorf("status = %v, want pending", payload["status"])
	}
	resp, ok := payload["responsible"].(map[string]any)
	if !ok {
		t.Fatalf("responsible missing or wrong type: %v", payload["responsible"])
	}
	if resp["name"] != a.ResponsibleName {
		t.Errorf("responsible.name = %v, want %v", resp["name"], a.ResponsibleName)
	}

	for _, excluded := range []string{"activity", "date", "duration", "priority", "observation"} {
		if _, present := payload[excluded]; present {
			t.Errorf("disabled field %q present in payload", excluded)
		}
	}
	for _, always := range []string{"id", "due_date", "created_at", "updated_at"} {
		if _, present := payload[always]; !present {
			t.Errorf("expected %q in payload", always)
		}
	}
}

func TestDefaultFieldsExcludeObservation(t *testing.T) {
	f := DefaultFields()
	if f.Observation {
		t.Error("observation should be off by default")
	}
	if !f.Origin || !f.Activity || !f.Date || !f.Duration || !f.Status || !f.Priority || !f.Responsible {
		t.Errorf("all other fields should default on: %+v", f)
	}
}

func TestDeliverHeadersAndBody(t *testing.T) {
	var (
		mu          sync.Mutex
		gotEvent    string
		gotSource   string
		gotType     string
		gotDelivery string
		gotBody     map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotEvent = r.Header.Get("X-Event")
		gotSource = r.Header.Get("X-Webhook-Source")
		gotType = r.Header.Get("Content-Type")
		gotDelivery = r.Header.Get("X-Delivery")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(5 * time.Second)
	payload := BuildPayload(sampleActivity(), DefaultFields())
	if err := d.Deliver(context.Background(), srv.URL, EventCreated, payload); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotEvent != EventCreated {
		t.Errorf("X-Event = %q, want %q", gotEvent, EventCreated)
	}
	if gotSource != "opsdesk" {
		t.Errorf("X-Webhook-Source = %q, want opsdesk", gotSource)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotDelivery == "" {
		t.Error("X-Delivery header missing")
	}
	if gotBody["activity"] != "Review ticket backlog" {
		t.Errorf("body activity = %v", gotBody["activity"])
	}
}

func TestDeliverUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer srv.Close()

	d := NewDispatcher(5 * time.Second)
	err := d.Deliver(context.Background(), srv.URL, EventManual, map[string]any{"id": 1})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Deliver() error = %v, want *UpstreamError", err)
	}
	if upstream.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", upstream.StatusCode)
	}
	if len(upstream.Body) != maxErrorBody {
		t.Errorf("Body length = %d, want truncated to %d", len(upstream.Body), maxErrorBody)
	}
}

func TestDeliverTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := NewDispatcher(50 * time.Millisecond)
	err := d.Deliver(context.Background(), srv.URL, EventPing, map[string]any{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Deliver() error = %v, want ErrTimeout", err)
	}
}

type staticConfig struct {
	cfg *Config
	err error
}

func (s *staticConfig) GetAutoSend(ctx context.Context) (*Config, error) {
	return s.cfg, s.err
}

func TestAutoSenderDelivers(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
		events   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		events = append(events, r.Header.Get("X-Event"))
		mu.Unlock()
	}))
	defer srv.Close()

	source := &staticConfig{cfg: &Config{URL: srv.URL, Active: true, AutoSend: true, Fields: DefaultFields()}}
	sender := NewAutoSender(source, NewDispatcher(5*time.Second))

	sender.ActivityCreated(sampleActivity())
	sender.ActivityUpdated(sampleActivity())
	sender.Wait()

	mu.Lock()
	defer mu.Unlock()
	if requests != 2 {
		t.Fatalf("requests = %d, want 2", requests)
	}
	want := map[string]bool{EventCreated: false, EventUpdated: false}
	for _, e := range events {
		want[e] = true
	}
	for event, seen := range want {
		if !seen {
			t.Errorf("no delivery observed for %s", event)
		}
	}
}

func TestAutoSenderSkipsWhenNotConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request to webhook endpoint")
	}))
	defer srv.Close()

	sender := NewAutoSender(&staticConfig{cfg: nil}, NewDispatcher(time.Second))
	sender.ActivityCreated(sampleActivity())
	sender.Wait()
}

func TestAutoSenderSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	source := &staticConfig{cfg: &Config{URL: srv.URL, Active: true, AutoSend: true, Fields: DefaultFields()}}
	sender := NewAutoSender(source, NewDispatcher(time.Second))

	// Must not panic or surface the failure to the caller.
	sender.ActivityCreated(sampleActivity())
	sender.Wait()
}
