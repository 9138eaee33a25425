package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]int
	tags       map[string]map[string]string
}

func newCaptureMetricsRecorder() *captureMetricsRecorder {
	return &captureMetricsRecorder{
		counters:   map[string]int64{},
		histograms: map[string]int{},
		tags:       map[string]map[string]string{},
	}
}

func (r *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += value
	r.tags[name] = tags
}

func (r *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, _ float64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms[name]++
	r.tags[name] = tags
}

type captureLogger struct {
	stubLogger
	mu       sync.Mutex
	messages []string
}

func (l *captureLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, level+":"+msg)
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.record("error", msg) }
func (l *captureLogger) WithContext(context.Context) Logger {
	return l
}

func (l *captureLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.messages {
		if msg == entry {
			return true
		}
	}
	return false
}

func TestTelemetry_ObserveOperationRecordsMetricsAndLogs(t *testing.T) {
	metrics := newCaptureMetricsRecorder()
	logger := &captureLogger{}
	tel := newTelemetry(logger, metrics)

	tel.observeOperation(context.Background(), time.Now(), "Sweep", nil, map[string]any{"outcome": "sent"})
	tel.observeOperation(context.Background(), time.Now(), "delete-event", errors.New("boom"), nil)

	if metrics.counters["crmsync.sweep.total"] != 1 {
		t.Fatalf("expected sweep counter, got %+v", metrics.counters)
	}
	if metrics.histograms["crmsync.sweep.duration_ms"] != 1 {
		t.Fatalf("expected sweep histogram, got %+v", metrics.histograms)
	}
	tags := metrics.tags["crmsync.sweep.total"]
	if tags["status"] != "success" || tags["outcome"] != "sent" {
		t.Fatalf("unexpected sweep tags: %+v", tags)
	}
	if metrics.tags["crmsync.delete_event.total"]["status"] != "failure" {
		t.Fatalf("expected failure status tag, got %+v", metrics.tags["crmsync.delete_event.total"])
	}
	if !logger.has("debug:sweep succeeded") || !logger.has("error:delete_event failed") {
		t.Fatalf("unexpected log entries: %v", logger.messages)
	}
}

func TestService_SweepEmitsTelemetry(t *testing.T) {
	metrics := newCaptureMetricsRecorder()
	clock := newFixedClock(time.Now())
	ledger := newMemoryLedger(clock.Now)
	past := clock.Now().Add(-time.Minute)
	ledger.put(Event{
		ID:          "evt_1",
		EventType:   EventUserCreated,
		Payload:     []byte(`{"user_id":"u1"}`),
		Status:      EventStatusRetrying,
		RetryCount:  1,
		NextRetryAt: &past,
		CreatedAt:   past,
		ModifiedAt:  clock.Now(),
	})
	svc, err := NewService(Config{Delivery: DeliveryConfig{EndpointURL: "https://crm.example/hook"}},
		WithEventLedger(ledger),
		WithDeliveryClient(&scriptedDeliveryClient{}),
		WithMetricsRecorder(metrics),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	stats, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if metrics.counters["crmsync.sweep.total"] != 1 {
		t.Fatalf("expected sweep operation counter, got %+v", metrics.counters)
	}
	if metrics.counters[MetricSweepClaimed] != 1 {
		t.Fatalf("expected claimed counter, got %+v", metrics.counters)
	}
	if metrics.counters[MetricDeliveryAttempts] != 1 {
		t.Fatalf("expected delivery attempt counter, got %+v", metrics.counters)
	}
}
