package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestSweeper(t *testing.T, ledger EventLedger, client DeliveryClient, clock *fixedClock, locker RunLocker) *Sweeper {
	t.Helper()
	sweeper, err := NewSweeper(ledger, client, SweeperConfig{
		Policy: DeliveryPolicy{
			EndpointURL: "https://crm.example/webhook",
			MaxRetries:  3,
			RetryDelay:  time.Minute,
		},
		BatchSize:     10,
		ClaimLease:    5 * time.Minute,
		RetentionDays: 30,
		Locker:        locker,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	return sweeper
}

func TestSweeper_ThreeServerErrorsEndFailed(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	ledger := newMemoryLedger(clock.Now)
	client := &scriptedDeliveryClient{responses: []scriptedResponse{{status: 503, body: "unavailable"}}}
	dispatcher := newTestDispatcher(t, ledger, client, map[EventType]Extractor{
		EventGradeUpdated: gradeExtractor(Payload{"grade_id": "g1", "finalgrade_numeric": 92.0}),
	}, clock)
	sweeper := newTestSweeper(t, ledger, client, clock, nil)
	ctx := context.Background()

	result, err := dispatcher.Handle(ctx, DomainEvent{Type: EventGradeUpdated, ObjectID: "g1"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if row := ledger.mustGet(result.EventID); row.Status != EventStatusRetrying || row.RetryCount != 1 {
		t.Fatalf("after first attempt: %+v", row)
	}

	clock.Advance(time.Minute)
	stats, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep 1: %v", err)
	}
	if stats.Claimed != 1 || stats.Retrying != 1 {
		t.Fatalf("unexpected sweep 1 stats: %+v", stats)
	}
	row := ledger.mustGet(result.EventID)
	if row.RetryCount != 2 || row.NextRetryAt == nil || !row.NextRetryAt.Equal(clock.Now().Add(2*time.Minute)) {
		t.Fatalf("expected linear backoff after second attempt, got %+v", row)
	}

	clock.Advance(2 * time.Minute)
	stats, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep 2: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("unexpected sweep 2 stats: %+v", stats)
	}

	row = ledger.mustGet(result.EventID)
	if row.Status != EventStatusFailed || row.RetryCount != 3 {
		t.Fatalf("expected failed with retry_count=3, got %s/%d", row.Status, row.RetryCount)
	}
	if !strings.Contains(row.LastError, "503") {
		t.Fatalf("expected last_error to mention 503, got %q", row.LastError)
	}

	calls := client.calls()
	if len(calls) != 3 {
		t.Fatalf("expected three attempts, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if !bytes.Equal(calls[0].Body, calls[i].Body) {
			t.Fatalf("attempt %d body differs from first attempt", i+1)
		}
	}

	clock.Advance(time.Hour)
	stats, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep 3: %v", err)
	}
	if stats.Claimed != 0 {
		t.Fatalf("exhausted row must not be swept again, got %+v", stats)
	}
}

func TestSweeper_RetryCeilingExcludesRow(t *testing.T) {
	clock := newFixedClock(time.Now())
	ledger := newMemoryLedger(clock.Now)
	past := clock.Now().Add(-time.Hour)
	ledger.put(Event{
		ID:          "evt_max",
		EventType:   EventUserUpdated,
		Payload:     []byte(`{"user_id":"u1"}`),
		Status:      EventStatusFailed,
		RetryCount:  3,
		NextRetryAt: &past,
		CreatedAt:   past,
		ModifiedAt:  past,
	})
	client := &scriptedDeliveryClient{}
	sweeper := newTestSweeper(t, ledger, client, clock, nil)

	stats, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Claimed != 0 || len(client.calls()) != 0 {
		t.Fatalf("row at ceiling must be skipped, stats=%+v", stats)
	}
}

func TestSweeper_ConcurrentSweepsDeliverOnce(t *testing.T) {
	clock := newFixedClock(time.Now())
	ledger := newMemoryLedger(clock.Now)
	past := clock.Now().Add(-time.Minute)
	ledger.put(Event{
		ID:          "evt_race",
		EventType:   EventUserUpdated,
		Payload:     []byte(`{"user_id":"u1"}`),
		Status:      EventStatusFailed,
		RetryCount:  1,
		NextRetryAt: &past,
		CreatedAt:   past,
		ModifiedAt:  clock.Now(),
	})
	client := &scriptedDeliveryClient{}
	first := newTestSweeper(t, ledger, client, clock, nil)
	second := newTestSweeper(t, ledger, client, clock, nil)

	var wg sync.WaitGroup
	for _, sweeper := range []*Sweeper{first, second} {
		wg.Add(1)
		go func(s *Sweeper) {
			defer wg.Done()
			if _, err := s.Sweep(context.Background()); err != nil {
				t.Errorf("sweep: %v", err)
			}
		}(sweeper)
	}
	wg.Wait()

	if got := len(client.calls()); got != 1 {
		t.Fatalf("expected exactly one delivery, got %d", got)
	}
	if row := ledger.mustGet("evt_race"); row.Status != EventStatusSent {
		t.Fatalf("expected sent, got %s", row.Status)
	}
}

func TestSweeper_RecoversStaleClaims(t *testing.T) {
	clock := newFixedClock(time.Now())
	ledger := newMemoryLedger(clock.Now)
	stale := clock.Now().Add(-10 * time.Minute)
	ledger.put(Event{
		ID:         "evt_stale",
		EventType:  EventUserCreated,
		Payload:    []byte(`{"user_id":"u1"}`),
		Status:     EventStatusProcessing,
		RetryCount: 1,
		CreatedAt:  stale,
		ModifiedAt: stale,
	})
	fresh := clock.Now().Add(-time.Minute)
	ledger.put(Event{
		ID:         "evt_inflight",
		EventType:  EventUserCreated,
		Payload:    []byte(`{"user_id":"u2"}`),
		Status:     EventStatusProcessing,
		CreatedAt:  fresh,
		ModifiedAt: fresh,
	})
	client := &scriptedDeliveryClient{}
	sweeper := newTestSweeper(t, ledger, client, clock, nil)

	stats, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Recovered != 1 || stats.Sent != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if row := ledger.mustGet("evt_stale"); row.Status != EventStatusSent {
		t.Fatalf("expected recovered row to be delivered, got %s", row.Status)
	}
	if row := ledger.mustGet("evt_inflight"); row.Status != EventStatusProcessing {
		t.Fatalf("fresh claim must be left alone, got %s", row.Status)
	}
}

func TestSweeper_ManualRetryIgnoresCeiling(t *testing.T) {
	clock := newFixedClock(time.Now())
	ledger := newMemoryLedger(clock.Now)
	ledger.put(Event{
		ID:         "evt_exhausted",
		EventType:  EventUserDeleted,
		Payload:    []byte(`{"user_id":"u1"}`),
		Status:     EventStatusFailed,
		RetryCount: 3,
		LastError:  "HTTP 503",
		CreatedAt:  clock.Now(),
		ModifiedAt: clock.Now(),
	})
	client := &scriptedDeliveryClient{responses: []scriptedResponse{{status: 201}}}
	sweeper := newTestSweeper(t, ledger, client, clock, nil)

	result, err := sweeper.Retry(context.Background(), "evt_exhausted")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Status != EventStatusSent || result.Attempt != 4 {
		t.Fatalf("unexpected retry result: %+v", result)
	}
	if row := ledger.mustGet("evt_exhausted"); row.Status != EventStatusSent {
		t.Fatalf("expected sent after manual retry, got %s", row.Status)
	}

	if _, err := sweeper.Retry(context.Background(), "evt_exhausted"); !errors.Is(err, ErrInvalidEventTransition) {
		t.Fatalf("expected sent row to refuse retry, got %v", err)
	}
	if _, err := sweeper.Retry(context.Background(), "missing"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSweeper_ManualRetryOnlyForFailedOrRetrying(t *testing.T) {
	clock := newFixedClock(time.Now())
	ledger := newMemoryLedger(clock.Now)
	for _, row := range []struct {
		id     string
		status EventStatus
	}{
		{id: "evt_pending", status: EventStatusPending},
		{id: "evt_sent", status: EventStatusSent},
		{id: "evt_processing", status: EventStatusProcessing},
		{id: "evt_retrying", status: EventStatusRetrying},
	} {
		ledger.put(Event{
			ID:         row.id,
			EventType:  EventUserCreated,
			Payload:    []byte(`{"user_id":"u1"}`),
			Status:     row.status,
			RetryCount: 1,
			CreatedAt:  clock.Now(),
			ModifiedAt: clock.Now(),
		})
	}
	client := &scriptedDeliveryClient{responses: []scriptedResponse{{status: 200}}}
	sweeper := newTestSweeper(t, ledger, client, clock, nil)
	ctx := context.Background()

	for _, id := range []string{"evt_pending", "evt_sent"} {
		if _, err := sweeper.Retry(ctx, id); !errors.Is(err, ErrInvalidEventTransition) {
			t.Fatalf("%s: expected invalid transition, got %v", id, err)
		}
	}
	if _, err := sweeper.Retry(ctx, "evt_processing"); !errors.Is(err, ErrEventClaimConflict) {
		t.Fatalf("expected in-flight row to conflict, got %v", err)
	}
	if row := ledger.mustGet("evt_pending"); row.Status != EventStatusPending || row.RetryCount != 1 {
		t.Fatalf("pending row must be left for the dispatcher, got %+v", row)
	}
	if len(client.requests) != 0 {
		t.Fatalf("expected no delivery for refused retries, got %d", len(client.requests))
	}

	result, err := sweeper.Retry(ctx, "evt_retrying")
	if err != nil {
		t.Fatalf("retry retrying row: %v", err)
	}
	if result.Status != EventStatusSent {
		t.Fatalf("expected retrying row to be sent, got %+v", result)
	}
}

func TestSweeper_CleanupOnlyRemovesOldSentRows(t *testing.T) {
	clock := newFixedClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	ledger := newMemoryLedger(clock.Now)
	old := clock.Now().AddDate(0, 0, -45)
	recent := clock.Now().AddDate(0, 0, -5)
	for id, status := range map[string]EventStatus{
		"old_sent":     EventStatusSent,
		"old_pending":  EventStatusPending,
		"old_retrying": EventStatusRetrying,
		"old_failed":   EventStatusFailed,
	} {
		ledger.put(Event{ID: id, EventType: EventUserCreated, Payload: []byte(`{}`), Status: status, CreatedAt: old, ModifiedAt: old})
	}
	ledger.put(Event{ID: "recent_sent", EventType: EventUserCreated, Payload: []byte(`{}`), Status: EventStatusSent, CreatedAt: recent, ModifiedAt: recent})

	sweeper := newTestSweeper(t, ledger, &scriptedDeliveryClient{}, clock, nil)
	deleted, err := sweeper.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one deleted row, got %d", deleted)
	}
	for _, id := range []string{"old_pending", "old_retrying", "old_failed", "recent_sent"} {
		if _, err := ledger.Get(context.Background(), id); err != nil {
			t.Fatalf("expected %s to survive cleanup: %v", id, err)
		}
	}
}

type stubRunLocker struct {
	held     bool
	released int
}

type stubRunLock struct {
	locker *stubRunLocker
}

func (l stubRunLock) Unlock(context.Context) error {
	l.locker.released++
	return nil
}

func (l *stubRunLocker) TryLock(context.Context, string, time.Duration) (RunLock, bool, error) {
	if l.held {
		return nil, false, nil
	}
	return stubRunLock{locker: l}, true, nil
}

func TestSweeper_SkipsWhenRunLockHeld(t *testing.T) {
	clock := newFixedClock(time.Now())
	ledger := newMemoryLedger(clock.Now)
	locker := &stubRunLocker{held: true}
	sweeper := newTestSweeper(t, ledger, &scriptedDeliveryClient{}, clock, locker)

	stats, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !stats.Skipped {
		t.Fatalf("expected skipped sweep while lock held")
	}

	locker.held = false
	if _, err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if locker.released != 1 {
		t.Fatalf("expected lock release after sweep, got %d", locker.released)
	}
}
