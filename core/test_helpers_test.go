package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryLedger struct {
	mu       sync.Mutex
	next     int
	now      func() time.Time
	events   map[string]Event
	recordFn func(RecordInput) error
}

func newMemoryLedger(now func() time.Time) *memoryLedger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &memoryLedger{now: now, events: map[string]Event{}}
}

func (l *memoryLedger) Record(_ context.Context, in RecordInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	if l.recordFn != nil {
		if err := l.recordFn(in); err != nil {
			return "", err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := fmt.Sprintf("evt_%d", l.next)
	now := l.now()
	l.events[id] = Event{
		ID:              id,
		EventType:       in.EventType,
		Payload:         append([]byte(nil), in.Payload...),
		RelatedObjectID: in.RelatedObjectID,
		HostEventID:     in.HostEventID,
		UserID:          in.UserID,
		Status:          EventStatusPending,
		CreatedAt:       now,
		ModifiedAt:      now,
	}
	return id, nil
}

func (l *memoryLedger) Get(_ context.Context, id string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	event, ok := l.events[id]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return event, nil
}

func (l *memoryLedger) MarkSent(_ context.Context, id string, httpStatus int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	event, ok := l.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if event.Status == EventStatusSent {
		return nil
	}
	now := l.now()
	event.Status = EventStatusSent
	event.HTTPStatus = &httpStatus
	event.ProcessedAt = &now
	event.ModifiedAt = now
	event.NextRetryAt = nil
	l.events[id] = event
	return nil
}

func (l *memoryLedger) MarkFailed(_ context.Context, id string, in FailureInput) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	event, ok := l.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if event.Status == EventStatusSent {
		return ErrInvalidEventTransition
	}
	event.RetryCount++
	event.HTTPStatus = in.HTTPStatus
	if in.Cause != nil {
		event.LastError = in.Cause.Error()
	}
	event.ResponseBody = in.ResponseBody
	event.ModifiedAt = l.now()
	if in.NextRetryAt.IsZero() {
		event.Status = EventStatusFailed
		event.NextRetryAt = nil
	} else {
		next := in.NextRetryAt
		event.Status = EventStatusRetrying
		event.NextRetryAt = &next
	}
	l.events[id] = event
	return nil
}

func (l *memoryLedger) MarkRetrying(_ context.Context, id string, nextRetryAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	event, ok := l.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if event.Status == EventStatusSent {
		return ErrInvalidEventTransition
	}
	event.Status = EventStatusRetrying
	event.NextRetryAt = &nextRetryAt
	event.ModifiedAt = l.now()
	l.events[id] = event
	return nil
}

func (l *memoryLedger) Claim(_ context.Context, in ClaimInput) (Event, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	event, ok := l.events[in.ID]
	if !ok {
		return Event{}, false, nil
	}
	if event.Status != in.ExpectedStatus || event.RetryCount != in.ExpectedRetryCount {
		return Event{}, false, nil
	}
	event.Status = EventStatusProcessing
	event.ModifiedAt = l.now()
	l.events[in.ID] = event
	return event, true, nil
}

func (l *memoryLedger) ListRetryable(_ context.Context, filter RetryableFilter) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []Event{}
	for _, event := range l.events {
		if event.Status != EventStatusFailed && event.Status != EventStatusRetrying {
			continue
		}
		if event.RetryCount >= filter.MaxRetries || event.NextRetryAt == nil || event.NextRetryAt.After(filter.Now) {
			continue
		}
		out = append(out, event)
	}
	sortEvents(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (l *memoryLedger) ListStale(_ context.Context, olderThan time.Time, limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []Event{}
	for _, event := range l.events {
		if event.Status != EventStatusProcessing && event.Status != EventStatusPending {
			continue
		}
		if !event.ModifiedAt.Before(olderThan) {
			continue
		}
		out = append(out, event)
	}
	sortEvents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memoryLedger) List(_ context.Context, filter EventFilter) (EventPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []Event{}
	for _, event := range l.events {
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		if filter.EventType != "" && event.EventType != filter.EventType {
			continue
		}
		if filter.Text != "" && !strings.Contains(string(event.Payload), filter.Text) {
			continue
		}
		out = append(out, event)
	}
	sortEvents(out)
	return EventPage{Items: out, Page: 1, PerPage: len(out), Total: len(out)}, nil
}

func (l *memoryLedger) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	deleted := 0
	for id, event := range l.events {
		if event.Status == EventStatusSent && event.ModifiedAt.Before(olderThan) {
			delete(l.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (l *memoryLedger) Delete(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	event, ok := l.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if event.Status != EventStatusSent {
		return ErrEventNotCleanupEligible
	}
	delete(l.events, id)
	return nil
}

func (l *memoryLedger) Stats(context.Context) (EventStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := EventStats{Counts: map[EventStatus]int{}}
	for _, event := range l.events {
		stats.Counts[event.Status]++
		stats.Total++
	}
	return stats, nil
}

func (l *memoryLedger) put(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[event.ID] = event
}

func (l *memoryLedger) mustGet(id string) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[id]
}

func sortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].ID < events[j].ID
	})
}

type scriptedResponse struct {
	status int
	body   string
	err    error
}

type scriptedDeliveryClient struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []DeliveryRequest
}

func (c *scriptedDeliveryClient) Deliver(_ context.Context, req DeliveryRequest) (DeliveryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, DeliveryRequest{
		URL:     req.URL,
		Body:    append([]byte(nil), req.Body...),
		Headers: req.Headers,
	})
	if len(c.responses) == 0 {
		return DeliveryResponse{StatusCode: 200}, nil
	}
	next := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	if next.err != nil {
		return DeliveryResponse{}, next.err
	}
	return DeliveryResponse{StatusCode: next.status, Body: []byte(next.body)}, nil
}

func (c *scriptedDeliveryClient) calls() []DeliveryRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DeliveryRequest(nil), c.requests...)
}

type memoryGradeStore struct {
	mu      sync.Mutex
	next    int
	checks  int64
	records map[string]GradeQueueRecord
}

func newMemoryGradeStore() *memoryGradeStore {
	return &memoryGradeStore{records: map[string]GradeQueueRecord{}}
}

func (s *memoryGradeStore) Get(_ context.Context, compositeKey string) (GradeQueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[compositeKey]
	if !ok {
		return GradeQueueRecord{}, ErrGradeRecordNotFound
	}
	return record, nil
}

func (s *memoryGradeStore) Insert(_ context.Context, record GradeQueueRecord) (GradeQueueRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[record.CompositeKey]; ok {
		return existing, false, nil
	}
	s.next++
	record.ID = fmt.Sprintf("grd_%d", s.next)
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	s.records[record.CompositeKey] = record
	return record, true, nil
}

func (s *memoryGradeStore) Transition(_ context.Context, compositeKey string, change GradeTransition) (GradeQueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[compositeKey]
	if !ok {
		return GradeQueueRecord{}, ErrGradeRecordNotFound
	}
	allowed := false
	for _, from := range change.From {
		if record.Status == from {
			allowed = true
		}
	}
	if !allowed {
		return GradeQueueRecord{}, ErrInvalidGradeTransition
	}
	record.Status = change.To
	if change.GradeID != "" {
		record.GradeID = change.GradeID
	}
	if record.ZohoRecordID == "" {
		record.ZohoRecordID = change.ZohoRecordID
	}
	if change.ErrorMessage != nil {
		record.ErrorMessage = *change.ErrorMessage
	}
	if change.IncrementRetry {
		record.RetryCount++
	}
	if change.ResetRetry {
		record.RetryCount = 0
	}
	if change.ClearFlags {
		record.NeedsEnrichment = false
		record.NeedsRRCheck = false
	}
	record.UpdatedAt = time.Now().UTC()
	s.records[compositeKey] = record
	return record, nil
}

func (s *memoryGradeStore) List(_ context.Context, filter GradeQueueFilter) (GradeQueuePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []GradeQueueRecord{}
	for _, record := range s.records {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompositeKey < out[j].CompositeKey })
	return GradeQueuePage{Items: out, Page: 1, PerPage: len(out), Total: len(out)}, nil
}

func (s *memoryGradeStore) ListForDerivation(_ context.Context, limit int) ([]GradeQueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []GradeQueueRecord{}
	for _, record := range s.records {
		if record.Status == GradeStatusPending && (record.NeedsEnrichment || record.NeedsRRCheck) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		left, right := out[i].DeriveCheckedAt, out[j].DeriveCheckedAt
		switch {
		case left == nil && right != nil:
			return true
		case left != nil && right == nil:
			return false
		case left != nil && right != nil && !left.Equal(*right):
			return left.Before(*right)
		}
		return out[i].CompositeKey < out[j].CompositeKey
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryGradeStore) MarkDeriveChecked(_ context.Context, compositeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[compositeKey]
	if !ok || record.Status != GradeStatusPending {
		return nil
	}
	s.checks++
	checkedAt := time.Unix(s.checks, 0).UTC()
	record.DeriveCheckedAt = &checkedAt
	s.records[compositeKey] = record
	return nil
}

type memoryTokenStore struct {
	token string
}

func (s *memoryTokenStore) Set(_ context.Context, token string) error {
	s.token = strings.TrimSpace(token)
	return nil
}

func (s *memoryTokenStore) Token(context.Context) (string, error) {
	return s.token, nil
}

func (s *memoryTokenStore) Masked(context.Context) (string, error) {
	if s.token == "" {
		return "", nil
	}
	return "****", nil
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(start time.Time) *fixedClock {
	return &fixedClock{now: start.UTC()}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func gradeExtractor(payload Payload) Extractor {
	return ExtractorFunc(func(context.Context, string) (Payload, bool, error) {
		return payload, true, nil
	})
}
