package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-crmsync/core"
	goerrors "github.com/goliatone/go-errors"
)

type stubReader struct {
	events []core.Event
	grades []core.GradeQueueRecord
	masked string
	filter core.EventFilter
}

func (s *stubReader) GetEvent(_ context.Context, id string) (core.Event, error) {
	for _, event := range s.events {
		if event.ID == id {
			return event, nil
		}
	}
	return core.Event{}, core.ErrEventNotFound
}

func (s *stubReader) ListEvents(_ context.Context, filter core.EventFilter) (core.EventPage, error) {
	s.filter = filter
	return core.EventPage{Items: s.events, Total: len(s.events)}, nil
}

func (s *stubReader) EventStats(context.Context) (core.EventStats, error) {
	counts := map[core.EventStatus]int{}
	for _, event := range s.events {
		counts[event.Status]++
	}
	return core.EventStats{Counts: counts, Total: len(s.events)}, nil
}

func (s *stubReader) ListGrades(context.Context, core.GradeQueueFilter) (core.GradeQueuePage, error) {
	return core.GradeQueuePage{Items: s.grades, Total: len(s.grades)}, nil
}

func (s *stubReader) MaskedToken(context.Context) (string, error) {
	return s.masked, nil
}

func TestEventQueries_DelegateToReader(t *testing.T) {
	reader := &stubReader{events: []core.Event{
		{ID: "evt_1", Status: core.EventStatusSent},
		{ID: "evt_2", Status: core.EventStatusFailed},
	}}
	ctx := context.Background()

	page, err := NewListEventsQuery(reader).Query(ctx, ListEventsMessage{Filter: core.EventFilter{
		Status: core.EventStatusFailed,
		Page:   2,
	}})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if page.Total != 2 || reader.filter.Status != core.EventStatusFailed || reader.filter.Page != 2 {
		t.Fatalf("expected filter passthrough, got page=%#v filter=%#v", page, reader.filter)
	}

	event, err := NewGetEventQuery(reader).Query(ctx, GetEventMessage{EventID: " evt_2 "})
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.Status != core.EventStatusFailed {
		t.Fatalf("unexpected event: %#v", event)
	}

	stats, err := NewEventStatsQuery(reader).Query(ctx, EventStatsMessage{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Counts[core.EventStatusSent] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}

func TestGradeAndTokenQueries_DelegateToReader(t *testing.T) {
	reader := &stubReader{
		grades: []core.GradeQueueRecord{{CompositeKey: "s1:a1:0", Status: core.GradeStatusPending}},
		masked: "****",
	}
	page, err := NewListGradesQuery(reader).Query(context.Background(), ListGradesMessage{})
	if err != nil {
		t.Fatalf("list grades: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].CompositeKey != "s1:a1:0" {
		t.Fatalf("unexpected grade page: %#v", page)
	}
	masked, err := NewMaskedTokenQuery(reader).Query(context.Background(), MaskedTokenMessage{})
	if err != nil {
		t.Fatalf("masked token: %v", err)
	}
	if masked != "****" {
		t.Fatalf("expected masked token, got %q", masked)
	}
}

func TestMessages_ValidateReturnsRichError(t *testing.T) {
	from := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	cases := map[string]interface{ Validate() error }{
		"negative page":      ListEventsMessage{Filter: core.EventFilter{Page: -1}},
		"unknown status":     ListEventsMessage{Filter: core.EventFilter{Status: "archived"}},
		"unknown event type": ListEventsMessage{Filter: core.EventFilter{EventType: "course_created"}},
		"inverted range":     ListEventsMessage{Filter: core.EventFilter{From: &from, To: &to}},
		"missing event id":   GetEventMessage{},
		"bad grade status":   ListGradesMessage{Filter: core.GradeQueueFilter{Status: "DONE"}},
		"negative per page":  ListGradesMessage{Filter: core.GradeQueueFilter{PerPage: -5}},
	}
	for name, msg := range cases {
		err := msg.Validate()
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T (%v)", name, err, err)
		}
		if rich.Category != goerrors.CategoryValidation {
			t.Fatalf("%s: expected validation category, got %q", name, rich.Category)
		}
		if rich.TextCode != core.ServiceErrorBadInput {
			t.Fatalf("%s: expected bad input text code, got %q", name, rich.TextCode)
		}
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	var q *MaskedTokenQuery
	_, err := q.Query(context.Background(), MaskedTokenMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ServiceErrorInternal {
		t.Fatalf("unexpected error envelope: %#v", rich)
	}
}
