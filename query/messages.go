package query

import (
	"strings"

	"github.com/goliatone/go-crmsync/core"
)

const (
	TypeListEvents  = "crmsync.query.event.list"
	TypeGetEvent    = "crmsync.query.event.get"
	TypeEventStats  = "crmsync.query.event.stats"
	TypeListGrades  = "crmsync.query.grade.list"
	TypeMaskedToken = "crmsync.query.token.masked"
)

type ListEventsMessage struct {
	Filter core.EventFilter
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func (m ListEventsMessage) Validate() error {
	if m.Filter.Page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	if m.Filter.PerPage < 0 {
		return queryValidationError("per_page", "per_page must be >= 0")
	}
	if m.Filter.Status != "" && !m.Filter.Status.Valid() {
		return queryValidationError("status", "unknown event status")
	}
	if m.Filter.EventType != "" && !m.Filter.EventType.Valid() {
		return queryValidationError("event_type", "unknown event type")
	}
	if m.Filter.From != nil && m.Filter.To != nil && m.Filter.To.Before(*m.Filter.From) {
		return queryValidationError("to", "to must not be before from")
	}
	return nil
}

type GetEventMessage struct {
	EventID string
}

func (GetEventMessage) Type() string { return TypeGetEvent }

func (m GetEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return queryValidationError("event_id", "event id is required")
	}
	return nil
}

type EventStatsMessage struct{}

func (EventStatsMessage) Type() string { return TypeEventStats }

func (EventStatsMessage) Validate() error { return nil }

type ListGradesMessage struct {
	Filter core.GradeQueueFilter
}

func (ListGradesMessage) Type() string { return TypeListGrades }

func (m ListGradesMessage) Validate() error {
	if m.Filter.Page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	if m.Filter.PerPage < 0 {
		return queryValidationError("per_page", "per_page must be >= 0")
	}
	if m.Filter.Status != "" && !m.Filter.Status.Valid() {
		return queryValidationError("status", "unknown grade status")
	}
	return nil
}

type MaskedTokenMessage struct{}

func (MaskedTokenMessage) Type() string { return TypeMaskedToken }

func (MaskedTokenMessage) Validate() error { return nil }
