package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-crmsync/core"
)

type EventReader interface {
	GetEvent(ctx context.Context, id string) (core.Event, error)
	ListEvents(ctx context.Context, filter core.EventFilter) (core.EventPage, error)
	EventStats(ctx context.Context) (core.EventStats, error)
}

type GradeReader interface {
	ListGrades(ctx context.Context, filter core.GradeQueueFilter) (core.GradeQueuePage, error)
}

type TokenReader interface {
	MaskedToken(ctx context.Context) (string, error)
}

type ListEventsQuery struct {
	reader EventReader
}

func NewListEventsQuery(reader EventReader) *ListEventsQuery {
	return &ListEventsQuery{reader: reader}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) (core.EventPage, error) {
	if q == nil || q.reader == nil {
		return core.EventPage{}, queryDependencyError("query: event reader is required")
	}
	return q.reader.ListEvents(ctx, msg.Filter)
}

type GetEventQuery struct {
	reader EventReader
}

func NewGetEventQuery(reader EventReader) *GetEventQuery {
	return &GetEventQuery{reader: reader}
}

func (q *GetEventQuery) Query(ctx context.Context, msg GetEventMessage) (core.Event, error) {
	if q == nil || q.reader == nil {
		return core.Event{}, queryDependencyError("query: event reader is required")
	}
	return q.reader.GetEvent(ctx, strings.TrimSpace(msg.EventID))
}

type EventStatsQuery struct {
	reader EventReader
}

func NewEventStatsQuery(reader EventReader) *EventStatsQuery {
	return &EventStatsQuery{reader: reader}
}

func (q *EventStatsQuery) Query(ctx context.Context, _ EventStatsMessage) (core.EventStats, error) {
	if q == nil || q.reader == nil {
		return core.EventStats{}, queryDependencyError("query: event reader is required")
	}
	return q.reader.EventStats(ctx)
}

type ListGradesQuery struct {
	reader GradeReader
}

func NewListGradesQuery(reader GradeReader) *ListGradesQuery {
	return &ListGradesQuery{reader: reader}
}

func (q *ListGradesQuery) Query(ctx context.Context, msg ListGradesMessage) (core.GradeQueuePage, error) {
	if q == nil || q.reader == nil {
		return core.GradeQueuePage{}, queryDependencyError("query: grade reader is required")
	}
	return q.reader.ListGrades(ctx, msg.Filter)
}

// MaskedTokenQuery never returns the plaintext token.
type MaskedTokenQuery struct {
	reader TokenReader
}

func NewMaskedTokenQuery(reader TokenReader) *MaskedTokenQuery {
	return &MaskedTokenQuery{reader: reader}
}

func (q *MaskedTokenQuery) Query(ctx context.Context, _ MaskedTokenMessage) (string, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: token reader is required")
	}
	return q.reader.MaskedToken(ctx)
}
