package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-crmsync/core"
)

var (
	_ gocmd.Querier[ListEventsMessage, core.EventPage]      = (*ListEventsQuery)(nil)
	_ gocmd.Querier[GetEventMessage, core.Event]            = (*GetEventQuery)(nil)
	_ gocmd.Querier[EventStatsMessage, core.EventStats]     = (*EventStatsQuery)(nil)
	_ gocmd.Querier[ListGradesMessage, core.GradeQueuePage] = (*ListGradesQuery)(nil)
	_ gocmd.Querier[MaskedTokenMessage, string]             = (*MaskedTokenQuery)(nil)

	_ EventReader = (*core.Service)(nil)
	_ GradeReader = (*core.Service)(nil)
	_ TokenReader = (*core.Service)(nil)
)
