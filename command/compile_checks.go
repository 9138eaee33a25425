package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-crmsync/core"
)

var (
	_ gocmd.Commander[RetryEventMessage]   = (*RetryEventCommand)(nil)
	_ gocmd.Commander[DeleteEventMessage]  = (*DeleteEventCommand)(nil)
	_ gocmd.Commander[CleanupMessage]      = (*CleanupCommand)(nil)
	_ gocmd.Commander[SweepMessage]        = (*SweepCommand)(nil)
	_ gocmd.Commander[ResetGradeMessage]   = (*ResetGradeCommand)(nil)
	_ gocmd.Commander[DeriveGradesMessage] = (*DeriveGradesCommand)(nil)
	_ gocmd.Commander[SetTokenMessage]     = (*SetTokenCommand)(nil)

	_ AdminService = (*core.Service)(nil)
)
