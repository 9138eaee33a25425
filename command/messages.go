package command

import "strings"

const (
	TypeRetryEvent   = "crmsync.command.event.retry"
	TypeDeleteEvent  = "crmsync.command.event.delete"
	TypeCleanup      = "crmsync.command.event.cleanup"
	TypeSweep        = "crmsync.command.event.sweep"
	TypeResetGrade   = "crmsync.command.grade.reset"
	TypeDeriveGrades = "crmsync.command.grade.derive"
	TypeSetToken     = "crmsync.command.token.set"
)

type RetryEventMessage struct {
	EventID string
}

func (RetryEventMessage) Type() string { return TypeRetryEvent }

func (m RetryEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

type DeleteEventMessage struct {
	EventID string
}

func (DeleteEventMessage) Type() string { return TypeDeleteEvent }

func (m DeleteEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

// CleanupMessage purges sent and failed rows older than the configured
// retention horizon.
type CleanupMessage struct{}

func (CleanupMessage) Type() string { return TypeCleanup }

func (CleanupMessage) Validate() error { return nil }

type SweepMessage struct{}

func (SweepMessage) Type() string { return TypeSweep }

func (SweepMessage) Validate() error { return nil }

type ResetGradeMessage struct {
	CompositeKey string
}

func (ResetGradeMessage) Type() string { return TypeResetGrade }

func (m ResetGradeMessage) Validate() error {
	key := strings.TrimSpace(m.CompositeKey)
	if key == "" {
		return commandValidationError("composite_key", "composite key is required")
	}
	if strings.Count(key, ":") != 2 {
		return commandValidationError("composite_key", "composite key must be student:assignment:attempt")
	}
	return nil
}

type DeriveGradesMessage struct {
	Limit int
}

func (DeriveGradesMessage) Type() string { return TypeDeriveGrades }

func (m DeriveGradesMessage) Validate() error {
	if m.Limit < 0 {
		return commandValidationError("limit", "limit must be >= 0")
	}
	return nil
}

// SetTokenMessage replaces the bearer token. An empty token clears it.
type SetTokenMessage struct {
	Token string
}

func (SetTokenMessage) Type() string { return TypeSetToken }

func (m SetTokenMessage) Validate() error {
	if strings.ContainsAny(m.Token, "\r\n") {
		return commandValidationError("token", "token must be a single line")
	}
	return nil
}
