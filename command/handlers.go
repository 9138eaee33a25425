package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-crmsync/core"
)

// AdminService is the mutating half of the admin surface.
type AdminService interface {
	RetryEvent(ctx context.Context, id string) (core.DeliveryResult, error)
	DeleteEvent(ctx context.Context, id string) error
	CleanupEvents(ctx context.Context) (int, error)
	Sweep(ctx context.Context) (core.SweepStats, error)
	ResetGrade(ctx context.Context, compositeKey string) (core.GradeQueueRecord, error)
	DeriveGrades(ctx context.Context, limit int) (core.DerivationStats, error)
	SetToken(ctx context.Context, token string) error
}

// CleanupResult is stored for CleanupMessage.
type CleanupResult struct {
	Deleted int
}

type RetryEventCommand struct {
	service AdminService
}

func NewRetryEventCommand(service AdminService) *RetryEventCommand {
	return &RetryEventCommand{service: service}
}

func (c *RetryEventCommand) Execute(ctx context.Context, msg RetryEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: retry event service is required")
	}
	out, err := c.service.RetryEvent(ctx, strings.TrimSpace(msg.EventID))
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteEventCommand struct {
	service AdminService
}

func NewDeleteEventCommand(service AdminService) *DeleteEventCommand {
	return &DeleteEventCommand{service: service}
}

func (c *DeleteEventCommand) Execute(ctx context.Context, msg DeleteEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: delete event service is required")
	}
	return c.service.DeleteEvent(ctx, strings.TrimSpace(msg.EventID))
}

type CleanupCommand struct {
	service AdminService
}

func NewCleanupCommand(service AdminService) *CleanupCommand {
	return &CleanupCommand{service: service}
}

func (c *CleanupCommand) Execute(ctx context.Context, _ CleanupMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: cleanup service is required")
	}
	deleted, err := c.service.CleanupEvents(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, CleanupResult{Deleted: deleted})
	return nil
}

type SweepCommand struct {
	service AdminService
}

func NewSweepCommand(service AdminService) *SweepCommand {
	return &SweepCommand{service: service}
}

func (c *SweepCommand) Execute(ctx context.Context, _ SweepMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sweep service is required")
	}
	stats, err := c.service.Sweep(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

type ResetGradeCommand struct {
	service AdminService
}

func NewResetGradeCommand(service AdminService) *ResetGradeCommand {
	return &ResetGradeCommand{service: service}
}

func (c *ResetGradeCommand) Execute(ctx context.Context, msg ResetGradeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: reset grade service is required")
	}
	record, err := c.service.ResetGrade(ctx, strings.TrimSpace(msg.CompositeKey))
	if err != nil {
		return err
	}
	storeResult(ctx, record)
	return nil
}

type DeriveGradesCommand struct {
	service AdminService
}

func NewDeriveGradesCommand(service AdminService) *DeriveGradesCommand {
	return &DeriveGradesCommand{service: service}
}

func (c *DeriveGradesCommand) Execute(ctx context.Context, msg DeriveGradesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: derive grades service is required")
	}
	stats, err := c.service.DeriveGrades(ctx, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

type SetTokenCommand struct {
	service AdminService
}

func NewSetTokenCommand(service AdminService) *SetTokenCommand {
	return &SetTokenCommand{service: service}
}

func (c *SetTokenCommand) Execute(ctx context.Context, msg SetTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: set token service is required")
	}
	return c.service.SetToken(ctx, strings.TrimSpace(msg.Token))
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
